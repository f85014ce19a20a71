// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"context"
	"time"

	"github.com/GwynCerbin/go_rabbit_services/pkg/broker"
	"github.com/GwynCerbin/go_rabbit_services/pkg/metrics"
	"go.uber.org/zap"
)

const (
	opAwait    = "awaitResponse"
	opReplyRPC = "sendToQueueRPC"
)

// cleanupTimeout bounds the detached deletion of a spent reply queue.
const cleanupTimeout = 30 * time.Second

type rpcResult struct {
	msg Message
	err error
}

// startAwait polls replyTo in the background and delivers the outcome on the
// returned channel.
func (c *Client) startAwait(ctx context.Context, replyTo string, budget time.Duration) <-chan rpcResult {
	out := make(chan rpcResult, 1)

	go func() {
		msg, err := c.awaitResponse(ctx, replyTo, budget)
		out <- rpcResult{msg: msg, err: err}
	}()

	return out
}

// awaitResponse polls the reply queue until a message arrives or budget is
// spent. Every wait is charged to the budget: the poll interval after an
// empty fetch, the full backoff while the transport is missing or failing.
func (c *Client) awaitResponse(ctx context.Context, replyTo string, budget time.Duration) (Message, error) {
	var (
		started   = time.Now()
		remaining = budget
	)

	for {
		if remaining <= 0 {
			c.opts.metrics.RPC(metrics.RPCResultTimeout, time.Since(started))
			c.log.Warn("response timeout", zap.String("reply_to", replyTo), zap.Duration("timeout", budget))

			return nil, ResponseTimeoutError{ReplyTo: replyTo, Timeout: budget}
		}

		t, _, ok := c.conn.acquire()
		if !ok {
			if err := c.retry(ctx, opAwait, replyTo, nil); err != nil {
				return nil, err
			}

			remaining -= c.opts.backoff

			continue
		}

		msg, found, err := c.fetchReply(ctx, t, replyTo)
		switch {
		case err != nil:
			if err = c.retry(ctx, opAwait, replyTo, err); err != nil {
				return nil, err
			}

			remaining -= c.opts.backoff
		case !found:
			if err = sleep(ctx, c.opts.pollInterval); err != nil {
				return nil, err
			}

			remaining -= c.opts.pollInterval
		default:
			go c.cleanupReplyQueue(replyTo)

			c.opts.metrics.RPC(metrics.RPCResultOK, time.Since(started))

			return msg, nil
		}
	}
}

// fetchReply declares and binds the reply queue, then fetches at most one message.
func (c *Client) fetchReply(ctx context.Context, t broker.Transport, replyTo string) (Message, bool, error) {
	if err := t.DeclareQueue(ctx, c.replyQueue(replyTo)); err != nil {
		return nil, false, err
	}

	return t.Get(ctx, replyTo)
}

// cleanupReplyQueue deletes a spent reply queue. It runs detached: failure is
// logged and nothing waits for it, the queue expires on its own anyway.
func (c *Client) cleanupReplyQueue(replyTo string) {
	t, _, ok := c.conn.acquire()
	if !ok {
		c.opts.metrics.CleanupFailed()
		c.log.Warn("reply queue not deleted, no transport", zap.String("reply_to", replyTo))

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := t.DeleteQueue(ctx, replyTo); err != nil {
		c.opts.metrics.CleanupFailed()
		c.log.Warn("reply queue not deleted", zap.String("reply_to", replyTo), zap.Error(err))
	}
}

// SendToQueueRPC answers a request: it publishes body on the reply address
// replyTo, retrying like SendToQueue while the transport is unavailable. It
// never waits for a further response.
func (c *Client) SendToQueueRPC(ctx context.Context, replyTo string, body []byte) error {
	if c.isClosed() {
		return ClientClosedError{}
	}

	for {
		t, _, ok := c.conn.acquire()
		if !ok {
			if err := c.retry(ctx, opReplyRPC, replyTo, nil); err != nil {
				return err
			}

			continue
		}

		// Replies are transient: their queue does not outlive the requester.
		if err := c.publish(ctx, t, c.replyQueue(replyTo), replyTo, broker.Publishing{Body: body}); err != nil {
			if err = c.retry(ctx, opReplyRPC, replyTo, err); err != nil {
				return err
			}

			continue
		}

		return nil
	}
}

// replyQueue is the declaration of an ephemeral reply queue.
func (c *Client) replyQueue(name string) broker.QueueSpec {
	return broker.QueueSpec{
		Name:       name,
		AutoDelete: true,
		Expires:    c.opts.replyExpiry,
	}
}
