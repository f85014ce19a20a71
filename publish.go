// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"context"
	"time"

	"github.com/GwynCerbin/go_rabbit_services/pkg/broker"
	"github.com/google/uuid"
)

const opSend = "sendToQueue"

type sendOptions struct {
	delay     time.Duration
	await     bool
	timeout   time.Duration
	extraData string
}

// SendOption configures a single SendToQueue call.
type SendOption func(*sendOptions)

// WithDelay makes the exchange hold the message for d before routing it.
// Non-positive delays are ignored.
func WithDelay(d time.Duration) SendOption {
	return func(o *sendOptions) {
		o.delay = d
	}
}

// AwaitResponse turns the send into a request: SendToQueue returns the
// response published on the generated reply address.
func AwaitResponse() SendOption {
	return func(o *sendOptions) {
		o.await = true
	}
}

// WithTimeout sets the response budget of an AwaitResponse send.
// Non-positive values keep the client's default timeout.
func WithTimeout(d time.Duration) SendOption {
	return func(o *sendOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithExtraData attaches an opaque string to the message headers.
func WithExtraData(s string) SendOption {
	return func(o *sendOptions) {
		o.extraData = s
	}
}

// SendToQueue declares queue, binds it under its own name and publishes body
// to it. While no transport is available, or any transport step fails, it
// waits the fixed backoff and tries again; it does not give up. A message
// whose acknowledgement was lost may therefore be published twice.
//
// With AwaitResponse, a reply address is generated once and polled
// concurrently with the publish; the response or a ResponseTimeoutError is
// returned. Otherwise the returned Message is nil.
func (c *Client) SendToQueue(ctx context.Context, queue string, body []byte, opts ...SendOption) (Message, error) {
	if c.isClosed() {
		return nil, ClientClosedError{}
	}

	o := sendOptions{timeout: c.opts.defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	pub := broker.Publishing{
		Body:       body,
		ExtraData:  o.extraData,
		Persistent: true,
	}

	if o.delay > 0 {
		pub.Delay = o.delay
	}

	var response <-chan rpcResult

	for {
		t, _, ok := c.conn.acquire()
		if !ok {
			if err := c.retry(ctx, opSend, queue, nil); err != nil {
				return nil, err
			}

			continue
		}

		if o.await && response == nil {
			pub.ReplyTo = uuid.NewString()
			response = c.startAwait(ctx, pub.ReplyTo, o.timeout)
		}

		if err := c.publish(ctx, t, appQueue(queue), queue, pub); err != nil {
			if err = c.retry(ctx, opSend, queue, err); err != nil {
				return nil, err
			}

			continue
		}

		break
	}

	if response == nil {
		return nil, nil
	}

	res := <-response

	return res.msg, res.err
}

// publish ensures the target queue exists and is bound, then publishes.
func (c *Client) publish(ctx context.Context, t broker.Transport, spec broker.QueueSpec, routingKey string, pub broker.Publishing) error {
	if err := t.DeclareQueue(ctx, spec); err != nil {
		return err
	}

	if err := t.Publish(ctx, routingKey, pub); err != nil {
		return err
	}

	c.opts.metrics.Published(routingKey)

	return nil
}
