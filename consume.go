// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"context"
	"errors"
	"sort"

	"github.com/GwynCerbin/go_rabbit_services/pkg/broker"
	"go.uber.org/zap"
)

const opConsume = "consumeQueue"

// ConsumeQueue registers h for queue and attaches it as the queue's consumer,
// declaring and binding the queue first. The registration is recorded before
// anything else, so it is re-armed after every reconnect for the lifetime of
// the client. While no transport is available ConsumeQueue waits and retries;
// it returns once the consumer is attached or ctx ends.
//
// Registering a queue again replaces its handler.
func (c *Client) ConsumeQueue(ctx context.Context, queue string, h Handler) error {
	if c.isClosed() {
		return ClientClosedError{}
	}

	c.consumers.set(queue, h)

	return c.attach(ctx, queue)
}

// Serve registers every route of r and attaches their consumers.
func (c *Client) Serve(ctx context.Context, r Router) error {
	if len(r) == 0 {
		return EmptyRouteError{}
	}

	if c.isClosed() {
		return ClientClosedError{}
	}

	queues := make([]string, 0, len(r))
	for queue, h := range r {
		c.consumers.set(queue, h)
		queues = append(queues, queue)
	}

	sort.Strings(queues)

	for _, queue := range queues {
		if err := c.attach(ctx, queue); err != nil {
			return err
		}
	}

	return nil
}

// attach subscribes queue on the current transport, retrying after the fixed
// backoff until it succeeds. Nothing happens if the queue is already
// subscribed on the current generation.
func (c *Client) attach(ctx context.Context, queue string) error {
	for {
		t, gen, ok := c.conn.acquire()
		if !ok {
			if err := c.retry(ctx, opConsume, queue, nil); err != nil {
				return err
			}

			continue
		}

		if !c.consumers.claim(queue, gen) {
			return nil
		}

		if err := c.subscribe(ctx, t, queue, gen); err != nil {
			c.consumers.release(queue, gen)

			if errors.Is(err, ClientClosedError{}) {
				return err
			}

			if err = c.retry(ctx, opConsume, queue, err); err != nil {
				return err
			}

			continue
		}

		return nil
	}
}

func (c *Client) subscribe(ctx context.Context, t broker.Transport, queue string, gen uint64) error {
	if !c.track() {
		return ClientClosedError{}
	}

	if err := t.DeclareQueue(ctx, appQueue(queue)); err != nil {
		c.workers.Done()
		return err
	}

	deliveries, err := t.Consume(ctx, queue)
	if err != nil {
		c.workers.Done()
		return err
	}

	go func() {
		defer c.workers.Done()
		c.serve(queue, gen, deliveries)
	}()

	c.log.Info("consumer attached",
		zap.String("queue", queue),
		zap.Uint64("generation", gen),
		zap.Int("prefetch", c.cfg.Prefetch))

	return nil
}

// replay re-arms every registered consumer after a reconnect.
func (c *Client) replay(gen uint64) {
	for _, queue := range c.consumers.queues() {
		c.log.Info("re-arming consumer", zap.String("queue", queue), zap.Uint64("generation", gen))

		go c.rearm(queue)
	}
}

// rearm attaches queue in the background until it succeeds or the client
// is closed.
func (c *Client) rearm(queue string) {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := c.attach(ctx, queue)

	switch {
	case err == nil:
	case errors.Is(err, ClientClosedError{}), c.isClosed():
		c.log.Debug("re-arm consumer stopped by close", zap.String("queue", queue))
	default:
		c.log.Warn("re-arm consumer stopped", zap.String("queue", queue), zap.Error(err))
	}
}

// appQueue is the declaration of an application queue.
func appQueue(name string) broker.QueueSpec {
	return broker.QueueSpec{Name: name, Durable: true}
}
