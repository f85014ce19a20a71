// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"fmt"

	"github.com/GwynCerbin/go_rabbit_services/pkg/broker"
)

// Consume attaches a manual-ack consumer to queue. Deliveries are bounded by
// the prefetch limit set at Dial. The returned channel closes together with
// the AMQP channel.
func (c *Con) Consume(_ context.Context, queue string) (<-chan broker.Message, error) {
	if c.isClosed.Load() {
		return nil, ConnClosedError{}
	}

	c.mute.Lock()
	deliveries, err := c.channel.Consume(queue, "", false, false, false, false, nil)
	c.mute.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer channel: %w", err)
	}

	out := make(chan broker.Message)

	go func() {
		defer close(out)

		for d := range deliveries {
			out <- newMessage(d)
		}
	}()

	return out, nil
}

// Get fetches one message from queue without blocking. The message is
// auto-acknowledged by the broker.
func (c *Con) Get(_ context.Context, queue string) (broker.Message, bool, error) {
	if c.isClosed.Load() {
		return nil, false, ConnClosedError{}
	}

	c.mute.Lock()
	d, ok, err := c.channel.Get(queue, true)
	c.mute.Unlock()
	if err != nil {
		return nil, false, fmt.Errorf("get from %s: %w", queue, err)
	}

	if !ok {
		return nil, false, nil
	}

	return newSettledMessage(d), true, nil
}
