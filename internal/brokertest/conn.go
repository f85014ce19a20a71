// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package brokertest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/GwynCerbin/go_rabbit_services/pkg/broker"
)

// Conn is one connection to the in-memory broker. It implements broker.Transport.
type Conn struct {
	b         *Broker
	topo      broker.Topology
	closed    bool
	notify    chan error
	consumers []*consumer
}

type consumer struct {
	q        *queue
	out      chan broker.Message
	limit    int
	inflight int
	unacked  map[*Delivery]struct{}
	done     bool
}

// usable reports whether the connection may serve an operation. Callers hold b.mu.
func (c *Conn) usable() error {
	if c.closed {
		return ErrClosed
	}

	return c.b.fault()
}

// DeclareQueue implements broker.Transport.
func (c *Conn) DeclareQueue(_ context.Context, spec broker.QueueSpec) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if err := c.usable(); err != nil {
		return err
	}

	if _, ok := c.b.queues[spec.Name]; !ok {
		c.b.queues[spec.Name] = &queue{spec: spec}
	}

	c.b.bindings[c.topo.Exchange][spec.Name] = struct{}{}

	return nil
}

// Publish implements broker.Transport. Delayed messages are held by the
// exchange and routed once the delay elapses, even if the publisher is gone.
func (c *Conn) Publish(_ context.Context, routingKey string, msg broker.Publishing) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if err := c.usable(); err != nil {
		return err
	}

	env := &envelope{
		routingKey: routingKey,
		pub:        msg,
	}
	env.pub.Body = append([]byte(nil), msg.Body...)

	c.b.published = append(c.b.published, Published{
		Exchange:   c.topo.Exchange,
		RoutingKey: routingKey,
		Msg:        env.pub,
		At:         time.Now(),
	})

	exchange := c.topo.Exchange

	if msg.Delay > 0 {
		c.b.timers = append(c.b.timers, time.AfterFunc(msg.Delay, func() {
			c.b.mu.Lock()
			defer c.b.mu.Unlock()

			c.b.route(exchange, env)
		}))

		return nil
	}

	c.b.route(exchange, env)

	return nil
}

// Consume implements broker.Transport.
func (c *Conn) Consume(_ context.Context, name string) (<-chan broker.Message, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if err := c.usable(); err != nil {
		return nil, err
	}

	q, ok := c.b.queues[name]
	if !ok {
		return nil, fmt.Errorf("consume %s: %w", name, ErrNotFound)
	}

	limit := c.topo.Prefetch
	if limit < 1 {
		limit = 1
	}

	cons := &consumer{
		q:       q,
		out:     make(chan broker.Message, limit),
		limit:   limit,
		unacked: make(map[*Delivery]struct{}),
	}

	q.consumers = append(q.consumers, cons)
	c.consumers = append(c.consumers, cons)

	c.b.dispatch(q)

	return cons.out, nil
}

// Get implements broker.Transport.
func (c *Conn) Get(_ context.Context, name string) (broker.Message, bool, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if err := c.usable(); err != nil {
		return nil, false, err
	}

	q, ok := c.b.queues[name]
	if !ok {
		return nil, false, fmt.Errorf("get %s: %w", name, ErrNotFound)
	}

	if len(q.ready) == 0 {
		return nil, false, nil
	}

	env := q.ready[0]
	q.ready = q.ready[1:]

	d := &Delivery{env: env, b: c.b}
	d.settled.Store(true)

	return d, true, nil
}

// DeleteQueue implements broker.Transport.
func (c *Conn) DeleteQueue(_ context.Context, name string) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if err := c.usable(); err != nil {
		return err
	}

	q, ok := c.b.queues[name]
	if !ok {
		return fmt.Errorf("delete %s: %w", name, ErrNotFound)
	}

	for len(q.consumers) > 0 {
		c.b.detach(q.consumers[0])
	}

	delete(c.b.queues, name)

	for _, keys := range c.b.bindings {
		delete(keys, name)
	}

	c.b.deleted = append(c.b.deleted, name)

	return nil
}

// NotifyClose implements broker.Transport.
func (c *Conn) NotifyClose() <-chan error {
	return c.notify
}

// Close implements broker.Transport.
func (c *Conn) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	c.b.closeConn(c, ErrClosed)

	return nil
}

// Delivery is a message handed out by the in-memory broker.
type Delivery struct {
	env     *envelope
	cons    *consumer
	b       *Broker
	settled atomic.Bool
}

// Headers implements broker.Message.
func (d *Delivery) Headers() map[string]interface{} {
	headers := make(map[string]interface{})

	if d.env.pub.Delay > 0 {
		headers[broker.DelayHeader] = d.env.pub.Delay.Milliseconds()
	}

	if d.env.pub.ExtraData != "" {
		headers[broker.ExtraDataHeader] = d.env.pub.ExtraData
	}

	return headers
}

// ContentType implements broker.Message.
func (d *Delivery) ContentType() string {
	return "application/octet-stream"
}

// IsRedelivered implements broker.Message.
func (d *Delivery) IsRedelivered() bool {
	return d.env.redelivered
}

// Body implements broker.Message.
func (d *Delivery) Body() []byte {
	return d.env.pub.Body
}

// RoutingKey implements broker.Message.
func (d *Delivery) RoutingKey() string {
	return d.env.routingKey
}

// ReplyTo implements broker.Message.
func (d *Delivery) ReplyTo() string {
	return d.env.pub.ReplyTo
}

// ExtraData implements broker.Message.
func (d *Delivery) ExtraData() string {
	return d.env.pub.ExtraData
}

// Delay implements broker.Message.
func (d *Delivery) Delay() time.Duration {
	return d.env.pub.Delay
}

// Ack implements broker.Message.
func (d *Delivery) Ack() error {
	return d.settle(true)
}

// Reject implements broker.Message.
func (d *Delivery) Reject() error {
	return d.settle(false)
}

func (d *Delivery) settle(ack bool) error {
	if !d.settled.CompareAndSwap(false, true) {
		return broker.AlreadySettledError{}
	}

	d.b.mu.Lock()
	defer d.b.mu.Unlock()

	// The delivery went back to its queue when the connection dropped.
	if d.cons.done {
		return ErrClosed
	}

	delete(d.cons.unacked, d)
	d.cons.inflight--

	if ack {
		d.b.acks++
	} else {
		d.b.rejects++
	}

	d.b.dispatch(d.cons.q)

	return nil
}
