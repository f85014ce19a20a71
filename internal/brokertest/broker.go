// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

// Package brokertest provides an in-memory broker implementing broker.Dialer
// and broker.Transport. It models one delayed topic exchange per name, routing
// keys equal to queue names, per-consumer prefetch, fetch-one, redelivery of
// unsettled messages when a connection drops, and fault injection.
package brokertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GwynCerbin/go_rabbit_services/pkg/broker"
)

var (
	// ErrUnavailable is returned by Dial while the broker is down.
	ErrUnavailable = errors.New("brokertest: broker unavailable")
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("brokertest: connection closed")
	// ErrConnectionLost is the close reason reported after Drop.
	ErrConnectionLost = errors.New("brokertest: connection lost")
	// ErrNotFound is returned for operations on undeclared queues.
	ErrNotFound = errors.New("brokertest: queue not found")
	// ErrInjected is returned by operations failed through FailNext.
	ErrInjected = errors.New("brokertest: injected failure")
)

// Published records one accepted publishing.
type Published struct {
	Exchange   string
	RoutingKey string
	Msg        broker.Publishing
	At         time.Time
}

// Broker is the in-memory broker. The zero value is not usable; call New.
type Broker struct {
	mu        sync.Mutex
	queues    map[string]*queue
	bindings  map[string]map[string]struct{}
	conns     map[*Conn]struct{}
	down      bool
	failOps   int
	dials     int
	acks      int
	rejects   int
	published []Published
	deleted   []string
	timers    []*time.Timer
}

type queue struct {
	spec      broker.QueueSpec
	ready     []*envelope
	consumers []*consumer
	next      int
}

type envelope struct {
	routingKey  string
	pub         broker.Publishing
	redelivered bool
}

// New returns an empty, reachable broker.
func New() *Broker {
	return &Broker{
		queues:   make(map[string]*queue),
		bindings: make(map[string]map[string]struct{}),
		conns:    make(map[*Conn]struct{}),
	}
}

// Dial implements broker.Dialer.
func (b *Broker) Dial(ctx context.Context, topo broker.Topology) (broker.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++

	if b.down {
		return nil, ErrUnavailable
	}

	if _, ok := b.bindings[topo.Exchange]; !ok {
		b.bindings[topo.Exchange] = make(map[string]struct{})
	}

	c := &Conn{
		b:      b,
		topo:   topo,
		notify: make(chan error, 1),
	}
	b.conns[c] = struct{}{}

	return c, nil
}

// SetDown makes subsequent dials fail (true) or succeed (false). Live
// connections are not touched; combine with Drop to simulate an outage.
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// Drop closes every live connection with ErrConnectionLost. Unsettled
// deliveries return to their queues flagged as redelivered.
func (b *Broker) Drop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for c := range b.conns {
		b.closeConn(c, ErrConnectionLost)
	}
}

// FailNext makes the next n transport operations fail with ErrInjected.
func (b *Broker) FailNext(n int) {
	b.mu.Lock()
	b.failOps = n
	b.mu.Unlock()
}

// Dials reports how many dial attempts were made.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dials
}

// Connections reports the number of live connections.
func (b *Broker) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.conns)
}

// Consumers reports the number of consumers attached to a queue.
func (b *Broker) Consumers(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return len(q.consumers)
	}

	return 0
}

// Depth reports how many messages wait in a queue.
func (b *Broker) Depth(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return len(q.ready)
	}

	return 0
}

// Queue returns the declaration of a queue.
func (b *Broker) Queue(name string) (broker.QueueSpec, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return broker.QueueSpec{}, false
	}

	return q.spec, true
}

// Published returns every accepted publishing in order.
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]Published(nil), b.published...)
}

// Deleted returns the names of deleted queues in order.
func (b *Broker) Deleted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.deleted...)
}

// Settled reports the number of acks and rejects received.
func (b *Broker) Settled() (acks, rejects int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.acks, b.rejects
}

// Stop cancels pending delayed deliveries and closes every connection.
func (b *Broker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range b.timers {
		t.Stop()
	}
	b.timers = nil

	for c := range b.conns {
		b.closeConn(c, ErrClosed)
	}
}

// fault consumes one injected failure. Callers hold b.mu.
func (b *Broker) fault() error {
	if b.failOps > 0 {
		b.failOps--
		return ErrInjected
	}

	return nil
}

// route delivers env to the queue bound under its routing key, or drops it.
// Callers hold b.mu.
func (b *Broker) route(exchange string, env *envelope) {
	if _, ok := b.bindings[exchange][env.routingKey]; !ok {
		return
	}

	q, ok := b.queues[env.routingKey]
	if !ok {
		return
	}

	q.ready = append(q.ready, env)
	b.dispatch(q)
}

// dispatch hands ready messages to consumers with spare prefetch credit,
// round robin. Callers hold b.mu.
func (b *Broker) dispatch(q *queue) {
	for len(q.ready) > 0 && len(q.consumers) > 0 {
		var target *consumer

		for i := range q.consumers {
			c := q.consumers[(q.next+i)%len(q.consumers)]
			if c.inflight < c.limit {
				target = c
				q.next = (q.next + i + 1) % len(q.consumers)

				break
			}
		}

		if target == nil {
			return
		}

		env := q.ready[0]
		q.ready = q.ready[1:]

		d := &Delivery{env: env, cons: target, b: b}
		target.inflight++
		target.unacked[d] = struct{}{}
		target.out <- d
	}
}

// closeConn tears a connection down. Callers hold b.mu.
func (b *Broker) closeConn(c *Conn, reason error) {
	if c.closed {
		return
	}

	c.closed = true
	delete(b.conns, c)

	touched := make(map[*queue]struct{})

	for _, cons := range c.consumers {
		b.detach(cons)
		touched[cons.q] = struct{}{}
	}

	c.notify <- reason
	close(c.notify)

	for q := range touched {
		b.dispatch(q)
	}
}

// detach removes a consumer and requeues its unsettled deliveries at the head
// of the queue. Callers hold b.mu.
func (b *Broker) detach(cons *consumer) {
	if cons.done {
		return
	}

	cons.done = true

	q := cons.q
	for i, c := range q.consumers {
		if c == cons {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			break
		}
	}

	if len(q.consumers) > 0 {
		q.next %= len(q.consumers)
	} else {
		q.next = 0
	}

	requeue := make([]*envelope, 0, len(cons.unacked))
	for d := range cons.unacked {
		d.env.redelivered = true
		requeue = append(requeue, d.env)
	}
	cons.unacked = nil

	q.ready = append(requeue, q.ready...)

	close(cons.out)
}
