// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

// Package rabbit is a resilient client over a topic exchange with delayed
// delivery. Publishing and consuming never fail because the broker is
// unreachable: they wait and retry until a connection is back. Consumers are
// re-armed after every reconnect, and requests can await a response on an
// ephemeral reply queue within a time budget.
package rabbit

import (
	"context"
	"sync"
	"time"

	"github.com/GwynCerbin/go_rabbit_services/pkg/adapter"
	"github.com/GwynCerbin/go_rabbit_services/pkg/broker"
	"go.uber.org/zap"
)

// Message is a delivery handed to a Handler or returned as a response.
type Message = broker.Message

// Handler processes one delivery. It must settle the message with exactly one
// of Acknowledge, Reject or DelayedRequeue; an unsettled message stays with
// the broker and is redelivered once the connection drops.
type Handler func(ctx context.Context, msg Message)

// Client is one independent instance of the resilient client: its own
// connection manager, consumer registry and configuration. Several clients
// may share a broker and an exchange.
type Client struct {
	cfg       Config
	opts      options
	log       *zap.Logger
	conn      *connManager
	consumers *registry

	// ctx is handed to handlers and replayed registrations; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	// workers tracks the goroutines running handlers.
	workers sync.WaitGroup

	// mu orders workers.Add against Close, so Shutdown never waits on a
	// WaitGroup that is still growing.
	mu     sync.Mutex
	closed bool
	// done is closed by Close and stops consumer re-arming.
	done chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New builds a Client over amqp091 using cfg.Connection and starts
// connecting in the background.
func New(cfg Config, opts ...Option) (*Client, error) {
	o := buildOptions(opts)

	conn := cfg.Connection

	return newClient(adapter.Dialer(&conn, o.logger.Named("amqp")), cfg, o)
}

// NewWithDialer builds a Client establishing its transport through dial and
// starts connecting in the background.
func NewWithDialer(dial broker.Dialer, cfg Config, opts ...Option) (*Client, error) {
	return newClient(dial, cfg, buildOptions(opts))
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

func newClient(dial broker.Dialer, cfg Config, o options) (*Client, error) {
	if cfg.Prefetch == 0 {
		cfg.Prefetch = 1
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := o.logger.With(zap.String("exchange", cfg.Exchange))

	c := &Client{
		cfg:       cfg,
		opts:      o,
		log:       logger,
		consumers: newRegistry(),
		done:      make(chan struct{}),
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.conn = newConnManager(dial, broker.Topology{
		Exchange: cfg.Exchange,
		Prefetch: cfg.Prefetch,
	}, o.backoff, logger, o.metrics)
	c.conn.onReconnect = c.replay

	go c.conn.run()

	return c, nil
}

// Connected reports whether a transport is currently established.
func (c *Client) Connected() bool {
	_, _, ok := c.conn.acquire()
	return ok
}

// Close stops reconnecting and closes the live connection. Operations already
// retrying keep doing so until their context ends; calls made after Close
// return ClientClosedError.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.done)
		c.mu.Unlock()

		c.closeErr = c.conn.close()
	})

	return c.closeErr
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// track registers a handler goroutine unless the client is closed.
func (c *Client) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	c.workers.Add(1)

	return true
}

// Shutdown closes the client and waits for running handlers to return or for
// ctx to end. Handler contexts are canceled afterwards.
func (c *Client) Shutdown(ctx context.Context) error {
	defer c.cancel()

	if err := c.Close(); err != nil {
		c.log.Warn("close connection", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry logs a transport-unavailable condition and waits one backoff.
func (c *Client) retry(ctx context.Context, op, queue string, cause error) error {
	c.opts.metrics.Retry(op)

	fields := []zap.Field{
		zap.String("op", op),
		zap.String("queue", queue),
		zap.Duration("retry_in", c.opts.backoff),
	}

	if cause == nil {
		c.log.Warn("no transport, retrying", fields...)
	} else {
		c.log.Warn("transport operation failed, retrying", append(fields, zap.Error(cause))...)
	}

	return sleep(ctx, c.opts.backoff)
}

// sleep waits d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
