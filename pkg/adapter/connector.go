// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GwynCerbin/go_rabbit_services/pkg/broker"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// delayedExchangeKind is provided by the rabbitmq_delayed_message_exchange plugin.
	delayedExchangeKind = "x-delayed-message"
	// delayedRoutingKind is the routing behaviour the delayed exchange emulates.
	delayedRoutingKind = "topic"
)

// Con is one live AMQP connection with one channel, implementing broker.Transport.
// It never reconnects by itself: once the connection or the channel dies, the
// Con reports it on NotifyClose and the owner dials a new one.
type Con struct {
	// connection holds the active AMQP connection.
	connection *amqp091.Connection
	// channel is the single logical channel all operations use.
	channel *amqp091.Channel
	// exchange every queue is bound to and every message is published through.
	exchange string
	// confirm switches Publish to waiting for broker confirmations.
	confirm bool
	// closed receives the close reason once and is then closed.
	closed chan error
	// isClosed is set as soon as the transport is known to be gone.
	isClosed atomic.Bool
	// mute serializes synchronous channel methods; amqp091 matches RPC replies in order.
	mute   sync.Mutex
	logger *zap.Logger
}

// Dialer returns a broker.Dialer establishing Con instances from cfg.
func Dialer(cfg *Client, logger *zap.Logger) broker.Dialer {
	return func(ctx context.Context, topo broker.Topology) (broker.Transport, error) {
		con, err := Dial(ctx, cfg, topo, logger)
		if err != nil {
			return nil, err
		}

		return con, nil
	}
}

// Dial establishes an AMQP connection, opens a channel, declares the delayed
// topic exchange and applies the prefetch limit. On any failure the
// connection is closed again.
func Dial(ctx context.Context, cfg *Client, topo broker.Topology, logger *zap.Logger) (*Con, error) {
	if cfg == nil {
		return nil, ClientConfEmptyError{}
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg, err := cfg.amqpConfig()
	if err != nil {
		return nil, err
	}

	// stop detaches the socket from ctx once the handshake is over.
	var stop func() bool

	clientCfg.Dial = func(network, addr string) (net.Conn, error) {
		var d net.Dialer

		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		// amqp091 clears the deadline once the connection is open.
		if err = conn.SetDeadline(time.Now().Add(cfg.dialTimeout())); err != nil {
			if cerr := conn.Close(); cerr != nil {
				logger.Debug("close socket after failed deadline", zap.Error(cerr))
			}

			return nil, err
		}

		stop = context.AfterFunc(ctx, func() {
			_ = conn.Close()
		})

		return conn, nil
	}

	mimetype.SetLimit(mimeReadLimit)

	con, err := amqp091.DialConfig(cfg.URL().String(), clientCfg)
	if stop != nil && !stop() && err == nil {
		// ctx ended while the handshake finished; the socket is already closing.
		_ = con.Close()
		err = ctx.Err()
	}

	if err != nil {
		return nil, fmt.Errorf("dial amqp091: %w", err)
	}

	c := &Con{
		connection: con,
		exchange:   topo.Exchange,
		confirm:    cfg.Confirm,
		closed:     make(chan error, 1),
		logger:     logger,
	}

	connNotify := con.NotifyClose(make(chan *amqp091.Error, 1))

	if err = c.setup(topo); err != nil {
		if cerr := con.Close(); cerr != nil {
			logger.Debug("close connection after failed setup", zap.Error(cerr))
		}

		return nil, err
	}

	go c.watch(connNotify, c.channel.NotifyClose(make(chan *amqp091.Error, 1)))

	return c, nil
}

// setup opens the channel and declares the per-connection topology.
func (c *Con) setup(topo broker.Topology) error {
	ch, err := c.connection.Channel()
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}

	err = ch.ExchangeDeclare(topo.Exchange, delayedExchangeKind, true, false, false, false, amqp091.Table{
		"x-delayed-type": delayedRoutingKind,
	})
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	if err = ch.Qos(topo.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	if c.confirm {
		if err = ch.Confirm(false); err != nil {
			return fmt.Errorf("confirm channel: %w", err)
		}
	}

	c.channel = ch

	return nil
}

// watch waits for the connection or the channel to die. A dead channel takes
// the connection down with it so the owner redials both.
func (c *Con) watch(connNotify, chanNotify chan *amqp091.Error) {
	var reason error = ConnClosedError{}

	select {
	case amqpErr, ok := <-connNotify:
		if ok && amqpErr != nil {
			reason = amqpErr
		}
	case amqpErr, ok := <-chanNotify:
		if ok && amqpErr != nil {
			reason = amqpErr
		}
	}

	c.isClosed.Store(true)

	if !c.connection.IsClosed() {
		if err := c.connection.Close(); err != nil {
			c.logger.Debug("close connection after channel loss", zap.Error(err))
		}
	}

	c.closed <- reason
	close(c.closed)
}

// NotifyClose returns the channel receiving the close reason.
func (c *Con) NotifyClose() <-chan error {
	return c.closed
}

// DeclareQueue declares a queue and binds it to the exchange under its own name.
func (c *Con) DeclareQueue(_ context.Context, spec broker.QueueSpec) error {
	if c.isClosed.Load() {
		return ConnClosedError{}
	}

	args := amqp091.Table{}
	if spec.Expires > 0 {
		args["x-expires"] = spec.Expires.Milliseconds()
	}

	c.mute.Lock()
	defer c.mute.Unlock()

	queue, err := c.channel.QueueDeclare(spec.Name, spec.Durable, spec.AutoDelete, false, false, args)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}

	if err = c.channel.QueueBind(queue.Name, spec.Name, c.exchange, false, nil); err != nil {
		return fmt.Errorf("create queue binding: %w", err)
	}

	return nil
}

// DeleteQueue removes an existing queue by name.
func (c *Con) DeleteQueue(_ context.Context, name string) error {
	if c.isClosed.Load() {
		return ConnClosedError{}
	}

	c.mute.Lock()
	defer c.mute.Unlock()

	if _, err := c.channel.QueueDelete(name, false, false, false); err != nil {
		return fmt.Errorf("delete queue: %w", err)
	}

	return nil
}

// Close shuts the connection down. Closing an already closed Con is not an error.
func (c *Con) Close() error {
	c.isClosed.Store(true)

	if err := c.connection.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		return fmt.Errorf("close connection error: %w", err)
	}

	return nil
}
