// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"context"
	"sync"
	"time"

	"github.com/GwynCerbin/go_rabbit_services/pkg/broker"
	"github.com/GwynCerbin/go_rabbit_services/pkg/metrics"
	"go.uber.org/zap"
)

// connManager owns the current transport. It establishes one, waits for it to
// close, and establishes the next after a fixed backoff, forever. Each
// successful establishment starts a new generation; generation 0 is the
// first connection of the process.
type connManager struct {
	dial    broker.Dialer
	topo    broker.Topology
	backoff time.Duration
	logger  *zap.Logger
	metrics *metrics.Collector

	// onReconnect runs after every establishment except generation 0.
	onReconnect func(gen uint64)

	mu      sync.RWMutex
	current broker.Transport
	gen     uint64
	next    uint64
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
}

func newConnManager(dial broker.Dialer, topo broker.Topology, backoff time.Duration, logger *zap.Logger, m *metrics.Collector) *connManager {
	ctx, cancel := context.WithCancel(context.Background())

	return &connManager{
		dial:    dial,
		topo:    topo,
		backoff: backoff,
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// acquire returns the current transport and its generation. Callers must not
// keep the transport across a wait; call acquire again instead.
func (m *connManager) acquire() (broker.Transport, uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return nil, 0, false
	}

	return m.current, m.gen, true
}

// run is the establish loop. It exits only after close.
func (m *connManager) run() {
	for attempt := 1; ; attempt++ {
		t, err := m.dial(m.ctx, m.topo)
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}

			m.logger.Warn("rabbit connect failed",
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", m.backoff),
				zap.Error(err))
		} else {
			gen, ok := m.install(t)
			if !ok {
				return
			}

			attempt = 0

			m.logger.Info("rabbit connected", zap.Uint64("generation", gen))
			m.metrics.Connected(gen > 0)

			if gen > 0 && m.onReconnect != nil {
				m.onReconnect(gen)
			}

			select {
			case reason := <-t.NotifyClose():
				m.uninstall(t)
				m.metrics.Disconnected()
				m.logger.Warn("rabbit connection lost",
					zap.Uint64("generation", gen),
					zap.Duration("retry_in", m.backoff),
					zap.Error(reason))
			case <-m.ctx.Done():
				return
			}
		}

		if sleep(m.ctx, m.backoff) != nil {
			return
		}
	}
}

// install makes t the current transport. It refuses once the manager is closed.
func (m *connManager) install(t broker.Transport) (uint64, bool) {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		if err := t.Close(); err != nil {
			m.logger.Debug("close transport established during shutdown", zap.Error(err))
		}

		return 0, false
	}

	m.current = t
	m.gen = m.next
	m.next++
	gen := m.gen

	m.mu.Unlock()

	return gen, true
}

// uninstall clears the current transport if it is still t.
func (m *connManager) uninstall(t broker.Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == t {
		m.current = nil
	}
}

// close stops the establish loop and closes the current transport.
func (m *connManager) close() error {
	m.cancel()

	m.mu.Lock()
	t := m.current
	m.current = nil
	m.closed = true
	m.mu.Unlock()

	if t == nil {
		return nil
	}

	m.metrics.Disconnected()

	return t.Close()
}
