// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// silentPeer listens on loopback, accepts connections and never answers the
// AMQP handshake.
func silentPeer(t *testing.T) *Client {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}

			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()

	t.Cleanup(func() {
		_ = l.Close()

		mu.Lock()
		defer mu.Unlock()

		for _, conn := range conns {
			_ = conn.Close()
		}
	})

	addr := l.Addr().(*net.TCPAddr)

	return &Client{Host: addr.IP.String(), Port: addr.Port}
}

func TestDialUnresponsivePeer(t *testing.T) {
	t.Run("handshake deadline", func(t *testing.T) {
		cfg := silentPeer(t)
		cfg.DialTimeout = 100 * time.Millisecond

		start := time.Now()

		_, err := Dial(context.Background(), cfg, brokerTopology(), nil)
		assert.Error(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("canceled context", func(t *testing.T) {
		cfg := silentPeer(t)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()

		_, err := Dial(ctx, cfg, brokerTopology(), nil)
		assert.Error(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestDialRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())

	_, err = Dial(context.Background(), &Client{Host: addr.IP.String(), Port: addr.Port}, brokerTopology(), nil)
	assert.ErrorContains(t, err, "dial amqp091")
}
