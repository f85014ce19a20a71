// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/GwynCerbin/go_rabbit_services/internal/brokertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type testResponse struct {
	Response int `json:"response"`
}

func TestRequestResponse(t *testing.T) {
	b := newBroker(t)
	c := newTestClient(t, b, 1)
	ctx := context.Background()

	const queue = "jest.queue.rpc"

	require.NoError(t, c.ConsumeQueue(ctx, queue, func(ctx context.Context, msg Message) {
		assert.NoError(t, c.Acknowledge(msg))

		if msg.ReplyTo() == "" {
			return
		}

		var m testMessage
		if !assert.NoError(t, DecodeJSON(msg, &m)) {
			return
		}

		time.Sleep(30 * time.Millisecond)

		body, err := EncodeJSON(testResponse{Response: m.Message})
		if assert.NoError(t, err) {
			assert.NoError(t, c.SendToQueueRPC(ctx, msg.ReplyTo(), body))
		}
	}))

	body, err := EncodeJSON(testMessage{Message: 17})
	require.NoError(t, err)

	resp, err := c.SendToQueue(ctx, queue, body, AwaitResponse(), WithTimeout(2*time.Second))
	require.NoError(t, err)
	require.NotNil(t, resp)

	var r testResponse
	require.NoError(t, DecodeJSON(resp, &r))
	assert.Equal(t, 17, r.Response)

	replyTo := resp.RoutingKey()

	pub := b.Published()
	require.Len(t, pub, 2)
	assert.Equal(t, replyTo, pub[0].Msg.ReplyTo)
	assert.Equal(t, replyTo, pub[1].RoutingKey)

	require.Eventually(t, func() bool {
		return slices.Contains(b.Deleted(), replyTo)
	}, waitFor, tick)
}

func TestReplyQueueDeclaration(t *testing.T) {
	b := newBroker(t)
	c := newTestClient(t, b, 1, WithReplyQueueExpiry(time.Minute))

	const replyTo = "5b0c4bd2-6f57-4c1e-9b5a-0d7b0a6f1a11"

	require.NoError(t, c.SendToQueueRPC(context.Background(), replyTo, []byte(`{"response":1}`)))

	spec, ok := b.Queue(replyTo)
	require.True(t, ok)
	assert.True(t, spec.AutoDelete)
	assert.False(t, spec.Durable)
	assert.Equal(t, time.Minute, spec.Expires)
	assert.Equal(t, 1, b.Depth(replyTo))

	pub := b.Published()
	require.Len(t, pub, 1)
	assert.Empty(t, pub[0].Msg.ReplyTo)
	assert.False(t, pub[0].Msg.Persistent)
}

func TestRequestTimesOut(t *testing.T) {
	b := newBroker(t)
	c := newTestClient(t, b, 1)

	start := time.Now()

	resp, err := c.SendToQueue(context.Background(), "jest.queue.silent", []byte(`{"message":1}`),
		AwaitResponse(), WithTimeout(100*time.Millisecond))

	assert.Nil(t, resp)
	require.Error(t, err)
	assert.ErrorIs(t, err, ResponseTimeoutError{})
	assert.Less(t, time.Since(start), time.Second)

	var timeout ResponseTimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, 100*time.Millisecond, timeout.Timeout)
	assert.NotEmpty(t, timeout.ReplyTo)
}

func TestRequestUsesDefaultTimeout(t *testing.T) {
	b := newBroker(t)
	c := newTestClient(t, b, 1, WithDefaultTimeout(50*time.Millisecond))

	var tests = []struct {
		name string
		opts []SendOption
	}{
		{name: "no timeout", opts: []SendOption{AwaitResponse()}},
		{name: "zero timeout", opts: []SendOption{AwaitResponse(), WithTimeout(0)}},
		{name: "negative timeout", opts: []SendOption{AwaitResponse(), WithTimeout(-time.Second)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.SendToQueue(context.Background(), "jest.queue.silent", []byte("x"), tt.opts...)

			var timeout ResponseTimeoutError
			require.True(t, errors.As(err, &timeout))
			assert.Equal(t, 50*time.Millisecond, timeout.Timeout)
		})
	}
}

func TestAwaitChargesBackoffToBudget(t *testing.T) {
	b := newBroker(t)
	b.SetDown(true)

	c := newTestClient(t, b, 1, WithBackoff(50*time.Millisecond))

	start := time.Now()

	_, err := c.awaitResponse(context.Background(), "jest.reply.down", 120*time.Millisecond)
	assert.ErrorIs(t, err, ResponseTimeoutError{})

	// Three backoffs spend the budget.
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestAwaitChargesPollIntervalToBudget(t *testing.T) {
	b := newBroker(t)
	c := newTestClient(t, b, 1, WithBackoff(time.Second), WithPollInterval(10*time.Millisecond))

	require.Eventually(t, c.Connected, waitFor, tick)

	start := time.Now()

	_, err := c.awaitResponse(context.Background(), "jest.reply.empty", 50*time.Millisecond)
	assert.ErrorIs(t, err, ResponseTimeoutError{})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestAwaitHonoursContext(t *testing.T) {
	b := newBroker(t)
	c := newTestClient(t, b, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.SendToQueue(ctx, "jest.queue.silent", []byte("x"), AwaitResponse(), WithTimeout(time.Minute))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReplyQueueCleanupFailureIsLogged(t *testing.T) {
	var tests = []struct {
		name    string
		down    bool
		message string
		wantErr string
	}{
		{name: "missing queue", message: "reply queue not deleted", wantErr: brokertest.ErrNotFound.Error()},
		{name: "no transport", down: true, message: "reply queue not deleted, no transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)

			b := newBroker(t)
			b.SetDown(tt.down)

			c := newTestClient(t, b, 1, WithLogger(zap.New(core)))
			if !tt.down {
				require.Eventually(t, c.Connected, waitFor, tick)
			}

			c.cleanupReplyQueue("jest.reply.gone")

			entries := logs.FilterMessage(tt.message).All()
			require.Len(t, entries, 1)
			assert.Equal(t, "jest.reply.gone", entries[0].ContextMap()["reply_to"])

			if tt.wantErr != "" {
				assert.Contains(t, entries[0].ContextMap()["error"], tt.wantErr)
			}
		})
	}
}

func TestResponseSurvivesReconnect(t *testing.T) {
	b := newBroker(t)
	c := newTestClient(t, b, 1)
	ctx := context.Background()

	const queue = "jest.queue.rpc.drop"

	require.NoError(t, c.ConsumeQueue(ctx, queue, func(ctx context.Context, msg Message) {
		assert.NoError(t, c.Acknowledge(msg))

		if msg.ReplyTo() == "" {
			return
		}

		b.Drop()

		assert.NoError(t, c.SendToQueueRPC(ctx, msg.ReplyTo(), []byte(`{"response":5}`)))
	}))

	resp, err := c.SendToQueue(ctx, queue, []byte(`{"message":5}`), AwaitResponse(), WithTimeout(2*time.Second))
	require.NoError(t, err)

	var r testResponse
	require.NoError(t, DecodeJSON(resp, &r))
	assert.Equal(t, 5, r.Response)
}
