// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"testing"
	"time"

	"github.com/GwynCerbin/go_rabbit_services/pkg/broker"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAcker struct {
	acks, nacks, rejects int
	lastRequeue          bool
}

func (r *recordingAcker) Ack(uint64, bool) error {
	r.acks++
	return nil
}

func (r *recordingAcker) Nack(_ uint64, _ bool, requeue bool) error {
	r.nacks++
	r.lastRequeue = requeue
	return nil
}

func (r *recordingAcker) Reject(_ uint64, requeue bool) error {
	r.rejects++
	r.lastRequeue = requeue
	return nil
}

func TestMessageSettlesOnce(t *testing.T) {
	t.Run("ack then reject", func(t *testing.T) {
		acker := new(recordingAcker)
		msg := newMessage(amqp091.Delivery{Acknowledger: acker, DeliveryTag: 7})

		require.NoError(t, msg.Ack())
		assert.ErrorIs(t, msg.Reject(), broker.AlreadySettledError{})
		assert.ErrorIs(t, msg.Ack(), broker.AlreadySettledError{})
		assert.Equal(t, 1, acker.acks)
		assert.Zero(t, acker.nacks)
	})

	t.Run("reject does not requeue", func(t *testing.T) {
		acker := new(recordingAcker)
		msg := newMessage(amqp091.Delivery{Acknowledger: acker, DeliveryTag: 8})

		require.NoError(t, msg.Reject())
		assert.Equal(t, 1, acker.nacks)
		assert.False(t, acker.lastRequeue)
	})

	t.Run("fetched message is already settled", func(t *testing.T) {
		acker := new(recordingAcker)
		msg := newSettledMessage(amqp091.Delivery{Acknowledger: acker})

		assert.ErrorIs(t, msg.Ack(), broker.AlreadySettledError{})
		assert.Zero(t, acker.acks)
	})
}

func TestMessageAccessors(t *testing.T) {
	msg := newMessage(amqp091.Delivery{
		Headers: amqp091.Table{
			broker.DelayHeader:     int64(-1500),
			broker.ExtraDataHeader: "tenant-42",
		},
		ContentType: "application/json",
		RoutingKey:  "orders.created",
		ReplyTo:     "reply-1",
		Redelivered: true,
		Body:        []byte(`{"id":1}`),
	})

	assert.Equal(t, "orders.created", msg.RoutingKey())
	assert.Equal(t, "reply-1", msg.ReplyTo())
	assert.Equal(t, "tenant-42", msg.ExtraData())
	assert.Equal(t, 1500*time.Millisecond, msg.Delay())
	assert.Equal(t, "application/json", msg.ContentType())
	assert.True(t, msg.IsRedelivered())
	assert.JSONEq(t, `{"id":1}`, string(msg.Body()))
}

func TestHeaderMillis(t *testing.T) {
	var tests = []struct {
		name string
		in   interface{}
		want time.Duration
	}{
		{name: "int64", in: int64(250), want: 250 * time.Millisecond},
		{name: "int32", in: int32(10), want: 10 * time.Millisecond},
		{name: "negative after delay applied", in: int64(-2000), want: 2 * time.Second},
		{name: "missing", in: nil, want: 0},
		{name: "string is ignored", in: "100", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, headerMillis(tt.in))
		})
	}
}
