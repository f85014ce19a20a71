// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"sync/atomic"
	"time"

	"github.com/GwynCerbin/go_rabbit_services/pkg/broker"
	"github.com/rabbitmq/amqp091-go"
)

// Message wraps an AMQP delivery and tracks acknowledgment state.
// Only the first of Ack/Reject reaches the broker.
type Message struct {
	// deliver holds the original AMQP delivery metadata and payload.
	deliver amqp091.Delivery
	// completed flips once a terminal action has been taken.
	completed atomic.Bool
}

func newMessage(d amqp091.Delivery) *Message {
	return &Message{deliver: d}
}

// newSettledMessage wraps a delivery that was fetched with auto-ack.
func newSettledMessage(d amqp091.Delivery) *Message {
	m := &Message{deliver: d}
	m.completed.Store(true)

	return m
}

// RoutingKey returns the message routing key set on the AMQP delivery.
func (m *Message) RoutingKey() string {
	return m.deliver.RoutingKey
}

// Headers returns the message headers set on the AMQP delivery.
func (m *Message) Headers() map[string]interface{} {
	return m.deliver.Headers
}

// ContentType returns the MIME content type of the message payload.
func (m *Message) ContentType() string {
	return m.deliver.ContentType
}

// IsRedelivered indicates if the delivery is a redelivery (duplicate) of a previous message.
func (m *Message) IsRedelivered() bool {
	return m.deliver.Redelivered
}

// Body returns the raw message payload as a byte slice.
func (m *Message) Body() []byte {
	return m.deliver.Body
}

// ReplyTo returns the reply address of a request.
func (m *Message) ReplyTo() string {
	return m.deliver.ReplyTo
}

// ExtraData returns the opaque string header attached by the publisher.
func (m *Message) ExtraData() string {
	val, _ := m.deliver.Headers[broker.ExtraDataHeader].(string)
	return val
}

// Delay returns the x-delay header as a duration.
func (m *Message) Delay() time.Duration {
	return headerMillis(m.deliver.Headers[broker.DelayHeader])
}

// Ack acknowledges successful processing of the message by the broker.
// It returns broker.AlreadySettledError when the message was already settled.
func (m *Message) Ack() error {
	if m.completed.CompareAndSwap(false, true) {
		return m.deliver.Ack(false)
	}

	return broker.AlreadySettledError{}
}

// Reject rejects the message exactly once without requeueing it.
func (m *Message) Reject() error {
	if m.completed.CompareAndSwap(false, true) {
		return m.deliver.Nack(false, false)
	}

	return broker.AlreadySettledError{}
}

// headerMillis reads a millisecond header; the delayed-message exchange
// rewrites x-delay to a negative value once it has been applied.
func headerMillis(v interface{}) time.Duration {
	var ms int64

	switch val := v.(type) {
	case int64:
		ms = val
	case int32:
		ms = int64(val)
	case int:
		ms = int64(val)
	case int16:
		ms = int64(val)
	case int8:
		ms = int64(val)
	case uint8:
		ms = int64(val)
	case uint16:
		ms = int64(val)
	case uint32:
		ms = int64(val)
	case float64:
		ms = int64(val)
	default:
		return 0
	}

	if ms < 0 {
		ms = -ms
	}

	return time.Duration(ms) * time.Millisecond
}
