// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

// Package broker describes the narrow surface of a message broker the client
// relies on: one live connection with one logical channel, bound to a single
// topic exchange that supports delayed delivery.
package broker

import (
	"context"
	"time"
)

// Topology carries the per-connection setup applied by a Dialer on every
// (re-)establishment: the exchange all traffic flows through and the prefetch
// limit of the channel.
type Topology struct {
	Exchange string
	Prefetch int
}

// QueueSpec describes a queue declaration. Every queue is bound to the
// exchange under its own name as routing key.
type QueueSpec struct {
	Name       string
	Durable    bool
	AutoDelete bool
	// Expires removes the queue after this much disuse. Zero disables it.
	Expires time.Duration
}

// Publishing is an outgoing message.
type Publishing struct {
	Body []byte
	// Delay asks the exchange to hold the message before routing it.
	Delay time.Duration
	// ReplyTo names the queue a responder should answer on.
	ReplyTo string
	// ExtraData is an opaque string carried in the message headers.
	ExtraData string
	// Persistent asks the broker to write the message to disk, so it
	// survives a broker restart in a durable queue.
	Persistent bool
}

// Dialer establishes a Transport: connection, channel, exchange declaration
// and prefetch limit. Any failure leaves nothing open.
type Dialer func(ctx context.Context, topo Topology) (Transport, error)

// Transport is one live connection plus one live channel.
// Implementations must be safe for concurrent use.
type Transport interface {
	// DeclareQueue declares the queue idempotently and binds it to the exchange.
	DeclareQueue(ctx context.Context, spec QueueSpec) error

	// Publish routes a message through the exchange with the given routing key.
	Publish(ctx context.Context, routingKey string, msg Publishing) error

	// Consume attaches a consumer to the queue. The returned channel is closed
	// when the transport goes away.
	Consume(ctx context.Context, queue string) (<-chan Message, error)

	// Get fetches a single message without blocking. ok is false when the
	// queue is empty. The fetched message is already settled.
	Get(ctx context.Context, queue string) (msg Message, ok bool, err error)

	// DeleteQueue removes a queue.
	DeleteQueue(ctx context.Context, name string) error

	// NotifyClose returns a channel that receives the close reason and is then
	// closed once the transport is gone.
	NotifyClose() <-chan error

	// Close releases the connection.
	Close() error
}

// Message represents a single broker-delivered message, allowing inspection and acknowledgment.
// Implementations wrap the broker-specific delivery type.
type Message interface {
	// Headers returns the message metadata headers.
	Headers() map[string]interface{}

	// ContentType returns the MIME type of the message payload.
	ContentType() string

	// IsRedelivered signals if this delivery is a redelivery of a previous message.
	IsRedelivered() bool

	// Body returns the raw payload bytes.
	Body() []byte

	// RoutingKey returns the routing key the message was published with.
	RoutingKey() string

	// ReplyTo returns the reply address of a request, or an empty string.
	ReplyTo() string

	// ExtraData returns the opaque string attached by the publisher.
	ExtraData() string

	// Delay returns the delay the message was published with.
	Delay() time.Duration

	// Ack acknowledges successful processing of the message.
	// It signals the broker to remove the message from the queue.
	Ack() error

	// Reject rejects the message without requeueing it.
	Reject() error
}
