// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/GwynCerbin/go_rabbit_services/pkg/broker"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Publish sends msg through the exchange with the given routing key.
// On a confirm-mode channel it also waits for the broker's confirmation.
func (c *Con) Publish(ctx context.Context, routingKey string, msg broker.Publishing) error {
	if c.isClosed.Load() {
		return ConnClosedError{}
	}

	if c.confirm {
		return c.publishConfirmed(ctx, routingKey, setPublishing(msg))
	}

	if err := c.channel.PublishWithContext(ctx, c.exchange, routingKey, false, false, setPublishing(msg)); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return nil
}

// setPublishing maps a broker.Publishing into the AMQP message. The delay and
// the opaque extra data travel as headers, the reply address as ReplyTo.
func setPublishing(msg broker.Publishing) amqp091.Publishing {
	headers := amqp091.Table{}

	if msg.Delay > 0 {
		headers[broker.DelayHeader] = msg.Delay.Milliseconds()
	}

	if msg.ExtraData != "" {
		headers[broker.ExtraDataHeader] = msg.ExtraData
	}

	mode := amqp091.Transient
	if msg.Persistent {
		mode = amqp091.Persistent
	}

	return amqp091.Publishing{
		Headers:      headers,
		DeliveryMode: mode,
		ContentType:  mimetype.Detect(msg.Body).String(),
		Body:         msg.Body,
		ReplyTo:      msg.ReplyTo,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
	}
}
