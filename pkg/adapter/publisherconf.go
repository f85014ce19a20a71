// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// publishConfirmed publishes on a confirm-mode channel and waits for the
// broker's verdict. A negative confirmation is reported as an error so the
// caller retries the publishing.
func (c *Con) publishConfirmed(ctx context.Context, routingKey string, msg amqp091.Publishing) error {
	conf, err := c.channel.PublishWithDeferredConfirmWithContext(ctx, c.exchange, routingKey, false, false, msg)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	success, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait confirmation: %w", err)
	}

	if !success {
		return PublishNotConfirmedError{}
	}

	return nil
}
