// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Acknowledge tells the broker msg has been processed.
// A delivery must be settled once; a second call returns AlreadySettledError.
func (c *Client) Acknowledge(msg Message) error {
	return msg.Ack()
}

// Reject drops msg without requeueing it.
// A delivery must be settled once; a second call returns AlreadySettledError.
func (c *Client) Reject(msg Message) error {
	return msg.Reject()
}

// DelayedRequeue rejects msg and publishes its payload again to the same
// queue, held back by DefaultRequeueDelay.
func (c *Client) DelayedRequeue(ctx context.Context, msg Message) error {
	return c.DelayedRequeueAfter(ctx, msg, DefaultRequeueDelay)
}

// DelayedRequeueAfter rejects msg and publishes its payload again to the same
// queue after delay. The copy is a new delivery; handlers that must be
// idempotent should key on the payload, not on the delivery. If the reject
// fails nothing is republished, since the broker still holds the original.
func (c *Client) DelayedRequeueAfter(ctx context.Context, msg Message, delay time.Duration) error {
	if err := msg.Reject(); err != nil {
		return fmt.Errorf("reject before requeue: %w", err)
	}

	opts := []SendOption{WithDelay(delay)}
	if extra := msg.ExtraData(); extra != "" {
		opts = append(opts, WithExtraData(extra))
	}

	_, err := c.SendToQueue(ctx, msg.RoutingKey(), msg.Body(), opts...)

	return err
}

// DecodeJSON unmarshals the payload of msg into v.
func DecodeJSON(msg Message, v any) error {
	if err := json.Unmarshal(msg.Body(), v); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.RoutingKey(), err)
	}

	return nil
}

// EncodeJSON marshals v into a payload.
func EncodeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	return data, nil
}
