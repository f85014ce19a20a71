// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"fmt"
	"time"

	"github.com/GwynCerbin/go_rabbit_services/pkg/broker"
)

// AlreadySettledError is returned by a second Acknowledge or Reject on the
// same delivery.
type AlreadySettledError = broker.AlreadySettledError

// ClientClosedError is returned by operations on a closed Client.
type ClientClosedError struct {
}

func (ClientClosedError) Error() string {
	return "client closed"
}

type EmptyRouteError struct {
}

func (EmptyRouteError) Error() string {
	return "empty route"
}

type EmptyExchangeError struct {
}

func (EmptyExchangeError) Error() string {
	return "empty exchange name"
}

type InvalidPrefetchError struct {
	Prefetch int
}

func (e InvalidPrefetchError) Error() string {
	return fmt.Sprintf("invalid prefetch count: %d", e.Prefetch)
}

// ResponseTimeoutError is returned by SendToQueue when no response arrived on
// ReplyTo within Timeout. errors.Is matches any ResponseTimeoutError.
type ResponseTimeoutError struct {
	ReplyTo string
	Timeout time.Duration
}

func (e ResponseTimeoutError) Error() string {
	return fmt.Sprintf("no response on %s within %s", e.ReplyTo, e.Timeout)
}

func (ResponseTimeoutError) Is(target error) bool {
	_, ok := target.(ResponseTimeoutError)
	return ok
}
