// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package broker

// AlreadySettledError is returned when a second terminal action (Ack or Reject)
// is attempted on a delivery. Handlers must settle every delivery exactly once;
// the second action never reaches the broker.
type AlreadySettledError struct{}

// Error implements the error interface for AlreadySettledError.
func (AlreadySettledError) Error() string {
	return "message already settled"
}

// Headers set on publishings and read back from deliveries.
const (
	DelayHeader     = "x-delay"
	ExtraDataHeader = "extraData"
)
