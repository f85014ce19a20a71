package adapter

// ConnClosedError is returned when operations are attempted on a closed connection.
type ConnClosedError struct{}

// ClientConfEmptyError indicates that a nil connection configuration was
// provided when dialing.
type ClientConfEmptyError struct{}

// InvalidCACertError indicates that the configured CA certificate holds no
// usable PEM block.
type InvalidCACertError struct{}

// PublishNotConfirmedError is returned when the broker negatively acknowledges
// a publishing on a confirm-mode channel.
type PublishNotConfirmedError struct{}

// Error implements the error interface for ConnClosedError.
// It indicates the transport is no longer usable.
func (e ConnClosedError) Error() string {
	return "connection closed"
}

// Error implements the error interface for ClientConfEmptyError.
func (ClientConfEmptyError) Error() string {
	return "empty client config passed, unable to dial"
}

// Error implements the error interface for InvalidCACertError.
func (InvalidCACertError) Error() string {
	return "ca certificate contains no valid PEM data"
}

// Error implements the error interface for PublishNotConfirmedError.
func (PublishNotConfirmedError) Error() string {
	return "publishing was not confirmed by the broker"
}
