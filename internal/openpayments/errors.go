package openpayments

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is wrapped in a TransportError when calls to a host are
// being short-circuited after repeated failures.
var ErrCircuitOpen = errors.New("upstream circuit open")

// ClientError is a structured rejection from the payment network
// (4xx: unknown wallet, insufficient grant scope, bad request...).
type ClientError struct {
	Operation   string `json:"operation"`
	Status      int    `json:"status"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description"`
}

func (e *ClientError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%d %s)", e.Operation, e.Description, e.Status, e.Code)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Operation, e.Description, e.Status)
}

// TransportError means the network could not be reached or answered with
// a server-side failure. Status is zero when no response was received.
type TransportError struct {
	Operation string
	Status    int
	Err       error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: upstream status %d: %v", e.Operation, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsClientError reports whether err wraps a *ClientError.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// IsTransportError reports whether err wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
