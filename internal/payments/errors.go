package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mbd888/interpay/internal/openpayments"
)

var (
	ErrSessionNotFound   = errors.New("no pending grant session for this key")
	ErrGrantNotFinalized = errors.New("grant has not been approved yet")
	ErrCauseNotFound     = errors.New("cause not found")
)

// ValidationError reports bad caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Phases of a payment, used in errors, logs and metrics.
const (
	PhaseResolveWallets  = "resolve_wallets"
	PhaseIncomingPayment = "incoming_payment"
	PhaseQuote           = "quote"
	PhaseOutgoingGrant   = "outgoing_grant"
	PhaseSaveSession     = "save_session"
	PhaseContinueGrant   = "continue_grant"
	PhaseOutgoingPayment = "outgoing_payment"
)

// PhaseError records which step of a payment failed.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string { return fmt.Sprintf("%s: %v", e.Phase, e.Err) }
func (e *PhaseError) Unwrap() error { return e.Err }

// Machine-readable error kinds returned in API error bodies.
const (
	KindValidation        = "validation_error"
	KindUpstreamClient    = "upstream_client_error"
	KindUpstreamTransport = "upstream_transport_error"
	KindSessionNotFound   = "session_not_found"
	KindGrantNotFinalized = "grant_not_finalized"
	KindNotFound          = "not_found"
	KindInvalidState      = "invalid_state"
	KindInternal          = "internal_error"
)

// ErrorKind classifies err for API responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return KindValidation
	case errors.Is(err, ErrSessionNotFound):
		return KindSessionNotFound
	case errors.Is(err, ErrGrantNotFinalized):
		return KindGrantNotFinalized
	case errors.Is(err, ErrCauseNotFound):
		return KindNotFound
	case openpayments.IsClientError(err):
		return KindUpstreamClient
	case openpayments.IsTransportError(err),
		errors.Is(err, context.DeadlineExceeded):
		return KindUpstreamTransport
	default:
		return KindInternal
	}
}

// HTTPStatus maps an error kind to a response status.
func HTTPStatus(kind string) int {
	switch kind {
	case KindValidation, KindUpstreamClient:
		return http.StatusBadRequest
	case KindSessionNotFound, KindNotFound:
		return http.StatusNotFound
	case KindGrantNotFinalized, KindInvalidState:
		return http.StatusConflict
	case KindUpstreamTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// phaseOf extracts the failing phase for metrics, or "unknown".
func phaseOf(err error) string {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase
	}
	return "unknown"
}
