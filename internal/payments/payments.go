// Package payments orchestrates interactive Open Payments transfers.
//
// A payment runs in two halves separated by a human approval:
//  1. Initiate: resolve both wallets, create an incoming payment on the
//     recipient, quote it from the sender, and request an interactive
//     outgoing-payment grant. The grant's continuation handle is saved as a
//     Session and the caller gets an authorization URL.
//  2. Finalize: continue the grant. Once the user approved it, create the
//     outgoing payment from the stored quote and drop the session.
package payments

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/interpay/internal/openpayments"
)

// Kind tells where a payment came from.
type Kind string

const (
	KindTransfer  Kind = "transfer"
	KindVoice     Kind = "voice"
	KindDonation  Kind = "donation"
	KindScheduled Kind = "scheduled"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTransfer, KindVoice, KindDonation, KindScheduled:
		return true
	}
	return false
}

// DefaultConcept is the payment description used when the caller sends none.
func (k Kind) DefaultConcept() string {
	switch k {
	case KindVoice:
		return "Pago por voz"
	case KindDonation:
		return "Donación"
	case KindScheduled:
		return "Pago programado"
	default:
		return "Pago"
	}
}

// Intent is what the caller asked to pay. AssetCode and AssetScale are
// filled from the resolved recipient wallet.
type Intent struct {
	Amount             decimal.Decimal `json:"amount"`
	AssetCode          string          `json:"assetCode,omitempty"`
	AssetScale         int             `json:"assetScale"`
	RecipientWalletURL string          `json:"recipient"`
	Concept            string          `json:"concept,omitempty"`
	CauseID            string          `json:"causeId,omitempty"`
	Kind               Kind            `json:"kind"`
}

// InitiateRequest starts a payment. SessionKey is optional; a random key is
// generated when empty.
type InitiateRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Recipient  string          `json:"recipient"`
	Concept    string          `json:"concept,omitempty"`
	CauseID    string          `json:"causeId,omitempty"`
	Kind       Kind            `json:"kind,omitempty"`
	SessionKey string          `json:"sessionKey,omitempty"`
}

// Initiation is the result of a successful Initiate.
type Initiation struct {
	SessionKey        string              `json:"sessionKey"`
	AuthorizationURL  string              `json:"authorizationUrl"`
	IncomingPaymentID string              `json:"incomingPaymentId"`
	QuoteID           string              `json:"quoteId"`
	DebitAmount       openpayments.Amount `json:"debitAmount"`
	ReceiveAmount     openpayments.Amount `json:"receiveAmount"`
}

// DonateRequest starts a donation to a catalog cause.
type DonateRequest struct {
	CauseID    string          `json:"causeId"`
	Amount     decimal.Decimal `json:"amount"`
	SessionKey string          `json:"sessionKey,omitempty"`
}

// Cause is the part of a donation cause the orchestrator needs.
type Cause struct {
	ID        string
	Name      string
	WalletURL string
}

// CauseRegistry abstracts the causes catalog so payments doesn't import it.
type CauseRegistry interface {
	Lookup(ctx context.Context, id string) (*Cause, error)
	AddRaised(ctx context.Context, id string, amount decimal.Decimal) error
}

// EventPublisher receives payment lifecycle events.
type EventPublisher interface {
	PaymentInitiated(ctx context.Context, s *Session)
	PaymentCompleted(ctx context.Context, s *Session, out *openpayments.OutgoingPayment)
}

// PendingSession is the public view of a Session (no grant secrets).
type PendingSession struct {
	SessionKey       string          `json:"sessionKey"`
	AuthorizationURL string          `json:"authorizationUrl"`
	Amount           decimal.Decimal `json:"amount"`
	AssetCode        string          `json:"assetCode"`
	Recipient        string          `json:"recipient"`
	Concept          string          `json:"concept,omitempty"`
	CauseID          string          `json:"causeId,omitempty"`
	Kind             Kind            `json:"kind"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// NormalizeWalletAddress turns a payment pointer or bare host/path into an
// absolute wallet URL. http(s) URLs are kept, a leading "$" becomes
// "https://", anything else gets "https://" prepended. Applying it twice
// gives the same result.
func NormalizeWalletAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	switch {
	case addr == "":
		return ""
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
		return addr
	case strings.HasPrefix(addr, "$"):
		return "https://" + addr[1:]
	default:
		return "https://" + addr
	}
}

// MinorUnits converts a major-unit amount to the integer minor units of an
// asset with the given scale. Amounts with more decimals than the scale
// allows are rejected rather than rounded.
func MinorUnits(amount decimal.Decimal, scale int) (decimal.Decimal, error) {
	if scale < 0 || scale > 18 {
		return decimal.Zero, &ValidationError{Field: "assetScale", Message: "asset scale out of range"}
	}
	minor := amount.Shift(int32(scale)) //nolint:gosec // bounded above
	if !minor.Equal(minor.Truncate(0)) {
		return decimal.Zero, &ValidationError{
			Field:   "amount",
			Message: "amount has more decimal places than the recipient asset allows",
		}
	}
	return minor.Truncate(0), nil
}
