// Package receipts signs a proof for every outgoing payment the service
// completes, so payers and recipients can check it later without trusting
// the upstream wallet provider's records.
package receipts

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/interpay/internal/payments"
)

var (
	ErrReceiptNotFound = errors.New("receipts: not found")
	ErrSigningDisabled = errors.New("receipts: signing disabled (no HMAC secret configured)")
)

// Receipt statuses mirror the outgoing payment's failed flag.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Receipt is a signed proof that an outgoing payment was created.
type Receipt struct {
	ID                string        `json:"id"`
	OutgoingPaymentID string        `json:"outgoingPaymentId"`
	SessionKey        string        `json:"sessionKey"`
	Kind              payments.Kind `json:"kind"`
	From              string        `json:"from"`
	To                string        `json:"to"`
	Amount            string        `json:"amount"`
	AssetCode         string        `json:"assetCode,omitempty"`
	Concept           string        `json:"concept,omitempty"`
	CauseID           string        `json:"causeId,omitempty"`
	Status            string        `json:"status"`
	PayloadHash       string        `json:"payloadHash"` // SHA-256 of canonical payload
	Signature         string        `json:"signature"`   // HMAC-SHA256 signature
	IssuedAt          time.Time     `json:"issuedAt"`
	ExpiresAt         time.Time     `json:"expiresAt"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// VerifyRequest is the input for verifying a receipt signature.
type VerifyRequest struct {
	ReceiptID string `json:"receiptId"`
}

// VerifyResponse is the result of receipt verification.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	ReceiptID string `json:"receiptId"`
	Expired   bool   `json:"expired,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Store persists receipts.
type Store interface {
	Create(ctx context.Context, receipt *Receipt) error
	Get(ctx context.Context, id string) (*Receipt, error)
	// List returns receipts newest first. A non-empty wallet keeps only
	// receipts where it is payer or recipient.
	List(ctx context.Context, wallet string) ([]*Receipt, error)
}

// receiptPayload is the canonical struct signed by HMAC.
// Field order must stay fixed; JSON marshals struct fields in order.
type receiptPayload struct {
	Amount            string `json:"amount"`
	AssetCode         string `json:"assetCode"`
	From              string `json:"from"`
	Kind              string `json:"kind"`
	OutgoingPaymentID string `json:"outgoingPaymentId"`
	SessionKey        string `json:"sessionKey"`
	Status            string `json:"status"`
	To                string `json:"to"`
}

func payloadOf(r *Receipt) receiptPayload {
	return receiptPayload{
		Amount:            r.Amount,
		AssetCode:         r.AssetCode,
		From:              r.From,
		Kind:              string(r.Kind),
		OutgoingPaymentID: r.OutgoingPaymentID,
		SessionKey:        r.SessionKey,
		Status:            r.Status,
		To:                r.To,
	}
}
