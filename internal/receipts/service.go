package receipts

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/interpay/internal/idgen"
	"github.com/mbd888/interpay/internal/logging"
	"github.com/mbd888/interpay/internal/metrics"
	"github.com/mbd888/interpay/internal/openpayments"
	"github.com/mbd888/interpay/internal/payments"
)

// Service implements receipt business logic.
type Service struct {
	store  Store
	signer *Signer
	now    func() time.Time
}

var _ payments.EventPublisher = (*Service)(nil)

// NewService creates a new receipt service.
// If signer is nil, Issue is a no-op (signing disabled).
func NewService(store Store, signer *Signer) *Service {
	return &Service{
		store:  store,
		signer: signer,
		now:    time.Now,
	}
}

// WithClock replaces the clock used for issue and expiry times.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Enabled reports whether receipts are being signed.
func (s *Service) Enabled() bool {
	return s != nil && s.signer != nil
}

// Issue signs and persists a receipt for an outgoing payment created from
// sess. Returns (nil, nil) when signing is disabled.
func (s *Service) Issue(ctx context.Context, sess *payments.Session, out *openpayments.OutgoingPayment) (*Receipt, error) {
	if !s.Enabled() {
		return nil, nil
	}

	status := StatusCompleted
	if out.Failed {
		status = StatusFailed
	}
	assetCode := sess.Intent.AssetCode
	if assetCode == "" {
		assetCode = out.DebitAmount.AssetCode
	}
	r := &Receipt{
		ID:                "rcpt_" + idgen.Hex(12),
		OutgoingPaymentID: out.ID,
		SessionKey:        sess.Key,
		Kind:              sess.Intent.Kind,
		From:              strings.ToLower(sess.SendingWallet.ID),
		To:                strings.ToLower(sess.Intent.RecipientWalletURL),
		Amount:            sess.Intent.Amount.String(),
		AssetCode:         assetCode,
		Concept:           sess.Intent.Concept,
		CauseID:           sess.Intent.CauseID,
		Status:            status,
	}

	payload := payloadOf(r)
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("receipts: failed to marshal payload: %w", err)
	}
	r.PayloadHash = fmt.Sprintf("%x", sha256.Sum256(data))

	now := s.now()
	r.Signature, r.IssuedAt, r.ExpiresAt, err = s.signer.Sign(payload, now)
	if err != nil {
		return nil, fmt.Errorf("receipts: failed to sign: %w", err)
	}
	r.CreatedAt = now.UTC()

	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	metrics.ReceiptsIssuedTotal.WithLabelValues(status).Inc()
	return r, nil
}

// PaymentInitiated is a no-op; receipts exist only for created payments.
func (s *Service) PaymentInitiated(context.Context, *payments.Session) {}

// PaymentCompleted issues a receipt. The payment already happened, so a
// failure here is logged and never surfaced to the caller.
func (s *Service) PaymentCompleted(ctx context.Context, sess *payments.Session, out *openpayments.OutgoingPayment) {
	r, err := s.Issue(ctx, sess, out)
	if err != nil {
		logging.L(ctx).Error("failed to issue receipt",
			"session_key", sess.Key, "outgoing_payment", out.ID, "error", err)
		return
	}
	if r != nil {
		logging.L(ctx).Info("receipt issued", "receipt", r.ID, "outgoing_payment", out.ID)
	}
}

// Get returns a receipt by ID.
func (s *Service) Get(ctx context.Context, id string) (*Receipt, error) {
	return s.store.Get(ctx, id)
}

// List returns receipts newest first, optionally filtered by wallet.
func (s *Service) List(ctx context.Context, wallet string) ([]*Receipt, error) {
	return s.store.List(ctx, strings.ToLower(wallet))
}

// Verify checks whether a receipt's signature is valid.
func (s *Service) Verify(ctx context.Context, receiptID string) (*VerifyResponse, error) {
	resp := &VerifyResponse{ReceiptID: receiptID}
	if !s.Enabled() {
		resp.Error = ErrSigningDisabled.Error()
		return resp, nil
	}

	r, err := s.store.Get(ctx, receiptID)
	if errors.Is(err, ErrReceiptNotFound) {
		resp.Error = err.Error()
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	resp.Valid = s.signer.Verify(payloadOf(r), r.Signature)
	if !resp.Valid {
		resp.Error = "signature verification failed"
		return resp, nil
	}
	resp.Expired = s.now().After(r.ExpiresAt)
	return resp, nil
}
