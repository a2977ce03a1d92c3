package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/interpay/internal/idgen"
	"github.com/mbd888/interpay/internal/logging"
	"github.com/mbd888/interpay/internal/metrics"
	"github.com/mbd888/interpay/internal/openpayments"
	"github.com/mbd888/interpay/internal/syncutil"
	"github.com/mbd888/interpay/internal/traces"
)

// quoteMethod is the payment method used for every quote.
const quoteMethod = "ilp"

// Service runs the two halves of a payment.
type Service struct {
	client       openpayments.Client
	store        SessionStore
	senderWallet string
	causes       CauseRegistry
	events       EventPublisher
	locks        *syncutil.KeyLock
	now          func() time.Time
}

// NewService creates a payment orchestrator paying from senderWallet.
func NewService(client openpayments.Client, store SessionStore, senderWallet string) *Service {
	return &Service{
		client:       client,
		store:        store,
		senderWallet: NormalizeWalletAddress(senderWallet),
		locks:        syncutil.NewKeyLock(0),
		now:          time.Now,
	}
}

// WithCauses enables donations and cause totals.
func (s *Service) WithCauses(c CauseRegistry) *Service {
	s.causes = c
	return s
}

// WithEvents adds a publisher for lifecycle events.
func (s *Service) WithEvents(e EventPublisher) *Service {
	s.events = e
	return s
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Initiate runs the first half of a caller's payment and leaves a pending
// session the caller finalizes after the user approves the grant. Already
// created incoming payments and quotes are not cleaned up when a later
// step fails. Donations go through Donate and scheduled payments through
// InitiateTask.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error) {
	if err := checkCallerKey(req.SessionKey); err != nil {
		return nil, err
	}
	switch {
	case req.CauseID != "":
		return nil, &ValidationError{Field: "causeId", Message: "is only accepted by donations"}
	case req.Kind == KindDonation:
		return nil, &ValidationError{Field: "kind", Message: "donations must name a cause"}
	case req.Kind == KindScheduled:
		return nil, &ValidationError{Field: "kind", Message: "is reserved for scheduled payments"}
	}
	return s.initiate(ctx, req)
}

// InitiateTask starts the payment of a scheduled task. Its session lives
// under TaskSessionKey(taskID), out of reach of the caller operations.
func (s *Service) InitiateTask(ctx context.Context, taskID string, req InitiateRequest) (*Initiation, error) {
	if taskID == "" {
		return nil, &ValidationError{Field: "taskId", Message: "is required"}
	}
	req.SessionKey = TaskSessionKey(taskID)
	req.Kind = KindScheduled
	req.CauseID = ""
	return s.initiate(ctx, req)
}

// FinalizeTask completes the payment of a scheduled task.
func (s *Service) FinalizeTask(ctx context.Context, taskID string) (*openpayments.OutgoingPayment, error) {
	if taskID == "" {
		return nil, &ValidationError{Field: "taskId", Message: "is required"}
	}
	return s.finalize(ctx, TaskSessionKey(taskID))
}

func (s *Service) initiate(ctx context.Context, req InitiateRequest) (_ *Initiation, err error) {
	intent, err := s.buildIntent(req)
	if err != nil {
		return nil, err
	}
	key := req.SessionKey
	if key == "" {
		key = idgen.New()
	}

	ctx, span := traces.StartSpan(ctx, "payments.Initiate",
		traces.SessionKey(key),
		traces.PaymentKind(string(intent.Kind)),
		traces.Amount(intent.Amount.String()),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.PaymentFailuresTotal.WithLabelValues(phaseOf(err)).Inc()
			logging.L(ctx).Warn("payment initiation failed",
				"session_key", key, "phase", phaseOf(err), "error", err)
		}
		span.End()
	}()

	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sender, err := s.client.ResolveWallet(ctx, s.senderWallet)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseResolveWallets, Err: err}
	}
	recipient, err := s.client.ResolveWallet(ctx, intent.RecipientWalletURL)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseResolveWallets, Err: err}
	}
	intent.AssetCode = recipient.AssetCode
	intent.AssetScale = recipient.AssetScale

	minor, err := MinorUnits(intent.Amount, recipient.AssetScale)
	if err != nil {
		return nil, err
	}

	incoming, err := s.createIncomingPayment(ctx, recipient, minor.String(), intent.Concept)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseIncomingPayment, Err: err}
	}

	quote, err := s.createQuote(ctx, sender, incoming.ID)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseQuote, Err: err}
	}

	grant, err := s.requestOutgoingGrant(ctx, sender, quote)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseOutgoingGrant, Err: err}
	}

	sess := &Session{
		Key:               key,
		ContinueURI:       grant.Continue.URI,
		ContinueToken:     grant.Continue.AccessToken.Value,
		AuthorizationURL:  grant.Interact.Redirect,
		SendingWallet:     *sender,
		IncomingPaymentID: incoming.ID,
		Quote:             *quote,
		Intent:            intent,
		CreatedAt:         s.now(),
	}
	replaced, err := s.store.Put(ctx, sess)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseSaveSession, Err: err}
	}
	if replaced {
		logging.L(ctx).Warn("replaced pending grant session", "session_key", key)
	} else {
		metrics.PendingGrantSessions.Inc()
	}

	metrics.PaymentsInitiatedTotal.WithLabelValues(string(intent.Kind)).Inc()
	logging.L(ctx).Info("payment initiated",
		"session_key", key,
		"kind", intent.Kind,
		"recipient", intent.RecipientWalletURL,
		"amount", intent.Amount.String(),
		"asset", intent.AssetCode,
	)
	if s.events != nil {
		s.events.PaymentInitiated(ctx, sess)
	}

	return &Initiation{
		SessionKey:        key,
		AuthorizationURL:  sess.AuthorizationURL,
		IncomingPaymentID: incoming.ID,
		QuoteID:           quote.ID,
		DebitAmount:       quote.DebitAmount,
		ReceiveAmount:     quote.ReceiveAmount,
	}, nil
}

// Finalize completes the payment pending under sessionKey. When the user
// has not approved the grant yet it returns ErrGrantNotFinalized and keeps
// the session so the call can be repeated.
func (s *Service) Finalize(ctx context.Context, sessionKey string) (*openpayments.OutgoingPayment, error) {
	if sessionKey == "" {
		return nil, &ValidationError{Field: "sessionKey", Message: "is required"}
	}
	if IsTaskSessionKey(sessionKey) {
		return nil, ErrSessionNotFound
	}
	return s.finalize(ctx, sessionKey)
}

func (s *Service) finalize(ctx context.Context, sessionKey string) (_ *openpayments.OutgoingPayment, err error) {

	ctx, span := traces.StartSpan(ctx, "payments.Finalize", traces.SessionKey(sessionKey))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if !errors.Is(err, ErrGrantNotFinalized) && !errors.Is(err, ErrSessionNotFound) {
				metrics.PaymentFailuresTotal.WithLabelValues(phaseOf(err)).Inc()
			}
		}
		span.End()
	}()

	unlock, err := s.locks.Lock(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := s.store.Get(ctx, sessionKey)
	if err != nil {
		return nil, err
	}

	grant, err := s.client.ContinueGrant(ctx, sess.ContinueURI, sess.ContinueToken)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseContinueGrant, Err: err}
	}
	if !grant.IsFinalized() {
		metrics.GrantNotFinalizedTotal.Inc()
		return nil, ErrGrantNotFinalized
	}

	req := openpayments.OutgoingPaymentRequest{
		WalletAddress: sess.SendingWallet.ID,
		QuoteID:       sess.Quote.ID,
	}
	if sess.Intent.Concept != "" {
		req.Metadata = map[string]string{"description": sess.Intent.Concept}
	}
	out, err := s.client.CreateOutgoingPayment(ctx, sess.SendingWallet.ResourceServer, grant.AccessToken.Value, req)
	if err != nil {
		logging.L(ctx).Error("outgoing payment failed after approval",
			"session_key", sessionKey, "error", err)
		return nil, &PhaseError{Phase: PhaseOutgoingPayment, Err: err}
	}

	switch err := s.store.Delete(ctx, sessionKey); {
	case err == nil:
		metrics.PendingGrantSessions.Dec()
	case !errors.Is(err, ErrSessionNotFound):
		logging.L(ctx).Error("failed to delete finalized session", "session_key", sessionKey, "error", err)
	}

	if sess.Intent.CauseID != "" && s.causes != nil {
		// The money already moved, so a bookkeeping failure is only logged.
		if err := s.causes.AddRaised(ctx, sess.Intent.CauseID, sess.Intent.Amount); err != nil {
			logging.L(ctx).Error("failed to add donation to cause total",
				"cause", sess.Intent.CauseID, "amount", sess.Intent.Amount.String(), "error", err)
		}
	}

	metrics.PaymentsFinalizedTotal.WithLabelValues(string(sess.Intent.Kind)).Inc()
	logging.L(ctx).Info("payment completed",
		"session_key", sessionKey,
		"outgoing_payment", out.ID,
		"kind", sess.Intent.Kind,
	)
	if s.events != nil {
		s.events.PaymentCompleted(ctx, sess, out)
	}
	return out, nil
}

// Cancel drops a pending session. The grant itself is left to expire on
// the authorization server.
func (s *Service) Cancel(ctx context.Context, sessionKey string) error {
	if sessionKey == "" {
		return &ValidationError{Field: "sessionKey", Message: "is required"}
	}
	if IsTaskSessionKey(sessionKey) {
		return ErrSessionNotFound
	}
	unlock, err := s.locks.Lock(ctx, sessionKey)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.Delete(ctx, sessionKey); err != nil {
		return err
	}
	metrics.PendingGrantSessions.Dec()
	logging.L(ctx).Info("pending grant session cancelled", "session_key", sessionKey)
	return nil
}

// Pending lists caller sessions waiting for finalization, oldest first.
// Scheduled task sessions are listed by the scheduler instead.
func (s *Service) Pending(ctx context.Context) ([]PendingSession, error) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]PendingSession, 0, len(sessions))
	for _, sess := range sessions {
		if IsTaskSessionKey(sess.Key) {
			continue
		}
		views = append(views, sess.View())
	}
	return views, nil
}

// Session returns the public view of one pending session.
func (s *Service) Session(ctx context.Context, sessionKey string) (*PendingSession, error) {
	if IsTaskSessionKey(sessionKey) {
		return nil, ErrSessionNotFound
	}
	sess, err := s.store.Get(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	v := sess.View()
	return &v, nil
}

// TaskSession returns the pending session of a scheduled task.
func (s *Service) TaskSession(ctx context.Context, taskID string) (*PendingSession, error) {
	sess, err := s.store.Get(ctx, TaskSessionKey(taskID))
	if err != nil {
		return nil, err
	}
	v := sess.View()
	return &v, nil
}

// Donate initiates a payment to a catalog cause. The cause's total grows
// when the donation is finalized.
func (s *Service) Donate(ctx context.Context, req DonateRequest) (*Initiation, *Cause, error) {
	if req.CauseID == "" {
		return nil, nil, &ValidationError{Field: "causeId", Message: "is required"}
	}
	if err := checkCallerKey(req.SessionKey); err != nil {
		return nil, nil, err
	}
	if s.causes == nil {
		return nil, nil, ErrCauseNotFound
	}
	cause, err := s.causes.Lookup(ctx, req.CauseID)
	if err != nil {
		return nil, nil, err
	}
	init, err := s.initiate(ctx, InitiateRequest{
		Amount:     req.Amount,
		Recipient:  cause.WalletURL,
		Concept:    fmt.Sprintf("%s a %s", KindDonation.DefaultConcept(), cause.Name),
		CauseID:    cause.ID,
		Kind:       KindDonation,
		SessionKey: req.SessionKey,
	})
	if err != nil {
		return nil, nil, err
	}
	return init, cause, nil
}

func (s *Service) buildIntent(req InitiateRequest) (Intent, error) {
	if !req.Amount.IsPositive() {
		return Intent{}, &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	recipient := NormalizeWalletAddress(req.Recipient)
	if recipient == "" {
		return Intent{}, &ValidationError{Field: "recipient", Message: "is required"}
	}
	kind := req.Kind
	if kind == "" {
		kind = KindTransfer
	}
	if !kind.Valid() {
		return Intent{}, &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown payment kind %q", kind)}
	}
	concept := req.Concept
	if concept == "" {
		concept = kind.DefaultConcept()
	}
	return Intent{
		Amount:             req.Amount,
		RecipientWalletURL: recipient,
		Concept:            concept,
		CauseID:            req.CauseID,
		Kind:               kind,
	}, nil
}

func (s *Service) createIncomingPayment(ctx context.Context, recipient *openpayments.WalletAddress, minor, concept string) (*openpayments.IncomingPayment, error) {
	grant, err := s.client.RequestGrant(ctx, recipient.AuthServer, openpayments.GrantRequest{
		AccessToken: openpayments.AccessTokenRequest{Access: []openpayments.AccessItem{{
			Type:    openpayments.AccessIncomingPayment,
			Actions: []openpayments.Action{openpayments.ActionRead, openpayments.ActionCreate, openpayments.ActionComplete},
		}}},
	})
	if err != nil {
		return nil, err
	}
	if !grant.IsFinalized() {
		return nil, unexpectedGrant(openpayments.OpRequestGrant, "incoming-payment grant was not issued without interaction")
	}

	req := openpayments.IncomingPaymentRequest{
		WalletAddress: recipient.ID,
		IncomingAmount: &openpayments.Amount{
			Value:      minor,
			AssetCode:  recipient.AssetCode,
			AssetScale: recipient.AssetScale,
		},
	}
	if concept != "" {
		req.Metadata = map[string]string{"description": concept}
	}
	return s.client.CreateIncomingPayment(ctx, recipient.ResourceServer, grant.AccessToken.Value, req)
}

func (s *Service) createQuote(ctx context.Context, sender *openpayments.WalletAddress, receiver string) (*openpayments.Quote, error) {
	grant, err := s.client.RequestGrant(ctx, sender.AuthServer, openpayments.GrantRequest{
		AccessToken: openpayments.AccessTokenRequest{Access: []openpayments.AccessItem{{
			Type:    openpayments.AccessQuote,
			Actions: []openpayments.Action{openpayments.ActionRead, openpayments.ActionCreate},
		}}},
	})
	if err != nil {
		return nil, err
	}
	if !grant.IsFinalized() {
		return nil, unexpectedGrant(openpayments.OpRequestGrant, "quote grant was not issued without interaction")
	}
	return s.client.CreateQuote(ctx, sender.ResourceServer, grant.AccessToken.Value, openpayments.QuoteRequest{
		WalletAddress: sender.ID,
		Receiver:      receiver,
		Method:        quoteMethod,
	})
}

func (s *Service) requestOutgoingGrant(ctx context.Context, sender *openpayments.WalletAddress, quote *openpayments.Quote) (*openpayments.Grant, error) {
	debit := quote.DebitAmount
	grant, err := s.client.RequestGrant(ctx, sender.AuthServer, openpayments.GrantRequest{
		AccessToken: openpayments.AccessTokenRequest{Access: []openpayments.AccessItem{{
			Type:       openpayments.AccessOutgoingPayment,
			Actions:    []openpayments.Action{openpayments.ActionRead, openpayments.ActionCreate},
			Identifier: sender.ID,
			Limits:     &openpayments.Limits{DebitAmount: &debit},
		}}},
		Interact: &openpayments.InteractRequest{Start: []string{openpayments.InteractRedirect}},
	})
	if err != nil {
		return nil, err
	}
	if !grant.IsPending() || grant.Continue == nil || grant.Continue.URI == "" {
		return nil, unexpectedGrant(openpayments.OpRequestGrant, "outgoing-payment grant did not return an interaction redirect")
	}
	return grant, nil
}

func unexpectedGrant(op, msg string) error {
	return &openpayments.ClientError{Operation: op, Code: "unexpected_grant", Description: msg}
}
