package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/interpay/internal/idgen"
	"github.com/mbd888/interpay/internal/logging"
	"github.com/mbd888/interpay/internal/metrics"
	"github.com/mbd888/interpay/internal/openpayments"
	"github.com/mbd888/interpay/internal/payments"
	"github.com/mbd888/interpay/internal/retry"
	"github.com/mbd888/interpay/internal/syncutil"
	"github.com/mbd888/interpay/internal/traces"
	"github.com/mbd888/interpay/internal/validation"
)

// offsetLayouts carry their own zone; localLayouts are read in the
// service's location.
var (
	offsetLayouts = []string{time.RFC3339Nano, time.RFC3339}
	localLayouts  = []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}
)

// Service implements scheduled payment logic.
type Service struct {
	store    Store
	payments PaymentOrchestrator
	location *time.Location
	events   EventPublisher
	locks    *syncutil.KeyLock
	now      func() time.Time

	// updateRetry covers the store write that follows a successful grant
	// request.
	updateRetry retry.Policy
}

// NewService creates a scheduler. Trigger times without an offset are
// interpreted in loc; nil means UTC.
func NewService(store Store, orchestrator PaymentOrchestrator, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:    store,
		payments: orchestrator,
		location: loc,
		locks:    syncutil.NewKeyLock(0),
		now:      time.Now,
		updateRetry: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		},
	}
}

// WithEvents adds a publisher for task lifecycle events.
func (s *Service) WithEvents(e EventPublisher) *Service {
	s.events = e
	return s
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithUpdateRetry replaces the retry policy for task updates after a
// grant was requested.
func (s *Service) WithUpdateRetry(p retry.Policy) *Service {
	s.updateRetry = p
	return s
}

// Location returns the zone used for trigger times.
func (s *Service) Location() *time.Location {
	return s.location
}

// Schedule validates req and stores a new pending task.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (*Task, error) {
	recipient := payments.NormalizeWalletAddress(req.Recipient)
	if recipient == "" {
		return nil, &payments.ValidationError{Field: "recipient", Message: "is required"}
	}
	if !validation.IsValidWalletAddress(recipient) {
		return nil, &payments.ValidationError{Field: "recipient", Message: "is not a wallet address"}
	}
	if !req.Amount.IsPositive() {
		return nil, &payments.ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	triggerAt, err := ParseTriggerTime(req.TriggerAt, s.location)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !triggerAt.After(now) {
		return nil, &payments.ValidationError{Field: "triggerAt", Message: "trigger time must be in the future"}
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = DefaultDescription
	}

	task := &Task{
		Recipient:   recipient,
		Amount:      req.Amount,
		Description: description,
		TriggerAt:   triggerAt,
		State:       StatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// Ids only carry 16 random bits per millisecond.
	for attempt := 0; attempt < 3; attempt++ {
		task.ID = idgen.TaskID(now)
		err = s.store.Create(ctx, task)
		if !errors.Is(err, ErrTaskExists) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	logging.L(ctx).Info("payment scheduled",
		"task_id", task.ID,
		"recipient", task.Recipient,
		"amount", task.Amount.String(),
		"trigger_at", task.TriggerAt.In(s.location).Format(time.RFC3339),
	)
	return task, nil
}

// ParseTriggerTime accepts RFC 3339 timestamps and the offset-less forms
// "2006-01-02T15:04[:05]" and "2006-01-02 15:04[:05]" read in loc.
func ParseTriggerTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, &payments.ValidationError{Field: "triggerAt", Message: "is required"}
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &payments.ValidationError{
		Field:   "triggerAt",
		Message: "must be RFC 3339 or YYYY-MM-DDTHH:MM[:SS]",
	}
}

// List returns every task in creation order.
func (s *Service) List(ctx context.Context) ([]*Task, error) {
	return s.store.List(ctx)
}

// Get returns one task.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	return s.store.Get(ctx, id)
}

// Cancel deletes a task that has not fired yet.
func (s *Service) Cancel(ctx context.Context, id string) error {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	task, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if task.State != StatePending {
		return ErrInvalidState
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	logging.L(ctx).Info("scheduled payment cancelled", "task_id", id)
	return nil
}

// PendingApprovals lists tasks whose grant waits for the user.
func (s *Service) PendingApprovals(ctx context.Context) ([]PendingApproval, error) {
	tasks, err := s.store.ListByState(ctx, StateAwaitingApproval)
	if err != nil {
		return nil, err
	}
	approvals := make([]PendingApproval, len(tasks))
	for i, t := range tasks {
		approvals[i] = PendingApproval{
			TaskID:           t.ID,
			Description:      t.Description,
			Amount:           t.Amount,
			Recipient:        t.Recipient,
			AuthorizationURL: t.AuthorizationURL,
			GeneratedAt:      t.GrantGeneratedAt,
		}
	}
	return approvals, nil
}

// FinalizeScheduled completes the payment of a task awaiting approval.
// While the grant is unapproved it returns payments.ErrGrantNotFinalized
// and the task keeps waiting.
func (s *Service) FinalizeScheduled(ctx context.Context, id string) (_ *openpayments.OutgoingPayment, _ *Task, err error) {
	ctx, span := traces.StartSpan(ctx, "scheduler.FinalizeScheduled", traces.TaskID(id))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	task, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if task.State != StateAwaitingApproval {
		return nil, nil, ErrInvalidState
	}

	out, err := s.payments.FinalizeTask(ctx, task.ID)
	switch {
	case err == nil:
	case errors.Is(err, payments.ErrSessionNotFound):
		// The grant session is gone (e.g. a restart with in-memory
		// sessions), so this task can never complete.
		s.fail(ctx, task, "grant session lost before approval")
		return nil, task, err
	default:
		return nil, task, err
	}

	if err := task.Transition(StateCompleted); err != nil {
		return nil, nil, err
	}
	now := s.now()
	task.OutgoingPaymentID = out.ID
	task.CompletedAt = &now
	task.UpdatedAt = now
	if err := s.store.Update(ctx, task); err != nil {
		// The payment went out, so report it even if bookkeeping failed.
		logging.L(ctx).Error("failed to mark scheduled task completed",
			"task_id", task.ID, "outgoing_payment", out.ID, "error", err)
	}

	logging.L(ctx).Info("scheduled payment completed", "task_id", task.ID, "outgoing_payment", out.ID)
	if s.events != nil {
		s.events.TaskCompleted(ctx, task)
	}
	return out, task, nil
}

// ProcessDue initiates every pending task whose trigger time has passed.
// A failing task is marked error and never stops the others.
func (s *Service) ProcessDue(ctx context.Context, now time.Time) (TickResult, error) {
	metrics.SchedulerTicksTotal.Inc()

	var result TickResult
	tasks, err := s.store.ListByState(ctx, StatePending)
	if err != nil {
		return result, err
	}

	for _, t := range tasks {
		if !t.Due(now) {
			continue
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Due++
		fired, err := s.trigger(ctx, t.ID, now)
		switch {
		case err != nil:
			result.Failed++
		case fired:
			result.Triggered++
		}
	}
	return result, nil
}

// trigger initiates one task under its lock. It reports false when the task
// was already handled by someone else.
func (s *Service) trigger(ctx context.Context, id string, now time.Time) (_ bool, err error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	task, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !task.Due(now) {
		return false, nil
	}

	ctx, span := traces.StartSpan(ctx, "scheduler.Trigger",
		traces.TaskID(id),
		traces.Amount(task.Amount.String()),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// A session left behind by an earlier tick whose task update failed is
	// adopted. Initiating again would replace it with a second grant.
	existing, err := s.payments.TaskSession(ctx, id)
	switch {
	case err == nil:
		logging.L(ctx).Warn("adopting existing grant session for scheduled payment", "task_id", id)
		return true, s.markAwaitingApproval(ctx, task, existing.AuthorizationURL)
	case !errors.Is(err, payments.ErrSessionNotFound):
		return false, err
	}

	init, err := s.payments.InitiateTask(ctx, id, payments.InitiateRequest{
		Amount:    task.Amount,
		Recipient: task.Recipient,
		Concept:   task.Description,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted (shutdown), not failed: the next tick retries.
			logging.L(ctx).Warn("scheduled payment initiation interrupted, task stays pending",
				"task_id", id, "error", err)
			return false, err
		}
		metrics.ScheduledTasksTriggeredTotal.WithLabelValues(string(StateError)).Inc()
		logging.L(ctx).Warn("scheduled payment initiation failed", "task_id", id, "error", err)
		s.fail(ctx, task, err.Error())
		return true, err
	}

	return true, s.markAwaitingApproval(ctx, task, init.AuthorizationURL)
}

// markAwaitingApproval records the generated grant on task. The caller holds
// the task lock. The write is retried and survives cancellation of ctx; if
// it still fails, the stored session lets the next tick adopt the grant.
func (s *Service) markAwaitingApproval(ctx context.Context, task *Task, authorizationURL string) error {
	if err := task.Transition(StateAwaitingApproval); err != nil {
		return err
	}
	generated := s.now()
	task.GrantGenerated = true
	task.AuthorizationURL = authorizationURL
	task.GrantGeneratedAt = &generated
	task.UpdatedAt = generated

	writeCtx := context.WithoutCancel(ctx)
	if err := retry.Do(writeCtx, s.updateRetry, func() error {
		return s.store.Update(writeCtx, task)
	}); err != nil {
		logging.L(ctx).Error("failed to mark scheduled task awaiting approval",
			"task_id", task.ID, "error", err)
		return err
	}

	metrics.ScheduledTasksTriggeredTotal.WithLabelValues(string(StateAwaitingApproval)).Inc()
	logging.L(ctx).Info("scheduled payment awaiting approval",
		"task_id", task.ID, "authorization_url", authorizationURL)
	if s.events != nil {
		s.events.TaskAwaitingApproval(ctx, task)
	}
	return nil
}

// fail moves task to the error state. The caller holds the task lock.
func (s *Service) fail(ctx context.Context, task *Task, detail string) {
	if err := task.Transition(StateError); err != nil {
		return
	}
	task.ErrorDetail = detail
	task.UpdatedAt = s.now()
	if err := s.store.Update(ctx, task); err != nil {
		logging.L(ctx).Error("failed to mark scheduled task failed", "task_id", task.ID, "error", err)
		return
	}
	if s.events != nil {
		s.events.TaskFailed(ctx, task)
	}
}
