package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/interpay/internal/idgen"
	"github.com/mbd888/interpay/internal/openpayments"
	"github.com/mbd888/interpay/internal/payments"
	"github.com/mbd888/interpay/internal/scheduler"
)

// Emitter turns payment and task lifecycle callbacks into webhook events.
// All methods are fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ payments.EventPublisher  = (*Emitter)(nil)
	_ scheduler.EventPublisher = (*Emitter)(nil)
)

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{d: d, logger: logger, now: time.Now}
}

func (e *Emitter) emit(ctx context.Context, eventType EventType, data any) {
	if e == nil || e.d == nil {
		return
	}
	event := &Event{
		ID:        "evt_" + idgen.Hex(12),
		Type:      eventType,
		Timestamp: e.now().UTC(),
		Data:      data,
	}
	if err := e.d.Dispatch(ctx, event); err != nil {
		e.logger.Warn("webhook emit failed", "event", eventType, "error", err)
	}
}

// PaymentInitiated emits payment.initiated with the pending session.
func (e *Emitter) PaymentInitiated(ctx context.Context, s *payments.Session) {
	e.emit(ctx, EventPaymentInitiated, s.View())
}

// PaymentCompleted emits payment.completed with the session and the
// outgoing payment it produced.
func (e *Emitter) PaymentCompleted(ctx context.Context, s *payments.Session, out *openpayments.OutgoingPayment) {
	e.emit(ctx, EventPaymentCompleted, map[string]any{
		"session":         s.View(),
		"outgoingPayment": out,
	})
}

// TaskAwaitingApproval emits task.awaiting_approval.
func (e *Emitter) TaskAwaitingApproval(ctx context.Context, task *scheduler.Task) {
	e.emit(ctx, EventTaskAwaitingApproval, task)
}

// TaskCompleted emits task.completed.
func (e *Emitter) TaskCompleted(ctx context.Context, task *scheduler.Task) {
	e.emit(ctx, EventTaskCompleted, task)
}

// TaskFailed emits task.failed.
func (e *Emitter) TaskFailed(ctx context.Context, task *scheduler.Task) {
	e.emit(ctx, EventTaskFailed, task)
}
