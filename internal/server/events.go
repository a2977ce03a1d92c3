package server

import (
	"context"

	"github.com/mbd888/interpay/internal/openpayments"
	"github.com/mbd888/interpay/internal/payments"
	"github.com/mbd888/interpay/internal/scheduler"
)

// eventFanout forwards lifecycle events to each sink in order. A sink gets
// payment events if it is a payments.EventPublisher and task events if it
// is a scheduler.EventPublisher.
type eventFanout []any

var (
	_ payments.EventPublisher  = eventFanout(nil)
	_ scheduler.EventPublisher = eventFanout(nil)
)

func (f eventFanout) PaymentInitiated(ctx context.Context, s *payments.Session) {
	for _, sink := range f {
		if p, ok := sink.(payments.EventPublisher); ok {
			p.PaymentInitiated(ctx, s)
		}
	}
}

func (f eventFanout) PaymentCompleted(ctx context.Context, s *payments.Session, out *openpayments.OutgoingPayment) {
	for _, sink := range f {
		if p, ok := sink.(payments.EventPublisher); ok {
			p.PaymentCompleted(ctx, s, out)
		}
	}
}

func (f eventFanout) TaskAwaitingApproval(ctx context.Context, task *scheduler.Task) {
	for _, sink := range f {
		if p, ok := sink.(scheduler.EventPublisher); ok {
			p.TaskAwaitingApproval(ctx, task)
		}
	}
}

func (f eventFanout) TaskCompleted(ctx context.Context, task *scheduler.Task) {
	for _, sink := range f {
		if p, ok := sink.(scheduler.EventPublisher); ok {
			p.TaskCompleted(ctx, task)
		}
	}
}

func (f eventFanout) TaskFailed(ctx context.Context, task *scheduler.Task) {
	for _, sink := range f {
		if p, ok := sink.(scheduler.EventPublisher); ok {
			p.TaskFailed(ctx, task)
		}
	}
}
