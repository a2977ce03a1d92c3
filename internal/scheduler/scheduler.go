// Package scheduler runs payments at a future time.
//
// Flow:
//  1. Caller schedules a task → state pending
//  2. Timer tick after TriggerAt → payment initiated with the task id as
//     session key → state awaiting_approval (or error)
//  3. User approves the grant, caller finalizes → state completed
//
// A task initiates at most once. There is no automatic retry.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/interpay/internal/openpayments"
	"github.com/mbd888/interpay/internal/payments"
)

var (
	ErrTaskNotFound      = errors.New("scheduled task not found")
	ErrTaskExists        = errors.New("scheduled task already exists")
	ErrInvalidState      = errors.New("invalid task state for this operation")
	ErrInvalidTransition = errors.New("invalid task state transition")
)

// DefaultDescription is used when a task is scheduled without one.
const DefaultDescription = "Pago programado"

// State represents the lifecycle of a scheduled task.
type State string

const (
	StatePending          State = "pending"           // Waiting for its trigger time
	StateAwaitingApproval State = "awaiting_approval" // Grant requested, user must approve
	StateCompleted        State = "completed"         // Outgoing payment created
	StateError            State = "error"             // Initiation failed
)

// transitions lists the allowed forward moves. States never go back.
var transitions = map[State][]State{
	StatePending:          {StateAwaitingApproval, StateError},
	StateAwaitingApproval: {StateCompleted, StateError},
}

// Task is a payment scheduled for a future time.
type Task struct {
	ID                string          `json:"id"`
	Recipient         string          `json:"recipient"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description"`
	TriggerAt         time.Time       `json:"triggerAt"`
	State             State           `json:"state"`
	GrantGenerated    bool            `json:"grantGenerated"`
	AuthorizationURL  string          `json:"authorizationUrl,omitempty"`
	GrantGeneratedAt  *time.Time      `json:"grantGeneratedAt,omitempty"`
	OutgoingPaymentID string          `json:"outgoingPaymentId,omitempty"`
	ErrorDetail       string          `json:"error,omitempty"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Transition moves the task to state to, or returns ErrInvalidTransition.
func (t *Task) Transition(to State) error {
	for _, allowed := range transitions[t.State] {
		if allowed == to {
			t.State = to
			return nil
		}
	}
	return ErrInvalidTransition
}

// Due reports whether the task should be initiated at now.
func (t *Task) Due(now time.Time) bool {
	return t.State == StatePending && !t.GrantGenerated && !now.Before(t.TriggerAt)
}

// IsTerminal returns true if the task will not change again.
func (t *Task) IsTerminal() bool {
	return t.State == StateCompleted || t.State == StateError
}

// Store persists scheduled tasks.
type Store interface {
	// Create returns ErrTaskExists when the id is taken.
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Update(ctx context.Context, task *Task) error
	Delete(ctx context.Context, id string) error
	// List returns every task in creation order.
	List(ctx context.Context) ([]*Task, error)
	ListByState(ctx context.Context, state State) ([]*Task, error)
}

// PaymentOrchestrator abstracts the payment flow so scheduler tests can
// swap it out.
type PaymentOrchestrator interface {
	InitiateTask(ctx context.Context, taskID string, req payments.InitiateRequest) (*payments.Initiation, error)
	FinalizeTask(ctx context.Context, taskID string) (*openpayments.OutgoingPayment, error)
	// TaskSession returns payments.ErrSessionNotFound when the task has no
	// pending session.
	TaskSession(ctx context.Context, taskID string) (*payments.PendingSession, error)
}

// EventPublisher receives task lifecycle events.
type EventPublisher interface {
	TaskAwaitingApproval(ctx context.Context, task *Task)
	TaskCompleted(ctx context.Context, task *Task)
	TaskFailed(ctx context.Context, task *Task)
}

// ScheduleRequest contains the parameters for scheduling a payment.
// TriggerAt is parsed in the service's time zone unless it carries an
// offset.
type ScheduleRequest struct {
	Recipient   string          `json:"recipient"`
	Amount      decimal.Decimal `json:"amount"`
	TriggerAt   string          `json:"triggerAt"`
	Description string          `json:"description,omitempty"`
}

// PendingApproval is a task whose grant waits for the user.
type PendingApproval struct {
	TaskID           string          `json:"taskId"`
	Description      string          `json:"description"`
	Amount           decimal.Decimal `json:"amount"`
	Recipient        string          `json:"recipient"`
	AuthorizationURL string          `json:"authorizationUrl"`
	GeneratedAt      *time.Time      `json:"generatedAt,omitempty"`
}

// TickResult summarizes one pass over pending tasks.
type TickResult struct {
	Due       int
	Triggered int
	Failed    int
}
