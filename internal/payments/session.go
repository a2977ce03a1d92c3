package payments

import (
	"context"
	"strings"
	"time"

	"github.com/mbd888/interpay/internal/openpayments"
)

// TaskKeyPrefix marks the sessions of scheduled tasks. Caller operations
// never create, read, finalize or cancel keys with this prefix.
const TaskKeyPrefix = "task:"

// TaskSessionKey is the session key of a scheduled task.
func TaskSessionKey(taskID string) string {
	return TaskKeyPrefix + taskID
}

// IsTaskSessionKey reports whether key belongs to a scheduled task.
func IsTaskSessionKey(key string) bool {
	return strings.HasPrefix(key, TaskKeyPrefix)
}

func checkCallerKey(key string) error {
	if IsTaskSessionKey(key) {
		return &ValidationError{Field: "sessionKey", Message: "must not start with " + TaskKeyPrefix}
	}
	return nil
}

// Session is the state kept between Initiate and Finalize. It holds only
// data so any store can persist it.
type Session struct {
	Key               string                     `json:"key"`
	ContinueURI       string                     `json:"continueUri"`
	ContinueToken     string                     `json:"continueToken"`
	AuthorizationURL  string                     `json:"authorizationUrl"`
	SendingWallet     openpayments.WalletAddress `json:"sendingWallet"`
	IncomingPaymentID string                     `json:"incomingPaymentId"`
	Quote             openpayments.Quote         `json:"quote"`
	Intent            Intent                     `json:"intent"`
	CreatedAt         time.Time                  `json:"createdAt"`
}

// View strips grant secrets from s.
func (s *Session) View() PendingSession {
	return PendingSession{
		SessionKey:       s.Key,
		AuthorizationURL: s.AuthorizationURL,
		Amount:           s.Intent.Amount,
		AssetCode:        s.Intent.AssetCode,
		Recipient:        s.Intent.RecipientWalletURL,
		Concept:          s.Intent.Concept,
		CauseID:          s.Intent.CauseID,
		Kind:             s.Intent.Kind,
		CreatedAt:        s.CreatedAt,
	}
}

// SessionStore persists pending grant sessions keyed by session key.
type SessionStore interface {
	// Put inserts or replaces the session under s.Key and reports whether
	// an existing session was replaced.
	Put(ctx context.Context, s *Session) (replaced bool, err error)
	Get(ctx context.Context, key string) (*Session, error)
	// Delete returns ErrSessionNotFound when nothing was stored under key.
	Delete(ctx context.Context, key string) error
	// List returns sessions oldest first.
	List(ctx context.Context) ([]*Session, error)
}
