// Package webhooks delivers payment and scheduled-task events to
// registered HTTP endpoints.
//
// Each delivery is a signed JSON POST. Receivers verify the
// X-Interpay-Signature header, which is HMAC-SHA256(body, secret) in hex.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mbd888/interpay/internal/metrics"
	"github.com/mbd888/interpay/internal/retry"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventPaymentInitiated     EventType = "payment.initiated"
	EventPaymentCompleted     EventType = "payment.completed"
	EventTaskAwaitingApproval EventType = "task.awaiting_approval"
	EventTaskCompleted        EventType = "task.completed"
	EventTaskFailed           EventType = "task.failed"
)

// KnownEvents lists every event a subscription may ask for.
var KnownEvents = []EventType{
	EventPaymentInitiated,
	EventPaymentCompleted,
	EventTaskAwaitingApproval,
	EventTaskCompleted,
	EventTaskFailed,
}

// IsKnown reports whether t is a supported event type.
func (t EventType) IsKnown() bool {
	for _, k := range KnownEvents {
		if k == t {
			return true
		}
	}
	return false
}

// MaxConsecutiveFailures disables a subscription after this many failed
// deliveries in a row.
const MaxConsecutiveFailures = 10

var ErrNotFound = errors.New("webhook not found")

// Event represents a webhook event
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Subscription represents a webhook subscription. An empty Events list
// receives every event.
type Subscription struct {
	ID                  string      `json:"id"`
	URL                 string      `json:"url"`
	Secret              string      `json:"-"` // HMAC signing key
	Events              []EventType `json:"events"`
	Active              bool        `json:"active"`
	CreatedAt           time.Time   `json:"createdAt"`
	LastSuccess         *time.Time  `json:"lastSuccess,omitempty"`
	LastError           string      `json:"lastError,omitempty"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
}

// Wants reports whether the subscription receives events of type t.
func (s *Subscription) Wants(t EventType) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, et := range s.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	// ListActive returns active subscriptions that want eventType.
	ListActive(ctx context.Context, eventType EventType) ([]*Subscription, error)
	// RecordResult stores the outcome of one delivery.
	RecordResult(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// Dispatcher sends webhook events
type Dispatcher struct {
	store        Store
	client       *http.Client
	urlValidator func(string) error
	policy       retry.Policy
	logger       *slog.Logger
	now          func() time.Time
	mu           sync.Mutex // serializes result bookkeeping per dispatcher
	wg           sync.WaitGroup
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		policy: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    5 * time.Second,
		},
		logger: logger,
		now:    time.Now,
	}
}

// WithURLValidator rejects delivery targets before any request is made.
func (d *Dispatcher) WithURLValidator(fn func(string) error) *Dispatcher {
	d.urlValidator = fn
	return d
}

// WithRetryPolicy replaces the delivery retry policy.
func (d *Dispatcher) WithRetryPolicy(p retry.Policy) *Dispatcher {
	d.policy = p
	return d
}

// ValidateURL applies the configured URL validator, if any.
func (d *Dispatcher) ValidateURL(rawURL string) error {
	if d.urlValidator == nil {
		return nil
	}
	return d.urlValidator(rawURL)
}

// Dispatch sends an event to all subscribers that want it. Deliveries run
// in the background; the payload is encoded before Dispatch returns.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.ListActive(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to get subscribers: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	deliveryCtx := context.WithoutCancel(ctx)
	for _, sub := range subs {
		d.wg.Add(1)
		go func(sub *Subscription) {
			defer d.wg.Done()
			d.deliver(deliveryCtx, sub, event, payload)
		}(sub)
	}
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, event *Event, payload []byte) {
	if err := d.ValidateURL(sub.URL); err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues(string(event.Type), "rejected").Inc()
		d.recordFailure(ctx, sub, fmt.Sprintf("url rejected: %v", err))
		return
	}

	err := retry.Do(ctx, d.policy, func() error {
		return d.send(ctx, sub, event, payload)
	})
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues(string(event.Type), "failed").Inc()
		d.recordFailure(ctx, sub, err.Error())
		return
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues(string(event.Type), "delivered").Inc()
	d.recordSuccess(ctx, sub)
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Interpay-Event", string(event.Type))
	req.Header.Set("X-Interpay-Delivery", event.ID)
	req.Header.Set("X-Interpay-Timestamp", strconv.FormatInt(event.Timestamp.Unix(), 10))

	if sub.Secret != "" {
		req.Header.Set("X-Interpay-Signature", Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) recordSuccess(ctx context.Context, sub *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	if err := d.store.RecordResult(ctx, sub); err != nil {
		d.logger.Warn("webhook result not stored", "webhook", sub.ID, "error", err)
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *Subscription, errMsg string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sub.LastError = errMsg
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= MaxConsecutiveFailures {
		sub.Active = false
		d.logger.Warn("webhook disabled after repeated failures",
			"webhook", sub.ID,
			"failures", sub.ConsecutiveFailures,
		)
	}
	if err := d.store.RecordResult(ctx, sub); err != nil {
		d.logger.Warn("webhook result not stored", "webhook", sub.ID, "error", err)
	}
}
