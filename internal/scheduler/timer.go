package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultInterval is how often the timer looks for due tasks.
const DefaultInterval = 60 * time.Second

// Timer periodically initiates due scheduled payments.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new scheduler timer. interval <= 0 uses
// DefaultInterval.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the tick loop. Call in a goroutine. Ticks run one at a time
// on this goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info("scheduler started", "interval", t.interval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeTick(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in scheduler tick", "panic", fmt.Sprint(r))
		}
	}()
	t.tick(ctx)
}

func (t *Timer) tick(ctx context.Context) {
	now := t.service.now()
	result, err := t.service.ProcessDue(ctx, now)
	if err != nil {
		t.logger.Warn("scheduler tick failed", "error", err)
		return
	}
	if result.Due == 0 {
		t.logger.Debug("scheduler tick", "due", 0)
		return
	}
	t.logger.Info("scheduler tick",
		"due", result.Due,
		"triggered", result.Triggered,
		"failed", result.Failed,
	)
}
