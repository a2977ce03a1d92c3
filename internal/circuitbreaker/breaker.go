// Package circuitbreaker short-circuits calls to upstream hosts that keep
// failing. Each host moves closed → open → half-open independently.
package circuitbreaker

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit state of one host.
type State int

const (
	StateClosed   State = iota // calls flow through
	StateOpen                  // calls are rejected
	StateHalfOpen              // one probe call is in flight
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "interpay",
	Subsystem: "upstream",
	Name:      "circuit_transitions_total",
	Help:      "Upstream circuit state transitions by host, from-state, and to-state.",
}, []string{"host", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(transitionsTotal)
}

type entry struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks consecutive failures per host. After threshold failures
// the host is open for cooldown, then one probe is let through.
type Breaker struct {
	mu           sync.Mutex
	entries      map[string]*entry
	threshold    int
	cooldown     time.Duration
	now          func() time.Time
	onTransition func(host string, from, to State)
}

// New creates a breaker that opens after threshold consecutive failures and
// probes again after cooldown.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		entries:   make(map[string]*entry),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
	return b
}

// OnTransition sets a callback invoked asynchronously on state changes.
func (b *Breaker) OnTransition(fn func(host string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Allow reports whether a call to host may proceed.
func (b *Breaker) Allow(host string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[host]
	if !ok {
		return true
	}

	switch e.state {
	case StateOpen:
		if b.now().Sub(e.lastFailure) >= b.cooldown {
			b.transition(e, host, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[host]
	if !ok {
		return
	}
	if e.state != StateClosed {
		b.transition(e, host, StateClosed)
	}
	e.failures = 0
}

// RecordFailure counts a failure and opens the circuit when the threshold
// is reached. A failed probe reopens immediately.
func (b *Breaker) RecordFailure(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[host]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[host] = e
	}

	e.failures++
	e.lastFailure = b.now()

	switch {
	case e.state == StateHalfOpen:
		b.transition(e, host, StateOpen)
	case e.state == StateClosed && e.failures >= b.threshold:
		b.transition(e, host, StateOpen)
	}
}

// State returns the state for host. Unknown hosts are closed.
func (b *Breaker) State(host string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[host]; ok {
		return e.state
	}
	return StateClosed
}

// OpenHosts lists hosts whose circuit is not closed, sorted.
func (b *Breaker) OpenHosts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var hosts []string
	for host, e := range b.entries {
		if e.state != StateClosed {
			hosts = append(hosts, host)
		}
	}
	sort.Strings(hosts)
	return hosts
}

// transition must be called with b.mu held.
func (b *Breaker) transition(e *entry, host string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	transitionsTotal.WithLabelValues(host, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(host, from, to)
	}
}
