// Package circuitbreaker stops calling a failing destination for a while.
//
// A breaker starts Closed. After Threshold consecutive failures it opens and
// rejects calls until Cooldown has passed; then it lets a single probe through
// (HalfOpen). The probe's result closes or reopens it.
package circuitbreaker

import (
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds breaker settings. Zero values use defaults.
type Config struct {
	Threshold int           // consecutive failures before opening (default: 5)
	Cooldown  time.Duration // time open before a probe is allowed (default: 30s)

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(from, to State)

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	State    State
	Failures int
	OpenedAt time.Time // zero unless Open or HalfOpen
}

// Breaker guards one destination. It is safe for concurrent use.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Allow reports whether a call may be attempted now. In HalfOpen only one
// caller gets true until that call's result is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	var changed func()
	allowed := false

	switch b.state {
	case Closed:
		allowed = true
	case Open:
		if b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
			changed = b.transition(HalfOpen)
			b.probing = true
			allowed = true
		}
	case HalfOpen:
		if !b.probing {
			b.probing = true
			allowed = true
		}
	}
	b.mu.Unlock()

	if changed != nil {
		changed()
	}
	return allowed
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.probing = false
	changed := b.transition(Closed)
	b.mu.Unlock()
	changed()
}

// RecordFailure counts a failure. A failed probe reopens the breaker at once.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.failures++
	changed := func() {}
	if b.state == HalfOpen || (b.state == Closed && b.failures >= b.cfg.Threshold) {
		b.openedAt = b.cfg.Now()
		changed = b.transition(Open)
	}
	b.probing = false
	b.mu.Unlock()
	changed()
}

// State returns the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current state and counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{State: b.state, Failures: b.failures}
	if b.state != Closed {
		s.OpenedAt = b.openedAt
	}
	return s
}

// transition sets the state with b.mu held and returns the notification to
// run once the lock is released.
func (b *Breaker) transition(to State) func() {
	from := b.state
	b.state = to
	if from == to || b.cfg.OnStateChange == nil {
		return func() {}
	}
	onChange := b.cfg.OnStateChange
	return func() { onChange(from, to) }
}
