// Package circuitbreaker stops calling a dependency that keeps failing and
// tries it again after a cooldown. It guards optional dependencies such as
// the Redis ledger cache, where skipping the call is always a valid outcome.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of the breaker.
type State int

const (
	// StateClosed - calls go through.
	StateClosed State = iota
	// StateOpen - calls are rejected until the cooldown passes.
	StateOpen
	// StateHalfOpen - one trial call decides whether to close again.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned instead of calling the dependency.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker configuration.
type Config struct {
	// Name - shows up in state change callbacks.
	Name string

	// FailureThreshold - consecutive failures that open the breaker (default 5).
	FailureThreshold int

	// Cooldown - time spent open before a trial call is allowed (default 30s).
	Cooldown time.Duration

	// IsFailure decides which errors count. Nil counts every non-nil error
	// except context cancellation.
	IsFailure func(error) bool

	// OnStateChange is called with the lock held; keep it short.
	OnStateChange func(name string, from, to State)

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Counts are lifetime totals.
type Counts struct {
	Successes int64
	Failures  int64
	Rejected  int64
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	consecutive int
	openedAt    time.Time
	probing     bool
	counts      Counts
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Execute calls fn unless the breaker is open, and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(trial, err)
	return err
}

func (b *Breaker) allow() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.cfg.Clock().Sub(b.openedAt) < b.cfg.Cooldown {
			b.counts.Rejected++
			return false, ErrOpen
		}
		b.setState(StateHalfOpen)
	}

	// Half-open: a single trial call at a time.
	if b.probing {
		b.counts.Rejected++
		return false, ErrOpen
	}
	b.probing = true
	return true, nil
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.probing = false
	}

	if !b.cfg.IsFailure(err) {
		b.counts.Successes++
		b.consecutive = 0
		if b.state == StateHalfOpen {
			b.setState(StateClosed)
		}
		return
	}

	b.counts.Failures++
	b.consecutive++
	if b.state == StateHalfOpen || b.consecutive >= b.cfg.FailureThreshold {
		b.openedAt = b.cfg.Clock()
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to == StateClosed {
		b.consecutive = 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cooldown has passed
// still reports open until the next call tries it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns the lifetime totals.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.cfg.Name }
