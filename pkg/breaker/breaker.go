// Package breaker implements a named circuit breaker guarding calls to a
// single external dependency. Persistent failures open the circuit so the
// dependency stops receiving load; after a cooldown the breaker lets one
// trial call through to probe for recovery.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State identifies the breaker's position in its recovery cycle.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// OpenError is returned when the breaker rejects a call without running the
// wrapped operation. Any error produced by the operation itself is returned
// unchanged so callers can still distinguish failure causes.
type OpenError struct {
	Name  string
	State State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is %s: call rejected", e.Name, e.State)
}

// Snapshot is a read-only view of breaker state for dashboards.
type Snapshot struct {
	Name             string     `json:"name"`
	State            State      `json:"state"`
	FailureCount     int        `json:"failure_count"`
	FailureThreshold int        `json:"failure_threshold"`
	LastFailureTime  *time.Time `json:"last_failure_time"`
}

// Breaker guards calls to one external dependency. A single instance is
// shared by every caller of that dependency; all state access is serialized
// internally.
type Breaker struct {
	name             string
	failureThreshold int
	timeout          time.Duration
	// recoveryTimeout is accepted for configuration compatibility but the
	// open->half_open gate currently uses timeout for both durations.
	recoveryTimeout time.Duration
	now             func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

// Option customizes breaker construction.
type Option func(*Breaker)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New constructs a closed breaker. A threshold below one is clamped to one.
func New(name string, failureThreshold int, timeout, recoveryTimeout time.Duration, opts ...Option) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	b := &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		timeout:          timeout,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker's identity used in error messages.
func (b *Breaker) Name() string { return b.name }

// Call runs op under the breaker. While open and inside the cooldown it
// returns *OpenError without invoking op; once the cooldown has elapsed the
// next call becomes a half-open trial. When op does run, its error is
// returned unchanged.
func (b *Breaker) Call(ctx context.Context, op func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := op(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	if b.lastFailure.IsZero() || b.now().Sub(b.lastFailure) >= b.timeout {
		b.state = StateHalfOpen
		return nil
	}
	return &OpenError{Name: b.name, State: b.state}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.lastFailure = time.Time{}
		b.state = StateClosed
		return
	}

	b.failures++
	b.lastFailure = b.now()
	if b.state == StateHalfOpen {
		b.state = StateOpen
		return
	}
	if b.failures >= b.failureThreshold {
		b.state = StateOpen
	}
}

// Reset unconditionally returns the breaker to closed with zero failures.
// Operator escape hatch; has no effect on the guarded dependency.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.lastFailure = time.Time{}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns an observability view without mutating state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Name:             b.name,
		State:            b.state,
		FailureCount:     b.failures,
		FailureThreshold: b.failureThreshold,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailureTime = &t
	}
	return s
}
