// Package breaker implements a three-state circuit breaker keyed by
// resource name, used to isolate LLM endpoint, MCP server, and agent
// step failures from each other (spec §4.2).
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebongard/renfield/internal/clockcfg"
)

// State is the circuit breaker's current state.
type State int

const (
	StateClosed State = iota
	StateOpen
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

// Config defines breaker behavior for one resource.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	OnStateChange    func(resource string, from, to State)
}

// DefaultConfig returns the default thresholds: CLOSED opens after 3
// consecutive failures, and HALF_OPEN closes on any single success
// (SuccessThreshold 1), per spec §4.2.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}
}

// ErrOpen is returned by Execute when the breaker is open and the
// recovery timeout has not yet elapsed.
type ErrOpen struct {
	Resource      string
	FailureCount  int
	TimeRemaining time.Duration
}

func (e *ErrOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for %q: %d consecutive failures, retry after %v",
		e.Resource, e.FailureCount, e.TimeRemaining)
}

// Breaker is a single resource-keyed circuit breaker.
type Breaker struct {
	resource string
	clock    clockcfg.Clock
	log      *slog.Logger

	mu               sync.RWMutex
	state            State
	failureCount     int
	successCount     int
	consecutiveOpens int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	lastErr          error
	cfg              Config
}

// New creates a breaker for resource, using clock for all time checks.
func New(resource string, cfg Config, clock clockcfg.Clock, log *slog.Logger) *Breaker {
	if clock == nil {
		clock = clockcfg.SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{
		resource:        resource,
		clock:           clock,
		log:             log,
		cfg:             cfg,
		lastStateChange: clock.Now(),
	}
}

// Execute runs operation, counting errors toward the threshold.
func (b *Breaker) Execute(ctx context.Context, operation func(context.Context) error) error {
	return b.execute(ctx, operation, false)
}

// ExecuteValidation runs operation but never counts its error toward
// the threshold, for pre-flight checks expected to fail sometimes
// (e.g. schema validation before a repair retry in the LLM Gateway).
func (b *Breaker) ExecuteValidation(ctx context.Context, operation func(context.Context) error) error {
	return b.execute(ctx, operation, true)
}

func (b *Breaker) execute(ctx context.Context, operation func(context.Context) error, isValidation bool) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}
	err := operation(ctx)
	b.afterRequest(err, isValidation)
	return err
}

func (b *Breaker) beforeRequest() error {
	b.mu.RLock()
	state := b.state
	lastFailure := b.lastFailureTime
	b.mu.RUnlock()

	switch state {
	case StateClosed:
		return nil
	case StateOpen:
		timeout := b.calculateTimeout()
		elapsed := b.clock.Now().Sub(lastFailure)
		if elapsed >= timeout {
			b.setState(StateHalfOpen)
			b.log.Info("circuit_breaker.half_open", "resource", b.resource, "elapsed", elapsed)
			return nil
		}
		return &ErrOpen{Resource: b.resource, FailureCount: b.cfg.FailureThreshold, TimeRemaining: timeout - elapsed}
	case StateHalfOpen:
		return nil
	default:
		return fmt.Errorf("breaker: unknown state %v", state)
	}
}

func (b *Breaker) afterRequest(err error, isValidation bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.onSuccess()
		return
	}
	if isValidation {
		b.log.Debug("circuit_breaker.validation_error", "resource", b.resource, "error", err)
		return
	}
	b.onFailure(err)
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		if b.failureCount > 0 {
			b.failureCount = 0
		}
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.failureCount = 0
			b.successCount = 0
			b.consecutiveOpens = 0
			b.setStateLocked(StateClosed)
			b.log.Info("circuit_breaker.closed", "resource", b.resource, "reason", "success_threshold_reached")
		}
	}
}

func (b *Breaker) onFailure(err error) {
	b.failureCount++
	b.lastFailureTime = b.clock.Now()
	b.lastErr = err

	switch b.state {
	case StateClosed:
		b.log.Warn("circuit_breaker.failure", "resource", b.resource, "failure_count", b.failureCount, "threshold", b.cfg.FailureThreshold, "error", err)
		if b.failureCount >= b.cfg.FailureThreshold {
			b.consecutiveOpens++
			b.setStateLocked(StateOpen)
			b.log.Error("circuit_breaker.opened", "resource", b.resource, "consecutive_opens", b.consecutiveOpens, "timeout", b.calculateTimeoutLocked())
		}
	case StateHalfOpen:
		b.consecutiveOpens++
		b.setStateLocked(StateOpen)
		b.successCount = 0
		b.log.Warn("circuit_breaker.reopened", "resource", b.resource, "error", err)
	}
}

func (b *Breaker) setState(newState State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setStateLocked(newState)
}

func (b *Breaker) setStateLocked(newState State) {
	if b.state == newState {
		return
	}
	old := b.state
	b.state = newState
	b.lastStateChange = b.clock.Now()
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.resource, old, newState)
	}
}

// State returns the current state (thread-safe).
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats snapshots the breaker's counters.
type Stats struct {
	Resource         string
	State            State
	FailureCount     int
	SuccessCount     int
	ConsecutiveOpens int
	LastFailureTime  time.Time
	LastStateChange  time.Time
	LastError        error
}

func (b *Breaker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Resource:         b.resource,
		State:            b.state,
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		ConsecutiveOpens: b.consecutiveOpens,
		LastFailureTime:  b.lastFailureTime,
		LastStateChange:  b.lastStateChange,
		LastError:        b.lastErr,
	}
}

// Reset forces the breaker back to closed, discarding backoff state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.consecutiveOpens = 0
	b.lastFailureTime = time.Time{}
	b.lastStateChange = b.clock.Now()
	if b.cfg.OnStateChange != nil && old != StateClosed {
		b.cfg.OnStateChange(b.resource, old, StateClosed)
	}
}

func (b *Breaker) calculateTimeout() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.calculateTimeoutLocked()
}

// calculateTimeoutLocked scales the base timeout exponentially with
// consecutive opens, capped at 60s, caller must hold the lock.
func (b *Breaker) calculateTimeoutLocked() time.Duration {
	if b.consecutiveOpens <= 0 {
		return b.cfg.Timeout
	}
	delay := b.cfg.Timeout * (1 << uint(b.consecutiveOpens-1))
	const maxDelay = 60 * time.Second
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
