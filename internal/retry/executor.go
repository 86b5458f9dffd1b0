// Package retry wraps remote calls with a hard timeout, bounded retries,
// and exponential backoff, while tracking in-flight operations for
// observability and cancellation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrTimeout is returned when an operation's cumulative duration exceeds
// the configured ceiling.
var ErrTimeout = errors.New("operation timed out")

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error as not worth retrying. Do returns it
// immediately, unwrapped, with no further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Defaults applied when Config fields are zero.
const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 30 * time.Second
	DefaultTimeout    = 5 * time.Minute
)

// OpType classifies a retried operation.
type OpType string

const (
	OpPull   OpType = "pull"
	OpPush   OpType = "push"
	OpUpsert OpType = "upsert"
)

// Config controls the retry schedule.
type Config struct {
	MaxRetries int // total attempts
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Timeout    time.Duration // cumulative ceiling per logical operation
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Operation is the ephemeral state of one in-flight retried call.
type Operation struct {
	ID        string
	Type      OpType
	Retries   int
	StartTime time.Time
	LastError string

	cancel context.CancelFunc
}

// Stats is a snapshot of executor state for observability.
type Stats struct {
	Active     int         `json:"active"`
	Operations []Operation `json:"operations"`
}

// Executor runs operations with timeout+retry+backoff.
type Executor struct {
	cfg   Config
	clock Clock

	mu     sync.Mutex
	active map[string]*Operation
}

// NewExecutor creates an executor with the given config and the system
// clock.
func NewExecutor(cfg Config) *Executor {
	return NewExecutorWithClock(cfg, SystemClock{})
}

// NewExecutorWithClock creates an executor with an injected clock.
func NewExecutorWithClock(cfg Config, clock Clock) *Executor {
	return &Executor{
		cfg:    cfg.withDefaults(),
		clock:  clock,
		active: make(map[string]*Operation),
	}
}

// Do runs fn with retries, tracking it under opID until it settles.
// The operation as a whole is bounded by the configured timeout; when the
// deadline wins the race the result is ErrTimeout regardless of how many
// attempts remain.
func (e *Executor) Do(ctx context.Context, opID string, typ OpType, fn func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	op := &Operation{
		ID:        opID,
		Type:      typ,
		StartTime: e.clock.Now(),
		cancel:    cancel,
	}

	e.mu.Lock()
	e.active[opID] = op
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.active, opID)
		e.mu.Unlock()
	}()

	plan := NewPlan(e.cfg.MaxRetries, e.cfg.BaseDelay, e.cfg.MaxDelay)

	var lastErr error
	for {
		lastErr = fn(opCtx)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if opCtx.Err() != nil {
			return e.settle(op, opCtx.Err(), lastErr)
		}

		e.mu.Lock()
		op.LastError = lastErr.Error()
		e.mu.Unlock()

		delay, again := plan.Next()
		if !again {
			break
		}

		e.mu.Lock()
		op.Retries = plan.Attempts()
		e.mu.Unlock()

		slog.Warn("operation failed, backing off",
			"component", "retry",
			"operation", opID,
			"type", typ,
			"attempt", plan.Attempts(),
			"delay", delay,
			"error", lastErr,
		)

		if err := e.clock.Sleep(opCtx, delay); err != nil {
			return e.settle(op, opCtx.Err(), lastErr)
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", opID, e.cfg.MaxRetries, lastErr)
}

// settle maps a context failure onto the operation's final error.
func (e *Executor) settle(op *Operation, ctxErr, lastErr error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w (last error: %v)", op.ID, ErrTimeout, lastErr)
	}
	if lastErr != nil {
		return fmt.Errorf("%s cancelled: %w", op.ID, lastErr)
	}
	return ctxErr
}

// Cancel aborts the in-flight operation with the given id.
// Returns false when no such operation is active.
func (e *Executor) Cancel(opID string) bool {
	e.mu.Lock()
	op, ok := e.active[opID]
	e.mu.Unlock()

	if !ok {
		return false
	}
	op.cancel()
	return true
}

// Stats returns a snapshot of in-flight operations.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	ops := make([]Operation, 0, len(e.active))
	for _, op := range e.active {
		ops = append(ops, *op)
	}
	return Stats{Active: len(ops), Operations: ops}
}
