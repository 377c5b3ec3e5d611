package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// BreakerState is the circuit breaker's position in its state machine.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// BreakerConfig holds the trip threshold and open duration.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// Breaker is a Closed -> Open -> HalfOpen -> Closed circuit breaker around a
// failing dependency. Only *domain.TransientIOError counts as a failure; any
// other outcome proves the dependency answered and counts as success.
type Breaker struct {
	name     string
	cfg      BreakerConfig
	now      func() time.Time
	onChange func(name string, from, to BreakerState)
	logger   *slog.Logger

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock injects the clock used for the cooldown.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a callback fired on every transition.
func WithStateChange(fn func(name string, from, to BreakerState)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// NewBreaker creates a closed breaker. A threshold below 1 is treated as 1.
func NewBreaker(name string, cfg BreakerConfig, logger *slog.Logger, opts ...BreakerOption) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "breaker"), slog.String("breaker", name)),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name returns the breaker's label.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving Open to HalfOpen once the cooldown
// has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.cfg.Cooldown)) {
		return StateHalfOpen
	}
	return b.state
}

// ReopenAt returns when an open breaker will admit a probe. The zero time is
// returned when the breaker is not open.
func (b *Breaker) ReopenAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return time.Time{}
	}
	return b.openedAt.Add(b.cfg.Cooldown)
}

// Allow reports whether a call may proceed. In HalfOpen exactly one probe is
// admitted until its outcome is recorded.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Before(b.openedAt.Add(b.cfg.Cooldown)) {
			return fmt.Errorf("breaker %s: %w", b.name, domain.ErrCircuitOpen)
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return fmt.Errorf("breaker %s: probe in flight: %w", b.name, domain.ErrCircuitOpen)
		}
		b.probing = true
		return nil
	}
	return nil
}

// Record feeds a call outcome into the state machine.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Abandoned calls say nothing about the dependency.
		b.probing = false
		return
	}

	if domain.IsTransient(err) {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.probing = false
			if b.state != StateOpen {
				b.transition(StateOpen)
			}
		}
		return
	}

	b.failures = 0
	b.probing = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// Do runs fn through the breaker.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.Record(err)
	return err
}

// transition must be called with mu held.
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	lvl := slog.LevelInfo
	if to == StateOpen {
		lvl = slog.LevelWarn
	}
	b.logger.Log(context.Background(), lvl, "breaker state change",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Int("failures", b.failures),
	)
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// Call runs fn through b and returns its value.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
