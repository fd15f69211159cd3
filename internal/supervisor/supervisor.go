// Package supervisor drives batches of remote commands to completion, restarting
// the ones that fail.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/narvanalabs/benchctl/internal/clock"
	"github.com/narvanalabs/benchctl/internal/remote"
)

// RetryStrategy defines restart behavior.
type RetryStrategy struct {
	PollInterval    time.Duration `json:"poll_interval"`    // Wait timeout per handle per round
	MaxAttempts     int           `json:"max_attempts"`     // Total starts allowed per command
	BackoffDuration time.Duration `json:"backoff_duration"` // Delay before the first restart
	MaxBackoff      time.Duration `json:"max_backoff"`      // Ceiling for the doubled delay
}

// DefaultRetryStrategy returns the default retry strategy.
func DefaultRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		PollInterval:    100 * time.Millisecond,
		MaxAttempts:     5,
		BackoffDuration: time.Second,
		MaxBackoff:      30 * time.Second,
	}
}

// Supervisor polls command handles and restarts failures.
type Supervisor struct {
	strategy *RetryStrategy
	clock    clock.Clock
	logger   *slog.Logger
}

// Option is a functional option for configuring the Supervisor.
type Option func(*Supervisor)

// WithRetryStrategy sets a custom retry strategy.
func WithRetryStrategy(strategy *RetryStrategy) Option {
	return func(s *Supervisor) {
		s.strategy = strategy
	}
}

// WithClock sets the clock used for backoff.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// New creates a new supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		strategy: DefaultRetryStrategy(),
		clock:    clock.Real{},
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	strategy := *s.strategy
	s.strategy = &strategy
	if s.strategy.MaxAttempts < 1 {
		s.strategy.MaxAttempts = DefaultRetryStrategy().MaxAttempts
	}
	return s
}

// Backoff returns the delay before restarting a command that has failed attempt times.
func (s *Supervisor) Backoff(attempt int) time.Duration {
	d := s.strategy.BackoffDuration
	if d <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if s.strategy.MaxBackoff > 0 && d >= s.strategy.MaxBackoff {
			return s.strategy.MaxBackoff
		}
	}
	if s.strategy.MaxBackoff > 0 && d > s.strategy.MaxBackoff {
		return s.strategy.MaxBackoff
	}
	return d
}

// GetMaxAttempts returns the maximum number of starts per command.
func (s *Supervisor) GetMaxAttempts() int {
	return s.strategy.MaxAttempts
}

type tracked struct {
	handle    remote.Handle
	attempts  int
	pending   bool
	restartAt time.Time
}

// WaitAndForce blocks until every handle has finished successfully. A handle that
// reports a failure is reset and restarted after a backoff; one that is still
// running is polled again next round. It returns an *ExhaustedError once a command
// has failed MaxAttempts times, leaving the other handles running.
func (s *Supervisor) WaitAndForce(ctx context.Context, handles []remote.Handle) error {
	active := make([]*tracked, 0, len(handles))
	for _, h := range handles {
		if h != nil {
			active = append(active, &tracked{handle: h, attempts: 1})
		}
	}

	for len(active) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		next := make([]*tracked, 0, len(active))
		for _, t := range active {
			now := s.clock.Now()

			if t.pending {
				if now.Before(t.restartAt) {
					next = append(next, t)
					continue
				}
				t.pending = false
				t.attempts++
				if err := t.handle.Start(ctx); err != nil {
					s.logger.Warn("command restart failed", "command", t.handle.String(), "attempt", t.attempts, "error", err)
				}
			}

			status := t.handle.Wait(ctx, s.strategy.PollInterval)
			switch {
			case !status.OK:
				if t.attempts >= s.strategy.MaxAttempts {
					s.logger.Error("command failed, giving up",
						"command", t.handle.String(),
						"attempts", t.attempts,
					)
					return &ExhaustedError{Command: t.handle.String(), Attempts: t.attempts}
				}
				delay := s.Backoff(t.attempts)
				s.logger.Info("command failed, restarting",
					"command", t.handle.String(),
					"attempt", t.attempts,
					"backoff", delay.String(),
				)
				t.handle.Reset()
				t.pending = true
				t.restartAt = now.Add(delay)
				next = append(next, t)
			case !status.FinishedOK:
				next = append(next, t)
			default:
				s.logger.Info("command finished", "command", t.handle.String(), "attempts", t.attempts)
			}
		}
		active = next

		if wait, ok := s.idleFor(active); ok {
			if err := s.clock.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	return nil
}

// idleFor reports how long to sleep when every remaining handle is waiting out a backoff.
func (s *Supervisor) idleFor(active []*tracked) (time.Duration, bool) {
	if len(active) == 0 {
		return 0, false
	}
	var earliest time.Time
	for _, t := range active {
		if !t.pending {
			return 0, false
		}
		if earliest.IsZero() || t.restartAt.Before(earliest) {
			earliest = t.restartAt
		}
	}
	wait := earliest.Sub(s.clock.Now())
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// Wait blocks on each handle once without restarting anything. Handles that did
// not finish successfully are reported together.
func (s *Supervisor) Wait(ctx context.Context, handles []remote.Handle) error {
	var errs []error
	for _, h := range handles {
		if h == nil {
			continue
		}
		if status := h.Wait(ctx, 0); !status.FinishedOK {
			errs = append(errs, fmt.Errorf("%s: %w", h, ErrCommandNotFinished))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Join(errs...)
}
