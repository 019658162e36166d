package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/routeworks/fleetpilot/internal/metrics"
	"github.com/routeworks/fleetpilot/internal/stream"
)

// RetryPolicy bounds resubmission of network-class failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the first backoff delay; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the standard policy: 3 attempts, exponential
// backoff from 1s capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// Sender performs one request/response/stream cycle.
type Sender interface {
	Send(ctx context.Context, req Request, fn stream.DeltaFunc) (string, error)
}

// Supervisor wraps a Sender with retry. Retry policy lives here and
// nowhere else: callers never resubmit on their own initiative.
type Supervisor struct {
	sender  Sender
	policy  RetryPolicy
	logger  *slog.Logger
	metrics *metrics.Collector

	// OnRetry is invoked before each resubmission so the caller can
	// discard preview text accumulated by the failed attempt.
	OnRetry func(attempt int, err error)
}

// NewSupervisor creates a retry supervisor. The collector may be nil.
func NewSupervisor(sender Sender, policy RetryPolicy, logger *slog.Logger, mc *metrics.Collector) *Supervisor {
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{sender: sender, policy: policy, logger: logger, metrics: mc}
}

// Send runs the request cycle, resubmitting network-class failures up to
// the attempt bound. Timeout, auth, and server-rejection failures surface
// immediately; cancellation is honored at every wait point.
func (s *Supervisor) Send(ctx context.Context, req Request, fn stream.DeltaFunc) (string, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordTiming(metrics.OpSend, time.Since(start))
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if s.OnRetry != nil {
				s.OnRetry(attempt, lastErr)
			}
			delay := s.backoff(attempt - 1)
			s.logger.Warn("send failed, retrying",
				"attempt", attempt,
				"of", s.policy.MaxAttempts,
				"delay", delay,
				"error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		text, err := s.sender.Send(ctx, req, fn)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return text, ctx.Err()
		}

		var ae *Error
		if !errors.As(err, &ae) || !ae.Retryable() {
			return text, err
		}
		lastErr = err
	}

	return "", fmt.Errorf("retries exhausted after %d attempts: %w", s.policy.MaxAttempts, lastErr)
}

// backoff returns the delay before retry n (1-based), doubling from
// BaseDelay and capped at MaxDelay.
func (s *Supervisor) backoff(n int) time.Duration {
	d := s.policy.BaseDelay << (n - 1)
	if d > s.policy.MaxDelay || d <= 0 {
		d = s.policy.MaxDelay
	}
	return d
}
