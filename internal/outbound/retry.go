package outbound

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/Bagheerabaloo/jarvis/internal/telegram"
)

// RetryPolicy bounds how transient failures are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns 7 attempts starting at 1.2s growing by 1.7x.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 7,
		BaseDelay:   1200 * time.Millisecond,
		Factor:      1.7,
		MaxDelay:    time.Minute,
	}
}

// Backoff returns the jittered delay before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * (1 + rand.Float64()) * math.Pow(p.Factor, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// do runs call under a permit and applies the retry policy.
// The permit is released before any retry sleep.
func (s *Sender) do(ctx context.Context, method string, call func(ctx context.Context) error) error {
	attempts := 0
	for {
		if err := s.acquire(ctx); err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		err := call(ctx)
		s.permits.Release(1)

		if err == nil {
			s.metrics.OutboundCalls.WithLabelValues(method, "ok").Inc()
			return nil
		}

		class, wait := telegram.Classify(err)
		switch class {
		case telegram.ClassRetryAfter:
			s.metrics.OutboundRetries.WithLabelValues("retry_after").Inc()
			s.log.Warn("rate limited", zap.String("method", method), zap.Duration("retry_after", wait))
			if serr := s.sleep(ctx, wait+time.Second); serr != nil {
				return fmt.Errorf("%s: %w", method, err)
			}
		case telegram.ClassTransient:
			attempts++
			if attempts >= s.retry.MaxAttempts {
				s.metrics.OutboundCalls.WithLabelValues(method, "exhausted").Inc()
				return fmt.Errorf("%s: giving up after %d attempts: %w", method, attempts, err)
			}
			s.metrics.OutboundRetries.WithLabelValues("transient").Inc()
			delay := s.retry.Backoff(attempts)
			s.log.Warn("transient error, retrying",
				zap.String("method", method), zap.Int("attempt", attempts), zap.Duration("backoff", delay), zap.Error(err))
			if serr := s.sleep(ctx, delay); serr != nil {
				return fmt.Errorf("%s: %w", method, err)
			}
		default:
			s.metrics.OutboundCalls.WithLabelValues(method, class.String()).Inc()
			return err
		}
	}
}

func (s *Sender) acquire(ctx context.Context) error {
	if err := s.permits.Acquire(ctx, 1); err != nil {
		return err
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.permits.Release(1)
			return err
		}
	}
	return nil
}
