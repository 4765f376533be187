// file: internal/fetcher/retry.go
// version: 1.0.0
// guid: 8e0a2c4e-6f8b-4d0c-a2e4-6c8e0a2c4e6f

package fetcher

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jdfalk/exam-results/internal/dataerr"
	"github.com/jdfalk/exam-results/internal/metrics"
)

// RetryPolicy controls how transient failures are retried.
type RetryPolicy struct {
	Attempts  int           // total attempts, at least 1
	BaseDelay time.Duration // delay before the second attempt, doubled after each failure
	MaxDelay  time.Duration // 0 means uncapped
}

// DefaultRetryPolicy retries three times starting at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// Retrying wraps a Source and retries network and server failures with
// exponential backoff. Deterministic failures surface immediately.
type Retrying struct {
	inner  Source
	policy RetryPolicy
}

// WithRetry wraps src with the given policy.
func WithRetry(src Source, policy RetryPolicy) *Retrying {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Retrying{inner: src, policy: policy}
}

// Fetch implements Source.
func (r *Retrying) Fetch(ctx context.Context, name string) ([]byte, error) {
	kind := KindFrom(ctx)
	start := time.Now()

	var lastErr error
	attempts := 0
	for attempts < r.policy.Attempts {
		attempts++
		data, err := r.inner.Fetch(ctx, name)
		if err == nil {
			metrics.ObserveFetch(kind, "ok", time.Since(start))
			return data, nil
		}
		lastErr = err
		if !dataerr.Retryable(err) || attempts == r.policy.Attempts {
			break
		}

		delay := r.policy.Delay(attempts)
		log.Printf("[WARN] fetch %s %s failed (attempt %d/%d): %v; retrying in %v",
			kind, name, attempts, r.policy.Attempts, err, delay)
		metrics.IncFetchRetry(kind)

		if err := sleep(ctx, delay); err != nil {
			lastErr = dataerr.New(dataerr.KindNetwork, kind, name, err)
			break
		}
	}

	metrics.ObserveFetch(kind, "error", time.Since(start))
	return nil, withAttempts(lastErr, attempts)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func withAttempts(err error, attempts int) error {
	var e *dataerr.Error
	if !errors.As(err, &e) {
		return err
	}
	cp := *e
	cp.Attempts = attempts
	return &cp
}
