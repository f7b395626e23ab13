package tracker

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// RetryConfig configures retries of tracker requests.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first. Default: 3.
	MaxRetries int
	// InitialBackoff is the delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration
	// MaxBackoff caps every delay, including Retry-After. Default: 10s.
	MaxBackoff time.Duration
	// BackoffMultiplier grows the delay per attempt. Default: 2.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults fills unset backoff fields. MaxRetries is taken as given;
// zero disables retries.
func (c *RetryConfig) ApplyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
}

// retry runs op until it succeeds, fails with a non-retryable error, or
// the attempts run out. onRetry is called before each wait.
func retry(ctx context.Context, cfg RetryConfig, op func() error, onRetry func(attempt int, err error, wait time.Duration)) error {
	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == cfg.MaxRetries {
			break
		}

		wait := backoff
		var re *retryableError
		if errors.As(err, &re) {
			if d, ok := parseRetryAfter(re.retryAfter); ok {
				wait = d
			}
		}
		if wait > cfg.MaxBackoff {
			wait = cfg.MaxBackoff
		}
		if onRetry != nil {
			onRetry(attempt+1, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
	}

	// Unwrap so callers see the underlying cause, not the retry marker.
	var re *retryableError
	if errors.As(lastErr, &re) {
		return re.err
	}
	return lastErr
}

// parseRetryAfter understands the delay-seconds form of Retry-After.
func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
