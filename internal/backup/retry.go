package backup

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig controls exponential backoff for failed scheduled backups.
type RetryConfig struct {
	MaxRetries int           // max retry attempts (default 3, 0 = no retry)
	BaseDelay  time.Duration // initial backoff delay (default 2s)
	MaxDelay   time.Duration // maximum backoff delay (default 30s)
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// ExecuteWithRetry runs fn, retrying on error with exponential backoff + jitter.
// It stops early when ctx is cancelled and returns the last error.
func ExecuteWithRetry(ctx context.Context, fn func() (string, error), cfg RetryConfig) (result string, attempts int, err error) {
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err = fn()
		if err == nil {
			return result, attempt + 1, nil
		}
		if attempt == cfg.MaxRetries {
			break
		}

		timer := time.NewTimer(backoffWithJitter(cfg.BaseDelay, cfg.MaxDelay, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", attempt + 1, err
		case <-timer.C:
		}
	}
	return "", cfg.MaxRetries + 1, err
}

// backoffWithJitter computes delay = min(base * 2^attempt, max) + jitter(±25%).
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}

	quarter := delay / 4
	if quarter > 0 {
		jitter := time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		delay += jitter
	}
	return delay
}
