package save

import (
	"context"
	"errors"
	"time"

	"github.com/joseph-ayodele/exams-tracker/internal/common"
)

// Policy bounds a retry loop: at most MaxAttempts calls with a fixed Backoff between them.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Retry calls fn until it succeeds, the attempts run out, ctx is done, or fn returns
// a validation error. It returns the number of attempts made and the last error.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt - 1, errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if common.KindOf(lastErr) == common.KindValidation {
			return attempt, lastErr
		}
		if ctx.Err() != nil {
			return attempt, errors.Join(lastErr, ctx.Err())
		}
	}
	return maxAttempts, lastErr
}
