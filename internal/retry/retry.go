// Package retry implements withRetry (§7): infrastructure failures are
// retried with exponential backoff, business/model failures never are.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/nfa-labs/agentrunner/internal/failure"
	"github.com/nfa-labs/agentrunner/pkg/logger"
)

// Classifier maps a raw error to a failure category, used to decide
// retry-eligibility. internal/failure.FromError satisfies this.
type Classifier func(err error) (failure.Category, failure.Code)

// Stats tallies attempts for the retry_attempts_total metric.
type Stats struct {
	Attempts int
}

// Do runs fn up to maxAttempts times with exponential backoff, starting at
// baseDelay. Only errors classified as failure.InfrastructureError are
// retried; any other classification is wrapped in backoff.Permanent so the
// underlying library stops immediately — this is where retry-safety
// (§8: "withRetry never retries an error whose category != infrastructure_error")
// is enforced, at the library boundary rather than by caller convention.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, classify Classifier, fn func(ctx context.Context) error) (*Stats, error) {
	if classify == nil {
		classify = failure.FromError
	}

	stats := &Stats{}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = baseDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // bounded by maxAttempts instead of wall-clock

	bounded := backoff.WithMaxRetries(bo, uint64(maxAttempts-1))
	withCtx := backoff.WithContext(bounded, ctx)

	op := func() error {
		stats.Attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		category, _ := classify(err)
		if !failure.Retryable(category) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("retrying after infrastructure failure",
			zap.Error(err),
			zap.Duration("wait", wait),
			zap.Int("attempt", stats.Attempts),
		)
	}

	if err := backoff.RetryNotify(op, withCtx, notify); err != nil {
		return stats, err
	}
	return stats, nil
}
