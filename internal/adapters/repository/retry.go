package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/duel/pkg/logger"
	"github.com/okian/duel/pkg/metrics"
)

// retryConflicts runs fn until it succeeds, fails with a non-conflict
// error, or exhausts maxRetries. Backoff grows linearly per attempt.
func retryConflicts(ctx context.Context, o options, backend string, isConflict func(error) bool, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !isConflict(err) {
			return err
		}
		if attempt >= o.maxRetries {
			metrics.RecordErrorByComponent("repository", "conflict")
			return fmt.Errorf("%w after %d attempts: %w", ErrConflict, attempt+1, err)
		}

		metrics.RecordTransactionRetry(backend)
		o.logger.Debug(ctx, "transaction conflict, retrying",
			logger.String("backend", backend),
			logger.Int("attempt", attempt+1))

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-time.After(time.Duration(attempt+1) * o.baseBackoff):
		}
	}
}
