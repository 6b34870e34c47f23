package ledger

import (
	"context"
	"errors"

	"github.com/clearbook/clearbook/internal/domain"
	"github.com/clearbook/clearbook/internal/infra/metrics"
)

// withVersionRetry runs op up to maxAttempts times, retrying only on
// optimistic-version conflicts. Any other error, and context cancellation,
// surface immediately. After the last conflicting attempt the conflict
// itself is returned.
//
// Centralizing the concurrency policy here keeps the processor free of
// loop bookkeeping and makes the bound independently testable.
func withVersionRetry(ctx context.Context, maxAttempts int, op func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = op(ctx)
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		metrics.TransferConflicts.Inc()
	}
	return err
}
