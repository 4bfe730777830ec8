package storage

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/edgesim/miniflare/pkg/errs"
	"github.com/edgesim/miniflare/pkg/types"
)

// validateBatch checks every key name and expiration in entries
// concurrently, each entry independent of the others, before either
// Operator implementation takes its write lock to apply the batch
// atomically. Returns the first error encountered, same as a sequential
// loop would, just not necessarily for the first failing key.
func validateBatch(ctx context.Context, entries map[string]types.StoredValue, now int64) error {
	g, _ := errgroup.WithContext(ctx)
	for k, v := range entries {
		k, v := k, v
		g.Go(func() error {
			if err := ValidateKeyName(k); err != nil {
				return err
			}
			if v.Expiration != nil && *v.Expiration <= now {
				return errs.Validation(errs.CodeKeyValidation, "expiration must be strictly greater than the stored-at time")
			}
			return nil
		})
	}
	return g.Wait()
}
