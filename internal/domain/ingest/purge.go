package ingest

import (
	"context"
	"log"
	"time"

	"opsdash/internal/cache"
)

// PurgeCancelled deletes cancelled records whose last import is older than
// cutoff. Readers are told to drop their caches only when rows went away.
func PurgeCancelled(ctx context.Context, repo Repository, invalidator cache.Invalidator, cutoff time.Time) (int64, error) {
	n, err := repo.DeleteCancelledBefore(ctx, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	if n == 0 || invalidator == nil {
		return n, nil
	}
	for _, name := range []cache.Name{cache.Records, cache.Derived} {
		if err := invalidator.Invalidate(ctx, name); err != nil {
			log.Printf("ingest_purge cache=%s invalidate_error=%q", name, err.Error())
		}
	}
	return n, nil
}
