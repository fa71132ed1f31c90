package cleanup

import (
	"context"
	"fmt"
	"os"

	"github.com/coursecache/coursecache/internal/logctx"
	"github.com/coursecache/coursecache/internal/storage"
)

// SweepStaleCompleted demotes completed records whose backing file was
// removed out-of-band (OS storage cleanup, manual deletion) to 'failed', so
// the UI shows a retry affordance instead of a dead "available offline"
// entry. The lazy check on the offline-uri read path covers the same case;
// this sweep just finds it sooner.
func SweepStaleCompleted(ctx context.Context, catalog storage.Catalog) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	records, err := catalog.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list records: %w", err)
	}

	var demoted int

	for _, rec := range records {
		if rec.Status != storage.StatusCompleted || rec.LocalFileURI == "" {
			continue
		}

		if _, err := os.Stat(rec.LocalFileURI); err == nil || !os.IsNotExist(err) {
			continue
		}

		if err := catalog.SetStatus(ctx, rec.ID, storage.StatusFailed); err != nil {
			return demoted, fmt.Errorf("failed to demote stale record %s: %w", rec.ID, err)
		}

		logger.Info("demoted stale completed record", "record_id", rec.ID, "file", rec.LocalFileURI)
		demoted++
	}

	return demoted, nil
}
