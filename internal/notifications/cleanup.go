package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"estatecrm/internal/types"
)

// purgeBatchSize bounds how many notifications one cleanup run exports and
// deletes per iteration.
const purgeBatchSize = 500

// CleanupStore is the repository subset the cleanup job needs.
type CleanupStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	ListPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]*types.Notification, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// Cleaner implements the notificationCleanup job. Two modes:
//
//   - expired: delete notifications whose expires_at has passed (hourly).
//   - all: additionally purge auto-deletable notifications older than the
//     retention horizon, exporting each purged batch to a gzipped NDJSON
//     archive first (daily).
type Cleaner struct {
	store      CleanupStore
	retention  time.Duration
	archiveDir string
	clock      types.Clock
	logger     types.Logger
}

// NewCleaner creates a Cleaner. archiveDir may be empty to skip archiving.
func NewCleaner(store CleanupStore, retention time.Duration, archiveDir string, clock types.Clock, logger types.Logger) *Cleaner {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Cleaner{
		store:      store,
		retention:  retention,
		archiveDir: archiveDir,
		clock:      clock,
		logger:     logger,
	}
}

// Run executes one cleanup pass in the given mode and returns the total
// number of notifications removed.
func (c *Cleaner) Run(ctx context.Context, mode types.CleanupMode) (int64, error) {
	now := c.clock.Now()

	expired, err := c.store.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	c.logger.Info("expired notifications deleted", "count", expired, "mode", string(mode))

	if mode != types.CleanupAll {
		return expired, nil
	}

	purged, err := c.purgeOld(ctx, now)
	if err != nil {
		return expired, err
	}
	return expired + purged, nil
}

// purgeOld removes auto-deletable notifications past the retention horizon
// in batches, archiving each batch before deleting it. Preservation rules
// (unread, actionable) are enforced by the store query; purge only ever
// sees rows that are safe to drop.
func (c *Cleaner) purgeOld(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-c.retention)
	var total int64

	for {
		batch, err := c.store.ListPurgeable(ctx, cutoff, purgeBatchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}

		if c.archiveDir != "" {
			if err := c.archiveBatch(batch, now); err != nil {
				// Never delete what we failed to archive.
				return total, err
			}
		}

		ids := make([]string, len(batch))
		for i, n := range batch {
			ids[i] = n.ID
		}
		deleted, err := c.store.DeleteByIDs(ctx, ids)
		if err != nil {
			return total, err
		}
		total += deleted
		c.logger.Info("old notifications purged", "count", deleted, "cutoff", cutoff.Format(time.RFC3339))

		if len(batch) < purgeBatchSize {
			return total, nil
		}
	}
}

// archiveBatch writes the batch as gzipped NDJSON to the archive directory.
// File names carry the run timestamp and the first id so retries of the
// same run do not overwrite each other.
func (c *Cleaner) archiveBatch(batch []*types.Notification, now time.Time) error {
	if err := os.MkdirAll(c.archiveDir, 0o755); err != nil {
		return types.NewAppError(types.ErrCodeInternalCleanup, "failed to create archive directory", err)
	}

	name := fmt.Sprintf("notifications-%s-%s.ndjson.gz", now.Format("20060102T150405"), batch[0].ID)
	path := filepath.Join(c.archiveDir, name)

	f, err := os.Create(path)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalCleanup, "failed to create archive file", err)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	for _, n := range batch {
		if err := enc.Encode(n); err != nil {
			zw.Close()
			return types.NewAppError(types.ErrCodeInternalCleanup, "failed to encode archived notification", err)
		}
	}
	if err := zw.Close(); err != nil {
		return types.NewAppError(types.ErrCodeInternalCleanup, "failed to finalize archive file", err)
	}
	if err := f.Sync(); err != nil {
		return types.NewAppError(types.ErrCodeInternalCleanup, "failed to sync archive file", err)
	}

	c.logger.Info("purge batch archived", "file", path, "count", len(batch))
	return nil
}
