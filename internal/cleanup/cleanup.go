package cleanup

import (
	"context"
	"time"

	"github.com/italolelis/game_downloader/internal/downloader"
	"github.com/italolelis/game_downloader/internal/logctx"
	"github.com/italolelis/game_downloader/internal/storage"
)

// Registry is the part of the download manager cleanup needs.
type Registry interface {
	List() []downloader.Snapshot
	Drop(id string) bool
}

// DropFinished forgets terminal downloads last updated more than keep ago.
// Files on disk are left alone. It returns the number of dropped records.
func DropFinished(ctx context.Context, reg Registry, keep time.Duration, now time.Time) int {
	logger := logctx.LoggerFromContext(ctx)
	dropped := 0

	for _, snap := range reg.List() {
		if !snap.Status.Terminal() || now.Sub(snap.UpdatedAt) <= keep {
			continue
		}

		if reg.Drop(snap.ID) {
			dropped++

			logger.Debug("dropped finished download", "download_id", snap.ID, "status", snap.Status)
		}
	}

	if dropped > 0 {
		logger.Info("dropped finished downloads", "count", dropped)
	}

	return dropped
}

// PruneHistory deletes journal entries finished more than keep ago.
func PruneHistory(ctx context.Context, repo storage.HistoryRepository, keep time.Duration, now time.Time) error {
	deleted, err := repo.DeleteFinishedBefore(ctx, now.Add(-keep))
	if err != nil {
		return err
	}

	if deleted > 0 {
		logctx.LoggerFromContext(ctx).Info("pruned download history", "count", deleted)
	}

	return nil
}

// Run applies both retention rules every interval until ctx is done.
// A non-positive keep or interval disables cleanup.
func Run(ctx context.Context, reg Registry, repo storage.HistoryRepository, keep, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	if keep <= 0 || interval <= 0 {
		logger.Info("cleanup disabled")

		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			DropFinished(ctx, reg, keep, now)

			if repo == nil {
				continue
			}

			if err := PruneHistory(ctx, repo, keep, now); err != nil {
				logger.Error("failed to prune download history", "err", err)
			}
		}
	}
}
