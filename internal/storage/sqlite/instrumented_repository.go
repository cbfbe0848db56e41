package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/game_downloader/internal/storage"
	"github.com/italolelis/game_downloader/internal/telemetry"
)

// InstrumentedHistoryRepository wraps HistoryRepository with telemetry.
type InstrumentedHistoryRepository struct {
	repo      *HistoryRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedHistoryRepository creates a new instrumented history repository.
func NewInstrumentedHistoryRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedHistoryRepository {
	return &InstrumentedHistoryRepository{
		repo:      NewHistoryRepository(dbConn),
		telemetry: tel,
	}
}

// RecordOutcome stores an outcome with telemetry.
func (r *InstrumentedHistoryRepository) RecordOutcome(ctx context.Context, entry storage.HistoryEntry) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_outcome", func(ctx context.Context) error {
		return r.repo.RecordOutcome(ctx, entry)
	})
}

// ListHistory lists outcomes with telemetry.
func (r *InstrumentedHistoryRepository) ListHistory(ctx context.Context, limit int) ([]storage.HistoryEntry, error) {
	var result []storage.HistoryEntry

	err := r.telemetry.InstrumentDBOperation(ctx, "list_history", func(ctx context.Context) error {
		var err error
		result, err = r.repo.ListHistory(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// DeleteFinishedBefore prunes outcomes with telemetry.
func (r *InstrumentedHistoryRepository) DeleteFinishedBefore(ctx context.Context, t time.Time) (int64, error) {
	var deleted int64

	err := r.telemetry.InstrumentDBOperation(ctx, "delete_finished_before", func(ctx context.Context) error {
		var err error
		deleted, err = r.repo.DeleteFinishedBefore(ctx, t)

		return err
	})

	return deleted, err
}

var (
	_ storage.HistoryRepository = (*HistoryRepository)(nil)
	_ storage.HistoryRepository = (*InstrumentedHistoryRepository)(nil)
)
