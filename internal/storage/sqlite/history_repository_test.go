package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/game_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *InstrumentedHistoryRepository {
	t.Helper()

	db, err := InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewInstrumentedHistoryRepository(db, nil)
}

func TestInitDBIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	db, err := InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestRecordAndListHistory(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordOutcome(ctx, storage.HistoryEntry{
		DownloadID: "a",
		GameID:     "celeste",
		Name:       "Celeste",
		URL:        "https://cdn.example.com/celeste.zip",
		DestPath:   "/games/celeste.zip",
		Status:     "completed",
		Bytes:      10000,
		FinishedAt: base,
	}))
	require.NoError(t, repo.RecordOutcome(ctx, storage.HistoryEntry{
		DownloadID: "b",
		URL:        "https://cdn.example.com/hades.zip",
		DestPath:   "/games/hades.zip",
		Status:     "error",
		Error:      "unexpected response: 404 Not Found",
		FinishedAt: base.Add(time.Minute),
	}))

	entries, err := repo.ListHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "b", entries[0].DownloadID, "newest first")
	assert.Equal(t, "unexpected response: 404 Not Found", entries[0].Error)
	assert.Empty(t, entries[0].GameID)

	assert.Equal(t, "a", entries[1].DownloadID)
	assert.Equal(t, "Celeste", entries[1].Name)
	assert.EqualValues(t, 10000, entries[1].Bytes)
	assert.True(t, base.Equal(entries[1].FinishedAt))

	limited, err := repo.ListHistory(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordOutcomeReplacesSameDownload(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Now()

	entry := storage.HistoryEntry{DownloadID: "a", URL: "https://x/y", DestPath: "/y", Status: "error", Error: "boom", FinishedAt: now}
	require.NoError(t, repo.RecordOutcome(ctx, entry))

	entry.Status = "canceled"
	entry.Error = ""
	require.NoError(t, repo.RecordOutcome(ctx, entry))

	entries, err := repo.ListHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "canceled", entries[0].Status)
	assert.Empty(t, entries[0].Error)
}

func TestDeleteFinishedBefore(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour} {
		require.NoError(t, repo.RecordOutcome(ctx, storage.HistoryEntry{
			DownloadID: string(rune('a' + i)),
			URL:        "https://x/y",
			DestPath:   "/y",
			Status:     "completed",
			FinishedAt: now.Add(-age),
		}))
	}

	deleted, err := repo.DeleteFinishedBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	entries, err := repo.ListHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "c", entries[0].DownloadID)
}
