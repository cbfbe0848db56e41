// Package storage defines the download history journal.
package storage

import (
	"context"
	"time"
)

// HistoryEntry is the terminal outcome of one download.
type HistoryEntry struct {
	DownloadID string    `json:"downloadId"`
	GameID     string    `json:"gameId"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	DestPath   string    `json:"destPath"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Bytes      int64     `json:"bytes"`
	FinishedAt time.Time `json:"finishedAt"`
}

// HistoryRepository persists terminal outcomes. It never holds in-flight
// state.
type HistoryRepository interface {
	// RecordOutcome stores entry, replacing an earlier entry of the same
	// download.
	RecordOutcome(ctx context.Context, entry HistoryEntry) error
	// ListHistory returns up to limit entries, newest first.
	ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error)
	// DeleteFinishedBefore removes entries older than t and reports how
	// many were removed.
	DeleteFinishedBefore(ctx context.Context, t time.Time) (int64, error)
}
