package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/game_downloader/internal/storage"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const defaultHistoryLimit = 100

type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a repository over an initialized database.
func NewHistoryRepository(dbConn *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: dbConn}
}

func (r *HistoryRepository) RecordOutcome(ctx context.Context, entry storage.HistoryEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO download_history (download_id, game_id, name, url, dest_path, status, error, bytes, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(download_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			bytes = excluded.bytes,
			finished_at = excluded.finished_at
	`,
		entry.DownloadID,
		entry.GameID,
		entry.Name,
		entry.URL,
		entry.DestPath,
		entry.Status,
		nullString(entry.Error),
		entry.Bytes,
		entry.FinishedAt.UTC().Format(timeLayout),
	)

	return err
}

// ListHistory returns the newest entries first. A non-positive limit
// selects the default.
func (r *HistoryRepository) ListHistory(ctx context.Context, limit int) ([]storage.HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT
			download_id,
			game_id,
			name,
			url,
			dest_path,
			status,
			error,
			bytes,
			finished_at
		FROM download_history
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []storage.HistoryEntry{}

	for rows.Next() {
		var (
			entry          storage.HistoryEntry
			gameID, name   sql.NullString
			errMsg         sql.NullString
			finishedAtText string
		)

		if err := rows.Scan(
			&entry.DownloadID,
			&gameID,
			&name,
			&entry.URL,
			&entry.DestPath,
			&entry.Status,
			&errMsg,
			&entry.Bytes,
			&finishedAtText,
		); err != nil {
			return nil, err
		}

		entry.GameID = gameID.String
		entry.Name = name.String
		entry.Error = errMsg.String

		if entry.FinishedAt, err = time.Parse(timeLayout, finishedAtText); err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (r *HistoryRepository) DeleteFinishedBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM download_history WHERE finished_at < ?`,
		t.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
