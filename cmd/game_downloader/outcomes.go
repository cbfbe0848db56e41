package main

import (
	"context"

	"github.com/italolelis/game_downloader/internal/downloader"
	"github.com/italolelis/game_downloader/internal/logctx"
	"github.com/italolelis/game_downloader/internal/notifier"
	"github.com/italolelis/game_downloader/internal/storage"
)

// outcomeQueue hands terminal snapshots from the manager's sink to the
// goroutine that journals and announces them.
type outcomeQueue struct {
	ch      chan downloader.Snapshot
	stopped chan struct{}
}

func newOutcomeQueue() *outcomeQueue {
	return &outcomeQueue{
		ch:      make(chan downloader.Snapshot, outcomeBuffer),
		stopped: make(chan struct{}),
	}
}

func (q *outcomeQueue) sink(s downloader.Snapshot) {
	if !s.Status.Terminal() {
		return
	}

	select {
	case q.ch <- s:
	case <-q.stopped:
	}
}

// stop ends consume once the queued outcomes are handled.
func (q *outcomeQueue) stop() {
	close(q.stopped)
}

func (q *outcomeQueue) consume(ctx context.Context, history storage.HistoryRepository, notif notifier.Notifier) {
	// Outcomes are still written while the process shuts down.
	ctx = context.WithoutCancel(ctx)

	for {
		select {
		case s := <-q.ch:
			handleOutcome(ctx, s, history, notif)
		case <-q.stopped:
			for {
				select {
				case s := <-q.ch:
					handleOutcome(ctx, s, history, notif)
				default:
					return
				}
			}
		}
	}
}

func handleOutcome(ctx context.Context, s downloader.Snapshot, history storage.HistoryRepository, notif notifier.Notifier) {
	logger := logctx.LoggerFromContext(ctx).With("download_id", s.ID, "status", s.Status)

	entry := storage.HistoryEntry{
		DownloadID: s.ID,
		GameID:     s.GameID,
		Name:       s.Name,
		URL:        s.URL,
		DestPath:   s.DestPath,
		Status:     string(s.Status),
		Error:      s.Error,
		Bytes:      s.Transferred,
		FinishedAt: s.UpdatedAt,
	}

	if history != nil {
		if err := history.RecordOutcome(ctx, entry); err != nil {
			logger.Error("failed to record download outcome", "err", err)
		}
	}

	if notif == nil || s.Status == downloader.StatusCanceled {
		return
	}

	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := notif.Notify(notifyCtx, notifier.OutcomeMessage(entry)); err != nil {
		logger.Error("failed to send notification", "err", err)
	}
}
