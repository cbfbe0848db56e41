package downloader

import (
	"sync"
	"time"

	"github.com/italolelis/game_downloader/internal/downloader/progress"
	"github.com/italolelis/game_downloader/internal/transfer"
)

// Status is the lifecycle state of a download.
type Status string

// Download statuses. Only downloading has a running session; canceled,
// completed and error are terminal.
const (
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCanceled    Status = "canceled"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// Terminal reports whether no further session will run for the download.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusCompleted || s == StatusError
}

// Snapshot is the public view of a download at one point in time.
type Snapshot struct {
	ID          string             `json:"id"`
	GameID      string             `json:"gameId"`
	Name        string             `json:"name"`
	URL         string             `json:"url"`
	DestPath    string             `json:"destPath"`
	Status      Status             `json:"status"`
	Percent     int                `json:"percent"`
	Transferred int64              `json:"transferred"`
	Total       int64              `json:"total"`
	Speed       float64            `json:"speed"`
	ETA         float64            `json:"eta"`
	Error       string             `json:"error,omitempty"`
	ErrorKind   transfer.ErrorKind `json:"errorKind,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// Request describes a download to start.
type Request struct {
	GameID   string `json:"gameId"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	DestPath string `json:"destPath"`
}

// record is the canonical state of one download. Identity fields are
// immutable; everything else is guarded by Manager.mu.
type record struct {
	// cmdMu serializes commands against this record.
	cmdMu sync.Mutex

	id       string
	gameID   string
	name     string
	url      string
	destPath string

	status      Status
	percent     int
	transferred int64
	total       int64
	speed       float64
	eta         float64
	err         string
	errKind     transfer.ErrorKind

	generation uint64
	session    *activeSession
	estimator  *progress.Estimator
	lastEmit   time.Time

	createdAt time.Time
	updatedAt time.Time
}

func (r *record) snapshot() Snapshot {
	return Snapshot{
		ID:          r.id,
		GameID:      r.gameID,
		Name:        r.name,
		URL:         r.url,
		DestPath:    r.destPath,
		Status:      r.status,
		Percent:     r.percent,
		Transferred: r.transferred,
		Total:       r.total,
		Speed:       r.speed,
		ETA:         r.eta,
		Error:       r.err,
		ErrorKind:   r.errKind,
		CreatedAt:   r.createdAt,
		UpdatedAt:   r.updatedAt,
	}
}

// activeSession is the registry's handle on a running transfer session.
type activeSession struct {
	generation uint64
	cancel     func()
	done       chan struct{}
	startedAt  time.Time
}

// stop cancels the session and waits until its file is closed.
func (s *activeSession) stop() {
	if s == nil {
		return
	}

	s.cancel()
	<-s.done
}
