package downloader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/italolelis/game_downloader/internal/downloader/progress"
	"github.com/italolelis/game_downloader/internal/logctx"
	"github.com/italolelis/game_downloader/internal/telemetry"
	"github.com/italolelis/game_downloader/internal/transfer"
)

const defaultProgressInterval = 120 * time.Millisecond

var (
	// ErrInvalidRequest is returned by Start for an unusable request.
	ErrInvalidRequest = errors.New("invalid download request")

	// ErrClosed is returned by Start after Shutdown.
	ErrClosed = errors.New("download manager is shut down")
)

// Settings tunes a Manager.
type Settings struct {
	// ProgressInterval is the minimum gap between two progress snapshots of
	// one download. State changes are always emitted. Zero selects the
	// 120ms default; a negative value emits on every chunk.
	ProgressInterval time.Duration

	// SpeedSmoothing is the EMA factor applied to the speed estimate.
	SpeedSmoothing float64

	// UserAgent is sent on every session request when set.
	UserAgent string

	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// Manager owns every download of the process and the sessions moving their
// bytes. Its methods are safe for concurrent use.
type Manager struct {
	ctx      context.Context
	client   *http.Client
	tel      *telemetry.Telemetry
	settings Settings
	now      func() time.Time
	dispatch *dispatcher

	mu      sync.Mutex
	records map[string]*record
	order   []string
	closed  bool
}

// NewManager creates a Manager. ctx provides the logger and values for
// sessions; canceling it does not stop them, Shutdown does.
func NewManager(ctx context.Context, client *http.Client, sink Sink, tel *telemetry.Telemetry, settings Settings) *Manager {
	if client == nil {
		client = http.DefaultClient
	}

	switch {
	case settings.ProgressInterval == 0:
		settings.ProgressInterval = defaultProgressInterval
	case settings.ProgressInterval < 0:
		settings.ProgressInterval = 0
	}

	now := settings.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		ctx:      context.WithoutCancel(ctx),
		client:   client,
		tel:      tel,
		settings: settings,
		now:      now,
		dispatch: newDispatcher(sink),
		records:  make(map[string]*record),
	}
}

// Start registers a new download and opens its first session at offset 0.
// It returns as soon as the session is launched.
func (m *Manager) Start(req Request) (string, error) {
	rec, err := m.newRecord(req, StatusDownloading)
	if err != nil {
		return "", err
	}

	rec.cmdMu.Lock()
	defer rec.cmdMu.Unlock()

	m.mu.Lock()
	if err := m.insertLocked(rec); err != nil {
		m.mu.Unlock()

		return "", err
	}

	m.openSessionLocked(rec, 0)
	m.mu.Unlock()

	logctx.LoggerFromContext(m.ctx).Info("download started",
		"download_id", rec.id,
		"game_id", rec.gameID,
		"dest_path", rec.destPath,
	)

	return rec.id, nil
}

// Restore registers a paused download for a partial file left on disk, so
// that Resume continues from its size.
func (m *Manager) Restore(req Request) (string, error) {
	rec, err := m.newRecord(req, StatusPaused)
	if err != nil {
		return "", err
	}

	size, err := partialSize(rec.destPath)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.insertLocked(rec); err != nil {
		return "", err
	}

	rec.transferred = size
	m.emitLocked(rec, m.now())

	return rec.id, nil
}

// Pause stops the running session of a downloading record, keeping the
// partial file. Anything else is a no-op.
func (m *Manager) Pause(id string) {
	rec := m.lookup(id)
	if rec == nil {
		return
	}

	rec.cmdMu.Lock()
	defer rec.cmdMu.Unlock()

	m.mu.Lock()
	if rec.status != StatusDownloading {
		m.mu.Unlock()

		return
	}

	sess := m.transitionLocked(rec, StatusPaused)
	m.mu.Unlock()

	sess.stop()

	logctx.LoggerFromContext(m.ctx).Info("download paused", "download_id", id)
}

// Resume opens a new session for a paused record, starting at the size of
// the partial file on disk. Anything else, or any call after Shutdown, is a
// no-op.
func (m *Manager) Resume(id string) {
	rec := m.lookup(id)
	if rec == nil {
		return
	}

	rec.cmdMu.Lock()
	defer rec.cmdMu.Unlock()

	m.mu.Lock()
	ok := m.resumableLocked(rec)
	m.mu.Unlock()

	if !ok {
		return
	}

	// cmdMu keeps the record paused while the file is inspected.
	offset, err := partialSize(rec.destPath)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.resumableLocked(rec) {
		return
	}

	if err != nil {
		m.failLocked(rec, err)

		return
	}

	rec.err = ""
	rec.errKind = transfer.KindNone
	m.openSessionLocked(rec, offset)

	logctx.LoggerFromContext(m.ctx).Info("download resumed",
		"download_id", id,
		"offset", humanize.Bytes(uint64(offset)),
	)
}

// Cancel stops a downloading or paused record and deletes its partial
// file. Anything else is a no-op.
func (m *Manager) Cancel(id string) {
	rec := m.lookup(id)
	if rec == nil {
		return
	}

	rec.cmdMu.Lock()
	defer rec.cmdMu.Unlock()

	m.mu.Lock()
	if rec.status != StatusDownloading && rec.status != StatusPaused {
		m.mu.Unlock()

		return
	}

	sess := m.transitionLocked(rec, StatusCanceled)
	m.mu.Unlock()

	sess.stop()

	logger := logctx.LoggerFromContext(m.ctx)
	if err := os.Remove(rec.destPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Error("failed to remove partial file", "download_id", id, "dest_path", rec.destPath, "err", err)
	}

	logger.Info("download canceled", "download_id", id)
}

// Get returns the snapshot of one download.
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return Snapshot{}, false
	}

	return rec.snapshot(), true
}

// List returns snapshots of every download in start order.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Snapshot, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id].snapshot())
	}

	return out
}

// Drop forgets a download in a terminal status. It reports whether the
// record was removed.
func (m *Manager) Drop(id string) bool {
	rec := m.lookup(id)
	if rec == nil {
		return false
	}

	rec.cmdMu.Lock()
	defer rec.cmdMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !rec.status.Terminal() {
		return false
	}

	delete(m.records, id)

	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)

			break
		}
	}

	return true
}

// Shutdown pauses every running download, leaving partial files for a
// later resume, then flushes pending snapshots to the sink.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true

	var running []string

	for _, id := range m.order {
		if m.records[id].status == StatusDownloading {
			running = append(running, id)
		}
	}
	m.mu.Unlock()

	for _, id := range running {
		m.Pause(id)
	}

	logctx.LoggerFromContext(m.ctx).Info("download manager stopped", "paused", len(running))

	return m.dispatch.close(ctx)
}

func (m *Manager) resumableLocked(rec *record) bool {
	return rec.status == StatusPaused && !m.closed
}

func (m *Manager) newRecord(req Request, status Status) (*record, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := m.now()

	return &record{
		id:        uuid.NewString(),
		gameID:    req.GameID,
		name:      req.Name,
		url:       req.URL,
		destPath:  req.DestPath,
		status:    status,
		estimator: progress.NewEstimator(m.settings.SpeedSmoothing),
		createdAt: now,
		updatedAt: now,
	}, nil
}

func (m *Manager) insertLocked(rec *record) error {
	if m.closed {
		return ErrClosed
	}

	m.records[rec.id] = rec
	m.order = append(m.order, rec.id)

	return nil
}

func (m *Manager) lookup(id string) *record {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.records[id]
}

// openSessionLocked bumps the generation and launches a session at offset.
// The previous session, if any, must already have returned.
func (m *Manager) openSessionLocked(rec *record, offset int64) {
	now := m.now()

	rec.generation++
	rec.status = StatusDownloading
	rec.transferred = offset
	rec.percent = progress.Percent(offset, rec.total)
	rec.speed, rec.eta = 0, 0
	rec.estimator.Reset(now, offset)

	ctx, cancel := context.WithCancel(m.ctx)
	sess := &activeSession{
		generation: rec.generation,
		cancel:     cancel,
		done:       make(chan struct{}),
		startedAt:  now,
	}
	rec.session = sess

	m.emitLocked(rec, now)

	go m.run(ctx, rec, sess, offset)
}

// transitionLocked moves rec to a caller-requested status and detaches its
// session, which the caller stops after releasing the lock. The status
// flips first so the session's own exit is recognized as expected.
func (m *Manager) transitionLocked(rec *record, status Status) *activeSession {
	now := m.now()

	rec.status = status
	rec.speed, rec.eta = 0, 0

	sess := rec.session
	rec.session = nil

	if status.Terminal() {
		m.tel.RecordDownload(string(status), now.Sub(rec.createdAt))
	}

	m.emitLocked(rec, now)

	return sess
}

func (m *Manager) run(ctx context.Context, rec *record, sess *activeSession, offset int64) {
	defer close(sess.done)
	defer sess.cancel()

	ctx = logctx.WithAttrs(ctx, "download_id", rec.id, "generation", sess.generation)

	s := &transfer.Session{
		URL:       rec.url,
		Path:      rec.destPath,
		StartByte: offset,
		Client:    m.client,
		UserAgent: m.settings.UserAgent,
	}
	obs := &sessionObserver{m: m, rec: rec, gen: sess.generation}

	err := m.tel.InstrumentSession(ctx, offset > 0, func(ctx context.Context) error {
		return s.Run(ctx, obs)
	})

	m.finish(ctx, rec, sess, err)
}

// finish applies the outcome of a session that has returned. Sessions that
// are no longer current leave the record untouched.
func (m *Manager) finish(ctx context.Context, rec *record, sess *activeSession, err error) {
	logger := logctx.LoggerFromContext(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.generation != sess.generation || rec.status != StatusDownloading {
		m.tel.RecordSession("superseded")
		logger.Debug("session ended after being superseded", "err", err)

		return
	}

	rec.session = nil

	switch {
	case err == nil:
		m.tel.RecordSession("completed")
		m.completeLocked(rec)

		logger.Info("download completed",
			"size", humanize.Bytes(uint64(rec.transferred)),
			"duration", m.now().Sub(rec.createdAt).Round(time.Millisecond),
		)
	case errors.Is(err, transfer.ErrRangeIgnored):
		m.tel.RecordSession("range_ignored")

		if rmErr := os.Remove(rec.destPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			m.failLocked(rec, &transfer.FileSystemError{Operation: "remove", Path: rec.destPath, Err: rmErr})
			logger.Error("failed to discard partial file", "err", rmErr)

			return
		}

		m.tel.RecordRangeFallback()
		logger.Warn("server ignored range request, restarting from zero", "url", rec.url)

		m.openSessionLocked(rec, 0)
	default:
		m.tel.RecordSession("error")
		m.failLocked(rec, err)

		logger.Error("download failed", "kind", transfer.KindOf(err), "err", err)
	}
}

func (m *Manager) completeLocked(rec *record) {
	now := m.now()

	if rec.total <= 0 {
		rec.total = rec.transferred
	}

	rec.status = StatusCompleted
	rec.percent = 100
	rec.speed, rec.eta = 0, 0

	m.tel.RecordDownload(string(StatusCompleted), now.Sub(rec.createdAt))
	m.emitLocked(rec, now)
}

func (m *Manager) failLocked(rec *record, err error) {
	now := m.now()

	rec.status = StatusError
	rec.err = err.Error()
	rec.errKind = transfer.KindOf(err)
	rec.speed, rec.eta = 0, 0
	rec.session = nil

	m.tel.RecordDownload(string(StatusError), now.Sub(rec.createdAt))
	m.emitLocked(rec, now)
}

func (m *Manager) emitLocked(rec *record, now time.Time) {
	rec.updatedAt = now
	rec.lastEmit = now
	m.dispatch.push(rec.snapshot())
}

// sessionObserver is the only path through which a session touches its
// record. Every callback checks that the session is still the current one.
type sessionObserver struct {
	m   *Manager
	rec *record
	gen uint64
}

func (o *sessionObserver) liveLocked() bool {
	return o.rec.generation == o.gen && o.rec.status == StatusDownloading
}

func (o *sessionObserver) Headers(total int64) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()

	if !o.liveLocked() || total <= 0 {
		return
	}

	o.rec.total = total
	o.rec.percent = progress.Percent(o.rec.transferred, total)
	o.m.emitLocked(o.rec, o.m.now())
}

func (o *sessionObserver) Chunk(n int) bool {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()

	if !o.liveLocked() {
		return false
	}

	rec := o.rec
	now := o.m.now()

	rec.transferred += int64(n)
	rec.percent = progress.Percent(rec.transferred, rec.total)
	rec.speed, rec.eta = rec.estimator.Sample(now, rec.transferred, rec.total)
	rec.updatedAt = now

	o.m.tel.AddDownloadedBytes(int64(n))

	if now.Sub(rec.lastEmit) >= o.m.settings.ProgressInterval {
		o.m.emitLocked(rec, now)
	}

	return true
}

// partialSize is the resume offset for path: its size, or 0 if missing.
func partialSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	if err != nil {
		return 0, &transfer.FileSystemError{Operation: "stat", Path: path, Err: err}
	}

	if info.IsDir() {
		return 0, &transfer.FileSystemError{Operation: "stat", Path: path, Err: errors.New("is a directory")}
	}

	return info.Size(), nil
}

func (r Request) validate() error {
	if r.DestPath == "" {
		return fmt.Errorf("%w: destination path is required", ErrInvalidRequest)
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidRequest)
	}

	return nil
}
