package transfer_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/game_downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu      sync.Mutex
	totals  []int64
	written int64
	limit   int64 // stop accepting once written reaches limit, 0 = never
}

func (o *recordingObserver) Headers(total int64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.totals = append(o.totals, total)
}

func (o *recordingObserver) Chunk(n int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.written += int64(n)

	return o.limit == 0 || o.written < o.limit
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}

	return data
}

func rangeServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "game.bin", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(ts.Close)

	return ts
}

func fullServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}))
	t.Cleanup(ts.Close)

	return ts
}

func TestSession_FullDownload(t *testing.T) {
	data := payload(10000)
	ts := rangeServer(t, data)
	dest := filepath.Join(t.TempDir(), "nested", "dir", "game.bin")

	obs := &recordingObserver{}
	s := &transfer.Session{URL: ts.URL, Path: dest, Client: ts.Client()}

	require.NoError(t, s.Run(context.Background(), obs))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, []int64{10000}, obs.totals)
	assert.EqualValues(t, 10000, obs.written)
}

func TestSession_ResumesWithRange(t *testing.T) {
	data := payload(10000)
	ts := rangeServer(t, data)
	dest := filepath.Join(t.TempDir(), "game.bin")
	require.NoError(t, os.WriteFile(dest, data[:4000], 0o644))

	obs := &recordingObserver{}
	s := &transfer.Session{URL: ts.URL, Path: dest, StartByte: 4000, Client: ts.Client()}

	require.NoError(t, s.Run(context.Background(), obs))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, []int64{10000}, obs.totals, "total comes from Content-Range")
	assert.EqualValues(t, 6000, obs.written)
}

func TestSession_RangeIgnored(t *testing.T) {
	data := payload(10000)
	ts := fullServer(t, data)
	dest := filepath.Join(t.TempDir(), "game.bin")
	require.NoError(t, os.WriteFile(dest, data[:4000], 0o644))

	obs := &recordingObserver{}
	s := &transfer.Session{URL: ts.URL, Path: dest, StartByte: 4000, Client: ts.Client()}

	err := s.Run(context.Background(), obs)
	require.ErrorIs(t, err, transfer.ErrRangeIgnored)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Len(t, got, 4000, "partial file must not be appended to")
	assert.Empty(t, obs.totals)
}

func TestSession_MismatchedContentRange(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-9/10")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(make([]byte, 10))
	}))
	defer ts.Close()

	s := &transfer.Session{URL: ts.URL, Path: filepath.Join(t.TempDir(), "f"), StartByte: 5, Client: ts.Client()}

	assert.ErrorIs(t, s.Run(context.Background(), &recordingObserver{}), transfer.ErrRangeIgnored)
}

func TestSession_AlreadyComplete(t *testing.T) {
	data := payload(10000)
	ts := rangeServer(t, data)
	dest := filepath.Join(t.TempDir(), "game.bin")
	require.NoError(t, os.WriteFile(dest, data, 0o644))

	obs := &recordingObserver{}
	s := &transfer.Session{URL: ts.URL, Path: dest, StartByte: 10000, Client: ts.Client()}

	require.NoError(t, s.Run(context.Background(), obs))
	assert.Equal(t, []int64{10000}, obs.totals)
	assert.Zero(t, obs.written)
}

func TestSession_HTTPStatusError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "game.bin")
	s := &transfer.Session{URL: ts.URL, Path: dest, Client: ts.Client()}

	err := s.Run(context.Background(), &recordingObserver{})

	var statusErr *transfer.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestSession_FreshStartPreparesDestinationBeforeRequest(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	staleDir := t.TempDir()
	stale := filepath.Join(staleDir, "game.bin")
	require.NoError(t, os.WriteFile(stale, []byte("old-bytes"), 0o644))

	nested := filepath.Join(t.TempDir(), "newdir", "game.bin")

	tests := map[string]string{
		"truncates an existing file":    stale,
		"creates the missing directory": nested,
	}

	for name, dest := range tests {
		t.Run(name, func(t *testing.T) {
			s := &transfer.Session{URL: ts.URL, Path: dest, Client: ts.Client()}

			err := s.Run(context.Background(), &recordingObserver{})
			assert.Equal(t, transfer.KindHTTP, transfer.KindOf(err))

			got, err := os.ReadFile(dest)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestSession_ResumeFailureKeepsPartialFile(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "game.bin")
	require.NoError(t, os.WriteFile(dest, payload(4000), 0o644))

	s := &transfer.Session{URL: ts.URL, Path: dest, StartByte: 4000, Client: ts.Client()}

	err := s.Run(context.Background(), &recordingObserver{})
	assert.Equal(t, transfer.KindHTTP, transfer.KindOf(err))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload(4000), got)
}

func TestSession_TruncatedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload(5000))
	}))
	defer ts.Close()

	s := &transfer.Session{URL: ts.URL, Path: filepath.Join(t.TempDir(), "game.bin"), Client: ts.Client()}

	err := s.Run(context.Background(), &recordingObserver{})
	assert.Equal(t, transfer.KindNetwork, transfer.KindOf(err))
}

func TestSession_FileSystemError(t *testing.T) {
	data := payload(100)
	ts := rangeServer(t, data)

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	s := &transfer.Session{URL: ts.URL, Path: filepath.Join(blocker, "game.bin"), Client: ts.Client()}

	err := s.Run(context.Background(), &recordingObserver{})

	var fsErr *transfer.FileSystemError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, "mkdir", fsErr.Operation)
}

func TestSession_Superseded(t *testing.T) {
	data := payload(200 * 1024)
	ts := rangeServer(t, data)

	obs := &recordingObserver{limit: 1}
	s := &transfer.Session{URL: ts.URL, Path: filepath.Join(t.TempDir(), "game.bin"), Client: ts.Client()}

	assert.ErrorIs(t, s.Run(context.Background(), obs), transfer.ErrSuperseded)
}

func TestSession_CanceledContext(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload(1000))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	obs := &recordingObserver{}
	s := &transfer.Session{URL: ts.URL, Path: filepath.Join(t.TempDir(), "game.bin"), Client: ts.Client()}

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx, obs) }()

	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()

		return obs.written == 1000
	}, 5*time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after cancellation")
	}
}

func TestSession_SendsUserAgent(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	s := &transfer.Session{URL: ts.URL, Path: filepath.Join(t.TempDir(), "f"), Client: ts.Client(), UserAgent: "game-downloader/1.0"}

	require.NoError(t, s.Run(context.Background(), &recordingObserver{}))
	assert.Equal(t, "game-downloader/1.0", got)
}
