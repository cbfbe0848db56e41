package transfer_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/game_downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient(t *testing.T) {
	acceptEncoding := make(chan string, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acceptEncoding <- r.Header.Get("Accept-Encoding")
		_, _ = w.Write([]byte("payload"))
	}))
	t.Cleanup(ts.Close)

	client := transfer.NewHTTPClient(transfer.ClientConfig{
		DialTimeout:           time.Second,
		ResponseHeaderTimeout: time.Second,
	})

	assert.Zero(t, client.Timeout, "bodies must not be bounded by an overall timeout")

	dest := filepath.Join(t.TempDir(), "out.bin")
	s := &transfer.Session{URL: ts.URL, Path: dest, Client: client}

	require.NoError(t, s.Run(context.Background(), &recordingObserver{}))
	assert.Empty(t, <-acceptEncoding, "compression must stay disabled")
}
