package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/game_downloader/internal/logctx"
)

const (
	dirPerm  = 0755
	filePerm = 0644

	chunkSize = 32 * 1024
)

// Observer receives the byte accounting of a Session.
type Observer interface {
	// Headers is called once the response was accepted, before any body
	// byte, with the size of the whole file or 0 when unknown.
	Headers(total int64)

	// Chunk is called after n bytes were written to the file. Returning
	// false stops the session with ErrSuperseded.
	Chunk(n int) bool
}

// Session is one attempt at moving the bytes of URL into Path, starting
// at StartByte. A Session is single use.
type Session struct {
	URL       string
	Path      string
	StartByte int64
	Client    *http.Client
	UserAgent string
}

// Run executes the transfer. The destination is prepared before the
// request is sent: its directory is created, and a fresh session (StartByte
// 0) truncates any existing file. The response body and the file are
// released before Run returns, whatever the outcome. A nil error means
// every byte was written and the file was synced and closed.
func (s *Session) Run(ctx context.Context, obs Observer) error {
	logger := logctx.LoggerFromContext(ctx)

	out, err := s.open()
	if err != nil {
		return err
	}

	closed := false
	defer func() {
		if !closed {
			out.Close()
		}
	}()

	resp, err := s.do(ctx)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	total, complete, err := s.accept(resp)
	if err != nil {
		return err
	}

	if complete {
		logger.Debug("partial file already complete", "dest_path", s.Path, "size", humanize.Bytes(uint64(total)))
		obs.Headers(total)

		return s.close(out, &closed)
	}

	logger.Debug("session streaming",
		"dest_path", s.Path,
		"start_byte", s.StartByte,
		"total", humanize.Bytes(uint64(total)),
		"status_code", resp.StatusCode,
	)

	obs.Headers(total)

	if err := s.copy(ctx, out, resp.Body, obs); err != nil {
		return err
	}

	if err := out.Sync(); err != nil {
		return &FileSystemError{Operation: "sync", Path: s.Path, Err: err}
	}

	return s.close(out, &closed)
}

func (s *Session) close(out *os.File, closed *bool) error {
	*closed = true
	if err := out.Close(); err != nil {
		return &FileSystemError{Operation: "close", Path: s.Path, Err: err}
	}

	return nil
}

func (s *Session) do(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, &NetworkError{Operation: "request", URL: s.URL, Err: err}
	}

	if s.StartByte > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", s.StartByte))
	}

	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &NetworkError{Operation: "request", URL: s.URL, Err: err}
	}

	return resp, nil
}

// accept checks the response against the request. complete reports a 416
// whose total equals StartByte, meaning nothing is left to fetch.
func (s *Session) accept(resp *http.Response) (total int64, complete bool, err error) {
	ranged := s.StartByte > 0

	switch {
	case ranged && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		_, _, size, perr := ParseContentRange(resp.Header.Get("Content-Range"))
		if perr == nil && size == s.StartByte {
			return size, true, nil
		}

		return 0, false, ErrRangeIgnored
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return 0, false, &HTTPStatusError{URL: s.URL, StatusCode: resp.StatusCode, Status: resp.Status}
	case !ranged:
		return ResolveTotal(resp, 0), false, nil
	case resp.StatusCode != http.StatusPartialContent:
		return 0, false, ErrRangeIgnored
	}

	start, _, _, perr := ParseContentRange(resp.Header.Get("Content-Range"))
	if perr != nil || start != s.StartByte {
		return 0, false, ErrRangeIgnored
	}

	return ResolveTotal(resp, s.StartByte), false, nil
}

func (s *Session) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(s.Path), dirPerm); err != nil {
		return nil, &FileSystemError{Operation: "mkdir", Path: filepath.Dir(s.Path), Err: err}
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if s.StartByte > 0 {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}

	out, err := os.OpenFile(s.Path, flags, filePerm)
	if err != nil {
		return nil, &FileSystemError{Operation: "open", Path: s.Path, Err: err}
	}

	return out, nil
}

func (s *Session) copy(ctx context.Context, out io.Writer, body io.Reader, obs Observer) error {
	buf := make([]byte, chunkSize)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if ctx.Err() != nil {
				return &NetworkError{Operation: "read", URL: s.URL, Err: ctx.Err()}
			}

			if _, err := out.Write(buf[:n]); err != nil {
				return &FileSystemError{Operation: "write", Path: s.Path, Err: err}
			}

			if !obs.Chunk(n) {
				return ErrSuperseded
			}
		}

		if rerr == io.EOF {
			return nil
		}

		if rerr != nil {
			if ctx.Err() != nil {
				rerr = ctx.Err()
			}

			return &NetworkError{Operation: "read", URL: s.URL, Err: rerr}
		}
	}
}
