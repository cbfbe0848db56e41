package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrRangeIgnored is returned when the server answered a ranged request
	// with something other than the requested partial content. The partial
	// file cannot be extended and the download has to start over.
	ErrRangeIgnored = errors.New("transfer: server ignored range request")

	// ErrSuperseded is returned when the observer stopped accepting bytes,
	// because the session was paused, canceled or replaced.
	ErrSuperseded = errors.New("transfer: session superseded")
)

// ErrorKind classifies a failed session for display.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindNetwork    ErrorKind = "network"
	KindHTTP       ErrorKind = "http"
	KindFileSystem ErrorKind = "filesystem"
	KindUnknown    ErrorKind = "unknown"
)

// NetworkError represents failures talking to the origin: DNS, TLS,
// connection resets, timeouts and truncated bodies.
type NetworkError struct {
	Operation string // "request" or "read"
	URL       string
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s of %s: %v", e.Operation, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPStatusError represents a response whose status cannot be used.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected response from %s: %s", e.URL, e.Status)
}

// FileSystemError represents failures on the destination file: disk full,
// permission denied, invalid path.
type FileSystemError struct {
	Operation string // mkdir, open, write, sync, close
	Path      string
	Err       error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("file error during %s of %s: %v", e.Operation, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

// KindOf reports the ErrorKind of err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var (
		netErr    *NetworkError
		statusErr *HTTPStatusError
		fsErr     *FileSystemError
	)

	switch {
	case errors.As(err, &fsErr):
		return KindFileSystem
	case errors.As(err, &statusErr):
		return KindHTTP
	case errors.As(err, &netErr):
		return KindNetwork
	default:
		return KindUnknown
	}
}
