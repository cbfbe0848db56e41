package transfer

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// unknownSize marks a Content-Range whose part is "*".
const unknownSize = -1

var errMalformedContentRange = errors.New("malformed Content-Range")

// ParseContentRange parses "bytes <start>-<end>/<total>" and the
// unsatisfied-range form "bytes */<total>". Missing parts are reported as -1.
func ParseContentRange(header string) (start, end, total int64, err error) {
	unit, value, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(unit, "bytes") {
		return 0, 0, 0, fmt.Errorf("%w: %q", errMalformedContentRange, header)
	}

	rng, size, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", errMalformedContentRange, header)
	}

	total = unknownSize
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil || total < 0 {
			return 0, 0, 0, fmt.Errorf("%w: %q", errMalformedContentRange, header)
		}
	}

	if rng == "*" {
		return unknownSize, unknownSize, total, nil
	}

	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", errMalformedContentRange, header)
	}

	if start, err = strconv.ParseInt(first, 10, 64); err != nil || start < 0 {
		return 0, 0, 0, fmt.Errorf("%w: %q", errMalformedContentRange, header)
	}

	if end, err = strconv.ParseInt(last, 10, 64); err != nil || end < start {
		return 0, 0, 0, fmt.Errorf("%w: %q", errMalformedContentRange, header)
	}

	return start, end, total, nil
}

// ResolveTotal returns the size of the whole file described by resp, given
// the offset the request started at. Content-Range wins over Content-Length,
// which on a ranged response only covers the remaining bytes. Zero means
// unknown.
func ResolveTotal(resp *http.Response, startByte int64) int64 {
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if _, _, total, err := ParseContentRange(cr); err == nil && total > 0 {
			return total
		}
	}

	if resp.ContentLength > 0 {
		return resp.ContentLength + startByte
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > 0 {
			return n + startByte
		}
	}

	return 0
}
