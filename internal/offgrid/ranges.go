package offgrid

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
)

var rangeRe = regexp.MustCompile(`^bytes=(\d+)-(\d*)$`)

const defaultMediaType = "video/mp4"

// SliceRange answers rangeHeader from a full payload. Without a range the
// payload is returned as stored; otherwise the result is 206 or 416. The
// function is pure: the same input always yields byte-identical output.
func SliceRange(full *Response, rangeHeader string) *Response {
	if rangeHeader == "" {
		return &Response{Status: full.Status, Header: cloneHeader(full.Header), Body: full.Body, Source: full.Source}
	}

	size := int64(len(full.Body))
	m := rangeRe.FindStringSubmatch(rangeHeader)
	if m == nil {
		return notSatisfiable(-1, full.Source)
	}
	// The pattern admits only digits, so a parse error is an overflow: a start
	// past any payload, or an end to clamp.
	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return notSatisfiable(size, full.Source)
	}
	end := size - 1
	if m[2] != "" {
		if reqEnd, err := strconv.ParseInt(m[2], 10, 64); err == nil {
			end = min(reqEnd, size-1)
		}
	}
	if start >= size || start > end {
		return notSatisfiable(size, full.Source)
	}

	body := make([]byte, end-start+1)
	copy(body, full.Body[start:end+1])

	ct := full.Header.Get("Content-Type")
	if ct == "" {
		ct = defaultMediaType
	}
	h := make(http.Header)
	h.Set("Content-Type", ct)
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	return &Response{Status: http.StatusPartialContent, Header: h, Body: body, Source: full.Source}
}

// notSatisfiable builds a 416; size < 0 means the header could not be parsed
// and no Content-Range is attached.
func notSatisfiable(size int64, source string) *Response {
	h := make(http.Header)
	if size >= 0 {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
	}
	return &Response{Status: http.StatusRequestedRangeNotSatisfiable, Header: h, Source: source}
}
