package ingest

import (
	"fmt"
	"strconv"
	"strings"
)

// ContentRange is a parsed "bytes <start>-<end>/<total>" header. End is
// inclusive.
type ContentRange struct {
	Start int64
	End   int64
	Total int64
}

func (r ContentRange) Len() int64 { return r.End - r.Start + 1 }

func (r ContentRange) String() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.Total)
}

func ParseContentRange(header string) (ContentRange, error) {
	unit, rest, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(unit, "bytes") {
		return ContentRange{}, ErrMalformedRange
	}
	span, total, ok := strings.Cut(strings.TrimSpace(rest), "/")
	if !ok {
		return ContentRange{}, ErrMalformedRange
	}
	startStr, endStr, ok := strings.Cut(span, "-")
	if !ok {
		return ContentRange{}, ErrMalformedRange
	}

	var r ContentRange
	var err error
	if r.Start, err = parseOffset(startStr); err != nil {
		return ContentRange{}, err
	}
	if r.End, err = parseOffset(endStr); err != nil {
		return ContentRange{}, err
	}
	if r.Total, err = parseOffset(total); err != nil {
		return ContentRange{}, err
	}
	if r.End < r.Start || r.Total == 0 || r.End >= r.Total {
		return ContentRange{}, ErrMalformedRange
	}
	return r, nil
}

func parseOffset(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, ErrMalformedRange
	}
	return n, nil
}

// ResumeRange is the Range header value announcing the bytes received so far.
func ResumeRange(received int64) string {
	if received <= 0 {
		return ""
	}
	return fmt.Sprintf("bytes=0-%d", received-1)
}
