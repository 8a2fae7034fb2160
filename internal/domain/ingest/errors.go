package ingest

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSessionNotFound    = errors.New("upload session not found")
	ErrNotSessionOwner    = errors.New("upload session belongs to another credential")
	ErrChunkOutOfSequence = errors.New("chunk does not start at the current upload offset")
	ErrChunkOverflow      = errors.New("chunk extends past the declared upload size")
	ErrRangeMismatch      = errors.New("chunk length does not match the declared byte range")
	ErrTotalMismatch      = errors.New("declared total size does not match the upload session")
	ErrMalformedRange     = errors.New("malformed Content-Range header")
	ErrMissingLength      = errors.New("chunked upload requires a positive X-Upload-Content-Length")
	ErrPayloadTooLarge    = errors.New("payload exceeds the configured size limit")
	ErrImporterMissing    = errors.New("importing identity does not exist")
)

// IsProtocolError reports whether err is a transfer protocol violation. Every
// one of them aborts the upload session it occurred on.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrChunkOutOfSequence) ||
		errors.Is(err, ErrChunkOverflow) ||
		errors.Is(err, ErrRangeMismatch) ||
		errors.Is(err, ErrTotalMismatch) ||
		errors.Is(err, ErrMalformedRange) ||
		errors.Is(err, ErrMissingLength)
}

// ValidationError carries the full validator report of a rejected payload.
type ValidationError struct {
	Report *Report
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payload failed validation with %d error(s)", len(e.Report.Errors)+e.Report.TruncatedErrors)
}

// RateLimitError is returned when the caller exhausted its request budget.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// CommitError wraps a failed merge. The import log row LogID is marked failed
// and the record store is unchanged.
type CommitError struct {
	LogID string
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s failed: %v", e.LogID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
