package ingest

import "time"

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderTransferMode   = "X-Transfer-Mode"
	HeaderUploadLength   = "X-Upload-Content-Length"
	HeaderSource         = "X-Import-Source"
	HeaderFileName       = "X-File-Name"

	TransferModeChunked = "chunked"
)

// ImportResponse is the body of a completed import.
type ImportResponse struct {
	Success     bool          `json:"success"`
	LogID       string        `json:"logId"`
	RecordCount int           `json:"recordCount"`
	Summary     Summary       `json:"summary"`
	Warnings    []Warning     `json:"warnings"`
	Idempotent  bool          `json:"idempotent,omitempty"`
	Result      *CommitResult `json:"result,omitempty"`
}

type SessionResponse struct {
	Success       bool      `json:"success"`
	SessionID     string    `json:"sessionId"`
	ReceivedBytes int64     `json:"receivedBytes"`
	ExpectedBytes int64     `json:"expectedBytes"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

func newImportResponse(o *Outcome) ImportResponse {
	warnings := o.Warnings
	if warnings == nil {
		warnings = []Warning{}
	}
	return ImportResponse{
		Success:     true,
		LogID:       o.LogID,
		RecordCount: o.RecordCount,
		Summary:     o.Summary,
		Warnings:    warnings,
		Idempotent:  o.Idempotent,
		Result:      o.Result,
	}
}
