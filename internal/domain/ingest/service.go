package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"opsdash/internal/domain/settings"
	"opsdash/internal/pkg/identity"
	"opsdash/internal/pkg/ratelimit"
)

// IdempotencyWindow is how far back a successful import answers a repeated
// idempotency key.
const IdempotencyWindow = 24 * time.Hour

const DefaultSource = "automation"

// SettingsSource supplies the admin-tunable limits, read on every call.
type SettingsSource interface {
	Current(ctx context.Context) (*settings.Settings, error)
}

type Committer interface {
	Commit(ctx context.Context, records []ParsedRecord, meta CommitMeta) (*CommitResult, error)
}

type SubmitOptions struct {
	IdempotencyKey string
	Source         string
	FileName       string
}

// Outcome is the result of a completed upload, fresh or replayed.
type Outcome struct {
	LogID       string
	RecordCount int
	Summary     Summary
	Warnings    []Warning
	Result      *CommitResult
	// Idempotent is set when a previous import answered the request.
	Idempotent bool
	// Empty is set when the payload held no records and nothing was committed.
	Empty bool
}

type Initiation struct {
	Session   UploadSession
	ExpiresAt time.Time
}

// ChunkOutcome describes an accepted chunk. Outcome is set once the final
// chunk completed the upload.
type ChunkOutcome struct {
	ReceivedBytes int64
	ExpectedBytes int64
	Complete      bool
	Outcome       *Outcome
}

type Service struct {
	sessions *SessionStore
	settings SettingsSource
	limiter  ratelimit.Limiter
	logs     Repository
	engine   Committer
	now      func() time.Time
}

func NewService(sessions *SessionStore, settings SettingsSource, limiter ratelimit.Limiter, logs Repository, engine Committer) *Service {
	return &Service{
		sessions: sessions,
		settings: settings,
		limiter:  limiter,
		logs:     logs,
		engine:   engine,
		now:      time.Now,
	}
}

// Limits returns the settings in force right now.
func (s *Service) Limits(ctx context.Context) (*settings.Settings, error) {
	return s.settings.Current(ctx)
}

// SubmitSingle handles a whole payload delivered in one request.
func (s *Service) SubmitSingle(ctx context.Context, caller *identity.Identity, raw string, opts SubmitOptions) (*Outcome, error) {
	limits, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.checkRate(ctx, caller, limits); err != nil {
		return nil, err
	}
	if prior, err := s.replay(ctx, opts.IdempotencyKey); prior != nil || err != nil {
		return prior, err
	}
	return s.process(ctx, caller, raw, limits, opts)
}

// InitiateChunked opens an upload session for a payload of expectedBytes.
// When the idempotency key already produced a successful import the prior
// outcome is returned and no session is created.
func (s *Service) InitiateChunked(ctx context.Context, caller *identity.Identity, expectedBytes int64, opts SubmitOptions) (*Initiation, *Outcome, error) {
	if expectedBytes <= 0 {
		return nil, nil, ErrMissingLength
	}
	limits, err := s.settings.Current(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := s.checkRate(ctx, caller, limits); err != nil {
		return nil, nil, err
	}
	if prior, err := s.replay(ctx, opts.IdempotencyKey); prior != nil || err != nil {
		return nil, prior, err
	}
	if err := CheckSize(expectedBytes, limits.MaxPayloadBytes); err != nil {
		return nil, nil, err
	}

	ttl := limits.ChunkTTL()
	sess := s.sessions.Create(expectedBytes, caller.Fingerprint, opts.IdempotencyKey, ttl)
	log.Printf("ingest_session_created session_id=%s expected_bytes=%d owner=%s", sess.ID, expectedBytes, caller.Fingerprint)
	return &Initiation{Session: *sess, ExpiresAt: sess.ExpiresAt(ttl)}, nil, nil
}

// AppendChunk accepts one byte range of an open session. Any protocol
// violation deletes the session; the client has to start over.
func (s *Service) AppendChunk(ctx context.Context, caller *identity.Identity, sessionID, contentRange string, chunk []byte, opts SubmitOptions) (*ChunkOutcome, error) {
	limits, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.Get(sessionID, limits.ChunkTTL())
	if err != nil {
		return nil, err
	}
	if sess.OwnerFingerprint != caller.Fingerprint {
		s.abort(sessionID, "owner_mismatch")
		return nil, ErrNotSessionOwner
	}

	cr, err := ParseContentRange(contentRange)
	if err != nil {
		s.abort(sessionID, "malformed_range")
		return nil, err
	}
	if cr.Total != sess.ExpectedBytes {
		s.abort(sessionID, "total_mismatch")
		return nil, fmt.Errorf("%w: declared %d, session expects %d", ErrTotalMismatch, cr.Total, sess.ExpectedBytes)
	}
	if int64(len(chunk)) != cr.Len() {
		s.abort(sessionID, "length_mismatch")
		return nil, fmt.Errorf("%w: range spans %d bytes, body has %d", ErrRangeMismatch, cr.Len(), len(chunk))
	}

	appended, err := s.sessions.Append(sessionID, chunk, cr.Start, cr.End)
	if err != nil {
		log.Printf("ingest_session_aborted session_id=%s reason=%q", sessionID, err.Error())
		return nil, err
	}
	if !appended.Complete {
		return &ChunkOutcome{ReceivedBytes: appended.Received, ExpectedBytes: sess.ExpectedBytes}, nil
	}
	raw := appended.Payload
	log.Printf("ingest_session_assembled session_id=%s bytes=%d", sessionID, len(raw))

	done := &ChunkOutcome{ReceivedBytes: appended.Received, ExpectedBytes: sess.ExpectedBytes, Complete: true}
	if opts.IdempotencyKey == "" {
		opts.IdempotencyKey = sess.IdempotencyKey
	}
	if prior, err := s.replay(ctx, opts.IdempotencyKey); prior != nil || err != nil {
		done.Outcome = prior
		return done, err
	}
	done.Outcome, err = s.process(ctx, caller, raw, limits, opts)
	if err != nil {
		return nil, err
	}
	return done, nil
}

// Abort deletes an open session owned by caller.
func (s *Service) Abort(ctx context.Context, caller *identity.Identity, sessionID string) error {
	limits, err := s.settings.Current(ctx)
	if err != nil {
		return err
	}
	sess, err := s.sessions.Get(sessionID, limits.ChunkTTL())
	if err != nil {
		return err
	}
	if sess.OwnerFingerprint != caller.Fingerprint {
		return ErrNotSessionOwner
	}
	s.abort(sessionID, "client_abort")
	return nil
}

// Status reports the progress of an open session owned by caller.
func (s *Service) Status(ctx context.Context, caller *identity.Identity, sessionID string) (*Initiation, error) {
	limits, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Get(sessionID, limits.ChunkTTL())
	if err != nil {
		return nil, err
	}
	if sess.OwnerFingerprint != caller.Fingerprint {
		return nil, ErrNotSessionOwner
	}
	return &Initiation{Session: sess, ExpiresAt: sess.ExpiresAt(limits.ChunkTTL())}, nil
}

func (s *Service) ListLogs(ctx context.Context, limit int) ([]ImportLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.logs.ListLogs(ctx, limit)
}

// process runs the size check, validation and commit shared by both
// transfer modes.
func (s *Service) process(ctx context.Context, caller *identity.Identity, raw string, limits *settings.Settings, opts SubmitOptions) (*Outcome, error) {
	report, err := Validate(raw, limits.MaxPayloadBytes)
	if err != nil {
		return nil, err
	}
	if !report.Valid() {
		return nil, &ValidationError{Report: report}
	}
	if len(report.Records) == 0 {
		return &Outcome{Summary: report.Summary, Warnings: report.Warnings, Empty: true}, nil
	}

	source := opts.Source
	if source == "" {
		source = DefaultSource
	}
	result, err := s.engine.Commit(ctx, report.Records, CommitMeta{
		Source:   source,
		FileName: opts.FileName,
		Importer: Importer{
			UserID:  caller.UserID,
			Login:   caller.Login,
			Machine: caller.Machine,
		},
		IdempotencyKey:     opts.IdempotencyKey,
		Summary:            report.Summary,
		DefaultEffortHours: limits.DefaultEffortHours,
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{
		LogID:       result.LogID,
		RecordCount: report.Summary.RecordCount,
		Summary:     report.Summary,
		Warnings:    report.Warnings,
		Result:      result,
	}, nil
}

func (s *Service) checkRate(ctx context.Context, caller *identity.Identity, limits *settings.Settings) error {
	if s.limiter == nil {
		return nil
	}
	decision, err := s.limiter.Allow(ctx, "ingest:"+caller.Fingerprint, limits.RateLimitMax, limits.RateLimitWindow())
	if err != nil {
		// A broken limiter backend must not stop ingestion.
		log.Printf("ingest_rate_limit_error owner=%s error=%q", caller.Fingerprint, err.Error())
		return nil
	}
	if !decision.Allowed {
		return &RateLimitError{RetryAfter: decision.RetryAfter}
	}
	return nil
}

// replay looks up a successful import for key inside the idempotency window.
// It returns (nil, nil) when the request has to be processed.
func (s *Service) replay(ctx context.Context, key string) (*Outcome, error) {
	if key == "" {
		return nil, nil
	}
	prior, err := s.logs.FindSuccessfulByKey(ctx, key, s.now().UTC().Add(-IdempotencyWindow))
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if prior == nil {
		return nil, nil
	}

	out := &Outcome{LogID: prior.ID, RecordCount: prior.RecordCount, Idempotent: true, Warnings: []Warning{}}
	if len(prior.Summary) > 0 {
		if err := json.Unmarshal(prior.Summary, &out.Summary); err != nil {
			log.Printf("ingest_replay log_id=%s summary_decode_error=%q", prior.ID, err.Error())
		}
	}
	out.Summary.RecordCount = prior.RecordCount
	log.Printf("ingest_replay idempotency_key=%q log_id=%s", key, prior.ID)
	return out, nil
}

func (s *Service) abort(sessionID, reason string) {
	s.sessions.Delete(sessionID)
	log.Printf("ingest_session_aborted session_id=%s reason=%s", sessionID, reason)
}

// IsNotFound reports whether err means the addressed session is unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}
