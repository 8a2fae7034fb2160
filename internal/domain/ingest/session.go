package ingest

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UploadSession accumulates the chunks of one chunked upload.
// ReceivedBytes always equals the summed length of Chunks.
type UploadSession struct {
	ID               string
	ExpectedBytes    int64
	ReceivedBytes    int64
	Chunks           [][]byte
	CreatedAt        time.Time
	OwnerFingerprint string
	IdempotencyKey   string
}

// ExpiresAt is the instant the session stops being retrievable under ttl.
func (s *UploadSession) ExpiresAt(ttl time.Duration) time.Time {
	return s.CreatedAt.Add(ttl)
}

// SessionStore is the in-process registry of in-flight chunked uploads.
// Sessions live only in memory: they do not survive a restart and are not
// shared between instances. Expired sessions are removed lazily on access;
// there is no background sweeper.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*UploadSession
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*UploadSession),
		now:      time.Now,
	}
}

// WithClock replaces the store's time source.
func (s *SessionStore) WithClock(now func() time.Time) *SessionStore {
	s.now = now
	return s
}

// Create registers a new session after sweeping every session older than ttl.
func (s *SessionStore) Create(expectedBytes int64, ownerFingerprint, idempotencyKey string, ttl time.Duration) *UploadSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, sess := range s.sessions {
		if s.expired(sess, ttl, now) {
			delete(s.sessions, id)
		}
	}

	sess := &UploadSession{
		ID:               uuid.NewString(),
		ExpectedBytes:    expectedBytes,
		CreatedAt:        now,
		OwnerFingerprint: ownerFingerprint,
		IdempotencyKey:   idempotencyKey,
	}
	s.sessions[sess.ID] = sess
	return sess
}

// Get returns a snapshot of the session. A session older than ttl is deleted
// and reported as not found.
func (s *SessionStore) Get(id string, ttl time.Duration) (UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return UploadSession{}, ErrSessionNotFound
	}
	if s.expired(sess, ttl, s.now()) {
		delete(s.sessions, id)
		return UploadSession{}, ErrSessionNotFound
	}
	snapshot := *sess
	snapshot.Chunks = nil
	return snapshot, nil
}

// AppendResult reports the state of a session after an accepted chunk.
// Payload is set only when the chunk completed the upload.
type AppendResult struct {
	Received int64
	Complete bool
	Payload  string
}

// Append adds chunk as bytes [rangeStart, rangeEnd] of the upload. The chunk
// must start exactly at the current offset; anything else deletes the
// session. The chunk that lands the last byte assembles the payload and
// removes the session under the same lock, so a concurrent retry finds no
// session rather than a half-finished one.
func (s *SessionStore) Append(id string, chunk []byte, rangeStart, rangeEnd int64) (AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return AppendResult{}, ErrSessionNotFound
	}
	if rangeStart != sess.ReceivedBytes {
		delete(s.sessions, id)
		return AppendResult{}, fmt.Errorf("%w: got %d, expected %d", ErrChunkOutOfSequence, rangeStart, sess.ReceivedBytes)
	}
	if rangeEnd-rangeStart+1 != int64(len(chunk)) {
		delete(s.sessions, id)
		return AppendResult{}, ErrRangeMismatch
	}
	if sess.ReceivedBytes+int64(len(chunk)) > sess.ExpectedBytes {
		delete(s.sessions, id)
		return AppendResult{}, ErrChunkOverflow
	}

	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	sess.Chunks = append(sess.Chunks, buf)
	sess.ReceivedBytes += int64(len(buf))

	res := AppendResult{Received: sess.ReceivedBytes}
	if sess.ReceivedBytes < sess.ExpectedBytes {
		return res, nil
	}

	delete(s.sessions, id)
	var b strings.Builder
	b.Grow(int(sess.ReceivedBytes))
	for _, c := range sess.Chunks {
		b.Write(c)
	}
	res.Complete = true
	res.Payload = b.String()
	return res, nil
}

func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len reports the number of sessions currently held, expired ones included.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) expired(sess *UploadSession, ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(sess.CreatedAt) > ttl
}
