package settings

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"opsdash/internal/pkg/validator"
)

// FieldErrors is returned by Update when the request breaks a constraint.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	return fmt.Sprintf("invalid settings: %v", map[string]string(f))
}

type Service struct {
	repo     Repository
	defaults Settings
}

// NewService returns a settings service that falls back to defaults until an
// administrator saves the first row.
func NewService(repo Repository, defaults Settings) *Service {
	return &Service{repo: repo, defaults: defaults}
}

func (s *Service) Current(ctx context.Context) (*Settings, error) {
	current, err := s.repo.Get(ctx)
	if errors.Is(err, ErrSettingsNotFound) {
		d := s.defaults
		return &d, nil
	}
	if err != nil {
		return nil, err
	}
	return current, nil
}

func (s *Service) Update(ctx context.Context, req UpdateRequest, userID int64) (*Settings, error) {
	if errs := validator.Validate(req); errs != nil {
		return nil, FieldErrors(errs)
	}

	updated := &Settings{
		MaxPayloadBytes:        req.MaxPayloadBytes,
		RateLimitWindowSeconds: req.RateLimitWindowSeconds,
		RateLimitMax:           req.RateLimitMax,
		ChunkTTLSeconds:        req.ChunkTTLSeconds,
		DefaultEffortHours:     req.DefaultEffortHours,
		UpdatedAt:              time.Now().UTC(),
	}
	if userID != 0 {
		updated.UpdatedBy = &userID
	}
	if err := s.repo.Save(ctx, updated); err != nil {
		return nil, err
	}

	log.Printf("ingest_settings_updated user_id=%d max_payload_bytes=%d rate_limit=%d/%ds chunk_ttl=%ds",
		userID, updated.MaxPayloadBytes, updated.RateLimitMax, updated.RateLimitWindowSeconds, updated.ChunkTTLSeconds)
	return updated, nil
}

// EnsureSeeded writes the defaults as the settings row when none exists.
func (s *Service) EnsureSeeded(ctx context.Context) error {
	_, err := s.repo.Get(ctx)
	if !errors.Is(err, ErrSettingsNotFound) {
		return err
	}
	d := s.defaults
	d.UpdatedAt = time.Now().UTC()
	return s.repo.Save(ctx, &d)
}
