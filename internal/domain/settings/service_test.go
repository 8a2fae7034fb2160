package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"opsdash/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := database.ConnectWithOptions(fmt.Sprintf("file:settings_%s?mode=memory&cache=shared", name), database.Options{Quiet: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&Settings{}))

	return NewService(NewRepository(db), Settings{
		MaxPayloadBytes:        1 << 20,
		RateLimitWindowSeconds: 60,
		RateLimitMax:           30,
		ChunkTTLSeconds:        1800,
	})
}

func TestCurrent_FallsBackToDefaults(t *testing.T) {
	svc := newTestService(t)
	s, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), s.MaxPayloadBytes)
	assert.Equal(t, 30, s.RateLimitMax)
}

func TestUpdate_AppliesImmediately(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Update(ctx, UpdateRequest{MaxPayloadBytes: 2048, RateLimitWindowSeconds: 10, RateLimitMax: 2, ChunkTTLSeconds: 60, DefaultEffortHours: 1}, 7)
	require.NoError(t, err)

	s, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), s.MaxPayloadBytes)
	assert.Equal(t, 2, s.RateLimitMax)
	require.NotNil(t, s.UpdatedBy)
	assert.Equal(t, int64(7), *s.UpdatedBy)

	// A second save overwrites the single row.
	_, err = svc.Update(ctx, UpdateRequest{MaxPayloadBytes: 4096, ChunkTTLSeconds: 60}, 0)
	require.NoError(t, err)
	s, err = svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), s.MaxPayloadBytes)
	assert.Nil(t, s.UpdatedBy)
}

func TestUpdate_RejectsInvalid(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Update(context.Background(), UpdateRequest{MaxPayloadBytes: 10, ChunkTTLSeconds: 5, RateLimitMax: -1}, 1)

	var fieldErrs FieldErrors
	require.True(t, errors.As(err, &fieldErrs))
	assert.Equal(t, "min=1024", fieldErrs["maxPayloadBytes"])
	assert.Equal(t, "min=10", fieldErrs["chunkTtlSeconds"])
	assert.Equal(t, "min=0", fieldErrs["rateLimitMax"])
}

func TestEnsureSeeded_KeepsExistingRow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureSeeded(ctx))
	_, err := svc.Update(ctx, UpdateRequest{MaxPayloadBytes: 9999, ChunkTTLSeconds: 60}, 1)
	require.NoError(t, err)
	require.NoError(t, svc.EnsureSeeded(ctx))

	s, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9999), s.MaxPayloadBytes)
}
