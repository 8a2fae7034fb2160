package identity

import (
	"context"
	"testing"
	"time"

	"opsdash/internal/pkg/jwt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyAuthenticator(t *testing.T) {
	a := NewAPIKeyAuthenticator(map[string]string{"etl": "k1", "!old": "k2", "empty": ""})
	ctx := context.Background()

	id, err := a.Authenticate(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "system:etl", id.Login)
	assert.True(t, id.Machine)
	assert.Equal(t, Fingerprint("k1"), id.Fingerprint)
	assert.Len(t, id.Fingerprint, 32)

	_, err = a.Authenticate(ctx, "k2")
	assert.ErrorIs(t, err, ErrDisabledKey)
	_, err = a.Authenticate(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	_, err = a.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestTokenAuthenticator_FingerprintFollowsUser(t *testing.T) {
	j := jwt.New("secret", time.Hour)
	a := NewTokenAuthenticator(j)

	t1, err := j.GenerateToken(3, "ops", "admin")
	require.NoError(t, err)
	// A later token for the same user.
	t2, err := jwt.New("secret", 2*time.Hour).GenerateToken(3, "ops", "admin")
	require.NoError(t, err)

	id1, err := a.Authenticate(context.Background(), t1)
	require.NoError(t, err)
	id2, err := a.Authenticate(context.Background(), t2)
	require.NoError(t, err)
	assert.Equal(t, id1.Fingerprint, id2.Fingerprint)
	assert.Equal(t, int64(3), id1.UserID)
	assert.False(t, id1.Machine)
}

func TestChain(t *testing.T) {
	j := jwt.New("secret", time.Hour)
	chain := Chain{NewAPIKeyAuthenticator(map[string]string{"etl": "k1", "!old": "k2"}), NewTokenAuthenticator(j)}
	ctx := context.Background()

	token, err := j.GenerateToken(1, "ops", "viewer")
	require.NoError(t, err)
	id, err := chain.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "ops", id.Login)

	_, err = chain.Authenticate(ctx, "k2")
	assert.ErrorIs(t, err, ErrDisabledKey)
	_, err = chain.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}
