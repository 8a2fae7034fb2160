package jwt

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	s := New("secret", time.Hour)
	token, err := s.GenerateToken(9, "ops", "admin")
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(9), claims.UserID)
	assert.Equal(t, "ops", claims.Login)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "9", claims.Subject)
}

func TestValidateToken_Rejects(t *testing.T) {
	s := New("secret", time.Hour)

	other, _ := New("other", time.Hour).GenerateToken(1, "a", "viewer")
	_, err := s.ValidateToken(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, _ := New("secret", -time.Minute).GenerateToken(1, "a", "viewer")
	_, err = s.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noUser, _ := s.GenerateToken(0, "a", "viewer")
	_, err = s.ValidateToken(noUser)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, Claims{UserID: 1})
	unsigned, err := none.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
