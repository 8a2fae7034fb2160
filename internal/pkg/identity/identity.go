// Package identity turns an inbound credential into the caller identity the
// ingestion core works with. The core only ever sees the resulting
// fingerprint; credentials never leave this package.
package identity

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"opsdash/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/zeebo/blake3"
)

var (
	ErrMissingCredential = errors.New("credential is required")
	ErrInvalidCredential = errors.New("credential is not valid")
	ErrDisabledKey       = errors.New("credential has been disabled")
)

// Identity is an authenticated caller.
type Identity struct {
	// Fingerprint is a stable digest of the credential, used to bind upload
	// sessions and rate-limit budgets to the caller.
	Fingerprint string
	// Login names the account imports are attributed to.
	Login   string
	UserID  int64
	Role    string
	Machine bool
}

type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*Identity, error)
}

// Fingerprint derives the identity fingerprint of a credential.
func Fingerprint(credential string) string {
	sum := blake3.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:16])
}

// APIKeyAuthenticator accepts statically configured automation keys.
type APIKeyAuthenticator struct {
	keys []apiKey
}

type apiKey struct {
	name     string
	digest   [32]byte
	disabled bool
}

// NewAPIKeyAuthenticator builds an authenticator from name -> key pairs. A
// name prefixed with "!" is kept but rejected, so a revoked key is reported
// as forbidden rather than unknown.
func NewAPIKeyAuthenticator(keys map[string]string) *APIKeyAuthenticator {
	a := &APIKeyAuthenticator{}
	for name, key := range keys {
		if key == "" {
			continue
		}
		disabled := strings.HasPrefix(name, "!")
		a.keys = append(a.keys, apiKey{
			name:     strings.TrimPrefix(name, "!"),
			digest:   blake3.Sum256([]byte(key)),
			disabled: disabled,
		})
	}
	return a
}

func (a *APIKeyAuthenticator) Authenticate(_ context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}
	digest := blake3.Sum256([]byte(credential))
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare(digest[:], k.digest[:]) != 1 {
			continue
		}
		if k.disabled {
			return nil, ErrDisabledKey
		}
		return &Identity{
			Fingerprint: hex.EncodeToString(digest[:16]),
			Login:       "system:" + k.name,
			Role:        "system",
			Machine:     true,
		}, nil
	}
	return nil, ErrInvalidCredential
}

// TokenAuthenticator accepts dashboard session tokens, so a signed-in user
// can push an import manually.
type TokenAuthenticator struct {
	jwt *jwt.Service
}

func NewTokenAuthenticator(j *jwt.Service) *TokenAuthenticator {
	return &TokenAuthenticator{jwt: j}
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}
	claims, err := a.jwt.ValidateToken(credential)
	if err != nil {
		return nil, ErrInvalidCredential
	}
	return &Identity{
		// Bound to the user, not the token, so a refreshed token can keep
		// feeding the same upload session.
		Fingerprint: Fingerprint(fmt.Sprintf("user:%d", claims.UserID)),
		Login:       claims.Login,
		UserID:      claims.UserID,
		Role:        claims.Role,
	}, nil
}

// Chain tries each authenticator in order. A terminal rejection (disabled
// credential) stops the chain.
type Chain []Authenticator

func (c Chain) Authenticate(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}
	for _, a := range c {
		id, err := a.Authenticate(ctx, credential)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, ErrDisabledKey) {
			return nil, err
		}
	}
	return nil, ErrInvalidCredential
}

// ContextKey is the gin context key the authenticated *Identity is stored
// under.
const ContextKey = "identity"

// FromContext returns the identity stored by the auth middleware.
func FromContext(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(ContextKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*Identity)
	return id, ok && id != nil
}
