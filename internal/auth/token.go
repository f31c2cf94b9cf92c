package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenKeyLength = 32

// TokenClaims are the claims of a purpose-bound signed token. The audience
// carries the purpose; Params carries the caller's payload.
type TokenClaims struct {
	Params map[string]string `json:"params,omitempty"`
	jwt.RegisteredClaims
}

// Param returns the named payload value or "".
func (c *TokenClaims) Param(name string) string {
	return c.Params[name]
}

// TokenIssuer issues and verifies stateless HS256 tokens. Each purpose is
// signed with its own derived key, so a token minted for one purpose never
// verifies for another.
type TokenIssuer struct {
	keys *KeyGenerator
	now  func() time.Time
}

func NewTokenIssuer(keys *KeyGenerator) *TokenIssuer {
	return &TokenIssuer{keys: keys, now: time.Now}
}

func (t *TokenIssuer) key(purpose string) []byte {
	return t.keys.Generate("signed_token:"+purpose, tokenKeyLength)
}

// Issue signs a token for subject that is valid for purpose until ttl has
// elapsed.
func (t *TokenIssuer) Issue(subject, purpose string, params map[string]string, ttl time.Duration) (string, error) {
	if purpose == "" {
		return "", fmt.Errorf("issue token: empty purpose")
	}
	now := t.now()
	claims := TokenClaims{
		Params: params,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Audience:  jwt.ClaimStrings{purpose},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key(purpose))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks token's signature, purpose and expiry. It returns
// ErrExpired for a genuine token past its expiry and ErrInvalidSignature
// for anything else that fails.
func (t *TokenIssuer) Verify(token, purpose string) (*TokenClaims, error) {
	var claims TokenClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return t.key(purpose), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(purpose),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	switch {
	case err == nil:
		return &claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
}
