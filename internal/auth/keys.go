package auth

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the shortest secret NewKeyGenerator accepts.
const MinSecretLength = 32

// KeyGenerator derives independent keys from one application secret, one
// per purpose string.
type KeyGenerator struct {
	secret []byte
}

func NewKeyGenerator(secret string) (*KeyGenerator, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("secret key base must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	return &KeyGenerator{secret: []byte(secret)}, nil
}

// Generate returns length bytes of key material bound to purpose. The same
// purpose always yields the same key.
func (g *KeyGenerator) Generate(purpose string, length int) []byte {
	key := make([]byte, length)
	r := hkdf.New(sha256.New, g.secret, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		// Only reachable for length > 255*sha256.Size.
		panic(fmt.Sprintf("derive %q key: %v", purpose, err))
	}
	return key
}
