// Package code generates and normalizes the short one-time codes users type
// in to finish signing in.
package code

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Alphabet is uppercase letters and digits without the confusable
// characters 0, O, 1, I and L.
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// DefaultLength is the length of sign-in codes.
const DefaultLength = 6

var alphabetMax = big.NewInt(int64(len(Alphabet)))

// Generate returns a uniformly random code of the given length drawn from
// Alphabet using crypto/rand.
func Generate(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("generate code: invalid length %d", length)
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, alphabetMax)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Sanitize normalizes user-typed input: it uppercases and keeps only runes
// from Alphabet. Confusables (0, O, 1, I, L) can never appear in a
// generated code, so they are dropped with spaces, dashes and anything else.
// Sanitize is idempotent.
func Sanitize(raw string) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r < 0x80 && strings.IndexByte(Alphabet, byte(r)) >= 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Valid reports whether c is a sanitized code of the expected length.
func Valid(c string, length int) bool {
	return len(c) == length && Sanitize(c) == c
}
