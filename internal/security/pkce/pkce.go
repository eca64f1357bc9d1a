// Package pkce genera pares verifier/challenge (RFC 7636, método S256).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Method es el único método soportado.
const Method = "S256"

// Pair es un par verifier/challenge.
type Pair struct {
	Verifier  string
	Challenge string
}

// New genera un verifier de 43 caracteres (32 bytes base64url) y su challenge.
func New() (Pair, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return Pair{}, fmt.Errorf("pkce: verifier random: %w", err)
	}
	v := base64.RawURLEncoding.EncodeToString(b)
	return Pair{Verifier: v, Challenge: Challenge(v)}, nil
}

// Challenge calcula base64url(sha256(verifier)).
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
