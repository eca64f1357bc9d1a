// Package statesign firma payloads JSON pequeños con HMAC-SHA256.
//
// El signer solo prueba integridad. Frescura y single-use son responsabilidad
// del llamador (ver Envelope.Fresh y los MaxAge de cada flujo).
//
// Formato del token: base64url(payload) "." base64url(hmac).
package statesign

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Ventanas de frescura por flujo.
const (
	MaxAgeOAuthState    = 5 * time.Minute
	MaxAgeOTPCode       = 10 * time.Minute
	MaxAgeTransferToken = 60 * time.Second
)

const minSecretLen = 32

// ErrInvalid cubre cualquier falla de estructura o firma. No distingue causas.
var ErrInvalid = errors.New("statesign: invalid token")

// Strict rechaza bits de relleno distintos de cero: un token tiene una sola codificación.
var enc = base64.RawURLEncoding.Strict()

// Signer firma y verifica tokens con un secreto fijo.
type Signer struct {
	secret []byte
}

// New crea un Signer. El secreto debe tener al menos 32 bytes.
func New(secret []byte) (*Signer, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("statesign: secreto de %d bytes, se requieren al menos %d", len(secret), minSecretLen)
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Signer{secret: s}, nil
}

// Sign serializa payload y devuelve el token firmado.
func (s *Signer) Sign(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("statesign: marshal: %w", err)
	}
	return enc.EncodeToString(raw) + "." + enc.EncodeToString(s.mac(raw)), nil
}

// Verify valida la firma y decodifica el payload en out.
// out solo se escribe si la firma es válida.
func (s *Signer) Verify(token string, out any) error {
	p, sig, ok := strings.Cut(token, ".")
	if !ok || p == "" || sig == "" || strings.Contains(sig, ".") {
		return ErrInvalid
	}
	raw, err := enc.DecodeString(p)
	if err != nil {
		return ErrInvalid
	}
	got, err := enc.DecodeString(sig)
	if err != nil {
		return ErrInvalid
	}
	if !hmac.Equal(got, s.mac(raw)) {
		return ErrInvalid
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return ErrInvalid
	}
	return nil
}

func (s *Signer) mac(b []byte) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write(b)
	return h.Sum(nil)
}

// Envelope va embebido en todo payload firmado.
type Envelope struct {
	Nonce    string `json:"nonce"`
	IssuedAt int64  `json:"iat"`
}

// NewEnvelope genera un nonce de 16 bytes (hex) con timestamp now.
func NewEnvelope(now time.Time) (Envelope, error) {
	n, err := Nonce()
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Nonce: n, IssuedAt: now.Unix()}, nil
}

// Fresh reporta si el envelope fue emitido hace menos de maxAge.
// Timestamps en el futuro (más de 30s de skew) se rechazan.
func (e Envelope) Fresh(now time.Time, maxAge time.Duration) bool {
	if e.IssuedAt == 0 || e.Nonce == "" {
		return false
	}
	issued := time.Unix(e.IssuedAt, 0)
	if issued.After(now.Add(30 * time.Second)) {
		return false
	}
	return now.Sub(issued) <= maxAge
}

// Nonce retorna 16 bytes aleatorios en hex.
func Nonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("statesign: nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
