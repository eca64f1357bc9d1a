// Package keys deriva las claves de cada subsistema a partir de la master key.
package keys

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const keyLen = 32

// Etiquetas HKDF. Cambiarlas invalida todo lo firmado o cifrado con la clave previa.
const (
	infoState     = "crossauth/state-signing"
	infoSecretbox = "crossauth/secretbox"
	infoSession   = "crossauth/session"
	infoFork      = "crossauth/fork:"
)

// Set agrupa las claves derivadas.
type Set struct {
	master []byte

	State     []byte
	Secretbox []byte
	Session   []byte
}

// Derive construye el Set. master debe tener al menos 32 bytes.
func Derive(master []byte) (*Set, error) {
	if len(master) < keyLen {
		return nil, fmt.Errorf("keys: master key de %d bytes, se requieren al menos %d", len(master), keyLen)
	}
	s := &Set{master: append([]byte(nil), master...)}
	var err error
	if s.State, err = expand(master, infoState); err != nil {
		return nil, err
	}
	if s.Secretbox, err = expand(master, infoSecretbox); err != nil {
		return nil, err
	}
	if s.Session, err = expand(master, infoSession); err != nil {
		return nil, err
	}
	return s, nil
}

// ForkKey deriva la sal por tenant del modo strict SSO.
func (s *Set) ForkKey(tenantID string) ([]byte, error) {
	return expand(s.master, infoFork+tenantID)
}

// ForkedEmail calcula la clave natural seudónima de una identidad forkeada:
// "fork:" + hex(HMAC-SHA256(forkKey, lower(email))).
func (s *Set) ForkedEmail(tenantID, email string) (string, error) {
	k, err := s.ForkKey(tenantID)
	if err != nil {
		return "", err
	}
	h := hmac.New(sha256.New, k)
	h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "fork:" + hex.EncodeToString(h.Sum(nil)), nil
}

func expand(master []byte, info string) ([]byte, error) {
	out := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("keys: hkdf %s: %w", info, err)
	}
	return out, nil
}
