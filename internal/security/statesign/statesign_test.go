package statesign

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Envelope
	Provider string `json:"provider"`
	Tenant   string `json:"tenant"`
}

func newSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := New([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)
	return s
}

func TestSignVerify_RoundTrip(t *testing.T) {
	s := newSigner(t)
	env, err := NewEnvelope(time.Now())
	require.NoError(t, err)
	in := testPayload{Envelope: env, Provider: "google", Tenant: "acme"}

	tok, err := s.Sign(in)
	require.NoError(t, err)

	var out testPayload
	require.NoError(t, s.Verify(tok, &out))
	assert.Equal(t, in, out)
}

func TestVerify_EveryBitFlipIsInvalid(t *testing.T) {
	s := newSigner(t)
	env, _ := NewEnvelope(time.Unix(1700000000, 0))
	tok, err := s.Sign(testPayload{Envelope: env, Provider: "github", Tenant: "acme"})
	require.NoError(t, err)

	for i := 0; i < len(tok); i++ {
		for bit := 0; bit < 8; bit++ {
			b := []byte(tok)
			b[i] ^= 1 << bit
			var out testPayload
			err := s.Verify(string(b), &out)
			require.ErrorIs(t, err, ErrInvalid, "byte %d bit %d", i, bit)
			require.Equal(t, testPayload{}, out, "no debe escribir payload parcial")
		}
	}
}

func TestVerify_OtherSecret(t *testing.T) {
	a := newSigner(t)
	b, err := New([]byte(strings.Repeat("z", 32)))
	require.NoError(t, err)

	tok, _ := a.Sign(map[string]string{"x": "y"})
	var out map[string]string
	assert.ErrorIs(t, b.Verify(tok, &out), ErrInvalid)
}

func TestVerify_Malformed(t *testing.T) {
	s := newSigner(t)
	for _, tok := range []string{"", ".", "abc", "abc.", ".abc", "a.b.c", "!!!.???"} {
		var out map[string]any
		assert.ErrorIs(t, s.Verify(tok, &out), ErrInvalid, tok)
	}
}

func TestNew_ShortSecret(t *testing.T) {
	_, err := New([]byte("short"))
	assert.Error(t, err)
}

func TestEnvelope_Fresh(t *testing.T) {
	now := time.Unix(1700000000, 0)
	env := Envelope{Nonce: "aa", IssuedAt: now.Unix()}

	assert.True(t, env.Fresh(now.Add(4*time.Minute), MaxAgeOAuthState))
	assert.False(t, env.Fresh(now.Add(6*time.Minute), MaxAgeOAuthState))
	assert.False(t, env.Fresh(now.Add(-time.Minute), MaxAgeOAuthState), "emitido en el futuro")
	assert.False(t, Envelope{IssuedAt: now.Unix()}.Fresh(now, time.Minute), "sin nonce")
}

func TestNonce_Length(t *testing.T) {
	n, err := Nonce()
	require.NoError(t, err)
	assert.Len(t, n, 32)

	m, _ := Nonce()
	assert.NotEqual(t, n, m)
}
