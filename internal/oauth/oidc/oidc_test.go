package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/crossauth/internal/oauth"
)

type idp struct {
	srv       *httptest.Server
	key       *rsa.PrivateKey
	claims    jwtv5.MapClaims
	userinfo  map[string]any
	form      url.Values
	discHits  atomic.Int32
	omitIDTok bool
}

func newIDP(t *testing.T) *idp {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	s := &idp{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		s.discHits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 s.srv.URL,
			"authorization_endpoint": s.srv.URL + "/authorize",
			"token_endpoint":         s.srv.URL + "/token",
			"userinfo_endpoint":      s.srv.URL + "/userinfo",
			"jwks_uri":               s.srv.URL + "/jwks",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA", "alg": "RS256", "kid": "k1",
			"n": base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e": base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		s.form = r.PostForm
		resp := map[string]any{"access_token": "at-1", "token_type": "Bearer"}
		if !s.omitIDTok {
			tok := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, s.claims)
			tok.Header["kid"] = "k1"
			signed, err := tok.SignedString(key)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			resp["id_token"] = signed
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(s.userinfo)
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)

	s.claims = jwtv5.MapClaims{
		"iss":            s.srv.URL,
		"sub":            "user-1",
		"aud":            "client-1",
		"exp":            time.Now().Add(time.Hour).Unix(),
		"iat":            time.Now().Unix(),
		"email":          "ana@corp.com",
		"email_verified": true,
		"name":           "Ana",
	}
	return s
}

func (s *idp) provider() *Provider {
	return New(Config{
		Name:         "sso",
		DiscoveryURL: s.srv.URL + "/.well-known/openid-configuration",
		ClientID:     "client-1",
		ClientSecret: "secret",
		HTTPClient:   s.srv.Client(),
	})
}

func TestAuthorizationURL_CarriesPKCE(t *testing.T) {
	s := newIDP(t)
	p := s.provider()

	raw, err := p.AuthorizationURL(context.Background(), "https://auth.example.app/auth/oauth/callback", "sso:abc", "chal")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, "sso:abc", q.Get("state"))
	assert.Equal(t, "chal", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "client-1", q.Get("client_id"))

	_, err = p.AuthorizationURL(context.Background(), "r", "s", "c")
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.discHits.Load(), "discovery cacheado")
}

func TestExchangeAndProfile(t *testing.T) {
	s := newIDP(t)
	p := s.provider()
	ctx := context.Background()

	tok, err := p.ExchangeCode(ctx, "code-1", "https://r/cb", "verifier-1")
	require.NoError(t, err)
	assert.Equal(t, "verifier-1", s.form.Get("code_verifier"))
	assert.Equal(t, "code-1", s.form.Get("code"))

	prof, err := p.FetchProfile(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", prof.Subject)
	assert.Equal(t, "ana@corp.com", prof.Email)
	assert.True(t, prof.EmailVerified)
}

func TestFetchProfile_RejectsBadAudience(t *testing.T) {
	s := newIDP(t)
	s.claims["aud"] = "other-client"
	p := s.provider()
	ctx := context.Background()

	tok, err := p.ExchangeCode(ctx, "c", "r", "v")
	require.NoError(t, err)
	_, err = p.FetchProfile(ctx, tok)
	assert.ErrorIs(t, err, oauth.ErrUpstream)
}

func TestFetchProfile_RejectsBadIssuer(t *testing.T) {
	s := newIDP(t)
	s.claims["iss"] = "https://evil.example"
	p := s.provider()
	ctx := context.Background()

	tok, err := p.ExchangeCode(ctx, "c", "r", "v")
	require.NoError(t, err)
	_, err = p.FetchProfile(ctx, tok)
	assert.ErrorIs(t, err, oauth.ErrUpstream)
}

func TestFetchProfile_RejectsExpired(t *testing.T) {
	s := newIDP(t)
	s.claims["exp"] = time.Now().Add(-time.Hour).Unix()
	p := s.provider()
	ctx := context.Background()

	tok, err := p.ExchangeCode(ctx, "c", "r", "v")
	require.NoError(t, err)
	_, err = p.FetchProfile(ctx, tok)
	assert.ErrorIs(t, err, oauth.ErrUpstream)
}

func TestFetchProfile_UnverifiedEmail(t *testing.T) {
	s := newIDP(t)
	s.claims["email_verified"] = false
	p := s.provider()
	ctx := context.Background()

	tok, err := p.ExchangeCode(ctx, "c", "r", "v")
	require.NoError(t, err)
	_, err = p.FetchProfile(ctx, tok)
	assert.ErrorIs(t, err, oauth.ErrNoEmail)
}

func TestFetchProfile_UserinfoFallback(t *testing.T) {
	s := newIDP(t)
	s.omitIDTok = true
	s.userinfo = map[string]any{"sub": "user-9", "email": "bob@corp.com", "email_verified": "true", "name": "Bob"}
	p := s.provider()
	ctx := context.Background()

	tok, err := p.ExchangeCode(ctx, "c", "r", "v")
	require.NoError(t, err)
	prof, err := p.FetchProfile(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "user-9", prof.Subject)
	assert.Equal(t, "bob@corp.com", prof.Email)
}

func TestFetchProfile_UserinfoSubjectMismatch(t *testing.T) {
	s := newIDP(t)
	delete(s.claims, "email")
	s.userinfo = map[string]any{"sub": "someone-else", "email": "x@corp.com", "email_verified": true}
	p := s.provider()
	ctx := context.Background()

	tok, err := p.ExchangeCode(ctx, "c", "r", "v")
	require.NoError(t, err)
	_, err = p.FetchProfile(ctx, tok)
	assert.ErrorIs(t, err, oauth.ErrUpstream)
}

func TestDiscoveryFailureIsUpstream(t *testing.T) {
	p := New(Config{Name: "sso", DiscoveryURL: "http://127.0.0.1:1/nope", ClientID: "c"})
	_, err := p.AuthorizationURL(context.Background(), "r", "s", "c")
	assert.ErrorIs(t, err, oauth.ErrUpstream)
}
