// Package oauth define el contrato de los identity providers externos y el
// registro que los resuelve por tenant.
package oauth

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	// ErrUpstream: el provider respondió con error, timeout o payload inválido.
	ErrUpstream = errors.New("oauth: upstream failure")
	// ErrNoEmail: el provider no entregó un email utilizable.
	ErrNoEmail = errors.New("oauth: provider returned no email")
	// ErrUnknownProvider: nombre no registrado o SSO no configurado en el tenant.
	ErrUnknownProvider = errors.New("oauth: unknown provider")
)

// Tokens es la respuesta del token endpoint.
type Tokens struct {
	AccessToken string
	IDToken     string
	TokenType   string
}

// Profile es la identidad verificada por el provider.
type Profile struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

// IdentityProvider es un provider OAuth 2.0 / OIDC con PKCE S256.
type IdentityProvider interface {
	Name() string
	AuthorizationURL(ctx context.Context, redirectURI, state, challenge string) (string, error)
	ExchangeCode(ctx context.Context, code, redirectURI, verifier string) (*Tokens, error)
	FetchProfile(ctx context.Context, t *Tokens) (*Profile, error)
}

// DefaultHTTPTimeout límite de cada llamada al provider.
const DefaultHTTPTimeout = 10 * time.Second

// NewHTTPClient retorna el cliente usado por los providers.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}
