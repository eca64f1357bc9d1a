// Package session emite la sesión local del origen: una cookie con un JWT HS256
// cuyo audience es el host que la recibió.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	"github.com/dropDatabas3/crossauth/internal/tenant"
)

var (
	ErrNoSession = errors.New("session: no session")
	ErrInvalid   = errors.New("session: invalid session")
)

const (
	DefaultCookieName = "__session"
	DefaultTTL        = 12 * time.Hour
	issuer            = "crossauth"
)

// Subject identidad que se asienta en la sesión.
type Subject struct {
	UserID   string
	TenantID string
	Context  repository.AuthContext
}

// Claims del JWT de sesión.
type Claims struct {
	TenantID string `json:"tid"`
	Context  string `json:"ctx"`
	jwtv5.RegisteredClaims
}

type Config struct {
	CookieName string
	TTL        time.Duration
	Cookie     CookieConfig
}

type Manager struct {
	key []byte
	cfg Config
	now func() time.Time
}

func NewManager(key []byte, cfg Config) (*Manager, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("session: key de %d bytes, se requieren al menos 32", len(key))
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Manager{key: key, cfg: cfg, now: time.Now}, nil
}

func (m *Manager) CookieName() string { return m.cfg.CookieName }

// Token firma las claims de s para host.
func (m *Manager) Token(s Subject, host string) (string, error) {
	h, err := tenant.CanonicalHost(host)
	if err != nil {
		return "", err
	}
	now := m.now()
	c := Claims{
		TenantID: s.TenantID,
		Context:  string(s.Context),
		RegisteredClaims: jwtv5.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   s.UserID,
			Audience:  jwtv5.ClaimStrings{h},
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(m.cfg.TTL)),
		},
	}
	return jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, c).SignedString(m.key)
}

// Issue escribe la cookie de sesión para el host del request.
func (m *Manager) Issue(w http.ResponseWriter, r *http.Request, s Subject) error {
	tok, err := m.Token(s, r.Host)
	if err != nil {
		return err
	}
	http.SetCookie(w, BuildCookie(m.cfg.CookieName, tok, m.cfg.Cookie, m.cfg.TTL))
	return nil
}

// Parse valida la cookie del request: firma, exp y aud igual al host actual.
func (m *Manager) Parse(r *http.Request) (*Claims, error) {
	ck, err := r.Cookie(m.cfg.CookieName)
	if err != nil || ck.Value == "" {
		return nil, ErrNoSession
	}
	host, err := tenant.CanonicalHost(r.Host)
	if err != nil {
		return nil, ErrInvalid
	}
	var c Claims
	tok, err := jwtv5.ParseWithClaims(ck.Value, &c, func(*jwtv5.Token) (any, error) { return m.key, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithIssuer(issuer),
		jwtv5.WithAudience(host),
		jwtv5.WithExpirationRequired(),
		jwtv5.WithTimeFunc(m.now),
	)
	if err != nil || !tok.Valid || c.Subject == "" {
		return nil, ErrInvalid
	}
	return &c, nil
}

// Clear borra la cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, BuildDeletionCookie(m.cfg.CookieName, m.cfg.Cookie))
}
