// Package oidc implementa un IdentityProvider OpenID Connect genérico:
// discovery, JWKS, verificación del ID token y fallback a userinfo.
// Se usa para Google y para el SSO empresarial de cada tenant.
package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/crossauth/internal/oauth"
)

// GoogleDiscoveryURL preset de Google.
const GoogleDiscoveryURL = "https://accounts.google.com/.well-known/openid-configuration"

const (
	discoveryTTL = 24 * time.Hour
	jwksTTL      = time.Hour
	clockSkew    = 30 * time.Second
)

type discoveryDoc struct {
	Issuer           string `json:"issuer"`
	AuthEndpoint     string `json:"authorization_endpoint"`
	TokenEndpoint    string `json:"token_endpoint"`
	UserinfoEndpoint string `json:"userinfo_endpoint"`
	JWKSURI          string `json:"jwks_uri"`
}

type jwk struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"` // base64url
	E   string `json:"e"` // base64url
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// Config de un provider OIDC.
type Config struct {
	Name         string
	DiscoveryURL string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// Issuers aceptados además del issuer del discovery (Google emite ambos formatos).
	Issuers    []string
	HTTPClient *http.Client
}

type Provider struct {
	cfg  Config
	http *http.Client
	sf   singleflight.Group
	now  func() time.Time

	mu     sync.RWMutex
	disc   *discoveryDoc
	discAt time.Time

	jwks     *jwks
	jwksAt   time.Time
	jwksETag string
}

var _ oauth.IdentityProvider = (*Provider)(nil)

func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "email", "profile"}
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = oauth.NewHTTPClient(0)
	}
	return &Provider{cfg: cfg, http: hc, now: time.Now}
}

// NewGoogle aplica el preset de Google.
func NewGoogle(clientID, clientSecret string, hc *http.Client) *Provider {
	return New(Config{
		Name:         "google",
		DiscoveryURL: GoogleDiscoveryURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Issuers:      []string{"accounts.google.com"},
		HTTPClient:   hc,
	})
}

// SSOFactory construye providers SSO por tenant compartiendo el cliente HTTP.
func SSOFactory(hc *http.Client) oauth.SSOFactory {
	return func(discoveryURL, clientID, clientSecret string) oauth.IdentityProvider {
		return New(Config{
			Name:         oauth.ProviderSSO,
			DiscoveryURL: discoveryURL,
			ClientID:     clientID,
			ClientSecret: clientSecret,
			HTTPClient:   hc,
		})
	}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) discovery(ctx context.Context) (*discoveryDoc, error) {
	p.mu.RLock()
	disc, at := p.disc, p.discAt
	p.mu.RUnlock()
	if disc != nil && p.now().Sub(at) < discoveryTTL {
		return disc, nil
	}

	v, err, _ := p.sf.Do("discovery", func() (any, error) {
		var dd discoveryDoc
		if err := p.getJSON(ctx, p.cfg.DiscoveryURL, "", &dd); err != nil {
			return nil, err
		}
		if dd.AuthEndpoint == "" || dd.TokenEndpoint == "" || dd.JWKSURI == "" {
			return nil, errors.New("incomplete discovery document")
		}
		p.mu.Lock()
		p.disc = &dd
		p.discAt = p.now()
		p.mu.Unlock()
		return &dd, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: discovery: %v", oauth.ErrUpstream, err)
	}
	return v.(*discoveryDoc), nil
}

func (p *Provider) keySet(ctx context.Context, uri string, force bool) (*jwks, error) {
	p.mu.RLock()
	j, at := p.jwks, p.jwksAt
	p.mu.RUnlock()
	if j != nil && !force && p.now().Sub(at) < jwksTTL {
		return j, nil
	}

	v, err, _ := p.sf.Do("jwks", func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, err
		}
		p.mu.RLock()
		etag := p.jwksETag
		p.mu.RUnlock()
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
		resp, err := p.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotModified {
			p.mu.Lock()
			out := p.jwks
			p.jwksAt = p.now()
			p.mu.Unlock()
			if out != nil {
				return out, nil
			}
		}
		if resp.StatusCode/100 != 2 {
			return nil, fmt.Errorf("jwks http %d", resp.StatusCode)
		}
		var jj jwks
		if err := json.NewDecoder(resp.Body).Decode(&jj); err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.jwks = &jj
		p.jwksAt = p.now()
		p.jwksETag = resp.Header.Get("ETag")
		p.mu.Unlock()
		return &jj, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*jwks), nil
}

func (p *Provider) rsaKeyForKid(ctx context.Context, jwksURI, kid string) (*rsa.PublicKey, error) {
	set, err := p.keySet(ctx, jwksURI, false)
	if err != nil {
		return nil, err
	}
	if k := findKey(set, kid); k != nil {
		return k.rsa()
	}
	// rotación de claves: un kid desconocido fuerza un refresh
	set, err = p.keySet(ctx, jwksURI, true)
	if err != nil {
		return nil, err
	}
	if k := findKey(set, kid); k != nil {
		return k.rsa()
	}
	return nil, errors.New("kid not found")
}

func findKey(set *jwks, kid string) *jwk {
	for i := range set.Keys {
		k := &set.Keys[i]
		if k.Kid == kid && strings.EqualFold(k.Kty, "RSA") {
			return k
		}
	}
	return nil
}

func (k *jwk) rsa() (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	e := 65537
	if len(eb) > 0 {
		e = 0
		for _, b := range eb {
			e = (e << 8) | int(b)
		}
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

// AuthorizationURL construye la URL de autorización con PKCE S256.
func (p *Provider) AuthorizationURL(ctx context.Context, redirectURI, state, challenge string) (string, error) {
	disc, err := p.discovery(ctx)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(disc.AuthEndpoint)
	if err != nil {
		return "", fmt.Errorf("%w: authorization endpoint: %v", oauth.ErrUpstream, err)
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", p.cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", strings.Join(p.cfg.Scopes, " "))
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	IDToken          string `json:"id_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (p *Provider) ExchangeCode(ctx context.Context, code, redirectURI, verifier string) (*oauth.Tokens, error) {
	disc, err := p.discovery(ctx)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	form.Set("redirect_uri", redirectURI)
	form.Set("code_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, disc.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: token: %v", oauth.ErrUpstream, err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tr)
	if resp.StatusCode/100 != 2 || tr.Error != "" {
		return nil, fmt.Errorf("%w: token http %d: %s %s", oauth.ErrUpstream, resp.StatusCode, tr.Error, tr.ErrorDescription)
	}
	if tr.AccessToken == "" && tr.IDToken == "" {
		return nil, fmt.Errorf("%w: empty token response", oauth.ErrUpstream)
	}
	return &oauth.Tokens{AccessToken: tr.AccessToken, IDToken: tr.IDToken, TokenType: tr.TokenType}, nil
}

type idClaims struct {
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"` // bool, o "true" en algunos IdPs
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwtv5.RegisteredClaims
}

// FetchProfile verifica el ID token; si falta o no trae email usa userinfo.
func (p *Provider) FetchProfile(ctx context.Context, t *oauth.Tokens) (*oauth.Profile, error) {
	disc, err := p.discovery(ctx)
	if err != nil {
		return nil, err
	}

	var prof *oauth.Profile
	if t.IDToken != "" {
		c, err := p.verifyIDToken(ctx, disc, t.IDToken)
		if err != nil {
			return nil, fmt.Errorf("%w: id_token: %v", oauth.ErrUpstream, err)
		}
		prof = &oauth.Profile{
			Subject:       c.Subject,
			Email:         c.Email,
			EmailVerified: truthy(c.EmailVerified),
			Name:          c.Name,
			AvatarURL:     c.Picture,
		}
	}

	if (prof == nil || prof.Email == "") && disc.UserinfoEndpoint != "" && t.AccessToken != "" {
		var ui struct {
			Sub           string `json:"sub"`
			Email         string `json:"email"`
			EmailVerified any    `json:"email_verified"`
			Name          string `json:"name"`
			Picture       string `json:"picture"`
		}
		if err := p.getJSON(ctx, disc.UserinfoEndpoint, t.AccessToken, &ui); err != nil {
			return nil, fmt.Errorf("%w: userinfo: %v", oauth.ErrUpstream, err)
		}
		// el sub de userinfo debe coincidir con el del ID token
		if prof != nil && ui.Sub != prof.Subject {
			return nil, fmt.Errorf("%w: userinfo subject mismatch", oauth.ErrUpstream)
		}
		if prof == nil {
			prof = &oauth.Profile{Subject: ui.Sub, Name: ui.Name, AvatarURL: ui.Picture}
		}
		prof.Email = ui.Email
		prof.EmailVerified = truthy(ui.EmailVerified)
	}

	if prof == nil || prof.Subject == "" {
		return nil, fmt.Errorf("%w: no subject", oauth.ErrUpstream)
	}
	if prof.Email == "" || !prof.EmailVerified {
		return nil, oauth.ErrNoEmail
	}
	return prof, nil
}

func (p *Provider) verifyIDToken(ctx context.Context, disc *discoveryDoc, raw string) (*idClaims, error) {
	var c idClaims
	tok, err := jwtv5.ParseWithClaims(raw, &c, func(t *jwtv5.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return p.rsaKeyForKid(ctx, disc.JWKSURI, kid)
	},
		jwtv5.WithValidMethods([]string{"RS256"}),
		jwtv5.WithAudience(p.cfg.ClientID),
		jwtv5.WithExpirationRequired(),
		jwtv5.WithLeeway(clockSkew),
		jwtv5.WithTimeFunc(p.now),
	)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("invalid id_token: %v", err)
	}
	if !p.issuerOK(disc, c.Issuer) {
		return nil, fmt.Errorf("bad iss: %s", c.Issuer)
	}
	return &c, nil
}

func (p *Provider) issuerOK(disc *discoveryDoc, iss string) bool {
	if iss == "" {
		return false
	}
	if iss == disc.Issuer {
		return true
	}
	for _, alt := range p.cfg.Issuers {
		if iss == alt {
			return true
		}
	}
	return false
}

func (p *Provider) getJSON(ctx context.Context, uri, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("http %d from %s", resp.StatusCode, uri)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	}
	return false
}
