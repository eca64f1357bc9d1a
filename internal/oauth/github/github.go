// Package github implementa el IdentityProvider de GitHub (OAuth 2.0 sin ID token;
// la identidad se obtiene de la API REST).
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dropDatabas3/crossauth/internal/oauth"
)

const (
	DefaultAuthURL  = "https://github.com/login/oauth/authorize"
	DefaultTokenURL = "https://github.com/login/oauth/access_token"
	DefaultAPIURL   = "https://api.github.com"
)

// Config del cliente. Las URLs vacías usan las de github.com.
type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	APIURL       string
	HTTPClient   *http.Client
}

type Provider struct {
	cfg  Config
	http *http.Client
}

var _ oauth.IdentityProvider = (*Provider)(nil)

func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"read:user", "user:email"}
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	hc := cfg.HTTPClient
	if hc == nil {
		hc = oauth.NewHTTPClient(0)
	}
	return &Provider{cfg: cfg, http: hc}
}

func (p *Provider) Name() string { return "github" }

func (p *Provider) AuthorizationURL(_ context.Context, redirectURI, state, challenge string) (string, error) {
	u, err := url.Parse(p.cfg.AuthURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("client_id", p.cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", strings.Join(p.cfg.Scopes, " "))
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("allow_signup", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	Error       string `json:"error,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`
}

func (p *Provider) ExchangeCode(ctx context.Context, code, redirectURI, verifier string) (*oauth.Tokens, error) {
	form := url.Values{}
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("code_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: github token: %v", oauth.ErrUpstream, err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tr); err != nil {
		return nil, fmt.Errorf("%w: github token decode: %v", oauth.ErrUpstream, err)
	}
	// GitHub responde 200 con error en el body
	if tr.Error != "" {
		return nil, fmt.Errorf("%w: github oauth error: %s - %s", oauth.ErrUpstream, tr.Error, tr.ErrorDesc)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: no access_token in response", oauth.ErrUpstream)
	}
	return &oauth.Tokens{AccessToken: tr.AccessToken, TokenType: tr.TokenType}, nil
}

type userInfo struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type emailInfo struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// FetchProfile lee /user y elige el email desde /user/emails:
// primario verificado, si no cualquier verificado. El email público de /user
// no indica verificación y no se usa solo.
func (p *Provider) FetchProfile(ctx context.Context, t *oauth.Tokens) (*oauth.Profile, error) {
	var u userInfo
	if err := p.get(ctx, "/user", t.AccessToken, &u); err != nil {
		return nil, err
	}
	if u.ID == 0 {
		return nil, fmt.Errorf("%w: github user without id", oauth.ErrUpstream)
	}

	var emails []emailInfo
	if err := p.get(ctx, "/user/emails", t.AccessToken, &emails); err != nil {
		return nil, err
	}
	email := pickEmail(emails)
	if email == "" {
		return nil, oauth.ErrNoEmail
	}

	name := u.Name
	if name == "" {
		name = u.Login
	}
	return &oauth.Profile{
		Subject:       strconv.FormatInt(u.ID, 10),
		Email:         email,
		EmailVerified: true,
		Name:          name,
		AvatarURL:     u.AvatarURL,
	}, nil
}

func pickEmail(emails []emailInfo) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email
		}
	}
	return ""
}

func (p *Provider) get(ctx context.Context, path, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.APIURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: github api %s: %v", oauth.ErrUpstream, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: github api %s: status %d", oauth.ErrUpstream, path, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("%w: github api %s decode: %v", oauth.ErrUpstream, path, err)
	}
	return nil
}
