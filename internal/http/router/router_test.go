package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	"github.com/dropDatabas3/crossauth/internal/http/controllers"
	"github.com/dropDatabas3/crossauth/internal/identity"
	"github.com/dropDatabas3/crossauth/internal/metrics"
	"github.com/dropDatabas3/crossauth/internal/oauth"
	"github.com/dropDatabas3/crossauth/internal/otp"
	"github.com/dropDatabas3/crossauth/internal/rate"
	"github.com/dropDatabas3/crossauth/internal/security/keys"
	"github.com/dropDatabas3/crossauth/internal/security/secretbox"
	"github.com/dropDatabas3/crossauth/internal/security/statesign"
	"github.com/dropDatabas3/crossauth/internal/session"
	"github.com/dropDatabas3/crossauth/internal/social"
	"github.com/dropDatabas3/crossauth/internal/store/memory"
	"github.com/dropDatabas3/crossauth/internal/tenant"
	"github.com/dropDatabas3/crossauth/internal/transfer"
)

const (
	brokerHost  = "auth.example.app"
	tenantHost  = "acme.example.app"
	customHost  = "app.acme.com"
	redirectURI = "https://" + brokerHost + "/auth/oauth/callback"
)

type mail struct {
	to, code string
}

type captureNotifier struct {
	sent chan mail
}

func (c *captureNotifier) SendOTPEmail(_ context.Context, to, code, _ string) error {
	c.sent <- mail{to: to, code: code}
	return nil
}

func (c *captureNotifier) SendInvitationEmail(context.Context, string, string, string, string) error {
	return nil
}

type fakeIDP struct{}

func (fakeIDP) Name() string { return "github" }

func (fakeIDP) AuthorizationURL(_ context.Context, redirect, state, challenge string) (string, error) {
	q := url.Values{"redirect_uri": {redirect}, "state": {state}, "code_challenge": {challenge}}
	return "https://idp.test/authorize?" + q.Encode(), nil
}

func (fakeIDP) ExchangeCode(_ context.Context, code, _, verifier string) (*oauth.Tokens, error) {
	if code != "good" || verifier == "" {
		return nil, oauth.ErrUpstream
	}
	return &oauth.Tokens{AccessToken: "at"}, nil
}

func (fakeIDP) FetchProfile(context.Context, *oauth.Tokens) (*oauth.Profile, error) {
	return &oauth.Profile{Subject: "gh-7", Email: "eve@acme.com", EmailVerified: true, Name: "Eve"}, nil
}

type app struct {
	handler  http.Handler
	dir      *memory.Store
	mails    *captureNotifier
	metrics  *metrics.Metrics
	ready    error
	tenantID string
}

func newApp(t *testing.T, opts ...func(*Deps)) *app {
	t.Helper()
	ctx := context.Background()
	dir := memory.New()
	ten, err := dir.CreateTenant(ctx, repository.CreateTenantInput{
		Slug: "acme", Name: "Acme", Subdomain: tenantHost, PortalAuthEnabled: true,
		Providers: []repository.ProviderSetting{{Name: "github", TeamEnabled: true, PortalEnabled: true}},
	})
	require.NoError(t, err)
	_, err = dir.AddDomain(ctx, ten.ID, customHost)
	require.NoError(t, err)
	require.NoError(t, dir.VerifyDomain(ctx, ten.ID, customHost))

	ks, err := keys.Derive(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	signer, err := statesign.New(ks.State)
	require.NoError(t, err)
	box, err := secretbox.New(ks.Secretbox)
	require.NoError(t, err)
	sessions, err := session.NewManager(ks.Session, session.Config{})
	require.NoError(t, err)
	m, err := metrics.New()
	require.NoError(t, err)

	a := &app{dir: dir, mails: &captureNotifier{sent: make(chan mail, 8)}, metrics: m, tenantID: ten.ID}
	limiter := rate.NewGate(rate.NewMemoryLimiter(), map[rate.Op]rate.Rule{
		rate.OpFinderSend: {Limit: 2, Window: time.Minute},
	}, m.RateRejected)
	resolver := tenant.NewResolver(dir)
	gate := identity.NewGate(dir)
	broker := transfer.NewBroker(transfer.NewDirectoryStore(dir), 0)

	c := controllers.New(controllers.Deps{
		OTP: otp.NewService(dir, gate, a.mails, limiter, m, otp.Config{}),
		Social: social.NewService(social.Deps{
			Resolver:  resolver,
			Directory: dir,
			Providers: oauth.NewRegistry(nil, box, fakeIDP{}),
			Signer:    signer,
			Cipher:    box,
			Linker:    identity.NewLinker(dir, gate, ks),
			Transfer:  broker,
			Limiter:   limiter,
			Events:    m,
		}, social.Config{RedirectURI: redirectURI}),
		Transfer: broker,
		Sessions: sessions,
		Resolver: resolver,
		Limiter:  limiter,
		Events:   m,
		Ready: map[string]controllers.Checker{
			"directory": dir.Ping,
			"fake":      func(context.Context) error { return a.ready },
		},
	}, controllers.Config{BrokerHost: brokerHost})

	d := Deps{Controllers: c, Resolver: resolver, Metrics: m, BrokerHost: brokerHost}
	for _, o := range opts {
		o(&d)
	}
	a.handler = New(d)
	return a
}

func trustProxies(cidrs ...string) func(*Deps) {
	return func(d *Deps) {
		for _, c := range cidrs {
			d.Proxies.Trusted = append(d.Proxies.Trusted, netip.MustParsePrefix(c))
		}
	}
}

func (a *app) do(method, host, target string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	return a.doWith(method, host, target, body, nil, cookies...)
}

func (a *app) doWith(method, host, target string, body any, header http.Header, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Host = host
	req.RemoteAddr = "203.0.113.10:4000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *app) lastCode(t *testing.T) string {
	t.Helper()
	select {
	case m := <-a.mails.sent:
		return m.code
	case <-time.After(2 * time.Second):
		t.Fatal("no se envió ningún código")
		return ""
	}
}

func cookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestOTPSignupThenSession(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodPost, tenantHost, "/auth/otp/send", map[string]string{"email": "bob@acme.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])
	code := a.lastCode(t)

	rec = a.do(http.MethodPost, tenantHost, "/auth/otp/verify", map[string]string{"email": "bob@acme.com", "code": code})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "needsSignup", body["action"])
	assert.Nil(t, body["redirectUrl"])

	rec = a.do(http.MethodPost, tenantHost, "/auth/otp/verify", map[string]string{
		"email": "bob@acme.com", "code": code, "name": "Bob", "callbackPath": "/home",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "signup", body["action"])
	assert.Equal(t, "/home", body["redirectUrl"])
	sess := cookie(rec, session.DefaultCookieName)
	require.NotNil(t, sess)
	assert.True(t, sess.HttpOnly)

	rec = a.do(http.MethodGet, tenantHost, "/auth/session", nil, sess)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, a.tenantID, body["tenantId"])
	assert.Equal(t, "portal", body["context"])

	// la cookie es del origen: en otro dominio del tenant no vale
	rec = a.do(http.MethodGet, customHost, "/auth/session", nil, sess)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	u, err := a.dir.FindUserByEmail(context.Background(), a.tenantID, "bob@acme.com")
	require.NoError(t, err)
	m, err := a.dir.FindMember(context.Background(), a.tenantID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RoleUser, m.Role)
}

func TestOTPCrossOriginTransfer(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()
	_, _, err := a.dir.CreateUser(ctx, repository.CreateUserInput{TenantID: a.tenantID, Email: "ana@acme.com", Role: repository.RoleUser})
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, tenantHost, "/auth/otp/send", map[string]string{"email": "ana@acme.com"}).Code)
	code := a.lastCode(t)

	// destino ajeno: se rechaza sin consumir el código
	rec := a.do(http.MethodPost, tenantHost, "/auth/otp/verify", map[string]string{
		"email": "ana@acme.com", "code": code, "returnDomain": "evil.example.com",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_RETURN_DOMAIN", decode(t, rec)["code"])

	rec = a.do(http.MethodPost, tenantHost, "/auth/otp/verify", map[string]string{
		"email": "ana@acme.com", "code": code, "returnDomain": customHost, "callbackPath": "/dash",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "login", body["action"])
	assert.Nil(t, cookie(rec, session.DefaultCookieName), "la sesión se asienta en el destino, no acá")

	next, err := url.Parse(body["redirectUrl"].(string))
	require.NoError(t, err)
	assert.Equal(t, customHost, next.Host)
	assert.Equal(t, "/auth/trust-login", next.Path)

	rec = a.do(http.MethodGet, customHost, next.RequestURI(), nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dash", rec.Header().Get("Location"))
	sess := cookie(rec, session.DefaultCookieName)
	require.NotNil(t, sess)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, customHost, "/auth/session", nil, sess).Code)

	// un solo uso
	rec = a.do(http.MethodGet, customHost, next.RequestURI(), nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/error?code=invalid_transfer", rec.Header().Get("Location"))
}

func TestOTPErrors(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodPost, "ghost.example.app", "/auth/otp/send", map[string]string{"email": "a@b.co"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodPost, tenantHost, "/auth/otp/send", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_EMAIL", decode(t, rec)["code"])

	rec = a.do(http.MethodPost, tenantHost, "/auth/otp/verify", map[string]string{"email": "a@b.co", "code": "000000"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_CODE", decode(t, rec)["code"])

	rec = a.do(http.MethodPost, tenantHost, "/auth/otp/verify", map[string]string{"email": "a@b.co", "code": "000000", "context": "admin"})
	assert.Equal(t, "INVALID_CONTEXT", decode(t, rec)["code"])
}

func TestOTPSlugOnlyOnBrokerHost(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()
	other, err := a.dir.CreateTenant(ctx, repository.CreateTenantInput{
		Slug: "other", Name: "Other", Subdomain: "other.example.app", PortalAuthEnabled: true,
	})
	require.NoError(t, err)
	_, _, err = a.dir.CreateUser(ctx, repository.CreateUserInput{TenantID: other.ID, Email: "mallory@x.com", Role: repository.RoleUser})
	require.NoError(t, err)
	slug := http.Header{"X-Tenant-Slug": {"other"}}

	require.Equal(t, http.StatusOK, a.doWith(http.MethodPost, brokerHost, "/auth/otp/send", map[string]string{"email": "mallory@x.com"}, slug).Code)
	code := a.lastCode(t)

	// en el host de acme el slug se ignora: el código de other no vale ahí
	rec := a.doWith(http.MethodPost, tenantHost, "/auth/otp/verify", map[string]string{"email": "mallory@x.com", "code": code}, slug)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_CODE", decode(t, rec)["code"])
	assert.Nil(t, cookie(rec, session.DefaultCookieName))

	rec = a.do(http.MethodPost, tenantHost, "/auth/otp/verify?tenant=other", map[string]string{"email": "mallory@x.com", "code": code})
	assert.Equal(t, "INVALID_CODE", decode(t, rec)["code"])
	assert.Nil(t, cookie(rec, session.DefaultCookieName))

	// en el broker no hay sesión propia: sin dominio de retorno se rechaza
	rec = a.doWith(http.MethodPost, brokerHost, "/auth/otp/verify", map[string]string{"email": "mallory@x.com", "code": code}, slug)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_RETURN_DOMAIN", decode(t, rec)["code"])

	rec = a.doWith(http.MethodPost, brokerHost, "/auth/otp/verify", map[string]string{"email": "mallory@x.com", "code": code, "returnDomain": tenantHost}, slug)
	assert.Equal(t, "INVALID_RETURN_DOMAIN", decode(t, rec)["code"])

	rec = a.doWith(http.MethodPost, brokerHost, "/auth/otp/verify", map[string]string{"email": "mallory@x.com", "code": code, "returnDomain": "other.example.app"}, slug)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, cookie(rec, session.DefaultCookieName))
	next, err := url.Parse(decode(t, rec)["redirectUrl"].(string))
	require.NoError(t, err)
	assert.Equal(t, "other.example.app", next.Host)
	assert.Equal(t, "/auth/trust-login", next.Path)
}

func TestFinderRateLimited(t *testing.T) {
	a := newApp(t)
	for i := 0; i < 2; i++ {
		rec := a.do(http.MethodPost, brokerHost, "/auth/finder/send", map[string]string{"email": "bob@acme.com"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := a.do(http.MethodPost, brokerHost, "/auth/finder/send", map[string]string{"email": "bob@acme.com"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestFinderRateLimitIgnoresForwardedFor(t *testing.T) {
	a := newApp(t)
	for i := 0; i < 2; i++ {
		h := http.Header{"X-Forwarded-For": {fmt.Sprintf("198.51.100.%d", i+1)}}
		rec := a.doWith(http.MethodPost, brokerHost, "/auth/finder/send", map[string]string{"email": "bob@acme.com"}, h)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	// rotar X-Forwarded-For desde el mismo RemoteAddr no renueva el cupo
	h := http.Header{"X-Forwarded-For": {"198.51.100.99"}, "X-Real-Ip": {"198.51.100.98"}}
	rec := a.doWith(http.MethodPost, brokerHost, "/auth/finder/send", map[string]string{"email": "bob@acme.com"}, h)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestFinderRateLimitBehindTrustedProxy(t *testing.T) {
	a := newApp(t, trustProxies("203.0.113.0/24"))
	send := func(xff string) int {
		h := http.Header{"X-Forwarded-For": {xff}}
		return a.doWith(http.MethodPost, brokerHost, "/auth/finder/send", map[string]string{"email": "bob@acme.com"}, h).Code
	}

	// cada cliente real tiene su propio cupo
	for _, ip := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3"} {
		require.Equal(t, http.StatusOK, send(ip))
	}
	require.Equal(t, http.StatusOK, send("198.51.100.1"))
	// la IP inyectada a la izquierda no cuenta: manda el hop más a la derecha
	assert.Equal(t, http.StatusTooManyRequests, send("10.1.1.1, 198.51.100.1"))
}

func TestFinderListsWorkspaces(t *testing.T) {
	a := newApp(t)
	_, _, err := a.dir.CreateUser(context.Background(), repository.CreateUserInput{TenantID: a.tenantID, Email: "ana@acme.com", Role: repository.RoleMember})
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, brokerHost, "/auth/finder/send", map[string]string{"email": "ana@acme.com"}).Code)
	code := a.lastCode(t)

	rec := a.do(http.MethodPost, brokerHost, "/auth/finder/verify", map[string]string{"email": "ana@acme.com", "code": code})
	require.Equal(t, http.StatusOK, rec.Code)
	ws := decode(t, rec)["workspaces"].([]any)
	require.Len(t, ws, 1)
	assert.Equal(t, "acme", ws[0].(map[string]any)["slug"])
}

func TestOAuthStart(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodGet, brokerHost, "/auth/oauth/github?tenant=acme&callbackPath=/after", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "idp.test", loc.Host)
	assert.True(t, strings.HasPrefix(loc.Query().Get("state"), "github:"))
	assert.Equal(t, redirectURI, loc.Query().Get("redirect_uri"))

	ck := cookie(rec, controllers.StateCookieName)
	require.NotNil(t, ck)
	assert.True(t, ck.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)
	assert.Equal(t, "/", ck.Path)
	assert.Equal(t, 300, ck.MaxAge)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestOAuthStartForbiddenIsUniform(t *testing.T) {
	a := newApp(t)

	unknownTenant := a.do(http.MethodGet, brokerHost, "/auth/oauth/github?tenant=ghost", nil)
	disabled := a.do(http.MethodGet, brokerHost, "/auth/oauth/google?tenant=acme", nil)

	require.Equal(t, http.StatusForbidden, unknownTenant.Code)
	require.Equal(t, http.StatusForbidden, disabled.Code)
	assert.Equal(t, unknownTenant.Body.String(), disabled.Body.String())

	rec := a.do(http.MethodGet, brokerHost, "/auth/oauth/github?tenant=acme&returnDomain=evil.example.com", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
	assert.Nil(t, cookie(rec, controllers.StateCookieName))
}

func TestOAuthStartValidatesBeforeMovingToBroker(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodGet, tenantHost, "/auth/oauth/github?returnDomain=evil.example.com", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))

	disabled := a.do(http.MethodGet, tenantHost, "/auth/oauth/google", nil)
	unknown := a.do(http.MethodGet, tenantHost, "/auth/oauth/github?tenant=ghost", nil)
	require.Equal(t, http.StatusForbidden, disabled.Code)
	require.Equal(t, http.StatusForbidden, unknown.Code)
	assert.Empty(t, disabled.Header().Get("Location"))
	assert.Equal(t, unknown.Body.String(), disabled.Body.String())

	rec = a.do(http.MethodGet, tenantHost, "/auth/oauth/github?callbackPath=//evil.example.com", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
}

func TestOAuthStartMovesToBrokerHost(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodGet, customHost, "/auth/oauth/github?callbackPath=/x", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, brokerHost, loc.Host)
	assert.Equal(t, "acme", loc.Query().Get("tenant"))
	assert.Equal(t, customHost, loc.Query().Get("returnDomain"))
	assert.Equal(t, "/x", loc.Query().Get("callbackPath"))
}

func TestOAuthRoundTrip(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodGet, brokerHost, "/auth/oauth/github?tenant=acme&returnDomain="+customHost+"&callbackPath=/welcome", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	nonce := cookie(rec, controllers.StateCookieName)

	cb := "/auth/oauth/callback?" + url.Values{"code": {"good"}, "state": {state}}.Encode()

	t.Run("without state cookie", func(t *testing.T) {
		rec := a.do(http.MethodGet, brokerHost, cb, nil)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/auth/error?code=invalid_state", rec.Header().Get("Location"))
	})

	rec = a.do(http.MethodGet, brokerHost, cb, nil, nonce)
	require.Equal(t, http.StatusFound, rec.Code)
	next, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, customHost, next.Host)
	assert.Equal(t, "/auth/trust-login", next.Path)
	assert.Equal(t, -1, cookie(rec, controllers.StateCookieName).MaxAge)

	rec = a.do(http.MethodGet, customHost, next.RequestURI(), nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/welcome", rec.Header().Get("Location"))

	u, err := a.dir.FindUserByExternalAccount(context.Background(), a.tenantID, "github", "gh-7")
	require.NoError(t, err)
	assert.Equal(t, "eve@acme.com", u.Email)
}

func TestOAuthCallbackUpstreamFailureRedirectsToTenant(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodGet, brokerHost, "/auth/oauth/github?tenant=acme&callbackPath=/login", nil)
	loc, _ := url.Parse(rec.Header().Get("Location"))
	nonce := cookie(rec, controllers.StateCookieName)

	cb := "/auth/oauth/callback?" + url.Values{"code": {"bad"}, "state": {loc.Query().Get("state")}}.Encode()
	rec = a.do(http.MethodGet, brokerHost, cb, nil, nonce)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://"+tenantHost+"/login?error=upstream_failure", rec.Header().Get("Location"))
}

func TestTrustLoginPopup(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()
	broker := transfer.NewBroker(transfer.NewDirectoryStore(a.dir), 0)
	token, err := broker.Issue(ctx, transfer.IssueRequest{
		UserID: "u1", TenantID: a.tenantID, TargetDomain: customHost, CallbackPath: "/p", Context: repository.ContextTeam,
	})
	require.NoError(t, err)

	rec := a.do(http.MethodGet, customHost, "/auth/trust-login?popup=1&token="+token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "script-src 'nonce-")
	assert.Contains(t, rec.Body.String(), "crossauth:login")
	assert.NotNil(t, cookie(rec, session.DefaultCookieName))
}

func TestLogout(t *testing.T) {
	a := newApp(t)
	rec := a.do(http.MethodPost, tenantHost, "/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, -1, cookie(rec, session.DefaultCookieName).MaxAge)
}

func TestErrorPage(t *testing.T) {
	a := newApp(t)
	rec := a.do(http.MethodGet, brokerHost, "/auth/error?code=invalid_state", nil)
	assert.Equal(t, "invalid_state", decode(t, rec)["code"])

	rec = a.do(http.MethodGet, brokerHost, "/auth/error?code=<script>", nil)
	assert.Equal(t, "unknown_error", decode(t, rec)["code"])
}

func TestHealthAndMetrics(t *testing.T) {
	a := newApp(t)

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, brokerHost, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, brokerHost, "/readyz", nil).Code)

	a.ready = errors.New("down")
	rec := a.do(http.MethodGet, brokerHost, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "fail", decode(t, rec)["checks"].(map[string]any)["fake"])

	a.do(http.MethodGet, brokerHost, "/auth/oauth/github?tenant=acme", nil)
	rec = a.do(http.MethodGet, brokerHost, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `crossauth_auth_events_total{flow="oauth_start",outcome="ok"} 1`)

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, brokerHost, "/nope", nil).Code)
}
