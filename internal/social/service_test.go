package social

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	"github.com/dropDatabas3/crossauth/internal/identity"
	"github.com/dropDatabas3/crossauth/internal/oauth"
	"github.com/dropDatabas3/crossauth/internal/security/keys"
	"github.com/dropDatabas3/crossauth/internal/security/pkce"
	"github.com/dropDatabas3/crossauth/internal/security/secretbox"
	"github.com/dropDatabas3/crossauth/internal/security/statesign"
	"github.com/dropDatabas3/crossauth/internal/store/memory"
	"github.com/dropDatabas3/crossauth/internal/tenant"
	"github.com/dropDatabas3/crossauth/internal/transfer"
)

const redirectURI = "https://auth.example.app/auth/oauth/callback"

type fakeIDP struct {
	name      string
	challenge string
	verifier  string
	profile   *oauth.Profile
	fetchErr  error
}

func (f *fakeIDP) Name() string { return f.name }

func (f *fakeIDP) AuthorizationURL(_ context.Context, redirect, state, challenge string) (string, error) {
	f.challenge = challenge
	q := url.Values{"redirect_uri": {redirect}, "state": {state}}
	return "https://idp.test/authorize?" + q.Encode(), nil
}

func (f *fakeIDP) ExchangeCode(_ context.Context, code, _, verifier string) (*oauth.Tokens, error) {
	f.verifier = verifier
	if code == "bad" {
		return nil, oauth.ErrUpstream
	}
	return &oauth.Tokens{AccessToken: "at"}, nil
}

func (f *fakeIDP) FetchProfile(context.Context, *oauth.Tokens) (*oauth.Profile, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.profile, nil
}

type fixture struct {
	svc    *Service
	dir    *memory.Store
	idp    *fakeIDP
	broker *transfer.Broker
	tenant *repository.Tenant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := memory.New()
	ten, err := dir.CreateTenant(ctx, repository.CreateTenantInput{
		Slug: "acme", Name: "Acme", Subdomain: "acme.example.app", PortalAuthEnabled: true,
		Providers: []repository.ProviderSetting{{Name: "github", TeamEnabled: true, PortalEnabled: true}},
	})
	require.NoError(t, err)
	_, err = dir.AddDomain(ctx, ten.ID, "app.acme.com")
	require.NoError(t, err)
	require.NoError(t, dir.VerifyDomain(ctx, ten.ID, "app.acme.com"))

	ks, err := keys.Derive(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)
	signer, err := statesign.New(ks.State)
	require.NoError(t, err)
	box, err := secretbox.New(ks.Secretbox)
	require.NoError(t, err)

	idp := &fakeIDP{name: "github", profile: &oauth.Profile{
		Subject: "42", Email: "ana@acme.com", EmailVerified: true, Name: "Ana",
	}}
	broker := transfer.NewBroker(transfer.NewDirectoryStore(dir), 0)
	gate := identity.NewGate(dir)
	svc := NewService(Deps{
		Resolver:  tenant.NewResolver(dir),
		Directory: dir,
		Providers: oauth.NewRegistry(nil, box, idp),
		Signer:    signer,
		Cipher:    box,
		Linker:    identity.NewLinker(dir, gate, ks),
		Transfer:  broker,
	}, Config{RedirectURI: redirectURI})
	return &fixture{svc: svc, dir: dir, idp: idp, broker: broker, tenant: ten}
}

func (f *fixture) start(t *testing.T, returnDomain string) (state string, nonce string) {
	t.Helper()
	res, err := f.svc.Start(context.Background(), StartRequest{
		Provider: "github", Tenant: f.tenant, Context: repository.ContextPortal,
		ReturnDomain: returnDomain, CallbackPath: "/welcome?tab=1",
	})
	require.NoError(t, err)
	u, err := url.Parse(res.URL)
	require.NoError(t, err)
	return u.Query().Get("state"), res.Nonce
}

func TestStart_RejectsForeignReturnDomain(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Start(context.Background(), StartRequest{
		Provider: "github", Tenant: f.tenant, Context: repository.ContextPortal,
		ReturnDomain: "evil.example.com", CallbackPath: "/",
	})
	assert.ErrorIs(t, err, ErrReturnDomain)
	assert.Nil(t, res)
	assert.Empty(t, f.idp.challenge, "no se construyó ninguna URL")
}

func TestStart_RejectsDisabledProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), StartRequest{
		Provider: "google", Tenant: f.tenant, Context: repository.ContextPortal, ReturnDomain: "app.acme.com",
	})
	assert.ErrorIs(t, err, ErrProviderDisabled)

	_, err = f.svc.Start(context.Background(), StartRequest{
		Provider: "sso", Tenant: f.tenant, Context: repository.ContextTeam, ReturnDomain: "app.acme.com",
	})
	assert.ErrorIs(t, err, ErrProviderDisabled)
}

func TestStart_RejectsAbsoluteCallbackPath(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), StartRequest{
		Provider: "github", Tenant: f.tenant, Context: repository.ContextPortal,
		ReturnDomain: "app.acme.com", CallbackPath: "//evil.com/x",
	})
	assert.ErrorIs(t, err, ErrCallbackPath)
}

func TestValidate_MatchesStartChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := StartRequest{Provider: "github", Tenant: f.tenant, Context: repository.ContextPortal, ReturnDomain: "app.acme.com"}

	require.NoError(t, f.svc.Validate(ctx, base))

	bad := base
	bad.ReturnDomain = "evil.example.com"
	assert.ErrorIs(t, f.svc.Validate(ctx, bad), ErrReturnDomain)

	bad = base
	bad.Provider = "google"
	assert.ErrorIs(t, f.svc.Validate(ctx, bad), ErrProviderDisabled)

	bad = base
	bad.CallbackPath = "https://evil.example.com"
	assert.ErrorIs(t, f.svc.Validate(ctx, bad), ErrCallbackPath)

	assert.Empty(t, f.idp.challenge, "validar no construye URL")
}

func TestStart_StateCarriesProviderPrefixAndPKCE(t *testing.T) {
	f := newFixture(t)
	state, nonce := f.start(t, "app.acme.com")
	assert.True(t, strings.HasPrefix(state, "github:"))
	assert.Len(t, nonce, 32)
	assert.NotEmpty(t, f.idp.challenge)
}

func TestCallback_CrossOriginIssuesTransferToken(t *testing.T) {
	f := newFixture(t)
	state, nonce := f.start(t, "app.acme.com")

	res, err := f.svc.Callback(context.Background(), CallbackRequest{
		Code: "ok", State: state, CookieNonce: nonce, Host: "auth.example.app",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Session)
	assert.Equal(t, pkce.Challenge(f.idp.verifier), f.idp.challenge, "el verifier descifrado corresponde al challenge")

	u, err := url.Parse(res.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "app.acme.com", u.Host)
	assert.Equal(t, "/auth/trust-login", u.Path)

	red, err := f.broker.Redeem(context.Background(), u.Query().Get("token"), "app.acme.com")
	require.NoError(t, err)
	assert.Equal(t, res.Resolution.UserID, red.UserID)
	assert.Equal(t, "/welcome?tab=1", red.CallbackPath)
}

func TestCallback_SameOriginSetsSession(t *testing.T) {
	f := newFixture(t)
	state, nonce := f.start(t, "app.acme.com")

	res, err := f.svc.Callback(context.Background(), CallbackRequest{
		Code: "ok", State: state, CookieNonce: nonce, Host: "app.acme.com",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.Equal(t, "/welcome?tab=1", res.RedirectURL)
	assert.Equal(t, f.tenant.ID, res.Session.TenantID)
}

func TestCallback_InvalidStates(t *testing.T) {
	f := newFixture(t)
	state, nonce := f.start(t, "app.acme.com")
	_, signed, _ := strings.Cut(state, ":")

	flipped := []byte(signed)
	flipped[5] ^= 0x01

	cases := map[string]CallbackRequest{
		"sin separador":     {Code: "ok", State: signed, CookieNonce: nonce},
		"firma alterada":    {Code: "ok", State: "github:" + string(flipped), CookieNonce: nonce},
		"provider distinto": {Code: "ok", State: "google:" + signed, CookieNonce: nonce},
		"sin cookie":        {Code: "ok", State: state},
		"nonce ajeno":       {Code: "ok", State: state, CookieNonce: strings.Repeat("0", 32)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := f.svc.Callback(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidState)
			assert.Nil(t, res)
		})
	}
}

func TestCallback_StaleState(t *testing.T) {
	f := newFixture(t)
	state, nonce := f.start(t, "app.acme.com")
	f.svc.now = func() time.Time { return time.Now().Add(6 * time.Minute) }

	res, err := f.svc.Callback(context.Background(), CallbackRequest{Code: "ok", State: state, CookieNonce: nonce})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Nil(t, res)
}

func TestCallback_FailuresRedirectToTenantCallback(t *testing.T) {
	cases := []struct {
		name string
		prep func(f *fixture)
		req  CallbackRequest
		code string
	}{
		{"upstream", nil, CallbackRequest{Code: "bad"}, CodeUpstreamFailure},
		{"denied by user", nil, CallbackRequest{ProviderError: "access_denied"}, CodeAccessDenied},
		{"no email", func(f *fixture) { f.idp.fetchErr = oauth.ErrNoEmail }, CallbackRequest{Code: "ok"}, CodeEmailRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.prep != nil {
				tc.prep(f)
			}
			state, nonce := f.start(t, "app.acme.com")
			tc.req.State, tc.req.CookieNonce = state, nonce

			res, err := f.svc.Callback(context.Background(), tc.req)
			assert.Error(t, err)
			require.NotNil(t, res)
			u, perr := url.Parse(res.RedirectURL)
			require.NoError(t, perr)
			assert.Equal(t, "app.acme.com", u.Host)
			assert.Equal(t, "/welcome", u.Path)
			assert.Equal(t, tc.code, u.Query().Get("error"))
			assert.Equal(t, "1", u.Query().Get("tab"))
		})
	}
}

func TestCallback_TeamSignupNotAllowed(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Start(context.Background(), StartRequest{
		Provider: "github", Tenant: f.tenant, Context: repository.ContextTeam, ReturnDomain: "app.acme.com",
	})
	require.NoError(t, err)
	u, _ := url.Parse(res.URL)

	out, err := f.svc.Callback(context.Background(), CallbackRequest{
		Code: "ok", State: u.Query().Get("state"), CookieNonce: res.Nonce,
	})
	assert.ErrorIs(t, err, identity.ErrSignupNotAllowed)
	require.NotNil(t, out)
	assert.Contains(t, out.RedirectURL, "error="+CodeSignupNotAllowed)
}
