// Package social implementa el inicio y el callback de login con providers
// externos (OAuth 2.0 / OIDC / SSO empresarial). El estado del flujo viaja
// firmado en el parámetro state; nada se persiste hasta resolver la identidad.
package social

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	"github.com/dropDatabas3/crossauth/internal/identity"
	"github.com/dropDatabas3/crossauth/internal/oauth"
	"github.com/dropDatabas3/crossauth/internal/observability/logger"
	"github.com/dropDatabas3/crossauth/internal/rate"
	"github.com/dropDatabas3/crossauth/internal/security/pkce"
	"github.com/dropDatabas3/crossauth/internal/security/statesign"
	"github.com/dropDatabas3/crossauth/internal/tenant"
	"github.com/dropDatabas3/crossauth/internal/transfer"
	"github.com/dropDatabas3/crossauth/internal/validation"
)

var (
	// ErrProviderDisabled: provider desconocido o deshabilitado para el tenant/contexto.
	ErrProviderDisabled = errors.New("social: provider disabled")
	// ErrReturnDomain: el dominio de retorno no pertenece al tenant.
	ErrReturnDomain = errors.New("social: return domain not owned by tenant")
	// ErrCallbackPath: callback path no relativo.
	ErrCallbackPath = errors.New("social: invalid callback path")
	// ErrInvalidState: firma, formato, nonce o frescura del state inválidos.
	ErrInvalidState = errors.New("social: invalid state")
)

// Códigos de error en la redirección al callback del tenant.
const (
	CodeAccessDenied      = "access_denied"
	CodeRateLimited       = "rate_limited"
	CodeProviderDisabled  = "provider_disabled"
	CodeUpstreamFailure   = "upstream_failure"
	CodeEmailRequired     = "email_required"
	CodeSignupNotAllowed  = "signup_not_allowed"
	CodeInvitationInvalid = "invitation_invalid"
	CodeAccountLinked     = "account_linked"
	CodeServerError       = "server_error"
)

// Cipher cifra el code verifier dentro del state (secretbox).
type Cipher interface {
	Encrypt(plainText string) (string, error)
	Decrypt(cipherText string) (string, error)
}

// Events recibe los resultados de cada flujo (métricas).
type Events interface {
	AuthEvent(flow, outcome string)
}

// State es el payload firmado que viaja en el parámetro state.
type State struct {
	Provider     string `json:"p"`
	TenantSlug   string `json:"t"`
	ReturnDomain string `json:"rd"`
	CallbackPath string `json:"cb"`
	Context      string `json:"ctx"`
	Popup        bool   `json:"pop,omitempty"`
	InvitationID string `json:"inv,omitempty"`
	Verifier     string `json:"cv"`
	statesign.Envelope
}

type Config struct {
	// RedirectURI absoluta del endpoint de callback registrado en los providers.
	RedirectURI string
	// Scheme de las URLs hacia dominios de tenant. Default https.
	Scheme string
}

type Deps struct {
	Resolver  *tenant.Resolver
	Directory repository.Directory
	Providers *oauth.Registry
	Signer    *statesign.Signer
	Cipher    Cipher
	Linker    *identity.Linker
	Transfer  *transfer.Broker
	Limiter   *rate.Gate
	Events    Events
}

type Service struct {
	Deps
	cfg Config
	now func() time.Time
}

func NewService(d Deps, cfg Config) *Service {
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	return &Service{Deps: d, cfg: cfg, now: time.Now}
}

// StartRequest inicio de login con provider.
type StartRequest struct {
	Provider     string
	Tenant       *repository.Tenant
	Context      repository.AuthContext
	ReturnDomain string
	CallbackPath string
	InvitationID string
	Popup        bool
	ClientIP     string
}

// StartResult URL del provider y nonce para la cookie portadora del state.
type StartResult struct {
	URL   string
	Nonce string
}

// startPlan resultado de validar un StartRequest.
type startPlan struct {
	provider     string
	idp          oauth.IdentityProvider
	returnDomain string
	callbackPath string
}

// Validate aplica los chequeos de Start sin producir URL ni consumir rate
// limit. Sirve para rechazar antes de mover el inicio a otro host.
func (s *Service) Validate(ctx context.Context, req StartRequest) error {
	_, err := s.plan(ctx, req)
	return err
}

func (s *Service) plan(ctx context.Context, req StartRequest) (*startPlan, error) {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if !req.Context.Valid() {
		req.Context = repository.ContextPortal
	}
	log := logger.From(ctx).With(logger.Component("social"), logger.Provider(provider), logger.AuthContext(string(req.Context)))

	if req.Tenant == nil || !tenant.IsEnabled(req.Tenant, provider, req.Context) {
		s.event("start", "disabled")
		return nil, ErrProviderDisabled
	}
	idp, err := s.Providers.Get(ctx, req.Tenant, provider)
	if errors.Is(err, oauth.ErrUnknownProvider) {
		s.event("start", "disabled")
		return nil, ErrProviderDisabled
	}
	if err != nil {
		return nil, err
	}

	returnDomain := req.ReturnDomain
	if returnDomain == "" {
		returnDomain = req.Tenant.CanonicalDomain
	}
	returnDomain, err = tenant.CanonicalHost(returnDomain)
	if err != nil {
		s.event("start", "bad_return_domain")
		return nil, ErrReturnDomain
	}
	owned, err := s.Resolver.OwnsDomain(ctx, req.Tenant, returnDomain)
	if err != nil {
		return nil, err
	}
	if !owned {
		log.Warn("oauth start with foreign return domain", logger.TenantID(req.Tenant.ID), logger.Domain(returnDomain))
		s.event("start", "bad_return_domain")
		return nil, ErrReturnDomain
	}

	callbackPath := req.CallbackPath
	if callbackPath == "" {
		callbackPath = "/"
	}
	if !validation.ValidCallbackPath(callbackPath) {
		return nil, ErrCallbackPath
	}
	return &startPlan{provider: provider, idp: idp, returnDomain: returnDomain, callbackPath: callbackPath}, nil
}

// Start valida provider y dominio de retorno y construye la URL de autorización.
// Ninguna URL se produce si el dominio de retorno no pertenece al tenant.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if err := s.Limiter.Check(ctx, rate.OpOAuthStart, req.ClientIP); err != nil {
		return nil, err
	}
	if !req.Context.Valid() {
		req.Context = repository.ContextPortal
	}
	p, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}

	pair, err := pkce.New()
	if err != nil {
		return nil, err
	}
	encVerifier, err := s.Cipher.Encrypt(pair.Verifier)
	if err != nil {
		return nil, fmt.Errorf("social: encrypt verifier: %w", err)
	}
	env, err := statesign.NewEnvelope(s.now())
	if err != nil {
		return nil, err
	}
	signed, err := s.Signer.Sign(State{
		Provider:     p.provider,
		TenantSlug:   req.Tenant.Slug,
		ReturnDomain: p.returnDomain,
		CallbackPath: p.callbackPath,
		Context:      string(req.Context),
		Popup:        req.Popup,
		InvitationID: req.InvitationID,
		Verifier:     encVerifier,
		Envelope:     env,
	})
	if err != nil {
		return nil, err
	}

	authURL, err := p.idp.AuthorizationURL(ctx, s.cfg.RedirectURI, p.provider+":"+signed, pair.Challenge)
	if err != nil {
		logger.From(ctx).With(logger.Component("social"), logger.Provider(p.provider)).Error("oauth authorization url failed", logger.Err(err))
		return nil, err
	}
	s.event("start", "ok")
	return &StartResult{URL: authURL, Nonce: env.Nonce}, nil
}

// CallbackRequest parámetros del retorno del provider.
type CallbackRequest struct {
	Code          string
	State         string
	ProviderError string
	CookieNonce   string
	Host          string
	ClientIP      string
}

// CallbackResult destino del navegador. Session != nil cuando la sesión se
// asienta directamente en el host del callback.
type CallbackResult struct {
	RedirectURL string
	Session     *Session
	Popup       bool
	Resolution  *identity.Resolution
}

// Session identidad a asentar en el host actual.
type Session struct {
	UserID   string
	TenantID string
	Context  repository.AuthContext
}

// Callback completa el flujo. Con state inválido retorna ErrInvalidState y
// ningún resultado. Con state válido, cualquier falla posterior retorna un
// resultado que redirige al callback del tenant con ?error= junto al error.
func (s *Service) Callback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	st, err := s.parseState(req.State, req.CookieNonce)
	if err != nil {
		s.event("callback", "invalid_state")
		return nil, err
	}
	log := logger.From(ctx).With(
		logger.Component("social"),
		logger.Provider(st.Provider),
		logger.TenantSlug(st.TenantSlug),
		logger.AuthContext(st.Context),
	)

	fail := func(code string, cause error) (*CallbackResult, error) {
		s.event("callback", code)
		if cause != nil && code != CodeAccessDenied && code != CodeRateLimited {
			log.Warn("oauth callback failed", logger.String("code", code), logger.Err(cause))
		}
		return &CallbackResult{RedirectURL: s.errorURL(st, code), Popup: st.Popup}, cause
	}

	if req.ProviderError != "" {
		return fail(CodeAccessDenied, fmt.Errorf("social: provider error %q", req.ProviderError))
	}
	if req.Code == "" {
		return fail(CodeUpstreamFailure, errors.New("social: missing code"))
	}
	if err := s.Limiter.Check(ctx, rate.OpOAuthCallback, req.ClientIP); err != nil {
		return fail(CodeRateLimited, err)
	}

	t, err := s.Directory.FindTenantBySlug(ctx, st.TenantSlug)
	if err != nil {
		return fail(CodeProviderDisabled, err)
	}
	authCtx := repository.AuthContext(st.Context)
	if !tenant.IsEnabled(t, st.Provider, authCtx) {
		return fail(CodeProviderDisabled, ErrProviderDisabled)
	}
	idp, err := s.Providers.Get(ctx, t, st.Provider)
	if err != nil {
		return fail(CodeProviderDisabled, err)
	}

	verifier, err := s.Cipher.Decrypt(st.Verifier)
	if err != nil {
		return fail(CodeServerError, fmt.Errorf("social: decrypt verifier: %w", err))
	}
	tokens, err := idp.ExchangeCode(ctx, req.Code, s.cfg.RedirectURI, verifier)
	if err != nil {
		return fail(CodeUpstreamFailure, err)
	}
	prof, err := idp.FetchProfile(ctx, tokens)
	switch {
	case errors.Is(err, oauth.ErrNoEmail):
		return fail(CodeEmailRequired, err)
	case err != nil:
		return fail(CodeUpstreamFailure, err)
	}

	res, err := s.Linker.Resolve(ctx, identity.ResolveRequest{
		Tenant:       t,
		Context:      authCtx,
		Email:        prof.Email,
		Name:         prof.Name,
		AvatarURL:    prof.AvatarURL,
		Provider:     st.Provider,
		AccountID:    prof.Subject,
		InvitationID: st.InvitationID,
	})
	switch {
	case errors.Is(err, identity.ErrSignupNotAllowed):
		return fail(CodeSignupNotAllowed, err)
	case errors.Is(err, identity.ErrInvitationInvalid):
		return fail(CodeInvitationInvalid, err)
	case errors.Is(err, identity.ErrAccountLinked):
		return fail(CodeAccountLinked, err)
	case err != nil:
		return fail(CodeServerError, err)
	}

	out := &CallbackResult{Popup: st.Popup, Resolution: res}
	if host, _ := tenant.CanonicalHost(req.Host); host != "" && host == st.ReturnDomain {
		out.Session = &Session{UserID: res.UserID, TenantID: t.ID, Context: authCtx}
		out.RedirectURL = st.CallbackPath
	} else {
		token, err := s.Transfer.Issue(ctx, transfer.IssueRequest{
			UserID:       res.UserID,
			TenantID:     t.ID,
			TargetDomain: st.ReturnDomain,
			CallbackPath: st.CallbackPath,
			Context:      authCtx,
		})
		if err != nil {
			return fail(CodeServerError, err)
		}
		out.RedirectURL = s.trustLoginURL(st, token)
	}

	outcome := "login"
	if res.Created {
		outcome = "signup"
	}
	s.event("callback", outcome)
	log.Info("oauth login completed", logger.TenantID(t.ID), logger.UserID(res.UserID), logger.Bool("created", res.Created))
	return out, nil
}

// parseState valida formato "{provider}:{signed}", firma, coincidencia de
// provider, nonce de la cookie y frescura. No distingue la causa.
func (s *Service) parseState(raw, cookieNonce string) (*State, error) {
	prefix, signed, ok := strings.Cut(raw, ":")
	if !ok || prefix == "" || signed == "" {
		return nil, ErrInvalidState
	}
	var st State
	if err := s.Signer.Verify(signed, &st); err != nil {
		return nil, ErrInvalidState
	}
	if st.Provider != prefix {
		return nil, ErrInvalidState
	}
	if cookieNonce == "" || subtle.ConstantTimeCompare([]byte(cookieNonce), []byte(st.Nonce)) != 1 {
		return nil, ErrInvalidState
	}
	if !st.Fresh(s.now(), statesign.MaxAgeOAuthState) {
		return nil, ErrInvalidState
	}
	if st.ReturnDomain == "" || !validation.ValidCallbackPath(st.CallbackPath) {
		return nil, ErrInvalidState
	}
	return &st, nil
}

func (s *Service) trustLoginURL(st *State, token string) string {
	q := url.Values{}
	q.Set("token", token)
	if st.Popup {
		q.Set("popup", "1")
	}
	u := url.URL{Scheme: s.cfg.Scheme, Host: st.ReturnDomain, Path: "/auth/trust-login", RawQuery: q.Encode()}
	return u.String()
}

func (s *Service) errorURL(st *State, code string) string {
	u, err := url.Parse(st.CallbackPath)
	if err != nil {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	q.Set("error", code)
	u.RawQuery = q.Encode()
	u.Scheme = s.cfg.Scheme
	u.Host = st.ReturnDomain
	return u.String()
}

func (s *Service) event(flow, outcome string) {
	if s.Events != nil {
		s.Events.AuthEvent("oauth_"+flow, outcome)
	}
}
