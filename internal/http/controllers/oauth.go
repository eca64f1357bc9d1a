package controllers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	httperrors "github.com/dropDatabas3/crossauth/internal/http/errors"
	"github.com/dropDatabas3/crossauth/internal/http/helpers"
	"github.com/dropDatabas3/crossauth/internal/observability/logger"
	"github.com/dropDatabas3/crossauth/internal/security/statesign"
	"github.com/dropDatabas3/crossauth/internal/session"
	"github.com/dropDatabas3/crossauth/internal/social"
	"github.com/dropDatabas3/crossauth/internal/tenant"
)

// OAuthController inicio y callback de login con providers externos.
type OAuthController struct {
	deps Deps
	cfg  Config
}

// Start GET /auth/oauth/{provider}?tenant=&context=&returnDomain=&callbackPath=&popup=&invitation=
//
// Tenant inexistente y provider deshabilitado responden el mismo 403.
func (c *OAuthController) Start(w http.ResponseWriter, r *http.Request) {
	t := currentTenant(r)
	if t == nil {
		httperrors.WriteError(w, r, httperrors.ErrForbidden)
		return
	}
	q := r.URL.Query()

	authCtx, ok := repository.ParseAuthContext(q.Get("context"))
	if !ok {
		httperrors.WriteError(w, r, httperrors.ErrInvalidContext)
		return
	}
	req := social.StartRequest{
		Provider:     chi.URLParam(r, "provider"),
		Tenant:       t,
		Context:      authCtx,
		ReturnDomain: q.Get("returnDomain"),
		CallbackPath: q.Get("callbackPath"),
		InvitationID: q.Get("invitation"),
		Popup:        parseBool(q.Get("popup")),
		ClientIP:     helpers.ClientIP(r),
	}

	if current, ok := c.offBroker(r); ok {
		// el dominio de retorno por defecto es el host donde empezó el usuario
		if req.ReturnDomain == "" {
			req.ReturnDomain = current
		}
		if err := c.deps.Social.Validate(r.Context(), req); err != nil {
			httperrors.WriteError(w, r, err)
			return
		}
		q.Set("tenant", t.Slug)
		q.Set("returnDomain", req.ReturnDomain)
		u := url.URL{Scheme: c.cfg.Scheme, Host: c.cfg.BrokerHost, Path: r.URL.Path, RawQuery: q.Encode()}
		http.Redirect(w, r, u.String(), http.StatusFound)
		return
	}

	res, err := c.deps.Social.Start(r.Context(), req)
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}

	http.SetCookie(w, session.BuildCookie(StateCookieName, res.Nonce, session.CookieConfig{
		Secure:   c.cfg.SecureCookies,
		SameSite: "lax",
	}, statesign.MaxAgeOAuthState))
	http.Redirect(w, r, res.URL, http.StatusFound)
}

// offBroker reporta si el inicio llegó a un host distinto del callback; en
// ese caso se mueve al broker para que la cookie de state viaje con el callback.
func (c *OAuthController) offBroker(r *http.Request) (string, bool) {
	if c.cfg.BrokerHost == "" {
		return "", false
	}
	current, err := tenant.CanonicalHost(r.Host)
	if err != nil || current == c.cfg.BrokerHost {
		return "", false
	}
	return current, true
}

// Callback GET /auth/oauth/callback?code=&state=&error=
//
// State inválido es terminal: página genérica de error. Cualquier otra falla
// vuelve al callback del tenant con ?error=.
func (c *OAuthController) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nonce := ""
	if ck, err := r.Cookie(StateCookieName); err == nil {
		nonce = ck.Value
	}
	// el nonce es de un solo uso
	http.SetCookie(w, session.BuildDeletionCookie(StateCookieName, session.CookieConfig{
		Secure:   c.cfg.SecureCookies,
		SameSite: "lax",
	}))

	res, err := c.deps.Social.Callback(r.Context(), social.CallbackRequest{
		Code:          q.Get("code"),
		State:         q.Get("state"),
		ProviderError: q.Get("error"),
		CookieNonce:   nonce,
		Host:          r.Host,
		ClientIP:      helpers.ClientIP(r),
	})
	if res == nil {
		if err != nil && !errors.Is(err, social.ErrInvalidState) {
			logger.From(r.Context()).Error("oauth callback failed", logger.Err(err))
		}
		redirectToErrorPage(w, r, "invalid_state")
		return
	}
	if err != nil || res.Session == nil {
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
		return
	}

	s := session.Subject{UserID: res.Session.UserID, TenantID: res.Session.TenantID, Context: res.Session.Context}
	if err := c.deps.Sessions.Issue(w, r, s); err != nil {
		logger.From(r.Context()).Error("session issue failed", logger.Err(err))
		redirectToErrorPage(w, r, social.CodeServerError)
		return
	}
	if res.Popup {
		renderPopup(w, res.RedirectURL)
		return
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}
