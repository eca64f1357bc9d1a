// Package controllers implementa los endpoints /auth del broker. Los
// controllers solo traducen HTTP; las reglas viven en los servicios.
package controllers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	"github.com/dropDatabas3/crossauth/internal/http/middlewares"
	"github.com/dropDatabas3/crossauth/internal/otp"
	"github.com/dropDatabas3/crossauth/internal/rate"
	"github.com/dropDatabas3/crossauth/internal/session"
	"github.com/dropDatabas3/crossauth/internal/social"
	"github.com/dropDatabas3/crossauth/internal/tenant"
	"github.com/dropDatabas3/crossauth/internal/transfer"
)

// StateCookieName cookie portadora del nonce del state OAuth.
const StateCookieName = "__oauth_state"

// Events recibe resultados de flujo (métricas).
type Events interface {
	AuthEvent(flow, outcome string)
}

// Checker es un chequeo de readiness.
type Checker func(ctx context.Context) error

// Deps dependencias de los controllers.
type Deps struct {
	OTP      *otp.Service
	Social   *social.Service
	Transfer *transfer.Broker
	Sessions *session.Manager
	Resolver *tenant.Resolver
	Limiter  *rate.Gate
	Events   Events
	// Ready chequeos de /readyz por nombre (directory, redis).
	Ready map[string]Checker
}

// Config de la capa HTTP.
type Config struct {
	// Scheme de las URLs hacia dominios de tenant. Default https.
	Scheme string
	// BrokerHost host del callback OAuth. Los inicios en otro host se redirigen
	// ahí para que la cookie de state viaje con el callback.
	BrokerHost string
	// SecureCookies marca Secure la cookie de state.
	SecureCookies bool
}

// Controllers agrupa los handlers.
type Controllers struct {
	OAuth    *OAuthController
	OTP      *OTPController
	Finder   *FinderController
	Transfer *TransferController
	Session  *SessionController
	Health   *HealthController
}

// New construye todos los controllers.
func New(d Deps, cfg Config) *Controllers {
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if h, err := tenant.CanonicalHost(cfg.BrokerHost); err == nil {
		cfg.BrokerHost = h
	} else {
		cfg.BrokerHost = ""
	}
	lc := &loginCompleter{deps: d, scheme: cfg.Scheme, brokerHost: cfg.BrokerHost}
	return &Controllers{
		OAuth:    &OAuthController{deps: d, cfg: cfg},
		OTP:      &OTPController{deps: d, login: lc},
		Finder:   &FinderController{deps: d},
		Transfer: &TransferController{deps: d},
		Session:  &SessionController{deps: d},
		Health:   &HealthController{checks: d.Ready},
	}
}

func (d Deps) event(flow, outcome string) {
	if d.Events != nil {
		d.Events.AuthEvent(flow, outcome)
	}
}

// currentTenant tenant inyectado por WithTenantResolution.
func currentTenant(r *http.Request) *repository.Tenant {
	if res := middlewares.GetTenant(r.Context()); res != nil {
		return res.Tenant
	}
	return nil
}

// redirectToErrorPage redirección terminal a la página genérica de error.
func redirectToErrorPage(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/auth/error?code="+url.QueryEscape(code), http.StatusFound)
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
