// Package router arma el árbol de rutas chi del broker.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/crossauth/internal/http/controllers"
	httperrors "github.com/dropDatabas3/crossauth/internal/http/errors"
	"github.com/dropDatabas3/crossauth/internal/http/helpers"
	mw "github.com/dropDatabas3/crossauth/internal/http/middlewares"
	"github.com/dropDatabas3/crossauth/internal/metrics"
	"github.com/dropDatabas3/crossauth/internal/tenant"
)

// Deps dependencias del router.
type Deps struct {
	Controllers *controllers.Controllers
	Resolver    *tenant.Resolver
	// Metrics nil deshabilita /metrics y la instrumentación.
	Metrics     *metrics.Metrics
	CORSOrigins []string
	// Proxies proxies confiables para X-Forwarded-For. Vacío: solo RemoteAddr.
	Proxies     helpers.ProxyPolicy
	// BrokerHost único host donde se acepta slug explícito en OTP.
	BrokerHost  string
}

// New construye el handler raíz.
func New(d Deps) http.Handler {
	c := d.Controllers
	r := chi.NewRouter()

	r.Use(
		mw.WithRecover(),
		mw.WithClientIP(d.Proxies),
		mw.WithRequestID(),
		mw.WithLogging(),
		mw.WithSecurityHeaders(),
		mw.WithCORS(d.CORSOrigins),
	)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httperrors.WriteError(w, req, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httperrors.WriteError(w, req, httperrors.New(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Método no permitido."))
	})

	r.Get("/healthz", c.Health.Healthz)
	r.Get("/readyz", c.Health.Readyz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(mw.WithNoStore())

		// tenant por slug o Host; en OAuth un tenant inexistente es indistinguible
		// de un provider deshabilitado
		oauthTenant := mw.WithTenantResolution(mw.TenantConfig{Resolver: d.Resolver, NotFound: httperrors.ErrForbidden})
		// OTP: fuera del host compartido manda el Host, un slug no puede
		// apuntar a otro tenant desde un origen ajeno
		hostTenant := mw.WithTenantResolution(mw.TenantConfig{
			Resolver: d.Resolver,
			Slug: []mw.SlugSource{
				mw.OnHosts(mw.HeaderSlug("X-Tenant-Slug"), d.BrokerHost),
				mw.OnHosts(mw.QuerySlug("tenant"), d.BrokerHost),
			},
		})

		r.Get("/oauth/callback", c.OAuth.Callback)
		r.With(oauthTenant).Get("/oauth/{provider}", c.OAuth.Start)

		r.Group(func(r chi.Router) {
			r.Use(hostTenant)
			r.Post("/otp/send", c.OTP.Send)
			r.Post("/otp/verify", c.OTP.Verify)
		})

		r.Post("/finder/send", c.Finder.Send)
		r.Post("/finder/verify", c.Finder.Verify)

		r.Get("/trust-login", c.Transfer.TrustLogin)
		r.Get("/session", c.Session.Get)
		r.Post("/logout", c.Session.Logout)
		r.Get("/error", controllers.ErrorPage)
	})

	return r
}
