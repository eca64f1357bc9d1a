package middlewares

import (
	"errors"
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/crossauth/internal/http/errors"
	"github.com/dropDatabas3/crossauth/internal/observability/logger"
	"github.com/dropDatabas3/crossauth/internal/tenant"
)

// SlugSource obtiene el slug explícito de un request ("" si no hay).
type SlugSource func(r *http.Request) string

// HeaderSlug lee el slug de un header.
func HeaderSlug(name string) SlugSource {
	return func(r *http.Request) string { return strings.TrimSpace(r.Header.Get(name)) }
}

// QuerySlug lee el slug de un query param.
func QuerySlug(name string) SlugSource {
	return func(r *http.Request) string { return strings.TrimSpace(r.URL.Query().Get(name)) }
}

// OnHosts limita src a requests cuyo Host canónico está en hosts.
func OnHosts(src SlugSource, hosts ...string) SlugSource {
	allowed := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		if c, err := tenant.CanonicalHost(h); err == nil {
			allowed[c] = struct{}{}
		}
	}
	return func(r *http.Request) string {
		h, err := tenant.CanonicalHost(r.Host)
		if err != nil {
			return ""
		}
		if _, ok := allowed[h]; !ok {
			return ""
		}
		return src(r)
	}
}

// TenantConfig configura WithTenantResolution.
type TenantConfig struct {
	Resolver *tenant.Resolver
	// Slug fuentes de slug explícito, en orden. Sin slug se resuelve por Host.
	Slug []SlugSource
	// NotFound error a escribir si el tenant no existe. Default TENANT_NOT_FOUND.
	NotFound *httperrors.AppError
}

// WithTenantResolution resuelve el tenant (slug > Host) y lo inyecta en el contexto.
func WithTenantResolution(cfg TenantConfig) Middleware {
	if cfg.Slug == nil {
		cfg.Slug = []SlugSource{HeaderSlug("X-Tenant-Slug"), QuerySlug("tenant")}
	}
	if cfg.NotFound == nil {
		cfg.NotFound = httperrors.ErrTenantNotFound
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := tenant.Request{Host: r.Host}
			for _, src := range cfg.Slug {
				if s := src(r); s != "" {
					req.Slug = s
					break
				}
			}

			res, err := cfg.Resolver.Resolve(r.Context(), req)
			switch {
			case errors.Is(err, tenant.ErrNotFound), errors.Is(err, tenant.ErrMalformedHost):
				httperrors.WriteError(w, r, cfg.NotFound.WithCause(err))
				return
			case err != nil:
				httperrors.WriteError(w, r, err)
				return
			}

			log := logger.From(r.Context()).With(
				logger.TenantID(res.Tenant.ID),
				logger.TenantSlug(res.Tenant.Slug),
			)
			ctx := logger.ToContext(WithTenant(r.Context(), res), log)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
