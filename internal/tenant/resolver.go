// Package tenant resuelve el tenant de un request (slug explícito o Host).
package tenant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
)

var (
	// ErrNotFound: tenant o dominio desconocido, o dominio custom sin verificar.
	ErrNotFound = errors.New("tenant: not found")
	// ErrMalformedHost: host vacío, con wildcard, IP literal o caracteres inválidos.
	ErrMalformedHost = errors.New("tenant: malformed host")
)

// Request describe cómo identificar el tenant. Slug tiene precedencia sobre Host.
type Request struct {
	Host string
	Slug string
	// AllowUnverified solo para el endpoint de verificación de dominio.
	AllowUnverified bool
}

// Resolved es el tenant resuelto y, si se resolvió por host, su dominio.
type Resolved struct {
	Tenant *repository.Tenant
	Domain *repository.Domain
}

// Resolver mapea requests a tenants.
type Resolver struct {
	dir repository.Directory
}

func NewResolver(dir repository.Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve aplica la precedencia slug > host. Nunca hace matching por wildcard.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolved, error) {
	if slug := strings.TrimSpace(req.Slug); slug != "" {
		if !validSlug(slug) {
			return nil, ErrNotFound
		}
		t, err := r.dir.FindTenantBySlug(ctx, slug)
		if err != nil {
			return nil, notFound(err)
		}
		return &Resolved{Tenant: t}, nil
	}

	host, err := CanonicalHost(req.Host)
	if err != nil {
		return nil, err
	}
	t, d, err := r.dir.FindTenantByDomain(ctx, host)
	if err != nil {
		return nil, notFound(err)
	}
	if !d.Routable() && !req.AllowUnverified {
		return nil, ErrNotFound
	}
	return &Resolved{Tenant: t, Domain: d}, nil
}

// IsEnabled indica si provider está habilitado para el tenant en ctx.
func IsEnabled(t *repository.Tenant, provider string, ctx repository.AuthContext) bool {
	if t == nil || !ctx.Valid() {
		return false
	}
	if ctx == repository.ContextPortal && !t.PortalAuthEnabled {
		return false
	}
	if strings.EqualFold(provider, "sso") && t.SSO == nil {
		return false
	}
	return t.ProviderEnabled(provider, ctx)
}

// OwnsDomain reporta si host es un dominio routable del tenant.
func (r *Resolver) OwnsDomain(ctx context.Context, t *repository.Tenant, host string) (bool, error) {
	h, err := CanonicalHost(host)
	if err != nil {
		return false, nil
	}
	owner, d, err := r.dir.FindTenantByDomain(ctx, h)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tenant: owns domain: %w", err)
	}
	return owner.ID == t.ID && d.Routable(), nil
}

// CanonicalHost normaliza y valida un host header.
func CanonicalHost(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "[") {
		return "", ErrMalformedHost
	}
	h := repository.NormalizeHost(raw)
	if h == "" || len(h) > 253 || strings.Count(raw, ":") > 1 {
		return "", ErrMalformedHost
	}
	if net.ParseIP(h) != nil {
		return "", ErrMalformedHost
	}
	labels := strings.Split(h, ".")
	if len(labels) < 2 && h != "localhost" {
		return "", ErrMalformedHost
	}
	for _, l := range labels {
		if !validLabel(l) {
			return "", ErrMalformedHost
		}
	}
	return h, nil
}

func validLabel(l string) bool {
	if l == "" || len(l) > 63 || l[0] == '-' || l[len(l)-1] == '-' {
		return false
	}
	for i := 0; i < len(l); i++ {
		c := l[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
			return false
		}
	}
	return true
}

func validSlug(s string) bool {
	if len(s) > 63 {
		return false
	}
	return validLabel(strings.ToLower(s))
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("tenant: resolve: %w", err)
}
