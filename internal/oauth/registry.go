package oauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
)

// ProviderSSO es el nombre reservado del SSO empresarial por tenant.
const ProviderSSO = "sso"

// SSOFactory construye el provider SSO de un tenant. clientSecret ya viene descifrado.
type SSOFactory func(discoveryURL, clientID, clientSecret string) IdentityProvider

// Decrypter descifra secretos persistidos (secretbox).
type Decrypter interface {
	Decrypt(cipherText string) (string, error)
}

// Registry resuelve providers: los globales por nombre y el SSO por tenant.
type Registry struct {
	global  map[string]IdentityProvider
	sso     SSOFactory
	secrets Decrypter
	cache   *gocache.Cache
}

func NewRegistry(sso SSOFactory, secrets Decrypter, providers ...IdentityProvider) *Registry {
	r := &Registry{
		global:  make(map[string]IdentityProvider, len(providers)),
		sso:     sso,
		secrets: secrets,
		cache:   gocache.New(15*time.Minute, 30*time.Minute),
	}
	for _, p := range providers {
		r.global[strings.ToLower(p.Name())] = p
	}
	return r
}

// Names lista los providers globales registrados.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.global))
	for n := range r.global {
		out = append(out, n)
	}
	return out
}

// Get resuelve el provider name para el tenant t.
func (r *Registry) Get(ctx context.Context, t *repository.Tenant, name string) (IdentityProvider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != ProviderSSO {
		p, ok := r.global[name]
		if !ok {
			return nil, ErrUnknownProvider
		}
		return p, nil
	}
	if t == nil || t.SSO == nil || t.SSO.DiscoveryURL == "" || r.sso == nil {
		return nil, ErrUnknownProvider
	}

	// la clave incluye la conexión: un cambio de settings invalida la entrada
	key := t.ID + "|" + t.SSO.DiscoveryURL + "|" + t.SSO.ClientID
	if v, ok := r.cache.Get(key); ok {
		return v.(IdentityProvider), nil
	}
	secret := ""
	if t.SSO.ClientSecretEnc != "" {
		if r.secrets == nil {
			return nil, fmt.Errorf("oauth: sso secret for tenant %s: no decrypter", t.ID)
		}
		s, err := r.secrets.Decrypt(t.SSO.ClientSecretEnc)
		if err != nil {
			return nil, fmt.Errorf("oauth: sso secret for tenant %s: %w", t.ID, err)
		}
		secret = s
	}
	p := r.sso(t.SSO.DiscoveryURL, t.SSO.ClientID, secret)
	r.cache.SetDefault(key, p)
	return p, nil
}
