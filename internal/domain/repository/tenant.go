package repository

import (
	"strings"
	"time"
)

// AuthContext distingue autenticación de back-office (team) y de usuarios finales (portal).
type AuthContext string

const (
	ContextTeam   AuthContext = "team"
	ContextPortal AuthContext = "portal"
)

// Valid reporta si el contexto es conocido.
func (c AuthContext) Valid() bool { return c == ContextTeam || c == ContextPortal }

// ParseAuthContext parsea un contexto; vacío equivale a portal.
func ParseAuthContext(s string) (AuthContext, bool) {
	switch AuthContext(strings.ToLower(strings.TrimSpace(s))) {
	case "", ContextPortal:
		return ContextPortal, true
	case ContextTeam:
		return ContextTeam, true
	}
	return "", false
}

// Tenant es un workspace aislado.
type Tenant struct {
	ID                string
	Slug              string
	Name              string
	CanonicalDomain   string
	OpenSignupEnabled bool
	PortalAuthEnabled bool
	// StrictSSOMode activa el modo fork: identidades externas nunca se fusionan
	// con usuarios locales que compartan email.
	StrictSSOMode bool
	Providers     []ProviderSetting
	SSO           *SSOConnection
	CreatedAt     time.Time
}

// ProviderSetting habilita un provider de forma independiente por contexto.
type ProviderSetting struct {
	Name          string `json:"name"`
	TeamEnabled   bool   `json:"team_enabled"`
	PortalEnabled bool   `json:"portal_enabled"`
}

// SSOConnection es la conexión OIDC empresarial del tenant (provider "sso").
type SSOConnection struct {
	DiscoveryURL string `json:"discovery_url"`
	ClientID     string `json:"client_id"`
	// ClientSecretEnc está cifrado con secretbox.
	ClientSecretEnc string `json:"client_secret_enc"`
}

// ProviderEnabled reporta si provider está habilitado para ctx.
func (t *Tenant) ProviderEnabled(provider string, ctx AuthContext) bool {
	if t == nil {
		return false
	}
	for _, p := range t.Providers {
		if !strings.EqualFold(p.Name, provider) {
			continue
		}
		switch ctx {
		case ContextTeam:
			return p.TeamEnabled
		case ContextPortal:
			return p.PortalEnabled
		}
	}
	return false
}

// DomainKind distingue subdominios de plataforma y dominios propios.
type DomainKind string

const (
	DomainSubdomain DomainKind = "subdomain"
	DomainCustom    DomainKind = "custom"
)

// Domain es un host por el que se alcanza un tenant. Domain es único globalmente.
type Domain struct {
	Domain    string
	TenantID  string
	Kind      DomainKind
	Verified  bool
	IsPrimary bool
	CreatedAt time.Time
}

// Routable reporta si el dominio puede resolver tráfico normal.
// Los dominios custom sin verificar solo sirven al endpoint de verificación.
func (d *Domain) Routable() bool {
	return d.Kind == DomainSubdomain || d.Verified
}

// CreateTenantInput datos para provisionar un workspace.
type CreateTenantInput struct {
	Slug              string
	Name              string
	Subdomain         string // host completo, ej: acme.example.app
	OpenSignupEnabled bool
	PortalAuthEnabled bool
	Providers         []ProviderSetting
}

// TenantSettingsUpdate campos mutables por owner/admin. nil = sin cambio.
type TenantSettingsUpdate struct {
	StrictSSOMode     *bool
	OpenSignupEnabled *bool
	PortalAuthEnabled *bool
	Providers         []ProviderSetting
	SSO               *SSOConnection
}

// NormalizeHost baja a minúsculas, quita puerto y punto final.
// Los literales IPv6 se devuelven sin tocar para que el resolver los rechace.
func NormalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	if strings.HasPrefix(h, "[") {
		return h
	}
	if i := strings.LastIndexByte(h, ':'); i >= 0 {
		h = h[:i]
	}
	return strings.TrimSuffix(h, ".")
}
