package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
)

const tenantColumns = `id, slug, name, canonical_domain, open_signup_enabled, portal_auth_enabled,
	strict_sso_mode, providers, sso, created_at`

func scanTenant(row pgx.Row) (*repository.Tenant, error) {
	var t repository.Tenant
	var providers, sso []byte
	if err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.CanonicalDomain, &t.OpenSignupEnabled,
		&t.PortalAuthEnabled, &t.StrictSSOMode, &providers, &sso, &t.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	if len(providers) > 0 {
		if err := json.Unmarshal(providers, &t.Providers); err != nil {
			return nil, fmt.Errorf("pg: tenant %s providers: %w", t.ID, err)
		}
	}
	if len(sso) > 0 && string(sso) != "null" {
		t.SSO = &repository.SSOConnection{}
		if err := json.Unmarshal(sso, t.SSO); err != nil {
			return nil, fmt.Errorf("pg: tenant %s sso: %w", t.ID, err)
		}
	}
	return &t, nil
}

func (s *Store) FindTenantBySlug(ctx context.Context, slug string) (*repository.Tenant, error) {
	return scanTenant(s.q(ctx).QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, strings.ToLower(strings.TrimSpace(slug))))
}

func (s *Store) FindTenantByID(ctx context.Context, id string) (*repository.Tenant, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}
	return scanTenant(s.q(ctx).QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

func (s *Store) FindTenantByDomain(ctx context.Context, host string) (*repository.Tenant, *repository.Domain, error) {
	var d repository.Domain
	err := s.q(ctx).QueryRow(ctx, `
		SELECT domain, tenant_id, kind, verified, is_primary, created_at
		FROM domains WHERE domain = $1`, strings.ToLower(host)).
		Scan(&d.Domain, &d.TenantID, &d.Kind, &d.Verified, &d.IsPrimary, &d.CreatedAt)
	if err != nil {
		return nil, nil, mapErr(err)
	}
	t, err := s.FindTenantByID(ctx, d.TenantID)
	if err != nil {
		return nil, nil, err
	}
	return t, &d, nil
}

func (s *Store) ListDomains(ctx context.Context, tenantID string) ([]repository.Domain, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT domain, tenant_id, kind, verified, is_primary, created_at
		FROM domains WHERE tenant_id = $1 ORDER BY domain`, tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []repository.Domain
	for rows.Next() {
		var d repository.Domain
		if err := rows.Scan(&d.Domain, &d.TenantID, &d.Kind, &d.Verified, &d.IsPrimary, &d.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, d)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) CreateTenant(ctx context.Context, in repository.CreateTenantInput) (*repository.Tenant, error) {
	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	host := repository.NormalizeHost(in.Subdomain)
	if slug == "" || host == "" {
		return nil, repository.ErrInvalidInput
	}
	providers, err := json.Marshal(nonNilProviders(in.Providers))
	if err != nil {
		return nil, err
	}

	var out *repository.Tenant
	err = s.RunInTx(ctx, func(ctx context.Context) error {
		t, err := scanTenant(s.q(ctx).QueryRow(ctx, `
			INSERT INTO tenants (id, slug, name, canonical_domain, open_signup_enabled, portal_auth_enabled, providers)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+tenantColumns,
			uuid.NewString(), slug, in.Name, host, in.OpenSignupEnabled, in.PortalAuthEnabled, providers))
		if err != nil {
			return err
		}
		if _, err := s.q(ctx).Exec(ctx, `
			INSERT INTO domains (domain, tenant_id, kind, verified, is_primary)
			VALUES ($1, $2, 'subdomain', TRUE, TRUE)`, host, t.ID); err != nil {
			return mapErr(err)
		}
		out = t
		return nil
	})
	return out, err
}

func (s *Store) UpdateTenantSettings(ctx context.Context, tenantID string, upd repository.TenantSettingsUpdate) (*repository.Tenant, error) {
	var providers, sso []byte
	var err error
	if upd.Providers != nil {
		if providers, err = json.Marshal(upd.Providers); err != nil {
			return nil, err
		}
	}
	if upd.SSO != nil {
		if sso, err = json.Marshal(upd.SSO); err != nil {
			return nil, err
		}
	}
	return scanTenant(s.q(ctx).QueryRow(ctx, `
		UPDATE tenants SET
			strict_sso_mode     = COALESCE($2, strict_sso_mode),
			open_signup_enabled = COALESCE($3, open_signup_enabled),
			portal_auth_enabled = COALESCE($4, portal_auth_enabled),
			providers           = COALESCE($5::jsonb, providers),
			sso                 = COALESCE($6::jsonb, sso)
		WHERE id = $1
		RETURNING `+tenantColumns,
		tenantID, upd.StrictSSOMode, upd.OpenSignupEnabled, upd.PortalAuthEnabled, providers, sso))
}

func (s *Store) AddDomain(ctx context.Context, tenantID, host string) (*repository.Domain, error) {
	host = repository.NormalizeHost(host)
	if host == "" {
		return nil, repository.ErrInvalidInput
	}
	var d repository.Domain
	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO domains (domain, tenant_id, kind, verified, is_primary)
		VALUES ($1, $2, 'custom', FALSE, FALSE)
		RETURNING domain, tenant_id, kind, verified, is_primary, created_at`, host, tenantID).
		Scan(&d.Domain, &d.TenantID, &d.Kind, &d.Verified, &d.IsPrimary, &d.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &d, nil
}

func (s *Store) VerifyDomain(ctx context.Context, tenantID, host string) error {
	tag, err := s.q(ctx).Exec(ctx,
		`UPDATE domains SET verified = TRUE WHERE domain = $1 AND tenant_id = $2`,
		repository.NormalizeHost(host), tenantID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) SetPrimaryDomain(ctx context.Context, tenantID, host string) error {
	host = repository.NormalizeHost(host)
	return s.RunInTx(ctx, func(ctx context.Context) error {
		var kind repository.DomainKind
		var verified bool
		err := s.q(ctx).QueryRow(ctx,
			`SELECT kind, verified FROM domains WHERE domain = $1 AND tenant_id = $2 FOR UPDATE`, host, tenantID).
			Scan(&kind, &verified)
		if err != nil {
			return mapErr(err)
		}
		if d := (repository.Domain{Kind: kind, Verified: verified}); !d.Routable() {
			return repository.ErrInvalidInput
		}
		if _, err := s.q(ctx).Exec(ctx,
			`UPDATE domains SET is_primary = FALSE WHERE tenant_id = $1 AND is_primary`, tenantID); err != nil {
			return mapErr(err)
		}
		if _, err := s.q(ctx).Exec(ctx,
			`UPDATE domains SET is_primary = TRUE WHERE domain = $1`, host); err != nil {
			return mapErr(err)
		}
		_, err = s.q(ctx).Exec(ctx, `UPDATE tenants SET canonical_domain = $2 WHERE id = $1`, tenantID, host)
		return mapErr(err)
	})
}

func (s *Store) DeleteDomain(ctx context.Context, tenantID, host string) error {
	host = repository.NormalizeHost(host)
	return s.RunInTx(ctx, func(ctx context.Context) error {
		var kind repository.DomainKind
		var primary bool
		err := s.q(ctx).QueryRow(ctx,
			`SELECT kind, is_primary FROM domains WHERE domain = $1 AND tenant_id = $2 FOR UPDATE`, host, tenantID).
			Scan(&kind, &primary)
		if err != nil {
			return mapErr(err)
		}
		if kind == repository.DomainSubdomain {
			return repository.ErrSubdomainUndeletable
		}
		if primary {
			return repository.ErrPrimaryDomain
		}
		_, err = s.q(ctx).Exec(ctx, `DELETE FROM domains WHERE domain = $1`, host)
		return mapErr(err)
	})
}

func nonNilProviders(p []repository.ProviderSetting) []repository.ProviderSetting {
	if p == nil {
		return []repository.ProviderSetting{}
	}
	return p
}
