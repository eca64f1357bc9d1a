package pg

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
)

const userColumns = `u.id, u.tenant_id, u.email, u.email_verified, u.name, u.avatar_url,
	u.external_email, u.forked, u.created_at`

func scanUser(row pgx.Row) (*repository.User, error) {
	var u repository.User
	if err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.EmailVerified, &u.Name, &u.AvatarURL,
		&u.ExternalEmail, &u.Forked, &u.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, tenantID, email string) (*repository.User, error) {
	return scanUser(s.q(ctx).QueryRow(ctx, `
		SELECT `+userColumns+` FROM users u
		WHERE u.tenant_id = $1 AND LOWER(u.email) = $2`, tenantID, repository.NormalizeEmail(email)))
}

func (s *Store) FindUserByID(ctx context.Context, tenantID, userID string) (*repository.User, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, repository.ErrNotFound
	}
	return scanUser(s.q(ctx).QueryRow(ctx, `
		SELECT `+userColumns+` FROM users u
		WHERE u.tenant_id = $1 AND u.id = $2`, tenantID, userID))
}

func (s *Store) FindUserByExternalAccount(ctx context.Context, tenantID, provider, accountID string) (*repository.User, error) {
	return scanUser(s.q(ctx).QueryRow(ctx, `
		SELECT `+userColumns+` FROM users u
		JOIN external_accounts a ON a.user_id = u.id
		WHERE a.tenant_id = $1 AND a.provider = $2 AND a.account_id = $3`,
		tenantID, strings.ToLower(provider), accountID))
}

func (s *Store) FindMember(ctx context.Context, tenantID, userID string) (*repository.Member, error) {
	var m repository.Member
	err := s.q(ctx).QueryRow(ctx, `
		SELECT id, user_id, tenant_id, role, created_at FROM members
		WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID).
		Scan(&m.ID, &m.UserID, &m.TenantID, &m.Role, &m.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func (s *Store) FindTenantsByEmail(ctx context.Context, email string) ([]repository.Tenant, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT `+prefixed("t.", tenantColumns)+`
		FROM tenants t JOIN users u ON u.tenant_id = t.id
		WHERE LOWER(u.email) = $1 AND NOT u.forked
		ORDER BY t.slug`, repository.NormalizeEmail(email))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []repository.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) CreateUser(ctx context.Context, in repository.CreateUserInput) (*repository.User, *repository.Member, error) {
	email := repository.NormalizeEmail(in.Email)
	if in.TenantID == "" || email == "" || !repository.ValidRole(in.Role) {
		return nil, nil, repository.ErrInvalidInput
	}
	var (
		u *repository.User
		m repository.Member
	)
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		u, err = scanUser(s.q(ctx).QueryRow(ctx, `
			INSERT INTO users AS u (id, tenant_id, email, email_verified, name, avatar_url, external_email, forked)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+userColumns,
			uuid.NewString(), in.TenantID, email, in.EmailVerified, in.Name, in.AvatarURL, in.ExternalEmail, in.Forked))
		if err != nil {
			return err
		}
		err = s.q(ctx).QueryRow(ctx, `
			INSERT INTO members (id, user_id, tenant_id, role)
			VALUES ($1, $2, $3, $4)
			RETURNING id, user_id, tenant_id, role, created_at`,
			uuid.NewString(), u.ID, in.TenantID, in.Role).
			Scan(&m.ID, &m.UserID, &m.TenantID, &m.Role, &m.CreatedAt)
		return mapErr(err)
	})
	if err != nil {
		return nil, nil, err
	}
	return u, &m, nil
}

func (s *Store) LinkExternalAccount(ctx context.Context, acc repository.ExternalAccount) error {
	provider := strings.ToLower(acc.Provider)
	tag, err := s.q(ctx).Exec(ctx, `
		INSERT INTO external_accounts (tenant_id, provider, account_id, user_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, provider, account_id) DO NOTHING`,
		acc.TenantID, provider, acc.AccountID, acc.UserID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// ya existía: no-op si apunta al mismo usuario
	var owner string
	err = s.q(ctx).QueryRow(ctx, `
		SELECT user_id FROM external_accounts
		WHERE tenant_id = $1 AND provider = $2 AND account_id = $3`,
		acc.TenantID, provider, acc.AccountID).Scan(&owner)
	if err != nil {
		return mapErr(err)
	}
	if owner != acc.UserID {
		return repository.ErrConflict
	}
	return nil
}

func prefixed(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func isNotFound(err error) bool { return errors.Is(err, repository.ErrNotFound) }
