package pg

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
)

// ─── Invitaciones ───

func (s *Store) FindInvitation(ctx context.Context, id string) (*repository.Invitation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}
	var inv repository.Invitation
	err := s.q(ctx).QueryRow(ctx, `
		SELECT id, tenant_id, email, role,
			CASE WHEN status = 'pending' AND expires_at <= NOW() THEN 'expired' ELSE status END,
			inviter_name, expires_at, created_at
		FROM invitations WHERE id = $1`, id).
		Scan(&inv.ID, &inv.TenantID, &inv.Email, &inv.Role, &inv.Status, &inv.InviterName, &inv.ExpiresAt, &inv.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &inv, nil
}

func (s *Store) CreateInvitation(ctx context.Context, in repository.CreateInvitationInput) (*repository.Invitation, error) {
	var inv repository.Invitation
	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO invitations (id, tenant_id, email, role, inviter_name, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, tenant_id, email, role, status, inviter_name, expires_at, created_at`,
		uuid.NewString(), in.TenantID, repository.NormalizeEmail(in.Email), in.Role, in.InviterName, in.ExpiresAt).
		Scan(&inv.ID, &inv.TenantID, &inv.Email, &inv.Role, &inv.Status, &inv.InviterName, &inv.ExpiresAt, &inv.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &inv, nil
}

func (s *Store) MarkInvitationAccepted(ctx context.Context, id string) error {
	tag, err := s.q(ctx).Exec(ctx,
		`UPDATE invitations SET status = 'accepted' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.FindInvitation(ctx, id); err != nil {
		return err
	}
	return repository.ErrAlreadyConsumed
}

// ─── Códigos ───

func (s *Store) ReplaceVerificationCode(ctx context.Context, code repository.VerificationCode) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO verification_codes (identifier, code, expires_at, extended, created_at)
		VALUES ($1, $2, $3, FALSE, NOW())
		ON CONFLICT (identifier) DO UPDATE
		SET code = EXCLUDED.code, expires_at = EXCLUDED.expires_at, extended = FALSE, created_at = NOW()`,
		code.Identifier, code.Code, code.ExpiresAt)
	return mapErr(err)
}

func (s *Store) GetVerificationCode(ctx context.Context, identifier string) (*repository.VerificationCode, error) {
	var c repository.VerificationCode
	err := s.q(ctx).QueryRow(ctx, `
		SELECT identifier, code, expires_at, extended, created_at
		FROM verification_codes WHERE identifier = $1`, identifier).
		Scan(&c.Identifier, &c.Code, &c.ExpiresAt, &c.Extended, &c.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Store) ExtendVerificationCode(ctx context.Context, identifier, code string, expiresAt time.Time) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE verification_codes SET expires_at = $3, extended = TRUE
		WHERE identifier = $1 AND code = $2 AND NOT extended`, identifier, code, expiresAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	c, err := s.GetVerificationCode(ctx, identifier)
	if err != nil {
		return err
	}
	if c.Code != code {
		return repository.ErrNotFound
	}
	return repository.ErrAlreadyConsumed
}

func (s *Store) ConsumeVerificationCode(ctx context.Context, identifier, code string) (*repository.VerificationCode, error) {
	var c repository.VerificationCode
	err := s.q(ctx).QueryRow(ctx, `
		DELETE FROM verification_codes WHERE identifier = $1 AND code = $2
		RETURNING identifier, code, expires_at, extended, created_at`, identifier, code).
		Scan(&c.Identifier, &c.Code, &c.ExpiresAt, &c.Extended, &c.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

// ─── Transferencia de sesión ───

func (s *Store) CreateSessionTransferToken(ctx context.Context, t repository.TransferToken) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO session_transfer_tokens (token, user_id, tenant_id, target_domain, callback_path, context, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.Token, t.UserID, t.TenantID, strings.ToLower(t.TargetDomain), t.CallbackPath, string(t.Context), t.ExpiresAt)
	return mapErr(err)
}

// ConsumeSessionTransferToken borra el token y deja un tombstone en la misma sentencia.
func (s *Store) ConsumeSessionTransferToken(ctx context.Context, token string) (*repository.TransferToken, error) {
	var t repository.TransferToken
	var tctx string
	err := s.q(ctx).QueryRow(ctx, `
		WITH del AS (
			DELETE FROM session_transfer_tokens WHERE token = $1
			RETURNING token, user_id, tenant_id, target_domain, callback_path, context, expires_at, created_at
		), tomb AS (
			INSERT INTO session_transfer_consumed (token) SELECT token FROM del
			ON CONFLICT (token) DO NOTHING
		)
		SELECT token, user_id, tenant_id, target_domain, callback_path, context, expires_at, created_at FROM del`, token).
		Scan(&t.Token, &t.UserID, &t.TenantID, &t.TargetDomain, &t.CallbackPath, &tctx, &t.ExpiresAt, &t.CreatedAt)
	if err == nil {
		t.Context = repository.AuthContext(tctx)
		return &t, nil
	}
	if err = mapErr(err); !isNotFound(err) {
		return nil, err
	}

	var used bool
	if err := s.q(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM session_transfer_consumed WHERE token = $1)`, token).Scan(&used); err != nil {
		return nil, mapErr(err)
	}
	if used {
		return nil, repository.ErrAlreadyConsumed
	}
	return nil, repository.ErrNotFound
}

// PurgeExpired borra códigos vencidos y tombstones viejos. Lo usa el comando `maintenance purge`.
func (s *Store) PurgeExpired(ctx context.Context, tombstoneAge time.Duration) (int64, error) {
	var total int64
	for _, q := range []struct {
		sql  string
		args []any
	}{
		{`DELETE FROM verification_codes WHERE expires_at < NOW()`, nil},
		{`DELETE FROM session_transfer_tokens WHERE expires_at < NOW()`, nil},
		{`DELETE FROM session_transfer_consumed WHERE consumed_at < $1`, []any{time.Now().Add(-tombstoneAge)}},
	} {
		tag, err := s.q(ctx).Exec(ctx, q.sql, q.args...)
		if err != nil {
			return total, mapErr(err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
