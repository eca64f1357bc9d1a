package repository

import (
	"context"
	"time"
)

// Directory es el almacenamiento de tenants, identidades y artefactos single-use.
type Directory interface {
	// ─── Tenants y dominios ───

	FindTenantBySlug(ctx context.Context, slug string) (*Tenant, error)
	FindTenantByID(ctx context.Context, id string) (*Tenant, error)
	// FindTenantByDomain retorna el tenant y el registro del dominio (host exacto).
	FindTenantByDomain(ctx context.Context, host string) (*Tenant, *Domain, error)
	ListDomains(ctx context.Context, tenantID string) ([]Domain, error)

	// CreateTenant crea el tenant y su subdominio primario.
	CreateTenant(ctx context.Context, in CreateTenantInput) (*Tenant, error)
	UpdateTenantSettings(ctx context.Context, tenantID string, upd TenantSettingsUpdate) (*Tenant, error)

	// AddDomain agrega un dominio custom sin verificar. ErrConflict si ya existe en cualquier tenant.
	AddDomain(ctx context.Context, tenantID, host string) (*Domain, error)
	VerifyDomain(ctx context.Context, tenantID, host string) error
	// SetPrimaryDomain promueve host y degrada el primario anterior en una sola operación.
	SetPrimaryDomain(ctx context.Context, tenantID, host string) error
	// DeleteDomain rechaza subdominios (ErrSubdomainUndeletable) y el primario (ErrPrimaryDomain).
	DeleteDomain(ctx context.Context, tenantID, host string) error

	// ─── Usuarios ───

	FindUserByEmail(ctx context.Context, tenantID, email string) (*User, error)
	FindUserByID(ctx context.Context, tenantID, userID string) (*User, error)
	FindUserByExternalAccount(ctx context.Context, tenantID, provider, accountID string) (*User, error)
	FindMember(ctx context.Context, tenantID, userID string) (*Member, error)
	// FindTenantsByEmail lista los tenants con un usuario no forkeado con ese email.
	FindTenantsByEmail(ctx context.Context, email string) ([]Tenant, error)

	// CreateUser crea User + Member. ErrConflict si (tenant, email) ya existe.
	CreateUser(ctx context.Context, in CreateUserInput) (*User, *Member, error)
	// LinkExternalAccount es idempotente para el mismo (provider, accountID, user).
	// ErrConflict si la cuenta ya está vinculada a otro usuario.
	LinkExternalAccount(ctx context.Context, acc ExternalAccount) error

	// ─── Invitaciones ───

	FindInvitation(ctx context.Context, id string) (*Invitation, error)
	CreateInvitation(ctx context.Context, in CreateInvitationInput) (*Invitation, error)
	// MarkInvitationAccepted pasa pending → accepted. ErrAlreadyConsumed si ya no estaba pending.
	MarkInvitationAccepted(ctx context.Context, id string) error

	// ─── Códigos de verificación ───

	// ReplaceVerificationCode invalida cualquier código previo del identifier y guarda el nuevo.
	ReplaceVerificationCode(ctx context.Context, code VerificationCode) error
	GetVerificationCode(ctx context.Context, identifier string) (*VerificationCode, error)
	// ExtendVerificationCode extiende el vencimiento una única vez (Extended=false → true).
	ExtendVerificationCode(ctx context.Context, identifier, code string, expiresAt time.Time) error
	// ConsumeVerificationCode borra el código si coincide y retorna la fila previa.
	// ErrNotFound si no hay código o no coincide.
	ConsumeVerificationCode(ctx context.Context, identifier, code string) (*VerificationCode, error)

	// ─── Tokens de transferencia de sesión ───

	CreateSessionTransferToken(ctx context.Context, t TransferToken) error
	// ConsumeSessionTransferToken hace fetch-and-delete atómico.
	// ErrAlreadyConsumed si el token ya fue canjeado, ErrNotFound si nunca existió.
	ConsumeSessionTransferToken(ctx context.Context, token string) (*TransferToken, error)

	// RunInTx ejecuta fn dentro de una transacción propagada por ctx.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	Ping(ctx context.Context) error
}
