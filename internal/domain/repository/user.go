package repository

import (
	"strings"
	"time"
)

// Roles de miembro.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member" // default team
	RoleUser   = "user"   // default portal
)

// DefaultRole retorna el rol de alta por contexto.
func DefaultRole(ctx AuthContext) string {
	if ctx == ContextTeam {
		return RoleMember
	}
	return RoleUser
}

// ValidRole reporta si role es conocido.
func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleMember, RoleUser:
		return true
	}
	return false
}

// User es una identidad local dentro de un tenant.
//
// En usuarios forkeados (strict SSO) Email contiene la clave derivada y
// ExternalEmail el email real, usado solo para mostrar/notificar.
type User struct {
	ID            string
	TenantID      string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
	ExternalEmail string
	Forked        bool
	CreatedAt     time.Time
}

// ContactEmail retorna el email a usar para notificaciones.
func (u *User) ContactEmail() string {
	if u.Forked && u.ExternalEmail != "" {
		return u.ExternalEmail
	}
	return u.Email
}

// Member vincula un usuario a un tenant con un rol.
type Member struct {
	ID        string
	UserID    string
	TenantID  string
	Role      string
	CreatedAt time.Time
}

// ExternalAccount es una cuenta (provider, accountID) vinculada a un usuario.
type ExternalAccount struct {
	UserID    string
	TenantID  string
	Provider  string
	AccountID string
	CreatedAt time.Time
}

// CreateUserInput crea User + Member en una sola operación.
type CreateUserInput struct {
	TenantID      string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
	ExternalEmail string
	Forked        bool
	Role          string
}

// NormalizeEmail recorta y baja a minúsculas.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
