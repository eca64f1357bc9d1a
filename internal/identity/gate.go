// Package identity decide cómo una identidad verificada se convierte en un
// usuario local: gating de alta (invitación u open signup) y merge vs fork.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
)

var (
	// ErrSignupNotAllowed: el tenant no admite alta abierta en este contexto.
	ErrSignupNotAllowed = errors.New("identity: signup not allowed")
	// ErrInvitationInvalid: invitación inexistente, de otro tenant, vencida, usada o de otro email.
	ErrInvitationInvalid = errors.New("identity: invitation invalid")
)

// Gate aplica las reglas de alta de usuarios nuevos.
type Gate struct {
	dir repository.Directory
	now func() time.Time
}

func NewGate(dir repository.Directory) *Gate {
	return &Gate{dir: dir, now: time.Now}
}

// WithClock reemplaza el reloj con el que se evalúan las invitaciones (tests).
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Grant es el resultado de un alta autorizada.
type Grant struct {
	Role       string
	Invitation *repository.Invitation
}

// Authorize valida la invitación (si hay) o la política de alta abierta del tenant.
//
// Política: en team el alta abierta requiere OpenSignupEnabled; en portal requiere
// PortalAuthEnabled. Una invitación válida habilita el alta en cualquier contexto.
func (g *Gate) Authorize(ctx context.Context, t *repository.Tenant, authCtx repository.AuthContext, email, invitationID string) (*Grant, error) {
	if invitationID != "" {
		inv, err := g.dir.FindInvitation(ctx, invitationID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvitationInvalid
		}
		if err != nil {
			return nil, fmt.Errorf("identity: find invitation: %w", err)
		}
		if !inv.Usable(t.ID, email, g.now()) {
			return nil, ErrInvitationInvalid
		}
		return &Grant{Role: inv.Role, Invitation: inv}, nil
	}

	switch authCtx {
	case repository.ContextTeam:
		if !t.OpenSignupEnabled {
			return nil, ErrSignupNotAllowed
		}
	case repository.ContextPortal:
		if !t.PortalAuthEnabled {
			return nil, ErrSignupNotAllowed
		}
	default:
		return nil, ErrSignupNotAllowed
	}
	return &Grant{Role: repository.DefaultRole(authCtx)}, nil
}

// Accept consume la invitación del grant, si la hay. Debe correr en la misma
// transacción que crea el usuario.
func (g *Gate) Accept(ctx context.Context, grant *Grant) error {
	if grant == nil || grant.Invitation == nil {
		return nil
	}
	err := g.dir.MarkInvitationAccepted(ctx, grant.Invitation.ID)
	if errors.Is(err, repository.ErrAlreadyConsumed) || errors.Is(err, repository.ErrNotFound) {
		return ErrInvitationInvalid
	}
	return err
}
