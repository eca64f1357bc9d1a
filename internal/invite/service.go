// Package invite emite invitaciones a un tenant y envía el link por email.
package invite

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	"github.com/dropDatabas3/crossauth/internal/notify"
	"github.com/dropDatabas3/crossauth/internal/observability/logger"
	"github.com/dropDatabas3/crossauth/internal/validation"
)

// DefaultTTL vigencia de una invitación si no se indica otra.
const DefaultTTL = 7 * 24 * time.Hour

var (
	ErrInvalidEmail = errors.New("invite: invalid email")
	ErrInvalidRole  = errors.New("invite: invalid role")
)

type Service struct {
	dir      repository.Directory
	notifier notify.Notifier
	scheme   string
	now      func() time.Time
}

func NewService(dir repository.Directory, n notify.Notifier, scheme string) *Service {
	if scheme == "" {
		scheme = "https"
	}
	return &Service{dir: dir, notifier: n, scheme: scheme, now: time.Now}
}

// CreateRequest datos de la invitación.
type CreateRequest struct {
	Tenant      *repository.Tenant
	InviterName string
	Email       string
	Role        string
	TTL         time.Duration
}

// Create persiste la invitación pendiente y envía el email. Un fallo de envío
// se retorna junto con la invitación ya creada.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*repository.Invitation, string, error) {
	if !validation.ValidEmail(req.Email) {
		return nil, "", ErrInvalidEmail
	}
	if req.Role == "" {
		req.Role = repository.RoleMember
	}
	if !repository.ValidRole(req.Role) || req.Role == repository.RoleOwner {
		return nil, "", ErrInvalidRole
	}
	if req.TTL <= 0 {
		req.TTL = DefaultTTL
	}

	inv, err := s.dir.CreateInvitation(ctx, repository.CreateInvitationInput{
		TenantID:    req.Tenant.ID,
		Email:       repository.NormalizeEmail(req.Email),
		Role:        req.Role,
		InviterName: req.InviterName,
		ExpiresAt:   s.now().Add(req.TTL),
	})
	if err != nil {
		return nil, "", fmt.Errorf("invite: create: %w", err)
	}

	link := s.Link(req.Tenant, inv.ID)
	if err := s.notifier.SendInvitationEmail(ctx, inv.Email, req.InviterName, req.Tenant.Name, link); err != nil {
		logger.From(ctx).Warn("invitation email failed",
			logger.Component("invite"), logger.TenantID(req.Tenant.ID), logger.EmailMasked(inv.Email), logger.Err(err))
		return inv, link, fmt.Errorf("invite: send: %w", err)
	}
	return inv, link, nil
}

// Link URL de alta con la invitación en el dominio canónico del tenant.
func (s *Service) Link(t *repository.Tenant, invitationID string) string {
	u := url.URL{
		Scheme:   s.scheme,
		Host:     t.CanonicalDomain,
		Path:     "/signup",
		RawQuery: url.Values{"invitation": {invitationID}}.Encode(),
	}
	return u.String()
}
