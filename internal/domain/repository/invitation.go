package repository

import (
	"strings"
	"time"
)

// InvitationStatus estado de una invitación.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation invita un email a un tenant con un rol. Se consume una sola vez.
type Invitation struct {
	ID          string
	TenantID    string
	Email       string
	Role        string
	Status      InvitationStatus
	InviterName string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Usable reporta si la invitación puede aceptarse para tenantID/email en now.
func (i *Invitation) Usable(tenantID, email string, now time.Time) bool {
	return i != nil &&
		i.TenantID == tenantID &&
		i.Status == InvitationPending &&
		now.Before(i.ExpiresAt) &&
		strings.EqualFold(strings.TrimSpace(i.Email), strings.TrimSpace(email))
}

// CreateInvitationInput datos de alta de invitación.
type CreateInvitationInput struct {
	TenantID    string
	Email       string
	Role        string
	InviterName string
	ExpiresAt   time.Time
}
