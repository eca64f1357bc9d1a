package invite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	"github.com/dropDatabas3/crossauth/internal/store/memory"
)

type outbox struct {
	to, inviter, tenant, link string
	err                       error
}

func (o *outbox) SendOTPEmail(context.Context, string, string, string) error { return nil }

func (o *outbox) SendInvitationEmail(_ context.Context, to, inviter, tenantName, link string) error {
	o.to, o.inviter, o.tenant, o.link = to, inviter, tenantName, link
	return o.err
}

func setup(t *testing.T) (*Service, *memory.Store, *outbox, *repository.Tenant) {
	t.Helper()
	dir := memory.New()
	ten, err := dir.CreateTenant(context.Background(), repository.CreateTenantInput{
		Slug: "acme", Name: "Acme", Subdomain: "acme.example.app",
	})
	require.NoError(t, err)
	box := &outbox{}
	return NewService(dir, box, ""), dir, box, ten
}

func TestCreate(t *testing.T) {
	svc, dir, box, ten := setup(t)
	ctx := context.Background()

	inv, link, err := svc.Create(ctx, CreateRequest{Tenant: ten, InviterName: "Owner", Email: "Bob@Acme.com", Role: repository.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, "bob@acme.com", inv.Email)
	assert.Equal(t, repository.InvitationPending, inv.Status)
	assert.Equal(t, "https://acme.example.app/signup?invitation="+inv.ID, link)
	assert.Equal(t, link, box.link)
	assert.Equal(t, "Acme", box.tenant)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), inv.ExpiresAt, time.Minute)

	got, err := dir.FindInvitation(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RoleAdmin, got.Role)
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _, ten := setup(t)
	_, _, err := svc.Create(context.Background(), CreateRequest{Tenant: ten, Email: "nope"})
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, _, err = svc.Create(context.Background(), CreateRequest{Tenant: ten, Email: "a@x.com", Role: repository.RoleOwner})
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestCreate_SendFailureKeepsInvitation(t *testing.T) {
	svc, dir, box, ten := setup(t)
	box.err = errors.New("smtp down")

	inv, _, err := svc.Create(context.Background(), CreateRequest{Tenant: ten, Email: "a@x.com"})
	assert.Error(t, err)
	require.NotNil(t, inv)
	_, ferr := dir.FindInvitation(context.Background(), inv.ID)
	assert.NoError(t, ferr)
}
