package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	"github.com/dropDatabas3/crossauth/internal/security/secretbox"
	"github.com/dropDatabas3/crossauth/internal/store/memory"
)

func TestParseProviders(t *testing.T) {
	got, err := parseProviders([]string{"google:team", "GitHub:portal", "google:portal"})
	require.NoError(t, err)
	assert.Equal(t, []repository.ProviderSetting{
		{Name: "google", TeamEnabled: true, PortalEnabled: true},
		{Name: "github", PortalEnabled: true},
	}, got)

	_, err = parseProviders([]string{"google"})
	assert.Error(t, err)
	_, err = parseProviders([]string{"google:admin"})
	assert.Error(t, err)
}

func seedTenant(t *testing.T) (*memory.Store, *repository.Tenant) {
	t.Helper()
	dir := memory.New()
	ten, err := dir.CreateTenant(context.Background(), repository.CreateTenantInput{
		Slug: "acme", Name: "Acme", Subdomain: "acme.example.app",
	})
	require.NoError(t, err)
	return dir, ten
}

func TestSetStrictSSO(t *testing.T) {
	dir, _ := seedTenant(t)
	ctx := context.Background()

	ten, err := setStrictSSO(ctx, dir, "acme", true)
	require.NoError(t, err)
	assert.True(t, ten.StrictSSOMode)

	ten, err = setStrictSSO(ctx, dir, "acme", false)
	require.NoError(t, err)
	assert.False(t, ten.StrictSSOMode)

	_, err = setStrictSSO(ctx, dir, "nope", true)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestConfigureSSO_EncryptsSecret(t *testing.T) {
	dir, _ := seedTenant(t)
	box, err := secretbox.New(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)

	ten, err := configureSSO(context.Background(), dir, box, "acme", ssoInput{
		DiscoveryURL: "https://idp.acme.com/.well-known/openid-configuration",
		ClientID:     "cid",
		ClientSecret: "s3cret",
	})
	require.NoError(t, err)
	require.NotNil(t, ten.SSO)
	assert.NotEqual(t, "s3cret", ten.SSO.ClientSecretEnc)
	plain, err := box.Decrypt(ten.SSO.ClientSecretEnc)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)

	_, err = configureSSO(context.Background(), dir, box, "acme", ssoInput{DiscoveryURL: "http://idp.acme.com", ClientID: "cid"})
	assert.Error(t, err)
}

func TestRunDomainOp_Lifecycle(t *testing.T) {
	dir, ten := seedTenant(t)
	ctx := context.Background()

	require.NoError(t, runDomainOp(ctx, dir, domainAdd, "acme", "App.Acme.com"))
	assert.ErrorIs(t, runDomainOp(ctx, dir, domainPrimary, "acme", "app.acme.com"), repository.ErrInvalidInput)
	require.NoError(t, runDomainOp(ctx, dir, domainVerify, "acme", "app.acme.com"))
	require.NoError(t, runDomainOp(ctx, dir, domainPrimary, "acme", "app.acme.com"))

	got, err := dir.FindTenantByID(ctx, ten.ID)
	require.NoError(t, err)
	assert.Equal(t, "app.acme.com", got.CanonicalDomain)

	assert.ErrorIs(t, runDomainOp(ctx, dir, domainDelete, "acme", "app.acme.com"), repository.ErrPrimaryDomain)
	assert.ErrorIs(t, runDomainOp(ctx, dir, domainDelete, "acme", "acme.example.app"), repository.ErrSubdomainUndeletable)
}

func TestAdminCommandsRequirePostgres(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
server:
  public_url: https://auth.example.app
security:
  master_key: AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8=
`), 0o600))

	for _, args := range [][]string{
		{"migrate", "status"},
		{"domain", "add", "acme", "app.acme.com"},
		{"maintenance", "purge"},
	} {
		root := newRootCmd()
		root.SetArgs(append([]string{"--config", p, "--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
		root.SetOut(&bytes.Buffer{})
		err := root.ExecuteContext(context.Background())
		assert.ErrorIs(t, err, errNeedsPostgres, args)
	}
}
