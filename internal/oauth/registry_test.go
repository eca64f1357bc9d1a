package oauth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
)

type stub struct{ name, secret string }

func (s *stub) Name() string { return s.name }
func (s *stub) AuthorizationURL(context.Context, string, string, string) (string, error) {
	return "", nil
}
func (s *stub) ExchangeCode(context.Context, string, string, string) (*Tokens, error) {
	return nil, nil
}
func (s *stub) FetchProfile(context.Context, *Tokens) (*Profile, error) { return nil, nil }

type rot13 struct{}

func (rot13) Decrypt(c string) (string, error) {
	if c == "broken" {
		return "", errors.New("malformed")
	}
	return "plain-" + c, nil
}

func TestRegistry(t *testing.T) {
	built := 0
	r := NewRegistry(func(disc, id, secret string) IdentityProvider {
		built++
		return &stub{name: ProviderSSO, secret: secret}
	}, rot13{}, &stub{name: "GitHub"})
	ctx := context.Background()

	p, err := r.Get(ctx, nil, "github")
	require.NoError(t, err)
	assert.Equal(t, "GitHub", p.Name())

	_, err = r.Get(ctx, nil, "gitlab")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	ten := &repository.Tenant{ID: "t1"}
	_, err = r.Get(ctx, ten, ProviderSSO)
	assert.ErrorIs(t, err, ErrUnknownProvider, "tenant sin SSO")

	ten.SSO = &repository.SSOConnection{DiscoveryURL: "https://idp/.well-known", ClientID: "c", ClientSecretEnc: "x"}
	p, err = r.Get(ctx, ten, "SSO")
	require.NoError(t, err)
	assert.Equal(t, "plain-x", p.(*stub).secret)

	_, err = r.Get(ctx, ten, ProviderSSO)
	require.NoError(t, err)
	assert.Equal(t, 1, built, "provider SSO cacheado por conexión")

	other := &repository.Tenant{ID: "t2", SSO: &repository.SSOConnection{DiscoveryURL: "d", ClientSecretEnc: "broken"}}
	_, err = r.Get(ctx, other, ProviderSSO)
	assert.Error(t, err)
}
