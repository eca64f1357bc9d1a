package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/crossauth/internal/rate"
)

const testKey = "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_DefaultsAndYAML(t *testing.T) {
	p := writeYAML(t, `
server:
  public_url: https://auth.example.app
security:
  master_key: `+testKey+`
rate:
  rules:
    otp_send: {limit: 3, window: 10m}
providers:
  github: {enabled: true, client_id: id, client_secret: sec}
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "memory", c.Storage.Driver)
	assert.Equal(t, "directory", c.Transfer.Store)
	assert.Equal(t, 60*time.Second, c.Transfer.TTL)
	assert.Equal(t, 12*time.Hour, c.Session.TTL)
	assert.True(t, c.Rate.Enabled)
	assert.Equal(t, rate.Rule{Limit: 3, Window: 10 * time.Minute}, c.Rate.Rules[rate.OpOTPSend])
	assert.True(t, c.Providers.GitHub.Enabled)

	key, err := c.MasterKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CROSSAUTH_PUBLIC_URL", "https://auth.example.app/")
	t.Setenv("CROSSAUTH_MASTER_KEY", testKey)
	t.Setenv("CROSSAUTH_TRANSFER_TTL", "30s")
	t.Setenv("CROSSAUTH_GOOGLE_CLIENT_ID", "gid")
	t.Setenv("CROSSAUTH_GOOGLE_CLIENT_SECRET", "gsec")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.app", c.Server.PublicURL)
	assert.Equal(t, 30*time.Second, c.Transfer.TTL)
	assert.True(t, c.Providers.Google.Enabled)
	assert.Equal(t, "gid", c.Providers.Google.ClientID)
}

func TestLoad_TrustedProxies(t *testing.T) {
	p := writeYAML(t, `
server:
  public_url: https://auth.example.app
  trusted_proxies: ["10.0.0.0/8"]
security:
  master_key: `+testKey+`
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8"}, c.Server.TrustedProxies)

	t.Setenv("CROSSAUTH_TRUSTED_PROXIES", "192.0.2.1, 172.16.0.0/12")
	c, err = Load(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.1", "172.16.0.0/12"}, c.Server.TrustedProxies)
}

func TestLoad_ProdForcesSecureCookies(t *testing.T) {
	t.Setenv("CROSSAUTH_APP_ENV", "prod")
	t.Setenv("CROSSAUTH_PUBLIC_URL", "https://auth.example.app")
	t.Setenv("CROSSAUTH_MASTER_KEY", testKey)
	t.Setenv("CROSSAUTH_STORAGE_DRIVER", "postgres")
	t.Setenv("CROSSAUTH_STORAGE_DSN", "postgres://localhost/crossauth")

	c, err := Load("")
	require.NoError(t, err)
	assert.True(t, c.Session.Secure)
}

func TestValidate(t *testing.T) {
	cases := map[string]map[string]string{
		"sin master key":      {"CROSSAUTH_PUBLIC_URL": "https://a.example.app"},
		"master key corta":    {"CROSSAUTH_PUBLIC_URL": "https://a.example.app", "CROSSAUTH_MASTER_KEY": "c2hvcnQ="},
		"sin public url":      {"CROSSAUTH_MASTER_KEY": testKey},
		"postgres sin dsn":    {"CROSSAUTH_MASTER_KEY": testKey, "CROSSAUTH_PUBLIC_URL": "https://a.example.app", "CROSSAUTH_STORAGE_DRIVER": "postgres"},
		"memory en prod":      {"CROSSAUTH_MASTER_KEY": testKey, "CROSSAUTH_PUBLIC_URL": "https://a.example.app", "CROSSAUTH_APP_ENV": "prod"},
		"redis sin addr":      {"CROSSAUTH_MASTER_KEY": testKey, "CROSSAUTH_PUBLIC_URL": "https://a.example.app", "CROSSAUTH_TRANSFER_STORE": "redis"},
		"transfer ttl largo":  {"CROSSAUTH_MASTER_KEY": testKey, "CROSSAUTH_PUBLIC_URL": "https://a.example.app", "CROSSAUTH_TRANSFER_TTL": "5m"},
		"provider sin secret": {"CROSSAUTH_MASTER_KEY": testKey, "CROSSAUTH_PUBLIC_URL": "https://a.example.app", "CROSSAUTH_GITHUB_CLIENT_ID": "x"},
		"proxy inválido":      {"CROSSAUTH_MASTER_KEY": testKey, "CROSSAUTH_PUBLIC_URL": "https://a.example.app", "CROSSAUTH_TRUSTED_PROXIES": "10.0.0.0/8,proxy.local"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
