package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
)

func newTenantCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "tenant", Short: "Alta y settings de tenants"}
	cmd.AddCommand(newTenantCreateCmd(opts), newTenantStrictSSOCmd(opts), newTenantSSOCmd(opts))
	return cmd
}

func newTenantCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		in        repository.CreateTenantInput
		providers []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Crea un tenant con su subdominio primario",
		Example: "  crossauth tenant create --slug acme --name Acme --subdomain acme.example.app \\\n" +
			"    --portal-auth --provider google:team,google:portal,github:team",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if in.Providers, err = parseProviders(providers); err != nil {
				return err
			}
			c, err := openAdmin(cmd, opts)
			if err != nil {
				return err
			}
			defer c.Close()
			t, err := c.Directory.CreateTenant(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("tenant create: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id=%s slug=%s domain=%s\n", t.ID, t.Slug, t.CanonicalDomain)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Slug, "slug", "", "identificador del tenant")
	f.StringVar(&in.Name, "name", "", "nombre visible")
	f.StringVar(&in.Subdomain, "subdomain", "", "host del subdominio primario (ej: acme.example.app)")
	f.BoolVar(&in.OpenSignupEnabled, "open-signup", false, "permite alta libre en contexto team")
	f.BoolVar(&in.PortalAuthEnabled, "portal-auth", false, "habilita login de portal")
	f.StringSliceVar(&providers, "provider", nil, "provider:contexto habilitado (team|portal), repetible")
	_ = cmd.MarkFlagRequired("slug")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("subdomain")
	return cmd
}

func newTenantStrictSSOCmd(opts *rootOptions) *cobra.Command {
	var enabled bool
	cmd := &cobra.Command{
		Use:   "strict-sso <slug>",
		Short: "Activa o desactiva el modo fork de identidades externas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openAdmin(cmd, opts)
			if err != nil {
				return err
			}
			defer c.Close()
			t, err := setStrictSSO(cmd.Context(), c.Directory, args[0], enabled)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "slug=%s strict_sso=%t\n", t.Slug, t.StrictSSOMode)
			return nil
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", true, "estado del modo strict SSO")
	return cmd
}

func newTenantSSOCmd(opts *rootOptions) *cobra.Command {
	var conn ssoInput
	cmd := &cobra.Command{
		Use:   "sso <slug>",
		Short: "Configura la conexión OIDC empresarial (provider sso)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openAdmin(cmd, opts)
			if err != nil {
				return err
			}
			defer c.Close()
			t, err := configureSSO(cmd.Context(), c.Directory, c.Box, args[0], conn)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "slug=%s sso=%s\n", t.Slug, t.SSO.DiscoveryURL)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&conn.DiscoveryURL, "discovery-url", "", "URL de .well-known/openid-configuration")
	f.StringVar(&conn.ClientID, "client-id", "", "client id")
	f.StringVar(&conn.ClientSecret, "client-secret", "", "client secret (se guarda cifrado)")
	_ = cmd.MarkFlagRequired("discovery-url")
	_ = cmd.MarkFlagRequired("client-id")
	return cmd
}

// parseProviders convierte "google:team", "google:portal" en un ProviderSetting por nombre.
func parseProviders(raw []string) ([]repository.ProviderSetting, error) {
	var out []repository.ProviderSetting
	index := map[string]int{}
	for _, item := range raw {
		name, ctx, ok := strings.Cut(strings.ToLower(strings.TrimSpace(item)), ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("provider %q: formato esperado nombre:contexto", item)
		}
		i, seen := index[name]
		if !seen {
			out = append(out, repository.ProviderSetting{Name: name})
			i = len(out) - 1
			index[name] = i
		}
		switch repository.AuthContext(ctx) {
		case repository.ContextTeam:
			out[i].TeamEnabled = true
		case repository.ContextPortal:
			out[i].PortalEnabled = true
		default:
			return nil, fmt.Errorf("provider %q: contexto desconocido %q", item, ctx)
		}
	}
	return out, nil
}

func setStrictSSO(ctx context.Context, dir repository.Directory, slug string, enabled bool) (*repository.Tenant, error) {
	t, err := dir.FindTenantBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", slug, err)
	}
	return dir.UpdateTenantSettings(ctx, t.ID, repository.TenantSettingsUpdate{StrictSSOMode: &enabled})
}

type ssoInput struct {
	DiscoveryURL string
	ClientID     string
	ClientSecret string
}

type encrypter interface {
	Encrypt(plainText string) (string, error)
}

func configureSSO(ctx context.Context, dir repository.Directory, box encrypter, slug string, in ssoInput) (*repository.Tenant, error) {
	u, err := url.Parse(in.DiscoveryURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("discovery-url inválida: %q", in.DiscoveryURL)
	}
	if strings.TrimSpace(in.ClientID) == "" {
		return nil, errors.New("client-id requerido")
	}
	t, err := dir.FindTenantBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", slug, err)
	}
	conn := &repository.SSOConnection{DiscoveryURL: in.DiscoveryURL, ClientID: in.ClientID}
	if in.ClientSecret != "" {
		if conn.ClientSecretEnc, err = box.Encrypt(in.ClientSecret); err != nil {
			return nil, err
		}
	}
	return dir.UpdateTenantSettings(ctx, t.ID, repository.TenantSettingsUpdate{SSO: conn})
}
