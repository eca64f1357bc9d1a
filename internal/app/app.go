// Package app arma el contenedor de dependencias del broker a partir de la config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/crossauth/internal/config"
	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	"github.com/dropDatabas3/crossauth/internal/http/controllers"
	"github.com/dropDatabas3/crossauth/internal/http/helpers"
	"github.com/dropDatabas3/crossauth/internal/http/router"
	"github.com/dropDatabas3/crossauth/internal/identity"
	"github.com/dropDatabas3/crossauth/internal/invite"
	"github.com/dropDatabas3/crossauth/internal/metrics"
	"github.com/dropDatabas3/crossauth/internal/notify"
	"github.com/dropDatabas3/crossauth/internal/oauth"
	"github.com/dropDatabas3/crossauth/internal/oauth/github"
	"github.com/dropDatabas3/crossauth/internal/oauth/oidc"
	"github.com/dropDatabas3/crossauth/internal/observability/logger"
	"github.com/dropDatabas3/crossauth/internal/otp"
	"github.com/dropDatabas3/crossauth/internal/rate"
	"github.com/dropDatabas3/crossauth/internal/security/keys"
	"github.com/dropDatabas3/crossauth/internal/security/secretbox"
	"github.com/dropDatabas3/crossauth/internal/security/statesign"
	"github.com/dropDatabas3/crossauth/internal/session"
	"github.com/dropDatabas3/crossauth/internal/social"
	"github.com/dropDatabas3/crossauth/internal/store/memory"
	"github.com/dropDatabas3/crossauth/internal/store/pg"
	"github.com/dropDatabas3/crossauth/internal/tenant"
	"github.com/dropDatabas3/crossauth/internal/transfer"
	"github.com/dropDatabas3/crossauth/migrations/postgres"
)

// CallbackPath ruta del callback OAuth registrada en los providers.
const CallbackPath = "/auth/oauth/callback"

// Container dependencias ya cableadas.
type Container struct {
	Config    *config.Config
	Directory repository.Directory
	Keys      *keys.Set
	Box       *secretbox.Box
	Invites   *invite.Service
	Metrics   *metrics.Metrics
	Handler   http.Handler

	// Postgres es nil con storage.driver=memory.
	Postgres *pg.Store
	// Redis es nil si redis.addr está vacío.
	Redis rdb.UniversalClient

	closers []func() error
}

// Origin scheme y host del origen compartido de auth.
func Origin(cfg *config.Config) (scheme, host string, err error) {
	u, err := url.Parse(cfg.Server.PublicURL)
	if err != nil {
		return "", "", fmt.Errorf("server.public_url: %w", err)
	}
	host, err = tenant.CanonicalHost(u.Host)
	if err != nil {
		return "", "", fmt.Errorf("server.public_url: %w", err)
	}
	return u.Scheme, host, nil
}

// OpenDirectory abre el Directory configurado. Con postgres y auto_migrate
// aplica las migraciones pendientes.
func OpenDirectory(ctx context.Context, cfg *config.Config) (repository.Directory, *pg.Store, error) {
	log := logger.From(ctx).With(logger.Component("app"))
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn("storage_memory", logger.String("hint", "los datos se pierden al reiniciar"))
		return memory.New(), nil, nil
	case "postgres":
		s, err := pg.New(ctx, cfg.Storage.DSN, pg.PoolConfig{
			MaxConns:        cfg.Storage.Postgres.MaxConns,
			MinConns:        cfg.Storage.Postgres.MinConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.Storage.AutoMigrate {
			res, err := s.Migrate(ctx, migrations.FS, migrations.Dir)
			if err != nil {
				s.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations_applied", logger.Int("applied", len(res.Applied)), logger.Int("skipped", len(res.Skipped)))
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("storage.driver desconocido: %q", cfg.Storage.Driver)
	}
}

// New construye todo el grafo. Ante error libera lo ya abierto.
func New(ctx context.Context, cfg *config.Config) (_ *Container, err error) {
	c := &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	master, err := cfg.MasterKey()
	if err != nil {
		return nil, err
	}
	if c.Keys, err = keys.Derive(master); err != nil {
		return nil, err
	}
	signer, err := statesign.New(c.Keys.State)
	if err != nil {
		return nil, err
	}
	if c.Box, err = secretbox.New(c.Keys.Secretbox); err != nil {
		return nil, err
	}
	sessions, err := session.NewManager(c.Keys.Session, session.Config{
		CookieName: cfg.Session.CookieName,
		TTL:        cfg.Session.TTL,
		Cookie:     session.CookieConfig{Secure: cfg.Session.Secure, SameSite: cfg.Session.SameSite},
	})
	if err != nil {
		return nil, err
	}
	scheme, brokerHost, err := Origin(cfg)
	if err != nil {
		return nil, err
	}
	proxies, err := helpers.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("server.trusted_proxies: %w", err)
	}

	dir, pgStore, err := OpenDirectory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.Directory, c.Postgres = dir, pgStore
	if pgStore != nil {
		c.closers = append(c.closers, func() error { pgStore.Close(); return nil })
	}

	if cfg.Redis.Addr != "" {
		client := rdb.NewUniversalClient(&rdb.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.Redis = client
		c.closers = append(c.closers, client.Close)
	}

	if cfg.Metrics.Enabled {
		if c.Metrics, err = metrics.New(); err != nil {
			return nil, err
		}
	}

	var limiter *rate.Gate
	if cfg.Rate.Enabled {
		var l rate.Limiter
		switch cfg.Rate.Backend {
		case "redis":
			l = rate.NewRedisLimiter(c.Redis, cfg.Redis.Prefix+"rl:")
		default:
			l = rate.NewMemoryLimiter()
		}
		limiter = rate.NewGate(l, cfg.Rate.Rules, c.Metrics.RateRejected)
	}

	var xferStore transfer.Store = transfer.NewDirectoryStore(dir)
	if cfg.Transfer.Store == "redis" {
		xferStore = transfer.NewRedisStore(c.Redis, cfg.Redis.Prefix+"xfer:")
	}
	broker := transfer.NewBroker(xferStore, cfg.Transfer.TTL)

	var sender notify.Sender = notify.LogSender{}
	if cfg.SMTP.Host != "" {
		sender = notify.NewSMTPSender(cfg.SMTP)
	}
	mailer := notify.NewMailer(sender)
	c.Invites = invite.NewService(dir, mailer, scheme)

	hc := oauth.NewHTTPClient(cfg.Providers.HTTPTimeout)
	var global []oauth.IdentityProvider
	if p := cfg.Providers.Google; p.Enabled {
		global = append(global, oidc.New(oidc.Config{
			Name:         "google",
			DiscoveryURL: oidc.GoogleDiscoveryURL,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			Scopes:       p.Scopes,
			Issuers:      []string{"accounts.google.com"},
			HTTPClient:   hc,
		}))
	}
	if p := cfg.Providers.GitHub; p.Enabled {
		global = append(global, github.New(github.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			Scopes:       p.Scopes,
			HTTPClient:   hc,
		}))
	}

	resolver := tenant.NewResolver(dir)
	gate := identity.NewGate(dir)

	ready := map[string]controllers.Checker{"directory": dir.Ping}
	if c.Redis != nil {
		client := c.Redis
		ready["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	ctrls := controllers.New(controllers.Deps{
		OTP: otp.NewService(dir, gate, mailer, limiter, c.Metrics, otp.Config{
			CodeTTL:       cfg.OTP.CodeTTL,
			NotifyTimeout: cfg.OTP.NotifyTimeout,
		}),
		Social: social.NewService(social.Deps{
			Resolver:  resolver,
			Directory: dir,
			Providers: oauth.NewRegistry(oidc.SSOFactory(hc), c.Box, global...),
			Signer:    signer,
			Cipher:    c.Box,
			Linker:    identity.NewLinker(dir, gate, c.Keys),
			Transfer:  broker,
			Limiter:   limiter,
			Events:    c.Metrics,
		}, social.Config{RedirectURI: cfg.Server.PublicURL + CallbackPath, Scheme: scheme}),
		Transfer: broker,
		Sessions: sessions,
		Resolver: resolver,
		Limiter:  limiter,
		Events:   c.Metrics,
		Ready:    ready,
	}, controllers.Config{Scheme: scheme, BrokerHost: brokerHost, SecureCookies: cfg.Session.Secure})

	c.Handler = router.New(router.Deps{
		Controllers: ctrls,
		Resolver:    resolver,
		Metrics:     c.Metrics,
		CORSOrigins: cfg.Server.CORSAllowedOrigins,
		Proxies:     helpers.ProxyPolicy{Trusted: proxies},
		BrokerHost:  brokerHost,
	})

	logger.From(ctx).With(logger.Component("app")).Info("app_ready",
		logger.String("storage", cfg.Storage.Driver),
		logger.String("transfer_store", cfg.Transfer.Store),
		logger.Bool("rate_enabled", cfg.Rate.Enabled),
		logger.Int("providers", len(global)),
	)
	return c, nil
}

// Close libera conexiones en orden inverso de apertura.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
