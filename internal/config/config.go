package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/crossauth/internal/http/helpers"
	"github.com/dropDatabas3/crossauth/internal/notify"
	"github.com/dropDatabas3/crossauth/internal/rate"
	"github.com/dropDatabas3/crossauth/internal/security/secretbox"
)

// EnvPrefix prefijo de las variables de entorno que pisan el YAML.
const EnvPrefix = "CROSSAUTH_"

type Config struct {
	App struct {
		// dev | staging | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// PublicURL origen compartido de auth (callback de providers, finder).
		PublicURL          string        `yaml:"public_url"`
		CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
		// TrustedProxies CIDRs o IPs cuyos X-Forwarded-For se creen. Vacío: nunca.
		TrustedProxies     []string      `yaml:"trusted_proxies"`
		ReadTimeout        time.Duration `yaml:"read_timeout"`
		WriteTimeout       time.Duration `yaml:"write_timeout"`
		ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Storage struct {
		// memory | postgres
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int32         `yaml:"max_conns"`
			MinConns        int32         `yaml:"min_conns"`
			ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
		AutoMigrate bool `yaml:"auto_migrate"`
	} `yaml:"storage"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Security struct {
		// MasterKey base64 de 32 bytes; de ella se derivan las demás claves.
		MasterKey string `yaml:"master_key"`
	} `yaml:"security"`

	Session struct {
		CookieName string        `yaml:"cookie_name"`
		SameSite   string        `yaml:"samesite"`
		Secure     bool          `yaml:"secure"`
		TTL        time.Duration `yaml:"ttl"`
	} `yaml:"session"`

	OTP struct {
		CodeTTL       time.Duration `yaml:"code_ttl"`
		NotifyTimeout time.Duration `yaml:"notify_timeout"`
	} `yaml:"otp"`

	Transfer struct {
		TTL time.Duration `yaml:"ttl"`
		// directory | redis
		Store string `yaml:"store"`
	} `yaml:"transfer"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		// memory | redis
		Backend string                `yaml:"backend"`
		Rules   map[rate.Op]rate.Rule `yaml:"rules"`
	} `yaml:"rate"`

	SMTP notify.SMTPConfig `yaml:"smtp"`

	Providers struct {
		HTTPTimeout time.Duration  `yaml:"http_timeout"`
		Google      ProviderConfig `yaml:"google"`
		GitHub      ProviderConfig `yaml:"github"`
	} `yaml:"providers"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// ProviderConfig credenciales de un provider global.
type ProviderConfig struct {
	Enabled      bool     `yaml:"enabled"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// Load lee path (si no está vacío), aplica defaults y overrides de entorno, y valida.
func Load(path string) (*Config, error) {
	var c Config
	c.Rate.Enabled = true
	c.Metrics.Enabled = true
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Postgres.MaxConns == 0 {
		c.Storage.Postgres.MaxConns = 20
	}
	if c.Storage.Postgres.ConnMaxLifetime == 0 {
		c.Storage.Postgres.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "crossauth:"
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "__session"
	}
	if c.Session.SameSite == "" {
		c.Session.SameSite = "Lax"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 12 * time.Hour
	}
	if c.OTP.CodeTTL == 0 {
		c.OTP.CodeTTL = 10 * time.Minute
	}
	if c.OTP.NotifyTimeout == 0 {
		c.OTP.NotifyTimeout = 10 * time.Second
	}
	if c.Transfer.TTL == 0 {
		c.Transfer.TTL = 60 * time.Second
	}
	if c.Transfer.Store == "" {
		c.Transfer.Store = "directory"
	}
	if c.Rate.Backend == "" {
		c.Rate.Backend = "memory"
	}
	if c.SMTP.TLSMode == "" {
		c.SMTP.TLSMode = "auto"
	}
	if c.SMTP.Timeout == 0 {
		c.SMTP.Timeout = c.OTP.NotifyTimeout
	}
	if c.Providers.HTTPTimeout == 0 {
		c.Providers.HTTPTimeout = 10 * time.Second
	}
	// guardia dura: en prod las cookies siempre son Secure
	if c.IsProd() {
		c.Session.Secure = true
	}
}

// IsProd reporta si App.Env es prod.
func (c *Config) IsProd() bool { return strings.EqualFold(c.App.Env, "prod") }

// MasterKey decodifica security.master_key.
func (c *Config) MasterKey() ([]byte, error) {
	return secretbox.ParseKey(c.Security.MasterKey)
}

// Validate verifica valores críticos.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Security.MasterKey) == "" {
		errs = append(errs, errors.New("security.master_key requerido (openssl rand -base64 32)"))
	} else if _, err := c.MasterKey(); err != nil {
		errs = append(errs, fmt.Errorf("security.master_key: %w", err))
	}

	switch c.Storage.Driver {
	case "memory":
		if c.IsProd() {
			errs = append(errs, errors.New("storage.driver=memory no es válido en prod"))
		}
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn requerido para postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver desconocido: %q", c.Storage.Driver))
	}

	if c.Server.PublicURL == "" {
		errs = append(errs, errors.New("server.public_url requerido"))
	} else if u, err := url.Parse(c.Server.PublicURL); err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		errs = append(errs, fmt.Errorf("server.public_url inválida: %q", c.Server.PublicURL))
	} else if c.IsProd() && u.Scheme != "https" {
		errs = append(errs, errors.New("server.public_url debe ser https en prod"))
	}
	if _, err := helpers.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("server.trusted_proxies: %w", err))
	}

	switch c.Transfer.Store {
	case "directory", "redis":
	default:
		errs = append(errs, fmt.Errorf("transfer.store desconocido: %q", c.Transfer.Store))
	}
	switch c.Rate.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("rate.backend desconocido: %q", c.Rate.Backend))
	}
	if (c.Transfer.Store == "redis" || (c.Rate.Enabled && c.Rate.Backend == "redis")) && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr requerido por transfer.store o rate.backend"))
	}
	if c.Transfer.TTL > 60*time.Second {
		errs = append(errs, errors.New("transfer.ttl no puede superar 60s"))
	}
	if c.OTP.CodeTTL > 10*time.Minute {
		errs = append(errs, errors.New("otp.code_ttl no puede superar 10m"))
	}

	for name, p := range map[string]ProviderConfig{"google": c.Providers.Google, "github": c.Providers.GitHub} {
		if p.Enabled && (p.ClientID == "" || p.ClientSecret == "") {
			errs = append(errs, fmt.Errorf("providers.%s: client_id y client_secret requeridos", name))
		}
	}
	return errors.Join(errs...)
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(EnvPrefix + key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa el YAML con CROSSAUTH_*.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("PUBLIC_URL"); ok {
		c.Server.PublicURL = strings.TrimRight(v, "/")
	}
	if v, ok := getEnvCSV("CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}
	if v, ok := getEnvCSV("TRUSTED_PROXIES"); ok {
		c.Server.TrustedProxies = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_CONNS"); ok {
		c.Storage.Postgres.MaxConns = int32(v)
	}
	if v, ok := getEnvBool("STORAGE_AUTO_MIGRATE"); ok {
		c.Storage.AutoMigrate = v
	}

	// REDIS
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Redis.DB = v
	}

	// SECURITY
	if v, ok := getEnvStr("MASTER_KEY"); ok {
		c.Security.MasterKey = v
	}

	// SESSION / FLOWS
	if v, ok := getEnvBool("SESSION_SECURE"); ok {
		c.Session.Secure = v
	}
	if v, ok := getEnvDur("SESSION_TTL"); ok {
		c.Session.TTL = v
	}
	if v, ok := getEnvDur("TRANSFER_TTL"); ok {
		c.Transfer.TTL = v
	}
	if v, ok := getEnvStr("TRANSFER_STORE"); ok {
		c.Transfer.Store = v
	}
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvStr("RATE_BACKEND"); ok {
		c.Rate.Backend = v
	}

	// SMTP
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}

	// PROVIDERS
	if v, ok := getEnvDur("PROVIDERS_HTTP_TIMEOUT"); ok {
		c.Providers.HTTPTimeout = v
	}
	overrideProvider("GOOGLE", &c.Providers.Google)
	overrideProvider("GITHUB", &c.Providers.GitHub)
}

func overrideProvider(name string, p *ProviderConfig) {
	if v, ok := getEnvStr(name + "_CLIENT_ID"); ok {
		p.ClientID = v
		p.Enabled = true
	}
	if v, ok := getEnvStr(name + "_CLIENT_SECRET"); ok {
		p.ClientSecret = v
	}
	if v, ok := getEnvBool(name + "_ENABLED"); ok {
		p.Enabled = v
	}
}
