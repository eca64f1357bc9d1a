package session

import (
	"net/http"
	"strings"
	"time"
)

// CookieConfig atributos comunes de las cookies emitidas por el broker.
type CookieConfig struct {
	Secure   bool
	SameSite string
	Domain   string
}

func ParseSameSite(s string) http.SameSite {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// BuildCookie cookie HttpOnly con Path=/. ttl <= 0 produce una cookie de sesión del navegador.
func BuildCookie(name, value string, cfg CookieConfig, ttl time.Duration) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: ParseSameSite(cfg.SameSite),
	}
	if d := strings.TrimSpace(cfg.Domain); d != "" {
		ck.Domain = d
	}
	if ttl > 0 {
		ck.Expires = time.Now().Add(ttl).UTC()
		ck.MaxAge = int(ttl.Seconds())
	}
	return ck
}

func BuildDeletionCookie(name string, cfg CookieConfig) *http.Cookie {
	ck := BuildCookie(name, "", cfg, 0)
	ck.Expires = time.Unix(0, 0).UTC()
	ck.MaxAge = -1
	return ck
}
