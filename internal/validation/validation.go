// Package validation contiene validadores de entrada compartidos por los flujos de auth.
package validation

import (
	"net/mail"
	"regexp"
	"strings"
)

var (
	// local@dominio.tld, sin espacios ni display name.
	emailRe = regexp.MustCompile(`^[A-Za-z0-9.!#$%&'*+/=?^_{|}~-]+@[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?)+$`)
	slugRe  = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)
	codeRe  = regexp.MustCompile(`^[0-9]{6}$`)
)

// ValidEmail valida sintaxis de email (máx. 254 chars).
func ValidEmail(email string) bool {
	e := strings.TrimSpace(email)
	if len(e) == 0 || len(e) > 254 || !emailRe.MatchString(e) {
		return false
	}
	addr, err := mail.ParseAddress(e)
	return err == nil && addr.Address == e
}

// ValidSlug valida un slug de tenant.
func ValidSlug(slug string) bool {
	return slugRe.MatchString(strings.TrimSpace(slug))
}

// ValidOTPCode valida un código de 6 dígitos.
func ValidOTPCode(code string) bool {
	return codeRe.MatchString(code)
}

// ValidCallbackPath acepta solo paths relativos al origen: "/" inicial, sin
// "//" ni "\" (evita open redirects a otro host), sin esquema ni caracteres de control.
func ValidCallbackPath(p string) bool {
	if p == "" || len(p) > 2048 || p[0] != '/' {
		return false
	}
	if strings.HasPrefix(p, "//") || strings.Contains(p, `\`) {
		return false
	}
	for i := 0; i < len(p); i++ {
		if p[i] < 0x20 || p[i] == 0x7f {
			return false
		}
	}
	return true
}
