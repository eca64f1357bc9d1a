package logger

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// Field alias para no importar zap fuera de este paquete.
type Field = zap.Field

// ---------------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------------

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Host(v string) zap.Field      { return zap.String("host", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func ClientIP(v string) zap.Field  { return zap.String("client_ip", v) }
func Bytes(v int) zap.Field        { return zap.Int("bytes", v) }

// DurationMs registra la duración en milisegundos.
func DurationMs(d time.Duration) zap.Field { return zap.Int64("duration_ms", d.Milliseconds()) }

// ---------------------------------------------------------------------------------
// Negocio
// ---------------------------------------------------------------------------------

func TenantID(v string) zap.Field   { return zap.String("tenant_id", v) }
func TenantSlug(v string) zap.Field { return zap.String("tenant_slug", v) }
func UserID(v string) zap.Field     { return zap.String("user_id", v) }
func Provider(v string) zap.Field   { return zap.String("provider", v) }

// AuthContext es team o portal.
func AuthContext(v string) zap.Field { return zap.String("auth_context", v) }

// Flow identifica el flujo: otp, oauth, transfer, finder, invite.
func Flow(v string) zap.Field { return zap.String("flow", v) }

// Domain registra un host/domain de tenant.
func Domain(v string) zap.Field { return zap.String("domain", v) }

// EmailMasked registra el email enmascarado (2 primeros chars + @dominio).
func EmailMasked(email string) zap.Field { return zap.String("email_masked", MaskEmail(email)) }

// MaskEmail enmascara un email para logs.
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at < 2 {
		if len(email) < 3 {
			return "***"
		}
		return email[:2] + "***"
	}
	return email[:2] + "***" + email[at:]
}

// ---------------------------------------------------------------------------------
// Sistema
// ---------------------------------------------------------------------------------

func Component(v string) zap.Field { return zap.String("component", v) }
func Layer(v string) zap.Field     { return zap.String("layer", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Err(err error) zap.Field      { return zap.Error(err) }

func String(key, v string) zap.Field    { return zap.String(key, v) }
func Int(key string, v int) zap.Field   { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }
func Any(key string, v any) zap.Field   { return zap.Any(key, v) }
