package middlewares

import (
	"context"

	"github.com/dropDatabas3/crossauth/internal/tenant"
)

type ctxKey string

const (
	ctxTenantKey    ctxKey = "tenant"
	ctxRequestIDKey ctxKey = "request_id"
)

// WithTenant inyecta el tenant resuelto en el contexto.
func WithTenant(ctx context.Context, res *tenant.Resolved) context.Context {
	return context.WithValue(ctx, ctxTenantKey, res)
}

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// GetTenant obtiene el tenant del contexto. Nil si la ruta no lo resuelve.
func GetTenant(ctx context.Context) *tenant.Resolved {
	if v, ok := ctx.Value(ctxTenantKey).(*tenant.Resolved); ok {
		return v
	}
	return nil
}

// GetRequestID obtiene el request ID del contexto.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return v
	}
	return ""
}
