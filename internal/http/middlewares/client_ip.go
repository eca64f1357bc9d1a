package middlewares

import (
	"net/http"

	"github.com/dropDatabas3/crossauth/internal/http/helpers"
)

// WithClientIP resuelve la IP del cliente una sola vez según los proxies
// confiables. Rate limits y logs leen helpers.ClientIP.
func WithClientIP(policy helpers.ProxyPolicy) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := policy.Resolve(r)
			next.ServeHTTP(w, r.WithContext(helpers.WithClientIP(r.Context(), ip)))
		})
	}
}
