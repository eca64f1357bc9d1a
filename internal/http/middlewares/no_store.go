package middlewares

import "net/http"

// WithNoStore agrega Cache-Control: no-store. Todas las respuestas de /auth
// llevan credenciales o redirecciones de un solo uso.
func WithNoStore() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Pragma", "no-cache")
			next.ServeHTTP(w, r)
		})
	}
}
