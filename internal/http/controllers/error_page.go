package controllers

import (
	"net/http"

	"github.com/dropDatabas3/crossauth/internal/http/helpers"
	"github.com/dropDatabas3/crossauth/internal/social"
)

// errorMessages códigos conocidos de /auth/error. Cualquier otro se reporta
// como unknown_error para no reflejar input arbitrario.
var errorMessages = map[string]string{
	"invalid_state":            "El inicio de sesión expiró o no es válido. Vuelve a intentarlo.",
	CodeInvalidTransfer:        "El enlace de inicio de sesión expiró o ya fue usado.",
	social.CodeRateLimited:     "Demasiados intentos. Espera un momento.",
	social.CodeServerError:     "Ocurrió un error inesperado.",
	social.CodeUpstreamFailure: "El proveedor de identidad no respondió correctamente.",
}

type errorPageResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorPage GET /auth/error?code=
func ErrorPage(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	msg, ok := errorMessages[code]
	if !ok {
		code, msg = "unknown_error", "No se pudo completar el inicio de sesión."
	}
	helpers.WriteJSON(w, http.StatusBadRequest, errorPageResponse{Code: code, Message: msg})
}
