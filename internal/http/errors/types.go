package errors

import (
	"fmt"
	"net/http"
	"time"
)

// AppError es el error estándar de la capa HTTP.
type AppError struct {
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Detail     string        `json:"detail,omitempty"`
	HTTPStatus int           `json:"-"`
	RetryAfter time.Duration `json:"-"` // solo 429
	Err        error         `json:"-"` // causa, para logs; nunca se expone
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New crea un nuevo AppError
func New(status int, code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
	}
}

// Wrap crea un AppError envolviendo un error existente
func Wrap(err error, status int, code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
		Err:        err,
	}
}

// WithDetail devuelve una COPIA con detalle adicional.
func (e *AppError) WithDetail(detail string) *AppError {
	newErr := *e
	newErr.Detail = detail
	return &newErr
}

// WithCause devuelve una COPIA con la causa original.
func (e *AppError) WithCause(err error) *AppError {
	newErr := *e
	newErr.Err = err
	return &newErr
}

// WithRetryAfter devuelve una COPIA con el Retry-After a exponer.
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	newErr := *e
	newErr.RetryAfter = d
	return &newErr
}

// =================================================================================
// ERRORES PREDEFINIDOS
// =================================================================================

// ---------------------------------------------------------------------------------
// 400 Bad Request
// ---------------------------------------------------------------------------------

var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "La solicitud contiene sintaxis inválida o parámetros faltantes.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidJSON = &AppError{
		Code:       "INVALID_JSON",
		Message:    "El cuerpo de la solicitud no es un JSON válido.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrBodyTooLarge = &AppError{
		Code:       "BODY_TOO_LARGE",
		Message:    "El cuerpo de la solicitud excede el tamaño máximo permitido.",
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}

	ErrInvalidEmail = &AppError{
		Code:       "INVALID_EMAIL",
		Message:    "El email no es válido.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidCode = &AppError{
		Code:       "INVALID_CODE",
		Message:    "El código es inválido o expiró.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidContext = &AppError{
		Code:       "INVALID_CONTEXT",
		Message:    "El contexto debe ser team o portal.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidReturnDomain = &AppError{
		Code:       "INVALID_RETURN_DOMAIN",
		Message:    "El dominio de retorno no pertenece al tenant.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidCallbackPath = &AppError{
		Code:       "INVALID_CALLBACK_PATH",
		Message:    "El callback path debe ser relativo al origen.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidInvitation = &AppError{
		Code:       "INVALID_INVITATION",
		Message:    "La invitación es inválida, expiró o ya fue usada.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidHost = &AppError{
		Code:       "INVALID_HOST",
		Message:    "El host del request es inválido.",
		HTTPStatus: http.StatusBadRequest,
	}
)

// ---------------------------------------------------------------------------------
// 401 / 403
// ---------------------------------------------------------------------------------

var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "No autorizado. Se requiere autenticación.",
		HTTPStatus: http.StatusUnauthorized,
	}

	// ErrForbidden no distingue provider deshabilitado de tenant inexistente.
	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Método de autenticación no disponible.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrSignupNotAllowed = &AppError{
		Code:       "SIGNUP_NOT_ALLOWED",
		Message:    "El registro no está habilitado para este workspace.",
		HTTPStatus: http.StatusForbidden,
	}
)

// ---------------------------------------------------------------------------------
// 404 / 409 / 429
// ---------------------------------------------------------------------------------

var (
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "El recurso solicitado no existe.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrTenantNotFound = &AppError{
		Code:       "TENANT_NOT_FOUND",
		Message:    "El tenant especificado no existe.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrAccountLinked = &AppError{
		Code:       "ACCOUNT_LINKED",
		Message:    "La cuenta externa ya está vinculada a otro usuario.",
		HTTPStatus: http.StatusConflict,
	}

	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Has excedido el límite de solicitudes. Intenta más tarde.",
		HTTPStatus: http.StatusTooManyRequests,
	}
)

// ---------------------------------------------------------------------------------
// 5xx
// ---------------------------------------------------------------------------------

var (
	ErrInternalServerError = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Ocurrió un error inesperado en el servidor.",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrServiceUnavailable = &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "El servicio no está disponible temporalmente.",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)
