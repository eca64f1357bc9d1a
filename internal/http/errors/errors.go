// Package errors define el formato de error de la API y el mapeo desde los
// errores de los servicios.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"math"
	"net/http"
	"strconv"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	"github.com/dropDatabas3/crossauth/internal/identity"
	"github.com/dropDatabas3/crossauth/internal/observability/logger"
	"github.com/dropDatabas3/crossauth/internal/otp"
	"github.com/dropDatabas3/crossauth/internal/rate"
	"github.com/dropDatabas3/crossauth/internal/social"
	"github.com/dropDatabas3/crossauth/internal/tenant"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// FromError convierte errores de servicio al catálogo. Lo que no se reconoce
// es un 500 que conserva la causa.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	switch {
	case stderrors.Is(err, rate.ErrLimited):
		return ErrRateLimitExceeded.WithRetryAfter(rate.RetryAfterOf(err)).WithCause(err)
	case stderrors.Is(err, otp.ErrInvalidEmail):
		return ErrInvalidEmail.WithCause(err)
	case stderrors.Is(err, otp.ErrInvalidCode):
		return ErrInvalidCode.WithCause(err)
	case stderrors.Is(err, otp.ErrNameRequired):
		return ErrBadRequest.WithDetail("name requerido").WithCause(err)
	case stderrors.Is(err, identity.ErrSignupNotAllowed):
		return ErrSignupNotAllowed.WithCause(err)
	case stderrors.Is(err, identity.ErrInvitationInvalid):
		return ErrInvalidInvitation.WithCause(err)
	case stderrors.Is(err, identity.ErrAccountLinked):
		return ErrAccountLinked.WithCause(err)
	case stderrors.Is(err, social.ErrProviderDisabled):
		return ErrForbidden.WithCause(err)
	case stderrors.Is(err, social.ErrReturnDomain):
		return ErrInvalidReturnDomain.WithCause(err)
	case stderrors.Is(err, social.ErrCallbackPath):
		return ErrInvalidCallbackPath.WithCause(err)
	case stderrors.Is(err, tenant.ErrNotFound):
		return ErrTenantNotFound.WithCause(err)
	case stderrors.Is(err, tenant.ErrMalformedHost):
		return ErrInvalidHost.WithCause(err)
	case stderrors.Is(err, repository.ErrNotFound):
		return ErrNotFound.WithCause(err)
	case stderrors.Is(err, repository.ErrInvalidInput):
		return ErrBadRequest.WithCause(err)
	}
	return ErrInternalServerError.WithCause(err)
}

// WriteError escribe err como JSON {code, message, detail}. Los 5xx se loguean
// con la causa; al cliente nunca llega.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := FromError(err)

	if appErr.HTTPStatus >= http.StatusInternalServerError && r != nil {
		logger.From(r.Context()).Error("request failed",
			logger.String("code", appErr.Code),
			logger.Err(appErr.Err),
		)
	}
	if appErr.HTTPStatus == http.StatusTooManyRequests {
		secs := int(math.Ceil(appErr.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	})
}
