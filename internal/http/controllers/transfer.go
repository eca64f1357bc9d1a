package controllers

import (
	"errors"
	"net/http"

	"github.com/dropDatabas3/crossauth/internal/http/helpers"
	"github.com/dropDatabas3/crossauth/internal/observability/logger"
	"github.com/dropDatabas3/crossauth/internal/rate"
	"github.com/dropDatabas3/crossauth/internal/session"
	"github.com/dropDatabas3/crossauth/internal/transfer"
)

// CodeInvalidTransfer error genérico de trust-login: no distingue vencido, usado o ajeno.
const CodeInvalidTransfer = "invalid_transfer"

// TransferController canje de transfer tokens en el dominio destino.
type TransferController struct {
	deps Deps
}

// TrustLogin GET /auth/trust-login?token=&popup=1
//
// Canjea el token para el host actual, asienta la cookie de sesión y redirige
// al callback path. Con popup=1 responde una página que avisa al opener.
func (c *TransferController) TrustLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := c.deps.Limiter.Check(ctx, rate.OpTrustLogin, helpers.ClientIP(r)); err != nil {
		c.deps.event("transfer", "rate_limited")
		redirectToErrorPage(w, r, "rate_limited")
		return
	}

	red, err := c.deps.Transfer.Redeem(ctx, r.URL.Query().Get("token"), r.Host)
	if err != nil {
		c.deps.event("transfer", redeemOutcome(err))
		if !isTokenError(err) {
			logger.From(ctx).Error("transfer redeem failed", logger.Err(err))
		}
		redirectToErrorPage(w, r, CodeInvalidTransfer)
		return
	}

	s := session.Subject{UserID: red.UserID, TenantID: red.TenantID, Context: red.Context}
	if err := c.deps.Sessions.Issue(w, r, s); err != nil {
		logger.From(ctx).Error("session issue failed", logger.Err(err))
		redirectToErrorPage(w, r, "server_error")
		return
	}
	c.deps.event("transfer", "ok")

	if parseBool(r.URL.Query().Get("popup")) {
		renderPopup(w, red.CallbackPath)
		return
	}
	http.Redirect(w, r, red.CallbackPath, http.StatusFound)
}

func isTokenError(err error) bool {
	return errors.Is(err, transfer.ErrInvalid) || errors.Is(err, transfer.ErrExpired) || errors.Is(err, transfer.ErrAlreadyUsed)
}

func redeemOutcome(err error) string {
	switch {
	case errors.Is(err, transfer.ErrExpired):
		return "expired"
	case errors.Is(err, transfer.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, transfer.ErrInvalid):
		return "invalid"
	}
	return "error"
}
