package controllers

import (
	"errors"
	"net/http"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	httperrors "github.com/dropDatabas3/crossauth/internal/http/errors"
	"github.com/dropDatabas3/crossauth/internal/http/helpers"
	"github.com/dropDatabas3/crossauth/internal/otp"
	"github.com/dropDatabas3/crossauth/internal/rate"
)

// OTPController login por código de email, scoped por tenant.
type OTPController struct {
	deps  Deps
	login *loginCompleter
}

type sendRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Email        string `json:"email"`
	Code         string `json:"code"`
	Name         string `json:"name,omitempty"`
	InvitationID string `json:"invitationId,omitempty"`
	Context      string `json:"context,omitempty"`
	ReturnDomain string `json:"returnDomain,omitempty"`
	CallbackPath string `json:"callbackPath,omitempty"`
}

type verifyResponse struct {
	Action      otp.Action `json:"action"`
	RedirectURL string     `json:"redirectUrl,omitempty"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// Send POST /auth/otp/send {email}
//
// Responde 200 {success:true} exista o no la cuenta. Solo email inválido y
// rate limit producen error.
func (c *OTPController) Send(w http.ResponseWriter, r *http.Request) {
	t := currentTenant(r)
	if t == nil {
		httperrors.WriteError(w, r, httperrors.ErrTenantNotFound)
		return
	}
	var req sendRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	err := c.deps.OTP.Send(r.Context(), t, req.Email, helpers.ClientIP(r))
	if errors.Is(err, otp.ErrInvalidEmail) || errors.Is(err, rate.ErrLimited) {
		httperrors.WriteError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, successResponse{Success: true})
}

// Verify POST /auth/otp/verify {email, code, name?, invitationId?, context?, returnDomain?, callbackPath?}
func (c *OTPController) Verify(w http.ResponseWriter, r *http.Request) {
	t := currentTenant(r)
	if t == nil {
		httperrors.WriteError(w, r, httperrors.ErrTenantNotFound)
		return
	}
	var req verifyRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	authCtx, ok := repository.ParseAuthContext(req.Context)
	if !ok {
		httperrors.WriteError(w, r, httperrors.ErrInvalidContext)
		return
	}

	dest, err := c.login.resolve(r.Context(), r, t, req.ReturnDomain, req.CallbackPath)
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}

	res, err := c.deps.OTP.Verify(r.Context(), otp.VerifyRequest{
		Tenant:       t,
		Context:      authCtx,
		Email:        req.Email,
		Code:         req.Code,
		Name:         req.Name,
		InvitationID: req.InvitationID,
		ClientIP:     helpers.ClientIP(r),
	})
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}

	out := verifyResponse{Action: res.Action}
	if res.Action != otp.ActionNeedsSignup {
		out.RedirectURL, err = c.login.complete(r.Context(), w, r, dest, res.UserID, authCtx)
		if err != nil {
			httperrors.WriteError(w, r, err)
			return
		}
	}
	helpers.WriteJSON(w, http.StatusOK, out)
}

// FinderController buscador de workspaces por email (sin tenant).
type FinderController struct {
	deps Deps
}

type finderVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type workspace struct {
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

type finderVerifyResponse struct {
	Workspaces []workspace `json:"workspaces"`
}

// Send POST /auth/finder/send {email}
func (c *FinderController) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	err := c.deps.OTP.SendFinder(r.Context(), req.Email, helpers.ClientIP(r))
	if errors.Is(err, otp.ErrInvalidEmail) || errors.Is(err, rate.ErrLimited) {
		httperrors.WriteError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, successResponse{Success: true})
}

// Verify POST /auth/finder/verify {email, code}
func (c *FinderController) Verify(w http.ResponseWriter, r *http.Request) {
	var req finderVerifyRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	tenants, err := c.deps.OTP.VerifyFinder(r.Context(), req.Email, req.Code, helpers.ClientIP(r))
	if err != nil {
		httperrors.WriteError(w, r, err)
		return
	}
	out := finderVerifyResponse{Workspaces: make([]workspace, 0, len(tenants))}
	for _, t := range tenants {
		out.Workspaces = append(out.Workspaces, workspace{Slug: t.Slug, Name: t.Name, Domain: t.CanonicalDomain})
	}
	helpers.WriteJSON(w, http.StatusOK, out)
}
