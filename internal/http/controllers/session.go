package controllers

import (
	"net/http"
	"time"

	httperrors "github.com/dropDatabas3/crossauth/internal/http/errors"
	"github.com/dropDatabas3/crossauth/internal/http/helpers"
)

// SessionController sesión local del origen.
type SessionController struct {
	deps Deps
}

type sessionResponse struct {
	UserID    string    `json:"userId"`
	TenantID  string    `json:"tenantId"`
	Context   string    `json:"context"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Get GET /auth/session
func (c *SessionController) Get(w http.ResponseWriter, r *http.Request) {
	claims, err := c.deps.Sessions.Parse(r)
	if err != nil {
		httperrors.WriteError(w, r, httperrors.ErrUnauthorized.WithCause(err))
		return
	}
	out := sessionResponse{UserID: claims.Subject, TenantID: claims.TenantID, Context: claims.Context}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	helpers.WriteJSON(w, http.StatusOK, out)
}

// Logout POST /auth/logout
func (c *SessionController) Logout(w http.ResponseWriter, _ *http.Request) {
	c.deps.Sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}
