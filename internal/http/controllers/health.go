package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/dropDatabas3/crossauth/internal/http/helpers"
	"github.com/dropDatabas3/crossauth/internal/observability/logger"
)

// HealthController liveness y readiness.
type HealthController struct {
	checks map[string]Checker
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz GET /healthz: el proceso responde.
func (c *HealthController) Healthz(w http.ResponseWriter, _ *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, readyResponse{Status: "ok"})
}

// Readyz GET /readyz: corre cada chequeo con timeout de 2s.
func (c *HealthController) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(c.checks))
	for n := range c.checks {
		names = append(names, n)
	}
	sort.Strings(names)

	out := readyResponse{Status: "ok", Checks: map[string]string{}}
	status := http.StatusOK
	for _, n := range names {
		if err := c.checks[n](ctx); err != nil {
			logger.From(ctx).Warn("readiness check failed", logger.String("check", n), logger.Err(err))
			out.Checks[n] = "fail"
			out.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		out.Checks[n] = "ok"
	}
	helpers.WriteJSON(w, status, out)
}
