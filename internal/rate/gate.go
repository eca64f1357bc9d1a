package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/crossauth/internal/observability/logger"
)

// Op identifica la operación limitada.
type Op string

const (
	OpOTPSend       Op = "otp_send"
	OpOTPVerify     Op = "otp_verify"
	OpFinderSend    Op = "finder_send"
	OpFinderVerify  Op = "finder_verify"
	OpOAuthStart    Op = "oauth_start"
	OpOAuthCallback Op = "oauth_callback"
	OpTrustLogin    Op = "trust_login"
)

// Rule es el límite de una operación.
type Rule struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// DefaultRules son los límites si la config no define otros.
func DefaultRules() map[Op]Rule {
	return map[Op]Rule{
		OpOTPSend:       {Limit: 5, Window: 15 * time.Minute},
		OpOTPVerify:     {Limit: 10, Window: 15 * time.Minute},
		OpFinderSend:    {Limit: 5, Window: 15 * time.Minute},
		OpFinderVerify:  {Limit: 10, Window: 15 * time.Minute},
		OpOAuthStart:    {Limit: 30, Window: time.Minute},
		OpOAuthCallback: {Limit: 30, Window: time.Minute},
		OpTrustLogin:    {Limit: 30, Window: time.Minute},
	}
}

// LimitedError se devuelve cuando se excede el límite.
type LimitedError struct {
	Op         Op
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %s)", e.Op, e.RetryAfter)
}

// ErrLimited permite errors.Is contra cualquier LimitedError.
var ErrLimited = errors.New("rate limited")

func (e *LimitedError) Is(target error) bool { return target == ErrLimited }

// RetryAfterOf extrae el retry-after de err, o 0.
func RetryAfterOf(err error) time.Duration {
	var le *LimitedError
	if errors.As(err, &le) {
		return le.RetryAfter
	}
	return 0
}

// Observer recibe los rechazos (métricas).
type Observer func(op Op)

// Gate aplica las reglas por operación. Un Gate nil o sin limiter deja pasar todo.
type Gate struct {
	limiter  Limiter
	rules    map[Op]Rule
	rejected Observer
}

// NewGate crea el gate. Las reglas faltantes se completan con DefaultRules.
func NewGate(l Limiter, rules map[Op]Rule, onReject Observer) *Gate {
	merged := DefaultRules()
	for op, r := range rules {
		if r.Limit > 0 && r.Window > 0 {
			merged[op] = r
		}
	}
	return &Gate{limiter: l, rules: merged, rejected: onReject}
}

// Check cuenta un hit de (op, clientIP). Devuelve *LimitedError si se excede.
// Los errores del backend dejan pasar el request (fail-open), igual que el middleware HTTP.
func (g *Gate) Check(ctx context.Context, op Op, clientIP string) error {
	if g == nil || g.limiter == nil {
		return nil
	}
	rule, ok := g.rules[op]
	if !ok {
		return nil
	}
	if clientIP == "" {
		clientIP = "unknown"
	}
	res, err := g.limiter.AllowWithLimits(ctx, string(op)+":"+clientIP, rule.Limit, rule.Window)
	if err != nil {
		logger.From(ctx).Warn("rate_limit_error", logger.Component("rate"), logger.String("op", string(op)), logger.Err(err))
		return nil
	}
	if !res.Allowed {
		if g.rejected != nil {
			g.rejected(op)
		}
		return &LimitedError{Op: op, RetryAfter: res.RetryAfter}
	}
	return nil
}
