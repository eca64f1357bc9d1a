// Package otp implementa el flujo de código de un solo uso por email,
// scoped por tenant, y el buscador de workspaces sin tenant.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	"github.com/dropDatabas3/crossauth/internal/identity"
	"github.com/dropDatabas3/crossauth/internal/notify"
	"github.com/dropDatabas3/crossauth/internal/observability/logger"
	"github.com/dropDatabas3/crossauth/internal/rate"
	"github.com/dropDatabas3/crossauth/internal/security/statesign"
	"github.com/dropDatabas3/crossauth/internal/validation"
)

var (
	// ErrInvalidEmail: sintaxis de email inválida (400).
	ErrInvalidEmail = errors.New("otp: invalid email")
	// ErrInvalidCode: código ausente, vencido o incorrecto.
	ErrInvalidCode = errors.New("otp: invalid code")
	// ErrNameRequired: el paso de alta requiere nombre.
	ErrNameRequired = errors.New("otp: name required")
)

// Action es el resultado de una verificación exitosa.
type Action string

const (
	ActionLogin       Action = "login"
	ActionNeedsSignup Action = "needsSignup"
	ActionSignup      Action = "signup"
)

// Result de Verify.
type Result struct {
	Action Action
	UserID string
}

// Config del servicio.
type Config struct {
	// CodeTTL vigencia del código. Default 10 minutos.
	CodeTTL time.Duration
	// NotifyTimeout límite del envío asíncrono. Default 10s.
	NotifyTimeout time.Duration
}

// Events recibe los resultados de cada flujo (métricas).
type Events interface {
	AuthEvent(flow, outcome string)
}

type Service struct {
	dir      repository.Directory
	gate     *identity.Gate
	notifier notify.Notifier
	limiter  *rate.Gate
	events   Events
	cfg      Config

	now   func() time.Time
	async func(fn func())
}

func NewService(dir repository.Directory, gate *identity.Gate, n notify.Notifier, limiter *rate.Gate, events Events, cfg Config) *Service {
	if cfg.CodeTTL <= 0 || cfg.CodeTTL > statesign.MaxAgeOTPCode {
		cfg.CodeTTL = statesign.MaxAgeOTPCode
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	return &Service{
		dir:      dir,
		gate:     gate,
		notifier: n,
		limiter:  limiter,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
		async:    func(fn func()) { go fn() },
	}
}

// Send emite un código para (tenant, email). Salvo email inválido o rate limit,
// siempre retorna nil: el resultado del envío nunca se expone al llamador.
func (s *Service) Send(ctx context.Context, t *repository.Tenant, email, clientIP string) error {
	if !validation.ValidEmail(email) {
		return ErrInvalidEmail
	}
	if err := s.limiter.Check(ctx, rate.OpOTPSend, clientIP); err != nil {
		return err
	}
	email = repository.NormalizeEmail(email)
	return s.issue(ctx, "otp", repository.TenantCodeIdentifier(t.ID, email), email, t.Name)
}

// SendFinder emite un código sin tenant para el buscador de workspaces.
func (s *Service) SendFinder(ctx context.Context, email, clientIP string) error {
	if !validation.ValidEmail(email) {
		return ErrInvalidEmail
	}
	if err := s.limiter.Check(ctx, rate.OpFinderSend, clientIP); err != nil {
		return err
	}
	email = repository.NormalizeEmail(email)
	return s.issue(ctx, "finder", repository.FinderCodeIdentifier(email), email, "")
}

func (s *Service) issue(ctx context.Context, flow, identifier, email, tenantName string) error {
	log := logger.From(ctx).With(logger.Component("otp"), logger.Flow(flow), logger.EmailMasked(email))

	code, err := generateCode()
	if err != nil {
		log.Error("otp code generation failed", logger.Err(err))
		return nil
	}
	err = s.dir.ReplaceVerificationCode(ctx, repository.VerificationCode{
		Identifier: identifier,
		Code:       code,
		ExpiresAt:  s.now().Add(s.cfg.CodeTTL),
	})
	if err != nil {
		log.Error("otp code persist failed", logger.Err(err))
		s.event(flow, "send_error")
		return nil
	}

	// el envío no hereda la cancelación del request
	sendCtx := logger.ToContext(context.Background(), log)
	s.async(func() {
		ctx, cancel := context.WithTimeout(sendCtx, s.cfg.NotifyTimeout)
		defer cancel()
		if err := s.notifier.SendOTPEmail(ctx, email, code, tenantName); err != nil {
			log.Warn("otp email dispatch failed", logger.Err(err))
		}
	})
	s.event(flow, "sent")
	return nil
}

// VerifyRequest entrada de Verify.
type VerifyRequest struct {
	Tenant       *repository.Tenant
	Context      repository.AuthContext
	Email        string
	Code         string
	Name         string
	InvitationID string
	ClientIP     string
}

// Verify valida el código y resuelve login, alta pendiente o alta.
//
// Un código incorrecto no se borra (reintentos acotados por el rate limit).
// Toda la resolución corre en una transacción: dos verificaciones concurrentes
// del mismo código nunca crean dos usuarios.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*Result, error) {
	if !validation.ValidEmail(req.Email) {
		return nil, ErrInvalidEmail
	}
	if err := s.limiter.Check(ctx, rate.OpOTPVerify, req.ClientIP); err != nil {
		return nil, err
	}
	if !validation.ValidOTPCode(req.Code) {
		s.event("otp", "invalid")
		return nil, ErrInvalidCode
	}
	if !req.Context.Valid() {
		req.Context = repository.ContextPortal
	}
	email := repository.NormalizeEmail(req.Email)
	identifier := repository.TenantCodeIdentifier(req.Tenant.ID, email)

	var res *Result
	err := s.dir.RunInTx(ctx, func(ctx context.Context) error {
		r, err := s.verifyTx(ctx, req, email, identifier)
		res = r
		return err
	})
	if errors.Is(err, repository.ErrConflict) {
		// perdió la carrera de alta: el usuario ya existe, es un login
		u, ferr := s.dir.FindUserByEmail(ctx, req.Tenant.ID, email)
		if ferr != nil {
			return nil, ErrInvalidCode
		}
		if cerr := s.consume(ctx, identifier, req.Code); cerr != nil {
			return nil, ErrInvalidCode
		}
		res, err = &Result{Action: ActionLogin, UserID: u.ID}, nil
	}
	if err != nil {
		s.event("otp", outcomeOf(err))
		return nil, err
	}
	s.event("otp", string(res.Action))
	return res, nil
}

func (s *Service) verifyTx(ctx context.Context, req VerifyRequest, email, identifier string) (*Result, error) {
	now := s.now()
	code, err := s.dir.GetVerificationCode(ctx, identifier)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, fmt.Errorf("otp: get code: %w", err)
	}
	if !now.Before(code.ExpiresAt) || code.Code != req.Code {
		return nil, ErrInvalidCode
	}

	u, err := s.dir.FindUserByEmail(ctx, req.Tenant.ID, email)
	switch {
	case err == nil:
		if err := s.consume(ctx, identifier, req.Code); err != nil {
			return nil, err
		}
		return &Result{Action: ActionLogin, UserID: u.ID}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("otp: find user: %w", err)
	}

	if req.Name == "" {
		// paso de nombre: se extiende el código una vez en lugar de borrarlo
		if !code.Extended {
			if err := s.dir.ExtendVerificationCode(ctx, identifier, req.Code, now.Add(s.cfg.CodeTTL)); err != nil &&
				!errors.Is(err, repository.ErrAlreadyConsumed) {
				return nil, fmt.Errorf("otp: extend code: %w", err)
			}
		}
		return &Result{Action: ActionNeedsSignup}, nil
	}

	// la denegación no consume el código
	grant, err := s.gate.Authorize(ctx, req.Tenant, req.Context, email, req.InvitationID)
	if err != nil {
		return nil, err
	}
	if err := s.consume(ctx, identifier, req.Code); err != nil {
		return nil, err
	}
	created, _, err := s.dir.CreateUser(ctx, repository.CreateUserInput{
		TenantID:      req.Tenant.ID,
		Email:         email,
		EmailVerified: true,
		Name:          req.Name,
		Role:          grant.Role,
	})
	if err != nil {
		return nil, err
	}
	if err := s.gate.Accept(ctx, grant); err != nil {
		return nil, err
	}
	return &Result{Action: ActionSignup, UserID: created.ID}, nil
}

// VerifyFinder valida el código del buscador y lista los workspaces del email.
func (s *Service) VerifyFinder(ctx context.Context, email, code, clientIP string) ([]repository.Tenant, error) {
	if !validation.ValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if err := s.limiter.Check(ctx, rate.OpFinderVerify, clientIP); err != nil {
		return nil, err
	}
	if !validation.ValidOTPCode(code) {
		s.event("finder", "invalid")
		return nil, ErrInvalidCode
	}
	email = repository.NormalizeEmail(email)
	identifier := repository.FinderCodeIdentifier(email)

	var tenants []repository.Tenant
	err := s.dir.RunInTx(ctx, func(ctx context.Context) error {
		c, err := s.dir.GetVerificationCode(ctx, identifier)
		if err != nil || !s.now().Before(c.ExpiresAt) || c.Code != code {
			return ErrInvalidCode
		}
		if err := s.consume(ctx, identifier, code); err != nil {
			return err
		}
		tenants, err = s.dir.FindTenantsByEmail(ctx, email)
		return err
	})
	if err != nil {
		s.event("finder", outcomeOf(err))
		return nil, err
	}
	s.event("finder", "ok")
	return tenants, nil
}

func (s *Service) consume(ctx context.Context, identifier, code string) error {
	_, err := s.dir.ConsumeVerificationCode(ctx, identifier, code)
	if errors.Is(err, repository.ErrNotFound) {
		// otra verificación concurrente lo consumió primero
		return ErrInvalidCode
	}
	return err
}

func (s *Service) event(flow, outcome string) {
	if s.events != nil {
		s.events.AuthEvent(flow, outcome)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCode):
		return "invalid"
	case errors.Is(err, identity.ErrSignupNotAllowed), errors.Is(err, identity.ErrInvitationInvalid):
		return "denied"
	case errors.Is(err, rate.ErrLimited):
		return "rate_limited"
	}
	return "error"
}

// generateCode retorna 6 dígitos uniformes desde crypto/rand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
