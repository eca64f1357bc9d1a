// Package transfer emite y canjea los tokens de un solo uso que llevan una
// identidad autenticada desde el dominio de callback al dominio de retorno.
package transfer

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	"github.com/dropDatabas3/crossauth/internal/observability/logger"
	"github.com/dropDatabas3/crossauth/internal/security/statesign"
	"github.com/dropDatabas3/crossauth/internal/tenant"
)

var (
	ErrInvalid     = errors.New("transfer: invalid token")
	ErrExpired     = errors.New("transfer: token expired")
	ErrAlreadyUsed = errors.New("transfer: token already used")
)

// Store persiste tokens. Take es atómico: entre llamadas concurrentes con el
// mismo token exactamente una recibe el registro; las demás reciben
// repository.ErrAlreadyConsumed. Un token desconocido es repository.ErrNotFound.
type Store interface {
	Put(ctx context.Context, t repository.TransferToken) error
	Take(ctx context.Context, token string) (*repository.TransferToken, error)
}

// IssueRequest identidad a transferir.
type IssueRequest struct {
	UserID       string
	TenantID     string
	TargetDomain string
	CallbackPath string
	Context      repository.AuthContext
}

// Redemption resultado de un canje exitoso.
type Redemption struct {
	UserID       string
	TenantID     string
	CallbackPath string
	Context      repository.AuthContext
}

type Broker struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewBroker crea el broker. ttl se limita a 60s.
func NewBroker(s Store, ttl time.Duration) *Broker {
	if ttl <= 0 || ttl > statesign.MaxAgeTransferToken {
		ttl = statesign.MaxAgeTransferToken
	}
	return &Broker{store: s, ttl: ttl, now: time.Now}
}

// TTL vigencia efectiva de los tokens.
func (b *Broker) TTL() time.Duration { return b.ttl }

// Issue genera un token de 32 bytes aleatorios (base64url) con vencimiento corto.
func (b *Broker) Issue(ctx context.Context, req IssueRequest) (string, error) {
	if req.UserID == "" || req.TenantID == "" || req.TargetDomain == "" {
		return "", repository.ErrInvalidInput
	}
	host, err := tenant.CanonicalHost(req.TargetDomain)
	if err != nil {
		return "", fmt.Errorf("transfer: target domain: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("transfer: rand: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := b.now()
	err = b.store.Put(ctx, repository.TransferToken{
		Token:        token,
		UserID:       req.UserID,
		TenantID:     req.TenantID,
		TargetDomain: host,
		CallbackPath: req.CallbackPath,
		Context:      req.Context,
		ExpiresAt:    now.Add(b.ttl),
		CreatedAt:    now,
	})
	if err != nil {
		return "", fmt.Errorf("transfer: put: %w", err)
	}
	logger.From(ctx).Debug("transfer token issued",
		logger.Component("transfer"), logger.TenantID(req.TenantID), logger.Domain(host))
	return token, nil
}

// Redeem canjea el token en host. El token se consume aunque luego resulte
// vencido o presentado en otro dominio.
func (b *Broker) Redeem(ctx context.Context, token, host string) (*Redemption, error) {
	if token == "" {
		return nil, ErrInvalid
	}
	t, err := b.store.Take(ctx, token)
	switch {
	case errors.Is(err, repository.ErrAlreadyConsumed):
		return nil, ErrAlreadyUsed
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrInvalid
	case err != nil:
		return nil, fmt.Errorf("transfer: take: %w", err)
	}

	if !b.now().Before(t.ExpiresAt) {
		return nil, ErrExpired
	}
	h, err := tenant.CanonicalHost(host)
	if err != nil || h != t.TargetDomain {
		logger.From(ctx).Warn("transfer token presented on foreign host",
			logger.Component("transfer"), logger.TenantID(t.TenantID), logger.Host(host))
		return nil, ErrInvalid
	}
	return &Redemption{
		UserID:       t.UserID,
		TenantID:     t.TenantID,
		CallbackPath: t.CallbackPath,
		Context:      t.Context,
	}, nil
}
