package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	"github.com/dropDatabas3/crossauth/internal/observability/logger"
)

// ErrAccountLinked: la cuenta externa ya pertenece a otro usuario del tenant.
var ErrAccountLinked = errors.New("identity: external account linked to another user")

// ForkKeyer deriva la clave natural de una identidad forkeada.
type ForkKeyer interface {
	ForkedEmail(tenantID, email string) (string, error)
}

// ResolveRequest es la identidad externa ya verificada por el provider.
type ResolveRequest struct {
	Tenant       *repository.Tenant
	Context      repository.AuthContext
	Email        string
	Name         string
	AvatarURL    string
	Provider     string
	AccountID    string
	InvitationID string
}

// Resolution es el usuario local resultante.
type Resolution struct {
	UserID  string
	Created bool
	Forked  bool
}

// Linker resuelve identidades externas a usuarios locales.
type Linker struct {
	dir  repository.Directory
	gate *Gate
	keys ForkKeyer
}

func NewLinker(dir repository.Directory, gate *Gate, keys ForkKeyer) *Linker {
	return &Linker{dir: dir, gate: gate, keys: keys}
}

// Resolve aplica merge (default) o fork (StrictSSOMode).
//
// Merge: cuenta externa ya vinculada, si no usuario con el mismo email (se vincula),
// si no alta. Fork: nunca matchea por email real; la clave natural es
// HMAC(forkKey(tenant), email) y el email real queda en ExternalEmail.
func (l *Linker) Resolve(ctx context.Context, req ResolveRequest) (*Resolution, error) {
	email := repository.NormalizeEmail(req.Email)
	if req.Tenant == nil || email == "" || req.Provider == "" || req.AccountID == "" {
		return nil, repository.ErrInvalidInput
	}
	req.Email = email
	req.Provider = strings.ToLower(req.Provider)

	naturalKey := email
	forked := req.Tenant.StrictSSOMode
	if forked {
		k, err := l.keys.ForkedEmail(req.Tenant.ID, email)
		if err != nil {
			return nil, err
		}
		naturalKey = k
	}

	log := logger.From(ctx).With(
		logger.Component("identity.linker"),
		logger.TenantID(req.Tenant.ID),
		logger.Provider(req.Provider),
		logger.Bool("forked", forked),
	)

	var res *Resolution
	attempt := func() error {
		return l.dir.RunInTx(ctx, func(ctx context.Context) error {
			r, err := l.resolveTx(ctx, req, naturalKey, forked)
			res = r
			return err
		})
	}
	err := attempt()
	if errors.Is(err, repository.ErrConflict) {
		// alta concurrente: el perdedor reintenta y encuentra al ganador
		log.Debug("identity create conflict, retrying")
		err = attempt()
	}
	if err != nil {
		return nil, err
	}
	if res.Created {
		log.Info("identity created", logger.UserID(res.UserID))
	}
	return res, nil
}

func (l *Linker) resolveTx(ctx context.Context, req ResolveRequest, naturalKey string, forked bool) (*Resolution, error) {
	tid := req.Tenant.ID

	u, err := l.dir.FindUserByExternalAccount(ctx, tid, req.Provider, req.AccountID)
	// un vínculo existente es una asociación explícita previa y se respeta en ambos modos
	switch {
	case err == nil:
		return &Resolution{UserID: u.ID, Forked: u.Forked}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("identity: find by account: %w", err)
	}

	u, err = l.dir.FindUserByEmail(ctx, tid, naturalKey)
	switch {
	case err == nil:
		if err := l.link(ctx, req, u.ID); err != nil {
			return nil, err
		}
		return &Resolution{UserID: u.ID, Forked: u.Forked}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("identity: find by email: %w", err)
	}

	grant, err := l.gate.Authorize(ctx, req.Tenant, req.Context, req.Email, req.InvitationID)
	if err != nil {
		return nil, err
	}
	in := repository.CreateUserInput{
		TenantID:      tid,
		Email:         naturalKey,
		EmailVerified: true,
		Name:          req.Name,
		AvatarURL:     req.AvatarURL,
		Role:          grant.Role,
	}
	if forked {
		in.ExternalEmail = req.Email
		in.Forked = true
	}
	created, _, err := l.dir.CreateUser(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := l.link(ctx, req, created.ID); err != nil {
		return nil, err
	}
	if err := l.gate.Accept(ctx, grant); err != nil {
		return nil, err
	}
	return &Resolution{UserID: created.ID, Created: true, Forked: forked}, nil
}

func (l *Linker) link(ctx context.Context, req ResolveRequest, userID string) error {
	err := l.dir.LinkExternalAccount(ctx, repository.ExternalAccount{
		UserID:    userID,
		TenantID:  req.Tenant.ID,
		Provider:  req.Provider,
		AccountID: req.AccountID,
	})
	if errors.Is(err, repository.ErrConflict) {
		return ErrAccountLinked
	}
	return err
}
