package controllers

import (
	"context"
	"net/http"
	"net/url"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
	"github.com/dropDatabas3/crossauth/internal/session"
	"github.com/dropDatabas3/crossauth/internal/social"
	"github.com/dropDatabas3/crossauth/internal/tenant"
	"github.com/dropDatabas3/crossauth/internal/transfer"
	"github.com/dropDatabas3/crossauth/internal/validation"
)

// loginCompleter asienta la sesión de un login exitoso: cookie directa si el
// dominio de retorno es el host actual, transfer token si es otro dominio del tenant.
type loginCompleter struct {
	deps       Deps
	scheme     string
	// brokerHost no tiene sesión propia: desde ahí siempre se transfiere.
	brokerHost string
}

// destination dominio y path de retorno ya validados.
type destination struct {
	tenant       *repository.Tenant
	host         string
	callbackPath string
	sameOrigin   bool
}

// resolve valida el destino antes de tocar el código o la identidad: un
// destino inválido no debe quemar un código correcto.
func (l *loginCompleter) resolve(ctx context.Context, r *http.Request, t *repository.Tenant, returnDomain, callbackPath string) (*destination, error) {
	if callbackPath == "" {
		callbackPath = "/"
	}
	if !validation.ValidCallbackPath(callbackPath) {
		return nil, social.ErrCallbackPath
	}
	current, err := tenant.CanonicalHost(r.Host)
	if err != nil {
		return nil, err
	}
	onBroker := l.brokerHost != "" && current == l.brokerHost
	if !onBroker {
		// la cookie se asienta en current: tiene que ser del tenant
		owned, err := l.deps.Resolver.OwnsDomain(ctx, t, current)
		if err != nil {
			return nil, err
		}
		if !owned {
			return nil, tenant.ErrNotFound
		}
	}
	d := &destination{tenant: t, host: current, callbackPath: callbackPath, sameOrigin: true}
	if returnDomain == "" {
		if onBroker {
			return nil, social.ErrReturnDomain
		}
		return d, nil
	}
	target, err := tenant.CanonicalHost(returnDomain)
	if err != nil {
		return nil, social.ErrReturnDomain
	}
	if target == current && !onBroker {
		return d, nil
	}
	owned, err := l.deps.Resolver.OwnsDomain(ctx, t, target)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, social.ErrReturnDomain
	}
	d.host, d.sameOrigin = target, false
	return d, nil
}

// complete devuelve la URL a la que debe navegar el cliente.
func (l *loginCompleter) complete(ctx context.Context, w http.ResponseWriter, r *http.Request, d *destination, userID string, authCtx repository.AuthContext) (string, error) {
	if d.sameOrigin {
		err := l.deps.Sessions.Issue(w, r, session.Subject{UserID: userID, TenantID: d.tenant.ID, Context: authCtx})
		if err != nil {
			return "", err
		}
		return d.callbackPath, nil
	}
	token, err := l.deps.Transfer.Issue(ctx, transfer.IssueRequest{
		UserID:       userID,
		TenantID:     d.tenant.ID,
		TargetDomain: d.host,
		CallbackPath: d.callbackPath,
		Context:      authCtx,
	})
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: l.scheme, Host: d.host, Path: "/auth/trust-login", RawQuery: url.Values{"token": {token}}.Encode()}
	return u.String(), nil
}
