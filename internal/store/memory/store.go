// Package memory implementa repository.Directory en memoria.
// Pensado para desarrollo y tests; todas las operaciones se serializan con un único lock.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
)

// tombstoneTTL es cuánto se recuerda un token de transferencia ya canjeado.
const tombstoneTTL = 10 * time.Minute

type Store struct {
	// txMu serializa operaciones y transacciones completas.
	txMu sync.Mutex

	now func() time.Time

	tenants     map[string]*repository.Tenant // id → tenant
	domains     map[string]*repository.Domain // host → domain
	users       map[string]*repository.User   // id → user
	members     map[string]*repository.Member // tenantID|userID → member
	accounts    map[string]repository.ExternalAccount
	invitations map[string]*repository.Invitation
	codes       map[string]*repository.VerificationCode
	transfers   map[string]*repository.TransferToken
	consumed    map[string]time.Time // token → vencimiento del tombstone
}

var _ repository.Directory = (*Store)(nil)

// New crea un store vacío.
func New() *Store {
	return &Store{
		now:         time.Now,
		tenants:     map[string]*repository.Tenant{},
		domains:     map[string]*repository.Domain{},
		users:       map[string]*repository.User{},
		members:     map[string]*repository.Member{},
		accounts:    map[string]repository.ExternalAccount{},
		invitations: map[string]*repository.Invitation{},
		codes:       map[string]*repository.VerificationCode{},
		transfers:   map[string]*repository.TransferToken{},
		consumed:    map[string]time.Time{},
	}
}

// WithClock reemplaza el reloj (tests).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

type txKey struct{}

// lock toma el lock salvo que ctx ya esté dentro de una transacción de este store.
func (s *Store) lock(ctx context.Context) func() {
	if owner, _ := ctx.Value(txKey{}).(*Store); owner == s {
		return func() {}
	}
	s.txMu.Lock()
	return s.txMu.Unlock
}

// RunInTx ejecuta fn con el store bloqueado. Si fn falla, el estado se restaura.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, _ := ctx.Value(txKey{}).(*Store); owner == s {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

// ─── Tenants y dominios ───

func (s *Store) FindTenantBySlug(ctx context.Context, slug string) (*repository.Tenant, error) {
	defer s.lock(ctx)()
	slug = strings.ToLower(strings.TrimSpace(slug))
	for _, t := range s.tenants {
		if t.Slug == slug {
			return cloneTenant(t), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) FindTenantByID(ctx context.Context, id string) (*repository.Tenant, error) {
	defer s.lock(ctx)()
	t, ok := s.tenants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneTenant(t), nil
}

func (s *Store) FindTenantByDomain(ctx context.Context, host string) (*repository.Tenant, *repository.Domain, error) {
	defer s.lock(ctx)()
	d, ok := s.domains[strings.ToLower(host)]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	t, ok := s.tenants[d.TenantID]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	dc := *d
	return cloneTenant(t), &dc, nil
}

func (s *Store) ListDomains(ctx context.Context, tenantID string) ([]repository.Domain, error) {
	defer s.lock(ctx)()
	var out []repository.Domain
	for _, d := range s.domains {
		if d.TenantID == tenantID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func (s *Store) CreateTenant(ctx context.Context, in repository.CreateTenantInput) (*repository.Tenant, error) {
	defer s.lock(ctx)()
	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	host := repository.NormalizeHost(in.Subdomain)
	if slug == "" || host == "" {
		return nil, repository.ErrInvalidInput
	}
	for _, t := range s.tenants {
		if t.Slug == slug {
			return nil, repository.ErrConflict
		}
	}
	if _, taken := s.domains[host]; taken {
		return nil, repository.ErrConflict
	}
	now := s.now()
	t := &repository.Tenant{
		ID:                uuid.NewString(),
		Slug:              slug,
		Name:              in.Name,
		CanonicalDomain:   host,
		OpenSignupEnabled: in.OpenSignupEnabled,
		PortalAuthEnabled: in.PortalAuthEnabled,
		Providers:         append([]repository.ProviderSetting(nil), in.Providers...),
		CreatedAt:         now,
	}
	s.tenants[t.ID] = t
	s.domains[host] = &repository.Domain{
		Domain:    host,
		TenantID:  t.ID,
		Kind:      repository.DomainSubdomain,
		Verified:  true,
		IsPrimary: true,
		CreatedAt: now,
	}
	return cloneTenant(t), nil
}

func (s *Store) UpdateTenantSettings(ctx context.Context, tenantID string, upd repository.TenantSettingsUpdate) (*repository.Tenant, error) {
	defer s.lock(ctx)()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if upd.StrictSSOMode != nil {
		t.StrictSSOMode = *upd.StrictSSOMode
	}
	if upd.OpenSignupEnabled != nil {
		t.OpenSignupEnabled = *upd.OpenSignupEnabled
	}
	if upd.PortalAuthEnabled != nil {
		t.PortalAuthEnabled = *upd.PortalAuthEnabled
	}
	if upd.Providers != nil {
		t.Providers = append([]repository.ProviderSetting(nil), upd.Providers...)
	}
	if upd.SSO != nil {
		sso := *upd.SSO
		t.SSO = &sso
	}
	return cloneTenant(t), nil
}

func (s *Store) AddDomain(ctx context.Context, tenantID, host string) (*repository.Domain, error) {
	defer s.lock(ctx)()
	host = repository.NormalizeHost(host)
	if host == "" {
		return nil, repository.ErrInvalidInput
	}
	if _, ok := s.tenants[tenantID]; !ok {
		return nil, repository.ErrNotFound
	}
	if _, taken := s.domains[host]; taken {
		return nil, repository.ErrConflict
	}
	d := &repository.Domain{
		Domain:    host,
		TenantID:  tenantID,
		Kind:      repository.DomainCustom,
		CreatedAt: s.now(),
	}
	s.domains[host] = d
	dc := *d
	return &dc, nil
}

func (s *Store) VerifyDomain(ctx context.Context, tenantID, host string) error {
	defer s.lock(ctx)()
	d, ok := s.domains[repository.NormalizeHost(host)]
	if !ok || d.TenantID != tenantID {
		return repository.ErrNotFound
	}
	d.Verified = true
	return nil
}

func (s *Store) SetPrimaryDomain(ctx context.Context, tenantID, host string) error {
	defer s.lock(ctx)()
	d, ok := s.domains[repository.NormalizeHost(host)]
	if !ok || d.TenantID != tenantID {
		return repository.ErrNotFound
	}
	if !d.Routable() {
		return repository.ErrInvalidInput
	}
	for _, other := range s.domains {
		if other.TenantID == tenantID {
			other.IsPrimary = false
		}
	}
	d.IsPrimary = true
	s.tenants[tenantID].CanonicalDomain = d.Domain
	return nil
}

func (s *Store) DeleteDomain(ctx context.Context, tenantID, host string) error {
	defer s.lock(ctx)()
	host = repository.NormalizeHost(host)
	d, ok := s.domains[host]
	if !ok || d.TenantID != tenantID {
		return repository.ErrNotFound
	}
	if d.Kind == repository.DomainSubdomain {
		return repository.ErrSubdomainUndeletable
	}
	if d.IsPrimary {
		return repository.ErrPrimaryDomain
	}
	delete(s.domains, host)
	return nil
}

// ─── Usuarios ───

func (s *Store) FindUserByEmail(ctx context.Context, tenantID, email string) (*repository.User, error) {
	defer s.lock(ctx)()
	if u := s.userByEmail(tenantID, email); u != nil {
		uc := *u
		return &uc, nil
	}
	return nil, repository.ErrNotFound
}

func (s *Store) userByEmail(tenantID, email string) *repository.User {
	email = repository.NormalizeEmail(email)
	for _, u := range s.users {
		if u.TenantID == tenantID && u.Email == email {
			return u
		}
	}
	return nil
}

func (s *Store) FindUserByID(ctx context.Context, tenantID, userID string) (*repository.User, error) {
	defer s.lock(ctx)()
	u, ok := s.users[userID]
	if !ok || u.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	uc := *u
	return &uc, nil
}

func (s *Store) FindUserByExternalAccount(ctx context.Context, tenantID, provider, accountID string) (*repository.User, error) {
	defer s.lock(ctx)()
	acc, ok := s.accounts[accountKey(tenantID, provider, accountID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u, ok := s.users[acc.UserID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	uc := *u
	return &uc, nil
}

func (s *Store) FindMember(ctx context.Context, tenantID, userID string) (*repository.Member, error) {
	defer s.lock(ctx)()
	m, ok := s.members[tenantID+"|"+userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	mc := *m
	return &mc, nil
}

func (s *Store) FindTenantsByEmail(ctx context.Context, email string) ([]repository.Tenant, error) {
	defer s.lock(ctx)()
	email = repository.NormalizeEmail(email)
	var out []repository.Tenant
	for _, u := range s.users {
		if u.Forked || u.Email != email {
			continue
		}
		if t, ok := s.tenants[u.TenantID]; ok {
			out = append(out, *cloneTenant(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (s *Store) CreateUser(ctx context.Context, in repository.CreateUserInput) (*repository.User, *repository.Member, error) {
	defer s.lock(ctx)()
	email := repository.NormalizeEmail(in.Email)
	if in.TenantID == "" || email == "" || !repository.ValidRole(in.Role) {
		return nil, nil, repository.ErrInvalidInput
	}
	if s.userByEmail(in.TenantID, email) != nil {
		return nil, nil, repository.ErrConflict
	}
	now := s.now()
	u := &repository.User{
		ID:            uuid.NewString(),
		TenantID:      in.TenantID,
		Email:         email,
		EmailVerified: in.EmailVerified,
		Name:          in.Name,
		AvatarURL:     in.AvatarURL,
		ExternalEmail: in.ExternalEmail,
		Forked:        in.Forked,
		CreatedAt:     now,
	}
	m := &repository.Member{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		TenantID:  in.TenantID,
		Role:      in.Role,
		CreatedAt: now,
	}
	s.users[u.ID] = u
	s.members[in.TenantID+"|"+u.ID] = m
	uc, mc := *u, *m
	return &uc, &mc, nil
}

func (s *Store) LinkExternalAccount(ctx context.Context, acc repository.ExternalAccount) error {
	defer s.lock(ctx)()
	k := accountKey(acc.TenantID, acc.Provider, acc.AccountID)
	if prev, ok := s.accounts[k]; ok {
		if prev.UserID == acc.UserID {
			return nil
		}
		return repository.ErrConflict
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = s.now()
	}
	s.accounts[k] = acc
	return nil
}

func accountKey(tenantID, provider, accountID string) string {
	return tenantID + "|" + strings.ToLower(provider) + "|" + accountID
}

// ─── Invitaciones ───

func (s *Store) FindInvitation(ctx context.Context, id string) (*repository.Invitation, error) {
	defer s.lock(ctx)()
	inv, ok := s.invitations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	ic := *inv
	if ic.Status == repository.InvitationPending && !s.now().Before(ic.ExpiresAt) {
		ic.Status = repository.InvitationExpired
	}
	return &ic, nil
}

func (s *Store) CreateInvitation(ctx context.Context, in repository.CreateInvitationInput) (*repository.Invitation, error) {
	defer s.lock(ctx)()
	if _, ok := s.tenants[in.TenantID]; !ok {
		return nil, repository.ErrNotFound
	}
	inv := &repository.Invitation{
		ID:          uuid.NewString(),
		TenantID:    in.TenantID,
		Email:       repository.NormalizeEmail(in.Email),
		Role:        in.Role,
		Status:      repository.InvitationPending,
		InviterName: in.InviterName,
		ExpiresAt:   in.ExpiresAt,
		CreatedAt:   s.now(),
	}
	s.invitations[inv.ID] = inv
	ic := *inv
	return &ic, nil
}

func (s *Store) MarkInvitationAccepted(ctx context.Context, id string) error {
	defer s.lock(ctx)()
	inv, ok := s.invitations[id]
	if !ok {
		return repository.ErrNotFound
	}
	if inv.Status != repository.InvitationPending {
		return repository.ErrAlreadyConsumed
	}
	inv.Status = repository.InvitationAccepted
	return nil
}

// ─── Códigos ───

func (s *Store) ReplaceVerificationCode(ctx context.Context, code repository.VerificationCode) error {
	defer s.lock(ctx)()
	if code.CreatedAt.IsZero() {
		code.CreatedAt = s.now()
	}
	code.Extended = false
	s.codes[code.Identifier] = &code
	return nil
}

func (s *Store) GetVerificationCode(ctx context.Context, identifier string) (*repository.VerificationCode, error) {
	defer s.lock(ctx)()
	c, ok := s.codes[identifier]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (s *Store) ExtendVerificationCode(ctx context.Context, identifier, code string, expiresAt time.Time) error {
	defer s.lock(ctx)()
	c, ok := s.codes[identifier]
	if !ok || c.Code != code {
		return repository.ErrNotFound
	}
	if c.Extended {
		return repository.ErrAlreadyConsumed
	}
	c.Extended = true
	c.ExpiresAt = expiresAt
	return nil
}

func (s *Store) ConsumeVerificationCode(ctx context.Context, identifier, code string) (*repository.VerificationCode, error) {
	defer s.lock(ctx)()
	c, ok := s.codes[identifier]
	if !ok || c.Code != code {
		return nil, repository.ErrNotFound
	}
	delete(s.codes, identifier)
	return c, nil
}

// ─── Transferencia de sesión ───

func (s *Store) CreateSessionTransferToken(ctx context.Context, t repository.TransferToken) error {
	defer s.lock(ctx)()
	s.sweepTransfers(s.now())
	if _, exists := s.transfers[t.Token]; exists {
		return repository.ErrConflict
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	s.transfers[t.Token] = &t
	return nil
}

func (s *Store) ConsumeSessionTransferToken(ctx context.Context, token string) (*repository.TransferToken, error) {
	defer s.lock(ctx)()
	now := s.now()
	s.sweepTransfers(now)
	t, ok := s.transfers[token]
	if !ok {
		if _, used := s.consumed[token]; used {
			return nil, repository.ErrAlreadyConsumed
		}
		return nil, repository.ErrNotFound
	}
	delete(s.transfers, token)
	s.consumed[token] = now.Add(tombstoneTTL)
	return t, nil
}

// sweepTransfers descarta tombstones vencidos y tokens nunca canjeados. Un
// token vencido se conserva tombstoneTTL para que el broker reporte expirado.
func (s *Store) sweepTransfers(now time.Time) {
	for k, exp := range s.consumed {
		if now.After(exp) {
			delete(s.consumed, k)
		}
	}
	for k, t := range s.transfers {
		if now.After(t.ExpiresAt.Add(tombstoneTTL)) {
			delete(s.transfers, k)
		}
	}
}

// ─── helpers ───

func cloneTenant(t *repository.Tenant) *repository.Tenant {
	tc := *t
	tc.Providers = append([]repository.ProviderSetting(nil), t.Providers...)
	if t.SSO != nil {
		sso := *t.SSO
		tc.SSO = &sso
	}
	return &tc
}
