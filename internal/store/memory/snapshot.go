package memory

import (
	"time"

	"github.com/dropDatabas3/crossauth/internal/domain/repository"
)

// snapshot es una copia profunda del estado, usada para rollback de RunInTx.
type snapshot struct {
	tenants     map[string]*repository.Tenant
	domains     map[string]*repository.Domain
	users       map[string]*repository.User
	members     map[string]*repository.Member
	accounts    map[string]repository.ExternalAccount
	invitations map[string]*repository.Invitation
	codes       map[string]*repository.VerificationCode
	transfers   map[string]*repository.TransferToken
	consumed    map[string]time.Time
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		tenants:     make(map[string]*repository.Tenant, len(s.tenants)),
		domains:     copyPtrMap(s.domains),
		users:       copyPtrMap(s.users),
		members:     copyPtrMap(s.members),
		accounts:    make(map[string]repository.ExternalAccount, len(s.accounts)),
		invitations: copyPtrMap(s.invitations),
		codes:       copyPtrMap(s.codes),
		transfers:   copyPtrMap(s.transfers),
		consumed:    make(map[string]time.Time, len(s.consumed)),
	}
	for k, t := range s.tenants {
		snap.tenants[k] = cloneTenant(t)
	}
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	for k, v := range s.consumed {
		snap.consumed[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.tenants = snap.tenants
	s.domains = snap.domains
	s.users = snap.users
	s.members = snap.members
	s.accounts = snap.accounts
	s.invitations = snap.invitations
	s.codes = snap.codes
	s.transfers = snap.transfers
	s.consumed = snap.consumed
}

func copyPtrMap[T any](in map[string]*T) map[string]*T {
	out := make(map[string]*T, len(in))
	for k, v := range in {
		c := *v
		out[k] = &c
	}
	return out
}
