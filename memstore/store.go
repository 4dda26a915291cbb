package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	identity "github.com/kadvik/identity"
	"github.com/kadvik/identity/txn"
)

// Store is an in-memory AccountStore with the full optimistic-concurrency
// contract: Update fails with an error matching txn.ErrConflict when the
// submitted Version is stale, and every successful update advances it.
//
// Intended for tests, examples, and load tooling. Nothing persists.
type Store struct {
	mu         sync.RWMutex
	byID       map[string]identity.Account
	byUsername map[string]string
	byEmail    map[string]string
	backup     map[string]map[[32]byte]struct{}
}

func New() *Store {
	return &Store{
		byID:       make(map[string]identity.Account),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		backup:     make(map[string]map[[32]byte]struct{}),
	}
}

// Seed inserts an account unconditionally, bypassing duplicate checks.
// Test setup helper; use Create for contract-faithful inserts.
func (s *Store) Seed(account identity.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index(account)
}

func (s *Store) index(account identity.Account) {
	s.byID[account.ID] = cloneAccount(account)
	s.byUsername[strings.ToLower(account.Username)] = account.ID
	s.byEmail[strings.ToLower(account.Email)] = account.ID
}

func (s *Store) FindByID(_ context.Context, id string) (identity.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.byID[id]
	if !ok {
		return identity.Account{}, identity.ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (s *Store) FindByIdentifier(_ context.Context, usernameOrEmail string) (identity.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(usernameOrEmail)
	id, ok := s.byUsername[needle]
	if !ok {
		id, ok = s.byEmail[needle]
	}
	if !ok {
		return identity.Account{}, identity.ErrAccountNotFound
	}
	return cloneAccount(s.byID[id]), nil
}

func (s *Store) Create(_ context.Context, account identity.Account) (identity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUsername[strings.ToLower(account.Username)]; exists {
		return identity.Account{}, identity.ErrDuplicateIdentifier
	}
	if _, exists := s.byEmail[strings.ToLower(account.Email)]; exists {
		return identity.Account{}, identity.ErrDuplicateIdentifier
	}

	account.Version = 1
	s.index(account)
	return cloneAccount(account), nil
}

func (s *Store) Update(_ context.Context, account identity.Account) (identity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[account.ID]
	if !ok {
		return identity.Account{}, identity.ErrAccountNotFound
	}
	if current.Version != account.Version {
		return identity.Account{}, txn.Conflict(fmt.Errorf("memstore: version %d is stale, store has %d", account.Version, current.Version))
	}

	account.Version++
	delete(s.byUsername, strings.ToLower(current.Username))
	delete(s.byEmail, strings.ToLower(current.Email))
	s.index(account)
	return cloneAccount(account), nil
}

func (s *Store) ListInRole(_ context.Context, role string) ([]identity.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []identity.Account
	for _, account := range s.byID {
		if account.HasRole(role) {
			out = append(out, cloneAccount(account))
		}
	}
	return out, nil
}

func (s *Store) ReplaceBackupCodes(_ context.Context, accountID string, digests [][32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[accountID]; !ok {
		return identity.ErrAccountNotFound
	}

	set := make(map[[32]byte]struct{}, len(digests))
	for _, d := range digests {
		set[d] = struct{}{}
	}
	s.backup[accountID] = set
	return nil
}

func (s *Store) ConsumeBackupCode(_ context.Context, accountID string, digest [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.backup[accountID]
	if !ok {
		return false, nil
	}
	if _, present := set[digest]; !present {
		return false, nil
	}
	delete(set, digest)
	return true, nil
}

// BackupCodeCount reports how many unused codes remain for the account.
func (s *Store) BackupCodeCount(accountID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.backup[accountID])
}

func cloneAccount(a identity.Account) identity.Account {
	out := a
	out.Roles = append([]string(nil), a.Roles...)
	out.TOTPSecret = append([]byte(nil), a.TOTPSecret...)
	return out
}
