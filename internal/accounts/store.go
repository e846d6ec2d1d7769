// internal/accounts/store.go
package accounts

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// CredentialStore persists accounts and their credentials. There is
// deliberately no way to change an account's role.
type CredentialStore interface {
	// FindByUsername matches usernames case-insensitively.
	FindByUsername(ctx context.Context, username string) (*Account, *Credential, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	// Insert fails with ErrDuplicateUsername if the name is taken.
	Insert(ctx context.Context, account *Account, cred *Credential) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash, salt string) error
}

type memoryRecord struct {
	account Account
	cred    Credential
}

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]*memoryRecord
	byUsername map[string]*memoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[uuid.UUID]*memoryRecord),
		byUsername: make(map[string]*memoryRecord),
	}
}

func (m *MemoryStore) FindByUsername(_ context.Context, username string) (*Account, *Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byUsername[normalize(username)]
	if !ok {
		return nil, nil, ErrAccountNotFound
	}
	account, cred := rec.account, rec.cred
	return &account, &cred, nil
}

func (m *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	account := rec.account
	return &account, nil
}

func (m *MemoryStore) Insert(_ context.Context, account *Account, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalize(account.Username)
	if _, ok := m.byUsername[key]; ok {
		return ErrDuplicateUsername
	}
	rec := &memoryRecord{account: *account, cred: *cred}
	m.byID[account.ID] = rec
	m.byUsername[key] = rec
	return nil
}

func (m *MemoryStore) UpdatePassword(_ context.Context, id uuid.UUID, hash, salt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	rec.cred.PasswordHash = hash
	rec.cred.PasswordSalt = salt
	return nil
}
