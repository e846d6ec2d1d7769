// internal/premium/repository.go
package premium

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Repository persists subscriptions. Implementations enforce at most one
// live subscription per vendor and optimistic versioning on updates.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetLive(ctx context.Context, vendorID uuid.UUID) (*Subscription, error)
	ListLive(ctx context.Context) ([]*Subscription, error)
	// Create fails with ErrAlreadySubscribed if the vendor has a live row.
	Create(ctx context.Context, sub *Subscription) error
	// Update writes sub if the stored version still equals expectedVersion.
	Update(ctx context.Context, sub *Subscription, expectedVersion int) error
	// Replace updates old and creates next in one transaction.
	Replace(ctx context.Context, old *Subscription, expectedVersion int, next *Subscription) error
}

// MemoryRepository keeps subscriptions in process memory.
type MemoryRepository struct {
	mu   sync.Mutex
	subs map[uuid.UUID]Subscription
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{subs: make(map[uuid.UUID]Subscription)}
}

func (m *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (m *MemoryRepository) GetLive(_ context.Context, vendorID uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.liveLocked(vendorID); ok {
		return &sub, nil
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryRepository) ListLive(_ context.Context) ([]*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Subscription
	for _, sub := range m.subs {
		if sub.Status.Live() {
			s := sub
			out = append(out, &s)
		}
	}
	return out, nil
}

func (m *MemoryRepository) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(sub)
}

func (m *MemoryRepository) Update(_ context.Context, sub *Subscription, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(sub, expectedVersion)
}

func (m *MemoryRepository) Replace(_ context.Context, old *Subscription, expectedVersion int, next *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.subs[old.ID]
	if err := m.updateLocked(old, expectedVersion); err != nil {
		return err
	}
	if err := m.createLocked(next); err != nil {
		if ok {
			m.subs[old.ID] = prev
		}
		return err
	}
	return nil
}

func (m *MemoryRepository) liveLocked(vendorID uuid.UUID) (Subscription, bool) {
	for _, sub := range m.subs {
		if sub.VendorID == vendorID && sub.Status.Live() {
			return sub, true
		}
	}
	return Subscription{}, false
}

func (m *MemoryRepository) createLocked(sub *Subscription) error {
	if sub.Status.Live() {
		if _, ok := m.liveLocked(sub.VendorID); ok {
			return ErrAlreadySubscribed
		}
	}
	m.subs[sub.ID] = *sub
	return nil
}

func (m *MemoryRepository) updateLocked(sub *Subscription, expectedVersion int) error {
	stored, ok := m.subs[sub.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if stored.Version != expectedVersion {
		return ErrConcurrentUpdate
	}
	m.subs[sub.ID] = *sub
	return nil
}
