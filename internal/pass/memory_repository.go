package pass

import (
	"context"
	"sync"
	"time"
)

// Cascader removes dependent rows when a pass is deleted. The registration
// store's in-memory implementation satisfies this.
type Cascader interface {
	DeleteByPass(ctx context.Context, serialNumber string) error
}

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Production should use the PostgreSQL implementation.
type InMemoryRepository struct {
	mu     sync.RWMutex
	passes map[string]*Pass // keyed by serial number

	// cascade mirrors the ON DELETE CASCADE the SQL schema provides.
	cascade Cascader
}

// NewInMemoryRepository creates a new in-memory pass repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		passes: make(map[string]*Pass),
	}
}

// SetCascade wires the registration store so Delete can cascade like the
// SQL foreign key does.
func (r *InMemoryRepository) SetCascade(c Cascader) {
	r.cascade = c
}

// GetBySerial retrieves a pass by serial number.
func (r *InMemoryRepository) GetBySerial(_ context.Context, serialNumber string) (*Pass, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.passes[serialNumber]
	if !ok {
		return nil, ErrPassNotFound
	}

	return copyPass(p), nil
}

// GetBySerials retrieves all passes matching the given serial numbers.
func (r *InMemoryRepository) GetBySerials(_ context.Context, serialNumbers []string) ([]*Pass, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var passes []*Pass
	for _, serial := range serialNumbers {
		if p, ok := r.passes[serial]; ok {
			passes = append(passes, copyPass(p))
		}
	}

	return passes, nil
}

// Create creates a new pass.
func (r *InMemoryRepository) Create(_ context.Context, p *Pass) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.passes[p.SerialNumber]; ok {
		return ErrSerialTaken
	}

	r.passes[p.SerialNumber] = copyPass(p)
	return nil
}

// UpdateMessage replaces the pass message and bumps LastModifiedAt.
func (r *InMemoryRepository) UpdateMessage(_ context.Context, serialNumber, message string, modifiedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.passes[serialNumber]
	if !ok {
		return ErrPassNotFound
	}

	p.Message = message
	p.LastModifiedAt = modifiedAt
	return nil
}

// Delete removes a pass and its registrations.
func (r *InMemoryRepository) Delete(ctx context.Context, serialNumber string) error {
	r.mu.Lock()
	_, ok := r.passes[serialNumber]
	if !ok {
		r.mu.Unlock()
		return ErrPassNotFound
	}
	delete(r.passes, serialNumber)
	r.mu.Unlock()

	if r.cascade != nil {
		return r.cascade.DeleteByPass(ctx, serialNumber)
	}
	return nil
}

// copyPass creates a copy of a pass.
func copyPass(p *Pass) *Pass {
	if p == nil {
		return nil
	}
	passCopy := *p
	return &passCopy
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
