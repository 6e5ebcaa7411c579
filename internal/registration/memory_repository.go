package registration

import (
	"context"
	"sort"
	"sync"
)

// regKey identifies a registration by its natural key.
type regKey struct {
	deviceLibraryID string
	serialNumber    string
}

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Production should use the PostgreSQL implementation.
type InMemoryRepository struct {
	mu   sync.RWMutex
	regs map[regKey]*Registration

	// Secondary indices mirroring the SQL ones.
	byDevice map[string]map[regKey]struct{} // device library ID -> keys
	byPass   map[string]map[regKey]struct{} // serial number -> keys
}

// NewInMemoryRepository creates a new in-memory registration repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		regs:     make(map[regKey]*Registration),
		byDevice: make(map[string]map[regKey]struct{}),
		byPass:   make(map[string]map[regKey]struct{}),
	}
}

// Upsert creates or refreshes the registration for (device, serial).
func (r *InMemoryRepository) Upsert(_ context.Context, reg *Registration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := regKey{deviceLibraryID: reg.DeviceLibraryID, serialNumber: reg.SerialNumber}

	if existing, ok := r.regs[key]; ok {
		existing.PushToken = reg.PushToken
		existing.PassTypeIdentifier = reg.PassTypeIdentifier
		existing.UpdatedAt = reg.UpdatedAt
		return false, nil
	}

	r.regs[key] = copyRegistration(reg)
	r.index(r.byDevice, reg.DeviceLibraryID, key)
	r.index(r.byPass, reg.SerialNumber, key)
	return true, nil
}

// Delete removes the registration for (device, serial).
func (r *InMemoryRepository) Delete(_ context.Context, deviceLibraryID, serialNumber string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := regKey{deviceLibraryID: deviceLibraryID, serialNumber: serialNumber}
	if _, ok := r.regs[key]; !ok {
		return ErrRegistrationNotFound
	}

	r.remove(key)
	return nil
}

// ListByDevice retrieves all registrations for a device and pass type.
func (r *InMemoryRepository) ListByDevice(_ context.Context, deviceLibraryID, passTypeID string) ([]*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var regs []*Registration
	for key := range r.byDevice[deviceLibraryID] {
		reg := r.regs[key]
		if reg.PassTypeIdentifier == passTypeID {
			regs = append(regs, copyRegistration(reg))
		}
	}

	sortByCreation(regs)
	return regs, nil
}

// ListByPass retrieves all registrations watching a pass.
func (r *InMemoryRepository) ListByPass(_ context.Context, serialNumber string) ([]*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var regs []*Registration
	for key := range r.byPass[serialNumber] {
		regs = append(regs, copyRegistration(r.regs[key]))
	}

	sortByCreation(regs)
	return regs, nil
}

// DeleteByPass removes all registrations watching a pass.
func (r *InMemoryRepository) DeleteByPass(_ context.Context, serialNumber string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.byPass[serialNumber] {
		r.remove(key)
	}
	return nil
}

// index adds key under bucket, creating the bucket when absent.
// Caller holds the write lock.
func (r *InMemoryRepository) index(m map[string]map[regKey]struct{}, bucket string, key regKey) {
	keys, ok := m[bucket]
	if !ok {
		keys = make(map[regKey]struct{})
		m[bucket] = keys
	}
	keys[key] = struct{}{}
}

// remove deletes a registration and its index entries.
// Caller holds the write lock.
func (r *InMemoryRepository) remove(key regKey) {
	delete(r.regs, key)

	if keys, ok := r.byDevice[key.deviceLibraryID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.byDevice, key.deviceLibraryID)
		}
	}
	if keys, ok := r.byPass[key.serialNumber]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.byPass, key.serialNumber)
		}
	}
}

func sortByCreation(regs []*Registration) {
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].CreatedAt.Equal(regs[j].CreatedAt) {
			return regs[i].DeviceLibraryID < regs[j].DeviceLibraryID
		}
		return regs[i].CreatedAt.Before(regs[j].CreatedAt)
	})
}

// copyRegistration creates a copy of a registration.
func copyRegistration(reg *Registration) *Registration {
	if reg == nil {
		return nil
	}
	regCopy := *reg
	return &regCopy
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
