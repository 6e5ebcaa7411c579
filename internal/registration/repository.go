package registration

import "context"

// Repository defines the interface for registration persistence.
//
// Both query paths are index-backed: ListByDevice serves the update-check
// endpoint, ListByPass serves push fan-out. Neither may degrade to a full
// scan as device and pass cardinality grows.
type Repository interface {
	// Upsert creates the registration for (device, serial) or, when it
	// already exists, refreshes the stored push token. The uniqueness
	// constraint on the pair is what makes concurrent duplicate
	// registrations converge on a single row.
	// Returns true if a new registration was created, false if updated.
	Upsert(ctx context.Context, reg *Registration) (created bool, err error)

	// Delete removes the registration for (device, serial).
	// Returns ErrRegistrationNotFound if no such registration exists;
	// callers treat that as a no-op success.
	Delete(ctx context.Context, deviceLibraryID, serialNumber string) error

	// ListByDevice retrieves all registrations for a device and pass type.
	ListByDevice(ctx context.Context, deviceLibraryID, passTypeID string) ([]*Registration, error)

	// ListByPass retrieves all registrations watching a pass.
	ListByPass(ctx context.Context, serialNumber string) ([]*Registration, error)

	// DeleteByPass removes all registrations watching a pass. Used by the
	// in-memory cascade; the SQL schema handles this with a foreign key.
	DeleteByPass(ctx context.Context, serialNumber string) error
}
