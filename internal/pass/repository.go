package pass

import (
	"context"
	"time"
)

// Repository defines the interface for pass persistence.
type Repository interface {
	// GetBySerial retrieves a pass by serial number.
	GetBySerial(ctx context.Context, serialNumber string) (*Pass, error)

	// GetBySerials retrieves all passes matching the given serial numbers.
	// Missing serials are silently skipped.
	GetBySerials(ctx context.Context, serialNumbers []string) ([]*Pass, error)

	// Create creates a new pass.
	Create(ctx context.Context, p *Pass) error

	// UpdateMessage replaces the pass message and bumps LastModifiedAt to
	// modifiedAt in a single statement, so a reader never observes the new
	// content with the old timestamp.
	UpdateMessage(ctx context.Context, serialNumber, message string, modifiedAt time.Time) error

	// Delete removes a pass and cascades to its registrations.
	Delete(ctx context.Context, serialNumber string) error
}
