package registration

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
//
// Expected indices: a unique index on (device_library_id, serial_number) and a
// secondary index on serial_number. ListByDevice is served by the unique
// index's leading column plus the pass_type_id filter.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL registration repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Upsert creates or refreshes the registration for (device, serial).
func (r *PostgresRepository) Upsert(ctx context.Context, reg *Registration) (bool, error) {
	// xmax = 0 distinguishes a fresh insert from a conflict update.
	query := `
		INSERT INTO registrations (device_library_id, pass_type_id, serial_number, push_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (device_library_id, serial_number) DO UPDATE SET
			push_token = EXCLUDED.push_token,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS inserted
	`

	var inserted bool
	err := r.pool.QueryRow(ctx, query,
		reg.DeviceLibraryID,
		reg.PassTypeIdentifier,
		reg.SerialNumber,
		reg.PushToken,
		reg.CreatedAt,
		reg.UpdatedAt,
	).Scan(&inserted)

	if err != nil {
		return false, err
	}

	return inserted, nil
}

// Delete removes the registration for (device, serial).
func (r *PostgresRepository) Delete(ctx context.Context, deviceLibraryID, serialNumber string) error {
	query := `DELETE FROM registrations WHERE device_library_id = $1 AND serial_number = $2`

	result, err := r.pool.Exec(ctx, query, deviceLibraryID, serialNumber)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrRegistrationNotFound
	}

	return nil
}

// ListByDevice retrieves all registrations for a device and pass type.
func (r *PostgresRepository) ListByDevice(ctx context.Context, deviceLibraryID, passTypeID string) ([]*Registration, error) {
	query := `
		SELECT device_library_id, pass_type_id, serial_number, push_token, created_at, updated_at
		FROM registrations
		WHERE device_library_id = $1 AND pass_type_id = $2
		ORDER BY created_at
	`

	return r.list(ctx, query, deviceLibraryID, passTypeID)
}

// ListByPass retrieves all registrations watching a pass.
func (r *PostgresRepository) ListByPass(ctx context.Context, serialNumber string) ([]*Registration, error) {
	query := `
		SELECT device_library_id, pass_type_id, serial_number, push_token, created_at, updated_at
		FROM registrations
		WHERE serial_number = $1
		ORDER BY created_at
	`

	return r.list(ctx, query, serialNumber)
}

// DeleteByPass removes all registrations watching a pass.
func (r *PostgresRepository) DeleteByPass(ctx context.Context, serialNumber string) error {
	query := `DELETE FROM registrations WHERE serial_number = $1`
	_, err := r.pool.Exec(ctx, query, serialNumber)
	return err
}

// list runs a query returning full registration rows.
func (r *PostgresRepository) list(ctx context.Context, query string, args ...interface{}) ([]*Registration, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []*Registration
	for rows.Next() {
		var reg Registration
		err := rows.Scan(
			&reg.DeviceLibraryID,
			&reg.PassTypeIdentifier,
			&reg.SerialNumber,
			&reg.PushToken,
			&reg.CreatedAt,
			&reg.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		regs = append(regs, &reg)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return regs, nil
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
