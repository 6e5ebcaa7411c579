package pass

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
//
// The registrations table carries a foreign key on serial_number with
// ON DELETE CASCADE, so Delete never leaves orphaned registrations.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL pass repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const passColumns = `serial_number, authentication_token, pass_type_id, description, organization_name, message, last_modified_at, created_at`

// GetBySerial retrieves a pass by serial number.
func (r *PostgresRepository) GetBySerial(ctx context.Context, serialNumber string) (*Pass, error) {
	query := `
		SELECT ` + passColumns + `
		FROM passes
		WHERE serial_number = $1
	`

	var p Pass
	err := r.pool.QueryRow(ctx, query, serialNumber).Scan(
		&p.SerialNumber,
		&p.AuthenticationToken,
		&p.PassTypeIdentifier,
		&p.Description,
		&p.OrganizationName,
		&p.Message,
		&p.LastModifiedAt,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPassNotFound
		}
		return nil, err
	}

	return &p, nil
}

// GetBySerials retrieves all passes matching the given serial numbers.
func (r *PostgresRepository) GetBySerials(ctx context.Context, serialNumbers []string) ([]*Pass, error) {
	if len(serialNumbers) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + passColumns + `
		FROM passes
		WHERE serial_number = ANY($1)
	`

	rows, err := r.pool.Query(ctx, query, serialNumbers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passes []*Pass
	for rows.Next() {
		var p Pass
		err := rows.Scan(
			&p.SerialNumber,
			&p.AuthenticationToken,
			&p.PassTypeIdentifier,
			&p.Description,
			&p.OrganizationName,
			&p.Message,
			&p.LastModifiedAt,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		passes = append(passes, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return passes, nil
}

// Create creates a new pass.
func (r *PostgresRepository) Create(ctx context.Context, p *Pass) error {
	query := `
		INSERT INTO passes (serial_number, authentication_token, pass_type_id, description, organization_name, message, last_modified_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		p.SerialNumber,
		p.AuthenticationToken,
		p.PassTypeIdentifier,
		p.Description,
		p.OrganizationName,
		p.Message,
		p.LastModifiedAt,
		p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSerialTaken
		}
		return err
	}
	return nil
}

// UpdateMessage replaces the pass message and bumps last_modified_at atomically.
func (r *PostgresRepository) UpdateMessage(ctx context.Context, serialNumber, message string, modifiedAt time.Time) error {
	query := `
		UPDATE passes SET
			message = $2,
			last_modified_at = $3
		WHERE serial_number = $1
	`

	result, err := r.pool.Exec(ctx, query, serialNumber, message, modifiedAt)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrPassNotFound
	}

	return nil
}

// Delete removes a pass; registrations go with it via the FK cascade.
func (r *PostgresRepository) Delete(ctx context.Context, serialNumber string) error {
	query := `DELETE FROM passes WHERE serial_number = $1`

	result, err := r.pool.Exec(ctx, query, serialNumber)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrPassNotFound
	}

	return nil
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
