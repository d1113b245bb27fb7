package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgProvider reads the catalog from the medication_catalog table seeded by
// cmd/seed.
type PgProvider struct {
	pool *pgxpool.Pool
}

func NewPgProvider(pool *pgxpool.Pool) *PgProvider {
	return &PgProvider{pool: pool}
}

func scanMedication(row pgx.Row) (*Medication, error) {
	var m Medication

	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.GenericName,
		&m.Form,
		&m.Strength,
		&m.Category,
		&m.RequiresPrescription,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &m, nil
}

func (p *PgProvider) Lookup(ctx context.Context, id uuid.UUID) (*Medication, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, name, generic_name, form, strength, category, requires_prescription
		FROM medication_catalog
		WHERE id = $1
	`, id)
	return scanMedication(row)
}

func (p *PgProvider) Search(ctx context.Context, name string) ([]Medication, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, generic_name, form, strength, category, requires_prescription
		FROM medication_catalog
		WHERE name ILIKE '%' || $1 || '%'
		   OR generic_name ILIKE '%' || $1 || '%'
		ORDER BY name
		LIMIT 50
	`, name)
	if err != nil {
		return nil, fmt.Errorf("search catalog: %w", err)
	}
	defer rows.Close()

	var out []Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}
