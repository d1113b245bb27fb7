package regimen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const regimenColumns = `id, owner_id, medication_name, catalog_id, dosage, frequency, interval_hours,
	time_slots, active_from, active_until, instructions, color, enabled, created_at, updated_at`

const doseEventColumns = `id, regimen_id, owner_id, medication_name, scheduled_at, status,
	taken_at, skip_reason, notified_at, created_at`

// Helpers

func scanRegimen(row pgx.Row) (*Regimen, error) {
	var r Regimen

	err := row.Scan(
		&r.ID,
		&r.OwnerID,
		&r.MedicationName,
		&r.CatalogID,
		&r.Dosage,
		&r.Frequency,
		&r.IntervalHours,
		&r.TimeSlots,
		&r.ActiveFrom,
		&r.ActiveUntil,
		&r.Instructions,
		&r.Color,
		&r.Enabled,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRegimenNotFound
		}
		return nil, err
	}

	return &r, nil
}

func scanDoseEvent(row pgx.Row) (*DoseEvent, error) {
	var ev DoseEvent

	err := row.Scan(
		&ev.ID,
		&ev.RegimenID,
		&ev.OwnerID,
		&ev.MedicationName,
		&ev.ScheduledAt,
		&ev.Status,
		&ev.TakenAt,
		&ev.SkipReason,
		&ev.NotifiedAt,
		&ev.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoseEventNotFound
		}
		return nil, err
	}

	return &ev, nil
}

func scanHistoryEntry(row pgx.Row) (*HistoryEntry, error) {
	var h HistoryEntry

	err := row.Scan(
		&h.ID,
		&h.OwnerID,
		&h.RegimenID,
		&h.DoseEventID,
		&h.MedicationName,
		&h.Dosage,
		&h.ResultingStatus,
		&h.WasOnTime,
		&h.TransitionedAt,
	)
	if err != nil {
		return nil, err
	}

	return &h, nil
}

func collectDoseEvents(rows pgx.Rows) ([]DoseEvent, error) {
	defer rows.Close()

	var result []DoseEvent
	for rows.Next() {
		ev, err := scanDoseEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func collectRegimens(rows pgx.Rows) ([]Regimen, error) {
	defer rows.Close()

	var result []Regimen
	for rows.Next() {
		r, err := scanRegimen(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (repo *PgRepository) CreateRegimen(ctx context.Context, r *Regimen) error {
	_, err := repo.pool.Exec(ctx, `
		INSERT INTO regimens (id, owner_id, medication_name, catalog_id, dosage, frequency, interval_hours,
			time_slots, active_from, active_until, instructions, color, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, r.ID, r.OwnerID, r.MedicationName, r.CatalogID, r.Dosage, r.Frequency, r.IntervalHours,
		r.TimeSlots, r.ActiveFrom, r.ActiveUntil, r.Instructions, r.Color, r.Enabled, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert regimen: %w", err)
	}

	return nil
}

func (repo *PgRepository) UpdateRegimen(ctx context.Context, r *Regimen) error {
	tag, err := repo.pool.Exec(ctx, `
		UPDATE regimens
		SET medication_name = $2,
		    catalog_id = $3,
		    dosage = $4,
		    frequency = $5,
		    interval_hours = $6,
		    time_slots = $7,
		    active_from = $8,
		    active_until = $9,
		    instructions = $10,
		    color = $11,
		    enabled = $12,
		    updated_at = $13
		WHERE id = $1
	`, r.ID, r.MedicationName, r.CatalogID, r.Dosage, r.Frequency, r.IntervalHours,
		r.TimeSlots, r.ActiveFrom, r.ActiveUntil, r.Instructions, r.Color, r.Enabled, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update regimen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRegimenNotFound
	}

	return nil
}

func (repo *PgRepository) GetRegimenByID(ctx context.Context, id uuid.UUID) (*Regimen, error) {
	row := repo.pool.QueryRow(ctx, `
		SELECT `+regimenColumns+`
		FROM regimens
		WHERE id = $1
	`, id)
	return scanRegimen(row)
}

func (repo *PgRepository) ListRegimensByOwner(ctx context.Context, ownerID uuid.UUID, enabledOnly bool) ([]Regimen, error) {
	rows, err := repo.pool.Query(ctx, `
		SELECT `+regimenColumns+`
		FROM regimens
		WHERE owner_id = $1
		  AND ($2 = false OR enabled = true)
		ORDER BY created_at DESC
	`, ownerID, enabledOnly)
	if err != nil {
		return nil, err
	}
	return collectRegimens(rows)
}

func (repo *PgRepository) ListEnabledRegimens(ctx context.Context) ([]Regimen, error) {
	rows, err := repo.pool.Query(ctx, `
		SELECT `+regimenColumns+`
		FROM regimens
		WHERE enabled = true
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	return collectRegimens(rows)
}

func (repo *PgRepository) SetRegimenEnabled(ctx context.Context, id uuid.UUID, enabled bool, updatedAt time.Time) error {
	tag, err := repo.pool.Exec(ctx, `
		UPDATE regimens
		SET enabled = $2,
		    updated_at = $3
		WHERE id = $1
	`, id, enabled, updatedAt)
	if err != nil {
		return fmt.Errorf("set regimen enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRegimenNotFound
	}

	return nil
}

func (repo *PgRepository) InsertDoseEventIfAbsent(ctx context.Context, ev *DoseEvent) (bool, error) {
	// The unique constraint on (regimen_id, scheduled_at) makes repeated
	// materialization passes idempotent even across processes.
	tag, err := repo.pool.Exec(ctx, `
		INSERT INTO dose_events (id, regimen_id, owner_id, medication_name, scheduled_at, status,
			taken_at, skip_reason, notified_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (regimen_id, scheduled_at) DO NOTHING
	`, ev.ID, ev.RegimenID, ev.OwnerID, ev.MedicationName, ev.ScheduledAt, ev.Status,
		ev.TakenAt, ev.SkipReason, ev.NotifiedAt, ev.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert dose event: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (repo *PgRepository) GetDoseEventByID(ctx context.Context, id uuid.UUID) (*DoseEvent, error) {
	row := repo.pool.QueryRow(ctx, `
		SELECT `+doseEventColumns+`
		FROM dose_events
		WHERE id = $1
	`, id)
	return scanDoseEvent(row)
}

func (repo *PgRepository) TransitionDoseEvent(ctx context.Context, id uuid.UUID, from DoseStatus, ev *DoseEvent, entry *HistoryEntry) (*DoseEvent, error) {
	tx, err := repo.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE dose_events
		SET status = $2,
		    taken_at = $3,
		    skip_reason = $4
		WHERE id = $1
		  AND status = $5
		RETURNING `+doseEventColumns+`
	`, id, ev.Status, ev.TakenAt, ev.SkipReason, from)

	updated, err := scanDoseEvent(row)
	if err != nil {
		if errors.Is(err, ErrDoseEventNotFound) {
			// Distinguish a missing row from a lost CAS race.
			if _, getErr := repo.GetDoseEventByID(ctx, id); getErr == nil {
				return nil, ErrInvalidTransition
			}
			return nil, ErrDoseEventNotFound
		}
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO history_entries (id, owner_id, regimen_id, dose_event_id, medication_name, dosage,
			resulting_status, was_on_time, transitioned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.OwnerID, entry.RegimenID, entry.DoseEventID, entry.MedicationName, entry.Dosage,
		entry.ResultingStatus, entry.WasOnTime, entry.TransitionedAt)
	if err != nil {
		return nil, fmt.Errorf("append history entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	return updated, nil
}

func (repo *PgRepository) ListDoseEventsByOwner(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]DoseEvent, error) {
	rows, err := repo.pool.Query(ctx, `
		SELECT `+doseEventColumns+`
		FROM dose_events
		WHERE owner_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at <= $3
		ORDER BY scheduled_at
	`, ownerID, from, to)
	if err != nil {
		return nil, err
	}
	return collectDoseEvents(rows)
}

func (repo *PgRepository) ListPendingByOwner(ctx context.Context, ownerID uuid.UUID) ([]DoseEvent, error) {
	rows, err := repo.pool.Query(ctx, `
		SELECT `+doseEventColumns+`
		FROM dose_events
		WHERE owner_id = $1
		  AND status = 'pending'
		ORDER BY scheduled_at
	`, ownerID)
	if err != nil {
		return nil, err
	}
	return collectDoseEvents(rows)
}

func (repo *PgRepository) FindUnnotifiedDue(ctx context.Context, due time.Time) ([]DoseEvent, error) {
	rows, err := repo.pool.Query(ctx, `
		SELECT `+doseEventColumns+`
		FROM dose_events
		WHERE status = 'pending'
		  AND notified_at IS NULL
		  AND scheduled_at <= $1
		ORDER BY scheduled_at
	`, due)
	if err != nil {
		return nil, err
	}
	return collectDoseEvents(rows)
}

func (repo *PgRepository) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	// No-op when notified_at is already set, so re-dispatch attempts stay
	// idempotent.
	tag, err := repo.pool.Exec(ctx, `
		UPDATE dose_events
		SET notified_at = $2
		WHERE id = $1
		  AND notified_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := repo.GetDoseEventByID(ctx, id); getErr != nil {
			return getErr
		}
	}

	return nil
}

func (repo *PgRepository) DeletePendingBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := repo.pool.Exec(ctx, `
		DELETE FROM dose_events
		WHERE status = 'pending'
		  AND scheduled_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale pending dose events: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func (repo *PgRepository) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	_, err := repo.pool.Exec(ctx, `
		INSERT INTO history_entries (id, owner_id, regimen_id, dose_event_id, medication_name, dosage,
			resulting_status, was_on_time, transitioned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.OwnerID, entry.RegimenID, entry.DoseEventID, entry.MedicationName, entry.Dosage,
		entry.ResultingStatus, entry.WasOnTime, entry.TransitionedAt)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}

	return nil
}

func (repo *PgRepository) ListHistoryByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := repo.pool.Query(ctx, `
		SELECT id, owner_id, regimen_id, dose_event_id, medication_name, dosage,
			resulting_status, was_on_time, transitioned_at
		FROM history_entries
		WHERE owner_id = $1
		ORDER BY transitioned_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []HistoryEntry
	for rows.Next() {
		h, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *h)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (repo *PgRepository) PurgeHistoryOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := repo.pool.Exec(ctx, `
		DELETE FROM history_entries
		WHERE transitioned_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge history entries: %w", err)
	}

	return int(tag.RowsAffected()), nil
}
