package regimen

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRegimenNotFound   = errors.New("regimen not found")
	ErrDoseEventNotFound = errors.New("dose event not found")
	ErrInvalidTransition = errors.New("dose event is already in a terminal state")
)

// Repository contains all store interactions needed by the service.
//
// InsertDoseEventIfAbsent and TransitionDoseEvent carry the two correctness
// properties the core depends on: the upsert is atomic per
// (regimen_id, scheduled_at) key, and the transition is a conditional update
// that appends its history entry in the same transaction.
type Repository interface {
	CreateRegimen(ctx context.Context, r *Regimen) error
	UpdateRegimen(ctx context.Context, r *Regimen) error
	GetRegimenByID(ctx context.Context, id uuid.UUID) (*Regimen, error)
	ListRegimensByOwner(ctx context.Context, ownerID uuid.UUID, enabledOnly bool) ([]Regimen, error)
	ListEnabledRegimens(ctx context.Context) ([]Regimen, error)
	SetRegimenEnabled(ctx context.Context, id uuid.UUID, enabled bool, updatedAt time.Time) error

	// Returns true when a new row was created, false when the
	// (regimenID, scheduledAt) pair already existed.
	InsertDoseEventIfAbsent(ctx context.Context, ev *DoseEvent) (bool, error)
	GetDoseEventByID(ctx context.Context, id uuid.UUID) (*DoseEvent, error)
	// Compare-and-swap from `from` to the state carried by `ev`
	// (status, takenAt, skipReason), appending `entry` atomically.
	// Fails with ErrInvalidTransition when the row exists but is not in
	// `from`, and ErrDoseEventNotFound when it does not exist.
	TransitionDoseEvent(ctx context.Context, id uuid.UUID, from DoseStatus, ev *DoseEvent, entry *HistoryEntry) (*DoseEvent, error)

	ListDoseEventsByOwner(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]DoseEvent, error)
	ListPendingByOwner(ctx context.Context, ownerID uuid.UUID) ([]DoseEvent, error)
	FindUnnotifiedDue(ctx context.Context, due time.Time) ([]DoseEvent, error)
	MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error
	DeletePendingBefore(ctx context.Context, cutoff time.Time) (int, error)

	AppendHistory(ctx context.Context, entry *HistoryEntry) error
	ListHistoryByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]HistoryEntry, error)
	PurgeHistoryOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
