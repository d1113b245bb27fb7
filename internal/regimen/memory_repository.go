package regimen

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded in-process implementation of Repository.
// It backs the test suite and lets embedders run the core without Postgres.
type MemoryRepository struct {
	mu        sync.RWMutex
	regimens  map[uuid.UUID]Regimen
	doses     map[uuid.UUID]DoseEvent
	doseByKey map[doseKey]uuid.UUID
	history   []HistoryEntry
}

type doseKey struct {
	regimenID   uuid.UUID
	scheduledAt int64 // unix nanos
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		regimens:  make(map[uuid.UUID]Regimen),
		doses:     make(map[uuid.UUID]DoseEvent),
		doseByKey: make(map[doseKey]uuid.UUID),
	}
}

func keyFor(ev *DoseEvent) doseKey {
	return doseKey{regimenID: ev.RegimenID, scheduledAt: ev.ScheduledAt.UnixNano()}
}

func (m *MemoryRepository) CreateRegimen(ctx context.Context, r *Regimen) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == uuid.Nil {
		return errors.New("regimen id required")
	}
	if _, exists := m.regimens[r.ID]; exists {
		return fmt.Errorf("regimen %s already exists", r.ID)
	}

	m.regimens[r.ID] = *r
	return nil
}

func (m *MemoryRepository) UpdateRegimen(ctx context.Context, r *Regimen) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.regimens[r.ID]; !exists {
		return ErrRegimenNotFound
	}

	m.regimens[r.ID] = *r
	return nil
}

func (m *MemoryRepository) GetRegimenByID(ctx context.Context, id uuid.UUID) (*Regimen, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.regimens[id]
	if !ok {
		return nil, ErrRegimenNotFound
	}
	return &r, nil
}

func (m *MemoryRepository) ListRegimensByOwner(ctx context.Context, ownerID uuid.UUID, enabledOnly bool) ([]Regimen, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Regimen, 0)
	for _, r := range m.regimens {
		if r.OwnerID != ownerID {
			continue
		}
		if enabledOnly && !r.Enabled {
			continue
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return out, nil
}

func (m *MemoryRepository) ListEnabledRegimens(ctx context.Context) ([]Regimen, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Regimen, 0)
	for _, r := range m.regimens {
		if r.Enabled {
			out = append(out, r)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

func (m *MemoryRepository) SetRegimenEnabled(ctx context.Context, id uuid.UUID, enabled bool, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regimens[id]
	if !ok {
		return ErrRegimenNotFound
	}

	r.Enabled = enabled
	r.UpdatedAt = updatedAt
	m.regimens[id] = r
	return nil
}

func (m *MemoryRepository) InsertDoseEventIfAbsent(ctx context.Context, ev *DoseEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyFor(ev)
	if _, exists := m.doseByKey[key]; exists {
		return false, nil
	}

	m.doses[ev.ID] = *ev
	m.doseByKey[key] = ev.ID
	return true, nil
}

func (m *MemoryRepository) GetDoseEventByID(ctx context.Context, id uuid.UUID) (*DoseEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.doses[id]
	if !ok {
		return nil, ErrDoseEventNotFound
	}
	return &ev, nil
}

func (m *MemoryRepository) TransitionDoseEvent(ctx context.Context, id uuid.UUID, from DoseStatus, ev *DoseEvent, entry *HistoryEntry) (*DoseEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.doses[id]
	if !ok {
		return nil, ErrDoseEventNotFound
	}
	if cur.Status != from {
		return nil, ErrInvalidTransition
	}

	cur.Status = ev.Status
	cur.TakenAt = ev.TakenAt
	cur.SkipReason = ev.SkipReason
	m.doses[id] = cur
	m.history = append(m.history, *entry)

	return &cur, nil
}

func (m *MemoryRepository) ListDoseEventsByOwner(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]DoseEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DoseEvent, 0)
	for _, ev := range m.doses {
		if ev.OwnerID != ownerID {
			continue
		}
		if ev.ScheduledAt.Before(from) || ev.ScheduledAt.After(to) {
			continue
		}
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})

	return out, nil
}

func (m *MemoryRepository) ListPendingByOwner(ctx context.Context, ownerID uuid.UUID) ([]DoseEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DoseEvent, 0)
	for _, ev := range m.doses {
		if ev.OwnerID != ownerID || ev.Status != DosePending {
			continue
		}
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})

	return out, nil
}

func (m *MemoryRepository) FindUnnotifiedDue(ctx context.Context, due time.Time) ([]DoseEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DoseEvent, 0)
	for _, ev := range m.doses {
		if ev.Status != DosePending || ev.NotifiedAt != nil {
			continue
		}
		if ev.ScheduledAt.After(due) {
			continue
		}
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})

	return out, nil
}

func (m *MemoryRepository) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.doses[id]
	if !ok {
		return ErrDoseEventNotFound
	}
	if ev.NotifiedAt != nil {
		return nil
	}

	ev.NotifiedAt = &at
	m.doses[id] = ev
	return nil
}

func (m *MemoryRepository) DeletePendingBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for id, ev := range m.doses {
		if ev.Status != DosePending || !ev.ScheduledAt.Before(cutoff) {
			continue
		}
		delete(m.doses, id)
		delete(m.doseByKey, keyFor(&ev))
		purged++
	}

	return purged, nil
}

func (m *MemoryRepository) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, *entry)
	return nil
}

func (m *MemoryRepository) ListHistoryByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	out := make([]HistoryEntry, 0)
	for _, h := range m.history {
		if h.OwnerID == ownerID {
			out = append(out, h)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].TransitionedAt.After(out[j].TransitionedAt)
	})

	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (m *MemoryRepository) PurgeHistoryOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.history[:0]
	purged := 0
	for _, h := range m.history {
		if h.TransitionedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, h)
	}
	m.history = kept

	return purged, nil
}
