package regimen

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pharmatech/medication-adherence/internal/catalog"
	"github.com/pharmatech/medication-adherence/internal/config"
	redisclient "github.com/pharmatech/medication-adherence/internal/redis"
)

var (
	ErrInvalidRegimen    = errors.New("invalid regimen")
	ErrUnknownMedication = errors.New("medication not found in catalog")
	ErrRegimenBusy       = errors.New("regimen is being materialized, please retry")
)

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	catalog catalog.Provider
	cfg     config.Config
	log     zerolog.Logger

	now func() time.Time // injectable clock
}

func NewService(repo Repository, locker redisclient.Locker, cat catalog.Provider, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		locker:  locker,
		catalog: cat,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

type CreateRegimenInput struct {
	OwnerID        uuid.UUID
	MedicationName string
	CatalogID      *uuid.UUID
	Dosage         string
	Frequency      Frequency
	IntervalHours  int
	TimeSlots      []string
	ActiveFrom     time.Time
	ActiveUntil    *time.Time
	Instructions   *string
	Color          string
}

// CreateRegimen validates and persists a new medication course, then eagerly
// materializes dose events for the default horizon.
func (s *Service) CreateRegimen(ctx context.Context, in CreateRegimenInput) (*Regimen, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	name, err := s.resolveMedicationName(ctx, in)
	if err != nil {
		return nil, err
	}

	color := in.Color
	if color == "" {
		color = DefaultColor
	}

	now := s.now()
	r := &Regimen{
		ID:             uuid.New(),
		OwnerID:        in.OwnerID,
		MedicationName: name,
		CatalogID:      in.CatalogID,
		Dosage:         in.Dosage,
		Frequency:      in.Frequency,
		IntervalHours:  in.IntervalHours,
		TimeSlots:      in.TimeSlots,
		ActiveFrom:     startOfDay(in.ActiveFrom),
		ActiveUntil:    in.ActiveUntil,
		Instructions:   in.Instructions,
		Color:          color,
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if r.ActiveUntil != nil {
		until := startOfDay(*r.ActiveUntil)
		r.ActiveUntil = &until
	}

	if err := s.repo.CreateRegimen(ctx, r); err != nil {
		return nil, fmt.Errorf("create regimen: %w", err)
	}

	if _, err := s.Materialize(ctx, r.ID, s.cfg.HorizonDays); err != nil {
		return nil, fmt.Errorf("materialize new regimen: %w", err)
	}

	return r, nil
}

// resolveMedicationName verifies an optional catalog reference and falls
// back to the catalog name when the input carries none.
func (s *Service) resolveMedicationName(ctx context.Context, in CreateRegimenInput) (string, error) {
	name := in.MedicationName
	if in.CatalogID != nil && s.catalog != nil {
		med, err := s.catalog.Lookup(ctx, *in.CatalogID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return "", fmt.Errorf("%w: %s", ErrUnknownMedication, *in.CatalogID)
			}
			return "", fmt.Errorf("catalog lookup: %w", err)
		}
		if name == "" {
			name = med.Name
		}
	}
	return name, nil
}

func (s *Service) validateInput(in CreateRegimenInput) error {
	if in.OwnerID == uuid.Nil {
		return fmt.Errorf("%w: owner id required", ErrInvalidRegimen)
	}
	if in.MedicationName == "" && in.CatalogID == nil {
		return fmt.Errorf("%w: medication name or catalog id required", ErrInvalidRegimen)
	}
	if !in.Frequency.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRegimen, in.Frequency)
	}
	if in.Frequency == FreqEveryNHours && in.IntervalHours < 1 {
		return fmt.Errorf("%w: every_n_hours requires an interval of at least 1 hour", ErrInvalidRegimen)
	}
	if len(in.TimeSlots) == 0 {
		return fmt.Errorf("%w: at least one time slot required", ErrInvalidRegimen)
	}
	seen := make(map[string]bool, len(in.TimeSlots))
	for _, slot := range in.TimeSlots {
		if seen[slot] {
			return fmt.Errorf("%w: duplicate time slot %q", ErrInvalidRegimen, slot)
		}
		seen[slot] = true
	}
	if in.ActiveFrom.IsZero() {
		return fmt.Errorf("%w: active_from required", ErrInvalidRegimen)
	}
	if in.ActiveUntil != nil && startOfDay(*in.ActiveUntil).Before(startOfDay(in.ActiveFrom)) {
		return fmt.Errorf("%w: active_until precedes active_from", ErrInvalidRegimen)
	}
	return nil
}

// UpdateRegimen replaces the mutable fields of an existing regimen and
// re-extends the dose-event horizon so changed slots materialize right away.
// Already-created dose events are never rewritten; the owner never changes.
func (s *Service) UpdateRegimen(ctx context.Context, id uuid.UUID, in CreateRegimenInput) (*Regimen, error) {
	r, err := s.repo.GetRegimenByID(ctx, id)
	if err != nil {
		return nil, err
	}

	in.OwnerID = r.OwnerID
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	name, err := s.resolveMedicationName(ctx, in)
	if err != nil {
		return nil, err
	}

	r.MedicationName = name
	r.CatalogID = in.CatalogID
	r.Dosage = in.Dosage
	r.Frequency = in.Frequency
	r.IntervalHours = in.IntervalHours
	r.TimeSlots = in.TimeSlots
	r.ActiveFrom = startOfDay(in.ActiveFrom)
	r.ActiveUntil = in.ActiveUntil
	if r.ActiveUntil != nil {
		until := startOfDay(*r.ActiveUntil)
		r.ActiveUntil = &until
	}
	r.Instructions = in.Instructions
	if in.Color != "" {
		r.Color = in.Color
	}
	r.UpdatedAt = s.now()

	if err := s.repo.UpdateRegimen(ctx, r); err != nil {
		return nil, fmt.Errorf("update regimen: %w", err)
	}

	if r.Enabled {
		if _, err := s.Materialize(ctx, r.ID, s.cfg.HorizonDays); err != nil && !errors.Is(err, ErrRegimenBusy) {
			return nil, fmt.Errorf("materialize updated regimen: %w", err)
		}
	}

	return r, nil
}

func (s *Service) GetRegimen(ctx context.Context, id uuid.UUID) (*Regimen, error) {
	return s.repo.GetRegimenByID(ctx, id)
}

func (s *Service) ListRegimens(ctx context.Context, ownerID uuid.UUID, enabledOnly bool) ([]Regimen, error) {
	return s.repo.ListRegimensByOwner(ctx, ownerID, enabledOnly)
}

// DisableRegimen soft-disables a regimen: no future materialization, existing
// dose events and history are preserved.
func (s *Service) DisableRegimen(ctx context.Context, id uuid.UUID) error {
	return s.repo.SetRegimenEnabled(ctx, id, false, s.now())
}

// Materialize expands a regimen into concrete dose events over the horizon.
// Safe to call repeatedly: the per-key upsert leaves existing events, and any
// user-recorded state on them, untouched.
func (s *Service) Materialize(ctx context.Context, regimenID uuid.UUID, horizonDays int) (MaterializationResult, error) {
	var result MaterializationResult

	if horizonDays <= 0 {
		horizonDays = s.cfg.HorizonDays
	}

	r, err := s.repo.GetRegimenByID(ctx, regimenID)
	if err != nil {
		return result, err
	}

	if !r.Enabled {
		return result, nil
	}
	// As-needed courses have no fixed schedule to expand.
	if r.Frequency == FreqAsNeeded {
		return result, nil
	}

	today := startOfDay(s.now())

	start := today
	if from := startOfDay(r.ActiveFrom); from.After(start) {
		start = from
	}
	end := today.AddDate(0, 0, horizonDays-1)
	if r.ActiveUntil != nil {
		if until := startOfDay(*r.ActiveUntil); until.Before(end) {
			end = until
		}
	}
	if start.After(end) {
		return result, nil
	}

	err = s.locker.WithRegimenLock(ctx, r.ID, func(lockCtx context.Context) error {
		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			for _, slot := range r.TimeSlots {
				at, resolveErr := ResolveSlot(slot, day)
				if resolveErr != nil {
					// Best effort: fall back to the default anchor
					// rather than lose the dose.
					s.log.Warn().
						Str("regimen_id", r.ID.String()).
						Str("slot", slot).
						Err(resolveErr).
						Msg("slot resolution fell back to default")
				}

				ev := &DoseEvent{
					ID:             uuid.New(),
					RegimenID:      r.ID,
					OwnerID:        r.OwnerID,
					MedicationName: r.MedicationName,
					ScheduledAt:    at,
					Status:         DosePending,
					CreatedAt:      s.now(),
				}

				created, insertErr := s.repo.InsertDoseEventIfAbsent(lockCtx, ev)
				if insertErr != nil {
					return fmt.Errorf("insert dose event: %w", insertErr)
				}
				if created {
					result.Created++
				} else {
					result.Skipped++
				}
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return MaterializationResult{}, ErrRegimenBusy
		}
		return MaterializationResult{}, err
	}

	return result, nil
}

// MaterializeAll extends the horizon for every enabled regimen. Intended for
// the periodic worker; per-regimen failures are logged and do not stop the
// pass.
func (s *Service) MaterializeAll(ctx context.Context, horizonDays int) (MaterializationResult, error) {
	var total MaterializationResult

	regimens, err := s.repo.ListEnabledRegimens(ctx)
	if err != nil {
		return total, fmt.Errorf("list enabled regimens: %w", err)
	}

	for _, r := range regimens {
		res, err := s.Materialize(ctx, r.ID, horizonDays)
		if err != nil {
			if errors.Is(err, ErrRegimenBusy) {
				// Another trigger holds the lock; it will do the work.
				continue
			}
			s.log.Error().
				Str("regimen_id", r.ID.String()).
				Err(err).
				Msg("materialization failed for regimen")
			continue
		}
		total.Created += res.Created
		total.Skipped += res.Skipped
	}

	return total, nil
}

// MarkTaken transitions a pending dose event to taken and records whether it
// was taken on time. Terminal events fail with ErrInvalidTransition.
func (s *Service) MarkTaken(ctx context.Context, id uuid.UUID, takenAt time.Time) (*DoseEvent, error) {
	if takenAt.IsZero() {
		takenAt = s.now()
	}

	ev, err := s.repo.GetDoseEventByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Status.IsTerminal() {
		return nil, ErrInvalidTransition
	}

	wasOnTime := absDuration(takenAt.Sub(ev.ScheduledAt)) <= s.cfg.OnTimeThreshold

	updated := *ev
	updated.Status = DoseTaken
	updated.TakenAt = &takenAt

	entry := &HistoryEntry{
		ID:              uuid.New(),
		OwnerID:         ev.OwnerID,
		RegimenID:       ev.RegimenID,
		DoseEventID:     ev.ID,
		MedicationName:  ev.MedicationName,
		Dosage:          s.dosageFor(ctx, ev.RegimenID),
		ResultingStatus: DoseTaken,
		WasOnTime:       wasOnTime,
		TransitionedAt:  takenAt,
	}

	return s.repo.TransitionDoseEvent(ctx, id, DosePending, &updated, entry)
}

// MarkSkipped transitions a pending dose event to skipped with an optional
// reason.
func (s *Service) MarkSkipped(ctx context.Context, id uuid.UUID, reason *string) (*DoseEvent, error) {
	ev, err := s.repo.GetDoseEventByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Status.IsTerminal() {
		return nil, ErrInvalidTransition
	}

	updated := *ev
	updated.Status = DoseSkipped
	updated.SkipReason = reason

	entry := &HistoryEntry{
		ID:              uuid.New(),
		OwnerID:         ev.OwnerID,
		RegimenID:       ev.RegimenID,
		DoseEventID:     ev.ID,
		MedicationName:  ev.MedicationName,
		Dosage:          s.dosageFor(ctx, ev.RegimenID),
		ResultingStatus: DoseSkipped,
		WasOnTime:       false,
		TransitionedAt:  s.now(),
	}

	return s.repo.TransitionDoseEvent(ctx, id, DosePending, &updated, entry)
}

func (s *Service) dosageFor(ctx context.Context, regimenID uuid.UUID) string {
	r, err := s.repo.GetRegimenByID(ctx, regimenID)
	if err != nil {
		s.log.Warn().
			Str("regimen_id", regimenID.String()).
			Err(err).
			Msg("could not load regimen for history dosage")
		return ""
	}
	return r.Dosage
}

// ComputeAdherence aggregates the owner's dose events scheduled within the
// trailing window. A past-due pending event counts as a miss; events
// scheduled in the future are never counted. An empty window reports full
// adherence rather than a misleading zero.
func (s *Service) ComputeAdherence(ctx context.Context, ownerID uuid.UUID, windowDays int) (*AdherenceReport, error) {
	if windowDays <= 0 {
		windowDays = 7
	}

	now := s.now()
	from := now.AddDate(0, 0, -windowDays)

	events, err := s.repo.ListDoseEventsByOwner(ctx, ownerID, from, now)
	if err != nil {
		return nil, fmt.Errorf("list dose events: %w", err)
	}

	report := &AdherenceReport{WindowDays: windowDays}

	if len(events) == 0 {
		report.Rate = 100.0
		return report, nil
	}

	perDay := make(map[string]*DayAdherence)
	perMed := make(map[string]*MedicationAdherence)

	for _, ev := range events {
		report.TotalCount++
		switch ev.Status {
		case DoseTaken:
			report.TakenCount++
		case DoseSkipped:
			report.SkippedCount++
		default:
			report.MissedCount++
		}

		day := ev.ScheduledAt.Format("2006-01-02")
		d, ok := perDay[day]
		if !ok {
			d = &DayAdherence{Date: day}
			perDay[day] = d
		}
		d.TotalCount++

		med, ok := perMed[ev.MedicationName]
		if !ok {
			med = &MedicationAdherence{MedicationName: ev.MedicationName}
			perMed[ev.MedicationName] = med
		}
		med.TotalCount++

		if ev.Status == DoseTaken {
			d.TakenCount++
			med.TakenCount++
		}
	}

	report.Rate = 100 * float64(report.TakenCount) / float64(report.TotalCount)

	for _, d := range perDay {
		report.PerDay = append(report.PerDay, *d)
	}
	sort.Slice(report.PerDay, func(i, j int) bool {
		return report.PerDay[i].Date < report.PerDay[j].Date
	})

	for _, med := range perMed {
		med.Rate = 100 * float64(med.TakenCount) / float64(med.TotalCount)
		report.PerMedication = append(report.PerMedication, *med)
	}
	sort.Slice(report.PerMedication, func(i, j int) bool {
		return report.PerMedication[i].MedicationName < report.PerMedication[j].MedicationName
	})

	return report, nil
}

// TodayDoseEvents returns the owner's dose events scheduled on the current
// calendar day, in schedule order.
func (s *Service) TodayDoseEvents(ctx context.Context, ownerID uuid.UUID) ([]DoseEvent, error) {
	day := startOfDay(s.now())
	return s.repo.ListDoseEventsByOwner(ctx, ownerID, day, day.AddDate(0, 0, 1).Add(-time.Nanosecond))
}

func (s *Service) PendingDoseEvents(ctx context.Context, ownerID uuid.UUID) ([]DoseEvent, error) {
	return s.repo.ListPendingByOwner(ctx, ownerID)
}

func (s *Service) ListHistory(ctx context.Context, ownerID uuid.UUID, limit int) ([]HistoryEntry, error) {
	return s.repo.ListHistoryByOwner(ctx, ownerID, limit)
}

// FindUnnotifiedDue returns pending dose events scheduled within the next
// `within` (or already past) that have not been handed to the notification
// dispatcher yet.
func (s *Service) FindUnnotifiedDue(ctx context.Context, within time.Duration) ([]DoseEvent, error) {
	return s.repo.FindUnnotifiedDue(ctx, s.now().Add(within))
}

// MarkNotified records that a reminder was dispatched for the dose event.
// Idempotent: a second call for the same event is a no-op.
func (s *Service) MarkNotified(ctx context.Context, id uuid.UUID) error {
	return s.repo.MarkNotified(ctx, id, s.now())
}

// PurgeHistoryOlderThan drops history entries past the retention horizon and
// returns the purged count. Retention housekeeping only; adherence reads are
// bounded by a much shorter window.
func (s *Service) PurgeHistoryOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return s.repo.PurgeHistoryOlderThan(ctx, cutoff)
}

// PurgeStalePending drops pending dose events whose scheduled time is older
// than the cutoff. Taken and skipped events are kept for history views.
func (s *Service) PurgeStalePending(ctx context.Context, cutoff time.Time) (int, error) {
	return s.repo.DeletePendingBefore(ctx, cutoff)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
