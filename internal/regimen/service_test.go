package regimen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pharmatech/medication-adherence/internal/config"
	redisclient "github.com/pharmatech/medication-adherence/internal/redis"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func newTestService(repo *MemoryRepository) *Service {
	cfg := config.Config{
		HorizonDays:     7,
		OnTimeThreshold: 30 * time.Minute,
	}
	svc := NewService(repo, redisclient.PassthroughLocker{}, nil, cfg, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return svc
}

func validInput(owner uuid.UUID) CreateRegimenInput {
	return CreateRegimenInput{
		OwnerID:        owner,
		MedicationName: "Metformin",
		Dosage:         "850 mg",
		Frequency:      FreqTwiceDaily,
		TimeSlots:      []string{"08:00", "20:00"},
		ActiveFrom:     testNow,
	}
}

func insertDose(t *testing.T, repo *MemoryRepository, owner, regimenID uuid.UUID, at time.Time, status DoseStatus) uuid.UUID {
	t.Helper()

	ev := &DoseEvent{
		ID:             uuid.New(),
		RegimenID:      regimenID,
		OwnerID:        owner,
		MedicationName: "Metformin",
		ScheduledAt:    at,
		Status:         status,
		CreatedAt:      testNow,
	}
	created, err := repo.InsertDoseEventIfAbsent(context.Background(), ev)
	if err != nil {
		t.Fatalf("insert dose event: %v", err)
	}
	if !created {
		t.Fatalf("dose event at %s already existed", at)
	}
	return ev.ID
}

// -------------------------
// Regimen creation
// -------------------------

func TestCreateRegimen_Validation(t *testing.T) {
	svc := newTestService(NewMemoryRepository())
	owner := uuid.New()

	cases := []struct {
		name   string
		mutate func(*CreateRegimenInput)
	}{
		{"missing owner", func(in *CreateRegimenInput) { in.OwnerID = uuid.Nil }},
		{"missing medication", func(in *CreateRegimenInput) { in.MedicationName = "" }},
		{"unknown frequency", func(in *CreateRegimenInput) { in.Frequency = "hourly" }},
		{"no slots", func(in *CreateRegimenInput) { in.TimeSlots = nil }},
		{"duplicate slots", func(in *CreateRegimenInput) { in.TimeSlots = []string{"08:00", "08:00"} }},
		{"missing active_from", func(in *CreateRegimenInput) { in.ActiveFrom = time.Time{} }},
		{"until before from", func(in *CreateRegimenInput) {
			until := testNow.AddDate(0, 0, -1)
			in.ActiveUntil = &until
		}},
		{"every_n_hours without interval", func(in *CreateRegimenInput) {
			in.Frequency = FreqEveryNHours
			in.IntervalHours = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput(owner)
			tc.mutate(&in)

			_, err := svc.CreateRegimen(context.Background(), in)
			if !errors.Is(err, ErrInvalidRegimen) {
				t.Fatalf("expected ErrInvalidRegimen, got %v", err)
			}
		})
	}
}

func TestCreateRegimen_EagerlyMaterializesHorizon(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	owner := uuid.New()

	r, err := svc.CreateRegimen(context.Background(), validInput(owner))
	if err != nil {
		t.Fatalf("CreateRegimen error: %v", err)
	}
	if !r.Enabled {
		t.Fatal("expected new regimen to be enabled")
	}

	events, err := repo.ListDoseEventsByOwner(context.Background(), owner, testNow.AddDate(0, 0, -1), testNow.AddDate(0, 0, 8))
	if err != nil {
		t.Fatalf("list dose events: %v", err)
	}

	// 2 slots x 7 days
	if len(events) != 14 {
		t.Fatalf("expected 14 dose events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.Status != DosePending {
			t.Fatalf("expected pending status, got %s", ev.Status)
		}
	}
}

func TestUpdateRegimen_MaterializesNewSlots(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	owner := uuid.New()

	r, err := svc.CreateRegimen(context.Background(), validInput(owner))
	if err != nil {
		t.Fatalf("CreateRegimen error: %v", err)
	}

	in := validInput(owner)
	in.TimeSlots = []string{"08:00", "14:00", "20:00"}
	in.Frequency = FreqThreeTimesDaily

	updated, err := svc.UpdateRegimen(context.Background(), r.ID, in)
	if err != nil {
		t.Fatalf("UpdateRegimen error: %v", err)
	}
	if len(updated.TimeSlots) != 3 {
		t.Fatalf("expected 3 slots after update, got %d", len(updated.TimeSlots))
	}
	if updated.OwnerID != owner {
		t.Fatal("owner must not change on update")
	}

	// 14 original events plus the new 14:00 slot for each of 7 days.
	events, _ := repo.ListDoseEventsByOwner(context.Background(), owner, testNow.AddDate(0, 0, -1), testNow.AddDate(0, 0, 8))
	if len(events) != 21 {
		t.Fatalf("expected 21 dose events after update, got %d", len(events))
	}
}

func TestUpdateRegimen_NotFound(t *testing.T) {
	svc := newTestService(NewMemoryRepository())

	_, err := svc.UpdateRegimen(context.Background(), uuid.New(), validInput(uuid.New()))
	if !errors.Is(err, ErrRegimenNotFound) {
		t.Fatalf("expected ErrRegimenNotFound, got %v", err)
	}
}

// -------------------------
// Materialization
// -------------------------

func TestMaterialize_Idempotent(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	owner := uuid.New()

	r, err := svc.CreateRegimen(context.Background(), validInput(owner))
	if err != nil {
		t.Fatalf("CreateRegimen error: %v", err)
	}

	res, err := svc.Materialize(context.Background(), r.ID, 7)
	if err != nil {
		t.Fatalf("Materialize error: %v", err)
	}
	if res.Created != 0 {
		t.Fatalf("second materialization created %d events, expected 0", res.Created)
	}
	if res.Skipped != 14 {
		t.Fatalf("second materialization skipped %d events, expected 14", res.Skipped)
	}

	events, _ := repo.ListDoseEventsByOwner(context.Background(), owner, testNow.AddDate(0, 0, -1), testNow.AddDate(0, 0, 8))
	if len(events) != 14 {
		t.Fatalf("expected 14 dose events after repeat, got %d", len(events))
	}
}

func TestMaterialize_RespectsActiveUntil(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	owner := uuid.New()

	in := validInput(owner)
	until := testNow.AddDate(0, 0, 2)
	in.ActiveUntil = &until

	r, err := svc.CreateRegimen(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateRegimen error: %v", err)
	}

	events, _ := repo.ListDoseEventsByOwner(context.Background(), owner, testNow.AddDate(0, 0, -1), testNow.AddDate(0, 0, 10))

	// 2 slots x 3 days (today, +1, +2), nothing beyond active_until
	if len(events) != 6 {
		t.Fatalf("expected 6 dose events, got %d", len(events))
	}
	lastDay := startOfDay(until)
	for _, ev := range events {
		if ev.ScheduledAt.After(lastDay.AddDate(0, 0, 1)) {
			t.Fatalf("dose event %s scheduled beyond active_until", ev.ScheduledAt)
		}
	}

	res, err := svc.Materialize(context.Background(), r.ID, 7)
	if err != nil {
		t.Fatalf("Materialize error: %v", err)
	}
	if res.Created != 0 || res.Skipped != 6 {
		t.Fatalf("expected {0, 6}, got {%d, %d}", res.Created, res.Skipped)
	}
}

func TestMaterialize_FutureActiveFrom(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	owner := uuid.New()

	in := validInput(owner)
	in.ActiveFrom = testNow.AddDate(0, 0, 10) // beyond the horizon

	_, err := svc.CreateRegimen(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateRegimen error: %v", err)
	}

	events, _ := repo.ListDoseEventsByOwner(context.Background(), owner, testNow.AddDate(0, 0, -1), testNow.AddDate(0, 0, 30))
	if len(events) != 0 {
		t.Fatalf("expected no dose events before active_from, got %d", len(events))
	}
}

func TestMaterialize_DisabledRegimen(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	owner := uuid.New()

	r, err := svc.CreateRegimen(context.Background(), validInput(owner))
	if err != nil {
		t.Fatalf("CreateRegimen error: %v", err)
	}
	if err := svc.DisableRegimen(context.Background(), r.ID); err != nil {
		t.Fatalf("DisableRegimen error: %v", err)
	}

	res, err := svc.Materialize(context.Background(), r.ID, 14)
	if err != nil {
		t.Fatalf("Materialize error: %v", err)
	}
	if res.Created != 0 || res.Skipped != 0 {
		t.Fatalf("disabled regimen materialized {%d, %d}, expected {0, 0}", res.Created, res.Skipped)
	}
}

func TestMaterialize_AsNeeded(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	owner := uuid.New()

	in := validInput(owner)
	in.Frequency = FreqAsNeeded
	in.TimeSlots = []string{"morning"}

	_, err := svc.CreateRegimen(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateRegimen error: %v", err)
	}

	events, _ := repo.ListDoseEventsByOwner(context.Background(), owner, testNow.AddDate(0, 0, -1), testNow.AddDate(0, 0, 8))
	if len(events) != 0 {
		t.Fatalf("as-needed regimen materialized %d events, expected 0", len(events))
	}
}

func TestMaterialize_BadSlotFallsBackToDefault(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	owner := uuid.New()

	in := validInput(owner)
	in.Frequency = FreqOnceDaily
	in.TimeSlots = []string{"brunch"}
	until := testNow
	in.ActiveUntil = &until

	_, err := svc.CreateRegimen(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateRegimen error: %v", err)
	}

	events, _ := repo.ListDoseEventsByOwner(context.Background(), owner, testNow.AddDate(0, 0, -1), testNow.AddDate(0, 0, 1))
	if len(events) != 1 {
		t.Fatalf("expected 1 dose event, got %d", len(events))
	}
	if events[0].ScheduledAt.Hour() != 9 {
		t.Fatalf("expected 09:00 fallback, got %s", events[0].ScheduledAt)
	}
}

// -------------------------
// Lifecycle transitions
// -------------------------

func TestMarkTaken_OnTimeBoundary(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	owner := uuid.New()
	regimenID := uuid.New()

	scheduled := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

	onTimeID := insertDose(t, repo, owner, regimenID, scheduled, DosePending)
	lateID := insertDose(t, repo, owner, regimenID, scheduled.Add(time.Minute), DosePending)

	// Exactly at the threshold counts as on time.
	ev, err := svc.MarkTaken(context.Background(), onTimeID, scheduled.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("MarkTaken error: %v", err)
	}
	if ev.Status != DoseTaken || ev.TakenAt == nil {
		t.Fatalf("expected taken with takenAt set, got %+v", ev)
	}

	// One minute past the threshold does not.
	if _, err := svc.MarkTaken(context.Background(), lateID, scheduled.Add(time.Minute).Add(31*time.Minute)); err != nil {
		t.Fatalf("MarkTaken error: %v", err)
	}

	entries, err := repo.ListHistoryByOwner(context.Background(), owner, 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(entries))
	}

	for _, h := range entries {
		switch h.DoseEventID {
		case onTimeID:
			if !h.WasOnTime {
				t.Fatal("dose taken at scheduled+30m should be on time")
			}
		case lateID:
			if h.WasOnTime {
				t.Fatal("dose taken at scheduled+31m should not be on time")
			}
		default:
			t.Fatalf("unexpected history entry for %s", h.DoseEventID)
		}
	}
}

func TestMarkTaken_ConfiguredThreshold(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	svc.cfg.OnTimeThreshold = 2 * time.Hour

	owner := uuid.New()
	scheduled := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	id := insertDose(t, repo, owner, uuid.New(), scheduled, DosePending)

	if _, err := svc.MarkTaken(context.Background(), id, scheduled.Add(90*time.Minute)); err != nil {
		t.Fatalf("MarkTaken error: %v", err)
	}

	entries, _ := repo.ListHistoryByOwner(context.Background(), owner, 1)
	if len(entries) != 1 || !entries[0].WasOnTime {
		t.Fatal("90 minutes late should count as on time under a 2h threshold")
	}
}

func TestMarkTaken_TerminalStateIsImmutable(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	owner := uuid.New()

	id := insertDose(t, repo, owner, uuid.New(), testNow, DosePending)

	takenAt := testNow.Add(5 * time.Minute)
	if _, err := svc.MarkTaken(context.Background(), id, takenAt); err != nil {
		t.Fatalf("MarkTaken error: %v", err)
	}

	if _, err := svc.MarkTaken(context.Background(), id, testNow.Add(time.Hour)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second take, got %v", err)
	}
	if _, err := svc.MarkSkipped(context.Background(), id, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on skip after take, got %v", err)
	}

	ev, err := repo.GetDoseEventByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get dose event: %v", err)
	}
	if ev.Status != DoseTaken {
		t.Fatalf("status changed to %s", ev.Status)
	}
	if ev.TakenAt == nil || !ev.TakenAt.Equal(takenAt) {
		t.Fatalf("takenAt changed: %v", ev.TakenAt)
	}
}

func TestMarkSkipped_RecordsReason(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	owner := uuid.New()

	id := insertDose(t, repo, owner, uuid.New(), testNow, DosePending)

	reason := "felt nauseous"
	ev, err := svc.MarkSkipped(context.Background(), id, &reason)
	if err != nil {
		t.Fatalf("MarkSkipped error: %v", err)
	}
	if ev.Status != DoseSkipped {
		t.Fatalf("expected skipped, got %s", ev.Status)
	}
	if ev.SkipReason == nil || *ev.SkipReason != reason {
		t.Fatalf("skip reason not recorded: %v", ev.SkipReason)
	}

	entries, _ := repo.ListHistoryByOwner(context.Background(), owner, 10)
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}
	if entries[0].ResultingStatus != DoseSkipped || entries[0].WasOnTime {
		t.Fatalf("unexpected history entry: %+v", entries[0])
	}
}

func TestMarkTaken_NotFound(t *testing.T) {
	svc := newTestService(NewMemoryRepository())

	if _, err := svc.MarkTaken(context.Background(), uuid.New(), testNow); !errors.Is(err, ErrDoseEventNotFound) {
		t.Fatalf("expected ErrDoseEventNotFound, got %v", err)
	}
}

// -------------------------
// Adherence
// -------------------------

func TestComputeAdherence_VacuousWindow(t *testing.T) {
	svc := newTestService(NewMemoryRepository())

	report, err := svc.ComputeAdherence(context.Background(), uuid.New(), 7)
	if err != nil {
		t.Fatalf("ComputeAdherence error: %v", err)
	}
	if report.Rate != 100.0 {
		t.Fatalf("expected vacuous rate 100.0, got %f", report.Rate)
	}
	if report.TotalCount != 0 {
		t.Fatalf("expected totalCount 0, got %d", report.TotalCount)
	}
}

func TestComputeAdherence_ExactCounts(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	owner := uuid.New()
	regimenID := uuid.New()

	base := testNow.AddDate(0, 0, -3)

	// 7 taken, 2 skipped, 1 pending past due.
	for i := 0; i < 7; i++ {
		id := insertDose(t, repo, owner, regimenID, base.Add(time.Duration(i)*time.Hour), DosePending)
		if _, err := svc.MarkTaken(context.Background(), id, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("MarkTaken error: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		id := insertDose(t, repo, owner, regimenID, base.Add(time.Duration(10+i)*time.Hour), DosePending)
		if _, err := svc.MarkSkipped(context.Background(), id, nil); err != nil {
			t.Fatalf("MarkSkipped error: %v", err)
		}
	}
	insertDose(t, repo, owner, regimenID, testNow.Add(-2*time.Hour), DosePending)

	// A future pending dose must stay out of the denominator.
	insertDose(t, repo, owner, regimenID, testNow.Add(2*time.Hour), DosePending)

	report, err := svc.ComputeAdherence(context.Background(), owner, 7)
	if err != nil {
		t.Fatalf("ComputeAdherence error: %v", err)
	}

	if report.TotalCount != 10 {
		t.Fatalf("expected totalCount 10, got %d", report.TotalCount)
	}
	if report.TakenCount != 7 {
		t.Fatalf("expected takenCount 7, got %d", report.TakenCount)
	}
	if report.SkippedCount != 2 || report.MissedCount != 1 {
		t.Fatalf("expected 2 skipped / 1 missed, got %d / %d", report.SkippedCount, report.MissedCount)
	}
	if report.Rate != 70.0 {
		t.Fatalf("expected rate 70.0, got %f", report.Rate)
	}

	if len(report.PerMedication) != 1 {
		t.Fatalf("expected 1 medication breakdown, got %d", len(report.PerMedication))
	}
	med := report.PerMedication[0]
	if med.TakenCount != 7 || med.TotalCount != 10 || med.Rate != 70.0 {
		t.Fatalf("unexpected medication breakdown: %+v", med)
	}

	dayTotal := 0
	for _, d := range report.PerDay {
		dayTotal += d.TotalCount
	}
	if dayTotal != 10 {
		t.Fatalf("per-day totals sum to %d, expected 10", dayTotal)
	}
}

func TestComputeAdherence_UnaffectedByDisable(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	owner := uuid.New()

	r, err := svc.CreateRegimen(context.Background(), validInput(owner))
	if err != nil {
		t.Fatalf("CreateRegimen error: %v", err)
	}

	// Resolve today's 08:00 dose, then disable mid-course.
	events, _ := svc.TodayDoseEvents(context.Background(), owner)
	if len(events) != 2 {
		t.Fatalf("expected 2 events today, got %d", len(events))
	}
	if _, err := svc.MarkTaken(context.Background(), events[0].ID, events[0].ScheduledAt); err != nil {
		t.Fatalf("MarkTaken error: %v", err)
	}

	before, err := svc.ComputeAdherence(context.Background(), owner, 7)
	if err != nil {
		t.Fatalf("ComputeAdherence error: %v", err)
	}

	if err := svc.DisableRegimen(context.Background(), r.ID); err != nil {
		t.Fatalf("DisableRegimen error: %v", err)
	}

	after, err := svc.ComputeAdherence(context.Background(), owner, 7)
	if err != nil {
		t.Fatalf("ComputeAdherence error: %v", err)
	}

	if before.TotalCount != after.TotalCount || before.TakenCount != after.TakenCount || before.Rate != after.Rate {
		t.Fatalf("adherence changed after disable: before=%+v after=%+v", before, after)
	}
}

// -------------------------
// Notification seam
// -------------------------

func TestFindUnnotifiedDue_AndMarkNotified(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	owner := uuid.New()
	regimenID := uuid.New()

	soonID := insertDose(t, repo, owner, regimenID, testNow.Add(10*time.Minute), DosePending)
	insertDose(t, repo, owner, regimenID, testNow.Add(2*time.Hour), DosePending)

	due, err := svc.FindUnnotifiedDue(context.Background(), 15*time.Minute)
	if err != nil {
		t.Fatalf("FindUnnotifiedDue error: %v", err)
	}
	if len(due) != 1 || due[0].ID != soonID {
		t.Fatalf("expected only the imminent dose, got %d events", len(due))
	}

	if err := svc.MarkNotified(context.Background(), soonID); err != nil {
		t.Fatalf("MarkNotified error: %v", err)
	}

	due, _ = svc.FindUnnotifiedDue(context.Background(), 15*time.Minute)
	if len(due) != 0 {
		t.Fatalf("expected no unnotified doses after dispatch, got %d", len(due))
	}

	// Repeat dispatch attempts are a no-op.
	if err := svc.MarkNotified(context.Background(), soonID); err != nil {
		t.Fatalf("second MarkNotified error: %v", err)
	}
}

// -------------------------
// Retention
// -------------------------

func TestPurgeHistoryOlderThan(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	owner := uuid.New()

	old := HistoryEntry{
		ID:              uuid.New(),
		OwnerID:         owner,
		RegimenID:       uuid.New(),
		DoseEventID:     uuid.New(),
		ResultingStatus: DoseTaken,
		TransitionedAt:  testNow.AddDate(0, 0, -120),
	}
	recent := old
	recent.ID = uuid.New()
	recent.TransitionedAt = testNow.AddDate(0, 0, -1)

	_ = repo.AppendHistory(context.Background(), &old)
	_ = repo.AppendHistory(context.Background(), &recent)

	purged, err := svc.PurgeHistoryOlderThan(context.Background(), testNow.AddDate(0, 0, -90))
	if err != nil {
		t.Fatalf("PurgeHistoryOlderThan error: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged entry, got %d", purged)
	}

	remaining, _ := repo.ListHistoryByOwner(context.Background(), owner, 10)
	if len(remaining) != 1 || remaining[0].ID != recent.ID {
		t.Fatalf("expected only the recent entry to remain, got %d", len(remaining))
	}
}

func TestPurgeStalePending_KeepsResolvedDoses(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo)
	owner := uuid.New()
	regimenID := uuid.New()

	stale := insertDose(t, repo, owner, regimenID, testNow.AddDate(0, 0, -120), DosePending)
	resolved := insertDose(t, repo, owner, regimenID, testNow.AddDate(0, 0, -119), DoseTaken)

	purged, err := svc.PurgeStalePending(context.Background(), testNow.AddDate(0, 0, -90))
	if err != nil {
		t.Fatalf("PurgeStalePending error: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged dose, got %d", purged)
	}

	if _, err := repo.GetDoseEventByID(context.Background(), stale); !errors.Is(err, ErrDoseEventNotFound) {
		t.Fatalf("stale pending dose should be gone, got %v", err)
	}
	if _, err := repo.GetDoseEventByID(context.Background(), resolved); err != nil {
		t.Fatalf("resolved dose should remain: %v", err)
	}
}
