package regimen

import (
	"time"

	"github.com/google/uuid"
)

type DoseStatus string

const (
	DosePending DoseStatus = "pending"
	DoseTaken   DoseStatus = "taken"
	DoseSkipped DoseStatus = "skipped"
)

// IsTerminal reports whether no further transition may leave the status.
func (s DoseStatus) IsTerminal() bool {
	return s == DoseTaken || s == DoseSkipped
}

type Frequency string

const (
	FreqOnceDaily       Frequency = "once_daily"
	FreqTwiceDaily      Frequency = "twice_daily"
	FreqThreeTimesDaily Frequency = "three_times_daily"
	FreqFourTimesDaily  Frequency = "four_times_daily"
	FreqEveryNHours     Frequency = "every_n_hours"
	FreqWeekly          Frequency = "weekly"
	FreqAsNeeded        Frequency = "as_needed"
)

func (f Frequency) Valid() bool {
	switch f {
	case FreqOnceDaily, FreqTwiceDaily, FreqThreeTimesDaily, FreqFourTimesDaily,
		FreqEveryNHours, FreqWeekly, FreqAsNeeded:
		return true
	}
	return false
}

const DefaultColor = "#667EEA"

// Regimen is the durable definition of a medication course. Dose events are
// materialized from it over a bounded horizon; disabling a regimen stops
// future materialization but keeps already-created events and history.
type Regimen struct {
	ID             uuid.UUID
	OwnerID        uuid.UUID
	MedicationName string
	CatalogID      *uuid.UUID // optional reference into the medication catalog
	Dosage         string     // free form, e.g. "500 mg"
	Frequency      Frequency
	IntervalHours  int // only meaningful when Frequency is every_n_hours
	TimeSlots      []string
	ActiveFrom     time.Time
	ActiveUntil    *time.Time // nil = indefinite
	Instructions   *string
	Color          string
	Enabled        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DoseEvent is one concrete "take this medication now" instance. Exactly one
// event exists per (RegimenID, ScheduledAt) pair.
type DoseEvent struct {
	ID             uuid.UUID
	RegimenID      uuid.UUID
	OwnerID        uuid.UUID
	MedicationName string
	ScheduledAt    time.Time
	Status         DoseStatus
	TakenAt        *time.Time // set only when Status is taken
	SkipReason     *string    // set only when Status is skipped
	NotifiedAt     *time.Time // set once a reminder has been dispatched
	CreatedAt      time.Time
}

// HistoryEntry is the append-only record of one lifecycle transition.
type HistoryEntry struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	RegimenID       uuid.UUID
	DoseEventID     uuid.UUID
	MedicationName  string
	Dosage          string
	ResultingStatus DoseStatus
	WasOnTime       bool // meaningful only when ResultingStatus is taken
	TransitionedAt  time.Time
}

type MaterializationResult struct {
	Created int
	Skipped int
}

type DayAdherence struct {
	Date       string // YYYY-MM-DD
	TakenCount int
	TotalCount int
}

type MedicationAdherence struct {
	MedicationName string
	TakenCount     int
	TotalCount     int
	Rate           float64
}

type AdherenceReport struct {
	Rate          float64
	TakenCount    int
	SkippedCount  int
	MissedCount   int // past-due doses still pending
	TotalCount    int
	WindowDays    int
	PerDay        []DayAdherence
	PerMedication []MedicationAdherence
}
