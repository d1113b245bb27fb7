package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/pharmatech/medication-adherence/internal/regimen"
)

type CreateRegimenRequest struct {
	OwnerID        string   `json:"owner_id"`
	MedicationName string   `json:"medication_name"`
	CatalogID      *string  `json:"catalog_id,omitempty"`
	Dosage         string   `json:"dosage"`
	Frequency      string   `json:"frequency"`
	IntervalHours  int      `json:"interval_hours,omitempty"`
	TimeSlots      []string `json:"time_slots"`
	ActiveFrom     string   `json:"active_from"`            // YYYY-MM-DD
	ActiveUntil    *string  `json:"active_until,omitempty"` // YYYY-MM-DD
	Instructions   *string  `json:"instructions,omitempty"`
	Color          string   `json:"color,omitempty"`
}

type RegimenResponse struct {
	ID             uuid.UUID  `json:"id"`
	OwnerID        uuid.UUID  `json:"owner_id"`
	MedicationName string     `json:"medication_name"`
	CatalogID      *uuid.UUID `json:"catalog_id,omitempty"`
	Dosage         string     `json:"dosage"`
	Frequency      string     `json:"frequency"`
	IntervalHours  int        `json:"interval_hours,omitempty"`
	TimeSlots      []string   `json:"time_slots"`
	ActiveFrom     string     `json:"active_from"`
	ActiveUntil    *string    `json:"active_until,omitempty"`
	Instructions   *string    `json:"instructions,omitempty"`
	Color          string     `json:"color"`
	Enabled        bool       `json:"enabled"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toRegimenResponse(r *regimen.Regimen) RegimenResponse {
	resp := RegimenResponse{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		MedicationName: r.MedicationName,
		CatalogID:      r.CatalogID,
		Dosage:         r.Dosage,
		Frequency:      string(r.Frequency),
		IntervalHours:  r.IntervalHours,
		TimeSlots:      r.TimeSlots,
		ActiveFrom:     r.ActiveFrom.Format("2006-01-02"),
		Instructions:   r.Instructions,
		Color:          r.Color,
		Enabled:        r.Enabled,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.ActiveUntil != nil {
		until := r.ActiveUntil.Format("2006-01-02")
		resp.ActiveUntil = &until
	}
	return resp
}

type DoseEventResponse struct {
	ID             uuid.UUID  `json:"id"`
	RegimenID      uuid.UUID  `json:"regimen_id"`
	OwnerID        uuid.UUID  `json:"owner_id"`
	MedicationName string     `json:"medication_name"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	Status         string     `json:"status"`
	TakenAt        *time.Time `json:"taken_at,omitempty"`
	SkipReason     *string    `json:"skip_reason,omitempty"`
	NotifiedAt     *time.Time `json:"notified_at,omitempty"`
}

func toDoseEventResponse(ev *regimen.DoseEvent) DoseEventResponse {
	return DoseEventResponse{
		ID:             ev.ID,
		RegimenID:      ev.RegimenID,
		OwnerID:        ev.OwnerID,
		MedicationName: ev.MedicationName,
		ScheduledAt:    ev.ScheduledAt,
		Status:         string(ev.Status),
		TakenAt:        ev.TakenAt,
		SkipReason:     ev.SkipReason,
		NotifiedAt:     ev.NotifiedAt,
	}
}

func toDoseEventResponses(events []regimen.DoseEvent) []DoseEventResponse {
	out := make([]DoseEventResponse, 0, len(events))
	for i := range events {
		out = append(out, toDoseEventResponse(&events[i]))
	}
	return out
}

type MarkTakenRequest struct {
	TakenAt *time.Time `json:"taken_at,omitempty"`
}

type MarkSkippedRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type MaterializeResponse struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

type HistoryEntryResponse struct {
	ID              uuid.UUID `json:"id"`
	RegimenID       uuid.UUID `json:"regimen_id"`
	DoseEventID     uuid.UUID `json:"dose_event_id"`
	MedicationName  string    `json:"medication_name"`
	Dosage          string    `json:"dosage"`
	ResultingStatus string    `json:"resulting_status"`
	WasOnTime       bool      `json:"was_on_time"`
	TransitionedAt  time.Time `json:"transitioned_at"`
}

type DayAdherenceResponse struct {
	Date       string `json:"date"`
	TakenCount int    `json:"taken_count"`
	TotalCount int    `json:"total_count"`
}

type MedicationAdherenceResponse struct {
	MedicationName string  `json:"medication_name"`
	TakenCount     int     `json:"taken_count"`
	TotalCount     int     `json:"total_count"`
	Rate           float64 `json:"rate"`
}

type AdherenceReportResponse struct {
	Rate          float64                       `json:"rate"`
	TakenCount    int                           `json:"taken_count"`
	SkippedCount  int                           `json:"skipped_count"`
	MissedCount   int                           `json:"missed_count"`
	TotalCount    int                           `json:"total_count"`
	WindowDays    int                           `json:"window_days"`
	PerDay        []DayAdherenceResponse        `json:"per_day,omitempty"`
	PerMedication []MedicationAdherenceResponse `json:"per_medication,omitempty"`
}

func toAdherenceResponse(r *regimen.AdherenceReport) AdherenceReportResponse {
	resp := AdherenceReportResponse{
		Rate:         r.Rate,
		TakenCount:   r.TakenCount,
		SkippedCount: r.SkippedCount,
		MissedCount:  r.MissedCount,
		TotalCount:   r.TotalCount,
		WindowDays:   r.WindowDays,
	}
	for _, d := range r.PerDay {
		resp.PerDay = append(resp.PerDay, DayAdherenceResponse{
			Date:       d.Date,
			TakenCount: d.TakenCount,
			TotalCount: d.TotalCount,
		})
	}
	for _, m := range r.PerMedication {
		resp.PerMedication = append(resp.PerMedication, MedicationAdherenceResponse{
			MedicationName: m.MedicationName,
			TakenCount:     m.TakenCount,
			TotalCount:     m.TotalCount,
			Rate:           m.Rate,
		})
	}
	return resp
}

type MedicationResponse struct {
	ID                   uuid.UUID `json:"id"`
	Name                 string    `json:"name"`
	GenericName          string    `json:"generic_name,omitempty"`
	Form                 string    `json:"form,omitempty"`
	Strength             string    `json:"strength,omitempty"`
	Category             string    `json:"category,omitempty"`
	RequiresPrescription bool      `json:"requires_prescription"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
