package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pharmatech/medication-adherence/internal/catalog"
	"github.com/pharmatech/medication-adherence/internal/regimen"
)

func createRegimenHandler(svc *regimen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRegimenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		ownerID, err := uuid.Parse(req.OwnerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_owner_id", "owner_id must be a valid UUID")
			return
		}

		in := regimen.CreateRegimenInput{
			OwnerID:        ownerID,
			MedicationName: req.MedicationName,
			Dosage:         req.Dosage,
			Frequency:      regimen.Frequency(req.Frequency),
			IntervalHours:  req.IntervalHours,
			TimeSlots:      req.TimeSlots,
			Instructions:   req.Instructions,
			Color:          req.Color,
		}

		if req.CatalogID != nil {
			catalogID, err := uuid.Parse(*req.CatalogID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_catalog_id", "catalog_id must be a valid UUID")
				return
			}
			in.CatalogID = &catalogID
		}

		in.ActiveFrom, err = time.Parse("2006-01-02", req.ActiveFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_active_from", "active_from must be YYYY-MM-DD")
			return
		}
		if req.ActiveUntil != nil {
			until, err := time.Parse("2006-01-02", *req.ActiveUntil)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_active_until", "active_until must be YYYY-MM-DD")
				return
			}
			in.ActiveUntil = &until
		}

		created, err := svc.CreateRegimen(r.Context(), in)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toRegimenResponse(created))
	}
}

func updateRegimenHandler(svc *regimen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		var req CreateRegimenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in := regimen.CreateRegimenInput{
			MedicationName: req.MedicationName,
			Dosage:         req.Dosage,
			Frequency:      regimen.Frequency(req.Frequency),
			IntervalHours:  req.IntervalHours,
			TimeSlots:      req.TimeSlots,
			Instructions:   req.Instructions,
			Color:          req.Color,
		}

		if req.CatalogID != nil {
			catalogID, err := uuid.Parse(*req.CatalogID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_catalog_id", "catalog_id must be a valid UUID")
				return
			}
			in.CatalogID = &catalogID
		}

		var err error
		in.ActiveFrom, err = time.Parse("2006-01-02", req.ActiveFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_active_from", "active_from must be YYYY-MM-DD")
			return
		}
		if req.ActiveUntil != nil {
			until, err := time.Parse("2006-01-02", *req.ActiveUntil)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_active_until", "active_until must be YYYY-MM-DD")
				return
			}
			in.ActiveUntil = &until
		}

		updated, err := svc.UpdateRegimen(r.Context(), id, in)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toRegimenResponse(updated))
	}
}

func listRegimensHandler(svc *regimen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerIDParam(w, r)
		if !ok {
			return
		}

		enabledOnly := r.URL.Query().Get("enabled_only") == "true"

		regimens, err := svc.ListRegimens(r.Context(), ownerID, enabledOnly)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		out := make([]RegimenResponse, 0, len(regimens))
		for i := range regimens {
			out = append(out, toRegimenResponse(&regimens[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getRegimenHandler(svc *regimen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		reg, err := svc.GetRegimen(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toRegimenResponse(reg))
	}
}

func disableRegimenHandler(svc *regimen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		if err := svc.DisableRegimen(r.Context(), id); err != nil {
			handleServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func materializeHandler(svc *regimen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		horizonDays := 0
		if v := r.URL.Query().Get("horizon_days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid_horizon_days", "horizon_days must be a positive integer")
				return
			}
			horizonDays = n
		}

		result, err := svc.Materialize(r.Context(), id, horizonDays)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, MaterializeResponse{
			Created: result.Created,
			Skipped: result.Skipped,
		})
	}
}

func todayDoseEventsHandler(svc *regimen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerIDParam(w, r)
		if !ok {
			return
		}

		events, err := svc.TodayDoseEvents(r.Context(), ownerID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDoseEventResponses(events))
	}
}

func pendingDoseEventsHandler(svc *regimen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerIDParam(w, r)
		if !ok {
			return
		}

		events, err := svc.PendingDoseEvents(r.Context(), ownerID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDoseEventResponses(events))
	}
}

func markTakenHandler(svc *regimen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		var req MarkTakenRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		var takenAt time.Time
		if req.TakenAt != nil {
			takenAt = *req.TakenAt
		}

		ev, err := svc.MarkTaken(r.Context(), id, takenAt)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDoseEventResponse(ev))
	}
}

func markSkippedHandler(svc *regimen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}

		var req MarkSkippedRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		ev, err := svc.MarkSkipped(r.Context(), id, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDoseEventResponse(ev))
	}
}

func adherenceHandler(svc *regimen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerIDParam(w, r)
		if !ok {
			return
		}

		windowDays := 0
		if v := r.URL.Query().Get("window_days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid_window_days", "window_days must be a positive integer")
				return
			}
			windowDays = n
		}

		report, err := svc.ComputeAdherence(r.Context(), ownerID, windowDays)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAdherenceResponse(report))
	}
}

func historyHandler(svc *regimen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerIDParam(w, r)
		if !ok {
			return
		}

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
				return
			}
			limit = n
		}

		entries, err := svc.ListHistory(r.Context(), ownerID, limit)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		out := make([]HistoryEntryResponse, 0, len(entries))
		for _, h := range entries {
			out = append(out, HistoryEntryResponse{
				ID:              h.ID,
				RegimenID:       h.RegimenID,
				DoseEventID:     h.DoseEventID,
				MedicationName:  h.MedicationName,
				Dosage:          h.Dosage,
				ResultingStatus: string(h.ResultingStatus),
				WasOnTime:       h.WasOnTime,
				TransitionedAt:  h.TransitionedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func searchCatalogHandler(provider catalog.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meds, err := provider.Search(r.Context(), r.URL.Query().Get("name"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		out := make([]MedicationResponse, 0, len(meds))
		for _, m := range meds {
			out = append(out, MedicationResponse{
				ID:                   m.ID,
				Name:                 m.Name,
				GenericName:          m.GenericName,
				Form:                 m.Form,
				Strength:             m.Strength,
				Category:             m.Category,
				RequiresPrescription: m.RequiresPrescription,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func idParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func ownerIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	ownerID, err := uuid.Parse(r.URL.Query().Get("owner_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_owner_id", "owner_id must be a valid UUID")
		return uuid.Nil, false
	}
	return ownerID, true
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, regimen.ErrInvalidRegimen):
		writeError(w, http.StatusUnprocessableEntity, "invalid_regimen", err.Error())
	case errors.Is(err, regimen.ErrUnknownMedication):
		writeError(w, http.StatusUnprocessableEntity, "unknown_medication", err.Error())
	case errors.Is(err, regimen.ErrRegimenNotFound):
		writeError(w, http.StatusNotFound, "regimen_not_found", err.Error())
	case errors.Is(err, regimen.ErrDoseEventNotFound):
		writeError(w, http.StatusNotFound, "dose_event_not_found", err.Error())
	case errors.Is(err, regimen.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, regimen.ErrRegimenBusy):
		writeError(w, http.StatusConflict, "regimen_busy", "regimen is currently being materialized, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
