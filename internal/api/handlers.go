package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

type appointmentHandlers struct {
	svc    *appointment.Service
	tz     *timezone.Normalizer
	logger zerolog.Logger
}

func (h *appointmentHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	typeID, err := uuid.Parse(req.AppointmentTypeID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_type_id", "appointment_type_id must be a valid UUID")
		return
	}

	var patientID uuid.UUID
	if req.PatientID != "" {
		patientID, err = uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
	}

	date, err := timezone.ParseDate(req.RequestedDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_requested_date", err.Error())
		return
	}

	appt, err := h.svc.Request(r.Context(), ActorID(r.Context()), appointment.RequestInput{
		PatientID: patientID,
		TypeID:    typeID,
		Date:      date,
		Notes:     req.Notes,
	})
	if err != nil {
		handleServiceError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt, h.tz))
}

func (h *appointmentHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.Get(r.Context(), ActorID(r.Context()), id)
	if err != nil {
		handleServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt, h.tz))
}

// list serves ?patient_id=&limit=&offset= or ?provider_id=&date=.
func (h *appointmentHandlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()

	if raw := q.Get("provider_id"); raw != "" {
		providerID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}
		date, err := timezone.ParseDate(q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}
		list, err := h.svc.ListForProvider(ctx, ActorID(ctx), providerID, date)
		if err != nil {
			handleServiceError(w, h.logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponses(list, h.tz))
		return
	}

	patientID := ActorID(ctx)
	if raw := q.Get("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		patientID = id
	}
	limit, err := intQuery(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
		return
	}
	offset, err := intQuery(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
		return
	}

	list, err := h.svc.ListForPatient(ctx, ActorID(ctx), patientID, limit, offset)
	if err != nil {
		handleServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponses(list, h.tz))
}

func (h *appointmentHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
		return
	}
	start, err := h.startTime(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start_time", err.Error())
		return
	}

	appt, err := h.svc.Confirm(r.Context(), ActorID(r.Context()), id, providerID, start)
	if err != nil {
		handleServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt, h.tz))
}

func (h *appointmentHandlers) reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	start, err := h.startTime(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start_time", err.Error())
		return
	}

	appt, err := h.svc.Reschedule(r.Context(), ActorID(r.Context()), id, start)
	if err != nil {
		handleServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt, h.tz))
}

func (h *appointmentHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req CancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
	}

	appt, err := h.svc.Cancel(r.Context(), ActorID(r.Context()), id, req.Reason)
	if err != nil {
		handleServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt, h.tz))
}

func (h *appointmentHandlers) complete(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	appt, err := h.svc.Complete(r.Context(), ActorID(r.Context()), id)
	if err != nil {
		handleServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt, h.tz))
}

func (h *appointmentHandlers) noShow(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	appt, err := h.svc.MarkNoShow(r.Context(), ActorID(r.Context()), id)
	if err != nil {
		handleServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt, h.tz))
}

func (h *appointmentHandlers) startTime(req ScheduleRequest) (time.Time, error) {
	if req.StartTime != "" {
		t, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			return time.Time{}, errInvalid("start_time must be RFC 3339")
		}
		return t.UTC(), nil
	}
	if req.Date == "" || req.Time == "" {
		return time.Time{}, errInvalid("send start_time, or date and time in clinic local time")
	}
	d, err := timezone.ParseDate(req.Date)
	if err != nil {
		return time.Time{}, err
	}
	return h.tz.ToUTC(d, req.Time)
}

type errInvalid string

func (e errInvalid) Error() string { return string(e) }

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+strings.ToLower(name), name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
