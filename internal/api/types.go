package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/slots"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

type CreateAppointmentRequest struct {
	PatientID         string `json:"patient_id,omitempty"`
	AppointmentTypeID string `json:"appointment_type_id"`
	RequestedDate     string `json:"requested_date"`
	Notes             string `json:"notes,omitempty"`
}

// ScheduleRequest picks a start either as an RFC 3339 instant or as a clinic
// local date and "HH:MM".
type ScheduleRequest struct {
	ProviderID string `json:"provider_id,omitempty"`
	StartTime  string `json:"start_time,omitempty"`
	Date       string `json:"date,omitempty"`
	Time       string `json:"time,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type AvailabilityBlockRequest struct {
	ID             string `json:"id,omitempty"`
	Weekday        *int   `json:"weekday"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	IsRecurring    *bool  `json:"is_recurring,omitempty"`
	EffectiveFrom  string `json:"effective_from,omitempty"`
	EffectiveUntil string `json:"effective_until,omitempty"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	ProviderID         *uuid.UUID `json:"provider_id"`
	AppointmentTypeID  uuid.UUID  `json:"appointment_type_id"`
	RequestedDate      string     `json:"requested_date"`
	StartTime          *time.Time `json:"start_time"`
	EndTime            *time.Time `json:"end_time"`
	LocalStart         string     `json:"local_start,omitempty"`
	LocalEnd           string     `json:"local_end,omitempty"`
	Status             string     `json:"status"`
	Notes              *string    `json:"notes,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type SlotResponse struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	LocalStart string    `json:"local_start"`
	LocalEnd   string    `json:"local_end"`
}

type SlotListResponse struct {
	ProviderID uuid.UUID      `json:"provider_id"`
	Date       string         `json:"date"`
	TypeID     uuid.UUID      `json:"appointment_type_id"`
	Slots      []SlotResponse `json:"slots"`
}

type AvailabilityBlockResponse struct {
	ID             uuid.UUID `json:"id"`
	ProviderID     uuid.UUID `json:"provider_id"`
	Weekday        int       `json:"weekday"`
	WeekdayName    string    `json:"weekday_name"`
	StartTime      string    `json:"start_time"`
	EndTime        string    `json:"end_time"`
	IsRecurring    bool      `json:"is_recurring"`
	EffectiveFrom  *string   `json:"effective_from,omitempty"`
	EffectiveUntil *string   `json:"effective_until,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment, tz *timezone.Normalizer) AppointmentResponse {
	resp := AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		ProviderID:         a.ProviderID,
		AppointmentTypeID:  a.AppointmentTypeID,
		RequestedDate:      a.RequestedDate.String(),
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		Status:             string(a.Status),
		Notes:              a.Notes,
		CancellationReason: a.CancellationReason,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
	if a.StartTime != nil {
		_, resp.LocalStart = tz.ToLocal(*a.StartTime)
	}
	if a.EndTime != nil {
		_, resp.LocalEnd = tz.ToLocal(*a.EndTime)
	}
	return resp
}

func toAppointmentResponses(list []appointment.Appointment, tz *timezone.Normalizer) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		out = append(out, toAppointmentResponse(&list[i], tz))
	}
	return out
}

func toSlotResponses(list []slots.Slot, tz *timezone.Normalizer) []SlotResponse {
	out := make([]SlotResponse, 0, len(list))
	for _, s := range list {
		_, ls := tz.ToLocal(s.Start)
		_, le := tz.ToLocal(s.End)
		out = append(out, SlotResponse{Start: s.Start, End: s.End, LocalStart: ls, LocalEnd: le})
	}
	return out
}

func toBlockResponse(b availability.Block) AvailabilityBlockResponse {
	resp := AvailabilityBlockResponse{
		ID:          b.ID,
		ProviderID:  b.ProviderID,
		Weekday:     int(b.Weekday),
		WeekdayName: b.Weekday.String(),
		StartTime:   b.StartTime.String(),
		EndTime:     b.EndTime.String(),
		IsRecurring: b.IsRecurring,
	}
	if b.EffectiveFrom != nil {
		s := b.EffectiveFrom.String()
		resp.EffectiveFrom = &s
	}
	if b.EffectiveUntil != nil {
		s := b.EffectiveUntil.String()
		resp.EffectiveUntil = &s
	}
	return resp
}

func toBlockResponses(list []availability.Block) []AvailabilityBlockResponse {
	out := make([]AvailabilityBlockResponse, 0, len(list))
	for _, b := range list {
		out = append(out, toBlockResponse(b))
	}
	return out
}
