package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/apptype"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/identity"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

type providerHandlers struct {
	appointments *appointment.Service
	availability *availability.Service
	tz           *timezone.Normalizer
	logger       zerolog.Logger
}

// slots serves GET /providers/{id}/slots?date=YYYY-MM-DD&type_id=...
func (h *providerHandlers) slots(w http.ResponseWriter, r *http.Request) {
	providerID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	q := r.URL.Query()
	date, err := timezone.ParseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}
	typeID, err := uuid.Parse(q.Get("type_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_type_id", "type_id must be a valid UUID")
		return
	}

	list, err := h.appointments.ListAvailableSlots(r.Context(), providerID, date, typeID)
	if err != nil {
		handleServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SlotListResponse{
		ProviderID: providerID,
		Date:       date.String(),
		TypeID:     typeID,
		Slots:      toSlotResponses(list, h.tz),
	})
}

func (h *providerHandlers) listAvailability(w http.ResponseWriter, r *http.Request) {
	providerID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	blocks, err := h.availability.List(r.Context(), providerID)
	if err != nil {
		handleServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBlockResponses(blocks))
}

// upsertAvailability creates a block, or replaces the block named by "id".
func (h *providerHandlers) upsertAvailability(w http.ResponseWriter, r *http.Request) {
	providerID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req AvailabilityBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if req.Weekday == nil {
		writeError(w, http.StatusBadRequest, "validation_error", "weekday is required")
		return
	}

	var blockID uuid.UUID
	if req.ID != "" {
		id, err := uuid.Parse(req.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_block_id", "id must be a valid UUID")
			return
		}
		blockID = id
	}
	recurring := true
	if req.IsRecurring != nil {
		recurring = *req.IsRecurring
	}

	block, err := h.availability.Upsert(r.Context(), ActorID(r.Context()), blockID, availability.BlockInput{
		ProviderID:     providerID,
		Weekday:        *req.Weekday,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		IsRecurring:    recurring,
		EffectiveFrom:  req.EffectiveFrom,
		EffectiveUntil: req.EffectiveUntil,
	})
	if err != nil {
		handleServiceError(w, h.logger, r, err)
		return
	}

	status := http.StatusOK
	if blockID == uuid.Nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, toBlockResponse(block))
}

func (h *providerHandlers) removeAvailability(w http.ResponseWriter, r *http.Request) {
	providerID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	blockID, ok := uuidParam(w, r, "blockID")
	if !ok {
		return
	}
	if err := h.availability.Remove(r.Context(), ActorID(r.Context()), providerID, blockID); err != nil {
		handleServiceError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TypeAdmin is the appointment type registry as seen by the admin routes.
type TypeAdmin interface {
	apptype.Registry
	apptype.Deactivator
}

type typeHandlers struct {
	types  TypeAdmin
	users  identity.Resolver
	logger zerolog.Logger
}

func (h *typeHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	t, err := h.types.GetType(r.Context(), id)
	if err != nil {
		handleServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// deactivate retires a type for new requests. Existing appointments keep it.
func (h *typeHandlers) deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.requireStaff(r.Context()); err != nil {
		handleServiceError(w, h.logger, r, err)
		return
	}
	if err := h.types.Deactivate(r.Context(), id); err != nil {
		handleServiceError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *typeHandlers) requireStaff(ctx context.Context) error {
	actorID := ActorID(ctx)
	if actorID == uuid.Nil {
		return apperr.Authorization("actor is required")
	}
	u, err := h.users.ResolveUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return apperr.Authorization("unknown actor %s", actorID)
		}
		return err
	}
	if u.Role != identity.RoleStaff && u.Role != identity.RoleAdmin {
		return apperr.Authorization("role %s may not manage appointment types", u.Role)
	}
	return nil
}
