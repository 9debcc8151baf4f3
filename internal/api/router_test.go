package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/apptype"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/conflict"
	"github.com/hackgods/clinic-scheduling/internal/identity"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/slots"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

// Fixed clock: Sunday 2026-03-01 12:00 UTC, clinic at UTC+2.
var apiNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type apiFixture struct {
	handler  http.Handler
	patient  identity.User
	other    identity.User
	staff    identity.User
	provider identity.User
	visit    apptype.Type
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		patient:  identity.User{ID: uuid.New(), Role: identity.RolePatient, Name: "Pat"},
		other:    identity.User{ID: uuid.New(), Role: identity.RolePatient, Name: "Olive"},
		staff:    identity.User{ID: uuid.New(), Role: identity.RoleStaff, Name: "Sky"},
		provider: identity.User{ID: uuid.New(), Role: identity.RoleProvider, Name: "Dr. Reyes"},
		visit:    apptype.Type{ID: uuid.New(), Name: "Consultation", DurationMinutes: 30, IsActive: true},
	}
	logger := zerolog.Nop()
	tz := timezone.NewNormalizer(2 * time.Hour)
	users := identity.NewDirectory(f.patient, f.other, f.staff, f.provider)
	types := apptype.NewMemoryRegistry(f.visit)
	repo := appointment.NewMemoryRepository()
	store := availability.NewMemoryStore(availability.MultiBlockPerWeekday)
	reg := prometheus.NewRegistry()
	m := metrics.NewSchedulingMetrics(reg)

	gen := slots.NewGenerator(store, conflict.NewDetector(repo), tz).WithClock(func() time.Time { return apiNow })
	svc := appointment.NewService(appointment.Deps{
		Repo: repo, Types: types, Users: users, Slots: gen, TZ: tz, Metrics: m, Logger: logger,
	}, appointment.Options{}).WithClock(func() time.Time { return apiNow })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f.handler = NewRouter(RouterConfig{
		Appointments: svc,
		Availability: availability.NewService(store, users, logger),
		Types:        types,
		Users:        users,
		TZ:           tz,
		Redis:        rdb,
		Gatherer:     reg,
		Logger:       logger,
		Env:          "test",
		Version:      "test",
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, actor uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != uuid.Nil {
		req.Header.Set(ActorHeader, actor.String())
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *apiFixture) mondayBlock(t *testing.T) {
	t.Helper()
	weekday := int(time.Monday)
	rec := f.do(t, http.MethodPut, "/providers/"+f.provider.ID.String()+"/availability", f.staff.ID, AvailabilityBlockRequest{
		Weekday: &weekday, StartTime: "09:00", EndTime: "17:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (f *apiFixture) request(t *testing.T, patient identity.User) AppointmentResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/appointments", patient.ID, CreateAppointmentRequest{
		AppointmentTypeID: f.visit.ID.String(), RequestedDate: "2026-03-02",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[AppointmentResponse](t, rec)
}

func TestBookingFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	f.mondayBlock(t)

	created := f.request(t, f.patient)
	assert.Equal(t, "pending", created.Status)
	assert.Nil(t, created.StartTime)

	rec := f.do(t, http.MethodGet, "/providers/"+f.provider.ID.String()+"/slots?date=2026-03-02&type_id="+f.visit.ID.String(), f.staff.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decode[SlotListResponse](t, rec)
	require.NotEmpty(t, list.Slots)
	assert.Equal(t, "09:00", list.Slots[0].LocalStart)
	assert.Equal(t, "09:30", list.Slots[0].LocalEnd)

	rec = f.do(t, http.MethodPost, "/appointments/"+created.ID.String()+"/confirm", f.staff.ID, ScheduleRequest{
		ProviderID: f.provider.ID.String(), Date: "2026-03-02", Time: "10:00",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	confirmed := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "confirmed", confirmed.Status)
	assert.Equal(t, "10:00", confirmed.LocalStart)
	assert.Equal(t, "10:30", confirmed.LocalEnd)

	// A second request colliding with it gets a retryable conflict.
	second := f.request(t, f.other)
	rec = f.do(t, http.MethodPost, "/appointments/"+second.ID.String()+"/confirm", f.staff.ID, ScheduleRequest{
		ProviderID: f.provider.ID.String(), StartTime: "2026-03-02T08:15:00Z",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodGet, "/appointments/"+second.ID.String(), f.other.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decode[AppointmentResponse](t, rec).Status)

	rec = f.do(t, http.MethodPost, "/appointments/"+confirmed.ID.String()+"/complete", f.staff.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode[AppointmentResponse](t, rec).Status)

	rec = f.do(t, http.MethodPost, "/appointments/"+confirmed.ID.String()+"/cancel", f.staff.ID, CancelRequest{Reason: "late"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decode[ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodGet, "/appointments?provider_id="+f.provider.ID.String()+"&date=2026-03-02", f.staff.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AppointmentResponse](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/appointments", f.patient.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AppointmentResponse](t, rec), 1)
}

func TestErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	created := f.request(t, f.patient)

	rec := f.do(t, http.MethodPost, "/appointments/"+created.ID.String()+"/complete", f.staff.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decode[ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodPost, "/appointments/"+created.ID.String()+"/no-show", f.patient.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/appointments/"+created.ID.String()+"/cancel", uuid.Nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), f.staff.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/appointments/not-a-uuid", f.staff.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/appointments", f.patient.ID, CreateAppointmentRequest{
		AppointmentTypeID: f.visit.ID.String(), RequestedDate: "02/03/2026",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/appointments", f.patient.ID, CreateAppointmentRequest{
		AppointmentTypeID: f.visit.ID.String(), RequestedDate: "2026-01-05",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decode[ErrorResponse](t, rec).Error)

	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set(ActorHeader, "nobody")
	out := httptest.NewRecorder()
	f.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestAvailabilityRoutes(t *testing.T) {
	f := newAPIFixture(t)
	base := "/providers/" + f.provider.ID.String() + "/availability"
	weekday := int(time.Monday)

	rec := f.do(t, http.MethodPut, base, f.provider.ID, AvailabilityBlockRequest{Weekday: &weekday, StartTime: "13:00", EndTime: "09:00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, base, f.patient.ID, AvailabilityBlockRequest{Weekday: &weekday, StartTime: "09:00", EndTime: "12:00"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPut, base, f.provider.ID, AvailabilityBlockRequest{Weekday: &weekday, StartTime: "09:00", EndTime: "12:00"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	block := decode[AvailabilityBlockResponse](t, rec)
	assert.Equal(t, "Monday", block.WeekdayName)

	rec = f.do(t, http.MethodPut, base, f.provider.ID, AvailabilityBlockRequest{Weekday: &weekday, StartTime: "11:00", EndTime: "14:00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "overlaps the morning block")

	rec = f.do(t, http.MethodPut, base, f.provider.ID, AvailabilityBlockRequest{
		ID: block.ID.String(), Weekday: &weekday, StartTime: "08:00", EndTime: "12:00",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, base, f.patient.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	blocks := decode[[]AvailabilityBlockResponse](t, rec)
	require.Len(t, blocks, 1)
	assert.Equal(t, "08:00", blocks[0].StartTime)

	rec = f.do(t, http.MethodDelete, base+"/"+block.ID.String(), f.staff.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, base+"/"+block.ID.String(), f.staff.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAppointmentTypeDeactivation(t *testing.T) {
	f := newAPIFixture(t)
	path := "/appointment-types/" + f.visit.ID.String()

	rec := f.do(t, http.MethodPost, path+"/deactivate", f.patient.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	existing := f.request(t, f.patient)

	rec = f.do(t, http.MethodPost, path+"/deactivate", f.staff.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, path, f.staff.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[apptype.Type](t, rec).IsActive)

	rec = f.do(t, http.MethodPost, "/appointments", f.patient.ID, CreateAppointmentRequest{
		AppointmentTypeID: f.visit.ID.String(), RequestedDate: "2026-03-02",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Appointments already holding the type are unaffected.
	rec = f.do(t, http.MethodGet, "/appointments/"+existing.ID.String(), f.patient.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decode[AppointmentResponse](t, rec).Status)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health/live", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[LivenessResponse](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/health/ready", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Dependencies["redis"])

	f.request(t, f.patient)
	rec = f.do(t, http.MethodGet, "/metrics", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "clinic_scheduling_transitions_total"))

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
