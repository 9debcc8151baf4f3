package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/apptype"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/conflict"
	"github.com/hackgods/clinic-scheduling/internal/identity"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	"github.com/hackgods/clinic-scheduling/internal/slots"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

// Sunday 2026-03-01 12:00 UTC; the Monday below is the next day.
var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) types() []notify.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.EventType
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	svc      *Service
	repo     *MemoryRepository
	blocks   *availability.MemoryStore
	types    *apptype.MemoryRegistry
	notifier *recordingNotifier
	tz       *timezone.Normalizer

	patient  identity.User
	other    identity.User
	staff    identity.User
	provider identity.User
	visit    apptype.Type
	retired  apptype.Type
	monday   timezone.Date
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		repo:     NewMemoryRepository(),
		blocks:   availability.NewMemoryStore(availability.MultiBlockPerWeekday),
		notifier: &recordingNotifier{},
		tz:       timezone.NewNormalizer(2 * time.Hour),
		patient:  identity.User{ID: uuid.New(), Role: identity.RolePatient, Name: "Pat"},
		other:    identity.User{ID: uuid.New(), Role: identity.RolePatient, Name: "Olive"},
		staff:    identity.User{ID: uuid.New(), Role: identity.RoleStaff, Name: "Sky"},
		provider: identity.User{ID: uuid.New(), Role: identity.RoleProvider, Name: "Dr. Reyes"},
		visit:    apptype.Type{ID: uuid.New(), Name: "Consultation", DurationMinutes: 30, IsActive: true},
		retired:  apptype.Type{ID: uuid.New(), Name: "Legacy", DurationMinutes: 45, IsActive: false},
	}
	h.repo.now = func() time.Time { return testNow }
	h.types = apptype.NewMemoryRegistry(h.visit, h.retired)

	var err error
	h.monday, err = timezone.ParseDate("2026-03-02")
	require.NoError(t, err)

	block, err := availability.BlockInput{
		ProviderID: h.provider.ID, Weekday: int(time.Monday), StartTime: "09:00", EndTime: "17:00", IsRecurring: true,
	}.Parse()
	require.NoError(t, err)
	_, err = h.blocks.Add(context.Background(), block)
	require.NoError(t, err)

	gen := slots.NewGenerator(h.blocks, conflict.NewDetector(h.repo), h.tz).WithClock(func() time.Time { return testNow })
	h.svc = NewService(Deps{
		Repo:     h.repo,
		Types:    h.types,
		Users:    identity.NewDirectory(h.patient, h.other, h.staff, h.provider),
		Slots:    gen,
		TZ:       h.tz,
		Notifier: h.notifier,
		Logger:   zerolog.Nop(),
	}, Options{MaxConfirmAttempts: 5}).WithClock(func() time.Time { return testNow })
	return h
}

func (h *harness) local(t *testing.T, hhmm string) time.Time {
	t.Helper()
	ts, err := h.tz.ToUTC(h.monday, hhmm)
	require.NoError(t, err)
	return ts
}

func (h *harness) request(t *testing.T, patient identity.User) *Appointment {
	t.Helper()
	a, err := h.svc.Request(context.Background(), patient.ID, RequestInput{TypeID: h.visit.ID, Date: h.monday})
	require.NoError(t, err)
	return a
}

func (h *harness) confirmed(t *testing.T, hhmm string) *Appointment {
	t.Helper()
	a := h.request(t, h.patient)
	c, err := h.svc.Confirm(context.Background(), h.staff.ID, a.ID, h.provider.ID, h.local(t, hhmm))
	require.NoError(t, err)
	return c
}

func TestRequestCreatesPendingWithoutTime(t *testing.T) {
	h := newHarness(t)

	a, err := h.svc.Request(context.Background(), h.patient.ID, RequestInput{TypeID: h.visit.ID, Date: h.monday, Notes: "  knee pain "})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, h.patient.ID, a.PatientID)
	assert.Nil(t, a.ProviderID)
	assert.Nil(t, a.StartTime)
	assert.Nil(t, a.EndTime)
	require.NotNil(t, a.Notes)
	assert.Equal(t, "knee pain", *a.Notes)

	events := h.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentRequested, events[0].EventType)
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Request(ctx, h.patient.ID, RequestInput{TypeID: h.retired.ID, Date: h.monday})
	assert.ErrorIs(t, err, apperr.ErrValidation, "inactive type")

	_, err = h.svc.Request(ctx, h.patient.ID, RequestInput{TypeID: uuid.New(), Date: h.monday})
	assert.ErrorIs(t, err, apperr.ErrNotFound, "unknown type")

	_, err = h.svc.Request(ctx, h.patient.ID, RequestInput{TypeID: h.visit.ID, Date: h.monday.AddDays(-7)})
	assert.ErrorIs(t, err, apperr.ErrValidation, "past date")

	_, err = h.svc.Request(ctx, h.patient.ID, RequestInput{PatientID: h.other.ID, TypeID: h.visit.ID, Date: h.monday})
	assert.ErrorIs(t, err, apperr.ErrAuthorization, "request for someone else")

	_, err = h.svc.Request(ctx, h.staff.ID, RequestInput{PatientID: h.provider.ID, TypeID: h.visit.ID, Date: h.monday})
	assert.ErrorIs(t, err, apperr.ErrValidation, "provider is not a patient")

	a, err := h.svc.Request(ctx, h.staff.ID, RequestInput{PatientID: h.other.ID, TypeID: h.visit.ID, Date: h.monday})
	require.NoError(t, err, "staff may request on a patient's behalf")
	assert.Equal(t, h.other.ID, a.PatientID)
}

func TestMondayScenarioSlots(t *testing.T) {
	h := newHarness(t)
	h.confirmed(t, "10:00")

	got, err := h.svc.ListAvailableSlots(context.Background(), h.provider.ID, h.monday, h.visit.ID)
	require.NoError(t, err)

	starts := map[string]bool{}
	for _, s := range got {
		_, hhmm := h.tz.ToLocal(s.Start)
		starts[hhmm] = true
		assert.Equal(t, 30*time.Minute, s.End.Sub(s.Start))
		assert.False(t, conflict.Intersects(s.Start, s.End, h.local(t, "10:00"), h.local(t, "10:30")))
	}
	for _, want := range []string{"09:00", "09:15", "09:30", "10:30", "16:30"} {
		assert.True(t, starts[want], "expected a slot at %s", want)
	}
	for _, gone := range []string{"09:45", "10:00", "10:15", "16:45"} {
		assert.False(t, starts[gone], "unexpected slot at %s", gone)
	}

	again, err := h.svc.ListAvailableSlots(context.Background(), h.provider.ID, h.monday, h.visit.ID)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestListAvailableSlotsUnknownProvider(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.ListAvailableSlots(context.Background(), uuid.New(), h.monday, h.visit.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = h.svc.ListAvailableSlots(context.Background(), h.patient.ID, h.monday, h.visit.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConfirmSetsWindowAndNotifies(t *testing.T) {
	h := newHarness(t)
	a := h.request(t, h.patient)

	got, err := h.svc.Confirm(context.Background(), h.staff.ID, a.ID, h.provider.ID, h.local(t, "09:00"))
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, got.Status)
	require.NotNil(t, got.ProviderID)
	assert.Equal(t, h.provider.ID, *got.ProviderID)
	require.True(t, got.Scheduled())
	assert.Equal(t, 30*time.Minute, got.EndTime.Sub(*got.StartTime))

	_, hhmm := h.tz.ToLocal(*got.StartTime)
	assert.Equal(t, "09:00", hhmm)
	assert.Equal(t, []notify.EventType{notify.EventAppointmentConfirmed}, h.notifier.types())
	assert.Equal(t, "09:00", h.notifier.events[0].LocalTime)
}

func TestConfirmCollisionLeavesRequestPending(t *testing.T) {
	h := newHarness(t)
	h.confirmed(t, "10:00")

	late := h.request(t, h.other)
	_, err := h.svc.Confirm(context.Background(), h.staff.ID, late.ID, h.provider.ID, h.local(t, "10:15"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	stored, err := h.repo.GetByID(context.Background(), late.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Nil(t, stored.ProviderID)
	assert.Nil(t, stored.StartTime)
	assert.Nil(t, stored.EndTime)

	// Touching the existing booking is fine.
	_, err = h.svc.Confirm(context.Background(), h.staff.ID, late.ID, h.provider.ID, h.local(t, "10:30"))
	assert.NoError(t, err)
}

func TestConcurrentConfirmExactlyOneWins(t *testing.T) {
	h := newHarness(t)
	const n = 12

	requests := make([]*Appointment, n)
	for i := range requests {
		requests[i] = h.request(t, h.patient)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
		other     []error
	)
	start := make(chan struct{})
	for i, a := range requests {
		// Staggered starts so every window overlaps 10:00-10:30 or its neighbours.
		at := h.local(t, "10:00").Add(time.Duration(i%3) * 5 * time.Minute)
		wg.Add(1)
		go func(id uuid.UUID, at time.Time) {
			defer wg.Done()
			<-start
			_, err := h.svc.Confirm(context.Background(), h.staff.ID, id, h.provider.ID, at)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}(a.ID, at)
	}
	close(start)
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)

	busy, err := h.repo.ListBusy(context.Background(), h.provider.ID, h.local(t, "00:00"), h.local(t, "23:59"))
	require.NoError(t, err)
	assert.Len(t, busy, 1)
}

func TestConfirmRejectsPastStartAndWrongState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.request(t, h.patient)

	_, err := h.svc.Confirm(ctx, h.staff.ID, a.ID, h.provider.ID, testNow.Add(-time.Hour))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.svc.Confirm(ctx, h.staff.ID, a.ID, uuid.New(), h.local(t, "09:00"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = h.svc.Confirm(ctx, h.staff.ID, uuid.New(), h.provider.ID, h.local(t, "09:00"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	c := h.confirmed(t, "11:00")
	_, err = h.svc.Confirm(ctx, h.staff.ID, c.ID, h.provider.ID, h.local(t, "13:00"))
	assert.ErrorIs(t, err, apperr.ErrState)
}

func TestStateErrorsLeaveRecordUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending := h.request(t, h.patient)
	_, err := h.svc.Complete(ctx, h.staff.ID, pending.ID)
	assert.ErrorIs(t, err, apperr.ErrState)
	_, err = h.svc.MarkNoShow(ctx, h.staff.ID, pending.ID)
	assert.ErrorIs(t, err, apperr.ErrState)

	stored, err := h.repo.GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)

	done := h.confirmed(t, "09:00")
	completed, err := h.svc.Complete(ctx, h.staff.ID, done.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)

	_, err = h.svc.Cancel(ctx, h.staff.ID, done.ID, "too late")
	assert.ErrorIs(t, err, apperr.ErrState)
	stored, err = h.repo.GetByID(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Nil(t, stored.CancellationReason)
}

func TestNoShowFromConfirmed(t *testing.T) {
	h := newHarness(t)
	c := h.confirmed(t, "14:00")

	got, err := h.svc.MarkNoShow(context.Background(), h.provider.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, got.Status)
}

func TestCancelAuthorization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.request(t, h.patient)

	_, err := h.svc.Cancel(ctx, h.other.ID, a.ID, "not mine")
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = h.svc.Cancel(ctx, uuid.New(), a.ID, "who am i")
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	got, err := h.svc.Cancel(ctx, h.patient.ID, a.ID, "feeling better")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.CancellationReason)
	assert.Equal(t, "feeling better", *got.CancellationReason)
	assert.Contains(t, h.notifier.types(), notify.EventAppointmentCancelled)
}

func TestPatientsCannotRunStaffTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.request(t, h.patient)

	_, err := h.svc.Confirm(ctx, h.patient.ID, a.ID, h.provider.ID, h.local(t, "09:00"))
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	c := h.confirmed(t, "09:00")
	_, err = h.svc.Complete(ctx, h.patient.ID, c.ID)
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
	_, err = h.svc.MarkNoShow(ctx, h.patient.ID, c.ID)
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
	_, err = h.svc.Reschedule(ctx, h.patient.ID, c.ID, h.local(t, "12:00"))
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
}

func TestNotificationFailureDoesNotFailBooking(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("mail relay down")

	c := h.confirmed(t, "09:00")
	assert.Equal(t, StatusConfirmed, c.Status)

	got, err := h.svc.Cancel(context.Background(), h.patient.ID, c.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Nil(t, got.CancellationReason)
}

func TestRescheduleExcludesItself(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.confirmed(t, "10:00")
	h.confirmed(t, "11:00")

	moved, err := h.svc.Reschedule(ctx, h.staff.ID, c.ID, h.local(t, "10:15"))
	require.NoError(t, err)
	_, hhmm := h.tz.ToLocal(*moved.StartTime)
	assert.Equal(t, "10:15", hhmm)
	assert.Equal(t, StatusConfirmed, moved.Status)

	_, err = h.svc.Reschedule(ctx, h.staff.ID, c.ID, h.local(t, "10:45"))
	assert.ErrorIs(t, err, apperr.ErrConflict)

	stored, err := h.repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	_, hhmm = h.tz.ToLocal(*stored.StartTime)
	assert.Equal(t, "10:15", hhmm)

	pending := h.request(t, h.patient)
	_, err = h.svc.Reschedule(ctx, h.staff.ID, pending.ID, h.local(t, "15:00"))
	assert.ErrorIs(t, err, apperr.ErrState)
}

func TestCancelledBookingFreesTheWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.confirmed(t, "10:00")

	_, err := h.svc.Cancel(ctx, h.staff.ID, c.ID, "provider sick")
	require.NoError(t, err)

	next := h.request(t, h.other)
	_, err = h.svc.Confirm(ctx, h.staff.ID, next.ID, h.provider.ID, h.local(t, "10:00"))
	assert.NoError(t, err)
}

func TestGetAndListAuthorization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.request(t, h.patient)
	h.confirmed(t, "09:00")

	_, err := h.svc.Get(ctx, h.other.ID, a.ID)
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	got, err := h.svc.Get(ctx, h.patient.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	list, err := h.svc.ListForPatient(ctx, h.patient.ID, h.patient.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	page, err := h.svc.ListForPatient(ctx, h.staff.ID, h.patient.ID, 1, 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	_, err = h.svc.ListForPatient(ctx, h.other.ID, h.patient.ID, 10, 0)
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	day, err := h.svc.ListForProvider(ctx, h.staff.ID, h.provider.ID, h.monday)
	require.NoError(t, err)
	assert.Len(t, day, 1)

	_, err = h.svc.ListForProvider(ctx, h.patient.ID, h.provider.ID, h.monday)
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
}

func TestExpireStaleRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale, err := h.repo.Create(ctx, Appointment{PatientID: h.patient.ID, AppointmentTypeID: h.visit.ID, RequestedDate: h.monday.AddDays(-3)})
	require.NoError(t, err)
	fresh := h.request(t, h.patient)

	n, err := h.svc.ExpireStaleRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.repo.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.CancellationReason)
	assert.Equal(t, StaleRequestReason, *got.CancellationReason)

	got, err = h.repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	n, err = h.svc.ExpireStaleRequests(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
