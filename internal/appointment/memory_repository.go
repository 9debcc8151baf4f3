package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/conflict"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

// MemoryRepository keeps appointments in process. It applies the same
// version and status checks as the Postgres repository, and also refuses
// overlapping confirmed windows the way the exclusion constraint does.
type MemoryRepository struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]Appointment
	versions     map[uuid.UUID]int64
	events       []EventLog
	now          func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appointments: make(map[uuid.UUID]Appointment),
		versions:     make(map[uuid.UUID]int64),
		now:          time.Now,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := r.now().UTC()
	a.Status = StatusPending
	a.ProviderID, a.StartTime, a.EndTime = nil, nil, nil
	a.CreatedAt, a.UpdatedAt = now, now
	r.appointments[a.ID] = a
	return &a, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.RLock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if c := out[i].RequestedDate.Compare(out[j].RequestedDate); c != 0 {
			return c > 0
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.RLock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.ProviderID == nil || *a.ProviderID != providerID || !a.Scheduled() {
			continue
		}
		if conflict.Intersects(*a.StartTime, *a.EndTime, from, to) {
			out = append(out, a)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(*out[j].StartTime) })
	return out, nil
}

func (r *MemoryRepository) ListBusy(ctx context.Context, providerID uuid.UUID, windowStart, windowEnd time.Time) ([]conflict.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.busyLocked(providerID, windowStart, windowEnd), nil
}

func (r *MemoryRepository) busyLocked(providerID uuid.UUID, windowStart, windowEnd time.Time) []conflict.Booking {
	var busy []conflict.Booking
	for _, a := range r.appointments {
		if a.ProviderID == nil || *a.ProviderID != providerID || !a.Scheduled() {
			continue
		}
		if a.Status != StatusPending && a.Status != StatusConfirmed {
			continue
		}
		if !conflict.Intersects(*a.StartTime, *a.EndTime, windowStart, windowEnd) {
			continue
		}
		busy = append(busy, conflict.Booking{AppointmentID: a.ID, Start: *a.StartTime, End: *a.EndTime})
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	return busy
}

func (r *MemoryRepository) LoadCalendar(ctx context.Context, providerID uuid.UUID, windowStart, windowEnd time.Time) (Calendar, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Calendar{
		ProviderID: providerID,
		Version:    r.versions[providerID],
		Bookings:   r.busyLocked(providerID, windowStart, windowEnd),
	}, nil
}

func (r *MemoryRepository) CommitSchedule(ctx context.Context, c ScheduleCommit) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.versions[c.ProviderID] != c.ExpectedVersion {
		return nil, ErrCalendarChanged
	}
	a, ok := r.appointments[c.AppointmentID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != c.From {
		return nil, ErrStatusChanged
	}
	if conflict.Overlaps(r.busyLocked(c.ProviderID, c.Start, c.End), c.Start, c.End, c.AppointmentID) {
		return nil, ErrOverlap
	}

	r.versions[c.ProviderID]++
	provider := c.ProviderID
	start, end := c.Start.UTC(), c.End.UTC()
	a.ProviderID = &provider
	a.StartTime, a.EndTime = &start, &end
	a.Status = StatusConfirmed
	a.UpdatedAt = r.now().UTC()
	r.appointments[a.ID] = a
	return &a, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrStatusChanged
	}
	a.Status = to
	if reason != nil {
		v := *reason
		a.CancellationReason = &v
	}
	a.UpdatedAt = r.now().UTC()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) FindStalePending(ctx context.Context, before timezone.Date, limit int) ([]Appointment, error) {
	r.mu.RLock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusPending && a.RequestedDate.Before(before) {
			out = append(out, a)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RequestedDate.Before(out[j].RequestedDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the audit log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}
