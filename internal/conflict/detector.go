package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Booking is an occupied interval [Start, End) on a provider's calendar.
type Booking struct {
	AppointmentID uuid.UUID
	Start         time.Time
	End           time.Time
}

// CalendarSource lists the bookings that block a provider's time: pending
// appointments that carry a time, and confirmed ones.
type CalendarSource interface {
	ListBusy(ctx context.Context, providerID uuid.UUID, windowStart, windowEnd time.Time) ([]Booking, error)
}

// Intersects reports whether [aStart, aEnd) and [bStart, bEnd) overlap.
// Touching endpoints do not overlap.
func Intersects(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// Overlaps reports whether [start, end) overlaps any booking other than exclude.
// Pass uuid.Nil to exclude nothing.
func Overlaps(bookings []Booking, start, end time.Time, exclude uuid.UUID) bool {
	_, ok := FirstOverlap(bookings, start, end, exclude)
	return ok
}

// FirstOverlap returns the first booking that overlaps [start, end).
func FirstOverlap(bookings []Booking, start, end time.Time, exclude uuid.UUID) (Booking, bool) {
	for _, b := range bookings {
		if exclude != uuid.Nil && b.AppointmentID == exclude {
			continue
		}
		if Intersects(start, end, b.Start, b.End) {
			return b, true
		}
	}
	return Booking{}, false
}

// Detector loads a provider's busy set from the live calendar. Callers test
// candidates against it with Overlaps.
type Detector struct {
	source CalendarSource
}

func NewDetector(source CalendarSource) *Detector {
	return &Detector{source: source}
}

// Busy returns the provider's bookings intersecting the window.
func (d *Detector) Busy(ctx context.Context, providerID uuid.UUID, windowStart, windowEnd time.Time) ([]Booking, error) {
	busy, err := d.source.ListBusy(ctx, providerID, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("load provider calendar: %w", err)
	}
	return busy, nil
}
