package availability

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

var ErrBlockNotFound = &apperr.Error{Kind: apperr.KindNotFound, Message: "availability block not found"}

// Block is a window of local wall-clock time during which a provider can be
// booked. Recurring blocks repeat every week on Weekday, optionally bounded by
// the effective range. One-off blocks apply only inside their effective range.
type Block struct {
	ID             uuid.UUID
	ProviderID     uuid.UUID
	Weekday        time.Weekday
	StartTime      timezone.ClockTime
	EndTime        timezone.ClockTime
	IsRecurring    bool
	EffectiveFrom  *timezone.Date
	EffectiveUntil *timezone.Date
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BlockInput is the unparsed form accepted from callers.
type BlockInput struct {
	ProviderID     uuid.UUID
	Weekday        int
	StartTime      string
	EndTime        string
	IsRecurring    bool
	EffectiveFrom  string
	EffectiveUntil string
}

// Parse validates the input and builds a Block without an ID.
func (in BlockInput) Parse() (Block, error) {
	if in.ProviderID == uuid.Nil {
		return Block{}, apperr.Validation("provider_id is required")
	}
	if in.Weekday < 0 || in.Weekday > 6 {
		return Block{}, apperr.Validation("weekday must be between 0 (Sunday) and 6 (Saturday), got %d", in.Weekday)
	}
	start, err := timezone.ParseClock(in.StartTime)
	if err != nil {
		return Block{}, apperr.Validation("start_time: %v", err)
	}
	end, err := timezone.ParseEndClock(in.EndTime)
	if err != nil {
		return Block{}, apperr.Validation("end_time: %v", err)
	}

	b := Block{
		ProviderID:  in.ProviderID,
		Weekday:     time.Weekday(in.Weekday),
		StartTime:   start,
		EndTime:     end,
		IsRecurring: in.IsRecurring,
	}
	if s := strings.TrimSpace(in.EffectiveFrom); s != "" {
		d, err := timezone.ParseDate(s)
		if err != nil {
			return Block{}, apperr.Validation("effective_from: %v", err)
		}
		b.EffectiveFrom = &d
	}
	if s := strings.TrimSpace(in.EffectiveUntil); s != "" {
		d, err := timezone.ParseDate(s)
		if err != nil {
			return Block{}, apperr.Validation("effective_until: %v", err)
		}
		b.EffectiveUntil = &d
	}

	if err := b.Validate(); err != nil {
		return Block{}, err
	}
	return b, nil
}

// Validate checks the invariants every stored block must hold.
func (b Block) Validate() error {
	if b.ProviderID == uuid.Nil {
		return apperr.Validation("provider_id is required")
	}
	if b.Weekday < time.Sunday || b.Weekday > time.Saturday {
		return apperr.Validation("weekday must be between 0 and 6")
	}
	if b.StartTime < 0 || b.EndTime > timezone.EndOfDay {
		return apperr.Validation("times must fall within one day")
	}
	if b.StartTime >= b.EndTime {
		return apperr.Validation("start_time %s must be before end_time %s", b.StartTime, b.EndTime)
	}
	if b.EffectiveFrom != nil && b.EffectiveUntil != nil && b.EffectiveUntil.Before(*b.EffectiveFrom) {
		return apperr.Validation("effective_until must not be before effective_from")
	}
	if !b.IsRecurring {
		if b.EffectiveFrom == nil {
			return apperr.Validation("non-recurring blocks require effective_from")
		}
		if b.EffectiveFrom.Weekday() != b.Weekday {
			return apperr.Validation("effective_from %s is a %s, block weekday is %s", b.EffectiveFrom, b.EffectiveFrom.Weekday(), b.Weekday)
		}
	}
	return nil
}

// dateRange returns the inclusive date bounds the block applies within.
// A nil bound is open.
func (b Block) dateRange() (from, until *timezone.Date) {
	if !b.IsRecurring {
		if b.EffectiveUntil == nil {
			return b.EffectiveFrom, b.EffectiveFrom
		}
	}
	return b.EffectiveFrom, b.EffectiveUntil
}

// AppliesOn reports whether the block contributes working hours on d.
func (b Block) AppliesOn(d timezone.Date) bool {
	if d.Weekday() != b.Weekday {
		return false
	}
	from, until := b.dateRange()
	if from != nil && d.Before(*from) {
		return false
	}
	if until != nil && d.After(*until) {
		return false
	}
	return true
}

// ApplicableOn filters blocks down to those that apply on d.
func ApplicableOn(blocks []Block, d timezone.Date) []Block {
	var out []Block
	for _, b := range blocks {
		if b.AppliesOn(d) {
			out = append(out, b)
		}
	}
	return out
}

func rangesIntersect(a, b Block) bool {
	aFrom, aUntil := a.dateRange()
	bFrom, bUntil := b.dateRange()
	if aUntil != nil && bFrom != nil && aUntil.Before(*bFrom) {
		return false
	}
	if bUntil != nil && aFrom != nil && bUntil.Before(*aFrom) {
		return false
	}
	return true
}
