package slots

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/conflict"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

const DefaultInterval = 15 * time.Minute

// Slot is a candidate window. Start and End are UTC.
type Slot struct {
	Start time.Time
	End   time.Time
}

// BlockSource returns a provider's availability blocks for a weekday.
type BlockSource interface {
	ListForWeekday(ctx context.Context, providerID uuid.UUID, weekday time.Weekday) ([]availability.Block, error)
}

type Generator struct {
	blocks   BlockSource
	detector *conflict.Detector
	tz       *timezone.Normalizer
	now      func() time.Time
}

func NewGenerator(blocks BlockSource, detector *conflict.Detector, tz *timezone.Normalizer) *Generator {
	return &Generator{blocks: blocks, detector: detector, tz: tz, now: time.Now}
}

// WithClock replaces the time source used to drop past candidates.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate returns the free windows of length duration on date, stepping by
// interval from the start of each applicable availability block. Candidates
// must fit wholly inside one block, start no earlier than now and not overlap
// any booking on the provider's calendar. The result is sorted and contains
// no duplicates. Generate only reads.
func (g *Generator) Generate(ctx context.Context, providerID uuid.UUID, date timezone.Date, duration, interval time.Duration) ([]Slot, error) {
	if duration <= 0 {
		return nil, apperr.Validation("duration must be positive")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	blocks, err := g.blocks.ListForWeekday(ctx, providerID, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	blocks = availability.ApplicableOn(blocks, date)
	if len(blocks) == 0 {
		return []Slot{}, nil
	}

	dayStart, dayEnd := g.tz.DayBounds(date)
	busy, err := g.detector.Busy(ctx, providerID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	now := g.now()
	seen := make(map[int64]struct{})
	out := make([]Slot, 0)

	for _, b := range blocks {
		blockStart := g.tz.At(date, b.StartTime)
		blockEnd := g.tz.At(date, b.EndTime)

		for start := blockStart; !start.Add(duration).After(blockEnd); start = start.Add(interval) {
			end := start.Add(duration)
			if start.Before(now) {
				continue
			}
			if conflict.Overlaps(busy, start, end, uuid.Nil) {
				continue
			}
			key := start.UnixNano()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, Slot{Start: start, End: end})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}
