package availability

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

// Policy decides how many blocks a provider may hold on one weekday.
type Policy int

const (
	// MultiBlockPerWeekday allows several blocks per weekday (for example a
	// morning and an afternoon block around lunch) as long as they do not
	// overlap. This is the default.
	MultiBlockPerWeekday Policy = iota
	// SingleBlockPerWeekday allows exactly one block per provider and weekday.
	SingleBlockPerWeekday
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "multi", "multi_block_per_weekday":
		return MultiBlockPerWeekday, nil
	case "single", "single_block_per_weekday":
		return SingleBlockPerWeekday, nil
	default:
		return 0, fmt.Errorf("unknown availability policy %q", s)
	}
}

func (p Policy) String() string {
	if p == SingleBlockPerWeekday {
		return "single"
	}
	return "multi"
}

// Check validates candidate against the provider's other blocks. siblings may
// include candidate itself (matched by ID); it is skipped.
func (p Policy) Check(siblings []Block, candidate Block) error {
	for _, s := range siblings {
		if candidate.ID != uuid.Nil && s.ID == candidate.ID {
			continue
		}
		if s.ProviderID != candidate.ProviderID || s.Weekday != candidate.Weekday {
			continue
		}
		switch p {
		case SingleBlockPerWeekday:
			return apperr.Validation("provider already has a block on %s", candidate.Weekday)
		default:
			if !rangesIntersect(s, candidate) {
				continue
			}
			if candidate.StartTime < s.EndTime && candidate.EndTime > s.StartTime {
				return apperr.Validation("block %s-%s on %s overlaps existing block %s-%s",
					candidate.StartTime, candidate.EndTime, candidate.Weekday, s.StartTime, s.EndTime)
			}
		}
	}
	return nil
}
