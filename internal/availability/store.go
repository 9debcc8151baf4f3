package availability

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Store persists availability blocks. Add and Update validate the block and
// apply the store's multiplicity policy against the provider's other blocks;
// writes for one provider are serialized so two concurrent writes cannot both
// pass the sibling check.
type Store interface {
	Add(ctx context.Context, b Block) (Block, error)
	Get(ctx context.Context, id uuid.UUID) (Block, error)
	List(ctx context.Context, providerID uuid.UUID) ([]Block, error)
	ListForWeekday(ctx context.Context, providerID uuid.UUID, weekday time.Weekday) ([]Block, error)
	Update(ctx context.Context, id uuid.UUID, b Block) (Block, error)
	Remove(ctx context.Context, id uuid.UUID) error
}

func sortBlocks(blocks []Block) {
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].Weekday != blocks[j].Weekday {
			return blocks[i].Weekday < blocks[j].Weekday
		}
		if blocks[i].StartTime != blocks[j].StartTime {
			return blocks[i].StartTime < blocks[j].StartTime
		}
		return blocks[i].ID.String() < blocks[j].ID.String()
	})
}
