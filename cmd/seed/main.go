package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/apptype"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/identity"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

const (
	providerCount = 40
	staffCount    = 8
	patientCount  = 5000
)

var visitTypes = []apptype.Type{
	{Name: "Consultation", DurationMinutes: 30},
	{Name: "Follow-up", DurationMinutes: 15},
	{Name: "Annual physical", DurationMinutes: 60},
	{Name: "Dermatology screening", DurationMinutes: 45},
	{Name: "Minor procedure", DurationMinutes: 90},
}

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV"), "seed")
	logger.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	if err := seedTypes(ctx, apptype.NewPgRegistry(pool), logger); err != nil {
		logger.Fatal().Err(err).Msg("seed appointment types")
	}
	providers, err := seedUsers(ctx, pool, faker, identity.RoleProvider, providerCount, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed providers")
	}
	if _, err := seedUsers(ctx, pool, faker, identity.RoleStaff, staffCount, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed staff")
	}
	if _, err := seedUsers(ctx, pool, faker, identity.RolePatient, patientCount, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}
	store := availability.NewPgStore(pool, availability.MultiBlockPerWeekday)
	if err := seedAvailability(ctx, store, providers, faker, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed availability")
	}

	logger.Info().Msg("seed complete")
}

func seedTypes(ctx context.Context, registry *apptype.PgRegistry, logger zerolog.Logger) error {
	for _, t := range visitTypes {
		t.IsActive = true
		created, err := registry.Create(ctx, t)
		if err != nil {
			return fmt.Errorf("create %q: %w", t.Name, err)
		}
		logger.Info().Str("type_id", created.ID.String()).Str("name", created.Name).Msg("appointment type seeded")
	}
	return nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, role identity.Role, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Str("role", string(role)).Int("count", count).Msg("seeding users")

	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := faker.Name()
			if role == identity.RoleProvider {
				name = "Dr. " + faker.LastName()
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, role, name, email, created_at)
				VALUES ($1, $2, $3, $4, now())
			`, id, string(role), name, faker.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		logger.Debug().Str("role", string(role)).Int("done", end).Int("total", count).Msg("users seeded")
	}
	return ids, nil
}

// seedAvailability gives each provider a morning and an afternoon block on
// most weekdays, split by a lunch break.
func seedAvailability(ctx context.Context, store *availability.PgStore, providers []uuid.UUID, faker *gofakeit.Faker, logger zerolog.Logger) error {
	morningStart := []int{7 * 60, 8 * 60, 9 * 60}
	for _, providerID := range providers {
		start := morningStart[faker.Number(0, len(morningStart)-1)]
		lunch := 12*60 + faker.Number(0, 2)*30
		for wd := time.Monday; wd <= time.Friday; wd++ {
			if faker.Number(1, 10) == 1 {
				continue
			}
			windows := [][2]int{{start, lunch}, {lunch + 60, start + 9*60}}
			for _, w := range windows {
				_, err := store.Add(ctx, availability.Block{
					ProviderID:  providerID,
					Weekday:     wd,
					StartTime:   timezone.ClockTime(w[0]),
					EndTime:     timezone.ClockTime(w[1]),
					IsRecurring: true,
				})
				if err != nil {
					return fmt.Errorf("provider %s %s: %w", providerID, wd, err)
				}
			}
		}
	}
	logger.Info().Int("providers", len(providers)).Msg("availability seeded")
	return nil
}
