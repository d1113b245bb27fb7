package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pharmatech/medication-adherence/internal/db"
	"github.com/pharmatech/medication-adherence/internal/regimen"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, "medadherence-seed")
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := ensureSchema(context.Background(), pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	catalogIDs, err := seedCatalog(context.Background(), pool)
	if err != nil {
		log.Fatalf("seed catalog: %v", err)
	}
	if err := seedRegimens(context.Background(), pool, catalogIDs, 500); err != nil {
		log.Fatalf("seed regimens: %v", err)
	}

	log.Println("seed complete")
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS medication_catalog (
			id uuid PRIMARY KEY,
			name text NOT NULL,
			generic_name text NOT NULL DEFAULT '',
			form text NOT NULL DEFAULT '',
			strength text NOT NULL DEFAULT '',
			category text NOT NULL DEFAULT '',
			requires_prescription boolean NOT NULL DEFAULT false
		);

		CREATE TABLE IF NOT EXISTS regimens (
			id uuid PRIMARY KEY,
			owner_id uuid NOT NULL,
			medication_name text NOT NULL,
			catalog_id uuid REFERENCES medication_catalog (id),
			dosage text NOT NULL DEFAULT '',
			frequency text NOT NULL,
			interval_hours int NOT NULL DEFAULT 0,
			time_slots text[] NOT NULL,
			active_from date NOT NULL,
			active_until date,
			instructions text,
			color text NOT NULL DEFAULT '#667EEA',
			enabled boolean NOT NULL DEFAULT true,
			created_at timestamptz NOT NULL,
			updated_at timestamptz NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_regimens_owner ON regimens (owner_id);

		CREATE TABLE IF NOT EXISTS dose_events (
			id uuid PRIMARY KEY,
			regimen_id uuid NOT NULL REFERENCES regimens (id),
			owner_id uuid NOT NULL,
			medication_name text NOT NULL,
			scheduled_at timestamptz NOT NULL,
			status text NOT NULL DEFAULT 'pending',
			taken_at timestamptz,
			skip_reason text,
			notified_at timestamptz,
			created_at timestamptz NOT NULL,
			UNIQUE (regimen_id, scheduled_at)
		);
		CREATE INDEX IF NOT EXISTS idx_dose_events_owner_scheduled ON dose_events (owner_id, scheduled_at);
		CREATE INDEX IF NOT EXISTS idx_dose_events_due ON dose_events (scheduled_at) WHERE status = 'pending' AND notified_at IS NULL;

		CREATE TABLE IF NOT EXISTS history_entries (
			id uuid PRIMARY KEY,
			owner_id uuid NOT NULL,
			regimen_id uuid NOT NULL,
			dose_event_id uuid NOT NULL,
			medication_name text NOT NULL,
			dosage text NOT NULL DEFAULT '',
			resulting_status text NOT NULL,
			was_on_time boolean NOT NULL,
			transitioned_at timestamptz NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_owner ON history_entries (owner_id, transitioned_at DESC);
	`)
	return err
}

type catalogSeed struct {
	name       string
	generic    string
	form       string
	strength   string
	category   string
	prescribed bool
}

var catalogSeeds = []catalogSeed{
	{"Doliprane", "Paracetamol", "tablet", "1000 mg", "Analgesic", false},
	{"Dafalgan", "Paracetamol", "tablet", "500 mg", "Analgesic", false},
	{"Augmentin", "Amoxicillin/Clavulanate", "tablet", "1 g", "Antibiotic", true},
	{"Glucophage", "Metformin", "tablet", "850 mg", "Antidiabetic", true},
	{"Amlor", "Amlodipine", "capsule", "5 mg", "Antihypertensive", true},
	{"Ventoline", "Salbutamol", "inhaler", "100 mcg", "Bronchodilator", true},
	{"Aspegic", "Aspirin", "sachet", "500 mg", "Analgesic", false},
	{"Levothyrox", "Levothyroxine", "tablet", "75 mcg", "Thyroid hormone", true},
	{"Mopral", "Omeprazole", "capsule", "20 mg", "Proton-pump inhibitor", true},
	{"Crestor", "Rosuvastatin", "tablet", "10 mg", "Statin", true},
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	log.Printf("seeding %d catalog entries", len(catalogSeeds))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, len(catalogSeeds))
	for _, c := range catalogSeeds {
		id := uuid.New()

		_, err := tx.Exec(ctx, `
			INSERT INTO medication_catalog (id, name, generic_name, form, strength, category, requires_prescription)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, id, c.name, c.generic, c.form, c.strength, c.category, c.prescribed)
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("catalog seeded")
	return ids, nil
}

var slotChoices = [][]string{
	{"morning"},
	{"08:00"},
	{"morning", "evening"},
	{"08:00", "20:00"},
	{"08:00", "14:00", "20:00"},
	{"morning", "afternoon", "night"},
}

func seedRegimens(ctx context.Context, pool *pgxpool.Pool, catalogIDs []uuid.UUID, owners int) error {
	log.Printf("seeding regimens for %d owners", owners)

	const batchSize = 100

	for offset := 0; offset < owners; offset += batchSize {
		end := offset + batchSize
		if end > owners {
			end = owners
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			ownerID := uuid.New()
			count := gofakeit.Number(1, 3)

			for j := 0; j < count; j++ {
				catalogID := catalogIDs[gofakeit.Number(0, len(catalogIDs)-1)]
				slots := slotChoices[gofakeit.Number(0, len(slotChoices)-1)]
				freq := frequencyForSlots(len(slots))
				activeFrom := time.Now().AddDate(0, 0, -gofakeit.Number(0, 14))

				var activeUntil *time.Time
				if gofakeit.Bool() {
					until := activeFrom.AddDate(0, 0, gofakeit.Number(7, 60))
					activeUntil = &until
				}

				var seed catalogSeed
				for k, id := range catalogIDs {
					if id == catalogID {
						seed = catalogSeeds[k]
						break
					}
				}

				_, err := tx.Exec(ctx, `
					INSERT INTO regimens (id, owner_id, medication_name, catalog_id, dosage, frequency, interval_hours,
						time_slots, active_from, active_until, instructions, color, enabled, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, NULL, $10, true, now(), now())
				`, uuid.New(), ownerID, seed.name, catalogID, seed.strength, freq,
					slots, activeFrom, activeUntil, regimen.DefaultColor)
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("owners seeded: %d/%d", end, owners)
	}

	log.Println("regimens seeded")
	return nil
}

func frequencyForSlots(n int) regimen.Frequency {
	switch n {
	case 1:
		return regimen.FreqOnceDaily
	case 2:
		return regimen.FreqTwiceDaily
	case 3:
		return regimen.FreqThreeTimesDaily
	default:
		return regimen.FreqFourTimesDaily
	}
}
