package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medassist/appointment-negotiation/internal/db"
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

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedDirectory(context.Background(), pool); err != nil {
		log.Fatalf("seed directory: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedDirectory(ctx context.Context, pool *pgxpool.Pool) error {
	departments := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Ophthalmology",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 1; i <= 3; i++ {
		_, err := tx.Exec(ctx, `
			INSERT INTO branches (code, name)
			VALUES ($1, $2)
			ON CONFLICT (code) DO NOTHING
		`, i, fmt.Sprintf("%s Branch", gofakeit.City()))
		if err != nil {
			return err
		}
	}

	for i, name := range departments {
		_, err := tx.Exec(ctx, `
			INSERT INTO departments (code, name)
			VALUES ($1, $2)
			ON CONFLICT (code) DO NOTHING
		`, i+1, name)
		if err != nil {
			return err
		}
	}

	log.Println("seeding 80 doctors")
	for code := 1; code <= 80; code++ {
		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (code, full_name, department_code)
			VALUES ($1, $2, $3)
			ON CONFLICT (code) DO NOTHING
		`, code, "Dr. "+gofakeit.Name(), gofakeit.Number(1, len(departments)))
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("directory seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			code := fmt.Sprintf("P-%06d", i+1)
			name := gofakeit.Name()
			phone := gofakeit.Phone()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (code, full_name, phone, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
				ON CONFLICT (code) DO NOTHING
			`, code, name, phone)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			// Every patient gets a queue entry so branch binding resolves
			// even before the first booking.
			_, err = tx.Exec(ctx, `
				INSERT INTO queue_entries (patient_code, branch_code, created_at)
				VALUES ($1, $2, now())
			`, code, gofakeit.Number(1, 3))
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}
