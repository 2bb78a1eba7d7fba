package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs; pgxmock
// satisfies it in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.Code,
		&p.FullName,
		&p.Phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.Code,
		&d.FullName,
		&d.DepartmentCode,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func (r *PgRepository) GetPatientByCode(ctx context.Context, code string) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT code, full_name, phone, created_at, updated_at
		FROM patients
		WHERE code = $1
	`, code)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByCode(ctx context.Context, code int) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT code, full_name, department_code
		FROM doctors
		WHERE code = $1
	`, code)
	return scanDoctor(row)
}

func (r *PgRepository) UpsertDoctor(ctx context.Context, d Doctor) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO doctors (code, full_name, department_code)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    department_code = EXCLUDED.department_code
	`, d.Code, d.FullName, d.DepartmentCode)
	if err != nil {
		return fmt.Errorf("upsert doctor %d: %w", d.Code, err)
	}
	return nil
}

func (r *PgRepository) UpsertDepartment(ctx context.Context, d Department) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO departments (code, name)
		VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name
	`, d.Code, d.Name)
	if err != nil {
		return fmt.Errorf("upsert department %d: %w", d.Code, err)
	}
	return nil
}

func (r *PgRepository) UpsertBranch(ctx context.Context, b Branch) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO branches (code, name)
		VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name
	`, b.Code, b.Name)
	if err != nil {
		return fmt.Errorf("upsert branch %d: %w", b.Code, err)
	}
	return nil
}

func (r *PgRepository) LatestQueueEntry(ctx context.Context, patientCode string) (*QueueEntry, error) {
	var q QueueEntry
	err := r.db.QueryRow(ctx, `
		SELECT patient_code, branch_code, created_at
		FROM queue_entries
		WHERE patient_code = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, patientCode).Scan(&q.PatientCode, &q.BranchCode, &q.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueEntryNotFound
		}
		return nil, err
	}
	return &q, nil
}
