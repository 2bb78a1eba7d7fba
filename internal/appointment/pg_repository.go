package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs; pgxmock
// satisfies it in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientCode,
		&a.DoctorCode,
		&a.DoctorName,
		&a.DepartmentCode,
		&a.BranchCode,
		&a.StartAt,
		&a.EndAt,
		&a.RemoteRef,
		&a.Active,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &a, nil
}

const appointmentColumns = `id, patient_code, doctor_code, doctor_name, department_code, branch_code,
		start_at, end_at, remote_ref, active, created_at, updated_at`

func (r *PgRepository) GetActive(ctx context.Context, patientCode string) (*Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_code = $1 AND active
		LIMIT 2
	`, patientCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return found[0], nil
	default:
		return nil, ErrMultipleActive
	}
}

func (r *PgRepository) Upsert(ctx context.Context, a *Appointment) (*Appointment, error) {
	// Reschedule path: move the existing active row.
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET doctor_code = $2,
		    doctor_name = $3,
		    department_code = $4,
		    branch_code = $5,
		    start_at = $6,
		    end_at = $7,
		    remote_ref = $8,
		    updated_at = now()
		WHERE patient_code = $1 AND active
		RETURNING `+appointmentColumns+`
	`, a.PatientCode, a.DoctorCode, a.DoctorName, a.DepartmentCode, a.BranchCode,
		a.StartAt, a.EndAt, a.RemoteRef)

	updated, err := scanAppointment(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("update active appointment: %w", err)
	}

	// Fresh booking path.
	id := uuid.New()
	row = r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_code, doctor_code, doctor_name, department_code, branch_code,
			start_at, end_at, remote_ref, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, a.PatientCode, a.DoctorCode, a.DoctorName, a.DepartmentCode, a.BranchCode,
		a.StartAt, a.EndAt, a.RemoteRef)

	inserted, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return inserted, nil
}

func (r *PgRepository) Deactivate(ctx context.Context, patientCode string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET active = false,
		    updated_at = now()
		WHERE patient_code = $1 AND active
	`, patientCode)
	if err != nil {
		return fmt.Errorf("deactivate appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, patient_code, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.PatientCode, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
