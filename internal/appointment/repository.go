package appointment

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("active appointment not found")
	// ErrMultipleActive means the table holds more than one active row
	// for a patient. The core only ever reasons about "the" active
	// appointment, so this is a data-integrity fault to surface, never
	// something to resolve silently.
	ErrMultipleActive = errors.New("multiple active appointments for patient")
)

// Repository contains all DB interactions needed by the coordinator.
type Repository interface {
	// GetActive returns the patient's single active appointment.
	// ErrNotFound when none, ErrMultipleActive when more than one.
	GetActive(ctx context.Context, patientCode string) (*Appointment, error)

	// Upsert records a confirmed booking: updates the patient's active
	// row in place on reschedule, inserts a fresh one otherwise.
	Upsert(ctx context.Context, a *Appointment) (*Appointment, error)

	// Deactivate marks the patient's active appointment inactive.
	Deactivate(ctx context.Context, patientCode string) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
