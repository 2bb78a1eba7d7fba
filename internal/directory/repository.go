package directory

import (
	"context"
	"errors"
)

var (
	ErrPatientNotFound    = errors.New("patient not found")
	ErrDoctorNotFound     = errors.New("doctor not found")
	ErrQueueEntryNotFound = errors.New("queue entry not found")
)

// Repository is the read/write contract with the external directory
// store. The negotiation core reads identities and lazily upserts
// reference entities it first sees in protocol responses.
type Repository interface {
	GetPatientByCode(ctx context.Context, code string) (*Patient, error)
	GetDoctorByCode(ctx context.Context, code int) (*Doctor, error)

	UpsertDoctor(ctx context.Context, d Doctor) error
	UpsertDepartment(ctx context.Context, d Department) error
	UpsertBranch(ctx context.Context, b Branch) error

	// LatestQueueEntry returns the patient's most recent queue entry.
	LatestQueueEntry(ctx context.Context, patientCode string) (*QueueEntry, error)
}
