package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/medassist/appointment-negotiation/internal/appointment"
)

var (
	// ErrBranchMismatch: the active appointment and the latest queue
	// entry name different branches. A data-integrity fault; choosing
	// one could route the booking to the wrong clinic.
	ErrBranchMismatch = errors.New("bound branch sources disagree")
	// ErrBranchUnresolved: neither source knows the patient's branch.
	// Surfaced instead of falling back to a default branch.
	ErrBranchUnresolved = errors.New("bound branch cannot be resolved")
)

// ActiveAppointmentSource is the slice of the appointment repository the
// resolver needs.
type ActiveAppointmentSource interface {
	GetActive(ctx context.Context, patientCode string) (*appointment.Appointment, error)
}

// BranchResolver determines the single branch all scheduling operations
// in a negotiation must use. The branch comes from the patient's active
// appointment or their latest queue entry; when both exist they must
// agree.
type BranchResolver struct {
	repo  Repository
	appts ActiveAppointmentSource
}

func NewBranchResolver(repo Repository, appts ActiveAppointmentSource) *BranchResolver {
	return &BranchResolver{repo: repo, appts: appts}
}

// Resolve returns the patient's bound branch code.
func (r *BranchResolver) Resolve(ctx context.Context, patientCode string) (int, error) {
	apptBranch := 0
	active, err := r.appts.GetActive(ctx, patientCode)
	switch {
	case err == nil:
		apptBranch = active.BranchCode
	case errors.Is(err, appointment.ErrNotFound):
		// no active appointment, the queue entry may still know
	case errors.Is(err, appointment.ErrMultipleActive):
		return 0, err
	default:
		return 0, fmt.Errorf("load active appointment: %w", err)
	}

	queueBranch := 0
	entry, err := r.repo.LatestQueueEntry(ctx, patientCode)
	switch {
	case err == nil:
		queueBranch = entry.BranchCode
	case errors.Is(err, ErrQueueEntryNotFound):
	default:
		return 0, fmt.Errorf("load latest queue entry: %w", err)
	}

	switch {
	case apptBranch != 0 && queueBranch != 0:
		if apptBranch != queueBranch {
			return 0, fmt.Errorf("%w: appointment says %d, queue says %d",
				ErrBranchMismatch, apptBranch, queueBranch)
		}
		return apptBranch, nil
	case apptBranch != 0:
		return apptBranch, nil
	case queueBranch != 0:
		return queueBranch, nil
	default:
		return 0, ErrBranchUnresolved
	}
}
