package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medassist/appointment-negotiation/internal/appointment"
)

type fakeAppointments struct {
	active *appointment.Appointment
	err    error
}

func (f *fakeAppointments) GetActive(ctx context.Context, patientCode string) (*appointment.Appointment, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.active == nil {
		return nil, appointment.ErrNotFound
	}
	return f.active, nil
}

type fakeDirectory struct {
	Repository
	queue    *QueueEntry
	queueErr error
}

func (f *fakeDirectory) LatestQueueEntry(ctx context.Context, patientCode string) (*QueueEntry, error) {
	if f.queueErr != nil {
		return nil, f.queueErr
	}
	if f.queue == nil {
		return nil, ErrQueueEntryNotFound
	}
	return f.queue, nil
}

func TestResolveFromAppointmentOnly(t *testing.T) {
	r := NewBranchResolver(
		&fakeDirectory{},
		&fakeAppointments{active: &appointment.Appointment{BranchCode: 12}},
	)

	branch, err := r.Resolve(context.Background(), "100234")
	require.NoError(t, err)
	assert.Equal(t, 12, branch)
}

func TestResolveFromQueueOnly(t *testing.T) {
	r := NewBranchResolver(
		&fakeDirectory{queue: &QueueEntry{PatientCode: "100234", BranchCode: 7, CreatedAt: time.Now()}},
		&fakeAppointments{},
	)

	branch, err := r.Resolve(context.Background(), "100234")
	require.NoError(t, err)
	assert.Equal(t, 7, branch)
}

func TestResolveAgreeingSources(t *testing.T) {
	r := NewBranchResolver(
		&fakeDirectory{queue: &QueueEntry{BranchCode: 12}},
		&fakeAppointments{active: &appointment.Appointment{BranchCode: 12}},
	)

	branch, err := r.Resolve(context.Background(), "100234")
	require.NoError(t, err)
	assert.Equal(t, 12, branch)
}

func TestResolveMismatchIsIntegrityFault(t *testing.T) {
	r := NewBranchResolver(
		&fakeDirectory{queue: &QueueEntry{BranchCode: 7}},
		&fakeAppointments{active: &appointment.Appointment{BranchCode: 12}},
	)

	_, err := r.Resolve(context.Background(), "100234")
	assert.ErrorIs(t, err, ErrBranchMismatch)
}

func TestResolveNoSourcesIsUnresolved(t *testing.T) {
	r := NewBranchResolver(&fakeDirectory{}, &fakeAppointments{})

	_, err := r.Resolve(context.Background(), "100234")
	assert.ErrorIs(t, err, ErrBranchUnresolved)
}

func TestResolveMultipleActivePropagates(t *testing.T) {
	r := NewBranchResolver(
		&fakeDirectory{queue: &QueueEntry{BranchCode: 7}},
		&fakeAppointments{err: appointment.ErrMultipleActive},
	)

	_, err := r.Resolve(context.Background(), "100234")
	assert.ErrorIs(t, err, appointment.ErrMultipleActive)
}
