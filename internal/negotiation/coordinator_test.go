package negotiation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medassist/appointment-negotiation/internal/appointment"
	"github.com/medassist/appointment-negotiation/internal/availability"
	"github.com/medassist/appointment-negotiation/internal/clinicbackend"
	"github.com/medassist/appointment-negotiation/internal/directory"
	redisclient "github.com/medassist/appointment-negotiation/internal/redis"
)

// Fixed clock for every test: Tuesday 2026-03-10, mid-day.
var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	reserveErrs  []error // popped per Reserve call; nil means success
	reserveCalls []clinicbackend.ReserveRequest
	reserveRef   string

	cancelErr   error
	cancelCalls [][2]any // ref, branch

	booking    *clinicbackend.Booking
	bookingErr error
}

func (b *fakeBackend) Reserve(_ context.Context, r clinicbackend.ReserveRequest) (string, error) {
	b.reserveCalls = append(b.reserveCalls, r)
	var err error
	if len(b.reserveErrs) > 0 {
		err, b.reserveErrs = b.reserveErrs[0], b.reserveErrs[1:]
	}
	if err != nil {
		return "", err
	}
	if b.reserveRef == "" {
		return "remote-ref-1", nil
	}
	return b.reserveRef, nil
}

func (b *fakeBackend) Cancel(_ context.Context, ref string, branch int) error {
	b.cancelCalls = append(b.cancelCalls, [2]any{ref, branch})
	return b.cancelErr
}

func (b *fakeBackend) GetCurrentBooking(context.Context, string) (*clinicbackend.Booking, error) {
	if b.bookingErr != nil {
		return nil, b.bookingErr
	}
	if b.booking == nil {
		return nil, clinicbackend.ErrBookingNotFound
	}
	return b.booking, nil
}

type fakeAvailability struct {
	days    []*availability.Day // popped per call; last entry sticks
	err     error
	fetches int
	flushes int
}

func (a *fakeAvailability) DaySchedule(_ context.Context, _ string, _, _ int, _ string) (*availability.Day, error) {
	a.fetches++
	if a.err != nil {
		return nil, a.err
	}
	if len(a.days) == 0 {
		return &availability.Day{}, nil
	}
	day := a.days[0]
	if len(a.days) > 1 {
		a.days = a.days[1:]
	}
	return day, nil
}

func (a *fakeAvailability) Invalidate(context.Context, string) { a.flushes++ }

type fakePatients struct {
	patient *directory.Patient
}

func (p *fakePatients) GetPatientByCode(_ context.Context, code string) (*directory.Patient, error) {
	if p.patient == nil || p.patient.Code != code {
		return nil, directory.ErrPatientNotFound
	}
	return p.patient, nil
}

type fakeBranches struct {
	branch int
	err    error
}

func (b *fakeBranches) Resolve(context.Context, string) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	return b.branch, nil
}

type fakeAppointments struct {
	active    *appointment.Appointment
	activeErr error

	upserted    []*appointment.Appointment
	deactivated int
	events      []appointment.EventLog
}

func (f *fakeAppointments) GetActive(context.Context, string) (*appointment.Appointment, error) {
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	if f.active == nil {
		return nil, appointment.ErrNotFound
	}
	return f.active, nil
}

func (f *fakeAppointments) Upsert(_ context.Context, a *appointment.Appointment) (*appointment.Appointment, error) {
	stored := *a
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	f.upserted = append(f.upserted, &stored)
	f.active = &stored
	return &stored, nil
}

func (f *fakeAppointments) Deactivate(context.Context, string) error {
	f.deactivated++
	return nil
}

func (f *fakeAppointments) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	f.events = append(f.events, ev)
	return nil
}

type fakeLease struct {
	holder   string
	released int
}

func (l *fakeLease) Renew(context.Context) error   { return nil }
func (l *fakeLease) Release(context.Context) error { l.released++; return nil }
func (l *fakeLease) Holder() string                { return l.holder }

type fakeLeaser struct {
	errs     []error // popped per Acquire; nil means granted
	acquired []time.Time
	leases   []*fakeLease
}

func (f *fakeLeaser) Acquire(_ context.Context, startAt time.Time, holder string) (redisclient.Lease, error) {
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	if err != nil {
		return nil, err
	}
	f.acquired = append(f.acquired, startAt)
	lease := &fakeLease{holder: holder}
	f.leases = append(f.leases, lease)
	return lease, nil
}

type fixture struct {
	backend  *fakeBackend
	avail    *fakeAvailability
	patients *fakePatients
	branches *fakeBranches
	appts    *fakeAppointments
	leaser   *fakeLeaser
	coord    *Coordinator
}

func newFixture() *fixture {
	f := &fixture{
		backend: &fakeBackend{},
		avail:   &fakeAvailability{},
		patients: &fakePatients{patient: &directory.Patient{
			Code:     "P-100",
			FullName: "Anna Sergeeva",
		}},
		branches: &fakeBranches{branch: 2},
		appts:    &fakeAppointments{},
		leaser:   &fakeLeaser{},
	}
	f.coord = NewCoordinator(Options{
		Backend:      f.backend,
		Availability: f.avail,
		Patients:     f.patients,
		Branches:     f.branches,
		Appointments: f.appts,
		Leaser:       f.leaser,
		Location:     time.UTC,
		OpenAt:       "09:00",
		CloseAt:      "21:00",
	})
	f.coord.now = func() time.Time { return testNow }
	return f
}

func mustDay(t *testing.T, date string) time.Time {
	t.Helper()
	day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	require.NoError(t, err)
	return day
}

func iv(date, begin, end string) clinicbackend.FreeInterval {
	return clinicbackend.FreeInterval{
		DoctorCode:     7,
		DoctorName:     "Dr. Petrova",
		DepartmentCode: 3,
		BranchCode:     2,
		Date:           date,
		Begin:          begin,
		End:            end,
		FreeCount:      1,
		ScheduleRef:    "sch-" + begin,
	}
}

func day(date string, intervals ...clinicbackend.FreeInterval) *availability.Day {
	return &availability.Day{Date: date, HasFreeSlots: len(intervals) > 0, Intervals: intervals}
}

func TestReserveExactSlotBooksToday(t *testing.T) {
	f := newFixture()
	f.avail.days = []*availability.Day{day("2026-03-10",
		iv("2026-03-10", "10:00", "10:30"),
		iv("2026-03-10", "14:30", "15:00"),
	)}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpReserve,
		Date:        "2026-03-10",
		Time:        "14:30",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusBookedToday, resp.StatusCode)
	assert.Equal(t, "14:30", resp.Time)
	assert.Equal(t, "Dr. Petrova", resp.SpecialistName)
	assert.Equal(t, "March 10", resp.Date)
	assert.Equal(t, "10 марта", resp.DateLocale2)
	assert.Equal(t, "Tuesday", resp.Weekday)
	assert.Equal(t, "вторник", resp.WeekdayLocale2)

	require.Len(t, f.backend.reserveCalls, 1)
	call := f.backend.reserveCalls[0]
	assert.Equal(t, "sch-14:30", call.ScheduleRef)
	assert.Equal(t, 2, call.BranchCode)
	assert.Equal(t, "Anna Sergeeva", call.PatientName)
	assert.Empty(t, call.ExistingRef)

	require.Len(t, f.appts.upserted, 1)
	assert.Equal(t, "remote-ref-1", f.appts.upserted[0].RemoteRef)
	assert.Equal(t, time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC), f.appts.upserted[0].StartAt)

	require.Len(t, f.leaser.leases, 1)
	assert.Equal(t, 1, f.leaser.leases[0].released)
	assert.Equal(t, 1, f.avail.flushes)

	require.Len(t, f.appts.events, 1)
	assert.Equal(t, "reserve_confirmed", f.appts.events[0].EventType)
}

func TestReserveOtherDayStatus(t *testing.T) {
	f := newFixture()
	f.avail.days = []*availability.Day{day("2026-03-14", iv("2026-03-14", "11:00", "11:30"))}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpReserve,
		Date:        "2026-03-14",
		Time:        "11:00",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusBookedOtherDay, resp.StatusCode)
}

func TestReserveNoExactOffersAlternatives(t *testing.T) {
	f := newFixture()
	f.avail.days = []*availability.Day{day("2026-03-11",
		iv("2026-03-11", "10:00", "10:30"),
		iv("2026-03-11", "16:00", "16:30"),
	)}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpReserve,
		Date:        "2026-03-11",
		Time:        "14:30",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusTwoAlternativesTomorrow, resp.StatusCode)
	assert.Equal(t, "10:00", resp.FirstTime)
	assert.Equal(t, "16:00", resp.SecondTime)
	assert.Empty(t, resp.ThirdTime)
	assert.Empty(t, f.backend.reserveCalls)
	assert.Empty(t, f.leaser.acquired)
}

func TestReserveEmptyDayReportsNoSlots(t *testing.T) {
	f := newFixture()
	f.avail.days = []*availability.Day{day("2026-03-10")}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpReserve,
		Date:        "2026-03-10",
		Time:        "14:30",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusNoSlotsToday, resp.StatusCode)
}

func TestReserveConflictRetriesOnceAndConfirms(t *testing.T) {
	f := newFixture()
	contested := day("2026-03-10", iv("2026-03-10", "14:30", "15:00"))
	f.avail.days = []*availability.Day{contested, contested}
	f.backend.reserveErrs = []error{clinicbackend.ErrSlotTaken, nil}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpReserve,
		Date:        "2026-03-10",
		Time:        "14:30",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusBookedToday, resp.StatusCode)
	assert.Len(t, f.backend.reserveCalls, 2)
	assert.Equal(t, 2, f.avail.fetches)
	for _, lease := range f.leaser.leases {
		assert.Equal(t, 1, lease.released)
	}
}

func TestReserveSecondConflictOffersFreshAlternatives(t *testing.T) {
	f := newFixture()
	contested := day("2026-03-10", iv("2026-03-10", "14:30", "15:00"))
	// After the second conflict only other times remain.
	remaining := day("2026-03-10",
		iv("2026-03-10", "15:00", "15:30"),
		iv("2026-03-10", "17:30", "18:00"),
	)
	f.avail.days = []*availability.Day{contested, contested, remaining}
	f.backend.reserveErrs = []error{clinicbackend.ErrSlotTaken, clinicbackend.ErrSlotTaken}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpReserve,
		Date:        "2026-03-10",
		Time:        "14:30",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusTwoAlternativesToday, resp.StatusCode)
	assert.Equal(t, "15:00", resp.FirstTime)
	assert.Equal(t, "17:30", resp.SecondTime)
	// Exactly two reserve attempts: the retry is not repeated.
	assert.Len(t, f.backend.reserveCalls, 2)
}

func TestReserveRematchMissAfterConflict(t *testing.T) {
	f := newFixture()
	contested := day("2026-03-10", iv("2026-03-10", "14:30", "15:00"))
	refreshed := day("2026-03-10", iv("2026-03-10", "18:00", "18:30"))
	f.avail.days = []*availability.Day{contested, refreshed}
	f.backend.reserveErrs = []error{clinicbackend.ErrSlotTaken}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpReserve,
		Date:        "2026-03-10",
		Time:        "14:30",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusOneAlternativeToday, resp.StatusCode)
	assert.Equal(t, "18:00", resp.FirstTime)
	assert.Len(t, f.backend.reserveCalls, 1)
}

func TestReserveLeaseHeldCountsAsConflict(t *testing.T) {
	f := newFixture()
	contested := day("2026-03-10", iv("2026-03-10", "14:30", "15:00"))
	remaining := day("2026-03-10", iv("2026-03-10", "16:00", "16:30"))
	f.avail.days = []*availability.Day{contested, contested, remaining}
	f.leaser.errs = []error{redisclient.ErrLeaseHeld, redisclient.ErrLeaseHeld}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpReserve,
		Date:        "2026-03-10",
		Time:        "14:30",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusOneAlternativeToday, resp.StatusCode)
	// The backend was never asked while the lease was contested.
	assert.Empty(t, f.backend.reserveCalls)
}

func TestReserveTransportFaultIsTerminal(t *testing.T) {
	f := newFixture()
	f.avail.days = []*availability.Day{day("2026-03-10", iv("2026-03-10", "14:30", "15:00"))}
	f.backend.reserveErrs = []error{&clinicbackend.TransportError{
		Op:  "ReserveSlot",
		Err: context.DeadlineExceeded,
	}}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpReserve,
		Date:        "2026-03-10",
		Time:        "14:30",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusBackendUnavailable, resp.StatusCode)
	assert.Len(t, f.backend.reserveCalls, 1)
	require.Len(t, f.leaser.leases, 1)
	assert.Equal(t, 1, f.leaser.leases[0].released)
	assert.Empty(t, f.appts.upserted)
}

func TestRescheduleMovesExistingBooking(t *testing.T) {
	f := newFixture()
	f.appts.active = &appointment.Appointment{
		ID:          uuid.New(),
		PatientCode: "P-100",
		RemoteRef:   "old-ref",
		BranchCode:  2,
		StartAt:     time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC),
		Active:      true,
	}
	f.avail.days = []*availability.Day{day("2026-03-11", iv("2026-03-11", "09:30", "10:00"))}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpReschedule,
		Date:        "2026-03-11",
		Time:        "09:30",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusRescheduledTomorrow, resp.StatusCode)
	require.Len(t, f.backend.reserveCalls, 1)
	assert.Equal(t, "old-ref", f.backend.reserveCalls[0].ExistingRef)
	require.Len(t, f.appts.events, 1)
	assert.Equal(t, "reschedule_confirmed", f.appts.events[0].EventType)
}

func TestRescheduleWithoutActiveDegradesToReserve(t *testing.T) {
	f := newFixture()
	f.avail.days = []*availability.Day{day("2026-03-10", iv("2026-03-10", "14:30", "15:00"))}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpReschedule,
		Date:        "2026-03-10",
		Time:        "14:30",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusBookedToday, resp.StatusCode)
	require.Len(t, f.backend.reserveCalls, 1)
	assert.Empty(t, f.backend.reserveCalls[0].ExistingRef)
}

func TestRescheduleEarlierSameDayUsesPivot(t *testing.T) {
	f := newFixture()
	f.appts.active = &appointment.Appointment{
		ID:          uuid.New(),
		PatientCode: "P-100",
		RemoteRef:   "old-ref",
		BranchCode:  2,
		StartAt:     time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
		Active:      true,
	}
	f.avail.days = []*availability.Day{day("2026-03-10",
		iv("2026-03-10", "10:00", "10:30"),
		iv("2026-03-10", "16:00", "16:30"),
	)}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpReschedule,
		Date:        "2026-03-10",
		Relative:    "earlier",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusOneAlternativeToday, resp.StatusCode)
	assert.Equal(t, "10:00", resp.FirstTime)
	assert.Empty(t, resp.SecondTime)
}

func TestCancelActiveAppointment(t *testing.T) {
	f := newFixture()
	f.branches.branch = 4
	f.appts.active = &appointment.Appointment{
		ID:          uuid.New(),
		PatientCode: "P-100",
		RemoteRef:   "ref-9",
		BranchCode:  4,
		StartAt:     time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC),
		Active:      true,
	}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpCancel,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, resp.StatusCode)
	require.Len(t, f.backend.cancelCalls, 1)
	assert.Equal(t, "ref-9", f.backend.cancelCalls[0][0])
	assert.Equal(t, 4, f.backend.cancelCalls[0][1])
	assert.Equal(t, 1, f.appts.deactivated)
	assert.Equal(t, 1, f.avail.flushes)
}

func TestCancelFallsBackToRemoteLookup(t *testing.T) {
	f := newFixture()
	f.backend.booking = &clinicbackend.Booking{
		RemoteRef:  "remote-7",
		BranchCode: 3,
		Date:       "2026-03-12",
		Begin:      "10:00",
		End:        "10:30",
	}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpCancel,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, resp.StatusCode)
	require.Len(t, f.backend.cancelCalls, 1)
	assert.Equal(t, "remote-7", f.backend.cancelCalls[0][0])
}

func TestCancelWithNothingToCancel(t *testing.T) {
	f := newFixture()

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpCancel,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCancelFailed, resp.StatusCode)
	assert.Equal(t, "no appointment to cancel", resp.Message)
	assert.Empty(t, f.backend.cancelCalls)
	assert.Zero(t, f.appts.deactivated)
}

func TestCancelRejectedByBackend(t *testing.T) {
	f := newFixture()
	f.appts.active = &appointment.Appointment{
		ID:          uuid.New(),
		PatientCode: "P-100",
		RemoteRef:   "ref-9",
		BranchCode:  4,
		StartAt:     time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC),
		Active:      true,
	}
	f.backend.cancelErr = clinicbackend.ErrRejected

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpCancel,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCancelFailed, resp.StatusCode)
	assert.Zero(t, f.appts.deactivated)
}

func TestQueryCurrentLocal(t *testing.T) {
	f := newFixture()
	f.appts.active = &appointment.Appointment{
		ID:          uuid.New(),
		PatientCode: "P-100",
		DoctorName:  "Dr. Petrova",
		RemoteRef:   "ref-9",
		StartAt:     time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC),
		Active:      true,
	}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpQueryCurrent,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCurrentFound, resp.StatusCode)
	assert.Equal(t, "09:30", resp.Time)
	assert.Equal(t, "Dr. Petrova", resp.SpecialistName)
	assert.Equal(t, "March 11", resp.Date)
	assert.Equal(t, "11 марта", resp.DateLocale2)
}

func TestQueryCurrentAdoptsRemoteBooking(t *testing.T) {
	f := newFixture()
	f.backend.booking = &clinicbackend.Booking{
		RemoteRef:  "remote-7",
		DoctorCode: 7,
		DoctorName: "Dr. Petrova",
		BranchCode: 3,
		Date:       "2026-03-12",
		Begin:      "10:00",
		End:        "10:30",
	}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpQueryCurrent,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCurrentFound, resp.StatusCode)
	require.Len(t, f.appts.upserted, 1)
	assert.Equal(t, "remote-7", f.appts.upserted[0].RemoteRef)
	assert.True(t, f.appts.upserted[0].Active)

	// Second ask is served from the adopted local row.
	again, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpQueryCurrent,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCurrentFound, again.StatusCode)
	assert.Equal(t, resp.Time, again.Time)
	assert.Len(t, f.appts.upserted, 1)
}

func TestQueryCurrentNone(t *testing.T) {
	f := newFixture()

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpQueryCurrent,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusNoCurrent, resp.StatusCode)
}

func TestQueryDayListsCandidates(t *testing.T) {
	f := newFixture()
	f.avail.days = []*availability.Day{day("2026-03-11",
		iv("2026-03-11", "10:00", "10:30"),
		iv("2026-03-11", "12:00", "12:30"),
		iv("2026-03-11", "15:30", "16:00"),
		iv("2026-03-11", "19:00", "19:30"),
	)}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpQueryDay,
		Date:        "2026-03-11",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSeveralAlternativesTomorrow, resp.StatusCode)
	assert.Equal(t, "10:00", resp.FirstTime)
	assert.Equal(t, "12:00", resp.SecondTime)
	assert.Equal(t, "15:30", resp.ThirdTime)
	assert.Empty(t, f.backend.reserveCalls)
}

func TestBranchMismatchIsIntegrityFault(t *testing.T) {
	f := newFixture()
	f.branches.err = directory.ErrBranchMismatch

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpReserve,
		Date:        "2026-03-10",
		Time:        "14:30",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusIntegrityFault, resp.StatusCode)
	assert.Zero(t, f.avail.fetches)
}

func TestMultipleActiveIsIntegrityFault(t *testing.T) {
	f := newFixture()
	f.appts.activeErr = appointment.ErrMultipleActive

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpReserve,
		Date:        "2026-03-10",
		Time:        "14:30",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusIntegrityFault, resp.StatusCode)
}

func TestUnboundBranchIsIntegrityFault(t *testing.T) {
	f := newFixture()
	f.branches.err = directory.ErrBranchUnresolved

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpReserve,
		Date:        "2026-03-10",
		Time:        "14:30",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusIntegrityFault, resp.StatusCode)
}

func TestReserveThenQueryCurrentRoundTrip(t *testing.T) {
	f := newFixture()
	f.avail.days = []*availability.Day{day("2026-03-10", iv("2026-03-10", "14:30", "15:00"))}

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpReserve,
		Date:        "2026-03-10",
		Time:        "14:30",
	})
	require.NoError(t, err)
	require.Equal(t, StatusBookedToday, resp.StatusCode)

	resp, err = f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-100",
		Operation:   OpQueryCurrent,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCurrentFound, resp.StatusCode)
	assert.Equal(t, "14:30", resp.Time)
	assert.Equal(t, "Dr. Petrova", resp.SpecialistName)
	// No second upsert: the answer comes from the stored row.
	assert.Len(t, f.appts.upserted, 1)
}

func TestValidationRejectsBeforeAnyRemoteCall(t *testing.T) {
	f := newFixture()

	tests := []struct {
		name string
		req  Request
	}{
		{"missing patient", Request{Operation: OpReserve, Date: "2026-03-10"}},
		{"malformed date", Request{PatientCode: "P-100", Operation: OpReserve, Date: "10.03.2026"}},
		{"malformed time", Request{PatientCode: "P-100", Operation: OpReserve, Date: "2026-03-10", Time: "2pm"}},
		{"unknown operation", Request{PatientCode: "P-100", Operation: "defragment"}},
		{"bad relative", Request{PatientCode: "P-100", Operation: OpReserve, Date: "2026-03-10", Relative: "sooner"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := f.coord.Negotiate(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, StatusInvalidRequest, resp.StatusCode)
			assert.NotEmpty(t, resp.Message)
		})
	}
	assert.Zero(t, f.avail.fetches)
	assert.Empty(t, f.backend.reserveCalls)
}

func TestUnknownPatientIsInvalidRequest(t *testing.T) {
	f := newFixture()

	resp, err := f.coord.Negotiate(context.Background(), Request{
		PatientCode: "P-999",
		Operation:   OpReserve,
		Date:        "2026-03-10",
		Time:        "14:30",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidRequest, resp.StatusCode)
	assert.Equal(t, "unknown patient", resp.Message)
}
