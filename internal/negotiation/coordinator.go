package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medassist/appointment-negotiation/internal/appointment"
	"github.com/medassist/appointment-negotiation/internal/availability"
	"github.com/medassist/appointment-negotiation/internal/clinicbackend"
	"github.com/medassist/appointment-negotiation/internal/directory"
	"github.com/medassist/appointment-negotiation/internal/metrics"
	redisclient "github.com/medassist/appointment-negotiation/internal/redis"
)

const dateLayout = "2006-01-02"

// Request is one structured negotiation turn from the dialogue layer.
type Request struct {
	PatientCode string    `json:"patient_id"`
	Operation   Operation `json:"operation"`
	Date        string    `json:"requested_date,omitempty"` // 2006-01-02
	Time        string    `json:"requested_time,omitempty"` // 15:04, empty means any time
	DoctorCode  int       `json:"doctor_code,omitempty"`
	Relative    string    `json:"relative,omitempty"` // "", "earlier", "later"
}

// ReservationBackend is the slice of the clinic protocol client the
// coordinator mutates bookings through.
type ReservationBackend interface {
	Reserve(ctx context.Context, r clinicbackend.ReserveRequest) (string, error)
	Cancel(ctx context.Context, bookingRef string, branchCode int) error
	GetCurrentBooking(ctx context.Context, patientCode string) (*clinicbackend.Booking, error)
}

// Availability serves day grids and controls their cache lifetime.
type Availability interface {
	DaySchedule(ctx context.Context, patientCode string, branchCode, doctorCode int, date string) (*availability.Day, error)
	Invalidate(ctx context.Context, patientCode string)
}

// PatientSource resolves patient codes to directory rows.
type PatientSource interface {
	GetPatientByCode(ctx context.Context, code string) (*directory.Patient, error)
}

// BranchSource resolves the patient's bound branch.
type BranchSource interface {
	Resolve(ctx context.Context, patientCode string) (int, error)
}

// Coordinator drives a whole negotiation turn to a terminal status.
// It owns the conflict protocol: slot lease around every reserve, and
// exactly one refresh-and-rematch retry when the backend reports the
// slot taken.
type Coordinator struct {
	backend  ReservationBackend
	avail    Availability
	patients PatientSource
	branches BranchSource
	appts    appointment.Repository
	leaser   redisclient.SlotLeaser

	loc     *time.Location
	openAt  string
	closeAt string
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Options carries the coordinator's collaborators and clinic-level
// settings.
type Options struct {
	Backend      ReservationBackend
	Availability Availability
	Patients     PatientSource
	Branches     BranchSource
	Appointments appointment.Repository
	Leaser       redisclient.SlotLeaser
	Location     *time.Location
	OpenAt       string // "09:00"
	CloseAt      string // "21:00", exclusive
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

func NewCoordinator(opts Options) *Coordinator {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		backend:  opts.Backend,
		avail:    opts.Availability,
		patients: opts.Patients,
		branches: opts.Branches,
		appts:    opts.Appointments,
		leaser:   opts.Leaser,
		loc:      loc,
		openAt:   opts.OpenAt,
		closeAt:  opts.CloseAt,
		now:      time.Now,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

// Negotiate runs one turn. The returned response always carries a
// terminal status code; the error is reserved for internal failures
// that have no voice-safe rendering.
func (c *Coordinator) Negotiate(ctx context.Context, req Request) (*Response, error) {
	if msg := c.validate(req); msg != "" {
		return c.finish(req.Operation, ResultInvalidInput, 0, relAny, func(r *Response) {
			r.Message = msg
		})
	}

	switch req.Operation {
	case OpReserve, OpReschedule:
		return c.reserve(ctx, req)
	case OpCancel:
		return c.cancel(ctx, req)
	case OpQueryDay:
		return c.queryDay(ctx, req)
	case OpQueryCurrent:
		return c.queryCurrent(ctx, req)
	default:
		return c.finish(req.Operation, ResultInvalidInput, 0, relAny, func(r *Response) {
			r.Message = "unknown operation"
		})
	}
}

func (c *Coordinator) validate(req Request) string {
	if req.PatientCode == "" {
		return "patient code is required"
	}
	switch req.Operation {
	case OpReserve, OpReschedule, OpQueryDay:
		if _, err := time.ParseInLocation(dateLayout, req.Date, c.loc); err != nil {
			return "requested date is missing or malformed"
		}
		if req.Time != "" {
			if _, err := time.Parse("15:04", req.Time); err != nil {
				return "requested time is malformed"
			}
		}
	case OpCancel, OpQueryCurrent:
	default:
		return "unknown operation"
	}
	switch req.Relative {
	case "", "earlier", "later":
	default:
		return "relative must be earlier or later"
	}
	return ""
}

func (c *Coordinator) reserve(ctx context.Context, req Request) (*Response, error) {
	op := req.Operation
	rel := c.dateRelation(req.Date)

	patient, err := c.patients.GetPatientByCode(ctx, req.PatientCode)
	if err != nil {
		if errors.Is(err, directory.ErrPatientNotFound) {
			return c.finish(op, ResultInvalidInput, 0, rel, func(r *Response) {
				r.Message = "unknown patient"
			})
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	branch, resp, err := c.resolveBranch(ctx, op, rel, req.PatientCode)
	if resp != nil || err != nil {
		return resp, err
	}

	existing, err := c.appts.GetActive(ctx, req.PatientCode)
	switch {
	case err == nil:
	case errors.Is(err, appointment.ErrNotFound):
		existing = nil
		if op == OpReschedule {
			// Nothing to move. The turn degrades to a plain reservation
			// so the caller still walks away with a slot.
			op = OpReserve
		}
	case errors.Is(err, appointment.ErrMultipleActive):
		return c.integrityFault(req.Operation, rel, err)
	default:
		return nil, fmt.Errorf("load active appointment: %w", err)
	}

	day, err := c.avail.DaySchedule(ctx, req.PatientCode, branch, req.DoctorCode, req.Date)
	if err != nil {
		return c.remoteFailure(op, rel, err)
	}

	opts := c.matchOptions(req, existing)
	m := availability.MatchDay(day.Intervals, req.Time, opts)
	if m.Exact == nil {
		return c.alternatives(op, rel, req.Date, m.Candidates)
	}

	return c.claimSlot(ctx, req, op, rel, patient, branch, existing, m.Exact, opts)
}

// claimSlot runs the lease-guarded reserve with at most one
// refresh-and-rematch retry. A second conflict means the grid is too
// contested to chase; the caller gets fresh alternatives instead.
func (c *Coordinator) claimSlot(ctx context.Context, req Request, op Operation, rel DateRelation, patient *directory.Patient, branch int, existing *appointment.Appointment, slot *clinicbackend.FreeInterval, opts availability.MatchOptions) (*Response, error) {
	retried := false
	for {
		resp, conflict, err := c.reserveOnce(ctx, op, rel, patient, branch, existing, slot)
		if !conflict {
			return resp, err
		}
		if retried {
			return c.alternativesAfterConflict(ctx, req, op, rel, branch, opts)
		}
		retried = true

		c.avail.Invalidate(ctx, req.PatientCode)
		day, err := c.avail.DaySchedule(ctx, req.PatientCode, branch, req.DoctorCode, req.Date)
		if err != nil {
			return c.remoteFailure(op, rel, err)
		}
		m := availability.MatchDay(day.Intervals, req.Time, opts)
		if m.Exact == nil {
			return c.alternatives(op, rel, req.Date, m.Candidates)
		}
		slot = m.Exact
	}
}

// reserveOnce performs one lease-acquire plus backend reserve.
// conflict=true means the slot was contested (lease held elsewhere or
// the backend reported it taken) and the attempt may be retried.
func (c *Coordinator) reserveOnce(ctx context.Context, op Operation, rel DateRelation, patient *directory.Patient, branch int, existing *appointment.Appointment, slot *clinicbackend.FreeInterval) (*Response, bool, error) {
	startAt, err := c.slotStart(slot.Date, slot.Begin)
	if err != nil {
		return nil, false, fmt.Errorf("slot start: %w", err)
	}

	lease, err := c.leaser.Acquire(ctx, startAt, patient.Code)
	if err != nil {
		if errors.Is(err, redisclient.ErrLeaseHeld) {
			c.metrics.IncLeaseConflict()
			c.logger.Info("slot lease contested",
				zap.String("patient_code", patient.Code),
				zap.Time("start_at", startAt))
			return nil, true, nil
		}
		resp, ferr := c.remoteFailure(op, rel, err)
		return resp, false, ferr
	}
	defer func() {
		if rerr := lease.Release(ctx); rerr != nil && !errors.Is(rerr, redisclient.ErrLeaseLost) {
			c.logger.Warn("release slot lease", zap.Error(rerr))
		}
	}()

	existingRef := ""
	if existing != nil {
		existingRef = existing.RemoteRef
	}
	ref, err := c.backend.Reserve(ctx, clinicbackend.ReserveRequest{
		DoctorCode:  slot.DoctorCode,
		BranchCode:  branch,
		Date:        slot.Date,
		Begin:       slot.Begin,
		ScheduleRef: slot.ScheduleRef,
		PatientCode: patient.Code,
		PatientName: patient.FullName,
		ExistingRef: existingRef,
	})
	switch {
	case err == nil:
	case errors.Is(err, clinicbackend.ErrSlotTaken):
		c.metrics.IncLeaseConflict()
		return nil, true, nil
	default:
		resp, ferr := c.remoteFailure(op, rel, err)
		return resp, false, ferr
	}

	endAt, err := c.slotStart(slot.Date, slot.End)
	if err != nil {
		endAt = startAt
	}
	stored, err := c.appts.Upsert(ctx, &appointment.Appointment{
		PatientCode:    patient.Code,
		DoctorCode:     slot.DoctorCode,
		DoctorName:     slot.DoctorName,
		DepartmentCode: slot.DepartmentCode,
		BranchCode:     branch,
		StartAt:        startAt,
		EndAt:          endAt,
		RemoteRef:      ref,
		Active:         true,
	})
	if err != nil {
		// The backend holds the booking; local state catches up on the
		// next query_current.
		c.logger.Error("persist confirmed booking", zap.Error(err),
			zap.String("patient_code", patient.Code),
			zap.String("remote_ref", ref))
	} else {
		c.logEvent(ctx, string(op)+"_confirmed", stored.ID, patient.Code, map[string]any{
			"remote_ref": ref,
			"start_at":   startAt.Format(time.RFC3339),
		})
	}
	c.avail.Invalidate(ctx, patient.Code)

	resp, ferr := c.finish(op, ResultConfirmed, 0, rel, func(r *Response) {
		r.fillDate(startAt)
		r.Time = slot.Begin
		r.SpecialistName = slot.DoctorName
	})
	return resp, false, ferr
}

// alternativesAfterConflict answers a second conflict with whatever the
// freshly fetched day still offers, ignoring the originally requested
// time.
func (c *Coordinator) alternativesAfterConflict(ctx context.Context, req Request, op Operation, rel DateRelation, branch int, opts availability.MatchOptions) (*Response, error) {
	c.avail.Invalidate(ctx, req.PatientCode)
	day, err := c.avail.DaySchedule(ctx, req.PatientCode, branch, req.DoctorCode, req.Date)
	if err != nil {
		return c.remoteFailure(op, rel, err)
	}
	m := availability.MatchDay(day.Intervals, "", opts)
	return c.alternatives(op, rel, req.Date, m.Candidates)
}

func (c *Coordinator) cancel(ctx context.Context, req Request) (*Response, error) {
	op := req.Operation

	ref, branch, rel, resp, err := c.currentBookingRef(ctx, op, req.PatientCode)
	if resp != nil || err != nil {
		return resp, err
	}

	if err := c.backend.Cancel(ctx, ref, branch); err != nil {
		if errors.Is(err, clinicbackend.ErrRejected) || errors.Is(err, clinicbackend.ErrBookingNotFound) {
			return c.finish(op, ResultCancelFailed, 0, rel, func(r *Response) {
				r.Message = err.Error()
			})
		}
		return c.remoteFailure(op, rel, err)
	}

	if err := c.appts.Deactivate(ctx, req.PatientCode); err != nil && !errors.Is(err, appointment.ErrNotFound) {
		c.logger.Error("deactivate appointment", zap.Error(err),
			zap.String("patient_code", req.PatientCode))
	}
	c.logEvent(ctx, "cancel_confirmed", uuid.Nil, req.PatientCode, map[string]any{
		"remote_ref": ref,
	})
	c.avail.Invalidate(ctx, req.PatientCode)

	return c.finish(op, ResultCancelled, 0, rel, nil)
}

// currentBookingRef locates the booking to cancel: the local active row
// first, the backend as fallback. A non-nil response short-circuits the
// cancel (nothing to cancel, or the lookup failed).
func (c *Coordinator) currentBookingRef(ctx context.Context, op Operation, patientCode string) (ref string, branch int, rel DateRelation, resp *Response, err error) {
	active, err := c.appts.GetActive(ctx, patientCode)
	switch {
	case err == nil:
		rel = c.dateRelation(active.StartAt.In(c.loc).Format(dateLayout))
		branch, resp, err = c.resolveBranch(ctx, op, rel, patientCode)
		if resp != nil || err != nil {
			return "", 0, rel, resp, err
		}
		return active.RemoteRef, branch, rel, nil, nil
	case errors.Is(err, appointment.ErrMultipleActive):
		resp, err = c.integrityFault(op, relAny, err)
		return "", 0, relAny, resp, err
	case errors.Is(err, appointment.ErrNotFound):
	default:
		return "", 0, relAny, nil, fmt.Errorf("load active appointment: %w", err)
	}

	booking, err := c.backend.GetCurrentBooking(ctx, patientCode)
	if err != nil {
		if errors.Is(err, clinicbackend.ErrBookingNotFound) {
			resp, err = c.finish(op, ResultCancelFailed, 0, relAny, func(r *Response) {
				r.Message = "no appointment to cancel"
			})
			return "", 0, relAny, resp, err
		}
		resp, err = c.remoteFailure(op, relAny, err)
		return "", 0, relAny, resp, err
	}
	return booking.RemoteRef, booking.BranchCode, c.dateRelation(booking.Date), nil, nil
}

func (c *Coordinator) queryDay(ctx context.Context, req Request) (*Response, error) {
	op := req.Operation
	rel := c.dateRelation(req.Date)

	if _, err := c.patients.GetPatientByCode(ctx, req.PatientCode); err != nil {
		if errors.Is(err, directory.ErrPatientNotFound) {
			return c.finish(op, ResultInvalidInput, 0, rel, func(r *Response) {
				r.Message = "unknown patient"
			})
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	branch, resp, err := c.resolveBranch(ctx, op, rel, req.PatientCode)
	if resp != nil || err != nil {
		return resp, err
	}

	day, err := c.avail.DaySchedule(ctx, req.PatientCode, branch, req.DoctorCode, req.Date)
	if err != nil {
		return c.remoteFailure(op, rel, err)
	}

	m := availability.MatchDay(day.Intervals, "", availability.MatchOptions{
		OpenAt:  c.openAt,
		CloseAt: c.closeAt,
	})
	return c.alternatives(op, rel, req.Date, m.Candidates)
}

func (c *Coordinator) queryCurrent(ctx context.Context, req Request) (*Response, error) {
	op := req.Operation

	active, err := c.appts.GetActive(ctx, req.PatientCode)
	switch {
	case err == nil:
		startAt := active.StartAt.In(c.loc)
		return c.finish(op, ResultCurrentFound, 0, relAny, func(r *Response) {
			r.fillDate(startAt)
			r.Time = startAt.Format("15:04")
			r.SpecialistName = active.DoctorName
		})
	case errors.Is(err, appointment.ErrMultipleActive):
		return c.integrityFault(op, relAny, err)
	case errors.Is(err, appointment.ErrNotFound):
	default:
		return nil, fmt.Errorf("load active appointment: %w", err)
	}

	booking, err := c.backend.GetCurrentBooking(ctx, req.PatientCode)
	if err != nil {
		if errors.Is(err, clinicbackend.ErrBookingNotFound) {
			return c.finish(op, ResultNoCurrent, 0, relAny, nil)
		}
		return c.remoteFailure(op, relAny, err)
	}

	startAt, perr := c.slotStart(booking.Date, booking.Begin)
	if perr != nil {
		return c.integrityFault(op, relAny, fmt.Errorf("remote booking timestamp: %w", perr))
	}
	endAt, perr := c.slotStart(booking.Date, booking.End)
	if perr != nil {
		endAt = startAt
	}

	// Local state lags the backend (booked through another channel, or a
	// lost write). Adopt the remote row so the next turn sees it.
	if _, err := c.appts.Upsert(ctx, &appointment.Appointment{
		PatientCode:    req.PatientCode,
		DoctorCode:     booking.DoctorCode,
		DoctorName:     booking.DoctorName,
		DepartmentCode: booking.DepartmentCode,
		BranchCode:     booking.BranchCode,
		StartAt:        startAt,
		EndAt:          endAt,
		RemoteRef:      booking.RemoteRef,
		Active:         true,
	}); err != nil {
		c.logger.Warn("adopt remote booking", zap.Error(err),
			zap.String("patient_code", req.PatientCode))
	}

	return c.finish(op, ResultCurrentFound, 0, relAny, func(r *Response) {
		r.fillDate(startAt)
		r.Time = booking.Begin
		r.SpecialistName = booking.DoctorName
	})
}

func (c *Coordinator) resolveBranch(ctx context.Context, op Operation, rel DateRelation, patientCode string) (int, *Response, error) {
	branch, err := c.branches.Resolve(ctx, patientCode)
	switch {
	case err == nil:
		return branch, nil, nil
	case errors.Is(err, directory.ErrBranchMismatch),
		errors.Is(err, directory.ErrBranchUnresolved),
		errors.Is(err, appointment.ErrMultipleActive):
		resp, ferr := c.integrityFault(op, rel, err)
		return 0, resp, ferr
	default:
		return 0, nil, fmt.Errorf("resolve branch: %w", err)
	}
}

func (c *Coordinator) matchOptions(req Request, existing *appointment.Appointment) availability.MatchOptions {
	opts := availability.MatchOptions{
		OpenAt:  c.openAt,
		CloseAt: c.closeAt,
	}
	switch req.Relative {
	case "earlier":
		opts.Relative = availability.RelativeEarlier
	case "later":
		opts.Relative = availability.RelativeLater
	default:
		return opts
	}
	if existing != nil && existing.StartAt.In(c.loc).Format(dateLayout) == req.Date {
		opts.Pivot = existing.StartAt.In(c.loc).Format("15:04")
	}
	return opts
}

func (c *Coordinator) alternatives(op Operation, rel DateRelation, date string, candidates []string) (*Response, error) {
	day, err := time.ParseInLocation(dateLayout, date, c.loc)
	if err != nil {
		return nil, fmt.Errorf("parse date: %w", err)
	}
	return c.finish(op, ResultAlternatives, len(candidates), rel, func(r *Response) {
		r.fillDate(day)
		r.fillCandidates(candidates)
	})
}

// remoteFailure renders an infrastructure-level failure. Transport
// faults are terminal for the turn: the dialogue layer apologizes and
// hangs up, it never retries on the caller's time.
func (c *Coordinator) remoteFailure(op Operation, rel DateRelation, err error) (*Response, error) {
	if clinicbackend.IsTransport(err) || errors.Is(err, context.DeadlineExceeded) {
		c.logger.Warn("clinic backend unavailable", zap.Error(err))
		return c.finish(op, ResultBackendUnavailable, 0, rel, nil)
	}
	c.logger.Error("negotiation infrastructure failure", zap.Error(err))
	return c.finish(op, ResultBackendUnavailable, 0, rel, nil)
}

func (c *Coordinator) integrityFault(op Operation, rel DateRelation, err error) (*Response, error) {
	c.logger.Error("data integrity fault", zap.Error(err))
	return c.finish(op, ResultIntegrityFault, 0, rel, func(r *Response) {
		r.Message = err.Error()
	})
}

// finish classifies the terminal state, applies payload mutations and
// records the outcome metric.
func (c *Coordinator) finish(op Operation, result Result, candidateCount int, rel DateRelation, fill func(*Response)) (*Response, error) {
	code, ok := Classify(op, result, candidateCount, rel)
	if !ok {
		return nil, fmt.Errorf("no status for %s/%s bucket=%d rel=%s", op, result, candidateCount, rel)
	}
	resp := &Response{StatusCode: code}
	if fill != nil {
		fill(resp)
	}
	c.metrics.IncNegotiation(string(op), string(code))
	return resp, nil
}

func (c *Coordinator) dateRelation(date string) DateRelation {
	day, err := time.ParseInLocation(dateLayout, date, c.loc)
	if err != nil {
		return RelOther
	}
	now := c.now().In(c.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc)
	switch {
	case day.Equal(today):
		return RelToday
	case day.Equal(today.AddDate(0, 0, 1)):
		return RelTomorrow
	default:
		return RelOther
	}
}

func (c *Coordinator) slotStart(date, clock string) (time.Time, error) {
	return time.ParseInLocation(dateLayout+" 15:04", date+" "+clock, c.loc)
}

func (c *Coordinator) logEvent(ctx context.Context, eventType string, apptID uuid.UUID, patientCode string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		body = nil
	}
	ev := appointment.EventLog{
		EventType:   eventType,
		PatientCode: patientCode,
		Payload:     body,
	}
	if apptID != uuid.Nil {
		id := apptID
		ev.AppointmentID = &id
	}
	if err := c.appts.InsertEvent(ctx, ev); err != nil {
		c.logger.Warn("insert event log", zap.Error(err),
			zap.String("event_type", eventType))
	}
}
