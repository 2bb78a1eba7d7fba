package availability

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medassist/appointment-negotiation/internal/clinicbackend"
	"github.com/medassist/appointment-negotiation/internal/directory"
)

// windowDays is the longest horizon the backend accepts in one
// free-intervals query.
const windowDays = 7

// Backend is the slice of the protocol adapter the resolver uses.
type Backend interface {
	GetFreeIntervals(ctx context.Context, q clinicbackend.IntervalQuery) ([]clinicbackend.FreeInterval, error)
}

// ReferenceSink receives reference entities first seen in protocol
// responses. Optional; nil disables lazy materialization.
type ReferenceSink interface {
	UpsertDoctor(ctx context.Context, d directory.Doctor) error
	UpsertDepartment(ctx context.Context, d directory.Department) error
	UpsertBranch(ctx context.Context, b directory.Branch) error
}

// Resolver fetches, normalizes and caches the availability grid for a
// patient's bound doctor/branch.
type Resolver struct {
	backend     Backend
	cache       *Cache
	refs        ReferenceSink
	horizonDays int
	loc         *time.Location
	now         func() time.Time
	logger      *zap.Logger
}

func NewResolver(backend Backend, cache *Cache, refs ReferenceSink, horizonDays int, loc *time.Location, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		backend:     backend,
		cache:       cache,
		refs:        refs,
		horizonDays: horizonDays,
		loc:         loc,
		now:         time.Now,
		logger:      logger,
	}
}

// Horizon returns the patient's schedule over the default horizon,
// serving from the cache when a fresh entry for the same branch exists.
func (r *Resolver) Horizon(ctx context.Context, patientCode string, branchCode, doctorCode int) (*Schedule, error) {
	cached, err := r.cache.Get(ctx, patientCode)
	if err != nil {
		// Cache trouble degrades to a fresh fetch, it doesn't fail the negotiation.
		r.logger.Warn("schedule cache read failed", zap.String("patient", patientCode), zap.Error(err))
	}
	if cached != nil && cached.BranchCode == branchCode {
		return cached, nil
	}

	return r.Refresh(ctx, patientCode, branchCode, doctorCode, r.horizonDays)
}

// DaySchedule returns one day's intervals for the patient. A fresh cache
// entry covering the day is used as-is; otherwise the horizon is
// refetched, extended when the day lies beyond the default horizon.
func (r *Resolver) DaySchedule(ctx context.Context, patientCode string, branchCode, doctorCode int, date string) (*Day, error) {
	cached, err := r.cache.Get(ctx, patientCode)
	if err != nil {
		r.logger.Warn("schedule cache read failed", zap.String("patient", patientCode), zap.Error(err))
	}
	if cached != nil && cached.BranchCode == branchCode && cached.Covers(date) {
		return r.pickDay(cached, doctorCode, date), nil
	}

	days := r.horizonDays
	if target, err := time.ParseInLocation(dateLayout, date, r.loc); err == nil {
		today := r.today()
		if needed := int(target.Sub(today).Hours()/24) + 1; needed > days {
			days = needed
		}
	}

	s, err := r.Refresh(ctx, patientCode, branchCode, doctorCode, days)
	if err != nil {
		return nil, err
	}
	return r.pickDay(s, doctorCode, date), nil
}

func (r *Resolver) pickDay(s *Schedule, doctorCode int, date string) *Day {
	if doctorCode != 0 {
		return s.Day(doctorCode, date)
	}
	return s.DayAcrossDoctors(date)
}

// Refresh fetches the grid from the backend bypassing the cache, one
// 7-day window at a time, and writes the merged result back.
func (r *Resolver) Refresh(ctx context.Context, patientCode string, branchCode, doctorCode, days int) (*Schedule, error) {
	if days < 1 {
		days = r.horizonDays
	}

	from := r.today()
	to := from.AddDate(0, 0, days-1)

	var all []clinicbackend.FreeInterval
	for winFrom := from; !winFrom.After(to); winFrom = winFrom.AddDate(0, 0, windowDays) {
		winTo := winFrom.AddDate(0, 0, windowDays-1)
		if winTo.After(to) {
			winTo = to
		}

		intervals, err := r.backend.GetFreeIntervals(ctx, clinicbackend.IntervalQuery{
			BranchCode: branchCode,
			DoctorCode: doctorCode,
			DateFrom:   winFrom.Format(dateLayout),
			DateTo:     winTo.Format(dateLayout),
		})
		if err != nil {
			return nil, fmt.Errorf("fetch free intervals %s..%s: %w",
				winFrom.Format(dateLayout), winTo.Format(dateLayout), err)
		}
		all = append(all, intervals...)
	}

	s := buildSchedule(patientCode, branchCode,
		from.Format(dateLayout), to.Format(dateLayout), r.now(), all)

	r.materializeReferences(ctx, s)

	if err := r.cache.Put(ctx, s); err != nil {
		r.logger.Warn("schedule cache write failed", zap.String("patient", patientCode), zap.Error(err))
	}

	return s, nil
}

// Invalidate drops the patient's cached schedule.
func (r *Resolver) Invalidate(ctx context.Context, patientCode string) {
	if err := r.cache.Invalidate(ctx, patientCode); err != nil {
		r.logger.Warn("schedule cache invalidation failed", zap.String("patient", patientCode), zap.Error(err))
	}
}

func (r *Resolver) materializeReferences(ctx context.Context, s *Schedule) {
	if r.refs == nil {
		return
	}

	seenDept := make(map[int]bool)
	for _, ds := range s.Doctors {
		if err := r.refs.UpsertDoctor(ctx, directory.Doctor{
			Code:           ds.DoctorCode,
			FullName:       ds.DoctorName,
			DepartmentCode: ds.DepartmentCode,
		}); err != nil {
			r.logger.Warn("materialize doctor failed", zap.Int("doctor", ds.DoctorCode), zap.Error(err))
		}
		if ds.DepartmentCode != 0 && !seenDept[ds.DepartmentCode] {
			seenDept[ds.DepartmentCode] = true
			if err := r.refs.UpsertDepartment(ctx, directory.Department{Code: ds.DepartmentCode}); err != nil {
				r.logger.Warn("materialize department failed", zap.Int("department", ds.DepartmentCode), zap.Error(err))
			}
		}
	}
	if s.BranchCode != 0 {
		if err := r.refs.UpsertBranch(ctx, directory.Branch{Code: s.BranchCode}); err != nil {
			r.logger.Warn("materialize branch failed", zap.Int("branch", s.BranchCode), zap.Error(err))
		}
	}
}

func (r *Resolver) today() time.Time {
	now := r.now().In(r.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc)
}
