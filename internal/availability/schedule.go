package availability

import (
	"sort"
	"time"

	"github.com/medassist/appointment-negotiation/internal/clinicbackend"
)

const dateLayout = "2006-01-02"

// Schedule is one patient's cached availability grid over the fetched
// horizon, organized doctor → day → intervals. Ephemeral; it lives in
// the cache for the TTL and is rebuilt from the backend after that.
type Schedule struct {
	PatientCode string                  `json:"patient_code"`
	BranchCode  int                     `json:"branch_code"`
	HorizonFrom string                  `json:"horizon_from"` // inclusive ISO date
	HorizonTo   string                  `json:"horizon_to"`   // inclusive ISO date
	FetchedAt   time.Time               `json:"fetched_at"`
	Doctors     map[int]*DoctorSchedule `json:"doctors"`
}

type DoctorSchedule struct {
	DoctorCode     int             `json:"doctor_code"`
	DoctorName     string          `json:"doctor_name"`
	DepartmentCode int             `json:"department_code"`
	Days           map[string]*Day `json:"days"` // keyed by ISO date
}

// Day is one doctor-day with its free intervals in ascending begin order.
type Day struct {
	Date         string                      `json:"date"`
	HasFreeSlots bool                        `json:"has_free_slots"`
	Intervals    []clinicbackend.FreeInterval `json:"intervals"`
}

// Covers reports whether the fetched horizon includes the given date.
func (s *Schedule) Covers(date string) bool {
	return s.HorizonFrom <= date && date <= s.HorizonTo
}

// Day returns the named doctor-day, or an empty day when the doctor has
// no free intervals on that date.
func (s *Schedule) Day(doctorCode int, date string) *Day {
	if ds, ok := s.Doctors[doctorCode]; ok {
		if d, ok := ds.Days[date]; ok {
			return d
		}
	}
	return &Day{Date: date}
}

// DayAcrossDoctors merges all doctors' intervals for a date, for
// negotiations that are not pinned to one doctor.
func (s *Schedule) DayAcrossDoctors(date string) *Day {
	merged := &Day{Date: date}
	for _, ds := range s.Doctors {
		if d, ok := ds.Days[date]; ok {
			merged.Intervals = append(merged.Intervals, d.Intervals...)
			merged.HasFreeSlots = merged.HasFreeSlots || d.HasFreeSlots
		}
	}
	sortIntervals(merged.Intervals)
	return merged
}

func buildSchedule(patientCode string, branchCode int, from, to string, fetchedAt time.Time, intervals []clinicbackend.FreeInterval) *Schedule {
	s := &Schedule{
		PatientCode: patientCode,
		BranchCode:  branchCode,
		HorizonFrom: from,
		HorizonTo:   to,
		FetchedAt:   fetchedAt,
		Doctors:     make(map[int]*DoctorSchedule),
	}

	for _, iv := range intervals {
		ds, ok := s.Doctors[iv.DoctorCode]
		if !ok {
			ds = &DoctorSchedule{
				DoctorCode:     iv.DoctorCode,
				DoctorName:     iv.DoctorName,
				DepartmentCode: iv.DepartmentCode,
				Days:           make(map[string]*Day),
			}
			s.Doctors[iv.DoctorCode] = ds
		}

		d, ok := ds.Days[iv.Date]
		if !ok {
			d = &Day{Date: iv.Date}
			ds.Days[iv.Date] = d
		}
		d.Intervals = append(d.Intervals, iv)
		if iv.FreeCount > 0 {
			d.HasFreeSlots = true
		}
	}

	for _, ds := range s.Doctors {
		for _, d := range ds.Days {
			sortIntervals(d.Intervals)
		}
	}

	return s
}

func sortIntervals(intervals []clinicbackend.FreeInterval) {
	sort.Slice(intervals, func(i, j int) bool {
		return intervals[i].Begin < intervals[j].Begin
	})
}
