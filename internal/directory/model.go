package directory

import "time"

// Patient is identified by the externally issued patient code.
type Patient struct {
	Code      string
	FullName  string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Doctor, Department and Branch are read-mostly dimension data keyed by
// the backend's integer codes, lazily materialized when first seen in a
// protocol response.
type Doctor struct {
	Code           int
	FullName       string
	DepartmentCode int
}

type Department struct {
	Code int
	Name string
}

type Branch struct {
	Code int
	Name string
}

// QueueEntry records a patient joining a branch's waiting queue. The
// latest entry is one of the two sources for bound-branch resolution.
type QueueEntry struct {
	PatientCode string
	BranchCode  int
	CreatedAt   time.Time
}
