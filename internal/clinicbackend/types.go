package clinicbackend

import "errors"

var (
	// ErrSlotTaken means the backend rejected a reserve because the slot
	// was claimed between our availability fetch and the reserve call.
	// Recoverable by re-matching against fresh availability.
	ErrSlotTaken = errors.New("slot no longer free")
	// ErrBookingNotFound means the backend has no booking for the lookup.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrRejected is a domain-level rejection without a more specific meaning.
	ErrRejected = errors.New("request rejected by clinic backend")
)

// FreeInterval is one contiguous bookable block reported by the backend.
// Ephemeral; recomputed on every availability fetch.
type FreeInterval struct {
	DoctorCode     int    `json:"doctor_code"`
	DoctorName     string `json:"doctor_name"`
	DepartmentCode int    `json:"department_code"`
	BranchCode     int    `json:"branch_code"`
	Date           string `json:"date"`  // 2006-01-02
	Begin          string `json:"begin"` // 15:04
	End            string `json:"end"`
	FreeCount      int    `json:"free_count"`
	ScheduleRef    string `json:"schedule_ref"` // backend's schedule row identifier, echoed back on reserve
}

// IntervalQuery selects the availability grid to fetch. DepartmentCode
// and DoctorCode are optional; zero means "any".
type IntervalQuery struct {
	BranchCode     int
	DepartmentCode int
	DoctorCode     int
	DateFrom       string // 2006-01-02, inclusive
	DateTo         string // 2006-01-02, inclusive
}

// ReserveRequest claims a slot. ExistingRef, when set, tells the backend
// to move that booking instead of creating a new one.
type ReserveRequest struct {
	DoctorCode  int
	BranchCode  int
	Date        string
	Begin       string
	ScheduleRef string
	PatientCode string
	PatientName string
	ExistingRef string
}

// Booking is the backend's view of a patient's current appointment.
type Booking struct {
	RemoteRef      string
	PatientCode    string
	DoctorCode     int
	DoctorName     string
	DepartmentCode int
	BranchCode     int
	Date           string
	Begin          string
	End            string
}
