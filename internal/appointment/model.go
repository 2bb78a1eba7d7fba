package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Appointment is the durable record of a confirmed booking. Created or
// updated only after the clinic backend confirmed the reservation;
// deactivated, never deleted, on cancellation or reschedule.
type Appointment struct {
	ID             uuid.UUID
	PatientCode    string
	DoctorCode     int
	DoctorName     string
	DepartmentCode int
	BranchCode     int
	StartAt        time.Time
	EndAt          time.Time
	RemoteRef      string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EventLog is an audit row written alongside booking mutations.
type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	PatientCode   string
	Payload       []byte
	CreatedAt     time.Time
}
