package clinicbackend

import (
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message type tags carried in the envelope header.
const (
	msgFreeIntervals  = "GetFreeIntervals"
	msgReserve        = "ReserveSlot"
	msgCancel         = "CancelBooking"
	msgCurrentBooking = "GetCurrentBooking"
)

// Result codes. Anything else, or a missing Result block, is a protocol
// fault and must not be interpreted as a domain answer.
const (
	resultSuccess       = 1
	resultDomainFailure = 0
)

// errDomainRejected is the envelope layer's "code 0" signal; typed
// operations translate it into their own sentinel.
var errDomainRejected = errors.New("clinic backend domain rejection")

type envelopeHeader struct {
	Timestamp     string `xml:"Timestamp"`
	MessageType   string `xml:"MessageType"`
	CorrelationID string `xml:"CorrelationID"`
}

type requestEnvelope struct {
	XMLName xml.Name       `xml:"ClinicRequest"`
	Header  envelopeHeader `xml:"Header"`
	Body    any            `xml:"Body"`
}

type resultBlock struct {
	Code    *int   `xml:"Code"`
	Comment string `xml:"Comment"`
}

type responseEnvelope[T any] struct {
	XMLName xml.Name       `xml:"ClinicResponse"`
	Header  envelopeHeader `xml:"Header"`
	Result  *resultBlock   `xml:"Result"`
	Body    T              `xml:"Body"`
}

func newEnvelope(msgType string, body any, now time.Time) requestEnvelope {
	return requestEnvelope{
		Header: envelopeHeader{
			Timestamp:     now.UTC().Format(time.RFC3339),
			MessageType:   msgType,
			CorrelationID: uuid.NewString(),
		},
		Body: body,
	}
}

// decodeEnvelope parses a raw response and enforces the result-code
// contract: 1 is success, 0 is a domain failure, everything else is a
// protocol fault.
func decodeEnvelope[T any](raw []byte) (*responseEnvelope[T], error) {
	var env responseEnvelope[T]
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed response envelope: %w", err)
	}
	if env.Result == nil || env.Result.Code == nil {
		return nil, errors.New("response envelope missing result block")
	}
	switch *env.Result.Code {
	case resultSuccess:
		return &env, nil
	case resultDomainFailure:
		return &env, fmt.Errorf("%w: %s", errDomainRejected, env.Result.Comment)
	default:
		return nil, fmt.Errorf("unexpected result code %d", *env.Result.Code)
	}
}

// Per-operation bodies. Field names follow the backend's schema.

type freeIntervalsRequest struct {
	BranchCode     int    `xml:"BranchCode"`
	DepartmentCode int    `xml:"DepartmentCode,omitempty"`
	DoctorCode     int    `xml:"DoctorCode,omitempty"`
	DateFrom       string `xml:"DateFrom"`
	DateTo         string `xml:"DateTo"`
}

type freeIntervalsResponse struct {
	Intervals []freeIntervalXML `xml:"Interval"`
}

type freeIntervalXML struct {
	DoctorCode     int    `xml:"DoctorCode"`
	DoctorName     string `xml:"DoctorName"`
	DepartmentCode int    `xml:"DepartmentCode"`
	BranchCode     int    `xml:"BranchCode"`
	Date           string `xml:"Date"`
	BeginTime      string `xml:"BeginTime"`
	EndTime        string `xml:"EndTime"`
	FreeCount      int    `xml:"FreeCount"`
	ScheduleRef    string `xml:"ScheduleRef"`
}

type reserveRequestXML struct {
	DoctorCode  int    `xml:"DoctorCode"`
	BranchCode  int    `xml:"BranchCode"`
	Date        string `xml:"Date"`
	BeginTime   string `xml:"BeginTime"`
	ScheduleRef string `xml:"ScheduleRef"`
	PatientCode string `xml:"PatientCode"`
	PatientName string `xml:"PatientName,omitempty"`
	ExistingRef string `xml:"ExistingBookingRef,omitempty"`
}

type reserveResponse struct {
	BookingRef string `xml:"BookingRef"`
}

type cancelRequestXML struct {
	BookingRef string `xml:"BookingRef"`
	BranchCode int    `xml:"BranchCode"`
}

type cancelResponse struct{}

type currentBookingRequest struct {
	PatientCode string `xml:"PatientCode"`
}

type currentBookingResponse struct {
	Booking bookingXML `xml:"Booking"`
}

type bookingXML struct {
	BookingRef     string `xml:"BookingRef"`
	PatientCode    string `xml:"PatientCode"`
	DoctorCode     int    `xml:"DoctorCode"`
	DoctorName     string `xml:"DoctorName"`
	DepartmentCode int    `xml:"DepartmentCode"`
	BranchCode     int    `xml:"BranchCode"`
	Date           string `xml:"Date"`
	BeginTime      string `xml:"BeginTime"`
	EndTime        string `xml:"EndTime"`
}
