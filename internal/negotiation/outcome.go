package negotiation

// StatusCode is a member of the closed outcome vocabulary returned to
// the dialogue layer. Every code drives a specific voice prompt, so the
// set is versioned with the dialogue scripts: add codes, never reuse.
type StatusCode string

const (
	StatusBookedToday    StatusCode = "booked-today"
	StatusBookedTomorrow StatusCode = "booked-tomorrow"
	StatusBookedOtherDay StatusCode = "booked-other-day"

	StatusRescheduledToday    StatusCode = "rescheduled-today"
	StatusRescheduledTomorrow StatusCode = "rescheduled-tomorrow"
	StatusRescheduledOtherDay StatusCode = "rescheduled-other-day"

	StatusOneAlternativeToday    StatusCode = "one-alternative-today"
	StatusOneAlternativeTomorrow StatusCode = "one-alternative-tomorrow"
	StatusOneAlternativeOtherDay StatusCode = "one-alternative-other-day"

	StatusTwoAlternativesToday    StatusCode = "two-alternatives-today"
	StatusTwoAlternativesTomorrow StatusCode = "two-alternatives-tomorrow"
	StatusTwoAlternativesOtherDay StatusCode = "two-alternatives-other-day"

	StatusSeveralAlternativesToday    StatusCode = "several-alternatives-today"
	StatusSeveralAlternativesTomorrow StatusCode = "several-alternatives-tomorrow"
	StatusSeveralAlternativesOtherDay StatusCode = "several-alternatives-other-day"

	StatusNoSlotsToday    StatusCode = "no-slots-today"
	StatusNoSlotsTomorrow StatusCode = "no-slots-tomorrow"
	StatusNoSlotsOtherDay StatusCode = "no-slots-other-day"

	StatusCancelled    StatusCode = "cancellation-succeeded"
	StatusCancelFailed StatusCode = "cancellation-failed"

	StatusCurrentFound StatusCode = "current-appointment-found"
	StatusNoCurrent    StatusCode = "no-current-appointment"

	StatusBackendUnavailable StatusCode = "backend-unavailable"
	StatusIntegrityFault     StatusCode = "data-integrity-fault"
	StatusInvalidRequest     StatusCode = "invalid-request"
)

// Operation is the caller's structured intent.
type Operation string

const (
	OpReserve      Operation = "reserve"
	OpReschedule   Operation = "reschedule"
	OpCancel       Operation = "cancel"
	OpQueryDay     Operation = "query_day"
	OpQueryCurrent Operation = "query_current"

	// opAny marks table rows shared by every operation.
	opAny Operation = "*"
)

// Result is the coordinator's raw terminal state, before it is turned
// into a status code.
type Result string

const (
	ResultConfirmed          Result = "confirmed"
	ResultAlternatives       Result = "alternatives" // includes "none at all"
	ResultCancelled          Result = "cancelled"
	ResultCancelFailed       Result = "cancel-failed"
	ResultCurrentFound       Result = "current-found"
	ResultNoCurrent          Result = "no-current"
	ResultBackendUnavailable Result = "backend-unavailable"
	ResultIntegrityFault     Result = "integrity-fault"
	ResultInvalidInput       Result = "invalid-input"
)

// DateRelation positions the requested date against "now" in the
// clinic's timezone.
type DateRelation string

const (
	RelToday    DateRelation = "today"
	RelTomorrow DateRelation = "tomorrow"
	RelOther    DateRelation = "other"

	// relAny marks rows where the relation does not matter.
	relAny DateRelation = "*"
)

type outcomeKey struct {
	Op     Operation
	Result Result
	Bucket int // candidate count bucket: 0, 1, 2, 3 (=3 or more); -1 when not applicable
	Rel    DateRelation
}

// outcomeTable is the whole classifier. One row per
// (operation × result × bucket × relation) tuple; adding a status is
// adding a row, never new branching.
var outcomeTable = map[outcomeKey]StatusCode{
	{OpReserve, ResultConfirmed, -1, RelToday}:    StatusBookedToday,
	{OpReserve, ResultConfirmed, -1, RelTomorrow}: StatusBookedTomorrow,
	{OpReserve, ResultConfirmed, -1, RelOther}:    StatusBookedOtherDay,

	{OpReschedule, ResultConfirmed, -1, RelToday}:    StatusRescheduledToday,
	{OpReschedule, ResultConfirmed, -1, RelTomorrow}: StatusRescheduledTomorrow,
	{OpReschedule, ResultConfirmed, -1, RelOther}:    StatusRescheduledOtherDay,

	{opAny, ResultAlternatives, 0, RelToday}:    StatusNoSlotsToday,
	{opAny, ResultAlternatives, 0, RelTomorrow}: StatusNoSlotsTomorrow,
	{opAny, ResultAlternatives, 0, RelOther}:    StatusNoSlotsOtherDay,

	{opAny, ResultAlternatives, 1, RelToday}:    StatusOneAlternativeToday,
	{opAny, ResultAlternatives, 1, RelTomorrow}: StatusOneAlternativeTomorrow,
	{opAny, ResultAlternatives, 1, RelOther}:    StatusOneAlternativeOtherDay,

	{opAny, ResultAlternatives, 2, RelToday}:    StatusTwoAlternativesToday,
	{opAny, ResultAlternatives, 2, RelTomorrow}: StatusTwoAlternativesTomorrow,
	{opAny, ResultAlternatives, 2, RelOther}:    StatusTwoAlternativesOtherDay,

	{opAny, ResultAlternatives, 3, RelToday}:    StatusSeveralAlternativesToday,
	{opAny, ResultAlternatives, 3, RelTomorrow}: StatusSeveralAlternativesTomorrow,
	{opAny, ResultAlternatives, 3, RelOther}:    StatusSeveralAlternativesOtherDay,

	{OpCancel, ResultCancelled, -1, relAny}:    StatusCancelled,
	{OpCancel, ResultCancelFailed, -1, relAny}: StatusCancelFailed,

	{OpQueryCurrent, ResultCurrentFound, -1, relAny}: StatusCurrentFound,
	{OpQueryCurrent, ResultNoCurrent, -1, relAny}:    StatusNoCurrent,

	{opAny, ResultBackendUnavailable, -1, relAny}: StatusBackendUnavailable,
	{opAny, ResultIntegrityFault, -1, relAny}:     StatusIntegrityFault,
	{opAny, ResultInvalidInput, -1, relAny}:       StatusInvalidRequest,
}

// Classify maps a raw coordinator result to a status code. bucket and
// relation are normalized here so callers pass raw values.
func Classify(op Operation, result Result, candidateCount int, rel DateRelation) (StatusCode, bool) {
	bucket := -1
	if result == ResultAlternatives {
		bucket = candidateCount
		if bucket > 3 {
			bucket = 3
		}
	}

	for _, key := range []outcomeKey{
		{op, result, bucket, rel},
		{op, result, bucket, relAny},
		{opAny, result, bucket, rel},
		{opAny, result, bucket, relAny},
	} {
		if code, ok := outcomeTable[key]; ok {
			return code, true
		}
	}
	return "", false
}
