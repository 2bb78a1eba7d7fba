package negotiation

import (
	"strconv"
	"time"
)

// Response is the flat payload handed back to the dialogue layer. All
// time fields are pre-rendered strings so the voice pipeline never
// parses timestamps.
type Response struct {
	StatusCode StatusCode `json:"status_code"`

	Date           string `json:"date,omitempty"`
	DateLocale2    string `json:"date_locale2,omitempty"`
	Weekday        string `json:"weekday,omitempty"`
	WeekdayLocale2 string `json:"weekday_locale2,omitempty"`

	SpecialistName string `json:"specialist_name,omitempty"`

	Time       string `json:"time,omitempty"`
	FirstTime  string `json:"first_time,omitempty"`
	SecondTime string `json:"second_time,omitempty"`
	ThirdTime  string `json:"third_time,omitempty"`

	Message string `json:"message,omitempty"`
}

var weekdaysRu = [...]string{
	time.Sunday:    "воскресенье",
	time.Monday:    "понедельник",
	time.Tuesday:   "вторник",
	time.Wednesday: "среда",
	time.Thursday:  "четверг",
	time.Friday:    "пятница",
	time.Saturday:  "суббота",
}

var monthsRuGenitive = [...]string{
	time.January:   "января",
	time.February:  "февраля",
	time.March:     "марта",
	time.April:     "апреля",
	time.May:       "мая",
	time.June:      "июня",
	time.July:      "июля",
	time.August:    "августа",
	time.September: "сентября",
	time.October:   "октября",
	time.November:  "ноября",
	time.December:  "декабря",
}

func renderDate(t time.Time) (date, dateRu, weekday, weekdayRu string) {
	date = t.Format("January 2")
	dateRu = strconv.Itoa(t.Day()) + " " + monthsRuGenitive[t.Month()]
	weekday = t.Weekday().String()
	weekdayRu = weekdaysRu[t.Weekday()]
	return
}

// fillDate populates the four date fields of a response from a concrete
// calendar day.
func (r *Response) fillDate(day time.Time) {
	r.Date, r.DateLocale2, r.Weekday, r.WeekdayLocale2 = renderDate(day)
}

// fillCandidates spreads up to three candidate start times across the
// ordinal fields.
func (r *Response) fillCandidates(times []string) {
	if len(times) > 0 {
		r.FirstTime = times[0]
	}
	if len(times) > 1 {
		r.SecondTime = times[1]
	}
	if len(times) > 2 {
		r.ThirdTime = times[2]
	}
}
