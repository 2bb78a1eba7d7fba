package availability

import (
	"fmt"
	"sort"

	"github.com/medassist/appointment-negotiation/internal/clinicbackend"
)

// Relative narrows candidates against an existing appointment's time on
// the same day ("earlier"/"later").
type Relative int

const (
	RelativeNone Relative = iota
	RelativeEarlier
	RelativeLater
)

// MatchOptions controls a single matching pass. OpenAt/CloseAt clip
// intervals to the clinic's operating window; CloseAt is exclusive.
type MatchOptions struct {
	OpenAt   string // "09:00"
	CloseAt  string // "21:00"
	Relative Relative
	Pivot    string // existing appointment's begin time, for Relative
}

// Match is the outcome of one matching pass: either a unique exact
// match, or an ascending list of candidate start times. Candidates are
// independent time points at the backend's booking granularity, not
// ranges.
type Match struct {
	Exact      *clinicbackend.FreeInterval
	Candidates []string // "15:04", ascending, unique
}

// MatchDay matches a requested wall-clock time against one day's free
// intervals. requested may be empty ("any time that day"). The matcher
// does interval arithmetic only; semantic rounding of phrases like
// "morning" happens before it is called.
func MatchDay(intervals []clinicbackend.FreeInterval, requested string, opts MatchOptions) Match {
	open, openOK := parseClock(opts.OpenAt)
	closeAt, closeOK := parseClock(opts.CloseAt)
	if !openOK || !closeOK {
		open, closeAt = 0, 24*60
	}

	reqMin := -1
	if requested != "" {
		if m, ok := parseClock(requested); ok {
			reqMin = m
		}
	}
	pivotMin := -1
	if opts.Relative != RelativeNone {
		if m, ok := parseClock(opts.Pivot); ok {
			pivotMin = m
		}
	}

	var qualifying []clinicbackend.FreeInterval
	for _, iv := range intervals {
		begin, ok := parseClock(iv.Begin)
		if !ok || iv.FreeCount < 1 {
			continue
		}
		if begin < open || begin >= closeAt {
			continue
		}
		qualifying = append(qualifying, iv)

		if reqMin >= 0 && begin == reqMin {
			exact := iv
			return Match{Exact: &exact}
		}
	}

	seen := make(map[int]bool)
	var candidates []int
	for _, iv := range qualifying {
		begin, _ := parseClock(iv.Begin)
		if seen[begin] {
			continue
		}
		if pivotMin >= 0 {
			if opts.Relative == RelativeEarlier && begin >= pivotMin {
				continue
			}
			if opts.Relative == RelativeLater && begin <= pivotMin {
				continue
			}
		}
		seen[begin] = true
		candidates = append(candidates, begin)
	}
	sort.Ints(candidates)

	out := make([]string, 0, len(candidates))
	for _, m := range candidates {
		out = append(out, formatClock(m))
	}
	return Match{Candidates: out}
}

// FindInterval returns the interval starting at the given time, used to
// recover the ScheduleRef when reserving a candidate.
func FindInterval(intervals []clinicbackend.FreeInterval, begin string) *clinicbackend.FreeInterval {
	want, ok := parseClock(begin)
	if !ok {
		return nil
	}
	for _, iv := range intervals {
		if b, ok := parseClock(iv.Begin); ok && b == want && iv.FreeCount > 0 {
			found := iv
			return &found
		}
	}
	return nil
}

// parseClock parses "HH:MM" into minutes from midnight.
func parseClock(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' ||
		s[3] < '0' || s[3] > '9' || s[4] < '0' || s[4] > '9' ||
		h > 23 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
