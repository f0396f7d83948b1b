// Package filter applies query predicates to activity lists.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshdurbin/strava-stats/internal/strava"
)

const dateLayout = "2006-01-02"

// endOfDay extends an end date to its last second
const endOfDay = 86399

// Criteria is a set of optional predicates, combined with AND.
// Start and End are inclusive Unix timestamps; distances are meters.
type Criteria struct {
	Type        string
	Start       *int64
	End         *int64
	MinDistance *float64
	MaxDistance *float64
	Search      string
}

// DateRange is an inclusive pair of Unix timestamps; nil means unbounded
type DateRange struct {
	Start *int64
	End   *int64
}

// ParseDateRange parses YYYY-MM-DD dates as UTC midnight. The end bound is
// moved to 23:59:59 of its day. If either non-empty input fails to parse, the
// whole range is unbounded.
func ParseDateRange(start, end string) DateRange {
	var r DateRange

	if start != "" {
		t, err := time.Parse(dateLayout, start)
		if err != nil {
			return DateRange{}
		}
		ts := t.Unix()
		r.Start = &ts
	}

	if end != "" {
		t, err := time.Parse(dateLayout, end)
		if err != nil {
			return DateRange{}
		}
		ts := t.Unix() + endOfDay
		r.End = &ts
	}

	return r
}

// IsZero reports whether no predicate is set
func (c Criteria) IsZero() bool {
	return c.Type == "" && c.Start == nil && c.End == nil &&
		c.MinDistance == nil && c.MaxDistance == nil && c.Search == ""
}

// Match reports whether a satisfies every supplied predicate
func (c Criteria) Match(a strava.Activity) bool {
	if c.Type != "" && a.Type != c.Type {
		return false
	}

	if c.Start != nil || c.End != nil {
		// no start date, no place in any date window
		if a.StartDate.IsZero() {
			return false
		}
		ts := a.StartDate.Unix()
		if c.Start != nil && ts < *c.Start {
			return false
		}
		if c.End != nil && ts > *c.End {
			return false
		}
	}

	if c.MinDistance != nil && a.Distance < *c.MinDistance {
		return false
	}
	if c.MaxDistance != nil && a.Distance > *c.MaxDistance {
		return false
	}

	if c.Search != "" && !strings.Contains(strings.ToLower(a.Name), strings.ToLower(c.Search)) {
		return false
	}
	return true
}

// Apply returns the activities matching c, preserving order
func Apply(activities []strava.Activity, c Criteria) []strava.Activity {
	if c.IsZero() {
		return activities
	}
	out := make([]strava.Activity, 0, len(activities))
	for _, a := range activities {
		if c.Match(a) {
			out = append(out, a)
		}
	}
	return out
}

// String describes the criteria for logs and tool output
func (c Criteria) String() string {
	var parts []string
	if c.Type != "" {
		parts = append(parts, "type="+c.Type)
	}

	switch {
	case c.Start != nil && c.End != nil:
		parts = append(parts, fmt.Sprintf("date=%s to %s", formatDate(*c.Start), formatDate(*c.End)))
	case c.Start != nil:
		parts = append(parts, "from="+formatDate(*c.Start))
	case c.End != nil:
		parts = append(parts, "to="+formatDate(*c.End))
	}

	if c.MinDistance != nil {
		parts = append(parts, fmt.Sprintf("distance>=%.1fkm", *c.MinDistance/1000))
	}
	if c.MaxDistance != nil {
		parts = append(parts, fmt.Sprintf("distance<=%.1fkm", *c.MaxDistance/1000))
	}
	if c.Search != "" {
		parts = append(parts, fmt.Sprintf("name~%q", c.Search))
	}

	if len(parts) == 0 {
		return "all activities"
	}
	return strings.Join(parts, ", ")
}

func formatDate(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(dateLayout)
}
