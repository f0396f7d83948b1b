package stats

import (
	"sort"
	"strconv"
	"time"

	"github.com/joshdurbin/strava-stats/internal/strava"
)

// Default window counts for the summary operations
const (
	DefaultWeeks  = 4
	DefaultMonths = 6
)

// Summary is the totals for one calendar window [Start, End)
type Summary struct {
	Label  string    `json:"label"`
	Period string    `json:"period"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Totals
}

// window totals the activities whose start_date falls in [start, end)
func window(activities []strava.Activity, start, end time.Time) Totals {
	var in []strava.Activity
	for _, a := range activities {
		if !a.StartDate.Before(start) && a.StartDate.Before(end) {
			in = append(in, a)
		}
	}
	return CalculateTotals(in)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// mondayOf returns midnight of the Monday starting t's week
func mondayOf(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return midnight(t).AddDate(0, 0, -offset)
}

// WeeklySummary totals the `weeks` complete Monday-start weeks before the
// week containing now, oldest first. Windows are computed in now's location.
func WeeklySummary(activities []strava.Activity, weeks int, now time.Time) []Summary {
	if weeks <= 0 {
		return []Summary{}
	}

	current := mondayOf(now)
	out := make([]Summary, weeks)
	for i := 0; i < weeks; i++ {
		start := current.AddDate(0, 0, -7*(i+1))
		end := start.AddDate(0, 0, 7)
		// newest week is built first, stored last
		out[weeks-1-i] = Summary{
			Label:  "Week of " + start.Format("Jan 02"),
			Period: start.Format("2006-01-02"),
			Start:  start,
			End:    end,
			Totals: window(activities, start, end),
		}
	}
	return out
}

// MonthlySummary totals the `months` most recent calendar months,
// including the current one, oldest first.
func MonthlySummary(activities []strava.Activity, months int, now time.Time) []Summary {
	if months <= 0 {
		return []Summary{}
	}

	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	out := make([]Summary, months)
	for i := 0; i < months; i++ {
		start := current.AddDate(0, -i, 0)
		end := start.AddDate(0, 1, 0)
		out[months-1-i] = Summary{
			Label:  start.Format("January 2006"),
			Period: start.Format("2006-01"),
			Start:  start,
			End:    end,
			Totals: window(activities, start, end),
		}
	}
	return out
}

// YearlySummary totals every calendar year (UTC) present in the data, ascending
func YearlySummary(activities []strava.Activity) []Summary {
	byYear := make(map[int][]strava.Activity)
	for _, a := range activities {
		y := a.StartDate.UTC().Year()
		byYear[y] = append(byYear[y], a)
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	out := make([]Summary, 0, len(years))
	for _, y := range years {
		label := strconv.Itoa(y)
		out = append(out, Summary{
			Label:  label,
			Period: label,
			Start:  time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC),
			End:    time.Date(y+1, 1, 1, 0, 0, 0, 0, time.UTC),
			Totals: CalculateTotals(byYear[y]),
		})
	}
	return out
}
