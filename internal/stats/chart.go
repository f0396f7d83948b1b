package stats

import (
	"sort"
	"time"

	"github.com/joshdurbin/strava-stats/internal/strava"
)

// DistancePoint is one activity on the distance-over-time series
type DistancePoint struct {
	Date     string  `json:"date"`
	Distance float64 `json:"distance"` // km
	Name     string  `json:"name"`
}

// TypeBreakdown is one slice of the activity type chart
type TypeBreakdown struct {
	Type     string  `json:"type"`
	Count    int     `json:"count"`
	Distance float64 `json:"distance"` // km
}

// PacePoint is one run on the pace trend series
type PacePoint struct {
	Date string  `json:"date"`
	Pace float64 `json:"pace"` // seconds per km
	Name string  `json:"name"`
}

// ChartData holds the three chart series
type ChartData struct {
	DistanceOverTime []DistancePoint `json:"distance_over_time"`
	TypeBreakdown    []TypeBreakdown `json:"activity_type_breakdown"`
	PaceTrend        []PacePoint     `json:"pace_trends"`
}

// Bundle is the full-history statistics result
type Bundle struct {
	Totals          Totals            `json:"totals"`
	Averages        Averages          `json:"averages"`
	PersonalRecords PersonalRecords   `json:"personal_records"`
	ByType          map[string]Totals `json:"by_type"`
	ChartData       ChartData         `json:"chart_data"`
	Yearly          []Summary         `json:"yearly_stats"`
	// Truncated is set when the history sweep hit its iteration ceiling
	Truncated  bool      `json:"truncated"`
	ComputedAt time.Time `json:"computed_at"`
}

// day is the calendar date of the activity in its local time
func day(a strava.Activity) string {
	if !a.StartDateLocal.IsZero() {
		return a.StartDateLocal.Format("2006-01-02")
	}
	if !a.StartDate.IsZero() {
		return a.StartDate.Format("2006-01-02")
	}
	return ""
}

func displayName(a strava.Activity) string {
	if a.Name == "" {
		return "Unknown"
	}
	return a.Name
}

// PrepareChartData builds the chart series. Time series are ordered by start date.
func PrepareChartData(activities []strava.Activity) ChartData {
	sorted := make([]strava.Activity, len(activities))
	copy(sorted, activities)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartDate.Before(sorted[j].StartDate)
	})

	data := ChartData{
		DistanceOverTime: make([]DistancePoint, 0, len(sorted)),
		TypeBreakdown:    []TypeBreakdown{},
		PaceTrend:        []PacePoint{},
	}

	for _, a := range sorted {
		data.DistanceOverTime = append(data.DistanceOverTime, DistancePoint{
			Date:     day(a),
			Distance: a.Distance / 1000,
			Name:     displayName(a),
		})
		if a.Type == RunType && a.Distance > 0 {
			data.PaceTrend = append(data.PaceTrend, PacePoint{
				Date: day(a),
				Pace: Pace(a),
				Name: displayName(a),
			})
		}
	}

	for _, g := range groupOrdered(activities) {
		t := CalculateTotals(g.activities)
		data.TypeBreakdown = append(data.TypeBreakdown, TypeBreakdown{
			Type:     g.label,
			Count:    t.Count,
			Distance: t.Distance / 1000,
		})
	}
	return data
}

// Compute builds the full statistics bundle
func Compute(activities []strava.Activity, now time.Time) *Bundle {
	return &Bundle{
		Totals:          CalculateTotals(activities),
		Averages:        CalculateAverages(activities),
		PersonalRecords: FindPersonalRecords(activities),
		ByType:          GroupByType(activities),
		ChartData:       PrepareChartData(activities),
		Yearly:          YearlySummary(activities),
		ComputedAt:      now,
	}
}
