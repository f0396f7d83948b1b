package server

import (
	"fmt"
	"strings"

	"github.com/joshdurbin/strava-stats/internal/stats"
	"github.com/joshdurbin/strava-stats/internal/strava"
)

// Units selects metric (km, m, kph) or imperial (mi, ft, mph) output
type Units string

const (
	UnitsMetric   Units = "metric"
	UnitsImperial Units = "imperial"
)

const (
	metersPerMile = 1609.34
	feetPerMeter  = 3.28084
	kmPerMile     = 1.60934
)

// ParseUnits accepts metric/imperial plus Strava's meters/feet preference values
func ParseUnits(s string) (Units, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "metric", "meters", "km":
		return UnitsMetric, nil
	case "imperial", "feet", "miles", "mi":
		return UnitsImperial, nil
	}
	return "", fmt.Errorf("unknown units %q: use metric or imperial", s)
}

// formatDistance converts meters to km or miles
func formatDistance(meters float64, u Units) string {
	if u == UnitsImperial {
		return fmt.Sprintf("%.2f mi", meters/metersPerMile)
	}
	return fmt.Sprintf("%.2f km", meters/1000)
}

// formatPace renders seconds per km as min:sec per km or per mile
func formatPace(secondsPerKm float64, u Units) string {
	if secondsPerKm <= 0 {
		return ""
	}
	unit := "/km"
	if u == UnitsImperial {
		secondsPerKm *= kmPerMile
		unit = "/mi"
	}
	total := int(secondsPerKm)
	return fmt.Sprintf("%d:%02d %s", total/60, total%60, unit)
}

// formatDuration renders seconds as H:MM:SS or M:SS
func formatDuration(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

func formatElevation(meters float64, u Units) string {
	if u == UnitsImperial {
		return fmt.Sprintf("%.0f ft", meters*feetPerMeter)
	}
	return fmt.Sprintf("%.0f m", meters)
}

func formatSpeed(mps float64, u Units) string {
	if u == UnitsImperial {
		return fmt.Sprintf("%.1f mph", mps*2.23694)
	}
	return fmt.Sprintf("%.1f kph", mps*3.6)
}

type ActivitySummary struct {
	ID            int64  `json:"id,omitempty"`
	Name          string `json:"name,omitempty"`
	Type          string `json:"type,omitempty"`
	Date          string `json:"date,omitempty"`
	Distance      string `json:"distance,omitempty"`
	Duration      string `json:"duration,omitempty"`
	Pace          string `json:"pace,omitempty"`
	AvgSpeed      string `json:"avg_speed,omitempty"`
	ElevationGain string `json:"elevation_gain,omitempty"`
	AvgHeartrate  int    `json:"avg_heartrate_bpm,omitempty"`
	MaxHeartrate  int    `json:"max_heartrate_bpm,omitempty"`
	Calories      int    `json:"calories,omitempty"`
	Description   string `json:"description,omitempty"`
	Kudos         int    `json:"kudos,omitempty"`
	Commute       bool   `json:"commute,omitempty"`
	Trainer       bool   `json:"trainer,omitempty"`
}

func convertActivities(activities []strava.Activity, u Units) []ActivitySummary {
	result := make([]ActivitySummary, len(activities))
	for i, a := range activities {
		result[i] = convertActivity(a, u)
	}
	return result
}

func convertActivity(a strava.Activity, u Units) ActivitySummary {
	summary := ActivitySummary{
		ID:          a.ID,
		Name:        a.Name,
		Type:        a.Type,
		Description: a.Description,
		Kudos:       a.KudosCount,
		Commute:     a.Commute,
		Trainer:     a.Trainer,
	}

	if !a.StartDate.IsZero() {
		summary.Date = a.StartDate.Format("2006-01-02")
	}
	if a.Distance > 0 {
		summary.Distance = formatDistance(a.Distance, u)
	}
	if a.MovingTime > 0 {
		summary.Duration = formatDuration(int64(a.MovingTime))
	}
	if a.Distance > 0 && a.MovingTime > 0 {
		summary.Pace = formatPace(stats.Pace(a), u)
	}
	if a.AverageSpeed > 0 {
		summary.AvgSpeed = formatSpeed(a.AverageSpeed, u)
	}
	if a.TotalElevationGain > 0 {
		summary.ElevationGain = formatElevation(a.TotalElevationGain, u)
	}
	if a.AverageHeartrate > 0 {
		summary.AvgHeartrate = int(a.AverageHeartrate)
	}
	if a.MaxHeartrate > 0 {
		summary.MaxHeartrate = int(a.MaxHeartrate)
	}
	if a.Calories > 0 {
		summary.Calories = int(a.Calories)
	}

	return summary
}

// TotalsSummary is a formatted stats.Totals
type TotalsSummary struct {
	ActivityCount  int    `json:"activity_count"`
	TotalDistance  string `json:"total_distance"`
	TotalDuration  string `json:"total_duration"`
	TotalElevation string `json:"total_elevation"`
}

func convertTotals(t stats.Totals, u Units) TotalsSummary {
	return TotalsSummary{
		ActivityCount:  t.Count,
		TotalDistance:  formatDistance(t.Distance, u),
		TotalDuration:  formatDuration(int64(t.MovingTime)),
		TotalElevation: formatElevation(t.Elevation, u),
	}
}

type PeriodSummary struct {
	Label  string        `json:"label"`
	Period string        `json:"period"`
	Totals TotalsSummary `json:"totals"`
}

func convertPeriods(periods []stats.Summary, u Units) []PeriodSummary {
	out := make([]PeriodSummary, len(periods))
	for i, p := range periods {
		out[i] = PeriodSummary{
			Label:  p.Label,
			Period: p.Period,
			Totals: convertTotals(p.Totals, u),
		}
	}
	return out
}
