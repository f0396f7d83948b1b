// Package stats computes aggregate statistics over Strava activities.
// Every function is pure and total: empty input yields zero values, never an error.
package stats

import "github.com/joshdurbin/strava-stats/internal/strava"

// RunType is the activity type eligible for the fastest-pace record.
// Matching is exact; sport types such as TrailRun are not folded in.
const RunType = "Run"

// UnknownType groups activities with no type label
const UnknownType = "Unknown"

// Totals sums distance (meters), moving time (seconds) and elevation gain (meters)
type Totals struct {
	Distance   float64 `json:"total_distance"`
	MovingTime int     `json:"total_time"`
	Elevation  float64 `json:"total_elevation"`
	Count      int     `json:"activity_count"`
}

// Averages are per-activity means. Speed is m/s and Pace is seconds per km.
type Averages struct {
	Distance float64 `json:"avg_distance"`
	Speed    float64 `json:"avg_speed"`
	Pace     float64 `json:"avg_pace"`
	Duration float64 `json:"avg_duration"`
}

// PersonalRecords holds the best activity per metric; nil means no candidate
type PersonalRecords struct {
	LongestDistance  *strava.Activity `json:"longest_distance"`
	HighestElevation *strava.Activity `json:"highest_elevation"`
	LongestDuration  *strava.Activity `json:"longest_duration"`
	FastestPace      *strava.Activity `json:"fastest_pace"`
}

// CalculateTotals sums distance, moving time and elevation
func CalculateTotals(activities []strava.Activity) Totals {
	t := Totals{Count: len(activities)}
	for i := range activities {
		t.Distance += activities[i].Distance
		t.MovingTime += activities[i].MovingTime
		t.Elevation += activities[i].TotalElevationGain
	}
	return t
}

// CalculateAverages derives means from the totals, guarding every division
func CalculateAverages(activities []strava.Activity) Averages {
	if len(activities) == 0 {
		return Averages{}
	}

	t := CalculateTotals(activities)
	n := float64(t.Count)

	avg := Averages{
		Distance: t.Distance / n,
		Duration: float64(t.MovingTime) / n,
	}
	if t.MovingTime > 0 {
		avg.Speed = t.Distance / float64(t.MovingTime)
	}
	if t.Distance > 0 {
		avg.Pace = float64(t.MovingTime) / (t.Distance / 1000)
	}
	return avg
}

// Pace returns seconds per kilometer, or 0 when distance is not positive
func Pace(a strava.Activity) float64 {
	if a.Distance <= 0 {
		return 0
	}
	return float64(a.MovingTime) / (a.Distance / 1000)
}

// FindPersonalRecords picks the first activity holding each maximum.
// Fastest pace only considers runs with positive distance and moving time.
func FindPersonalRecords(activities []strava.Activity) PersonalRecords {
	var pr PersonalRecords
	bestPace := 0.0

	for i := range activities {
		a := &activities[i]

		if pr.LongestDistance == nil || a.Distance > pr.LongestDistance.Distance {
			pr.LongestDistance = a
		}
		if pr.HighestElevation == nil || a.TotalElevationGain > pr.HighestElevation.TotalElevationGain {
			pr.HighestElevation = a
		}
		if pr.LongestDuration == nil || a.MovingTime > pr.LongestDuration.MovingTime {
			pr.LongestDuration = a
		}

		if a.Type != RunType || a.Distance <= 0 || a.MovingTime <= 0 {
			continue
		}
		if pace := Pace(*a); pr.FastestPace == nil || pace < bestPace {
			pr.FastestPace = a
			bestPace = pace
		}
	}
	return pr
}

// typeLabel maps an empty type to UnknownType
func typeLabel(a strava.Activity) string {
	if a.Type == "" {
		return UnknownType
	}
	return a.Type
}

// GroupByType partitions activities by type and totals each partition
func GroupByType(activities []strava.Activity) map[string]Totals {
	out := make(map[string]Totals)
	for _, g := range groupOrdered(activities) {
		out[g.label] = CalculateTotals(g.activities)
	}
	return out
}

type typeGroup struct {
	label      string
	activities []strava.Activity
}

// groupOrdered partitions by type, keeping first-seen order of the labels
func groupOrdered(activities []strava.Activity) []typeGroup {
	index := make(map[string]int)
	var groups []typeGroup
	for _, a := range activities {
		label := typeLabel(a)
		i, ok := index[label]
		if !ok {
			i = len(groups)
			index[label] = i
			groups = append(groups, typeGroup{label: label})
		}
		groups[i].activities = append(groups[i].activities, a)
	}
	return groups
}
