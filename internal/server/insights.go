package server

import (
	"fmt"
	"math"

	"github.com/joshdurbin/strava-stats/internal/stats"
)

// Insight is a short observation about the data, attached to tool output
type Insight struct {
	Type    string `json:"type"` // trend, achievement, warning, suggestion
	Message string `json:"message"`
}

// SuggestedAction points the model at a useful follow-up tool call
type SuggestedAction struct {
	Tool        string `json:"tool"`
	Description string `json:"description"`
	Priority    string `json:"priority"` // high, medium, low
}

// progressInsights compares a metric across two periods
func progressInsights(currentValue, previousValue float64, metric string, higherIsBetter bool) []Insight {
	if previousValue == 0 {
		return nil
	}

	changePercent := ((currentValue - previousValue) / previousValue) * 100
	improving := (higherIsBetter && changePercent > 0) || (!higherIsBetter && changePercent < 0)
	absChange := math.Abs(changePercent)

	switch {
	case absChange < 5:
		return []Insight{{
			Type:    "trend",
			Message: fmt.Sprintf("Your %s is stable (%.1f%% change)", metric, changePercent),
		}}
	case improving:
		intensity := "up"
		if absChange > 20 {
			intensity = "well up"
		}
		return []Insight{{
			Type:    "achievement",
			Message: fmt.Sprintf("Your %s is %s (%.1f%% more than the previous period)", metric, intensity, absChange),
		}}
	default:
		intensity := "down"
		if absChange > 20 {
			intensity = "well down"
		}
		return []Insight{{
			Type:    "warning",
			Message: fmt.Sprintf("Your %s is %s (%.1f%% less than the previous period)", metric, intensity, absChange),
		}}
	}
}

// trainingLoadInsights compares the most recent week against the average of
// the weeks before it. weeks must be chronological.
func trainingLoadInsights(weeks []stats.Summary) []Insight {
	if len(weeks) < 2 {
		return nil
	}

	latest := weeks[len(weeks)-1]
	previous := weeks[:len(weeks)-1]

	var volume float64
	var count int
	for _, w := range previous {
		volume += w.Distance
		count += w.Count
	}
	avgVolume := volume / float64(len(previous))
	avgCount := float64(count) / float64(len(previous))

	if avgVolume == 0 {
		return nil
	}

	var insights []Insight
	ratio := latest.Distance / avgVolume

	switch {
	case ratio > 1.3:
		insights = append(insights, Insight{
			Type:    "warning",
			Message: fmt.Sprintf("Last week's distance was %.0f%% above your recent average, consider recovery", (ratio-1)*100),
		})
	case ratio > 1.1:
		insights = append(insights, Insight{
			Type:    "trend",
			Message: fmt.Sprintf("Last week's distance was %.0f%% above average", (ratio-1)*100),
		})
	case ratio < 0.7:
		insights = append(insights, Insight{
			Type:    "suggestion",
			Message: fmt.Sprintf("Last week's distance was %.0f%% below average. Planned recovery or time to ramp up?", (1-ratio)*100),
		})
	case ratio < 0.9:
		insights = append(insights, Insight{
			Type:    "trend",
			Message: fmt.Sprintf("Last week's distance was slightly below average (%.0f%%)", (1-ratio)*100),
		})
	default:
		insights = append(insights, Insight{
			Type:    "trend",
			Message: "Last week's distance was consistent with your recent average",
		})
	}

	if avgCount > 0 {
		activityRatio := float64(latest.Count) / avgCount
		if activityRatio > 1.5 {
			insights = append(insights, Insight{
				Type:    "trend",
				Message: fmt.Sprintf("Activity frequency is high (%d last week vs %.1f avg)", latest.Count, avgCount),
			})
		} else if activityRatio < 0.5 && latest.Count > 0 {
			insights = append(insights, Insight{
				Type:    "trend",
				Message: fmt.Sprintf("Activity frequency is low (%d last week vs %.1f avg)", latest.Count, avgCount),
			})
		}
	}

	return insights
}

// SuggestNextActions suggests logical next tool calls after the given tool
func SuggestNextActions(after string) []SuggestedAction {
	switch after {
	case toolGetActivities:
		return []SuggestedAction{
			{Tool: toolGetActivity, Description: "Get full details for one of these activities", Priority: "medium"},
			{Tool: toolGetStats, Description: "Get all-time statistics", Priority: "low"},
		}
	case toolGetStats:
		return []SuggestedAction{
			{Tool: toolGetPersonalRecords, Description: "See your all-time bests", Priority: "medium"},
			{Tool: toolGetMonthlySummary, Description: "See how recent months compare", Priority: "high"},
		}
	case toolGetWeeklySummary:
		return []SuggestedAction{
			{Tool: toolGetMonthlySummary, Description: "Zoom out to monthly totals", Priority: "medium"},
			{Tool: toolGetActivities, Description: "List last week's activities", Priority: "low"},
		}
	case toolGetMonthlySummary:
		return []SuggestedAction{
			{Tool: toolGetWeeklySummary, Description: "Check recent training load week by week", Priority: "high"},
			{Tool: toolGetStats, Description: "Compare with all-time totals", Priority: "low"},
		}
	case toolGetPersonalRecords:
		return []SuggestedAction{
			{Tool: toolGetActivity, Description: "Look at a record activity in detail", Priority: "medium"},
		}
	}
	return nil
}
