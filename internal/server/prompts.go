package server

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/joshdurbin/strava-stats/internal/logging"
)

// registerPrompts registers all MCP prompts for the server
func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(&mcp.Prompt{
		Name:        "weekly_review",
		Description: "Generate a training review of the last few weeks with insights and recommendations",
		Arguments: []*mcp.PromptArgument{
			{
				Name:        "weeks",
				Description: "Number of complete weeks to review. Default: 4.",
				Required:    false,
			},
		},
	}, s.weeklyReviewPrompt)

	s.mcp.AddPrompt(&mcp.Prompt{
		Name:        "progress_check",
		Description: "Analyze month over month training progress with actionable insights",
		Arguments: []*mcp.PromptArgument{
			{
				Name:        "months",
				Description: "Number of months to compare. Default: 6.",
				Required:    false,
			},
		},
	}, s.progressCheckPrompt)

	s.mcp.AddPrompt(&mcp.Prompt{
		Name:        "pr_check",
		Description: "Review personal bests and the activities that set them",
		Arguments: []*mcp.PromptArgument{
			{
				Name:        "type",
				Description: "Activity type to look at recent efforts for (e.g., 'Run', 'Ride'). Leave empty for all types.",
				Required:    false,
			},
		},
	}, s.prCheckPrompt)

	logging.Debug("MCP prompts registered", "count", 3)
}

func promptArg(req *mcp.GetPromptRequest, name, def string) string {
	if req.Params == nil || req.Params.Arguments == nil {
		return def
	}
	if v, ok := req.Params.Arguments[name]; ok && v != "" {
		return v
	}
	return def
}

func userPrompt(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: text},
			},
		},
	}
}

// weeklyReviewPrompt generates a prompt for a weekly training review
func (s *Server) weeklyReviewPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	weeks := promptArg(req, "weeks", "4")
	logging.Info("MCP prompt requested", "prompt", "weekly_review", "weeks", weeks)

	promptText := fmt.Sprintf(`Please review my training over the last %s weeks.

Use the following tools to gather data:
1. **%s** with weeks=%s for weekly totals and training load insights
2. **%s** with start_date set to the first week's start to see the individual activities

Then provide:
- **Summary**: Activities completed, total distance, duration, and elevation per week
- **Load Trend**: Is last week's volume above, in line with, or below the weeks before?
- **Highlights**: Notable sessions
- **Recovery Check**: Signs of a sudden spike in load or missed weeks
- **Recommendations**: Suggestions for the coming week based on the data

Please be specific with numbers and use the actual data from the tools.`, weeks, toolGetWeeklySummary, weeks, toolGetActivities)

	return userPrompt("Weekly training review prompt", promptText), nil
}

// progressCheckPrompt generates a prompt for progress analysis
func (s *Server) progressCheckPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	months := promptArg(req, "months", "6")
	logging.Info("MCP prompt requested", "prompt", "progress_check", "months", months)

	promptText := fmt.Sprintf(`Please analyze my training progress over the last %s months.

Use the following tools to gather data:
1. **%s** with months=%s for the month by month totals
2. **%s** for all-time context and yearly totals
3. **%s** to see Strava's year-to-date rollups

Then provide:
- **Trend Summary**: Is my monthly volume improving, stable, or declining?
- **Percentage Change**: Quantify the change between complete months
- **Consistency**: How many activities per month, and how evenly spread?
- **Action Items**: Specific recommendations to keep improving or reverse a decline

Note that the current month is still in progress.`, months, toolGetMonthlySummary, months, toolGetStats, toolGetAthleteStats)

	return userPrompt("Training progress analysis prompt", promptText), nil
}

// prCheckPrompt generates a prompt for personal records review
func (s *Server) prCheckPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	activityType := promptArg(req, "type", "")
	logging.Info("MCP prompt requested", "prompt", "pr_check", "type", activityType)

	recent := fmt.Sprintf("**%s** to list my most recent activities", toolGetActivities)
	if activityType != "" {
		recent = fmt.Sprintf(`**%s** with type="%s" to list my most recent %s activities`, toolGetActivities, activityType, activityType)
	}

	promptText := fmt.Sprintf(`Please review my personal records.

Use the following tools to gather data:
1. **%s** for my all-time bests
2. %s
3. **%s** for details on any record activity worth a closer look

Then provide:
- **Current PRs**: Each record with its value and date
- **Recent Efforts**: Recent activities that came close to a record
- **Opportunities**: Which records look most within reach
- **Recommendations**: Training that would help set a new best`, toolGetPersonalRecords, recent, toolGetActivity)

	return userPrompt("Personal records review prompt", promptText), nil
}
