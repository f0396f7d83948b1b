package server

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/joshdurbin/strava-stats/internal/logging"
	"github.com/joshdurbin/strava-stats/internal/service"
	"github.com/joshdurbin/strava-stats/internal/stats"
	"github.com/joshdurbin/strava-stats/internal/strava"
)

const (
	serverName    = "strava-stats"
	serverVersion = "1.0.0"
)

// Tool names
const (
	toolGetActivities      = "get_activities"
	toolGetActivity        = "get_activity"
	toolGetStats           = "get_stats"
	toolGetPersonalRecords = "get_personal_records"
	toolGetWeeklySummary   = "get_weekly_summary"
	toolGetMonthlySummary  = "get_monthly_summary"
	toolGetAthleteStats    = "get_athlete_stats"
	toolClearCache         = "clear_cache"
)

// ptr returns a pointer to the given value - useful for optional fields in structs
func ptr[T any](v T) *T {
	return &v
}

// Server exposes the service as MCP tools, resources and prompts
type Server struct {
	mcp      *mcp.Server
	svc      *service.Service
	sessions service.SessionProvider
	units    Units
}

// MCPServer returns the underlying MCP server (for use with HTTP/SSE transport)
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// New creates a new MCP server. units is the default for tools that format distances.
func New(svc *service.Service, sessions service.SessionProvider, units Units) *Server {
	logging.Info("MCP server initializing", "name", serverName, "version", serverVersion)

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)

	if units == "" {
		units = UnitsMetric
	}

	s := &Server{
		mcp:      mcpServer,
		svc:      svc,
		sessions: sessions,
		units:    units,
	}

	logging.Debug("Registering MCP tools")
	s.registerTools()

	logging.Debug("Registering MCP resources")
	s.registerResources()

	logging.Debug("Registering MCP prompts")
	s.registerPrompts()

	logging.Info("MCP server initialized", "tools_registered", 8, "resources_registered", 3, "prompts_registered", 3)
	return s
}

// Run starts the MCP server over stdio transport
func (s *Server) Run(ctx context.Context) error {
	logging.Info("MCP server starting")
	defer logging.Info("MCP server stopped")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func readOnly(title string) *mcp.ToolAnnotations {
	return &mcp.ToolAnnotations{
		Title:           title,
		ReadOnlyHint:    true,
		IdempotentHint:  true,
		OpenWorldHint:   ptr(true),
		DestructiveHint: ptr(false),
	}
}

func (s *Server) registerTools() {
	logging.Debug("Registering tool", "name", toolGetActivities)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: toolGetActivities,
		Description: `List one page of Strava activities, newest first, with optional filtering.

Use when:
- User asks "Show me my recent runs" or "What did I do in March?"
- User wants activities matching a distance range or a name

Parameters:
- page (integer): Page number, starting at 1. Default: 1.
- per_page (integer): Activities per page. Default: 30, Max: 200.
- type (string): Exact activity type (Run, Ride, Swim, Walk, Hike, etc.).
- start_date / end_date (string): YYYY-MM-DD, inclusive. Applied by Strava before paging.
- min_distance_km / max_distance_km (number): Distance bounds in kilometers.
- search (string): Case-insensitive substring of the activity name.
- units (string): "metric" or "imperial".

Filters other than dates apply to the fetched page, so a page may hold fewer than per_page results.

Example: {"type": "Run", "start_date": "2024-03-01", "end_date": "2024-03-31", "min_distance_km": 10}`,
		Annotations: readOnly("Get Activities"),
	}, s.getActivities)

	logging.Debug("Registering tool", "name", toolGetActivity)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: toolGetActivity,
		Description: `Get full details of a single activity by its Strava ID.

Parameters:
- id (integer, required): Strava activity ID.
- units (string): "metric" or "imperial".

Example: {"id": 1234567890}`,
		Annotations: readOnly("Get Activity"),
	}, s.getActivity)

	logging.Debug("Registering tool", "name", toolGetStats)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: toolGetStats,
		Description: `Get all-time statistics computed over the complete activity history: totals, averages, totals by activity type and yearly totals.

Use when:
- User asks "How far have I run in total?" or "How many rides did I do in 2023?"

The first call sweeps the full history and may take a while; results are cached for five minutes.

Parameters:
- units (string): "metric" or "imperial".`,
		Annotations: readOnly("Get Statistics"),
	}, s.getStats)

	logging.Debug("Registering tool", "name", toolGetPersonalRecords)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: toolGetPersonalRecords,
		Description: `Get personal records over the complete history: longest distance, highest elevation gain, longest duration and fastest run pace.

Parameters:
- units (string): "metric" or "imperial".`,
		Annotations: readOnly("Get Personal Records"),
	}, s.getPersonalRecords)

	logging.Debug("Registering tool", "name", toolGetWeeklySummary)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: toolGetWeeklySummary,
		Description: `Get totals for the last N complete weeks (Monday to Sunday), oldest first, from the 200 most recent activities.

Parameters:
- weeks (integer): Number of weeks. Default: 4.
- units (string): "metric" or "imperial".

Returns training load insights comparing last week with the weeks before.`,
		Annotations: readOnly("Get Weekly Summary"),
	}, s.getWeeklySummary)

	logging.Debug("Registering tool", "name", toolGetMonthlySummary)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: toolGetMonthlySummary,
		Description: `Get totals for the last N calendar months including the current one, oldest first, from the 200 most recent activities.

Parameters:
- months (integer): Number of months. Default: 6.
- units (string): "metric" or "imperial".`,
		Annotations: readOnly("Get Monthly Summary"),
	}, s.getMonthlySummary)

	logging.Debug("Registering tool", "name", toolGetAthleteStats)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: toolGetAthleteStats,
		Description: `Get Strava's own rollups for the athlete: recent (4 weeks), year-to-date and all-time totals for runs, rides and swims.

Parameters:
- units (string): "metric" or "imperial".`,
		Annotations: readOnly("Get Athlete Stats"),
	}, s.getAthleteStats)

	logging.Debug("Registering tool", "name", toolClearCache)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolClearCache,
		Description: `Drop all cached Strava data for the current athlete so the next call fetches fresh data. Use after the user uploads new activities.`,
		Annotations: &mcp.ToolAnnotations{
			Title:           "Clear Cache",
			IdempotentHint:  true,
			OpenWorldHint:   ptr(false),
			DestructiveHint: ptr(false),
		},
	}, s.clearCache)
}

// Tool input and output types

type UnitsInput struct {
	Units string `json:"units,omitempty" jsonschema:"Output units: 'metric' (km, m) or 'imperial' (mi, ft). Defaults to the server setting."`
}

type GetActivitiesInput struct {
	Page          int      `json:"page,omitempty" jsonschema:"Page number starting at 1. Default: 1."`
	PerPage       int      `json:"per_page,omitempty" jsonschema:"Activities per page. Default: 30, Max: 200."`
	Type          string   `json:"type,omitempty" jsonschema:"Exact activity type. Common values: Run, Ride, Swim, Walk, Hike."`
	StartDate     string   `json:"start_date,omitempty" jsonschema:"Include activities on or after this date. Format: YYYY-MM-DD."`
	EndDate       string   `json:"end_date,omitempty" jsonschema:"Include activities on or before this date. Format: YYYY-MM-DD."`
	MinDistanceKm *float64 `json:"min_distance_km,omitempty" jsonschema:"Minimum distance in kilometers."`
	MaxDistanceKm *float64 `json:"max_distance_km,omitempty" jsonschema:"Maximum distance in kilometers."`
	Search        string   `json:"search,omitempty" jsonschema:"Case-insensitive substring to look for in activity names."`
	Units         string   `json:"units,omitempty" jsonschema:"Output units: metric or imperial."`
}

type GetActivitiesOutput struct {
	Activities       []ActivitySummary `json:"activities"`
	Count            int               `json:"count"`
	Page             int               `json:"page"`
	PerPage          int               `json:"per_page"`
	Filter           string            `json:"filter"`
	SuggestedActions []SuggestedAction `json:"suggested_actions,omitempty"`
}

type GetActivityInput struct {
	ID    int64  `json:"id" jsonschema:"Strava activity ID. Required."`
	Units string `json:"units,omitempty" jsonschema:"Output units: metric or imperial."`
}

type TypeSummary struct {
	Type   string        `json:"type"`
	Totals TotalsSummary `json:"totals"`
}

type AveragesSummary struct {
	Distance string `json:"avg_distance"`
	Duration string `json:"avg_duration"`
	Speed    string `json:"avg_speed"`
	Pace     string `json:"avg_pace,omitempty"`
}

type StatsOutput struct {
	Totals           TotalsSummary     `json:"totals"`
	Averages         AveragesSummary   `json:"averages"`
	ByType           []TypeSummary     `json:"by_type"`
	Yearly           []PeriodSummary   `json:"yearly"`
	Truncated        bool              `json:"truncated,omitempty"`
	ComputedAt       string            `json:"computed_at"`
	SuggestedActions []SuggestedAction `json:"suggested_actions,omitempty"`
}

type PersonalRecord struct {
	Category    string          `json:"category"`
	RecordValue string          `json:"record_value"`
	Activity    ActivitySummary `json:"activity"`
}

type PersonalRecordsOutput struct {
	Records          []PersonalRecord  `json:"records"`
	SuggestedActions []SuggestedAction `json:"suggested_actions,omitempty"`
}

type WeeklySummaryInput struct {
	Weeks int    `json:"weeks,omitempty" jsonschema:"Number of complete weeks to summarize. Default: 4."`
	Units string `json:"units,omitempty" jsonschema:"Output units: metric or imperial."`
}

type MonthlySummaryInput struct {
	Months int    `json:"months,omitempty" jsonschema:"Number of months to summarize, including the current one. Default: 6."`
	Units  string `json:"units,omitempty" jsonschema:"Output units: metric or imperial."`
}

type PeriodsOutput struct {
	Periods          []PeriodSummary   `json:"periods"`
	Insights         []Insight         `json:"insights,omitempty"`
	SuggestedActions []SuggestedAction `json:"suggested_actions,omitempty"`
}

type RollupSummary struct {
	Count         int    `json:"count"`
	Distance      string `json:"distance"`
	MovingTime    string `json:"moving_time"`
	ElevationGain string `json:"elevation_gain"`
}

type AthleteStatsOutput struct {
	BiggestRideDistance string                   `json:"biggest_ride_distance"`
	BiggestClimb        string                   `json:"biggest_climb"`
	Rollups             map[string]RollupSummary `json:"rollups"`
}

type ClearCacheInput struct{}

type ClearCacheOutput struct {
	Message string `json:"message"`
}

// Tool handlers

func (s *Server) resolveUnits(requested string) (Units, error) {
	if requested == "" {
		return s.units, nil
	}
	u, err := ParseUnits(requested)
	if err != nil {
		return "", NewInvalidInputError(err.Error())
	}
	return u, nil
}

func (s *Server) session(ctx context.Context) (service.Session, error) {
	sess, err := s.sessions.Session(ctx)
	if err != nil {
		return service.Session{}, toolError(err)
	}
	return sess, nil
}

func (s *Server) getActivities(ctx context.Context, req *mcp.CallToolRequest, input GetActivitiesInput) (*mcp.CallToolResult, GetActivitiesOutput, error) {
	logging.Info("MCP tool call", "tool", toolGetActivities, "page", input.Page, "type", input.Type)
	if logging.IsVerbose() {
		logging.Debug("MCP request params", "tool", toolGetActivities, "input", logging.ToJSON(input))
	}

	units, err := s.resolveUnits(input.Units)
	if err != nil {
		return nil, GetActivitiesOutput{}, err
	}
	if input.PerPage < 0 || input.Page < 0 {
		return nil, GetActivitiesOutput{}, NewInvalidInputError("page and per_page must be positive")
	}

	sess, err := s.session(ctx)
	if err != nil {
		return nil, GetActivitiesOutput{}, err
	}

	page, err := s.svc.FetchFilteredActivities(ctx, sess, service.ActivityQuery{
		Page:          input.Page,
		PerPage:       input.PerPage,
		Type:          input.Type,
		StartDate:     input.StartDate,
		EndDate:       input.EndDate,
		MinDistanceKm: input.MinDistanceKm,
		MaxDistanceKm: input.MaxDistanceKm,
		Search:        input.Search,
	})
	if err != nil {
		return nil, GetActivitiesOutput{}, toolError(err)
	}

	return nil, GetActivitiesOutput{
		Activities:       convertActivities(page.Activities, units),
		Count:            page.Count,
		Page:             page.Page,
		PerPage:          page.PerPage,
		Filter:           page.Filter,
		SuggestedActions: SuggestNextActions(toolGetActivities),
	}, nil
}

func (s *Server) getActivity(ctx context.Context, req *mcp.CallToolRequest, input GetActivityInput) (*mcp.CallToolResult, ActivitySummary, error) {
	logging.Info("MCP tool call", "tool", toolGetActivity, "id", input.ID)

	if input.ID <= 0 {
		return nil, ActivitySummary{}, NewInvalidInputError("id is required")
	}
	units, err := s.resolveUnits(input.Units)
	if err != nil {
		return nil, ActivitySummary{}, err
	}

	sess, err := s.session(ctx)
	if err != nil {
		return nil, ActivitySummary{}, err
	}

	activity, err := s.svc.ActivityDetail(ctx, sess, input.ID)
	if err != nil {
		return nil, ActivitySummary{}, toolError(err)
	}
	return nil, convertActivity(*activity, units), nil
}

func (s *Server) bundle(ctx context.Context) (*stats.Bundle, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	bundle, err := s.svc.FullHistoryStats(ctx, sess)
	if err != nil {
		return nil, toolError(err)
	}
	return bundle, nil
}

func buildStatsOutput(b *stats.Bundle, units Units) StatsOutput {
	out := StatsOutput{
		Totals: convertTotals(b.Totals, units),
		Averages: AveragesSummary{
			Distance: formatDistance(b.Averages.Distance, units),
			Duration: formatDuration(int64(b.Averages.Duration)),
			Speed:    formatSpeed(b.Averages.Speed, units),
			Pace:     formatPace(b.Averages.Pace, units),
		},
		ByType:     make([]TypeSummary, 0, len(b.ChartData.TypeBreakdown)),
		Yearly:     convertPeriods(b.Yearly, units),
		Truncated:  b.Truncated,
		ComputedAt: b.ComputedAt.Format(time.RFC3339),
	}
	// chart breakdown carries first-seen type order, the map does not
	for _, tb := range b.ChartData.TypeBreakdown {
		out.ByType = append(out.ByType, TypeSummary{
			Type:   tb.Type,
			Totals: convertTotals(b.ByType[tb.Type], units),
		})
	}
	return out
}

func (s *Server) getStats(ctx context.Context, req *mcp.CallToolRequest, input UnitsInput) (*mcp.CallToolResult, StatsOutput, error) {
	logging.Info("MCP tool call", "tool", toolGetStats)

	units, err := s.resolveUnits(input.Units)
	if err != nil {
		return nil, StatsOutput{}, err
	}
	b, err := s.bundle(ctx)
	if err != nil {
		return nil, StatsOutput{}, err
	}

	out := buildStatsOutput(b, units)
	out.SuggestedActions = SuggestNextActions(toolGetStats)
	return nil, out, nil
}

func buildRecords(pr stats.PersonalRecords, units Units) []PersonalRecord {
	records := make([]PersonalRecord, 0, 4)
	if a := pr.LongestDistance; a != nil {
		records = append(records, PersonalRecord{"longest_distance", formatDistance(a.Distance, units), convertActivity(*a, units)})
	}
	if a := pr.HighestElevation; a != nil {
		records = append(records, PersonalRecord{"highest_elevation", formatElevation(a.TotalElevationGain, units), convertActivity(*a, units)})
	}
	if a := pr.LongestDuration; a != nil {
		records = append(records, PersonalRecord{"longest_duration", formatDuration(int64(a.MovingTime)), convertActivity(*a, units)})
	}
	if a := pr.FastestPace; a != nil {
		records = append(records, PersonalRecord{"fastest_run_pace", formatPace(stats.Pace(*a), units), convertActivity(*a, units)})
	}
	return records
}

func (s *Server) getPersonalRecords(ctx context.Context, req *mcp.CallToolRequest, input UnitsInput) (*mcp.CallToolResult, PersonalRecordsOutput, error) {
	logging.Info("MCP tool call", "tool", toolGetPersonalRecords)

	units, err := s.resolveUnits(input.Units)
	if err != nil {
		return nil, PersonalRecordsOutput{}, err
	}
	b, err := s.bundle(ctx)
	if err != nil {
		return nil, PersonalRecordsOutput{}, err
	}

	return nil, PersonalRecordsOutput{
		Records:          buildRecords(b.PersonalRecords, units),
		SuggestedActions: SuggestNextActions(toolGetPersonalRecords),
	}, nil
}

func (s *Server) getWeeklySummary(ctx context.Context, req *mcp.CallToolRequest, input WeeklySummaryInput) (*mcp.CallToolResult, PeriodsOutput, error) {
	logging.Info("MCP tool call", "tool", toolGetWeeklySummary, "weeks", input.Weeks)

	if input.Weeks < 0 {
		return nil, PeriodsOutput{}, NewInvalidInputErrorWithDetails("weeks must be positive", fmt.Sprint(input.Weeks))
	}
	units, err := s.resolveUnits(input.Units)
	if err != nil {
		return nil, PeriodsOutput{}, err
	}
	sess, err := s.session(ctx)
	if err != nil {
		return nil, PeriodsOutput{}, err
	}

	weeks, err := s.svc.WeeklySummary(ctx, sess, input.Weeks)
	if err != nil {
		return nil, PeriodsOutput{}, toolError(err)
	}

	return nil, PeriodsOutput{
		Periods:          convertPeriods(weeks, units),
		Insights:         trainingLoadInsights(weeks),
		SuggestedActions: SuggestNextActions(toolGetWeeklySummary),
	}, nil
}

func (s *Server) getMonthlySummary(ctx context.Context, req *mcp.CallToolRequest, input MonthlySummaryInput) (*mcp.CallToolResult, PeriodsOutput, error) {
	logging.Info("MCP tool call", "tool", toolGetMonthlySummary, "months", input.Months)

	if input.Months < 0 {
		return nil, PeriodsOutput{}, NewInvalidInputErrorWithDetails("months must be positive", fmt.Sprint(input.Months))
	}
	units, err := s.resolveUnits(input.Units)
	if err != nil {
		return nil, PeriodsOutput{}, err
	}
	sess, err := s.session(ctx)
	if err != nil {
		return nil, PeriodsOutput{}, err
	}

	months, err := s.svc.MonthlySummary(ctx, sess, input.Months)
	if err != nil {
		return nil, PeriodsOutput{}, toolError(err)
	}

	out := PeriodsOutput{
		Periods:          convertPeriods(months, units),
		SuggestedActions: SuggestNextActions(toolGetMonthlySummary),
	}
	// the current month is partial, so compare the two complete months before it
	if n := len(months); n >= 3 {
		out.Insights = progressInsights(months[n-2].Distance, months[n-3].Distance, "monthly distance", true)
	}
	return nil, out, nil
}

func (s *Server) getAthleteStats(ctx context.Context, req *mcp.CallToolRequest, input UnitsInput) (*mcp.CallToolResult, AthleteStatsOutput, error) {
	logging.Info("MCP tool call", "tool", toolGetAthleteStats)

	units, err := s.resolveUnits(input.Units)
	if err != nil {
		return nil, AthleteStatsOutput{}, err
	}
	sess, err := s.session(ctx)
	if err != nil {
		return nil, AthleteStatsOutput{}, err
	}

	st, err := s.svc.AthleteStats(ctx, sess)
	if err != nil {
		return nil, AthleteStatsOutput{}, toolError(err)
	}

	rollup := func(name string, t strava.ActivityTotal) (string, RollupSummary) {
		return name, RollupSummary{
			Count:         t.Count,
			Distance:      formatDistance(t.Distance, units),
			MovingTime:    formatDuration(int64(t.MovingTime)),
			ElevationGain: formatElevation(t.ElevationGain, units),
		}
	}

	out := AthleteStatsOutput{
		BiggestRideDistance: formatDistance(st.BiggestRideDistance, units),
		BiggestClimb:        formatElevation(st.BiggestClimbElevationGain, units),
		Rollups:             make(map[string]RollupSummary, 9),
	}
	for _, r := range []struct {
		name  string
		total strava.ActivityTotal
	}{
		{"recent_run", st.RecentRunTotals},
		{"recent_ride", st.RecentRideTotals},
		{"recent_swim", st.RecentSwimTotals},
		{"ytd_run", st.YTDRunTotals},
		{"ytd_ride", st.YTDRideTotals},
		{"ytd_swim", st.YTDSwimTotals},
		{"all_run", st.AllRunTotals},
		{"all_ride", st.AllRideTotals},
		{"all_swim", st.AllSwimTotals},
	} {
		k, v := rollup(r.name, r.total)
		out.Rollups[k] = v
	}
	return nil, out, nil
}

func (s *Server) clearCache(ctx context.Context, req *mcp.CallToolRequest, _ ClearCacheInput) (*mcp.CallToolResult, ClearCacheOutput, error) {
	logging.Info("MCP tool call", "tool", toolClearCache)

	sess, err := s.session(ctx)
	if err != nil {
		return nil, ClearCacheOutput{}, err
	}
	if err := s.svc.ClearCache(ctx, sess); err != nil {
		logging.Error("clear cache failed", "error", err.Error())
		return nil, ClearCacheOutput{}, &ToolError{Code: ErrInternalError, Message: "Failed to clear cache"}
	}
	return nil, ClearCacheOutput{Message: "Cache cleared successfully"}, nil
}
