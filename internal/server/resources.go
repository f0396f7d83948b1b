package server

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/joshdurbin/strava-stats/internal/logging"
)

const (
	uriStatsSummary   = "strava://stats/summary"
	uriAthleteStats   = "strava://athlete/stats"
	uriActivityPrefix = "strava://activities/"
)

// registerResources registers all MCP resources for the server
func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		URI:         uriStatsSummary,
		Name:        "stats_summary",
		Description: "All-time statistics over the complete activity history, in the server's default units",
		MIMEType:    "application/json",
	}, s.readStatsSummary)

	s.mcp.AddResource(&mcp.Resource{
		URI:         uriAthleteStats,
		Name:        "athlete_stats",
		Description: "Strava's recent, year-to-date and all-time rollups for runs, rides and swims",
		MIMEType:    "application/json",
	}, s.readAthleteStats)

	// Resource template: Activity by ID
	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriActivityPrefix + "{id}",
		Name:        "activity_by_id",
		Description: "Fetch a specific activity by its Strava ID",
		MIMEType:    "application/json",
	}, s.readActivityByID)

	logging.Debug("MCP resources registered", "count", 3)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, &ToolError{Code: ErrInternalError, Message: "failed to marshal resource", Details: err.Error()}
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}

func (s *Server) readStatsSummary(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	logging.Info("MCP resource read", "resource", "stats_summary")

	b, err := s.bundle(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResource(uriStatsSummary, buildStatsOutput(b, s.units))
}

func (s *Server) readAthleteStats(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	logging.Info("MCP resource read", "resource", "athlete_stats")

	_, out, err := s.getAthleteStats(ctx, nil, UnitsInput{})
	if err != nil {
		return nil, err
	}
	return jsonResource(uriAthleteStats, out)
}

// readActivityByID returns a specific activity by ID
func (s *Server) readActivityByID(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	logging.Info("MCP resource read", "resource", "activity_by_id", "uri", uri)

	id, err := parseActivityURI(uri)
	if err != nil {
		return nil, err
	}

	_, out, err := s.getActivity(ctx, nil, GetActivityInput{ID: id})
	if err != nil {
		return nil, err
	}
	return jsonResource(uri, out)
}

func parseActivityURI(uri string) (int64, error) {
	raw := strings.TrimPrefix(uri, uriActivityPrefix)
	if raw == uri || raw == "" {
		return 0, NewInvalidInputErrorWithDetails("invalid activity URI", uri)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewInvalidInputErrorWithDetails("invalid activity ID", raw)
	}
	return id, nil
}
