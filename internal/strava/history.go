package strava

import (
	"context"

	"github.com/joshdurbin/strava-stats/internal/logging"
)

const (
	// HistoryPageSize is the page size used for full-history sweeps
	HistoryPageSize = MaxPerPage
	// MaxHistoryIterations bounds a sweep to 100 pages (20,000 activities)
	MaxHistoryIterations = 100
)

// ActivityLister fetches one page of activities
type ActivityLister interface {
	ListActivities(ctx context.Context, params ListParams) ([]Activity, error)
}

// History is the result of a full-history sweep, newest first
type History struct {
	Activities []Activity
	// Iterations is the number of pages requested
	Iterations int
	// Truncated is set when the sweep stopped at MaxHistoryIterations
	// with more history possibly remaining upstream.
	Truncated bool
}

// FetchHistory walks the athlete's history backwards with the `before` cursor.
// Every request asks for page 1; page numbers and the cursor are never combined.
// maxActivities <= 0 means no cap. Any error aborts the sweep and the partial
// result is discarded.
func FetchHistory(ctx context.Context, lister ActivityLister, maxActivities int) (*History, error) {
	h := &History{}
	var before int64

	for h.Iterations < MaxHistoryIterations {
		page, err := lister.ListActivities(ctx, ListParams{
			Page:    1,
			PerPage: HistoryPageSize,
			Before:  before,
		})
		if err != nil {
			return nil, err
		}
		h.Iterations++

		if len(page) == 0 {
			return h, nil
		}

		h.Activities = append(h.Activities, page...)

		if maxActivities > 0 && len(h.Activities) >= maxActivities {
			h.Activities = h.Activities[:maxActivities]
			return h, nil
		}

		if len(page) < HistoryPageSize {
			return h, nil
		}

		oldest := page[len(page)-1]
		if oldest.StartDate.IsZero() {
			logging.Warn("history sweep stopped: oldest activity has no start date",
				"activity_id", oldest.ID, "fetched", len(h.Activities))
			return h, nil
		}

		next := oldest.StartDate.Unix()
		if before != 0 && next >= before {
			logging.Warn("history sweep stopped: cursor did not move backwards",
				"cursor", before, "next", next, "fetched", len(h.Activities))
			return h, nil
		}
		before = next

		logging.Debug("fetched history page",
			"iteration", h.Iterations, "fetched", len(h.Activities), "before", before)
	}

	h.Truncated = true
	logging.Warn("history sweep hit iteration ceiling",
		"iterations", h.Iterations, "fetched", len(h.Activities))
	return h, nil
}
