// Package service is the entry point for every activity and statistics
// operation. Callers resolve a Session first; the service then goes through
// the cache, the Strava client and the stats engine.
package service

import (
	"context"
	"time"

	"github.com/joshdurbin/strava-stats/internal/cache"
	"github.com/joshdurbin/strava-stats/internal/filter"
	"github.com/joshdurbin/strava-stats/internal/logging"
	"github.com/joshdurbin/strava-stats/internal/stats"
	"github.com/joshdurbin/strava-stats/internal/strava"
)

// Default page settings for activity listings
const (
	DefaultPage    = 1
	DefaultPerPage = 30
)

// Session identifies the authenticated athlete for one call chain
type Session struct {
	AccessToken string
	AthleteID   int64
}

// SessionProvider returns a session with a currently valid token, refreshing
// it first if needed. It returns ErrNoSession when nobody is logged in.
type SessionProvider interface {
	Session(ctx context.Context) (Session, error)
}

// ClientFactory builds an API client bound to one access token
type ClientFactory func(accessToken string) strava.API

// Recorder receives cache and sweep telemetry. metrics.Manager implements it.
type Recorder interface {
	CacheLookup(prefix string, hit bool)
	HistorySweep(iterations int, fetched int, truncated bool)
}

// ActivityQuery selects one page of activities and filters it.
// Distances are kilometers; dates are YYYY-MM-DD.
type ActivityQuery struct {
	Page          int
	PerPage       int
	Type          string
	StartDate     string
	EndDate       string
	MinDistanceKm *float64
	MaxDistanceKm *float64
	Search        string
}

func (q ActivityQuery) withDefaults() ActivityQuery {
	if q.Page < 1 {
		q.Page = DefaultPage
	}
	if q.PerPage < 1 {
		q.PerPage = DefaultPerPage
	}
	if q.PerPage > strava.MaxPerPage {
		q.PerPage = strava.MaxPerPage
	}
	return q
}

// Criteria converts the client-side part of the query to filter criteria.
// Dates are applied upstream through after/before.
func (q ActivityQuery) Criteria() filter.Criteria {
	c := filter.Criteria{Type: q.Type, Search: q.Search}
	if q.MinDistanceKm != nil {
		m := *q.MinDistanceKm * 1000
		c.MinDistance = &m
	}
	if q.MaxDistanceKm != nil {
		m := *q.MaxDistanceKm * 1000
		c.MaxDistance = &m
	}
	return c
}

// ActivityPage is a filtered activity listing
type ActivityPage struct {
	Activities []strava.Activity `json:"activities"`
	Count      int               `json:"count"`
	Page       int               `json:"page"`
	PerPage    int               `json:"per_page"`
	Filter     string            `json:"filter"`
}

// Service is safe for concurrent use; it holds no per-request state
type Service struct {
	store      cache.Store
	newClient  ClientFactory
	recorder   Recorder
	now        func() time.Time
	maxHistory int
}

// New creates a service over the given store
func New(store cache.Store, newClient ClientFactory) *Service {
	return &Service{
		store:     store,
		newClient: newClient,
		now:       time.Now,
	}
}

// WithRecorder attaches telemetry
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// WithClock overrides the time source (useful for testing)
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithMaxHistory caps the number of activities a full-history sweep collects
func (s *Service) WithMaxHistory(n int) *Service {
	s.maxHistory = n
	return s
}

// lookup reads a cached JSON value. Cache failures degrade to a miss.
func (s *Service) lookup(ctx context.Context, prefix, key string, out any) bool {
	hit, err := cache.GetJSON(ctx, s.store, key, out)
	if err != nil {
		logging.Warn("cache read failed", "key", key, "error", err.Error())
		hit = false
	}
	if s.recorder != nil {
		s.recorder.CacheLookup(prefix, hit)
	}
	logging.Debug("cache lookup", "key", key, "hit", hit)
	return hit
}

// remember writes a JSON value. Cache failures are logged and ignored.
func (s *Service) remember(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := cache.SetJSON(ctx, s.store, key, value, ttl); err != nil {
		logging.Warn("cache write failed", "key", key, "error", err.Error())
	}
}

// FetchFilteredActivities returns one page of activities with the query's
// filters applied. The raw page is cached for five minutes.
func (s *Service) FetchFilteredActivities(ctx context.Context, sess Session, q ActivityQuery) (*ActivityPage, error) {
	q = q.withDefaults()
	dates := filter.ParseDateRange(q.StartDate, q.EndDate)

	params := strava.ListParams{Page: q.Page, PerPage: q.PerPage}
	keyParams := map[string]any{"page": q.Page, "per_page": q.PerPage}
	// after and before are exclusive upstream; the parsed range is inclusive
	if dates.Start != nil {
		params.After = *dates.Start - 1
		keyParams["after"] = params.After
	}
	if dates.End != nil {
		params.Before = *dates.End + 1
		keyParams["before"] = params.Before
	}
	key := cache.Key(cache.PrefixActivities, sess.AthleteID, keyParams)

	var activities []strava.Activity
	if !s.lookup(ctx, cache.PrefixActivities, key, &activities) {
		var err error
		activities, err = s.newClient(sess.AccessToken).ListActivities(ctx, params)
		if err != nil {
			return nil, err
		}
		s.remember(ctx, key, activities, cache.ActivitiesTTL)
	}

	criteria := q.Criteria()
	filtered := filter.Apply(activities, criteria)
	if filtered == nil {
		filtered = []strava.Activity{}
	}

	return &ActivityPage{
		Activities: filtered,
		Count:      len(filtered),
		Page:       q.Page,
		PerPage:    q.PerPage,
		Filter:     criteria.String(),
	}, nil
}

// FullHistoryStats sweeps the complete history and computes the stats bundle,
// cached for five minutes.
func (s *Service) FullHistoryStats(ctx context.Context, sess Session) (*stats.Bundle, error) {
	key := cache.Key(cache.PrefixStats, sess.AthleteID, nil)

	var bundle stats.Bundle
	if s.lookup(ctx, cache.PrefixStats, key, &bundle) {
		return &bundle, nil
	}

	return s.RefreshStats(ctx, sess)
}

// RefreshStats recomputes the stats bundle, bypassing and then repopulating the cache
func (s *Service) RefreshStats(ctx context.Context, sess Session) (*stats.Bundle, error) {
	start := time.Now()
	logging.Info("fetching full activity history", "athlete_id", sess.AthleteID)

	history, err := strava.FetchHistory(ctx, s.newClient(sess.AccessToken), s.maxHistory)
	if err != nil {
		return nil, err
	}
	if s.recorder != nil {
		s.recorder.HistorySweep(history.Iterations, len(history.Activities), history.Truncated)
	}

	bundle := stats.Compute(history.Activities, s.now())
	bundle.Truncated = history.Truncated

	logging.Info("computed activity statistics",
		"athlete_id", sess.AthleteID,
		"activities", len(history.Activities),
		"iterations", history.Iterations,
		"truncated", history.Truncated,
		"duration", time.Since(start).String())

	s.remember(ctx, cache.Key(cache.PrefixStats, sess.AthleteID, nil), bundle, cache.StatsTTL)
	return bundle, nil
}

// recent fetches the single most recent page used by the period summaries
func (s *Service) recent(ctx context.Context, sess Session) ([]strava.Activity, error) {
	return s.newClient(sess.AccessToken).ListActivities(ctx, strava.ListParams{
		Page:    1,
		PerPage: strava.MaxPerPage,
	})
}

// WeeklySummary totals the last `weeks` complete weeks from the 200 most recent activities
func (s *Service) WeeklySummary(ctx context.Context, sess Session, weeks int) ([]stats.Summary, error) {
	if weeks <= 0 {
		weeks = stats.DefaultWeeks
	}
	activities, err := s.recent(ctx, sess)
	if err != nil {
		return nil, err
	}
	return stats.WeeklySummary(activities, weeks, s.now()), nil
}

// MonthlySummary totals the last `months` months from the 200 most recent activities
func (s *Service) MonthlySummary(ctx context.Context, sess Session, months int) ([]stats.Summary, error) {
	if months <= 0 {
		months = stats.DefaultMonths
	}
	activities, err := s.recent(ctx, sess)
	if err != nil {
		return nil, err
	}
	return stats.MonthlySummary(activities, months, s.now()), nil
}

// ActivityDetail fetches one activity, cached for thirty minutes
func (s *Service) ActivityDetail(ctx context.Context, sess Session, id int64) (*strava.Activity, error) {
	key := cache.Key(cache.PrefixActivity, sess.AthleteID, map[string]any{"activity_id": id})

	var activity strava.Activity
	if s.lookup(ctx, cache.PrefixActivity, key, &activity) {
		return &activity, nil
	}

	a, err := s.newClient(sess.AccessToken).GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, key, a, cache.ActivityTTL)
	return a, nil
}

// AthleteStats returns Strava's own rollups for the athlete, cached for five minutes
func (s *Service) AthleteStats(ctx context.Context, sess Session) (*strava.AthleteStats, error) {
	key := cache.Key(cache.PrefixAthleteStats, sess.AthleteID, nil)

	var out strava.AthleteStats
	if s.lookup(ctx, cache.PrefixAthleteStats, key, &out) {
		return &out, nil
	}

	st, err := s.newClient(sess.AccessToken).GetAthleteStats(ctx, sess.AthleteID)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, key, st, cache.StatsTTL)
	return st, nil
}

// ClearCache drops every cached entry of the session's athlete
func (s *Service) ClearCache(ctx context.Context, sess Session) error {
	logging.Info("clearing cache", "athlete_id", sess.AthleteID)
	return s.store.ClearPrefix(ctx, cache.AthletePrefix(sess.AthleteID))
}
