package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/joshdurbin/strava-stats/internal/cache"
	"github.com/joshdurbin/strava-stats/internal/strava"
)

type fakeAPI struct {
	activities []strava.Activity
	listCalls  []strava.ListParams
	getCalls   int
	statsCalls int
	err        error
}

func (f *fakeAPI) ListActivities(_ context.Context, p strava.ListParams) ([]strava.Activity, error) {
	f.listCalls = append(f.listCalls, p)
	if f.err != nil {
		return nil, f.err
	}
	var out []strava.Activity
	for _, a := range f.activities {
		ts := a.StartDate.Unix()
		if (p.Before == 0 || ts < p.Before) && ts > p.After {
			out = append(out, a)
		}
	}
	if len(out) > p.PerPage {
		out = out[:p.PerPage]
	}
	return out, nil
}

func (f *fakeAPI) GetActivity(_ context.Context, id int64) (*strava.Activity, error) {
	f.getCalls++
	if f.err != nil {
		return nil, f.err
	}
	for _, a := range f.activities {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, &strava.APIError{StatusCode: http.StatusNotFound, Message: "API error: 404"}
}

func (f *fakeAPI) GetAthlete(context.Context) (*strava.Athlete, error) {
	return &strava.Athlete{ID: 42}, nil
}

func (f *fakeAPI) GetAthleteStats(_ context.Context, athleteID int64) (*strava.AthleteStats, error) {
	f.statsCalls++
	if f.err != nil {
		return nil, f.err
	}
	return &strava.AthleteStats{AllRunTotals: strava.ActivityTotal{Count: int(athleteID)}}, nil
}

type recorder struct {
	hits, misses int
	sweeps       int
}

func (r *recorder) CacheLookup(_ string, hit bool) {
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

func (r *recorder) HistorySweep(int, int, bool) {
	r.sweeps++
}

var testNow = time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)

func newTestService(api *fakeAPI) (*Service, *recorder, *cache.MemoryStore) {
	store := cache.NewMemoryStore(0)
	rec := &recorder{}
	svc := New(store, func(token string) strava.API {
		if token != "token" {
			panic(fmt.Sprintf("unexpected token %q", token))
		}
		return api
	}).WithRecorder(rec).WithClock(func() time.Time { return testNow })
	return svc, rec, store
}

var sess = Session{AccessToken: "token", AthleteID: 42}

func sampleActivities(n int) []strava.Activity {
	out := make([]strava.Activity, n)
	for i := range out {
		typ := "Run"
		if i%2 == 1 {
			typ = "Ride"
		}
		out[i] = strava.Activity{
			ID:         int64(i + 1),
			Name:       fmt.Sprintf("Activity %d", i+1),
			Type:       typ,
			Distance:   float64(1000 * (i + 1)),
			MovingTime: 300 * (i + 1),
			StartDate:  testNow.Add(-time.Duration(i+1) * 24 * time.Hour),
		}
	}
	return out
}

func TestFetchFilteredActivitiesIncludesRangeEdges(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{activities: []strava.Activity{
		{ID: 1, Type: "Run", StartDate: time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)},
		{ID: 2, Type: "Run", StartDate: time.Date(2024, 3, 12, 23, 59, 59, 0, time.UTC)},
		{ID: 3, Type: "Run", StartDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ID: 4, Type: "Run", StartDate: time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC)},
	}}
	svc, _, _ := newTestService(api)

	page, err := svc.FetchFilteredActivities(context.Background(), sess, ActivityQuery{
		StartDate: "2024-03-01",
		EndDate:   "2024-03-12",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []int64
	for _, a := range page.Activities {
		got = append(got, a.ID)
	}
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("expected the first and last second of the range, got %v", got)
	}
}

func TestFetchFilteredActivities(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{activities: sampleActivities(10)}
	svc, rec, _ := newTestService(api)
	ctx := context.Background()

	minKm := 3.0
	page, err := svc.FetchFilteredActivities(ctx, sess, ActivityQuery{
		Type:          "Run",
		MinDistanceKm: &minKm,
		StartDate:     "2024-03-01",
		EndDate:       "2024-03-12",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(api.listCalls) != 1 {
		t.Fatalf("expected 1 upstream call, got %d", len(api.listCalls))
	}
	p := api.listCalls[0]
	if p.Page != 1 || p.PerPage != DefaultPerPage {
		t.Errorf("expected defaults page=1 per_page=30, got %+v", p)
	}
	// the inclusive day range widens by one second each way upstream
	if p.After != 1709251200-1 || p.Before != 1710201600+86400 {
		t.Errorf("unexpected date bounds after=%d before=%d", p.After, p.Before)
	}

	// runs are the odd IDs; distance >= 3km leaves 3, 5, 7, 9
	if page.Count != 4 || page.Activities[0].ID != 3 {
		t.Errorf("unexpected filtered page %+v", page)
	}
	if page.Filter != "type=Run, distance>=3.0km" {
		t.Errorf("unexpected filter description %q", page.Filter)
	}

	// same page, different client-side filters: served from cache
	if _, err := svc.FetchFilteredActivities(ctx, sess, ActivityQuery{
		StartDate: "2024-03-01",
		EndDate:   "2024-03-12",
		Search:    "activity 1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.listCalls) != 1 {
		t.Errorf("expected cached page, got %d upstream calls", len(api.listCalls))
	}
	if rec.hits != 1 || rec.misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %d/%d", rec.hits, rec.misses)
	}

	// a different page is a different key
	if _, err := svc.FetchFilteredActivities(ctx, sess, ActivityQuery{Page: 2, PerPage: 500}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.listCalls) != 2 || api.listCalls[1].PerPage != 200 {
		t.Errorf("expected a second upstream call capped at 200, got %+v", api.listCalls)
	}
}

func TestFullHistoryStatsCaches(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{activities: sampleActivities(450)}
	svc, rec, _ := newTestService(api)
	ctx := context.Background()

	bundle, err := svc.FullHistoryStats(ctx, sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.Totals.Count != 450 {
		t.Errorf("expected 450 activities, got %d", bundle.Totals.Count)
	}
	if len(api.listCalls) != 3 {
		t.Errorf("expected 3 pages, got %d", len(api.listCalls))
	}
	if rec.sweeps != 1 {
		t.Errorf("expected one sweep, got %d", rec.sweeps)
	}
	if !bundle.ComputedAt.Equal(testNow) {
		t.Errorf("expected computed_at from the clock, got %v", bundle.ComputedAt)
	}

	cached, err := svc.FullHistoryStats(ctx, sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.listCalls) != 3 {
		t.Errorf("second call should be cached, got %d upstream calls", len(api.listCalls))
	}
	if cached.Totals != bundle.Totals || cached.PersonalRecords.FastestPace.ID != bundle.PersonalRecords.FastestPace.ID {
		t.Error("cached bundle differs from computed bundle")
	}

	if err := svc.ClearCache(ctx, sess); err != nil {
		t.Fatalf("clear cache: %v", err)
	}
	if _, err := svc.FullHistoryStats(ctx, sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.listCalls) != 6 {
		t.Errorf("expected a fresh sweep after clearing, got %d upstream calls", len(api.listCalls))
	}
}

func TestFullHistoryStatsErrorIsNotCached(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{err: &strava.RateLimitError{RetryAfter: 45 * time.Second}}
	svc, _, store := newTestService(api)

	_, err := svc.FullHistoryStats(context.Background(), sess)
	if !strava.IsRateLimited(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("failures must not be cached, store has %d entries", store.Len())
	}
}

func TestPeriodSummaries(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{activities: sampleActivities(300)}
	svc, _, _ := newTestService(api)
	ctx := context.Background()

	weeks, err := svc.WeeklySummary(ctx, sess, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(weeks) != 4 {
		t.Errorf("expected default of 4 weeks, got %d", len(weeks))
	}
	if api.listCalls[0].PerPage != 200 || api.listCalls[0].Before != 0 {
		t.Errorf("expected a single page of 200 recent activities, got %+v", api.listCalls[0])
	}

	months, err := svc.MonthlySummary(ctx, sess, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(months) != 2 || months[1].Period != "2024-03" {
		t.Errorf("unexpected months %+v", months)
	}
	// March 1-12 holds activities 1..12
	if months[1].Count != 12 {
		t.Errorf("expected 12 activities in March, got %d", months[1].Count)
	}
}

func TestActivityDetailAndAthleteStats(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{activities: sampleActivities(3)}
	svc, _, _ := newTestService(api)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		a, err := svc.ActivityDetail(ctx, sess, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.ID != 2 {
			t.Errorf("expected activity 2, got %d", a.ID)
		}
	}
	if api.getCalls != 1 {
		t.Errorf("expected one upstream call, got %d", api.getCalls)
	}

	_, err := svc.ActivityDetail(ctx, sess, 99)
	if f := Classify(err); f.Kind != KindUpstream || f.HTTPStatus != http.StatusNotFound {
		t.Errorf("unexpected failure for missing activity %+v", f)
	}

	for i := 0; i < 2; i++ {
		st, err := svc.AthleteStats(ctx, sess)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if st.AllRunTotals.Count != 42 {
			t.Errorf("expected stats for athlete 42, got %+v", st.AllRunTotals)
		}
	}
	if api.statsCalls != 1 {
		t.Errorf("expected one upstream stats call, got %d", api.statsCalls)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		kind       Kind
		status     int
		retryAfter int
		message    string
	}{
		{
			name:       "rate limited",
			err:        fmt.Errorf("listing: %w", &strava.RateLimitError{RetryAfter: 45 * time.Second}),
			kind:       KindRateLimited,
			status:     http.StatusTooManyRequests,
			retryAfter: 45,
			message:    "Rate limit exceeded. Please wait before making more requests.",
		},
		{
			name:    "unauthorized",
			err:     &strava.AuthError{Path: "athlete"},
			kind:    KindUnauthenticated,
			status:  http.StatusUnauthorized,
			message: "Authentication failed. Please reconnect your Strava account.",
		},
		{
			name:    "no session",
			err:     ErrNoSession,
			kind:    KindUnauthenticated,
			status:  http.StatusUnauthorized,
			message: "authentication required",
		},
		{
			name:    "refresh rejected",
			err:     fmt.Errorf("%w: token refresh failed: %w", ErrNoSession, errors.New("invalid_grant")),
			kind:    KindUnauthenticated,
			status:  http.StatusUnauthorized,
			message: "authentication required",
		},
		{
			name:    "upstream 5xx",
			err:     &strava.APIError{StatusCode: 503, Message: "Strava service is temporarily unavailable. Please try again later."},
			kind:    KindUpstream,
			status:  http.StatusBadGateway,
			message: "Strava service is temporarily unavailable. Please try again later.",
		},
		{
			name:    "unexpected",
			err:     errors.New("boom: secret internals"),
			kind:    KindUnexpected,
			status:  http.StatusInternalServerError,
			message: msgUnexpected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify(tt.err)
			if f.Kind != tt.kind || f.HTTPStatus != tt.status || f.RetryAfter != tt.retryAfter || f.Message != tt.message {
				t.Errorf("Classify() = %+v", f)
			}
		})
	}

	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestFailureJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "retry now",
			err:  &strava.RateLimitError{},
			want: `{"type":"rate_limited","message":"Rate limit exceeded. Please wait before making more requests.","retry_after":0}`,
		},
		{
			name: "retry later",
			err:  &strava.RateLimitError{RetryAfter: 30 * time.Second},
			want: `{"type":"rate_limited","message":"Rate limit exceeded. Please wait before making more requests.","retry_after":30}`,
		},
		{
			name: "no retry hint",
			err:  ErrNoSession,
			want: `{"type":"unauthenticated","message":"authentication required"}`,
		},
		{
			name: "upstream status",
			err:  &strava.APIError{StatusCode: 503, Message: "unavailable"},
			want: `{"type":"upstream_error","message":"unavailable","upstream_status":503}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(Classify(tt.err))
			if err != nil {
				t.Fatalf("json.Marshal() error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("json.Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}
