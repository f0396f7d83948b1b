package strava

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:        3,
		TransportBackoff:   time.Millisecond,
		ServerErrorBackoff: time.Millisecond,
	}
}

type countingObserver struct {
	mu       sync.Mutex
	statuses []int
	retries  int
}

func (o *countingObserver) ObserveUpstream(_ string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

func (o *countingObserver) ObserveRetry(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func TestNewClient(t *testing.T) {
	client := NewClient("test-token")

	if client.accessToken != "test-token" {
		t.Errorf("expected access token 'test-token', got '%s'", client.accessToken)
	}
	if client.baseURL != baseURL {
		t.Errorf("expected base URL '%s', got '%s'", baseURL, client.baseURL)
	}
	if client.httpClient.RetryMax != 2 {
		t.Errorf("expected 2 retries (3 attempts), got %d", client.httpClient.RetryMax)
	}
	if client.httpClient.HTTPClient.Timeout != 15*time.Second {
		t.Errorf("expected 15s timeout, got %v", client.httpClient.HTTPClient.Timeout)
	}
}

func TestListActivities(t *testing.T) {
	t.Parallel()

	want := []Activity{
		{ID: 1, Name: "Morning Run", Distance: 5000, Type: "Run"},
		{ID: 2, Name: "Evening Ride", Distance: 20000, Type: "Ride"},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/athlete/activities" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("expected Bearer test-token, got %s", auth)
		}

		q := r.URL.Query()
		if q.Get("page") != "1" || q.Get("per_page") != "200" || q.Get("before") != "1700000000" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Has("after") {
			t.Errorf("after should be omitted when zero, got %s", q.Get("after"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Limit", "600,30000")
		w.Header().Set("X-RateLimit-Usage", "5,50")
		json.NewEncoder(w).Encode(want)
	}))
	defer server.Close()

	tracker := &RateLimitTracker{}
	client := NewClientWithBaseURL("test-token", server.URL).WithRetryConfig(fastRetry()).WithRateLimitTracker(tracker)

	got, err := client.ListActivities(context.Background(), ListParams{
		Page:    1,
		PerPage: 500,
		Before:  1700000000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].Name != "Evening Ride" {
		t.Errorf("unexpected activities: %+v", got)
	}

	rl := client.RateLimit()
	if rl.Limit15Min != 600 || rl.Usage15Min != 5 || rl.LimitDaily != 30000 || rl.UsageDaily != 50 {
		t.Errorf("unexpected rate limit info: %+v", rl)
	}
	if shared := tracker.RateLimit(); shared.Limit15Min != 600 || shared.LimitDaily != 30000 {
		t.Errorf("tracker did not record the response headers: %+v", shared)
	}
}

func TestRetryAttempts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		status       int
		wantAttempts int32
		check        func(t *testing.T, err error)
	}{
		{
			name:         "5xx retried up to the attempt limit",
			status:       http.StatusServiceUnavailable,
			wantAttempts: 3,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("expected *APIError, got %T", err)
				}
				if apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Message != msgUnavailable {
					t.Errorf("unexpected api error %+v", apiErr)
				}
			},
		},
		{
			name:         "429 not retried",
			status:       http.StatusTooManyRequests,
			wantAttempts: 1,
			check: func(t *testing.T, err error) {
				if !IsRateLimited(err) {
					t.Errorf("expected rate limit error, got %v", err)
				}
			},
		},
		{
			name:         "401 not retried",
			status:       http.StatusUnauthorized,
			wantAttempts: 1,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrUnauthorized) {
					t.Errorf("expected ErrUnauthorized, got %v", err)
				}
				if err.Error() != msgAuthFailed {
					t.Errorf("unexpected message %q", err.Error())
				}
			},
		},
		{
			name:         "404 not retried",
			status:       http.StatusNotFound,
			wantAttempts: 1,
			check: func(t *testing.T, err error) {
				if !IsNotFound(err) {
					t.Errorf("expected not found, got %v", err)
				}
				if err.Error() != "API error: 404" {
					t.Errorf("unexpected message %q", err.Error())
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewClientWithBaseURL("test-token", server.URL).WithRetryConfig(fastRetry())
			_, err := client.GetActivity(context.Background(), 42)
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)

			if got := attempts.Load(); got != tt.wantAttempts {
				t.Errorf("expected %d attempts, got %d", tt.wantAttempts, got)
			}
		})
	}
}

func TestRateLimitRetryAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		retryAfter string
		want       int
	}{
		{name: "header value", retryAfter: "45", want: 45},
		{name: "missing header defaults to 60", retryAfter: "", want: 60},
		{name: "garbage defaults to 60", retryAfter: "soon", want: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.Header().Set("X-RateLimit-Limit", "600,30000")
				w.Header().Set("X-RateLimit-Usage", "600,1200")
				w.WriteHeader(http.StatusTooManyRequests)
			}))
			defer server.Close()

			client := NewClientWithBaseURL("test-token", server.URL).WithRetryConfig(fastRetry())
			_, err := client.ListActivities(context.Background(), ListParams{PerPage: 30})

			var rle *RateLimitError
			if !errors.As(err, &rle) {
				t.Fatalf("expected *RateLimitError, got %v", err)
			}
			if rle.RetryAfterSeconds() != tt.want {
				t.Errorf("expected retry after %d, got %d", tt.want, rle.RetryAfterSeconds())
			}
			if !rle.RateLimit.IsRateLimited {
				t.Error("expected rate limit info to be flagged")
			}
			if got := attempts.Load(); got != 1 {
				t.Errorf("expected exactly 1 attempt, got %d", got)
			}
		})
	}
}

func TestServerErrorRecovers(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(Athlete{ID: 99, Firstname: "Ada"})
	}))
	defer server.Close()

	obs := &countingObserver{}
	client := NewClientWithBaseURL("test-token", server.URL).
		WithRetryConfig(fastRetry()).
		WithObserver(obs)

	athlete, err := client.GetAthlete(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if athlete.ID != 99 {
		t.Errorf("expected athlete 99, got %d", athlete.ID)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
	if obs.retries != 1 {
		t.Errorf("expected 1 observed retry, got %d", obs.retries)
	}
	if len(obs.statuses) != 1 || obs.statuses[0] != http.StatusOK {
		t.Errorf("expected one observed 200, got %v", obs.statuses)
	}
}

func TestTransportErrorRetries(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("response writer does not support hijacking")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatalf("hijack: %v", err)
		}
		conn.Close()
	}))
	defer server.Close()

	client := NewClientWithBaseURL("test-token", server.URL).WithRetryConfig(fastRetry())
	_, err := client.GetAthleteStats(context.Background(), 7)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != 0 {
		t.Errorf("expected no status for transport failure, got %d", apiErr.StatusCode)
	}
	if apiErr.Message != msgConnection {
		t.Errorf("expected connection message, got %q", apiErr.Message)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestBackoffIsLinear(t *testing.T) {
	client := NewClient("t").WithRetryConfig(RetryConfig{
		MaxAttempts:        3,
		TransportBackoff:   time.Second,
		ServerErrorBackoff: 2 * time.Second,
	})
	serverErr := &http.Response{StatusCode: http.StatusInternalServerError}

	tests := []struct {
		attempt int
		resp    *http.Response
		want    time.Duration
	}{
		{0, nil, time.Second},
		{1, nil, 2 * time.Second},
		{0, serverErr, 2 * time.Second},
		{1, serverErr, 4 * time.Second},
	}

	for _, tt := range tests {
		if got := client.backoff(0, 0, tt.attempt, tt.resp); got != tt.want {
			t.Errorf("backoff(attempt=%d, resp=%v) = %v, want %v", tt.attempt, tt.resp != nil, got, tt.want)
		}
	}
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClientWithBaseURL("test-token", server.URL).WithRetryConfig(RetryConfig{
		MaxAttempts:        3,
		TransportBackoff:   time.Minute,
		ServerErrorBackoff: time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.ListActivities(ctx, ListParams{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("backoff wait was not interrupted by the context")
	}
}

func TestDecodeError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClientWithBaseURL("test-token", server.URL).WithRetryConfig(fastRetry())
	_, err := client.ListActivities(context.Background(), ListParams{})
	if err == nil {
		t.Fatal("expected decode error")
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Errorf("decode failures should not be classified as upstream errors: %v", err)
	}
}

func TestActivityJSONUnmarshal(t *testing.T) {
	jsonData := `{
		"id": 12345,
		"name": "Morning Run",
		"distance": 5000.5,
		"moving_time": 1800,
		"elapsed_time": 2000,
		"total_elevation_gain": 50.5,
		"type": "Run",
		"sport_type": "Run",
		"start_date": "2024-01-15T08:00:00Z",
		"start_date_local": "2024-01-15T09:00:00Z",
		"timezone": "(GMT+01:00) Europe/Paris",
		"average_speed": 2.78,
		"max_speed": 4.5,
		"kilojoules": 350.0,
		"map": {"id": "a1", "summary_polyline": "xyz"}
	}`

	var activity Activity
	if err := json.Unmarshal([]byte(jsonData), &activity); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if activity.ID != 12345 {
		t.Errorf("expected ID 12345, got %d", activity.ID)
	}
	if activity.Distance != 5000.5 {
		t.Errorf("expected distance 5000.5, got %f", activity.Distance)
	}
	if activity.StartDateLocal.Format("2006-01-02") != "2024-01-15" {
		t.Errorf("unexpected local start date %v", activity.StartDateLocal)
	}
	if activity.StartDate.Unix() != 1705305600 {
		t.Errorf("unexpected start date %v", activity.StartDate)
	}
}

func TestActivityPassthroughRoundTrip(t *testing.T) {
	upstream := `{
		"id": 777,
		"name": "Lunch Ride",
		"distance": 25000,
		"type": "Ride",
		"start_date": "2024-01-15T12:00:00Z",
		"start_date_local": "2024-01-15T13:00:00Z",
		"gear_id": "b12345",
		"device_name": "Garmin Edge 540",
		"map": {"id": "a777", "summary_polyline": "abc"},
		"splits_metric": [{"distance": 1000, "split": 1}],
		"calories": 0
	}`

	var activity Activity
	if err := json.Unmarshal([]byte(upstream), &activity); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if gear, ok := activity.Extra("gear_id"); !ok || string(gear) != `"b12345"` {
		t.Errorf("gear_id not kept: %s", gear)
	}
	if _, ok := activity.Extra("name"); ok {
		t.Error("typed fields should not be duplicated into the passthrough set")
	}

	activity.Name = "Renamed"
	encoded, err := json.Marshal(activity)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &out); err != nil {
		t.Fatalf("re-encoded activity is not an object: %v", err)
	}
	for _, key := range []string{"gear_id", "device_name", "map", "splits_metric", "kudos_count"} {
		if _, ok := out[key]; !ok {
			t.Errorf("key %q missing after round trip: %s", key, encoded)
		}
	}
	if string(out["name"]) != `"Renamed"` {
		t.Errorf("typed field should win over the original value, got %s", out["name"])
	}

	var again Activity
	if err := json.Unmarshal(encoded, &again); err != nil {
		t.Fatalf("failed to decode round-tripped activity: %v", err)
	}
	if again.ID != 777 || again.Distance != 25000 || !again.StartDate.Equal(activity.StartDate) {
		t.Errorf("typed fields changed across round trip: %+v", again)
	}
	if m, _ := again.Extra("map"); string(m) != `{"id":"a777","summary_polyline":"abc"}` {
		t.Errorf("map changed across round trip: %s", m)
	}

	// activities without extra keys encode exactly as the typed fields
	plain, err := json.Marshal(Activity{ID: 1, Name: "Run"})
	if err != nil {
		t.Fatalf("failed to marshal plain activity: %v", err)
	}
	known, _ := json.Marshal(activityFields{ID: 1, Name: "Run"})
	if string(plain) != string(known) {
		t.Errorf("plain activity encoded as %s, want %s", plain, known)
	}
}
