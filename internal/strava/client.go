package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/joshdurbin/strava-stats/internal/logging"
)

const (
	baseURL        = "https://www.strava.com/api/v3"
	requestTimeout = 15 * time.Second

	// MaxPerPage is the largest page size athlete/activities accepts
	MaxPerPage = 200
)

// Endpoint names used for logging and metrics labels
const (
	EndpointActivities   = "athlete/activities"
	EndpointActivity     = "activities/{id}"
	EndpointAthlete      = "athlete"
	EndpointAthleteStats = "athletes/{id}/stats"
)

// Default retry settings
const (
	defaultMaxAttempts        = 3
	defaultTransportBackoff   = 1 * time.Second
	defaultServerErrorBackoff = 2 * time.Second
)

// RetryConfig holds retry/backoff settings.
// The n-th retry waits base*n: TransportBackoff after a timeout or
// connection failure, ServerErrorBackoff after a 5xx.
type RetryConfig struct {
	MaxAttempts        int
	TransportBackoff   time.Duration
	ServerErrorBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:        defaultMaxAttempts,
		TransportBackoff:   defaultTransportBackoff,
		ServerErrorBackoff: defaultServerErrorBackoff,
	}
}

// Observer receives per-request telemetry. metrics.Manager implements it.
type Observer interface {
	ObserveUpstream(endpoint string, status int, elapsed time.Duration)
	ObserveRetry(endpoint string)
}

// API is the subset of Client used by the service layer
type API interface {
	ActivityLister
	GetActivity(ctx context.Context, id int64) (*Activity, error)
	GetAthlete(ctx context.Context) (*Athlete, error)
	GetAthleteStats(ctx context.Context, athleteID int64) (*AthleteStats, error)
}

type endpointKey struct{}

// Client is a Strava API client with automatic retry and backoff
type Client struct {
	httpClient  *retryablehttp.Client
	accessToken string
	baseURL     string
	retry       RetryConfig
	observer    Observer
	tracker     *RateLimitTracker
	rateMu      sync.RWMutex
	rateLimit   RateLimitInfo
}

// NewClient creates a new Strava API client with automatic retry
func NewClient(accessToken string) *Client {
	return newClientWithConfig(accessToken, baseURL, DefaultRetryConfig())
}

// NewClientWithBaseURL creates a new Strava API client with a custom base URL (for testing)
func NewClientWithBaseURL(accessToken, customBaseURL string) *Client {
	return newClientWithConfig(accessToken, customBaseURL, DefaultRetryConfig())
}

func newClientWithConfig(accessToken, baseURL string, cfg RetryConfig) *Client {
	c := &Client{
		accessToken: accessToken,
		baseURL:     baseURL,
	}

	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = requestTimeout
	client.Logger = &logging.LeveledLogger{}
	client.CheckRetry = checkRetry
	client.Backoff = c.backoff
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.RequestLogHook = c.logRequest
	client.ResponseLogHook = c.logResponse
	c.httpClient = client

	c.WithRetryConfig(cfg)
	return c
}

// WithRetryConfig sets custom retry configuration (useful for testing)
func (c *Client) WithRetryConfig(cfg RetryConfig) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	c.retry = cfg
	c.httpClient.RetryMax = cfg.MaxAttempts - 1
	return c
}

// WithObserver attaches a telemetry observer
func (c *Client) WithObserver(o Observer) *Client {
	c.observer = o
	return c
}

// WithRateLimitTracker shares this client's rate-limit observations
func (c *Client) WithRateLimitTracker(t *RateLimitTracker) *Client {
	c.tracker = t
	return c
}

// checkRetry retries transport failures and 5xx only.
// 429 and 401 are returned on the first attempt.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// backoff is linear: attemptNum is zero for the first retry
func (c *Client) backoff(_, _ time.Duration, attemptNum int, resp *http.Response) time.Duration {
	base := c.retry.TransportBackoff
	reason := "transport error"
	if resp != nil {
		base = c.retry.ServerErrorBackoff
		reason = "server error"
	}
	wait := base * time.Duration(attemptNum+1)

	logging.Logger.Info().
		Dur("wait", wait).
		Int("attempt", attemptNum+1).
		Str("reason", reason).
		Msg("backing off before retry")
	return wait
}

func (c *Client) logRequest(_ retryablehttp.Logger, req *http.Request, retry int) {
	if retry > 0 {
		logging.Logger.Info().
			Str("url", req.URL.Path).
			Int("attempt", retry+1).
			Msg("retrying request")
		if c.observer != nil {
			endpoint, _ := req.Context().Value(endpointKey{}).(string)
			c.observer.ObserveRetry(endpoint)
		}
	}

	// Log request headers at trace level (-vv)
	if logging.IsTraceEnabled() {
		logging.Logger.Debug().
			Str("method", req.Method).
			Str("url", req.URL.String()).
			Str("headers", formatHeaders(req.Header)).
			Msg("request headers")
	}
}

func (c *Client) logResponse(_ retryablehttp.Logger, resp *http.Response) {
	if logging.IsTraceEnabled() {
		logging.Logger.Debug().
			Int("status", resp.StatusCode).
			Str("url", resp.Request.URL.Path).
			Str("headers", formatHeaders(resp.Header)).
			Msg("response headers")
	}
}

// RateLimit returns the last seen rate limit info with reset times relative to now
func (c *Client) RateLimit() RateLimitInfo {
	c.rateMu.RLock()
	info := c.rateLimit
	c.rateMu.RUnlock()

	info.recalculate(time.Now())
	return info
}

func (c *Client) updateRateLimit(resp *http.Response) RateLimitInfo {
	rateLimit := parseRateLimitHeaders(resp.Header, time.Now())
	if resp.StatusCode == http.StatusTooManyRequests {
		rateLimit.IsRateLimited = true
	}
	if !rateLimit.Known() && !rateLimit.IsRateLimited {
		return rateLimit
	}

	c.rateMu.Lock()
	c.rateLimit = rateLimit
	c.rateMu.Unlock()
	if c.tracker != nil {
		c.tracker.Record(rateLimit)
	}

	logging.Logger.Debug().
		Int("usage_15min", rateLimit.Usage15Min).
		Int("limit_15min", rateLimit.Limit15Min).
		Int("usage_daily", rateLimit.UsageDaily).
		Int("limit_daily", rateLimit.LimitDaily).
		Msg("rate limit")

	if rateLimit.IsApproaching15MinLimit() || rateLimit.IsApproachingDailyLimit() {
		logging.Logger.Warn().
			Str("usage", rateLimit.String()).
			Msg("approaching Strava rate limit")
	}
	return rateLimit
}

// ListActivities fetches one page of the authenticated athlete's activities, newest first
func (c *Client) ListActivities(ctx context.Context, params ListParams) ([]Activity, error) {
	var activities []Activity
	if err := c.get(ctx, EndpointActivities, "athlete/activities", params.values(), &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// GetActivity fetches a single activity
func (c *Client) GetActivity(ctx context.Context, id int64) (*Activity, error) {
	var activity Activity
	path := "activities/" + strconv.FormatInt(id, 10)
	if err := c.get(ctx, EndpointActivity, path, nil, &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// GetAthlete fetches the authenticated athlete
func (c *Client) GetAthlete(ctx context.Context) (*Athlete, error) {
	var athlete Athlete
	if err := c.get(ctx, EndpointAthlete, "athlete", nil, &athlete); err != nil {
		return nil, err
	}
	return &athlete, nil
}

// GetAthleteStats fetches the athlete's Strava-computed rollups
func (c *Client) GetAthleteStats(ctx context.Context, athleteID int64) (*AthleteStats, error) {
	var stats AthleteStats
	path := fmt.Sprintf("athletes/%d/stats", athleteID)
	if err := c.get(ctx, EndpointAthleteStats, path, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// get issues an authenticated GET and classifies the outcome into
// success, *RateLimitError, *AuthError or *APIError.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	u := c.baseURL + "/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	ctx = context.WithValue(ctx, endpointKey{}, endpoint)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.observe(endpoint, 0, start)
		logging.Logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Int("attempts", c.retry.MaxAttempts).
			Msg("request failed after retries")
		return transportError(err)
	}
	defer resp.Body.Close()

	c.observe(endpoint, resp.StatusCode, start)
	rateLimit := c.updateRateLimit(resp)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		logging.Logger.Warn().
			Str("endpoint", endpoint).
			Str("usage", rateLimit.String()).
			Dur("retry_after", retryAfter).
			Msg("rate limited by API")
		return &RateLimitError{RetryAfter: retryAfter, RateLimit: rateLimit}

	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{Path: path}

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		if resp.StatusCode >= 500 {
			logging.Logger.Warn().
				Int("status", resp.StatusCode).
				Str("endpoint", endpoint).
				Int("attempts", c.retry.MaxAttempts).
				Msg("server error after retries")
		}
		return statusError(resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) observe(endpoint string, status int, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveUpstream(endpoint, status, time.Since(start))
	}
}
