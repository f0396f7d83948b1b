package workers

import (
	"context"
	"errors"
	"time"

	"github.com/joshdurbin/strava-stats/internal/auth"
	"github.com/joshdurbin/strava-stats/internal/logging"
	"github.com/joshdurbin/strava-stats/internal/service"
	"github.com/joshdurbin/strava-stats/internal/stats"
	"github.com/joshdurbin/strava-stats/internal/strava"
)

// RefreshThreshold is how close to expiry a token gets refreshed
const RefreshThreshold = 10 * time.Minute

// TokenStore is the part of auth.Storage the refresher needs
type TokenStore interface {
	ExpiresAt(ctx context.Context) (time.Time, error)
	Refresh(ctx context.Context) (*auth.StoredTokens, error)
}

// TokenRefresher keeps auth tokens up to date
type TokenRefresher struct {
	store    TokenStore
	interval time.Duration
	now      func() time.Time
}

// NewTokenRefresher creates a new token refresher worker
func NewTokenRefresher(store TokenStore, interval time.Duration) *TokenRefresher {
	return &TokenRefresher{
		store:    store,
		interval: interval,
		now:      time.Now,
	}
}

// Run starts the token refresh worker
func (t *TokenRefresher) Run(ctx context.Context) {
	log := logging.Logger
	log.Info().Dur("interval", t.interval).Msg("token refresher started")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.checkAndRefresh(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("token refresher stopped")
			return
		case <-ticker.C:
			t.checkAndRefresh(ctx)
		}
	}
}

// checkAndRefresh reports whether a refresh happened
func (t *TokenRefresher) checkAndRefresh(ctx context.Context) bool {
	log := logging.Logger
	log.Debug().Msg("checking token validity")

	expiresAt, err := t.store.ExpiresAt(ctx)
	if err != nil {
		if errors.Is(err, service.ErrNoSession) {
			log.Debug().Msg("not logged in, nothing to refresh")
		} else {
			log.Error().Err(err).Msg("failed to load tokens for refresh check")
		}
		return false
	}

	timeUntilExpiry := expiresAt.Sub(t.now())
	if timeUntilExpiry >= RefreshThreshold {
		log.Debug().Dur("expires_in", timeUntilExpiry.Round(time.Second)).Msg("token still valid")
		return false
	}

	log.Info().Dur("expires_in", timeUntilExpiry).Msg("token expiring soon, refreshing")

	tokens, err := t.store.Refresh(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to refresh token")
		return false
	}

	log.Info().
		Str("new_expires_at", time.Unix(tokens.ExpiresAt, 0).Format(time.RFC3339)).
		Msg("token refreshed successfully")
	return true
}

// StatsRefresher recomputes the full-history stats bundle
type StatsRefresher interface {
	RefreshStats(ctx context.Context, sess service.Session) (*stats.Bundle, error)
}

// RateLimitSource reports the last known Strava quota usage
type RateLimitSource interface {
	RateLimit() strava.RateLimitInfo
}

// StatsWarmer periodically recomputes the stats bundle so the cache stays warm
type StatsWarmer struct {
	sessions service.SessionProvider
	stats    StatsRefresher
	limits   RateLimitSource
	interval time.Duration
}

// NewStatsWarmer creates a new stats warming worker
func NewStatsWarmer(sessions service.SessionProvider, refresher StatsRefresher, interval time.Duration) *StatsWarmer {
	return &StatsWarmer{
		sessions: sessions,
		stats:    refresher,
		interval: interval,
	}
}

// WithRateLimits makes the warmer skip runs while the quota is nearly spent
func (w *StatsWarmer) WithRateLimits(src RateLimitSource) *StatsWarmer {
	w.limits = src
	return w
}

// Run starts the stats warmer
func (w *StatsWarmer) Run(ctx context.Context) {
	log := logging.Logger
	log.Info().Dur("interval", w.interval).Msg("stats warmer started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.warm(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stats warmer stopped")
			return
		case <-ticker.C:
			w.warm(ctx)
		}
	}
}

// warm reports whether the bundle was recomputed
func (w *StatsWarmer) warm(ctx context.Context) bool {
	log := logging.Logger

	if w.limits != nil {
		rl := w.limits.RateLimit()
		if rl.IsRateLimited || rl.IsApproaching15MinLimit() || rl.IsApproachingDailyLimit() {
			log.Warn().
				Str("usage", rl.String()).
				Dur("recommended_wait", rl.RecommendedWait).
				Msg("near Strava rate limit, skipping stats warm-up")
			return false
		}
	}

	sess, err := w.sessions.Session(ctx)
	if err != nil {
		if errors.Is(err, service.ErrNoSession) {
			log.Debug().Msg("not logged in, skipping stats warm-up")
		} else {
			log.Error().Err(err).Msg("failed to resolve session for stats warm-up")
		}
		return false
	}

	start := time.Now()
	bundle, err := w.stats.RefreshStats(ctx, sess)
	if err != nil {
		var rle *strava.RateLimitError
		if errors.As(err, &rle) {
			log.Warn().Dur("retry_after", rle.RetryAfter).Msg("rate limited while warming stats")
		} else if ctx.Err() == nil {
			log.Error().Err(err).Msg("failed to warm stats")
		}
		return false
	}

	log.Info().
		Int("activities", bundle.Totals.Count).
		Bool("truncated", bundle.Truncated).
		Dur("duration", time.Since(start)).
		Msg("stats cache warmed")
	return true
}
