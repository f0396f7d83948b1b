package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/joshdurbin/strava-stats/internal/auth"
	"github.com/joshdurbin/strava-stats/internal/cache"
	"github.com/joshdurbin/strava-stats/internal/config"
	"github.com/joshdurbin/strava-stats/internal/db"
	"github.com/joshdurbin/strava-stats/internal/logging"
	"github.com/joshdurbin/strava-stats/internal/metrics"
	"github.com/joshdurbin/strava-stats/internal/service"
	"github.com/joshdurbin/strava-stats/internal/strava"
)

// openStorage opens the token database. exclusive is used by serve so two
// servers never race on token refresh.
func openStorage(ctx context.Context, c *config.Config, exclusive bool) (*sql.DB, *auth.Storage, error) {
	logging.Logger.Info().Str("path", c.DBPath).Msg("opening database")
	sqlDB, err := db.Open(ctx, c.DBPath, exclusive)
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, auth.NewStorage(db.New(sqlDB)), nil
}

// newCacheStore returns a Redis store when an address is configured, else an in-process one
func newCacheStore(ctx context.Context, c *config.Config) (cache.Store, *redis.Client, error) {
	if c.RedisAddr == "" {
		logging.Logger.Debug().Int("size_mb", c.CacheSizeMB).Msg("using in-memory cache")
		return cache.NewMemoryStore(c.CacheSizeMB * 1024 * 1024), nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", c.RedisAddr, err)
	}
	logging.Logger.Info().Str("addr", c.RedisAddr).Int("db", c.RedisDB).Msg("using redis cache")
	return cache.NewRedisStore(client), client, nil
}

// clientFactory builds Strava clients that report to the metrics manager and
// rate-limit tracker, if any. Clients are per token so the tracker is the
// process-wide view of the quota.
func clientFactory(m *metrics.Manager, rl *strava.RateLimitTracker) service.ClientFactory {
	return func(accessToken string) strava.API {
		client := strava.NewClient(accessToken)
		if m != nil {
			client.WithObserver(m)
		}
		if rl != nil {
			client.WithRateLimitTracker(rl)
		}
		return client
	}
}

func newService(c *config.Config, store cache.Store, m *metrics.Manager, rl *strava.RateLimitTracker) *service.Service {
	svc := service.New(store, clientFactory(m, rl)).WithMaxHistory(c.MaxHistory)
	if m != nil {
		svc.WithRecorder(m)
	}
	return svc
}
