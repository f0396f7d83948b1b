// Package cache is the short-TTL memoization layer in front of the Strava API.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Namespace prefixes every key written by this package
const Namespace = "strava"

// Resource prefixes
const (
	PrefixActivities   = "activities"
	PrefixActivity     = "activity"
	PrefixStats        = "stats"
	PrefixAthleteStats = "athlete_stats"
)

// TTLs per resource
const (
	ActivitiesTTL = 5 * time.Minute
	StatsTTL      = 5 * time.Minute
	ActivityTTL   = 30 * time.Minute
)

// Store is a key-value store with per-key TTL. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns ok=false on a miss or an expired key
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// ClearPrefix removes every key starting with prefix
	ClearPrefix(ctx context.Context, prefix string) error
	// Clear removes every key in Namespace
	Clear(ctx context.Context) error
}

// Key builds "strava:<athleteID>:<prefix>:<hash>". The hash is the first 8
// hex digits of xxhash64 over the JSON encoding of params, whose map keys
// encoding/json always writes sorted. Two distinct parameter sets can
// collide only through that truncation.
func Key(prefix string, athleteID int64, params map[string]any) string {
	if params == nil {
		params = map[string]any{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		// params are always scalars; fall back to fmt so the key stays deterministic
		b = []byte(fmt.Sprint(params))
	}
	digest := strconv.FormatUint(xxhash.Sum64(b), 16)
	for len(digest) < 16 {
		digest = "0" + digest
	}
	return fmt.Sprintf("%s:%d:%s:%s", Namespace, athleteID, prefix, digest[:8])
}

// AthletePrefix is the key prefix covering every entry of one athlete
func AthletePrefix(athleteID int64) string {
	return fmt.Sprintf("%s:%d:", Namespace, athleteID)
}

// GetJSON decodes a cached value into out. A value that no longer decodes
// is reported as a miss.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	b, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, nil
	}
	return true, nil
}

// SetJSON encodes value and stores it under key
func SetJSON(ctx context.Context, s Store, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache value: %w", err)
	}
	return s.Set(ctx, key, b, ttl)
}
