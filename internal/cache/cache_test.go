package cache

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	a := Key(PrefixActivities, 42, map[string]any{"b": 2, "a": 1})
	b := Key(PrefixActivities, 42, map[string]any{"a": 1, "b": 2})
	assert.Equal(t, a, b, "parameter order must not change the key")

	assert.Regexp(t, regexp.MustCompile(`^strava:42:activities:[0-9a-f]{8}$`), a)

	assert.NotEqual(t, a, Key(PrefixStats, 42, map[string]any{"a": 1, "b": 2}))
	assert.NotEqual(t, a, Key(PrefixActivities, 43, map[string]any{"a": 1, "b": 2}))
	assert.NotEqual(t, a, Key(PrefixActivities, 42, map[string]any{"a": 1, "b": 3}))

	assert.Equal(t, Key(PrefixStats, 7, nil), Key(PrefixStats, 7, map[string]any{}))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "strava:1:stats:aaaa", []byte("one"), time.Minute))
	require.NoError(t, s.Set(ctx, "strava:1:activities:bbbb", []byte("two"), time.Minute))
	require.NoError(t, s.Set(ctx, "strava:2:stats:cccc", []byte("three"), time.Minute))

	v, ok, err := s.Get(ctx, "strava:1:stats:aaaa")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", string(v))
	assert.EqualValues(t, 3, s.Len())

	require.NoError(t, s.ClearPrefix(ctx, AthletePrefix(1)))
	_, ok, _ = s.Get(ctx, "strava:1:activities:bbbb")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "strava:2:stats:cccc")
	assert.True(t, ok, "other athletes are untouched")

	require.NoError(t, s.Clear(ctx))
	assert.EqualValues(t, 0, s.Len())
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	_, ok, _ := s.Get(ctx, "k")
	require.True(t, ok)

	time.Sleep(1100 * time.Millisecond)
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok, "sub-second ttl rounds up to one second and then expires")
}

func TestTTLSeconds(t *testing.T) {
	assert.Equal(t, 0, ttlSeconds(0))
	assert.Equal(t, 1, ttlSeconds(time.Millisecond))
	assert.Equal(t, 300, ttlSeconds(ActivitiesTTL))
	assert.Equal(t, 1800, ttlSeconds(ActivityTTL))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	type payload struct {
		Count int `json:"count"`
	}

	var out payload
	ok, err := GetJSON(ctx, s, "k", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetJSON(ctx, s, "k", payload{Count: 3}, time.Minute))
	ok, err = GetJSON(ctx, s, "k", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, out.Count)

	require.NoError(t, s.Set(ctx, "bad", []byte("{"), time.Minute))
	ok, err = GetJSON(ctx, s, "bad", &out)
	require.NoError(t, err)
	assert.False(t, ok, "undecodable values are misses")

	assert.Error(t, SetJSON(ctx, s, "k", make(chan int), time.Minute))
}

func TestRedisStoreGetSet(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db)

	mock.ExpectGet("strava:1:stats:aaaa").RedisNil()
	_, ok, err := s.Get(ctx, "strava:1:stats:aaaa")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectSet("strava:1:stats:aaaa", []byte("v"), StatsTTL).SetVal("OK")
	require.NoError(t, s.Set(ctx, "strava:1:stats:aaaa", []byte("v"), StatsTTL))

	mock.ExpectGet("strava:1:stats:aaaa").SetVal("v")
	v, ok, err := s.Get(ctx, "strava:1:stats:aaaa")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	mock.ExpectGet("down").SetErr(errors.New("connection refused"))
	_, _, err = s.Get(ctx, "down")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreClear(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db)

	mock.ExpectScan(0, "strava:*", scanBatch).SetVal([]string{"strava:1:stats:a", "strava:1:activity:b"}, 17)
	mock.ExpectDel("strava:1:stats:a", "strava:1:activity:b").SetVal(2)
	mock.ExpectScan(17, "strava:*", scanBatch).SetVal([]string{}, 0)

	require.NoError(t, s.Clear(ctx))

	mock.ExpectScan(0, "strava:9:*", scanBatch).SetErr(redis.ErrClosed)
	assert.Error(t, s.ClearPrefix(ctx, AthletePrefix(9)))

	assert.NoError(t, mock.ExpectationsWereMet())
}
