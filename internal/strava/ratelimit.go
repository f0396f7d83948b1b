package strava

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitInfo is the rate-limit state reported by the last response.
// The client only records it; callers decide whether to throttle.
type RateLimitInfo struct {
	Limit15Min    int
	Usage15Min    int
	LimitDaily    int
	UsageDaily    int
	IsRateLimited bool
	// Calculated fields
	TimeUntil15MinReset time.Duration
	TimeUntilDailyReset time.Duration
	RecommendedWait     time.Duration
}

// Buffer to keep from rate limit boundaries (leave room for other operations)
const rateLimitBuffer = 5

// IsApproaching15MinLimit returns true if we're close to the 15-minute limit
func (info *RateLimitInfo) IsApproaching15MinLimit() bool {
	if info.Limit15Min == 0 {
		return false
	}
	return info.Usage15Min >= info.Limit15Min-rateLimitBuffer
}

// IsApproachingDailyLimit returns true if we're close to the daily limit
func (info *RateLimitInfo) IsApproachingDailyLimit() bool {
	if info.LimitDaily == 0 {
		return false
	}
	return info.UsageDaily >= info.LimitDaily-rateLimitBuffer
}

// Known reports whether any rate-limit header has been seen
func (info *RateLimitInfo) Known() bool {
	return info.Limit15Min > 0 || info.LimitDaily > 0
}

func (info *RateLimitInfo) String() string {
	return fmt.Sprintf("15min %d/%d, daily %d/%d",
		info.Usage15Min, info.Limit15Min, info.UsageDaily, info.LimitDaily)
}

// recalculate fills the reset and recommendation fields relative to now
func (info *RateLimitInfo) recalculate(now time.Time) {
	info.TimeUntil15MinReset = timeUntilNext15MinWindow(now)
	info.TimeUntilDailyReset = timeUntilMidnightUTC(now)
	info.RecommendedWait = 0

	switch {
	case info.Limit15Min > 0 && info.Usage15Min >= info.Limit15Min:
		info.IsRateLimited = true
		info.RecommendedWait = info.TimeUntil15MinReset
	case info.LimitDaily > 0 && info.UsageDaily >= info.LimitDaily:
		info.IsRateLimited = true
		info.RecommendedWait = info.TimeUntilDailyReset
	case info.IsApproaching15MinLimit():
		info.RecommendedWait = info.TimeUntil15MinReset
	case info.IsApproachingDailyLimit():
		info.RecommendedWait = info.TimeUntilDailyReset
	}
}

// RateLimitTracker keeps the last rate-limit state reported to any client
// sharing it. Usage from a window that has since reset is dropped.
type RateLimitTracker struct {
	mu     sync.RWMutex
	info   RateLimitInfo
	seenAt time.Time
}

// Record stores info as the latest known state
func (t *RateLimitTracker) Record(info RateLimitInfo) {
	t.record(info, time.Now())
}

func (t *RateLimitTracker) record(info RateLimitInfo, now time.Time) {
	t.mu.Lock()
	t.info = info
	t.seenAt = now
	t.mu.Unlock()
}

// RateLimit returns the latest state with reset times relative to now
func (t *RateLimitTracker) RateLimit() RateLimitInfo {
	return t.snapshot(time.Now())
}

func (t *RateLimitTracker) snapshot(now time.Time) RateLimitInfo {
	t.mu.RLock()
	info, seenAt := t.info, t.seenAt
	t.mu.RUnlock()

	if seenAt.IsZero() {
		return RateLimitInfo{}
	}
	sameDay := seenAt.UTC().Truncate(24 * time.Hour).Equal(now.UTC().Truncate(24 * time.Hour))
	sameWindow := sameDay && seenAt.Truncate(15*time.Minute).Equal(now.Truncate(15*time.Minute))
	if !sameWindow {
		info.Usage15Min = 0
		info.IsRateLimited = false
	}
	if !sameDay {
		info.UsageDaily = 0
	}
	info.recalculate(now)
	return info
}

// timeUntilNext15MinWindow calculates time until the next 15-minute boundary.
// Strava rate limits reset at 0, 15, 30, 45 minutes past each hour.
func timeUntilNext15MinWindow(now time.Time) time.Duration {
	minute := now.Minute()
	nextBoundary := ((minute / 15) + 1) * 15

	waitDuration := time.Duration(nextBoundary-minute)*time.Minute -
		time.Duration(now.Second())*time.Second -
		time.Duration(now.Nanosecond())

	// 2s past the boundary
	return waitDuration + 2*time.Second
}

// timeUntilMidnightUTC calculates time until midnight UTC (daily reset)
func timeUntilMidnightUTC(now time.Time) time.Duration {
	nowUTC := now.UTC()
	midnight := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day()+1, 0, 0, 0, 0, time.UTC)
	return midnight.Sub(nowUTC) + 2*time.Second
}

// minPositive returns the minimum of two values, preferring positive values.
// If one value is zero/unset, returns the other.
func minPositive(a, b int) int {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	return min(a, b)
}

// parsePair reads a "15min,daily" header value
func parsePair(value string) (int, int) {
	if value == "" {
		return 0, 0
	}
	parts := strings.Split(value, ",")
	var first, second int
	if len(parts) >= 1 {
		first, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
	}
	if len(parts) >= 2 {
		second, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	return first, second
}

// parseRateLimitHeaders reads both header families Strava sends:
// X-RateLimit-* (overall) and X-ReadRateLimit-* (read-only, stricter).
// The more restrictive limit and the higher usage win. Limits and usages are
// picked independently, so the result may pair the read limit with the
// overall usage. That is intended: it never reports more headroom than
// either family on its own.
func parseRateLimitHeaders(headers http.Header, now time.Time) RateLimitInfo {
	generalLimit15Min, generalLimitDaily := parsePair(headers.Get("X-RateLimit-Limit"))
	generalUsage15Min, generalUsageDaily := parsePair(headers.Get("X-RateLimit-Usage"))
	readLimit15Min, readLimitDaily := parsePair(headers.Get("X-ReadRateLimit-Limit"))
	readUsage15Min, readUsageDaily := parsePair(headers.Get("X-ReadRateLimit-Usage"))

	info := RateLimitInfo{
		Limit15Min: minPositive(generalLimit15Min, readLimit15Min),
		LimitDaily: minPositive(generalLimitDaily, readLimitDaily),
		Usage15Min: max(generalUsage15Min, readUsage15Min),
		UsageDaily: max(generalUsageDaily, readUsageDaily),
	}
	info.recalculate(now)
	return info
}

// formatHeaders formats HTTP headers for logging, redacting sensitive values
func formatHeaders(headers http.Header) string {
	if len(headers) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		value := strings.Join(headers[k], ", ")
		switch strings.ToLower(k) {
		case "authorization", "cookie", "set-cookie":
			value = "[REDACTED]"
		}
		fmt.Fprintf(&sb, "%s: %q", k, value)
	}
	sb.WriteString("}")
	return sb.String()
}
