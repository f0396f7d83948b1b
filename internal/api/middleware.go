package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-redis/redis_rate/v9"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshdurbin/strava-stats/internal/logging"
	"github.com/joshdurbin/strava-stats/internal/metrics"
	"github.com/joshdurbin/strava-stats/internal/service"
)

type sessionKey struct{}

func sessionFromContext(ctx context.Context) (service.Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(service.Session)
	return sess, ok
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (r *responseWriter) WriteHeader(statusCode int) {
	r.ResponseWriter.WriteHeader(statusCode)
	r.statusCode = statusCode
	r.written = true
}

func (r *responseWriter) Write(b []byte) (int, error) {
	r.written = true
	return r.ResponseWriter.Write(b)
}

func wrap(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func PanicRecovery(metricsManager *metrics.Manager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(respWriter http.ResponseWriter, req *http.Request) {
			rw := wrap(respWriter)
			defer func() {
				if r := recover(); r != nil {
					logging.Logger.Error().
						Str("path", req.URL.Path).
						Str("stack", string(debug.Stack())).
						Msgf("http: panic serving request: %v", r)
					if metricsManager != nil {
						metricsManager.CounterHandleRequestPanic.Inc()
					}
					if !rw.written {
						writeError(rw, fmt.Errorf("panic: %v", r))
					}
				}
			}()

			next.ServeHTTP(rw, req)
		})
	}
}

func RequestMetrics(metricsManager *metrics.Manager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(respWriter http.ResponseWriter, req *http.Request) {
			metricsManager.GaugeRequests.Inc()
			defer func(begin time.Time) {
				metricsManager.GaugeRequests.Dec()
				metricsManager.HistRequestDuration.Observe(time.Since(begin).Seconds())
			}(time.Now())

			rw := wrap(respWriter)
			next.ServeHTTP(rw, req)

			metricsManager.CounterRequests.With(
				prometheus.Labels{
					"method": req.Method,
					"status": strconv.Itoa(rw.statusCode),
				},
			).Inc()
		})
	}
}

func LogRequest() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)

			logging.Logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("query", r.URL.RawQuery).
				Int("status", rw.statusCode).
				Dur("duration", time.Since(start)).
				Str("user_agent", r.UserAgent()).
				Msg("request")
		})
	}
}

// RequireSession resolves the session before any handler runs. Requests
// without one get an unauthenticated failure.
func RequireSession(provider service.SessionProvider) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := provider.Session(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
		})
	}
}

type RequestRateLimiter interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

// RateLimit allows allowedPerMin requests per athlete. It must run after RequireSession.
func RateLimit(rateLimiter RequestRateLimiter, routerName string, allowedPerMin int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := routerName
			if sess, ok := sessionFromContext(r.Context()); ok {
				key = fmt.Sprintf("%s:%d", routerName, sess.AthleteID)
			}

			res, err := rateLimiter.Allow(r.Context(), key, redis_rate.PerMinute(allowedPerMin))
			if err != nil {
				// fail open
				logging.Warn("rate limiter unavailable", "error", err.Error())
				next.ServeHTTP(w, r)
				return
			}

			if res.Allowed > 0 {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := int(res.RetryAfter.Seconds() + 0.999)
			if retryAfter < 1 {
				retryAfter = 1
			}
			writeFailure(w, &service.Failure{
				Kind:       service.KindRateLimited,
				Message:    "Too many requests. Please slow down.",
				RetryAfter: retryAfter,
				HTTPStatus: http.StatusTooManyRequests,
			})
		})
	}
}
