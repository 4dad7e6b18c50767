package http

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/showtime-reservations/internal/idempotency"
	"github.com/robertarktes/showtime-reservations/internal/observability"
	"github.com/robertarktes/showtime-reservations/internal/rateLimit"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	identityKey
)

// maxBodyBytes caps request bodies read by handlers and the idempotency layer.
const maxBodyBytes = 1 << 20

var nopLogger = observability.NewNopLogger()

func loggerFrom(ctx context.Context) observability.Logger {
	if l, ok := ctx.Value(loggerKey).(observability.Logger); ok {
		return l
	}
	return nopLogger
}

// LoggerMiddleware puts a request scoped logger into the context and logs
// each finished request.
func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := logger.WithField("request_id", middleware.GetReqID(r.Context()))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), loggerKey, entry)))
			entry.WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", ww.Status()).
				WithField("duration_ms", time.Since(start).Milliseconds()).
				Debug("request served")
		})
	}
}

// MetricsMiddleware counts requests by route pattern, so path ids do not
// explode the label set.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}

// RateLimitMiddleware limits hits per user and per client address.
func RateLimitMiddleware(rl *rateLimit.RateLimiter, perUser, perIP int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			allowed := rl.Allow(r.Context(), "ip:"+ip, perIP, time.Minute)
			if id, ok := identityFrom(r.Context()); ok && allowed {
				allowed = rl.Allow(r.Context(), "user:"+id.UserID, perUser, time.Minute)
			}
			if !allowed {
				w.Header().Set("Retry-After", "60")
				writeJSON(w, http.StatusTooManyRequests, errorBody{Code: "rate_limited", Message: "rate limit exceeded, retry in a minute"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdempotencyMiddleware requires an Idempotency-Key and replays the stored
// response of an earlier request with the same key. 5xx and 429 responses
// are not stored so the client can retry.
func IdempotencyMiddleware(idemp *idempotency.Idempotency) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if len(key) < 16 || len(key) > 128 {
				writeJSON(w, http.StatusBadRequest, errorBody{Code: "invalid_idempotency_key", Message: "Idempotency-Key header of 16 to 128 characters is required"})
				return
			}
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Code: "body_too_large", Message: err.Error()})
				return
			}
			var userID string
			if id, ok := identityFrom(r.Context()); ok {
				userID = id.UserID
			}
			// Keys are scoped per user so two users cannot collide.
			scoped := userID + ":" + key
			fingerprint := idempotency.Fingerprint([]byte(r.Method), []byte(r.URL.Path), body)

			stored, err := idemp.Begin(r.Context(), scoped, fingerprint)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if stored != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Result)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			ctx := context.WithoutCancel(r.Context())
			if rec.status >= http.StatusInternalServerError || rec.status == http.StatusTooManyRequests {
				err = idemp.Abort(ctx, scoped)
			} else {
				err = idemp.Complete(ctx, scoped, idempotency.Response{Fingerprint: fingerprint, Status: rec.status, Result: rec.buf.Bytes()})
			}
			if err != nil {
				loggerFrom(r.Context()).WithError(err).Warn("failed to finish idempotent request")
			}
		})
	}
}

type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	buf         bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	r.buf.Write(p)
	return r.ResponseWriter.Write(p)
}
