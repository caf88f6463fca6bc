// Package middleware provides HTTP middleware for request logging, timeouts and panic
// recovery, integrated with zerolog and request ids.
package middleware

import (
	"net/http"
	"time"

	"github.com/exposurekeys/keyserver/internal/common/httpx"
	"github.com/exposurekeys/keyserver/internal/common/logtrace"
	"github.com/exposurekeys/keyserver/internal/common/uuid"
	"github.com/rs/zerolog/log"
)

const RequestIDHeader = "X-Keyserver-Request-ID"

// RequestLogger assigns a request id, attaches a request-scoped logger to the context
// and logs the request with its status and duration.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		requestID := uuid.New().String()
		ctx = logtrace.WithRequestID(ctx, requestID)
		ctx = log.With().Str("request_id", requestID).Logger().WithContext(ctx)
		w.Header().Set(RequestIDHeader, requestID)

		rw := httpx.NewResponseWriter(w)
		defer func() {
			log.Ctx(ctx).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.Status()).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Msg("request completed")
			log.Ctx(ctx).Debug().Str("user_agent", r.UserAgent()).Msg("client")
		}()

		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}
