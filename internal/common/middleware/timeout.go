package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/exposurekeys/keyserver/internal/common/httpx"
	"github.com/rs/zerolog/log"
)

// SetTimeout bounds request handling to timeout. Handlers observe the deadline through
// the request context; a handler that has not started its response when the deadline
// passes is answered with 408.
func SetTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			rw := httpx.NewResponseWriter(w)
			r = r.WithContext(ctx)

			done := make(chan struct{})
			go func() {
				defer func() {
					if p := recover(); p != nil {
						log.Ctx(ctx).Error().Msgf("panic in handler: %v", p)
						if !rw.Written() {
							httpx.ErrApplicationError().Send(rw)
						}
					}
					close(done)
				}()
				next.ServeHTTP(rw, r)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if !rw.Written() {
					httpx.ErrRequestTimeout().Send(rw)
				}
				log.Ctx(ctx).Warn().Dur("timeout", timeout).Msg("request timed out")
				<-done
			}
		})
	}
}
