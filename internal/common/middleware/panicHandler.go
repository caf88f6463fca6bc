package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/exposurekeys/keyserver/internal/common/httpx"
	"github.com/rs/zerolog/log"
)

// PanicHandler recovers panics raised by handlers, logs them with their stack and answers
// with a generic error if nothing was written yet.
func PanicHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := httpx.NewResponseWriter(w)
		defer func() {
			if err := recover(); err != nil {
				log.Ctx(r.Context()).Error().
					Str("panic", fmt.Sprintf("%v", err)).
					Str("stack_trace", string(debug.Stack())).
					Msg("panic occurred")
				if !rw.Written() {
					httpx.ErrApplicationError("unable to process request").Send(rw)
				}
			}
		}()
		next.ServeHTTP(rw, r)
	})
}
