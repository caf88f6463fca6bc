package auth

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/exposurekeys/keyserver/internal/common/httpx"
	"github.com/rs/zerolog/log"
)

const (
	AuthHeaderPrefix = "Bearer "
	GenericAuthError = "authentication failed"
)

// Middleware authenticates the bearer token of a request and stores the resulting
// principal in its context. Tokens whose scope is not in scopes are refused.
func Middleware(v *Verifier, scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, AuthHeaderPrefix) {
				log.Ctx(ctx).Debug().Msg("missing or malformed authorization header")
				httpx.ErrUnAuthorized(GenericAuthError).Send(w)
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, AuthHeaderPrefix))
			if token == "" {
				log.Ctx(ctx).Debug().Msg("empty token")
				httpx.ErrUnAuthorized(GenericAuthError).Send(w)
				return
			}

			p, err := v.Verify(ctx, token)
			if err != nil {
				log.Ctx(ctx).Info().Err(err).Msg("token validation failed")
				if errors.Is(err, ErrForbiddenScope) {
					httpx.ErrForbidden().Send(w)
					return
				}
				httpx.ErrUnAuthorized(GenericAuthError).Send(w)
				return
			}
			if len(scopes) > 0 && !slices.Contains(scopes, p.Scope) {
				log.Ctx(ctx).Info().Str("scope", p.Scope).Msg("token scope not allowed on route")
				httpx.ErrForbidden().Send(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, p)))
		})
	}
}
