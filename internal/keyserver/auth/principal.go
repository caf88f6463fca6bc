// Package auth verifies upload tokens and exposes their claims as a Principal.
package auth

import (
	"context"

	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
)

const (
	// ScopeExposed permits uploading the keys of past days.
	ScopeExposed = "exposed"
	// ScopeCurrentDayExposed permits uploading the key of a single delayed day.
	ScopeCurrentDayExposed = "currentDayExposed"
)

// Principal is the authenticated uploader.
type Principal struct {
	Subject string
	Scope   string
	// Fake marks a whole request as padding traffic.
	Fake bool
	// Onset is the earliest key date the uploader may report.
	Onset *timebucket.Instant
	// DelayedKeyDate is the only key date accepted under ScopeCurrentDayExposed.
	DelayedKeyDate *timebucket.Instant
}

type principalKey struct{}

// WithPrincipal stores p in the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal set by the middleware, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
