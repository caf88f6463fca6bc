// Package ingest validates and normalizes diagnosis keys before they reach the store.
// Every batch, whether uploaded by a device or downloaded from a federation gateway,
// passes the same ordered chain of modifiers and filters.
package ingest

import (
	"context"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/exposurekeys/keyserver/internal/keyserver/auth"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/metrics"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/rs/zerolog/log"
)

// InsertContext describes where a batch comes from.
type InsertContext struct {
	// Principal is the authenticated uploader. Nil for federation batches.
	Principal *auth.Principal
	UserAgent UserAgent
	// Federation marks batches downloaded from a gateway.
	Federation bool
	// Origin is recorded for device uploads and for gateway keys without an origin.
	Origin string
	// Share flags new keys for upload to the federation gateways.
	Share bool
}

func (ic *InsertContext) path() string {
	if ic.Federation {
		return "federation"
	}
	return "upload"
}

// Modifier rewrites a key in place and reports whether it changed anything.
// Modifiers never fail.
type Modifier func(k *models.Key, ic *InsertContext) bool

// Filter returns the keys it keeps. An error rejects the whole batch.
type Filter func(now timebucket.Instant, keys []models.Key, ic *InsertContext) ([]models.Key, error)

type namedModifier struct {
	name string
	fn   Modifier
}

type namedFilter struct {
	name string
	fn   Filter
}

// Pipeline is an ordered chain of modifiers followed by filters.
type Pipeline struct {
	modifiers []namedModifier
	filters   []namedFilter
}

func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// AddModifier appends a modifier. Modifiers run in the order they were added.
func (p *Pipeline) AddModifier(name string, fn Modifier) *Pipeline {
	p.modifiers = append(p.modifiers, namedModifier{name: name, fn: fn})
	return p
}

// AddFilter appends a filter. Filters run after all modifiers, in the order they were added.
func (p *Pipeline) AddFilter(name string, fn Filter) *Pipeline {
	p.filters = append(p.filters, namedFilter{name: name, fn: fn})
	return p
}

// Names lists the modifiers and then the filters of the chain.
func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.modifiers)+len(p.filters))
	for _, m := range p.modifiers {
		names = append(names, m.name)
	}
	for _, f := range p.filters {
		names = append(names, f.name)
	}
	return names
}

// Process runs keys through the chain and returns the survivors. The input slice is
// not modified.
func (p *Pipeline) Process(ctx context.Context, now timebucket.Instant, keys []models.Key, ic *InsertContext) ([]models.Key, error) {
	logger := log.Ctx(ctx)
	if ic == nil {
		ic = &InsertContext{}
	}
	out := make([]models.Key, len(keys))
	copy(out, keys)

	for _, m := range p.modifiers {
		n := 0
		for i := range out {
			if m.fn(&out[i], ic) {
				n++
			}
		}
		if n > 0 {
			metrics.KeysModified.WithLabelValues(m.name).Add(float64(n))
			logger.Debug().Str("modifier", m.name).Int("keys", n).Msg("modified keys")
		}
	}

	for _, f := range p.filters {
		before := len(out)
		kept, err := f.fn(now, out, ic)
		if err != nil {
			metrics.BatchesRejected.WithLabelValues(f.name).Inc()
			logger.Info().Err(err).Str("filter", f.name).Str("path", ic.path()).Msg("rejected key batch")
			return nil, err
		}
		if dropped := before - len(kept); dropped > 0 {
			metrics.KeysDropped.WithLabelValues(f.name).Add(float64(dropped))
			logger.Debug().Str("filter", f.name).Int("dropped", dropped).Msg("dropped keys")
		}
		out = kept
		if len(out) == 0 {
			break
		}
	}
	return out, nil
}

// Options configures the default chain.
type Options struct {
	Retention time.Duration
	// MaxFuture is how far past now a key may start.
	MaxFuture time.Duration

	// LegacyIOSOSVersions selects iOS clients whose partial-day keys are widened to a day.
	LegacyIOSOSVersions *semver.Constraints
	// LegacyAndroidAppVersions selects Android clients whose zero period keys get a day.
	LegacyAndroidAppVersions *semver.Constraints

	DSOSAcceptance *DSOSAcceptancePolicy
	DSOSRelevance  *DSOSRelevancePolicy
}

// DefaultMaxFuture allows for device clocks running ahead.
const DefaultMaxFuture = 2 * timebucket.Day

// NewDefaultPipeline builds the standard chain from opts.
func NewDefaultPipeline(opts Options) *Pipeline {
	if opts.MaxFuture == 0 {
		opts.MaxFuture = DefaultMaxFuture
	}
	p := NewPipeline()
	if opts.LegacyIOSOSVersions != nil {
		p.AddModifier("ios_legacy_rolling_period", IOSLegacyRollingPeriod(opts.LegacyIOSOSVersions))
	}
	if opts.LegacyAndroidAppVersions != nil {
		p.AddModifier("android_legacy_rolling_period", AndroidLegacyRollingPeriod(opts.LegacyAndroidAppVersions))
	}
	p.AddModifier("assign_report_metadata", AssignReportMetadata)

	p.AddFilter("key_format", AssertKeyFormat).
		AddFilter("rolling_period", ValidRollingPeriod).
		AddFilter("retention", EnforceRetention(opts.Retention)).
		AddFilter("future", RemoveFutureKeys(opts.MaxFuture)).
		AddFilter("claims", EnforceMatchingClaims).
		AddFilter("fake", RemoveFakeKeys)
	if opts.DSOSAcceptance != nil {
		p.AddFilter("dsos_acceptance", DSOSAcceptance(*opts.DSOSAcceptance))
	}
	if opts.DSOSRelevance != nil {
		p.AddFilter("dsos_relevance", DSOSRelevance(*opts.DSOSRelevance))
	}
	return p
}
