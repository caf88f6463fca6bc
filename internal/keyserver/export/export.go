// Package export builds the signed key files served to devices.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/exposurekeys/keyserver/internal/common/apperrors"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/metrics"
	"github.com/exposurekeys/keyserver/internal/keyserver/signing"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

var (
	ErrExport        apperrors.Error = apperrors.New("export error").SetStatusCode(http.StatusInternalServerError)
	ErrInvalidExport apperrors.Error = ErrExport.New("invalid export")
)

// Querier is the read side of the key store.
type Querier interface {
	Query(ctx context.Context, q models.KeyQuery) ([]models.StoredKey, error)
}

// Request selects the keys of an export.
type Request struct {
	// KeyDate limits the export to keys of one UTC date.
	KeyDate          *timebucket.Instant
	PublishedAfter   *timebucket.Instant
	IncludeFederated bool
}

func (r Request) cacheKey(until timebucket.Instant) string {
	var keyDate, after int64 = -1, -1
	if r.KeyDate != nil {
		keyDate = r.KeyDate.Millis()
	}
	if r.PublishedAfter != nil {
		after = r.PublishedAfter.Millis()
	}
	return fmt.Sprintf("%d/%d/%d/%t", keyDate, after, until.Millis(), r.IncludeFederated)
}

// Export is a signed key file.
type Export struct {
	Body      []byte
	Signature []byte
	KeyID     string
	Algorithm string
	// PublishedUntil is the exclusive end of the release window. Clients pass it back
	// as their next PublishedAfter.
	PublishedUntil timebucket.Instant
	Keys           int
	ETag           string
}

type Options struct {
	Region        string
	KeyVersion    string
	ReleaseBucket time.Duration
	// CacheSize is the number of exports kept. Zero disables caching.
	CacheSize int
	Clock     timebucket.Clock
}

// Service answers export requests. Exports only cover completed release buckets, so an
// export is immutable once built and can be cached.
type Service struct {
	store  Querier
	signer signing.Signer
	opts   Options
	cache  *lru.Cache[string, *Export]
}

func NewService(store Querier, signer signing.Signer, opts Options) (*Service, error) {
	if opts.Clock == nil {
		opts.Clock = timebucket.SystemClock{}
	}
	s := &Service{store: store, signer: signer, opts: opts}
	if opts.CacheSize > 0 {
		c, err := lru.New[string, *Export](opts.CacheSize)
		if err != nil {
			return nil, err
		}
		s.cache = c
	}
	return s, nil
}

// PublishedUntil is the end of the last completed release bucket at now.
func (s *Service) PublishedUntil(now timebucket.Instant) timebucket.Instant {
	return now.RoundToBucketStart(s.opts.ReleaseBucket)
}

// Build returns the export for req up to the last completed bucket.
func (s *Service) Build(ctx context.Context, req Request) (*Export, error) {
	now := s.opts.Clock.Now()
	until := s.PublishedUntil(now)

	key := req.cacheKey(until)
	if s.cache != nil {
		if e, ok := s.cache.Get(key); ok {
			metrics.ExportCacheHits.WithLabelValues("hit").Inc()
			return e, nil
		}
		metrics.ExportCacheHits.WithLabelValues("miss").Inc()
	}

	keys, err := s.store.Query(ctx, models.KeyQuery{
		KeyDate:          req.KeyDate,
		PublishedAfter:   req.PublishedAfter,
		PublishedUntil:   until,
		Now:              now,
		IncludeFederated: req.IncludeFederated,
	})
	if err != nil {
		return nil, err
	}

	var start timebucket.Instant
	if req.PublishedAfter != nil {
		start = *req.PublishedAfter
	}
	info := signatureInfo{keyVersion: s.opts.KeyVersion, keyID: s.signer.KeyID(), algorithm: s.signer.Algorithm()}
	body := encodeExport(uint64(start.Millis()/1000), uint64(until.Millis()/1000), s.opts.Region, info, keys)
	sig, err := s.signer.Sign(body)
	if err != nil {
		return nil, ErrExport.MsgErr("unable to sign export", err)
	}
	sum := sha256.Sum256(body)
	e := &Export{
		Body:           body,
		Signature:      sig,
		KeyID:          s.signer.KeyID(),
		Algorithm:      s.signer.Algorithm(),
		PublishedUntil: until,
		Keys:           len(keys),
		ETag:           `"` + hex.EncodeToString(sum[:16]) + `"`,
	}
	if s.cache != nil {
		s.cache.Add(key, e)
	}
	log.Ctx(ctx).Debug().
		Int("keys", len(keys)).
		Str("published_until", until.String()).
		Msg("built export")
	return e, nil
}

// Purge drops all cached exports, for example after a retention cleanup.
func (s *Service) Purge() {
	if s.cache != nil {
		s.cache.Purge()
	}
}
