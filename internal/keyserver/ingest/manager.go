package ingest

import (
	"context"
	"encoding/base64"
	"sort"
	"time"

	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/metrics"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/rs/zerolog/log"
)

// Upserter is the part of the key store the manager writes to.
type Upserter interface {
	Upsert(ctx context.Context, keys []models.Key, receivedAt timebucket.Instant, origin string, share bool) error
}

// Manager runs batches through the pipeline and stores the survivors.
type Manager struct {
	store    Upserter
	pipeline *Pipeline
	clock    timebucket.Clock
	bucket   time.Duration
}

func NewManager(store Upserter, pipeline *Pipeline, clock timebucket.Clock, releaseBucket time.Duration) *Manager {
	if clock == nil {
		clock = timebucket.SystemClock{}
	}
	return &Manager{store: store, pipeline: pipeline, clock: clock, bucket: releaseBucket}
}

// ReceivedAt is the privacy-rounded receipt time of a batch inserted at now: the last
// millisecond of the current release bucket.
func ReceivedAt(now timebucket.Instant, bucket time.Duration) timebucket.Instant {
	return now.RoundToNextBucket(bucket).Minus(timebucket.Tick)
}

// Insert processes keys and stores the survivors with a rounded receipt time. It
// returns the stored keys.
func (m *Manager) Insert(ctx context.Context, keys []models.Key, ic *InsertContext) ([]models.Key, error) {
	return m.InsertWithReceivedAt(ctx, keys, ic, ReceivedAt(m.clock.Now(), m.bucket))
}

// InsertWithReceivedAt is Insert with an explicit receipt time, used for keys whose
// release is delayed past the current bucket.
func (m *Manager) InsertWithReceivedAt(ctx context.Context, keys []models.Key, ic *InsertContext, receivedAt timebucket.Instant) ([]models.Key, error) {
	if ic == nil {
		ic = &InsertContext{}
	}
	valid, err := m.pipeline.Process(ctx, m.clock.Now(), keys, ic)
	if err != nil {
		return nil, err
	}
	if len(valid) == 0 {
		log.Ctx(ctx).Debug().Int("received", len(keys)).Msg("no keys left to insert")
		return nil, nil
	}

	if !ic.Federation {
		if err := m.store.Upsert(ctx, valid, receivedAt, ic.Origin, ic.Share); err != nil {
			return nil, err
		}
	} else {
		byOrigin := make(map[string][]models.Key)
		for _, k := range valid {
			origin := k.Origin
			if origin == "" {
				origin = ic.Origin
			}
			byOrigin[origin] = append(byOrigin[origin], k)
		}
		origins := make([]string, 0, len(byOrigin))
		for o := range byOrigin {
			origins = append(origins, o)
		}
		sort.Strings(origins)
		for _, o := range origins {
			if err := m.store.Upsert(ctx, byOrigin[o], receivedAt, o, false); err != nil {
				return nil, err
			}
		}
	}
	metrics.KeysInserted.WithLabelValues(ic.path()).Add(float64(len(valid)))
	log.Ctx(ctx).Debug().
		Int("received", len(keys)).
		Int("inserted", len(valid)).
		Str("path", ic.path()).
		Msg("inserted keys")
	return valid, nil
}

// DecodeKeyData decodes standard base64 key data.
func DecodeKeyData(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidKeyFormat.Msg("key data is not valid base64")
	}
	return b, nil
}
