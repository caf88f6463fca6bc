package export

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/exposurekeys/keyserver/internal/keyserver/db/memstore"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/signing"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucket = 2 * time.Hour

func testKey(b byte, day timebucket.Instant) models.Key {
	data := make([]byte, models.KeyDataLength)
	for i := range data {
		data[i] = b
	}
	dsos := int32(-2)
	return models.Key{
		KeyData:               data,
		RollingStartNumber:    day.ToRollingUnits(),
		RollingPeriod:         models.MaxRollingPeriod,
		TransmissionRiskLevel: 4,
		ReportType:            models.ReportTypeConfirmedTest,
		DaysSinceOnset:        &dsos,
	}
}

func setup(t *testing.T, cacheSize int) (*Service, *memstore.Store, *timebucket.FixedClock, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	day, err := timebucket.ParseDate("2020-08-01")
	require.NoError(t, err)
	clock := timebucket.NewFixedClock(day.Plus(3 * timebucket.Day))
	store := memstore.New("CH", 2*time.Hour, clock)
	s, err := NewService(store, signing.NewEd25519Signer(priv, "228"), Options{
		Region:        "CH",
		KeyVersion:    "v1",
		ReleaseBucket: bucket,
		CacheSize:     cacheSize,
		Clock:         clock,
	})
	require.NoError(t, err)
	return s, store, clock, pub
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	s, store, clock, pub := setup(t, 0)
	day, _ := timebucket.ParseDate("2020-08-01")

	received := clock.Now().Minus(time.Hour)
	require.NoError(t, store.Upsert(ctx, []models.Key{testKey(1, day), testKey(2, day.Plus(timebucket.Day))}, received, "CH", true))
	require.NoError(t, store.Upsert(ctx, []models.Key{testKey(3, day)}, received, "DE", false))

	e, err := s.Build(ctx, Request{KeyDate: &day})
	require.NoError(t, err)
	assert.Equal(t, 1, e.Keys)
	assert.Equal(t, "228", e.KeyID)
	assert.Equal(t, signing.AlgorithmEd25519, e.Algorithm)
	assert.Equal(t, clock.Now().RoundToBucketStart(bucket), e.PublishedUntil)
	assert.True(t, ed25519.Verify(pub, e.Body, e.Signature))
	assert.NotEmpty(t, e.ETag)

	keys, err := DecodeKeys(e.Body)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, byte(1), keys[0].KeyData[0])
	assert.Equal(t, day.ToRollingUnits(), keys[0].RollingStartNumber)
	assert.Equal(t, int32(144), keys[0].RollingPeriod)
	assert.Equal(t, int32(4), keys[0].TransmissionRiskLevel)
	assert.Equal(t, models.ReportTypeConfirmedTest, keys[0].ReportType)
	require.NotNil(t, keys[0].DaysSinceOnset)
	assert.Equal(t, int32(-2), *keys[0].DaysSinceOnset)

	all, err := s.Build(ctx, Request{IncludeFederated: true})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Keys)

	after := e.PublishedUntil
	none, err := s.Build(ctx, Request{PublishedAfter: &after, IncludeFederated: true})
	require.NoError(t, err)
	assert.Equal(t, 0, none.Keys)
}

func TestBuildHoldsBackCurrentBucket(t *testing.T) {
	ctx := context.Background()
	s, store, clock, _ := setup(t, 0)
	day, _ := timebucket.ParseDate("2020-08-01")

	received := clock.Now().RoundToNextBucket(bucket).Minus(timebucket.Tick)
	require.NoError(t, store.Upsert(ctx, []models.Key{testKey(1, day)}, received, "CH", true))

	e, err := s.Build(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, 0, e.Keys)

	clock.Advance(bucket)
	e, err = s.Build(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, e.Keys)
}

func TestBuildCache(t *testing.T) {
	ctx := context.Background()
	s, store, clock, _ := setup(t, 4)
	day, _ := timebucket.ParseDate("2020-08-01")
	require.NoError(t, store.Upsert(ctx, []models.Key{testKey(1, day)}, clock.Now().Minus(time.Hour), "CH", true))

	first, err := s.Build(ctx, Request{})
	require.NoError(t, err)
	second, err := s.Build(ctx, Request{})
	require.NoError(t, err)
	assert.Same(t, first, second)

	clock.Advance(bucket)
	third, err := s.Build(ctx, Request{})
	require.NoError(t, err)
	assert.NotSame(t, first, third)

	s.Purge()
	fourth, err := s.Build(ctx, Request{})
	require.NoError(t, err)
	assert.NotSame(t, third, fourth)
	assert.Equal(t, third.Body, fourth.Body)
}

func TestDecodeKeysRejectsGarbage(t *testing.T) {
	_, err := DecodeKeys([]byte("not an export"))
	assert.ErrorIs(t, err, ErrInvalidExport)
}
