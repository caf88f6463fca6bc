// Package storetest holds the behavioural test suite every store backend must pass.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/exposurekeys/keyserver/internal/keyserver/db/dberror"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Store is the union of the key store and sync log contracts.
type Store interface {
	Upsert(ctx context.Context, keys []models.Key, receivedAt timebucket.Instant, origin string, share bool) error
	Query(ctx context.Context, q models.KeyQuery) ([]models.StoredKey, error)
	SelectUnshared(ctx context.Context, origin string) ([]models.StoredKey, error)
	MarkUploaded(ctx context.Context, keys []models.Key, batchTag string) error
	CleanUp(ctx context.Context, retention time.Duration) (int64, error)
	Append(ctx context.Context, e *models.SyncLogEntry) error
	LatestDownload(ctx context.Context, gateway string, date timebucket.Instant) (*models.SyncLogEntry, error)
	List(ctx context.Context, gateway string, since timebucket.Instant, limit int) ([]*models.SyncLogEntry, error)
}

const (
	OwnOrigin = "CH"
	TimeSkew  = 2 * time.Hour
	Bucket    = 2 * time.Hour
)

// Factory returns an empty store configured with OwnOrigin and TimeSkew reading clock.
type Factory func(t *testing.T, clock timebucket.Clock) Store

// Day is the key date used throughout the suite.
var Day = timebucket.Of(time.Date(2020, 8, 1, 0, 0, 0, 0, time.UTC))

var seq byte

// NewKey returns a full-day key starting on day with distinct key data.
func NewKey(day timebucket.Instant) models.Key {
	seq++
	data := make([]byte, models.KeyDataLength)
	for i := range data {
		data[i] = seq
	}
	data[0] = byte(day.ToRollingUnits())
	return models.Key{
		KeyData:            data,
		RollingStartNumber: day.ToRollingUnits(),
		RollingPeriod:      models.MaxRollingPeriod,
		ReportType:         models.ReportTypeConfirmedTest,
	}
}

func receivedAt(now timebucket.Instant) timebucket.Instant {
	return now.RoundToNextBucket(Bucket).Minus(timebucket.Tick)
}

func queryUntil(ctx context.Context, t *testing.T, s Store, after *timebucket.Instant, until timebucket.Instant) []models.StoredKey {
	t.Helper()
	keys, err := s.Query(ctx, models.KeyQuery{PublishedAfter: after, PublishedUntil: until, Now: until, IncludeFederated: true})
	require.NoError(t, err)
	return keys
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("upsert is idempotent and first write wins", func(t *testing.T) {
		clock := timebucket.NewFixedClock(Day.Plus(36 * time.Hour))
		s := newStore(t, clock)
		k1, k2 := NewKey(Day), NewKey(Day)
		recv := receivedAt(clock.Now())
		require.NoError(t, s.Upsert(ctx, []models.Key{k1, k2}, recv, OwnOrigin, true))
		require.NoError(t, s.Upsert(ctx, []models.Key{k1, k2}, recv.Plus(Bucket), "DE", false))

		keys := queryUntil(ctx, t, s, nil, clock.Now().Plus(30*24*time.Hour))
		require.Len(t, keys, 2)
		for _, k := range keys {
			assert.Equal(t, OwnOrigin, k.Origin)
			assert.Equal(t, recv, k.ReceivedAt)
			assert.True(t, k.ShareWithFederationGateway)
			assert.Nil(t, k.BatchTag)
		}
		assert.Greater(t, keys[0].ID, keys[1].ID)
	})

	t.Run("batch with empty key data stores nothing", func(t *testing.T) {
		clock := timebucket.NewFixedClock(Day.Plus(36 * time.Hour))
		s := newStore(t, clock)
		bad := NewKey(Day)
		bad.KeyData = nil
		err := s.Upsert(ctx, []models.Key{NewKey(Day), bad, NewKey(Day)}, receivedAt(clock.Now()), OwnOrigin, true)
		assert.ErrorIs(t, err, dberror.ErrInvalidInput)
		assert.Empty(t, queryUntil(ctx, t, s, nil, clock.Now().Plus(30*24*time.Hour)))
	})

	t.Run("live key is embargoed until expiry", func(t *testing.T) {
		clock := timebucket.NewFixedClock(Day.Plus(10 * time.Hour))
		s := newStore(t, clock)
		k := NewKey(Day)
		recv := receivedAt(clock.Now())
		require.NoError(t, s.Upsert(ctx, []models.Key{k}, recv, OwnOrigin, false))

		expiry := k.Expiry(TimeSkew)
		assert.Equal(t, Day.Plus(26*time.Hour), expiry)
		assert.Empty(t, queryUntil(ctx, t, s, nil, expiry.Minus(Bucket)))
		assert.Empty(t, queryUntil(ctx, t, s, nil, expiry))
		assert.Len(t, queryUntil(ctx, t, s, nil, expiry.Plus(Bucket)), 1)

		after := expiry
		assert.Len(t, queryUntil(ctx, t, s, &after, expiry.Plus(Bucket)), 1)
		after = expiry.Plus(Bucket)
		assert.Empty(t, queryUntil(ctx, t, s, &after, expiry.Plus(2*Bucket)))
	})

	t.Run("expired key is released with its receipt bucket", func(t *testing.T) {
		clock := timebucket.NewFixedClock(Day.Plus(3 * 24 * time.Hour).Plus(5 * time.Hour))
		s := newStore(t, clock)
		k := NewKey(Day)
		recv := receivedAt(clock.Now())
		require.NoError(t, s.Upsert(ctx, []models.Key{k}, recv, OwnOrigin, false))

		start := recv.RoundToBucketStart(Bucket)
		assert.Empty(t, queryUntil(ctx, t, s, nil, start))
		assert.Len(t, queryUntil(ctx, t, s, &start, start.Plus(Bucket)), 1)
	})

	t.Run("tiled windows release each key exactly once", func(t *testing.T) {
		clock := timebucket.NewFixedClock(Day.Plus(7 * time.Hour))
		s := newStore(t, clock)
		var all []models.Key
		for i := 0; i < 4; i++ {
			day := Day.Minus(time.Duration(i) * timebucket.Day)
			k := NewKey(day)
			all = append(all, k)
			recv := receivedAt(clock.Now().Plus(time.Duration(i) * 5 * time.Hour))
			require.NoError(t, s.Upsert(ctx, []models.Key{k}, recv, OwnOrigin, false))
		}
		seen := map[string]int{}
		from := Day.Minus(5 * timebucket.Day)
		for w := from; w.Before(Day.Plus(5 * timebucket.Day)); w = w.Plus(Bucket) {
			after := w
			for _, k := range queryUntil(ctx, t, s, &after, w.Plus(Bucket)) {
				seen[k.KeyDataBase64()]++
			}
		}
		require.Len(t, seen, len(all))
		for _, k := range all {
			assert.Equal(t, 1, seen[k.KeyDataBase64()], k.KeyDataBase64())
		}
	})

	t.Run("query clamps to now and filters by key date and origin", func(t *testing.T) {
		clock := timebucket.NewFixedClock(Day.Plus(3 * timebucket.Day))
		s := newStore(t, clock)
		own, other := NewKey(Day), NewKey(Day.Minus(timebucket.Day))
		foreign := NewKey(Day)
		recv := receivedAt(clock.Now())
		require.NoError(t, s.Upsert(ctx, []models.Key{own, other}, recv, OwnOrigin, false))
		require.NoError(t, s.Upsert(ctx, []models.Key{foreign}, recv, "DE", false))

		future := recv.Plus(10 * timebucket.Day)
		keys, err := s.Query(ctx, models.KeyQuery{PublishedUntil: future, Now: clock.Now()})
		require.NoError(t, err)
		assert.Empty(t, keys, "until must be clamped to now")

		now := recv.Plus(timebucket.Tick)
		keys, err = s.Query(ctx, models.KeyQuery{PublishedUntil: future, Now: now})
		require.NoError(t, err)
		assert.Len(t, keys, 2)

		keyDate := Day
		keys, err = s.Query(ctx, models.KeyQuery{KeyDate: &keyDate, PublishedUntil: future, Now: now})
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, own.KeyData, keys[0].KeyData)

		keys, err = s.Query(ctx, models.KeyQuery{KeyDate: &keyDate, PublishedUntil: future, Now: now, IncludeFederated: true})
		require.NoError(t, err)
		assert.Len(t, keys, 2)
	})

	t.Run("inverted window is empty", func(t *testing.T) {
		clock := timebucket.NewFixedClock(Day.Plus(3 * timebucket.Day))
		s := newStore(t, clock)
		require.NoError(t, s.Upsert(ctx, []models.Key{NewKey(Day)}, receivedAt(clock.Now()), OwnOrigin, false))
		after := clock.Now()
		keys, err := s.Query(ctx, models.KeyQuery{PublishedAfter: &after, PublishedUntil: after.Minus(timebucket.Day), Now: after})
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("unshared selection and marking", func(t *testing.T) {
		clock := timebucket.NewFixedClock(Day.Plus(12 * time.Hour))
		s := newStore(t, clock)
		expired, live := NewKey(Day.Minus(2*timebucket.Day)), NewKey(Day)
		private, foreign := NewKey(Day.Minus(2*timebucket.Day)), NewKey(Day.Minus(2*timebucket.Day))
		recv := receivedAt(clock.Now())
		require.NoError(t, s.Upsert(ctx, []models.Key{expired, live}, recv, OwnOrigin, true))
		require.NoError(t, s.Upsert(ctx, []models.Key{private}, recv, OwnOrigin, false))
		require.NoError(t, s.Upsert(ctx, []models.Key{foreign}, recv, "DE", true))

		keys, err := s.SelectUnshared(ctx, OwnOrigin)
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, expired.KeyData, keys[0].KeyData)

		require.NoError(t, s.MarkUploaded(ctx, []models.Key{expired}, "2020-08-01-a"))
		require.NoError(t, s.MarkUploaded(ctx, []models.Key{expired}, "2020-08-01-a"))
		require.NoError(t, s.MarkUploaded(ctx, []models.Key{expired}, "2020-08-01-b"))
		keys, err = s.SelectUnshared(ctx, OwnOrigin)
		require.NoError(t, err)
		assert.Empty(t, keys)

		clock.Advance(2 * timebucket.Day)
		keys, err = s.SelectUnshared(ctx, OwnOrigin)
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, live.KeyData, keys[0].KeyData)

		all := queryUntil(ctx, t, s, nil, clock.Now())
		for _, k := range all {
			if string(k.KeyData) == string(expired.KeyData) {
				require.NotNil(t, k.BatchTag)
				assert.Equal(t, "2020-08-01-a", *k.BatchTag)
			}
		}
	})

	t.Run("cleanup removes keys outside retention", func(t *testing.T) {
		clock := timebucket.NewFixedClock(Day)
		s := newStore(t, clock)
		old, fresh := NewKey(Day.Minus(timebucket.Day)), NewKey(Day)
		require.NoError(t, s.Upsert(ctx, []models.Key{old}, receivedAt(Day.Minus(20*timebucket.Day)), OwnOrigin, false))
		require.NoError(t, s.Upsert(ctx, []models.Key{fresh}, receivedAt(Day), OwnOrigin, false))

		n, err := s.CleanUp(ctx, 14*timebucket.Day)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = s.CleanUp(ctx, 14*timebucket.Day)
		require.NoError(t, err)
		assert.Zero(t, n)

		// a deleted key may be inserted again
		require.NoError(t, s.Upsert(ctx, []models.Key{old}, receivedAt(Day), OwnOrigin, false))
	})

	t.Run("sync log resume lookup", func(t *testing.T) {
		clock := timebucket.NewFixedClock(Day)
		s := newStore(t, clock)
		date := Day.Time()
		other := Day.Minus(timebucket.Day).Time()
		entries := []models.SyncLogEntry{
			{Gateway: "efgs", Action: models.SyncActionDownload, BatchTag: "t1", TargetDate: &date, State: models.SyncStateDone},
			{Gateway: "efgs", Action: models.SyncActionDownload, BatchTag: "t2", TargetDate: &date, State: models.SyncStateDone},
			{Gateway: "efgs", Action: models.SyncActionDownload, BatchTag: "t3", TargetDate: &date, State: models.SyncStateError},
			{Gateway: "efgs", Action: models.SyncActionDownload, BatchTag: "o1", TargetDate: &other, State: models.SyncStateDone},
			{Gateway: "other", Action: models.SyncActionDownload, BatchTag: "x1", TargetDate: &date, State: models.SyncStateDone},
			{Gateway: "efgs", Action: models.SyncActionUpload, BatchTag: "u1", State: models.SyncStateDone},
		}
		for i := range entries {
			e := entries[i]
			e.StartedAt = Day.Plus(time.Duration(i) * time.Minute).Time()
			e.EndedAt = e.StartedAt.Add(time.Second)
			require.NoError(t, e.SetDetails(models.SyncDetails{Keys: i, NextBatchTag: fmt.Sprintf("n%d", i)}))
			require.NoError(t, s.Append(ctx, &e))
			assert.NotZero(t, e.ID)
		}

		e, err := s.LatestDownload(ctx, "efgs", Day.Plus(5*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "t2", e.BatchTag)
		d, err := e.GetDetails()
		require.NoError(t, err)
		assert.Equal(t, 1, d.Keys)
		assert.Equal(t, "n1", d.NextBatchTag)

		_, err = s.LatestDownload(ctx, "efgs", Day.Plus(timebucket.Day))
		assert.ErrorIs(t, err, dberror.ErrNotFound)

		list, err := s.List(ctx, "efgs", Day, 0)
		require.NoError(t, err)
		require.Len(t, list, 5)
		assert.Equal(t, "u1", list[0].BatchTag)

		list, err = s.List(ctx, "", Day.Plus(3*time.Minute), 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "u1", list[0].BatchTag)
		assert.Equal(t, "x1", list[1].BatchTag)
	})
}
