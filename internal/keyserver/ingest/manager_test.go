package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/exposurekeys/keyserver/internal/keyserver/auth"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/memstore"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucket = 2 * time.Hour

func newTestManager(t *testing.T, now timebucket.Instant) (*Manager, *memstore.Store) {
	t.Helper()
	clock := timebucket.NewFixedClock(now)
	store := memstore.New("CH", 2*time.Hour, clock)
	return NewManager(store, testPipeline(t), clock, bucket), store
}

func TestReceivedAt(t *testing.T) {
	start := date(t, "2020-08-10").Plus(4 * time.Hour)
	assert.Equal(t, start.Plus(bucket).Minus(timebucket.Tick), ReceivedAt(start, bucket))
	assert.Equal(t, start.Plus(bucket).Minus(timebucket.Tick), ReceivedAt(start.Plus(bucket-timebucket.Tick), bucket))
}

func TestManagerInsert(t *testing.T) {
	ctx := context.Background()
	now := date(t, "2020-08-10").Plus(5 * time.Hour)
	m, store := newTestManager(t, now)

	ic := &InsertContext{
		Principal: &auth.Principal{Scope: auth.ScopeExposed},
		Origin:    "CH",
		Share:     true,
	}
	fake := key(date(t, "2020-08-09"))
	fake.Fake = true
	inserted, err := m.Insert(ctx, []models.Key{key(date(t, "2020-08-08")), fake}, ic)
	require.NoError(t, err)
	assert.Len(t, inserted, 1)

	stored := store.Keys()
	require.Len(t, stored, 1)
	assert.Equal(t, "CH", stored[0].Origin)
	assert.True(t, stored[0].ShareWithFederationGateway)
	assert.Equal(t, date(t, "2020-08-10").Plus(6*time.Hour).Minus(timebucket.Tick), stored[0].ReceivedAt)
	assert.Equal(t, models.ReportTypeConfirmedTest, stored[0].ReportType)
	assert.False(t, stored[0].Fake)
}

func TestManagerInsertFakeRequest(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, date(t, "2020-08-10"))

	fake := key(date(t, "2020-08-09"))
	fake.Fake = true
	ic := &InsertContext{Principal: &auth.Principal{Scope: auth.ScopeExposed, Fake: true}, Origin: "CH"}
	inserted, err := m.Insert(ctx, []models.Key{fake}, ic)
	require.NoError(t, err)
	assert.Empty(t, inserted)
	assert.Equal(t, 0, store.Len())

	_, err = m.Insert(ctx, []models.Key{key(date(t, "2020-08-09"))}, ic)
	assert.ErrorIs(t, err, ErrFakeMismatch)
	assert.Equal(t, 0, store.Len())
}

func TestManagerInsertFederation(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, date(t, "2020-08-10"))

	de := withDSOS(key(date(t, "2020-08-07")), 0)
	de.Origin = "DE"
	at := withDSOS(key(date(t, "2020-08-07")), 1)
	at.Origin = "AT"
	noOrigin := withDSOS(key(date(t, "2020-08-07")), 2)

	_, err := m.Insert(ctx, []models.Key{de, at, noOrigin}, &InsertContext{Federation: true, Origin: "EU"})
	require.NoError(t, err)

	origins := map[string]bool{}
	for _, k := range store.Keys() {
		origins[k.Origin] = true
		assert.False(t, k.ShareWithFederationGateway)
	}
	assert.Equal(t, map[string]bool{"DE": true, "AT": true, "EU": true}, origins)
}

func TestManagerInsertWithReceivedAt(t *testing.T) {
	ctx := context.Background()
	now := date(t, "2020-08-10").Plus(time.Hour)
	m, store := newTestManager(t, now)

	delayed := date(t, "2020-08-10")
	receivedAt := date(t, "2020-08-11").Plus(2 * time.Hour)
	ic := &InsertContext{Principal: &auth.Principal{Scope: auth.ScopeCurrentDayExposed, DelayedKeyDate: &delayed}, Origin: "CH"}
	_, err := m.InsertWithReceivedAt(ctx, []models.Key{key(delayed)}, ic, receivedAt)
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())
	assert.Equal(t, receivedAt, store.Keys()[0].ReceivedAt)
}

func TestDecodeKeyData(t *testing.T) {
	b, err := DecodeKeyData("AAECAwQFBgcICQoLDA0ODw==")
	require.NoError(t, err)
	assert.Len(t, b, 16)

	_, err = DecodeKeyData("%%%")
	assert.ErrorIs(t, err, ErrInvalidKeyFormat)
}
