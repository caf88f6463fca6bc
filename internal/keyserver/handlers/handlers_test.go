package handlers

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/exposurekeys/keyserver/internal/keyserver/auth"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/memstore"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/export"
	"github.com/exposurekeys/keyserver/internal/keyserver/ingest"
	"github.com/exposurekeys/keyserver/internal/keyserver/signing"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/exposurekeys/keyserver/pkg/api"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucket = 2 * time.Hour

type testServer struct {
	srv       *httptest.Server
	client    *api.Client
	store     *memstore.Store
	clock     *timebucket.FixedClock
	tokenKey  ed25519.PrivateKey
	exportKey ed25519.PublicKey
}

func date(t *testing.T, s string) timebucket.Instant {
	t.Helper()
	d, err := timebucket.ParseDate(s)
	require.NoError(t, err)
	return d
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	tokenPub, tokenPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	exportPub, exportPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	clock := timebucket.NewFixedClock(date(t, "2020-08-10").Plus(5 * time.Hour))
	store := memstore.New("CH", 2*time.Hour, clock)
	manager := ingest.NewManager(store, ingest.NewDefaultPipeline(ingest.Options{Retention: 14 * timebucket.Day}), clock, bucket)
	exporter, err := export.NewService(store, signing.NewEd25519Signer(exportPriv, "228"), export.Options{
		Region:        "CH",
		KeyVersion:    "v1",
		ReleaseBucket: bucket,
		Clock:         clock,
	})
	require.NoError(t, err)

	h := NewHandler(manager, exporter, auth.NewVerifier(tokenPub, time.Minute), Options{
		Origin:        "CH",
		Share:         true,
		ReleaseBucket: bucket,
		Retention:     14 * timebucket.Day,
		MaxBodySize:   1 << 16,
		Clock:         clock,
	})
	r := chi.NewRouter()
	h.Router(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	client, err := api.NewClient(srv.URL, api.WithUserAgent("ch.admin.bag.dp3t;1.0.7;200724.1105.215;iOS;13.6"))
	require.NoError(t, err)
	return &testServer{srv: srv, client: client, store: store, clock: clock, tokenKey: tokenPriv, exportKey: exportPub}
}

func (s *testServer) token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	claims["exp"] = time.Now().Add(time.Hour).Unix()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.tokenKey)
	require.NoError(t, err)
	return tok
}

var keySeq byte

func gaenKey(day timebucket.Instant) api.GaenKey {
	keySeq++
	data := make([]byte, models.KeyDataLength)
	for i := range data {
		data[i] = keySeq
	}
	return api.GaenKey{
		KeyData:            base64.StdEncoding.EncodeToString(data),
		RollingStartNumber: day.ToRollingUnits(),
		RollingPeriod:      144,
	}
}

func TestUploadAndDownload(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	tok := s.token(t, jwt.MapClaims{"scope": auth.ScopeExposed, "onset": "2020-08-05"})

	fake := gaenKey(date(t, "2020-08-07"))
	fake.Fake = 1
	err := s.client.UploadKeys(ctx, tok, &api.GaenRequest{
		GaenKeys:       []api.GaenKey{gaenKey(date(t, "2020-08-08")), gaenKey(date(t, "2020-08-09")), fake},
		DelayedKeyDate: date(t, "2020-08-10").ToRollingUnits(),
	})
	require.NoError(t, err)
	require.Len(t, s.store.Keys(), 2)

	keyDate := date(t, "2020-08-08").Time()
	kf, err := s.client.KeysForDate(ctx, keyDate, nil)
	require.NoError(t, err)
	assert.True(t, kf.NotModified, "keys are held back until their bucket has passed")
	assert.Equal(t, date(t, "2020-08-10").Plus(4*time.Hour).Time(), kf.PublishedUntil)

	s.clock.Set(date(t, "2020-08-10").Plus(8 * time.Hour))
	kf, err = s.client.KeysForDate(ctx, keyDate, nil)
	require.NoError(t, err)
	require.False(t, kf.NotModified)
	assert.Equal(t, "228", kf.KeyID)
	assert.True(t, ed25519.Verify(s.exportKey, kf.Body, kf.Signature))
	keys, err := export.DecodeKeys(kf.Body)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	kf, err = s.client.Keys(ctx, "")
	require.NoError(t, err)
	keys, err = export.DecodeKeys(kf.Body)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	tag := strconv.FormatInt(kf.PublishedUntil.UnixMilli(), 10)
	kf, err = s.client.Keys(ctx, tag)
	require.NoError(t, err)
	assert.True(t, kf.NotModified)
}

func TestUploadAuthorization(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	req := &api.GaenRequest{GaenKeys: []api.GaenKey{gaenKey(date(t, "2020-08-08"))}}

	err := s.client.UploadKeys(ctx, "", req)
	assert.ErrorContains(t, err, "status 401")

	tok := s.token(t, jwt.MapClaims{"scope": auth.ScopeCurrentDayExposed, "delayedKeyDate": date(t, "2020-08-10").ToRollingUnits()})
	err = s.client.UploadKeys(ctx, tok, req)
	assert.ErrorContains(t, err, "status 403")
	assert.Empty(t, s.store.Keys())
}

func TestUploadValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	tok := s.token(t, jwt.MapClaims{"scope": auth.ScopeExposed})

	tooMany := make([]api.GaenKey, 31)
	for i := range tooMany {
		tooMany[i] = gaenKey(date(t, "2020-08-08"))
	}
	badData := gaenKey(date(t, "2020-08-08"))
	badData.KeyData = base64.StdEncoding.EncodeToString([]byte("short"))
	badPeriod := gaenKey(date(t, "2020-08-08"))
	badPeriod.RollingPeriod = 145

	tests := []struct {
		name string
		req  *api.GaenRequest
	}{
		{"no keys", &api.GaenRequest{}},
		{"too many keys", &api.GaenRequest{GaenKeys: tooMany}},
		{"short key data", &api.GaenRequest{GaenKeys: []api.GaenKey{badData}}},
		{"rolling period out of range", &api.GaenRequest{GaenKeys: []api.GaenKey{badPeriod}}},
		{"delayed key date far away", &api.GaenRequest{
			GaenKeys:       []api.GaenKey{gaenKey(date(t, "2020-08-08"))},
			DelayedKeyDate: date(t, "2020-08-01").ToRollingUnits(),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.client.UploadKeys(ctx, tok, tt.req)
			assert.ErrorContains(t, err, "status 400")
		})
	}
	assert.Empty(t, s.store.Keys())
}

func TestUploadDelayedKey(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	today := date(t, "2020-08-10")
	tok := s.token(t, jwt.MapClaims{"scope": auth.ScopeCurrentDayExposed, "delayedKeyDate": today.ToRollingUnits()})

	err := s.client.UploadDelayedKey(ctx, tok, &api.GaenSecondDay{DelayedKey: gaenKey(today)})
	require.NoError(t, err)

	stored := s.store.Keys()
	require.Len(t, stored, 1)
	assert.Equal(t, today.Plus(timebucket.Day).Plus(bucket).Minus(timebucket.Tick), stored[0].ReceivedAt)

	err = s.client.UploadDelayedKey(ctx, tok, &api.GaenSecondDay{DelayedKey: gaenKey(date(t, "2020-08-09"))})
	require.NoError(t, err)
	assert.Len(t, s.store.Keys(), 1, "keys of other dates do not match the token")
}

func TestGetKeysValidation(t *testing.T) {
	s := newTestServer(t)
	today := date(t, "2020-08-10")
	ms := func(i timebucket.Instant) string { return strconv.FormatInt(i.Millis(), 10) }

	tests := []struct {
		name string
		path string
		want int
	}{
		{"key date", "/v1/gaen/exposed/" + ms(today.Minus(timebucket.Day)), http.StatusNoContent},
		{"key date not midnight", "/v1/gaen/exposed/" + ms(today.Plus(time.Hour)), http.StatusBadRequest},
		{"key date not a number", "/v1/gaen/exposed/yesterday", http.StatusBadRequest},
		{"key date outside retention", "/v1/gaen/exposed/" + ms(today.Minus(20*timebucket.Day)), http.StatusBadRequest},
		{"key date in the future", "/v1/gaen/exposed/" + ms(today.Plus(timebucket.Day)), http.StatusBadRequest},
		{"published after unaligned", "/v1/gaen/exposed/" + ms(today) + "?publishedafter=" + ms(today.Plus(time.Hour)), http.StatusBadRequest},
		{"published after aligned", "/v1/gaen/exposed/" + ms(today) + "?publishedafter=" + ms(today.Plus(bucket)), http.StatusNoContent},
		{"bundle tag garbage", "/v2/gaen/exposed?lastKeyBundleTag=abc", http.StatusBadRequest},
		{"bundle tag", "/v2/gaen/exposed?lastKeyBundleTag=" + ms(today) + "&international=false", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(s.srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
			if tt.want == http.StatusNoContent {
				assert.True(t, strings.HasPrefix(resp.Header.Get("Cache-Control"), "public, max-age="))
				assert.NotEmpty(t, resp.Header.Get(api.HeaderPublishedUntil))
			}
		})
	}
}
