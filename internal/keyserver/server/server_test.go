package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/exposurekeys/keyserver/internal/keyserver/handlers"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/exposurekeys/keyserver/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, store Pinger, opts Options) *httptest.Server {
	t.Helper()
	h := handlers.NewHandler(nil, nil, nil, handlers.Options{
		ReleaseBucket: 2 * time.Hour,
		Retention:     14 * timebucket.Day,
	})
	s := CreateNewServer(h, store, opts)
	s.MountHandlers()
	srv := httptest.NewServer(s.Router)
	t.Cleanup(srv.Close)
	return srv
}

func TestVersion(t *testing.T) {
	srv := newTestServer(t, fakePinger{}, Options{})
	resp, err := http.Get(srv.URL + "/version")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rsp api.VersionRsp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rsp))
	assert.Equal(t, ApiVersion, rsp.ApiVersion)
	assert.Contains(t, rsp.ServerVersion, Version)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{"ready", nil, http.StatusOK, "ready"},
		{"store down", errors.New("connection refused"), http.StatusServiceUnavailable, "not ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, fakePinger{err: tt.err}, Options{})
			resp, err := http.Get(srv.URL + "/ready")
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)

			var rsp api.ReadinessRsp
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&rsp))
			assert.Equal(t, tt.want, rsp.Status)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, fakePinger{}, Options{})
	_, err := http.Get(srv.URL + "/version")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `route="/version"`)
}

func TestCORS(t *testing.T) {
	preflight := func(srv *httptest.Server) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, srv.URL+"/v2/gaen/exposed", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "https://example.org")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	resp := preflight(newTestServer(t, fakePinger{}, Options{HandleCORS: true}))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(resp.Header.Get("Access-Control-Allow-Methods"), http.MethodGet))

	resp = preflight(newTestServer(t, fakePinger{}, Options{}))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, fakePinger{}, Options{RequestTimeout: time.Second})
	resp, err := http.Get(srv.URL + "/v3/nothing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
