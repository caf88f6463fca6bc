package httpclient

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(Options{
		BaseURL:    "https://gateway.example.org/api",
		APIKey:     "k1",
		UserAgent:  "keyserver-test",
		Attempts:   3,
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	httpmock.ActivateNonDefault(c.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestDoSetsHeadersAndPath(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, "https://gateway.example.org/api/diagnosiskeys/download/2020-08-01",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer k1", req.Header.Get("Authorization"))
			assert.Equal(t, "keyserver-test", req.Header.Get("User-Agent"))
			assert.Equal(t, "tag-1", req.Header.Get("batchTag"))
			assert.Equal(t, "application/protobuf", req.Header.Get("Accept"))
			rsp := httpmock.NewBytesResponse(http.StatusOK, []byte{1, 2, 3})
			rsp.Header.Set("nextBatchTag", "tag-2")
			return rsp, nil
		})

	h := http.Header{}
	h.Set("batchTag", "tag-1")
	rsp, err := c.Do(context.Background(), RequestOptions{
		Method: http.MethodGet,
		Path:   "diagnosiskeys/download/2020-08-01",
		Header: h,
		Accept: "application/protobuf",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, rsp.Body)
	assert.Equal(t, "tag-2", rsp.Header.Get("nextBatchTag"))
}

func TestDoRetriesServerErrors(t *testing.T) {
	c := newTestClient(t)
	url := "https://gateway.example.org/api/upload"
	calls := 0
	httpmock.RegisterResponder(http.MethodPost, url, func(req *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return httpmock.NewStringResponse(http.StatusServiceUnavailable, `{"message":"busy"}`), nil
		}
		return httpmock.NewStringResponse(http.StatusCreated, ""), nil
	})

	rsp, err := c.Do(context.Background(), RequestOptions{Method: http.MethodPost, Path: "/upload", Body: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, rsp.StatusCode)
	assert.Equal(t, 3, calls)
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, "https://gateway.example.org/api/download",
		httpmock.NewStringResponder(http.StatusGone, `{"error":"date too old"}`))

	_, err := c.Do(context.Background(), RequestOptions{Method: http.MethodGet, Path: "download"})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound, http.StatusGone))
	assert.False(t, IsStatus(err, http.StatusNotFound))
	assert.Contains(t, err.Error(), "date too old")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, "https://gateway.example.org/api/download",
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream down"))

	_, err := c.Do(context.Background(), RequestOptions{Method: http.MethodGet, Path: "download"})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusBadGateway))
	assert.Contains(t, err.Error(), "upstream down")
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Options{BaseURL: "gateway"})
	assert.Error(t, err)
	_, err = New(Options{BaseURL: "https://gateway.example.org", ClientCertFile: "missing.crt", ClientKeyFile: "missing.key"})
	assert.Error(t, err)
}
