// Package federation exchanges diagnosis keys with federation gateways: a paginated
// download of the keys of each date and a signed upload of the keys shared by this
// server.
package federation

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/exposurekeys/keyserver/internal/common/httpclient"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/federation/wire"
	"github.com/exposurekeys/keyserver/internal/keyserver/signing"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const (
	ContentTypeBatch = "application/protobuf; version=1.0"

	HeaderBatchTag       = "batchTag"
	HeaderNextBatchTag   = "nextBatchTag"
	HeaderBatchSignature = "batchSignature"

	// noBatchTag is sent by gateways in nextBatchTag on the last page of a date.
	noBatchTag = "null"

	downloadPath = "/diagnosiskeys/download/"
	uploadPath   = "/diagnosiskeys/upload"
)

// DownloadResult is one page of a date.
type DownloadResult struct {
	BatchTag     string
	NextBatchTag string
	Keys         []models.Key
	// Last is set on the final page, including when the gateway has nothing for the date.
	Last bool
}

// UploadBatch is one chunk of keys sent to a gateway.
type UploadBatch struct {
	BatchTag string
	Keys     []models.Key
}

// Client speaks the gateway protocol.
type Client interface {
	// Download fetches the page of date identified by batchTag, or the first page if
	// batchTag is empty.
	Download(ctx context.Context, date timebucket.Instant, batchTag string) (*DownloadResult, error)
	// Upload sends a batch and returns the keys the gateway holds afterwards.
	Upload(ctx context.Context, batch *UploadBatch) ([]models.Key, error)
}

// HTTPClient is the Client of an EFGS style gateway.
type HTTPClient struct {
	gateway string
	doer    httpclient.Doer
	signer  signing.Signer
	origin  string
	visited []string
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client for gateway. signer may be nil for download-only
// gateways. Uploaded keys carry origin and visited.
func NewHTTPClient(gateway string, doer httpclient.Doer, signer signing.Signer, origin string, visited []string) *HTTPClient {
	return &HTTPClient{
		gateway: gateway,
		doer:    doer,
		signer:  signer,
		origin:  origin,
		visited: visited,
	}
}

func (c *HTTPClient) Download(ctx context.Context, date timebucket.Instant, batchTag string) (*DownloadResult, error) {
	req := httpclient.RequestOptions{
		Method: http.MethodGet,
		Path:   downloadPath + date.Date(),
		Accept: ContentTypeBatch,
	}
	if batchTag != "" {
		req.Header = http.Header{HeaderBatchTag: []string{batchTag}}
	}

	rsp, err := c.doer.Do(ctx, req)
	if httpclient.IsStatus(err, http.StatusNotFound, http.StatusGone) {
		log.Ctx(ctx).Debug().Str("gateway", c.gateway).Str("date", date.Date()).Msg("no more batches")
		return &DownloadResult{BatchTag: batchTag, Last: true}, nil
	}
	if err != nil {
		return nil, ErrGateway.MsgErr("download failed", err)
	}

	batch, err := wire.Unmarshal(rsp.Body)
	if err != nil {
		return nil, ErrInvalidBatch.Err(err)
	}
	res := &DownloadResult{
		BatchTag:     rsp.Header.Get(HeaderBatchTag),
		NextBatchTag: rsp.Header.Get(HeaderNextBatchTag),
	}
	if res.BatchTag == "" {
		res.BatchTag = batchTag
	}
	if res.NextBatchTag == noBatchTag {
		res.NextBatchTag = ""
	}
	res.Last = res.NextBatchTag == ""
	res.Keys = make([]models.Key, 0, len(batch.Keys))
	for _, k := range batch.Keys {
		res.Keys = append(res.Keys, fromWire(k))
	}
	return res, nil
}

func (c *HTTPClient) Upload(ctx context.Context, batch *UploadBatch) ([]models.Key, error) {
	if len(batch.Keys) == 0 {
		return nil, nil
	}
	if c.signer == nil {
		return nil, ErrSigning.Msg("no signing key configured")
	}
	keys := make([]wire.DiagnosisKey, len(batch.Keys))
	for i, k := range batch.Keys {
		keys[i] = toWire(k, c.origin, c.visited)
	}
	sig, err := c.signer.Sign(signingBytes(keys))
	if err != nil {
		return nil, ErrSigning.Err(err)
	}

	body := (&wire.DiagnosisKeyBatch{Keys: keys}).Marshal()
	rsp, err := c.doer.Do(ctx, httpclient.RequestOptions{
		Method:      http.MethodPost,
		Path:        uploadPath,
		Body:        body,
		ContentType: ContentTypeBatch,
		Header: http.Header{
			HeaderBatchTag:       []string{batch.BatchTag},
			HeaderBatchSignature: []string{base64.StdEncoding.EncodeToString(sig)},
		},
	})
	if err != nil {
		return nil, ErrGateway.MsgErr("upload failed", err)
	}

	switch rsp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		return batch.Keys, nil
	case http.StatusMultiStatus:
		failed := failedIndices(rsp.Body)
		accepted := make([]models.Key, 0, len(batch.Keys))
		for i, k := range batch.Keys {
			if !failed[i] {
				accepted = append(accepted, k)
			}
		}
		log.Ctx(ctx).Info().
			Str("gateway", c.gateway).
			Str("batch_tag", batch.BatchTag).
			Int("accepted", len(accepted)).
			Int("failed", len(batch.Keys)-len(accepted)).
			Msg("partial upload")
		return accepted, nil
	}
	return nil, ErrGateway.Msgf("unexpected upload status %d", rsp.StatusCode)
}

// failedIndices reads a multi-status body mapping status codes to key indices.
// Keys reported as conflicts are already stored by the gateway and count as accepted.
func failedIndices(body []byte) map[int]bool {
	failed := map[int]bool{}
	gjson.ParseBytes(body).ForEach(func(status, indices gjson.Result) bool {
		code, err := strconv.Atoi(status.String())
		if err != nil || code < 400 || code == http.StatusConflict {
			return true
		}
		for _, i := range indices.Array() {
			failed[int(i.Int())] = true
		}
		return true
	})
	return failed
}
