package handlers

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/exposurekeys/keyserver/internal/common/httpx"
	"github.com/exposurekeys/keyserver/internal/keyserver/export"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/exposurekeys/keyserver/pkg/api"
	"github.com/go-chi/chi/v5"
)

// parseInstant reads epoch milliseconds aligned to align.
func parseInstant(s, name string, align int64) (timebucket.Instant, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms < 0 {
		return 0, httpx.ErrInvalidRequest(name + " must be epoch milliseconds")
	}
	if align > 0 && ms%align != 0 {
		return 0, httpx.ErrInvalidRequest(name + " is not aligned")
	}
	return timebucket.FromMillis(ms), nil
}

func international(r *http.Request, def bool) bool {
	v := r.URL.Query().Get("international")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (h *Handler) keyFileResponse(e *export.Export, extra http.Header) *httpx.Response {
	now := h.opts.Clock.Now()
	maxAge := int64(now.RoundToNextBucket(h.opts.ReleaseBucket).Sub(now).Seconds())

	header := http.Header{}
	header.Set(api.HeaderSignature, base64.StdEncoding.EncodeToString(e.Signature))
	header.Set(api.HeaderKeyID, e.KeyID)
	header.Set(api.HeaderPublishedUntil, strconv.FormatInt(e.PublishedUntil.Millis(), 10))
	header.Set("ETag", e.ETag)
	header.Set("Cache-Control", "public, max-age="+strconv.FormatInt(maxAge, 10))
	for k, v := range extra {
		header[k] = v
	}

	rsp := &httpx.Response{StatusCode: http.StatusOK, ContentType: httpx.ContentTypeProtobuf, Header: header, Response: e.Body}
	if e.Keys == 0 {
		rsp.StatusCode = http.StatusNoContent
		rsp.Response = nil
	}
	return rsp
}

func (h *Handler) getKeysForDate(r *http.Request) (*httpx.Response, error) {
	now := h.opts.Clock.Now()
	keyDate, err := parseInstant(chi.URLParam(r, "keyDate"), "keyDate", timebucket.Day.Milliseconds())
	if err != nil {
		return nil, err
	}
	if keyDate.After(now) || keyDate.Before(now.AtStartOfDay().Minus(h.opts.Retention)) {
		return nil, httpx.ErrInvalidRequest("keyDate is outside the retention period")
	}

	req := export.Request{KeyDate: &keyDate, IncludeFederated: international(r, false)}
	if s := r.URL.Query().Get("publishedafter"); s != "" {
		after, err := parseInstant(s, "publishedafter", h.opts.ReleaseBucket.Milliseconds())
		if err != nil {
			return nil, err
		}
		req.PublishedAfter = &after
	}

	e, err := h.exporter.Build(r.Context(), req)
	if err != nil {
		return nil, err
	}
	return h.keyFileResponse(e, nil), nil
}

func (h *Handler) getKeys(r *http.Request) (*httpx.Response, error) {
	req := export.Request{IncludeFederated: international(r, true)}
	if s := r.URL.Query().Get("lastKeyBundleTag"); s != "" {
		after, err := parseInstant(s, "lastKeyBundleTag", h.opts.ReleaseBucket.Milliseconds())
		if err != nil {
			return nil, err
		}
		req.PublishedAfter = &after
	}

	e, err := h.exporter.Build(r.Context(), req)
	if err != nil {
		return nil, err
	}
	extra := http.Header{}
	extra.Set(api.HeaderKeyBundleTag, strconv.FormatInt(e.PublishedUntil.Millis(), 10))
	return h.keyFileResponse(e, extra), nil
}
