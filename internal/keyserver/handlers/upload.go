package handlers

import (
	"net/http"

	"github.com/exposurekeys/keyserver/internal/common/httpx"
	"github.com/exposurekeys/keyserver/internal/keyserver/auth"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/ingest"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/exposurekeys/keyserver/pkg/api"
	"github.com/rs/zerolog/log"
)

func toKey(g api.GaenKey) (models.Key, error) {
	data, err := ingest.DecodeKeyData(g.KeyData)
	if err != nil {
		return models.Key{}, err
	}
	return models.Key{
		KeyData:               data,
		RollingStartNumber:    g.RollingStartNumber,
		RollingPeriod:         g.RollingPeriod,
		TransmissionRiskLevel: g.TransmissionRiskLevel,
		Fake:                  g.Fake == 1,
	}, nil
}

func (h *Handler) insertContext(r *http.Request) *ingest.InsertContext {
	return &ingest.InsertContext{
		Principal: auth.PrincipalFromContext(r.Context()),
		UserAgent: ingest.ParseUserAgent(r.UserAgent()),
		Origin:    h.opts.Origin,
		Share:     h.opts.Share,
	}
}

func (h *Handler) uploadKeys(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	var req api.GaenRequest
	if err := httpx.GetRequestData(r, h.opts.MaxBodySize, &req); err != nil {
		return nil, err
	}
	if err := requestValidator().Struct(&req); err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("invalid upload")
		return nil, httpx.ErrInvalidRequest(err.Error())
	}

	now := h.opts.Clock.Now()
	if req.DelayedKeyDate != 0 {
		delayed := timebucket.FromRollingUnits(req.DelayedKeyDate)
		if delayed.Before(now.AtStartOfDay().Minus(timebucket.Day)) || delayed.After(now.AtStartOfDay().Plus(timebucket.Day)) {
			return nil, httpx.ErrInvalidRequest("delayedKeyDate must be within one day of today")
		}
	}

	keys := make([]models.Key, 0, len(req.GaenKeys))
	for _, g := range req.GaenKeys {
		k, err := toKey(g)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if _, err := h.inserter.Insert(ctx, keys, h.insertContext(r)); err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, ContentType: httpx.ContentTypeText, Response: ""}, nil
}

// uploadDelayedKey stores the key of the upload day. A key of the current date is
// received at the start of the next day, so it is never released with the others.
func (h *Handler) uploadDelayedKey(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	var req api.GaenSecondDay
	if err := httpx.GetRequestData(r, h.opts.MaxBodySize, &req); err != nil {
		return nil, err
	}
	if err := requestValidator().Struct(&req); err != nil {
		return nil, httpx.ErrInvalidRequest(err.Error())
	}
	key, err := toKey(req.DelayedKey)
	if err != nil {
		return nil, err
	}

	now := h.opts.Clock.Now()
	release := now
	if key.Start().SameDateAs(now) {
		release = now.AtStartOfDay().Plus(timebucket.Day)
	}
	receivedAt := ingest.ReceivedAt(release, h.opts.ReleaseBucket)
	if _, err := h.inserter.InsertWithReceivedAt(ctx, []models.Key{key}, h.insertContext(r), receivedAt); err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, ContentType: httpx.ContentTypeText, Response: ""}, nil
}
