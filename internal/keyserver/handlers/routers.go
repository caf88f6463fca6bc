// Package handlers serves the device facing endpoints: key upload and key file download.
package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/exposurekeys/keyserver/internal/common/httpx"
	"github.com/exposurekeys/keyserver/internal/keyserver/auth"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/export"
	"github.com/exposurekeys/keyserver/internal/keyserver/ingest"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Inserter is the write side used by the upload endpoints.
type Inserter interface {
	Insert(ctx context.Context, keys []models.Key, ic *ingest.InsertContext) ([]models.Key, error)
	InsertWithReceivedAt(ctx context.Context, keys []models.Key, ic *ingest.InsertContext, receivedAt timebucket.Instant) ([]models.Key, error)
}

// Exporter builds key files.
type Exporter interface {
	Build(ctx context.Context, req export.Request) (*export.Export, error)
}

type Options struct {
	// Origin is recorded with uploaded keys.
	Origin string
	// Share flags uploaded keys for the federation gateways.
	Share         bool
	ReleaseBucket time.Duration
	Retention     time.Duration
	MaxBodySize   int64
	Clock         timebucket.Clock
}

type Handler struct {
	inserter Inserter
	exporter Exporter
	verifier *auth.Verifier
	opts     Options
}

func NewHandler(inserter Inserter, exporter Exporter, verifier *auth.Verifier, opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = timebucket.SystemClock{}
	}
	return &Handler{inserter: inserter, exporter: exporter, verifier: verifier, opts: opts}
}

type route struct {
	method  string
	path    string
	handler func(h *Handler) httpx.RequestHandler
	// scopes lists the token scopes allowed on the route. Nil routes are public.
	scopes []string
}

var routes = []route{
	{
		method:  http.MethodPost,
		path:    "/v1/gaen/exposed",
		handler: func(h *Handler) httpx.RequestHandler { return h.uploadKeys },
		scopes:  []string{auth.ScopeExposed},
	},
	{
		method:  http.MethodPost,
		path:    "/v1/gaen/exposednextday",
		handler: func(h *Handler) httpx.RequestHandler { return h.uploadDelayedKey },
		scopes:  []string{auth.ScopeCurrentDayExposed},
	},
	{
		method:  http.MethodGet,
		path:    "/v1/gaen/exposed/{keyDate}",
		handler: func(h *Handler) httpx.RequestHandler { return h.getKeysForDate },
	},
	{
		method:  http.MethodGet,
		path:    "/v2/gaen/exposed",
		handler: func(h *Handler) httpx.RequestHandler { return h.getKeys },
	},
}

// Router mounts the endpoints on r.
func (h *Handler) Router(r chi.Router) {
	for _, rt := range routes {
		handler := http.Handler(httpx.WrapHttpRsp(rt.handler(h)))
		if rt.scopes != nil {
			handler = auth.Middleware(h.verifier, rt.scopes...)(handler)
		}
		r.Method(rt.method, rt.path, handler)
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}
