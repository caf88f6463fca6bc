// Package server assembles the HTTP router of the key server: the device endpoints plus
// version, readiness and metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/exposurekeys/keyserver/internal/common/httpx"
	"github.com/exposurekeys/keyserver/internal/common/logtrace"
	"github.com/exposurekeys/keyserver/internal/common/middleware"
	"github.com/exposurekeys/keyserver/internal/keyserver/handlers"
	"github.com/exposurekeys/keyserver/internal/keyserver/metrics"
	"github.com/exposurekeys/keyserver/pkg/api"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

const (
	Version    = "1.4.0"
	ApiVersion = "v2"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	HandleCORS bool
	// RequestTimeout bounds every request. Zero disables the limit.
	RequestTimeout time.Duration
}

type KeyServer struct {
	Router   *chi.Mux
	handlers *handlers.Handler
	store    Pinger
	opts     Options
}

func CreateNewServer(h *handlers.Handler, store Pinger, opts Options) *KeyServer {
	return &KeyServer{
		Router:   chi.NewRouter(),
		handlers: h,
		store:    store,
		opts:     opts,
	}
}

// MountHandlers installs the middleware chain and all routes.
func (s *KeyServer) MountHandlers() {
	metrics.InitMetrics()
	s.Router.Use(middleware.RequestLogger)
	s.Router.Use(middleware.PanicHandler)
	s.Router.Use(metrics.Middleware)
	if s.opts.HandleCORS {
		s.Router.Use(s.HandleCORS)
	}
	if s.opts.RequestTimeout > 0 {
		s.Router.Use(middleware.SetTimeout(s.opts.RequestTimeout))
	}
	s.mountResourceHandlers(s.Router)
	if logtrace.IsTraceEnabled() {
		fmt.Println("Routes in key server router")
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			fmt.Printf("%s %s\n", method, route)
			return nil
		}
		if err := chi.Walk(s.Router, walkFunc); err != nil {
			log.Error().Err(err).Msg("Error walking router")
		}
	}
}

func (s *KeyServer) mountResourceHandlers(r chi.Router) {
	s.handlers.Router(r)
	r.Get("/version", s.getVersion)
	r.Get("/ready", s.getReadiness)
	r.Handle("/metrics", metrics.Handler())
}

func (s *KeyServer) getVersion(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("GetVersion")
	rsp := &api.VersionRsp{
		ServerVersion: "Key Server: " + Version,
		ApiVersion:    ApiVersion,
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, rsp)
}

func (s *KeyServer) getReadiness(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("Readiness check")

	if err := s.store.Ping(r.Context()); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("store unreachable during readiness check")
		httpx.SendJsonRsp(r.Context(), w, http.StatusServiceUnavailable, &api.ReadinessRsp{
			Status: "not ready",
			Error:  "store unreachable",
		})
		return
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, &api.ReadinessRsp{Status: "ready"})
}

// HandleCORS lets browser based tools read key files.
func (s *KeyServer) HandleCORS(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Accept-Encoding", "User-Agent"},
		ExposedHeaders: []string{
			api.HeaderSignature,
			api.HeaderKeyID,
			api.HeaderPublishedUntil,
			api.HeaderKeyBundleTag,
			"ETag",
		},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}

// Serve listens on addr until ctx is cancelled, then gives outstanding requests five
// seconds to complete.
func (s *KeyServer) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("server started")
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("could not stop server gracefully")
		if err := srv.Close(); err != nil {
			log.Error().Err(err).Msg("could not stop server")
		}
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
