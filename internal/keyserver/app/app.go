// Package app builds the key server components from the loaded configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/exposurekeys/keyserver/internal/common/httpclient"
	"github.com/exposurekeys/keyserver/internal/keyserver/auth"
	"github.com/exposurekeys/keyserver/internal/keyserver/config"
	"github.com/exposurekeys/keyserver/internal/keyserver/db"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/dbmanager"
	"github.com/exposurekeys/keyserver/internal/keyserver/export"
	"github.com/exposurekeys/keyserver/internal/keyserver/federation"
	"github.com/exposurekeys/keyserver/internal/keyserver/handlers"
	"github.com/exposurekeys/keyserver/internal/keyserver/ingest"
	"github.com/exposurekeys/keyserver/internal/keyserver/scheduler"
	"github.com/exposurekeys/keyserver/internal/keyserver/server"
	"github.com/exposurekeys/keyserver/internal/keyserver/signing"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/rs/zerolog/log"
)

const (
	userAgent = "keyserver/" + server.Version
	// shutdownGrace bounds the wait for a running sync cycle on shutdown.
	shutdownGrace = 30 * time.Second
)

// OpenStore opens the configured backend.
func OpenStore(ctx context.Context, cfg *config.ConfigParam, clock timebucket.Clock) (db.Store, error) {
	pool := dbmanager.DefaultPoolOptions
	pool.MaxOpenConns = cfg.Storage.MaxOpenConns
	pool.StatementTimeout = cfg.GetStatementTimeout()
	return db.Open(ctx, db.Options{
		Backend:      cfg.Storage.Backend,
		DSN:          cfg.DSN(),
		Pool:         pool,
		OwnOrigin:    cfg.Origin,
		TimeSkew:     cfg.GetTimeSkew(),
		Clock:        clock,
		EnsureSchema: cfg.Storage.EnsureSchema,
	})
}

// NewManager builds the ingest manager with the configured pipeline.
func NewManager(cfg *config.ConfigParam, store ingest.Upserter, clock timebucket.Clock) (*ingest.Manager, error) {
	opts, err := ingest.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return ingest.NewManager(store, ingest.NewDefaultPipeline(opts), clock, cfg.GetReleaseBucket()), nil
}

// NewExporter loads the export signing key and builds the export service.
func NewExporter(cfg *config.ConfigParam, store export.Querier, clock timebucket.Clock) (*export.Service, error) {
	signer, err := signing.LoadSigner(cfg.Export.SigningKeyFile, cfg.KeyPassphrase, cfg.Export.KeyID)
	if err != nil {
		return nil, fmt.Errorf("loading export signing key: %w", err)
	}
	return export.NewService(store, signer, export.Options{
		Region:        cfg.Origin,
		KeyVersion:    cfg.Export.KeyVersion,
		ReleaseBucket: cfg.GetReleaseBucket(),
		CacheSize:     cfg.Export.CacheSize,
		Clock:         clock,
	})
}

// NewVerifier loads the token verification key.
func NewVerifier(cfg *config.ConfigParam) (*auth.Verifier, error) {
	pub, err := auth.LoadPublicKey(cfg.Auth.JWTPublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading token public key: %w", err)
	}
	return auth.NewVerifier(pub, cfg.GetAuthClockSkew()), nil
}

// Gateways builds a client per configured gateway. ids limits the result when given.
func Gateways(cfg *config.ConfigParam, ids ...string) ([]federation.Gateway, error) {
	var gateways []federation.Gateway
	for i := range cfg.Gateways {
		gc := &cfg.Gateways[i]
		if len(ids) > 0 && !contains(ids, gc.ID) {
			continue
		}
		timeout, err := gc.GetTimeout()
		if err != nil {
			return nil, err
		}
		doer, err := httpclient.New(httpclient.Options{
			BaseURL:        gc.BaseURL,
			APIKey:         gc.APIKey,
			ClientCertFile: gc.ClientCertFile,
			ClientKeyFile:  gc.ClientKeyFile,
			UserAgent:      userAgent,
			Timeout:        timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("gateway %s: %w", gc.ID, err)
		}
		var signer signing.Signer
		if gc.SigningKeyFile != "" {
			s, err := signing.LoadSigner(gc.SigningKeyFile, cfg.KeyPassphrase, gc.ID)
			if err != nil {
				return nil, fmt.Errorf("gateway %s: %w", gc.ID, err)
			}
			signer = s
		}
		gateways = append(gateways, federation.Gateway{
			ID:       gc.ID,
			Client:   federation.NewHTTPClient(gc.ID, doer, signer, cfg.Origin, gc.VisitedCountries),
			Download: gc.Download,
			Upload:   gc.Upload,
		})
	}
	if len(ids) > 0 && len(gateways) != len(ids) {
		return nil, fmt.Errorf("unknown gateway in %v", ids)
	}
	return gateways, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func uploads(gateways []federation.Gateway) bool {
	for _, g := range gateways {
		if g.Upload {
			return true
		}
	}
	return false
}

// NewSyncer wires gateways to the store and the ingest manager.
func NewSyncer(cfg *config.ConfigParam, gateways []federation.Gateway, store db.Store, inserter federation.Inserter, clock timebucket.Clock) *federation.Syncer {
	return federation.NewSyncer(gateways, store, inserter, federation.Options{
		Origin:         cfg.Origin,
		Retention:      cfg.GetRetentionPeriod(),
		UploadChunk:    cfg.MaxUploadChunk,
		MaxPagesPerDay: cfg.MaxPagesPerDay,
		Clock:          clock,
	})
}

// App is a fully wired key server.
type App struct {
	Config    *config.ConfigParam
	Store     db.Store
	Server    *server.KeyServer
	Scheduler *scheduler.Scheduler
}

// New builds every component. The caller owns Close.
func New(ctx context.Context, cfg *config.ConfigParam) (*App, error) {
	clock := timebucket.SystemClock{}
	store, err := OpenStore(ctx, cfg, clock)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Store: store}
	if err := a.wire(ctx, clock); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, clock timebucket.Clock) error {
	cfg := a.Config
	manager, err := NewManager(cfg, a.Store, clock)
	if err != nil {
		return err
	}
	exporter, err := NewExporter(cfg, a.Store, clock)
	if err != nil {
		return err
	}
	verifier, err := NewVerifier(cfg)
	if err != nil {
		return err
	}
	gateways, err := Gateways(cfg)
	if err != nil {
		return err
	}

	h := handlers.NewHandler(manager, exporter, verifier, handlers.Options{
		Origin:        cfg.Origin,
		Share:         uploads(gateways),
		ReleaseBucket: cfg.GetReleaseBucket(),
		Retention:     cfg.GetRetentionPeriod(),
		MaxBodySize:   cfg.MaxRequestBodySize,
		Clock:         clock,
	})
	a.Server = server.CreateNewServer(h, a.Store, server.Options{
		HandleCORS:     cfg.HandleCORS,
		RequestTimeout: cfg.GetRequestTimeout(),
	})
	a.Server.MountHandlers()

	a.Scheduler = scheduler.New(ctx)
	if len(gateways) > 0 {
		syncer := NewSyncer(cfg, gateways, a.Store, manager, clock)
		if err := a.Scheduler.Add("federation_sync", cfg.SyncSchedule, scheduler.SyncJob(syncer)); err != nil {
			return err
		}
	} else {
		log.Ctx(ctx).Info().Msg("no federation gateways configured")
	}
	return a.Scheduler.Add("cleanup", cfg.CleanupSchedule,
		scheduler.CleanupJob(a.Store, exporter, cfg.GetRetentionPeriod()))
}

// Run serves HTTP and runs the scheduled jobs until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.Scheduler.Start()
	err := a.Server.Serve(ctx, ":"+a.Config.ServerPort)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	a.Scheduler.Stop(stopCtx)
	return err
}

func (a *App) Close() error {
	return a.Store.Close()
}
