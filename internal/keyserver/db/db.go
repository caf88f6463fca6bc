// Package db defines the persistence contracts of the key server and selects a backend.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/exposurekeys/keyserver/internal/keyserver/db/dbmanager"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/memstore"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/postgresql"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/rs/zerolog/log"
)

// KeyStore persists diagnosis keys and answers release queries.
type KeyStore interface {
	// Upsert inserts every key not already present. receivedAt is the rounded receipt
	// time chosen by the caller; origin and share are recorded with each new key.
	Upsert(ctx context.Context, keys []models.Key, receivedAt timebucket.Instant, origin string, share bool) error
	// Query returns released keys, newest first. An empty or inverted window yields no keys.
	Query(ctx context.Context, q models.KeyQuery) ([]models.StoredKey, error)
	// SelectUnshared returns expired keys of origin flagged for sharing and not yet uploaded.
	SelectUnshared(ctx context.Context, origin string) ([]models.StoredKey, error)
	// MarkUploaded tags keys with batchTag. Keys already carrying a batch tag are left alone.
	MarkUploaded(ctx context.Context, keys []models.Key, batchTag string) error
	// CleanUp deletes keys received before now minus retention and returns the count.
	CleanUp(ctx context.Context, retention time.Duration) (int64, error)
}

// SyncLog is the append-only audit trail of federation actions.
type SyncLog interface {
	Append(ctx context.Context, e *models.SyncLogEntry) error
	// LatestDownload returns the newest successful download entry of gateway for date,
	// or dberror.ErrNotFound.
	LatestDownload(ctx context.Context, gateway string, date timebucket.Instant) (*models.SyncLogEntry, error)
	// List returns entries started at or after since, newest first. gateway may be empty.
	List(ctx context.Context, gateway string, since timebucket.Instant, limit int) ([]*models.SyncLogEntry, error)
}

// Store bundles both contracts behind one backend.
type Store interface {
	KeyStore
	SyncLog
	Ping(ctx context.Context) error
	Close() error
}

const (
	BackendPostgres = "postgresql"
	BackendMemory   = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string
	DSN       string
	Pool      dbmanager.PoolOptions
	OwnOrigin string
	TimeSkew  time.Duration
	Clock     timebucket.Clock
	// EnsureSchema creates missing tables on startup.
	EnsureSchema bool
}

// Open returns the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.Clock == nil {
		opts.Clock = timebucket.SystemClock{}
	}
	switch opts.Backend {
	case BackendMemory:
		log.Ctx(ctx).Warn().Msg("using in-memory key store, data is lost on restart")
		return memstore.New(opts.OwnOrigin, opts.TimeSkew, opts.Clock), nil
	case BackendPostgres, "":
		pool, err := dbmanager.Open(ctx, opts.DSN, opts.Pool)
		if err != nil {
			return nil, err
		}
		s := postgresql.New(pool, opts.OwnOrigin, opts.TimeSkew, opts.Clock)
		if opts.EnsureSchema {
			if err := s.EnsureSchema(ctx); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
}
