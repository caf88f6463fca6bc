// Package postgresql implements the key store and sync log on PostgreSQL.
package postgresql

import (
	"context"
	_ "embed"
	"time"

	"github.com/exposurekeys/keyserver/internal/keyserver/db/dberror"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/dbmanager"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool      *dbmanager.Pool
	ownOrigin string
	timeSkew  time.Duration
	clock     timebucket.Clock
}

func New(pool *dbmanager.Pool, ownOrigin string, timeSkew time.Duration, clock timebucket.Clock) *Store {
	return &Store{
		pool:      pool,
		ownOrigin: ownOrigin,
		timeSkew:  timeSkew,
		clock:     clock,
	}
}

// Schema returns the DDL applied by EnsureSchema.
func Schema() string {
	return schema
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.DB().ExecContext(ctx, schema); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to apply schema")
		return dberror.FromPg(err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return dberror.ErrUnavailable.Err(err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) skewMillis() int64 {
	return s.timeSkew.Milliseconds()
}
