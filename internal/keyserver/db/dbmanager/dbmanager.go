// Package dbmanager opens and tunes the PostgreSQL connection pool used by the key store.
package dbmanager

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// PoolOptions tunes the pool and the per-session timeouts.
type PoolOptions struct {
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	ConnMaxIdleTime  time.Duration
	StatementTimeout time.Duration
}

// DefaultPoolOptions mirrors the settings used in production.
var DefaultPoolOptions = PoolOptions{
	MaxOpenConns:     50,
	MaxIdleConns:     10,
	ConnMaxLifetime:  30 * time.Minute,
	ConnMaxIdleTime:  5 * time.Minute,
	StatementTimeout: 30 * time.Second,
}

// Pool wraps a database/sql pool backed by the pgx driver.
type Pool struct {
	db       *sql.DB
	sessions uint64
}

// Open parses dsn, opens the pool, applies session parameters to every new connection
// and verifies connectivity.
func Open(ctx context.Context, dsn string, opts PoolOptions) (*Pool, error) {
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database dsn: %w", err)
	}

	p := &Pool{}
	params := sessionParams(opts)
	sqlDB := stdlib.OpenDB(*connCfg, stdlib.OptionAfterConnect(func(ctx context.Context, conn *pgx.Conn) error {
		for _, name := range sortedKeys(params) {
			// SET does not accept bind parameters
			query := fmt.Sprintf("SET %s = %s", pq.QuoteIdentifier(name), pq.QuoteLiteral(params[name]))
			if _, err := conn.Exec(ctx, query); err != nil {
				return fmt.Errorf("failed to set %s: %w", name, err)
			}
		}
		atomic.AddUint64(&p.sessions, 1)
		return nil
	}))

	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	if err := sqlDB.PingContext(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to ping db")
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	p.db = sqlDB
	return p, nil
}

func sessionParams(opts PoolOptions) map[string]string {
	timeout := opts.StatementTimeout
	if timeout <= 0 {
		timeout = DefaultPoolOptions.StatementTimeout
	}
	ms := fmt.Sprintf("%dms", timeout.Milliseconds())
	return map[string]string{
		"lock_timeout":                        ms,
		"statement_timeout":                   ms,
		"idle_in_transaction_session_timeout": ms,
		"timezone":                            "UTC",
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DB returns the underlying pool.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Ping checks that a connection can be obtained.
func (p *Pool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Sessions returns the number of physical connections initialized so far.
func (p *Pool) Sessions() uint64 {
	return atomic.LoadUint64(&p.sessions)
}

// OpenConns returns the number of open connections in the pool.
func (p *Pool) OpenConns() int {
	return p.db.Stats().OpenConnections
}

func (p *Pool) Close() error {
	return p.db.Close()
}
