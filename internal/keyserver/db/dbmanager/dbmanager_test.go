package dbmanager

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionParams(t *testing.T) {
	p := sessionParams(PoolOptions{StatementTimeout: 2 * time.Second})
	assert.Equal(t, "2000ms", p["statement_timeout"])
	assert.Equal(t, "2000ms", p["lock_timeout"])
	assert.Equal(t, "UTC", p["timezone"])

	p = sessionParams(PoolOptions{})
	assert.Equal(t, "30000ms", p["statement_timeout"])
	assert.Equal(t, []string{"idle_in_transaction_session_timeout", "lock_timeout", "statement_timeout", "timezone"}, sortedKeys(p))
}

func TestOpenInvalidDSN(t *testing.T) {
	_, err := Open(context.Background(), "postgres://host:notaport/db", DefaultPoolOptions)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	dsn := os.Getenv("KEYSERVER_TEST_DSN")
	if dsn == "" {
		t.Skip("KEYSERVER_TEST_DSN not set")
	}
	ctx := context.Background()
	p, err := Open(ctx, dsn, DefaultPoolOptions)
	require.NoError(t, err)
	defer p.Close()

	var tz string
	require.NoError(t, p.DB().QueryRowContext(ctx, "SHOW timezone").Scan(&tz))
	assert.Equal(t, "UTC", tz)
	assert.NoError(t, p.Ping(ctx))
	assert.GreaterOrEqual(t, p.Sessions(), uint64(1))
	assert.GreaterOrEqual(t, p.OpenConns(), 1)
}
