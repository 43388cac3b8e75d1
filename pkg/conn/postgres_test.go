package conn

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hft/pkg/exception"
)

func TestEndpointDSN(t *testing.T) {
	tests := []struct {
		name string
		in   Endpoint
		want string
	}{
		{"defaults", Endpoint{}, "postgres://localhost:5432?sslmode=disable"},
		{"user only", Endpoint{User: "hft", Database: "journal"}, "postgres://hft@localhost:5432/journal?sslmode=disable"},
		{
			"full",
			Endpoint{Host: "db", Port: 6432, User: "hft", Password: "p@ss", Database: "journal", SSLMode: "require", Params: map[string]string{"search_path": "hft", "application_name": "trader", "": "x"}},
			"postgres://hft:p%40ss@db:6432/journal?application_name=trader&search_path=hft&sslmode=require",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.in.DSN(); got != tc.want {
				t.Fatalf("dsn mismatch: got %s want %s", got, tc.want)
			}
		})
	}
}

func TestOptionDefaults(t *testing.T) {
	opt := Option{DSN: "postgres://x", MaxIdleConns: 10}.withDefaults()
	assert.Equal(t, "postgres://x", opt.DSN)
	assert.Equal(t, defaultMaxOpenConns, opt.MaxOpenConns)
	assert.Equal(t, defaultMaxOpenConns, opt.MaxIdleConns)
	assert.Equal(t, defaultConnMaxLifetime, opt.ConnMaxLifetime)

	opt = Option{Endpoint: Endpoint{Host: "db"}}.withDefaults()
	assert.Equal(t, "postgres://db:5432?sslmode=disable", opt.DSN)
}

func TestNilClient(t *testing.T) {
	var c *Client
	assert.Nil(t, c.DB())
	assert.NoError(t, c.Close())
	require.ErrorIs(t, c.Ping(context.Background()), exception.ErrStoreUnavailable)
}

func TestGormLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(zerolog.New(&buf), 10*time.Millisecond)
	fc := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(context.Background(), time.Now(), fc, nil)
	assert.Empty(t, buf.String())

	l.Trace(context.Background(), time.Now(), fc, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	l.Trace(context.Background(), time.Now(), fc, errors.New("boom"))
	assert.Contains(t, buf.String(), "query failed")
	buf.Reset()

	l.Trace(context.Background(), time.Now().Add(-time.Second), fc, nil)
	assert.Contains(t, buf.String(), "slow query")
	buf.Reset()

	l.LogMode(logger.Silent).Trace(context.Background(), time.Now(), fc, errors.New("boom"))
	assert.Empty(t, buf.String())
}
