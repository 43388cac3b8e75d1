// Package conn opens the PostgreSQL pool behind the order journal.
package conn

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"hft/pkg/exception"
)

const (
	defaultHost            = "localhost"
	defaultPort            = 5432
	defaultSSLMode         = "disable"
	defaultMaxOpenConns    = 4
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 30 * time.Minute
	defaultSlowQuery       = 200 * time.Millisecond
)

// Endpoint addresses a server when no DSN is given.
type Endpoint struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Params   map[string]string
}

// DSN renders the endpoint as a postgres URL.
func (e Endpoint) DSN() string {
	host := e.Host
	if host == "" {
		host = defaultHost
	}
	port := e.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := e.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := &url.URL{Scheme: "postgres", Host: fmt.Sprintf("%s:%d", host, port)}
	switch {
	case e.User != "" && e.Password != "":
		u.User = url.UserPassword(e.User, e.Password)
	case e.User != "":
		u.User = url.User(e.User)
	}
	if e.Database != "" {
		u.Path = "/" + e.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	keys := make([]string, 0, len(e.Params))
	for k := range e.Params {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		query.Set(k, e.Params[k])
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// Option configures the pool. DSN wins over Endpoint.
type Option struct {
	DSN             string
	Endpoint        Endpoint
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SlowQuery       time.Duration
	Log             zerolog.Logger
}

func (o Option) withDefaults() Option {
	if o.DSN == "" {
		o.DSN = o.Endpoint.DSN()
	}
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = defaultMaxOpenConns
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = defaultMaxIdleConns
	}
	if o.MaxIdleConns > o.MaxOpenConns {
		o.MaxIdleConns = o.MaxOpenConns
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if o.SlowQuery <= 0 {
		o.SlowQuery = defaultSlowQuery
	}
	return o
}

// Client wraps a PostgreSQL connection pool.
type Client struct {
	db *gorm.DB
}

// New opens the pool. gorm connects lazily, so call Ping to check the server.
func New(option Option) (*Client, error) {
	opt := option.withDefaults()
	db, err := gorm.Open(postgres.Open(opt.DSN), &gorm.Config{
		Logger:                 newLogger(opt.Log, opt.SlowQuery),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, errors.Wrapf(exception.ErrStoreUnavailable, "open postgres: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrapf(exception.ErrStoreUnavailable, "postgres pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(opt.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opt.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opt.ConnMaxLifetime)
	return &Client{db: db}, nil
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.db == nil {
		return errors.Wrap(exception.ErrStoreUnavailable, "postgres: not open")
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return errors.Wrapf(exception.ErrStoreUnavailable, "postgres pool: %v", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.Wrapf(exception.ErrStoreUnavailable, "ping postgres: %v", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
