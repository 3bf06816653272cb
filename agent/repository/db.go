package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type Config struct {
	URL          string        `split_words:"true" required:"true"`
	MaxOpenConns int           `split_words:"true" default:"10"`
	Timeout      time.Duration `split_words:"true" default:"5s"`
	CreateSchema bool          `split_words:"true" default:"false"`
}

// Open builds a bun handle over a pgdriver connector. No connection is made
// until the first query or Ping.
func Open(cfg Config) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.URL)
	if dsn == "" {
		return nil, errors.New("database url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	))
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func MustOpen(cfg Config) *bun.DB {
	db, err := Open(cfg)
	if err != nil {
		panic(err)
	}
	return db
}

func Ping(ctx context.Context, db *bun.DB) error {
	if db == nil {
		return errors.New("database is not configured")
	}
	return db.PingContext(ctx)
}
