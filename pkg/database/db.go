package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sethvargo/go-retry"
)

type Config struct {
	DSN      string
	MaxConns int
	Timeout  time.Duration
	TimeZone string
	// ConnectAttempts bounds the startup ping retries; 0 means a single attempt.
	ConnectAttempts uint64
}

// Connect opens a *sql.DB and verifies connectivity with a ping, retrying
// with exponential backoff while the database comes up.
func Connect(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	backoff := retry.WithMaxRetries(cfg.ConnectAttempts, retry.NewExponential(250*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if cfg.TimeZone != "" {
		connCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if _, err := db.ExecContext(connCtx, "SET TIME ZONE "+quoteLiteral(cfg.TimeZone)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set time zone: %w", err)
		}
	}
	return db, nil
}

// quoteLiteral escapes single quotes and wraps the value in single quotes
// so it can be used safely in SET ... statements which don't accept
// parameter placeholders for the right-hand side.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
