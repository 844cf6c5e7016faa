package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/safar/go-cart-store/internal/config"
)

const (
	pingTimeout  = 5 * time.Second
	pingAttempts = 5
)

// NewConnection opens the pool and waits for the server to answer. Startup
// often races the database container, so the ping is retried with backoff.
func NewConnection(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := ping(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func ping(ctx context.Context, db *sql.DB) error {
	backoff := 200 * time.Millisecond
	var err error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == pingAttempts {
			break
		}
		if sleepErr := sleepBackoff(ctx, backoff); sleepErr != nil {
			return fmt.Errorf("ping database: %w", sleepErr)
		}
		backoff *= 2
	}
	return fmt.Errorf("ping database after %d attempts: %w", pingAttempts, err)
}
