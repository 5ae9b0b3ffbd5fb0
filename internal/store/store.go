// Package store manages the connection to the school database. Access goes
// through database/sql with the pgx driver so callers stay testable against
// a mocked connection.
package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/classchat/classchat/internal/config"
	"github.com/classchat/classchat/internal/errors"
)

const connectTimeout = 10 * time.Second

// Open connects to the store described by cfg and verifies liveness
func Open(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, errors.NewConnectionError("failed to open database connection", err)
	}

	db.SetMaxOpenConns(cfg.Store.MaxConnections)
	db.SetMaxIdleConns(cfg.Store.MaxConnections)

	if lifetime, err := time.ParseDuration(cfg.Store.ConnMaxLifetime); err == nil {
		db.SetConnMaxLifetime(lifetime)
	}

	if err := Ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Ping probes connection liveness with a bounded timeout
func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return errors.NewConnectionError("database is unreachable", err)
	}

	return nil
}
