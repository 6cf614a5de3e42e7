// Package database provides the shared Postgres connection pool backing the
// stats store, adapted from the teacher's internal/database/db.go (itself a
// thin wrapper over database/sql + lib/pq). Only the connection lifecycle
// and transaction helper survive here; the original's user/session CRUD
// belonged to a different domain and is not part of this repo (see
// DESIGN.md).
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/leshchenko/tgpool/internal/apperr"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB holds the connection pool to the stats Postgres database.
type DB struct {
	*sql.DB
}

// Connect opens a connection pool against url, validating it with a few
// retries to ride out container-startup races with the database.
func Connect(url string) (*DB, error) {
	if url == "" {
		return nil, apperr.New(apperr.ErrMissingEnvVar, "stats database URL is required")
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, apperr.Wrap(fmt.Errorf("opening database connection: %w", err), apperr.ErrStatsStoreError)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if lastErr = db.PingContext(ctx); lastErr == nil {
			break
		}
		slog.Warn("database: connection attempt failed", "attempt", attempt, "error", lastErr)
		if attempt < 3 {
			time.Sleep(2 * time.Second)
		}
	}
	if lastErr != nil {
		db.Close()
		return nil, apperr.Wrap(fmt.Errorf("connecting to database after 3 attempts: %w", lastErr), apperr.ErrStatsStoreError)
	}

	slog.Info("database: connected to stats database")
	return &DB{db}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}

// Transaction runs fn inside a transaction, rolling back on error or panic
// and committing otherwise. Used by SaveMsgs' delete-then-insert replace.
func (db *DB) Transaction(fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return apperr.Wrap(err, apperr.ErrStatsStoreError)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(err, apperr.ErrStatsStoreError)
	}
	return nil
}
