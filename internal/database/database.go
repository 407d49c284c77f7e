// Package database provides Postgres persistence for rules, telemetry
// samples, alerts, alert events, and the notification outbox.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a requested row does not exist. Callers
// distinguish it from state-machine violations with errors.Is.
var ErrNotFound = errors.New("not found")

// pqUniqueViolation is the Postgres error code for unique_violation.
const pqUniqueViolation = "23505"

// DB wraps a database connection and provides alerting-core operations.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection using the provided DSN.
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL database")

	return &DB{conn: conn}, nil
}

// NewDBFromConn wraps an existing connection. Used by tests to inject a
// mocked connection.
func NewDBFromConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		slog.Info("Closing database connection")
		return db.conn.Close()
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. Alert mutations, their audit events, and outbox
// enqueues must all go through one WithTx call so they succeed or fail
// together.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation. Races on dedupe keys surface this way and are treated as
// success-by-dedupe by callers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation
	}
	return false
}

// marshalJSONMap serializes a string map for a jsonb column. Nil maps are
// stored as SQL NULL.
func marshalJSONMap(m map[string]string) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal json map: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalJSONMap deserializes a jsonb column into a string map. Invalid
// or NULL content yields an empty map rather than an error; the column is
// free-form context, not load-bearing state.
func unmarshalJSONMap(raw sql.NullString, warnAttrs ...any) map[string]string {
	if !raw.Valid || raw.String == "" {
		return make(map[string]string)
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		slog.Warn("Failed to unmarshal context JSON", append([]any{"error", err}, warnAttrs...)...)
		return make(map[string]string)
	}
	if m == nil {
		return make(map[string]string)
	}
	return m
}
