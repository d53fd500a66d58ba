// Package store provides the reference SQLite-backed StrategyStore and
// KeyStore implementations the Ingress, Worker, and Executor depend on
// as capability interfaces. Grounded in the teacher's pkg/db package
// (connection handling and migration-on-boot pattern from db.go and
// schema.go), generalized from trading-core's order/trade/position
// tables to this pipeline's Strategy/Subscription/SignalRecord/
// exchange-key model — an incompatible-enough shape that the tables
// are newly defined here rather than reusing pkg/db's schema.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"signalpipeline/pkg/crypto"
)

// Store wraps the open SQLite handle and both reference collaborators.
type Store struct {
	DB       *sql.DB
	Strategy *SQLiteStrategyStore
	Keys     *SQLiteKeyStore
}

// Open creates (if needed) and migrates the SQLite database at path, and
// wires both reference stores against it. KeyManager encrypts/decrypts
// exchange_keys rows.
func Open(path string, km *crypto.KeyManager) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		DB:       db,
		Strategy: NewSQLiteStrategyStore(db),
		Keys:     NewSQLiteKeyStore(db, km),
	}, nil
}

// Close releases the underlying handle.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func openDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}
