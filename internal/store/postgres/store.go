// Package postgres implements the message store against PostgreSQL. All
// upserts are idempotent and keyed by each entity's natural id, so pipeline
// phases can be re-run safely.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Store provides typed persistence for messages, contacts, snapshots,
// knowledge trees, and jobs.
type Store struct {
	db *sql.DB
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, url string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for the migrator and health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// EnsureAccount creates the account row on first authenticated use and
// returns it. Existing accounts are returned unchanged.
func (s *Store) EnsureAccount(ctx context.Context, id, ownerAddress string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intel_accounts (id, owner_address, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO NOTHING
	`, id, ownerAddress)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

// OwnerAddress returns the mailbox owner address for an account.
func (s *Store) OwnerAddress(ctx context.Context, accountID string) (string, error) {
	var addr string
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_address FROM intel_accounts WHERE id = $1`, accountID,
	).Scan(&addr)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("owner address: %w", err)
	}
	return addr, nil
}
