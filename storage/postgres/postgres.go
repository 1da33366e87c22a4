// Package postgres provides a PostgreSQL implementation of the
// gocredits.Storage interface. State updates run inside SQL transactions
// with SELECT FOR UPDATE row locking scoped to one user, and the ledger's
// primary key on order_id is the cross-request guard against
// double-crediting.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

// Storage implements gocredits.Storage using PostgreSQL.
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter.
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool.
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetState implements gocredits.Storage.
func (s *Storage) GetState(ctx context.Context, userID string) (*gocredits.State, error) {
	var state gocredits.State

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, credits, plan, status, customer_id, updated_at
			FROM entitlement_states WHERE user_id = $1`,
		userID).Scan(
		&state.UserID,
		&state.Credits,
		&state.Plan,
		&state.Status,
		&state.CustomerID,
		&state.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gocredits.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return &state, nil
}

// UpdateState implements gocredits.Storage.
func (s *Storage) UpdateState(ctx context.Context, userID string, mutate func(*gocredits.State) error) (*gocredits.State, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	state, err := s.mutateStateTx(ctx, tx, userID, mutate)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return state, nil
}

// HasProcessed implements gocredits.Storage.
func (s *Storage) HasProcessed(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payment_ledger WHERE order_id = $1)`,
		orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return exists, nil
}

// GetLedgerEntry implements gocredits.Storage.
func (s *Storage) GetLedgerEntry(ctx context.Context, orderID string) (*gocredits.LedgerEntry, error) {
	var entry gocredits.LedgerEntry

	err := s.pool.QueryRow(ctx,
		`SELECT order_id, user_id, amount, currency, status, created_at, updated_at
			FROM payment_ledger WHERE order_id = $1`,
		orderID).Scan(
		&entry.OrderID,
		&entry.UserID,
		&entry.Amount,
		&entry.Currency,
		&entry.Status,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gocredits.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &entry, nil
}

// RecordOrder implements gocredits.Storage. The ledger insert and the state
// update commit in one transaction; losing the order_id conflict means
// another delivery of the same order already committed.
func (s *Storage) RecordOrder(ctx context.Context, entry *gocredits.LedgerEntry, mutate func(*gocredits.State) error) (*gocredits.State, error) {
	if entry == nil || entry.OrderID == "" || entry.UserID == "" {
		return nil, fmt.Errorf("invalid ledger entry")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx,
		`INSERT INTO payment_ledger (order_id, user_id, amount, currency, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (order_id) DO NOTHING`,
		entry.OrderID, entry.UserID, entry.Amount, entry.Currency,
		string(entry.Status), entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, gocredits.ErrDuplicateOrder
	}

	state, err := s.mutateStateTx(ctx, tx, entry.UserID, mutate)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return state, nil
}

// ApplyRefund implements gocredits.Storage.
func (s *Storage) ApplyRefund(ctx context.Context, orderID, userID string, mutate func(*gocredits.State, bool) error) (*gocredits.State, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx,
		`UPDATE payment_ledger SET status = $1, updated_at = $2
			WHERE order_id = $3 AND status = $4`,
		string(gocredits.LedgerRefunded), time.Now().UTC(),
		orderID, string(gocredits.LedgerPaid),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark ledger entry refunded: %w", err)
	}
	found := tag.RowsAffected() > 0

	state, err := s.mutateStateTx(ctx, tx, userID, func(st *gocredits.State) error {
		return mutate(st, found)
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return state, nil
}

// mutateStateTx performs the locked read-modify-write of one user's state
// inside an open transaction. The row is upserted first so SELECT FOR
// UPDATE always has something to lock, avoiding the insert race between
// two first-ever events for the same user.
func (s *Storage) mutateStateTx(ctx context.Context, tx pgx.Tx, userID string, mutate func(*gocredits.State) error) (*gocredits.State, error) {
	_, err := tx.Exec(ctx,
		`INSERT INTO entitlement_states (user_id, credits, plan, status, customer_id, updated_at)
			VALUES ($1, 0, $2, $3, '', $4)
			ON CONFLICT (user_id) DO NOTHING`,
		userID, gocredits.PlanFree, string(gocredits.StatusInactive), time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure state row: %w", err)
	}

	var state gocredits.State
	err = tx.QueryRow(ctx,
		`SELECT user_id, credits, plan, status, customer_id, updated_at
			FROM entitlement_states WHERE user_id = $1
			FOR UPDATE`,
		userID).Scan(
		&state.UserID,
		&state.Credits,
		&state.Plan,
		&state.Status,
		&state.CustomerID,
		&state.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lock state row: %w", err)
	}

	if err := mutate(&state); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE entitlement_states
			SET credits = $2, plan = $3, status = $4, customer_id = $5, updated_at = $6
			WHERE user_id = $1`,
		state.UserID, state.Credits, state.Plan, string(state.Status),
		state.CustomerID, state.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update state: %w", err)
	}

	return &state, nil
}
