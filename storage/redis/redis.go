// Package redis provides a Redis implementation of the gocredits.Storage
// interface. State and ledger records are stored as JSON values, and
// read-modify-write operations run inside WATCH/MULTI optimistic
// transactions so concurrent deliveries for the same user or order
// serialize correctly.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

// Storage implements gocredits.Storage using Redis.
type Storage struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "gocredits:")
	KeyPrefix string

	// MaxRetries is the maximum number of optimistic transaction retries
	// when a watched key changes mid-flight (default: 3)
	MaxRetries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "gocredits:",
		MaxRetries: 3,
	}
}

// New creates a new Redis storage adapter.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "gocredits:"
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}

	return &Storage{client: client, config: config}, nil
}

func (s *Storage) stateKey(userID string) string {
	return fmt.Sprintf("%sstate:%s", s.config.KeyPrefix, userID)
}

func (s *Storage) ledgerKey(orderID string) string {
	return fmt.Sprintf("%sledger:%s", s.config.KeyPrefix, orderID)
}

// GetState implements gocredits.Storage.
func (s *Storage) GetState(ctx context.Context, userID string) (*gocredits.State, error) {
	data, err := s.client.Get(ctx, s.stateKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gocredits.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	var state gocredits.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &state, nil
}

// UpdateState implements gocredits.Storage.
func (s *Storage) UpdateState(ctx context.Context, userID string, mutate func(*gocredits.State) error) (*gocredits.State, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	var result *gocredits.State

	txn := func(tx *redis.Tx) error {
		state, err := s.loadStateTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := mutate(state); err != nil {
			return err
		}

		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.stateKey(userID), data, 0)
			return nil
		})
		if err != nil {
			return err
		}

		result = state
		return nil
	}

	if err := s.watchWithRetry(ctx, txn, s.stateKey(userID)); err != nil {
		return nil, err
	}
	return result, nil
}

// HasProcessed implements gocredits.Storage.
func (s *Storage) HasProcessed(ctx context.Context, orderID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.ledgerKey(orderID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return n > 0, nil
}

// GetLedgerEntry implements gocredits.Storage.
func (s *Storage) GetLedgerEntry(ctx context.Context, orderID string) (*gocredits.LedgerEntry, error) {
	data, err := s.client.Get(ctx, s.ledgerKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gocredits.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}

	var entry gocredits.LedgerEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode ledger entry: %w", err)
	}
	return &entry, nil
}

// RecordOrder implements gocredits.Storage. Both the ledger key and the
// state key are watched, so a concurrent delivery of the same order aborts
// this transaction and observes the existing ledger entry on retry.
func (s *Storage) RecordOrder(ctx context.Context, entry *gocredits.LedgerEntry, mutate func(*gocredits.State) error) (*gocredits.State, error) {
	if entry == nil || entry.OrderID == "" || entry.UserID == "" {
		return nil, fmt.Errorf("invalid ledger entry")
	}

	ledgerKey := s.ledgerKey(entry.OrderID)
	stateKey := s.stateKey(entry.UserID)

	var result *gocredits.State

	txn := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, ledgerKey).Result()
		if err != nil {
			return fmt.Errorf("failed to check ledger: %w", err)
		}
		if n > 0 {
			return gocredits.ErrDuplicateOrder
		}

		state, err := s.loadStateTx(ctx, tx, entry.UserID)
		if err != nil {
			return err
		}
		if err := mutate(state); err != nil {
			return err
		}

		stateData, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}
		entryData, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to encode ledger entry: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, ledgerKey, entryData, 0)
			pipe.Set(ctx, stateKey, stateData, 0)
			return nil
		})
		if err != nil {
			return err
		}

		result = state
		return nil
	}

	if err := s.watchWithRetry(ctx, txn, ledgerKey, stateKey); err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyRefund implements gocredits.Storage.
func (s *Storage) ApplyRefund(ctx context.Context, orderID, userID string, mutate func(*gocredits.State, bool) error) (*gocredits.State, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	ledgerKey := s.ledgerKey(orderID)
	stateKey := s.stateKey(userID)

	var result *gocredits.State

	txn := func(tx *redis.Tx) error {
		var entry gocredits.LedgerEntry
		found := false

		data, err := tx.Get(ctx, ledgerKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			// No ledger entry for this order; mutate still runs with found=false.
		case err != nil:
			return fmt.Errorf("failed to get ledger entry: %w", err)
		default:
			if err := json.Unmarshal(data, &entry); err != nil {
				return fmt.Errorf("failed to decode ledger entry: %w", err)
			}
			found = entry.Status == gocredits.LedgerPaid
		}

		state, err := s.loadStateTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := mutate(state, found); err != nil {
			return err
		}

		stateData, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}

		var entryData []byte
		if found {
			entry.Status = gocredits.LedgerRefunded
			entry.UpdatedAt = state.UpdatedAt
			entryData, err = json.Marshal(&entry)
			if err != nil {
				return fmt.Errorf("failed to encode ledger entry: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, stateKey, stateData, 0)
			if found {
				pipe.Set(ctx, ledgerKey, entryData, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}

		result = state
		return nil
	}

	if err := s.watchWithRetry(ctx, txn, ledgerKey, stateKey); err != nil {
		return nil, err
	}
	return result, nil
}

// loadStateTx reads the user's state inside a watched transaction,
// returning a zero-value state when none exists yet.
func (s *Storage) loadStateTx(ctx context.Context, tx *redis.Tx, userID string) (*gocredits.State, error) {
	data, err := tx.Get(ctx, s.stateKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &gocredits.State{
			UserID: userID,
			Plan:   gocredits.PlanFree,
			Status: gocredits.StatusInactive,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	var state gocredits.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &state, nil
}

// watchWithRetry runs an optimistic transaction, retrying when a watched
// key changed before EXEC. Business errors from the transaction function
// pass through untouched.
func (s *Storage) watchWithRetry(ctx context.Context, txn func(*redis.Tx) error, keys ...string) error {
	var err error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err = s.client.Watch(ctx, txn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("transaction failed after %d retries: %w", s.config.MaxRetries, err)
}
