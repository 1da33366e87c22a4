// Package firestore provides a Firestore implementation of the
// gocredits.Storage interface. Read-modify-write operations run inside
// Firestore transactions; the ledger document id is the order id, and
// tx.Create on it is the guard against double-crediting.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

// Storage implements gocredits.Storage using Google Cloud Firestore.
type Storage struct {
	client           *firestore.Client
	statesCollection string
	ledgerCollection string
}

// Config holds Firestore storage configuration.
type Config struct {
	// StatesCollection is the Firestore collection for entitlement states.
	// Default: "billing_states"
	StatesCollection string

	// LedgerCollection is the Firestore collection for the payment ledger.
	// Default: "billing_ledger"
	LedgerCollection string
}

// New creates a new Firestore storage adapter.
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.StatesCollection == "" {
		config.StatesCollection = "billing_states"
	}
	if config.LedgerCollection == "" {
		config.LedgerCollection = "billing_ledger"
	}

	return &Storage{
		client:           client,
		statesCollection: config.StatesCollection,
		ledgerCollection: config.LedgerCollection,
	}, nil
}

// GetState implements gocredits.Storage.
func (s *Storage) GetState(ctx context.Context, userID string) (*gocredits.State, error) {
	snap, err := s.client.Collection(s.statesCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, gocredits.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	state := stateFromDoc(userID, snap.Data())
	return state, nil
}

// UpdateState implements gocredits.Storage.
func (s *Storage) UpdateState(ctx context.Context, userID string, mutate func(*gocredits.State) error) (*gocredits.State, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	var result *gocredits.State

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		state, err := s.readStateTx(tx, userID)
		if err != nil {
			return err
		}
		if err := mutate(state); err != nil {
			return err
		}

		if err := tx.Set(s.stateDoc(userID), stateToDoc(state)); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
		result = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// HasProcessed implements gocredits.Storage.
func (s *Storage) HasProcessed(ctx context.Context, orderID string) (bool, error) {
	_, err := s.client.Collection(s.ledgerCollection).Doc(orderID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return true, nil
}

// GetLedgerEntry implements gocredits.Storage.
func (s *Storage) GetLedgerEntry(ctx context.Context, orderID string) (*gocredits.LedgerEntry, error) {
	snap, err := s.client.Collection(s.ledgerCollection).Doc(orderID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, gocredits.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return entryFromDoc(orderID, snap.Data()), nil
}

// RecordOrder implements gocredits.Storage. tx.Create fails the whole
// transaction with AlreadyExists when the ledger document is present, which
// maps to ErrDuplicateOrder.
func (s *Storage) RecordOrder(ctx context.Context, entry *gocredits.LedgerEntry, mutate func(*gocredits.State) error) (*gocredits.State, error) {
	if entry == nil || entry.OrderID == "" || entry.UserID == "" {
		return nil, fmt.Errorf("invalid ledger entry")
	}

	var result *gocredits.State

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		// Transaction rule: all reads before any writes.
		state, err := s.readStateTx(tx, entry.UserID)
		if err != nil {
			return err
		}
		if err := mutate(state); err != nil {
			return err
		}

		if err := tx.Create(s.ledgerDoc(entry.OrderID), entryToDoc(entry)); err != nil {
			return err
		}
		if err := tx.Set(s.stateDoc(entry.UserID), stateToDoc(state)); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
		result = state
		return nil
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, gocredits.ErrDuplicateOrder
		}
		return nil, err
	}
	return result, nil
}

// ApplyRefund implements gocredits.Storage.
func (s *Storage) ApplyRefund(ctx context.Context, orderID, userID string, mutate func(*gocredits.State, bool) error) (*gocredits.State, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	var result *gocredits.State

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		var entry *gocredits.LedgerEntry
		found := false

		snap, err := tx.Get(s.ledgerDoc(orderID))
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to get ledger entry: %w", err)
		}
		if err == nil {
			entry = entryFromDoc(orderID, snap.Data())
			found = entry.Status == gocredits.LedgerPaid
		}

		state, err := s.readStateTx(tx, userID)
		if err != nil {
			return err
		}
		if err := mutate(state, found); err != nil {
			return err
		}

		if found {
			entry.Status = gocredits.LedgerRefunded
			entry.UpdatedAt = state.UpdatedAt
			if err := tx.Set(s.ledgerDoc(orderID), entryToDoc(entry)); err != nil {
				return fmt.Errorf("failed to update ledger entry: %w", err)
			}
		}
		if err := tx.Set(s.stateDoc(userID), stateToDoc(state)); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
		result = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Storage) stateDoc(userID string) *firestore.DocumentRef {
	return s.client.Collection(s.statesCollection).Doc(userID)
}

func (s *Storage) ledgerDoc(orderID string) *firestore.DocumentRef {
	return s.client.Collection(s.ledgerCollection).Doc(orderID)
}

// readStateTx reads the user's state inside a transaction, returning a
// zero-value state when the document does not exist yet.
func (s *Storage) readStateTx(tx *firestore.Transaction, userID string) (*gocredits.State, error) {
	snap, err := tx.Get(s.stateDoc(userID))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return &gocredits.State{
				UserID: userID,
				Plan:   gocredits.PlanFree,
				Status: gocredits.StatusInactive,
			}, nil
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return stateFromDoc(userID, snap.Data()), nil
}

func stateToDoc(state *gocredits.State) map[string]interface{} {
	return map[string]interface{}{
		"credits":    state.Credits,
		"plan":       state.Plan,
		"status":     string(state.Status),
		"customerId": state.CustomerID,
		"updatedAt":  state.UpdatedAt,
	}
}

func stateFromDoc(userID string, data map[string]interface{}) *gocredits.State {
	return &gocredits.State{
		UserID:     userID,
		Credits:    int(getInt64(data, "credits")),
		Plan:       getString(data, "plan"),
		Status:     gocredits.Status(getString(data, "status")),
		CustomerID: getString(data, "customerId"),
		UpdatedAt:  getTime(data, "updatedAt"),
	}
}

func entryToDoc(entry *gocredits.LedgerEntry) map[string]interface{} {
	return map[string]interface{}{
		"userId":    entry.UserID,
		"amount":    entry.Amount,
		"currency":  entry.Currency,
		"status":    string(entry.Status),
		"createdAt": entry.CreatedAt,
		"updatedAt": entry.UpdatedAt,
	}
}

func entryFromDoc(orderID string, data map[string]interface{}) *gocredits.LedgerEntry {
	return &gocredits.LedgerEntry{
		OrderID:   orderID,
		UserID:    getString(data, "userId"),
		Amount:    getInt64(data, "amount"),
		Currency:  getString(data, "currency"),
		Status:    gocredits.LedgerStatus(getString(data, "status")),
		CreatedAt: getTime(data, "createdAt"),
		UpdatedAt: getTime(data, "updatedAt"),
	}
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt64(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
