// Package memory provides an in-memory implementation of the
// gocredits.Storage interface. It is primarily intended for testing and
// development; a single mutex stands in for the per-user row locking a
// database backend provides.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

// Storage implements gocredits.Storage using in-memory maps.
type Storage struct {
	mu     sync.Mutex
	states map[string]*gocredits.State
	ledger map[string]*gocredits.LedgerEntry
}

// New creates a new in-memory storage adapter.
func New() *Storage {
	return &Storage{
		states: make(map[string]*gocredits.State),
		ledger: make(map[string]*gocredits.LedgerEntry),
	}
}

// GetState implements gocredits.Storage.
func (s *Storage) GetState(ctx context.Context, userID string) (*gocredits.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[userID]
	if !ok {
		return nil, gocredits.ErrStateNotFound
	}

	// Return a copy to prevent external mutations.
	stateCopy := *state
	return &stateCopy, nil
}

// UpdateState implements gocredits.Storage.
func (s *Storage) UpdateState(ctx context.Context, userID string, mutate func(*gocredits.State) error) (*gocredits.State, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateStateLocked(userID, mutate)
}

func (s *Storage) updateStateLocked(userID string, mutate func(*gocredits.State) error) (*gocredits.State, error) {
	working := gocredits.State{UserID: userID, Plan: gocredits.PlanFree, Status: gocredits.StatusInactive}
	if cur, ok := s.states[userID]; ok {
		working = *cur
	}

	if err := mutate(&working); err != nil {
		return nil, err
	}

	stored := working
	s.states[userID] = &stored

	result := working
	return &result, nil
}

// HasProcessed implements gocredits.Storage.
func (s *Storage) HasProcessed(ctx context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.ledger[orderID]
	return ok, nil
}

// GetLedgerEntry implements gocredits.Storage.
func (s *Storage) GetLedgerEntry(ctx context.Context, orderID string) (*gocredits.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.ledger[orderID]
	if !ok {
		return nil, gocredits.ErrOrderNotFound
	}

	entryCopy := *entry
	return &entryCopy, nil
}

// RecordOrder implements gocredits.Storage. The ledger insert and the state
// mutation happen under one lock, so concurrent deliveries of the same
// order serialize and exactly one of them commits.
func (s *Storage) RecordOrder(ctx context.Context, entry *gocredits.LedgerEntry, mutate func(*gocredits.State) error) (*gocredits.State, error) {
	if entry == nil || entry.OrderID == "" || entry.UserID == "" {
		return nil, fmt.Errorf("invalid ledger entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ledger[entry.OrderID]; ok {
		return nil, gocredits.ErrDuplicateOrder
	}

	state, err := s.updateStateLocked(entry.UserID, mutate)
	if err != nil {
		return nil, err
	}

	entryCopy := *entry
	s.ledger[entry.OrderID] = &entryCopy
	return state, nil
}

// ApplyRefund implements gocredits.Storage.
func (s *Storage) ApplyRefund(ctx context.Context, orderID, userID string, mutate func(*gocredits.State, bool) error) (*gocredits.State, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found := s.ledger[orderID]
	found = found && entry.Status == gocredits.LedgerPaid

	state, err := s.updateStateLocked(userID, func(st *gocredits.State) error {
		return mutate(st, found)
	})
	if err != nil {
		return nil, err
	}

	if found {
		entry.Status = gocredits.LedgerRefunded
		entry.UpdatedAt = state.UpdatedAt
	}
	return state, nil
}
