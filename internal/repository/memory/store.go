// Package memory is an in-process transaction store with the same contract
// as the postgres one. It backs the tests of the packages built on the store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/openbuilders/pix-bridge/internal/repository"
	"github.com/openbuilders/pix-bridge/internal/types"
)

type Store struct {
	mu           sync.Mutex
	transactions map[string]types.Transaction
	now          func() time.Time
}

func New() *Store {
	return &Store{
		transactions: make(map[string]types.Transaction),
		now:          time.Now,
	}
}

func (s *Store) Create(_ context.Context, tx *types.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[tx.ExternalEntryID]; ok {
		return repository.ErrDuplicate
	}

	now := s.now()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	s.transactions[tx.ExternalEntryID] = clone(*tx)

	return nil
}

func (s *Store) GetByExternalEntryID(_ context.Context, entryID string) (
	*types.Transaction, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[entryID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	out := clone(tx)
	return &out, nil
}

func (s *Store) ExistsByExternalEntryID(_ context.Context, entryID string) (
	bool, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.transactions[entryID]
	return ok, nil
}

func (s *Store) CompareAndTransition(_ context.Context, entryID string,
	from, to types.Status, fields repository.TransitionFields) (
	*types.Transaction, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[entryID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	if tx.Status != from {
		return nil, repository.ErrConflict
	}

	// the caller gets the message references, the stored copy loses them
	out := clone(tx)

	tx.Status = to
	if fields.SettlementReference != "" {
		tx.SettlementReference = fields.SettlementReference
	}
	tx.QRMessageID = nil
	tx.ReminderMessageID = nil
	tx.UpdatedAt = s.now()
	s.transactions[entryID] = tx

	out.Status = tx.Status
	out.SettlementReference = tx.SettlementReference
	out.UpdatedAt = tx.UpdatedAt

	return &out, nil
}

func (s *Store) SetReminderMessage(_ context.Context, entryID string,
	messageID int64) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[entryID]
	if !ok {
		return repository.ErrNotFound
	}

	if tx.Status != types.StatusPending {
		return repository.ErrConflict
	}

	tx.ReminderMessageID = &messageID
	tx.UpdatedAt = s.now()
	s.transactions[entryID] = tx

	return nil
}

func clone(tx types.Transaction) types.Transaction {
	if tx.QRMessageID != nil {
		id := *tx.QRMessageID
		tx.QRMessageID = &id
	}

	if tx.ReminderMessageID != nil {
		id := *tx.ReminderMessageID
		tx.ReminderMessageID = &id
	}

	return tx
}
