package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/circulation-server/internal/domain"
	"github.com/listenupapp/circulation-server/internal/sse"
)

// CreateBorrower stores a new borrower. The email must be unique, case-insensitively.
func (s *Store) CreateBorrower(ctx context.Context, b *domain.Borrower) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return s.borrowers.Create(txn, b.ID, b)
	})
	if err != nil {
		return err
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "borrower created",
		slog.String("id", b.ID),
		slog.String("email", b.Email),
	)
	s.indexBorrower(ctx, b)
	s.eventEmitter.Emit(sse.NewBorrowerCreatedEvent(b))
	return nil
}

// GetBorrower retrieves a borrower by ID.
func (s *Store) GetBorrower(ctx context.Context, id string) (*domain.Borrower, error) {
	var b *domain.Borrower
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		b, err = s.borrowers.Get(txn, id)
		return err
	})
	return b, err
}

// GetBorrowerByEmail finds a borrower by email, ignoring case.
func (s *Store) GetBorrowerByEmail(ctx context.Context, email string) (*domain.Borrower, error) {
	var b *domain.Borrower
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		b, err = s.borrowers.GetByIndex(txn, indexEmail, email)
		return err
	})
	return b, err
}

// UpdateBorrower loads a borrower, applies mutate, and saves it in one transaction.
func (s *Store) UpdateBorrower(ctx context.Context, id string, mutate func(*domain.Borrower) error) (*domain.Borrower, error) {
	var b *domain.Borrower
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		b, err = s.borrowers.Get(txn, id)
		if err != nil {
			return err
		}
		if err := mutate(b); err != nil {
			return err
		}
		return s.borrowers.Update(txn, id, b)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("borrower updated", "id", b.ID, "status", b.Status)
	s.indexBorrower(ctx, b)
	s.eventEmitter.Emit(sse.NewBorrowerUpdatedEvent(b))
	return b, nil
}

// DeleteBorrower removes a borrower. A borrower holding any open lend returns ErrInUse.
// A lend committed for the borrower while the delete runs makes it fail
// with ErrConflict, because lends rewrite the borrower they name.
func (s *Store) DeleteBorrower(ctx context.Context, id string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return s.deleteBorrower(txn, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("borrower deleted", "id", id)
	if err := s.searchIndexer.DeleteBorrower(ctx, id); err != nil {
		s.logger.Warn("failed to remove borrower from search index", "borrower_id", id, "error", err)
	}
	s.eventEmitter.Emit(sse.NewBorrowerDeletedEvent(id, time.Now()))
	return nil
}

// ListBorrowers returns every borrower in key order.
func (s *Store) ListBorrowers(ctx context.Context) ([]*domain.Borrower, error) {
	var out []*domain.Borrower
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = s.borrowers.All(txn)
		return err
	})
	return out, err
}

// GetBorrowersByIDs loads several borrowers at once, skipping ids that do not resolve.
func (s *Store) GetBorrowersByIDs(ctx context.Context, ids []string) (map[string]*domain.Borrower, error) {
	out := make(map[string]*domain.Borrower, len(ids))
	err := s.view(ctx, func(txn *badger.Txn) error {
		list, err := s.borrowers.GetMany(txn, ids)
		if err != nil {
			return err
		}
		for _, b := range list {
			out[b.ID] = b
		}
		return nil
	})
	return out, err
}

func (s *Store) deleteBorrower(txn *badger.Txn, id string) error {
	if _, err := s.borrowers.Get(txn, id); err != nil {
		return err
	}

	ids, err := s.lends.IndexIDs(txn, indexBorrower, id)
	if err != nil {
		return err
	}
	lends, err := s.lends.GetMany(txn, ids)
	if err != nil {
		return err
	}
	for _, l := range lends {
		if l.IsOpen() {
			return ErrInUse
		}
	}
	return s.borrowers.Delete(txn, id)
}
