package store

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/circulation-server/internal/domain"
)

// LendFilter narrows ListLends. Zero values match everything.
type LendFilter struct {
	// Open selects open (true) or closed (false) lends when set.
	Open *bool
	// From and To bound transaction_date as [From, To).
	From time.Time
	To   time.Time
}

func (f LendFilter) match(l *domain.Lend) bool {
	if f.Open != nil && l.IsOpen() != *f.Open {
		return false
	}
	if !f.From.IsZero() && l.TransactionDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !l.TransactionDate.Before(f.To) {
		return false
	}
	return true
}

// newestFirst orders lends by transaction_date descending, id as tiebreak.
func newestFirst(a, b *domain.Lend) int {
	if c := b.TransactionDate.Compare(a.TransactionDate); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// GetLend retrieves a ledger record by ID.
func (s *Store) GetLend(ctx context.Context, id string) (*domain.Lend, error) {
	var l *domain.Lend
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		l, err = s.lends.Get(txn, id)
		return err
	})
	return l, err
}

// ListLends returns matching ledger records, newest first.
func (s *Store) ListLends(ctx context.Context, filter LendFilter) ([]*domain.Lend, error) {
	var out []*domain.Lend
	err := s.view(ctx, func(txn *badger.Txn) error {
		return s.lends.Scan(txn, func(l *domain.Lend) bool {
			if filter.match(l) {
				out = append(out, l)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, newestFirst)
	return out, nil
}

// ListOpenLends returns every lend that has not been returned, newest first.
// It reads the records themselves rather than the open_book index so that
// reconciliation sees the ledger as written.
func (s *Store) ListOpenLends(ctx context.Context) ([]*domain.Lend, error) {
	open := true
	return s.ListLends(ctx, LendFilter{Open: &open})
}

// ListLendsByBorrower returns a borrower's history, newest first.
func (s *Store) ListLendsByBorrower(ctx context.Context, borrowerID string) ([]*domain.Lend, error) {
	var out []*domain.Lend
	err := s.view(ctx, func(txn *badger.Txn) error {
		ids, err := s.lends.IndexIDs(txn, indexBorrower, borrowerID)
		if err != nil {
			return err
		}
		out, err = s.lends.GetMany(txn, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, newestFirst)
	return out, nil
}

// OpenLendForBook returns the book's open lend, or nil when it has none.
func (s *Store) OpenLendForBook(ctx context.Context, bookID string) (*domain.Lend, error) {
	var l *domain.Lend
	err := s.view(ctx, func(txn *badger.Txn) error {
		id, err := s.lends.Lookup(txn, indexOpenBook, bookID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		l, err = s.lends.Get(txn, id)
		return err
	})
	return l, err
}

// OpenLendsByBook maps book ids to their open lends. Used to decorate
// book listings with who has each book out.
func (s *Store) OpenLendsByBook(ctx context.Context) (map[string]*domain.Lend, error) {
	out := make(map[string]*domain.Lend)
	err := s.view(ctx, func(txn *badger.Txn) error {
		ids, err := s.lends.IndexIDs(txn, indexOpenBook, "")
		if err != nil {
			return err
		}
		lends, err := s.lends.GetMany(txn, ids)
		if err != nil {
			return err
		}
		for _, l := range lends {
			out[l.BookID] = l
		}
		return nil
	})
	return out, err
}
