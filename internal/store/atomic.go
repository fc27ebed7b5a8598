package store

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/circulation-server/internal/domain"
	"github.com/listenupapp/circulation-server/internal/sse"
)

// Records is the view of the store available inside an atomic unit of work.
// Every read joins the transaction's conflict set and every write becomes
// visible only if the whole unit commits.
type Records interface {
	GetBook(id string) (*domain.Book, error)
	PutBook(book *domain.Book) error
	GetBorrower(id string) (*domain.Borrower, error)
	// PutBorrower rewrites a borrower. Writing the borrower a lend names
	// makes the lend conflict with a concurrent delete of that borrower.
	PutBorrower(b *domain.Borrower) error
	GetLend(id string) (*domain.Lend, error)
	InsertLend(lend *domain.Lend) error
	PutLend(lend *domain.Lend) error
	// OpenLendForBook returns nil, nil when the book has no open lend.
	OpenLendForBook(bookID string) (*domain.Lend, error)
}

// Atomically runs fn as a single badger transaction. If fn returns an error
// nothing is written. If another transaction committed a conflicting write
// first, the result is ErrConflict and nothing is written.
//
// Events and search updates for the records fn touched are published only
// after a successful commit.
func (s *Store) Atomically(ctx context.Context, fn func(Records) error) error {
	var recs *txRecords
	err := s.update(ctx, func(txn *badger.Txn) error {
		recs = &txRecords{s: s, txn: txn}
		return fn(recs)
	})
	if err != nil {
		return err
	}

	for _, book := range recs.books {
		s.indexBook(ctx, book)
	}
	for _, evt := range recs.events {
		s.eventEmitter.Emit(evt)
	}
	return nil
}

type txRecords struct {
	s      *Store
	txn    *badger.Txn
	events []sse.Event
	books  []*domain.Book
}

func (r *txRecords) GetBook(id string) (*domain.Book, error) {
	return r.s.books.Get(r.txn, id)
}

func (r *txRecords) PutBook(book *domain.Book) error {
	if err := r.s.books.Update(r.txn, book.ID, book); err != nil {
		return err
	}
	r.books = append(r.books, book)
	r.events = append(r.events, sse.NewBookUpdatedEvent(book))
	return nil
}

func (r *txRecords) GetBorrower(id string) (*domain.Borrower, error) {
	return r.s.borrowers.Get(r.txn, id)
}

func (r *txRecords) PutBorrower(b *domain.Borrower) error {
	return r.s.borrowers.Update(r.txn, b.ID, b)
}

func (r *txRecords) GetLend(id string) (*domain.Lend, error) {
	return r.s.lends.Get(r.txn, id)
}

func (r *txRecords) InsertLend(lend *domain.Lend) error {
	if err := r.s.lends.Create(r.txn, lend.ID, lend); err != nil {
		return err
	}
	r.events = append(r.events, sse.NewLendCreatedEvent(lend))
	return nil
}

func (r *txRecords) PutLend(lend *domain.Lend) error {
	if err := r.s.lends.Update(r.txn, lend.ID, lend); err != nil {
		return err
	}
	if !lend.IsOpen() {
		r.events = append(r.events, sse.NewLendReturnedEvent(lend))
	}
	return nil
}

func (r *txRecords) OpenLendForBook(bookID string) (*domain.Lend, error) {
	id, err := r.s.lends.Lookup(r.txn, indexOpenBook, bookID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.s.lends.Get(r.txn, id)
}
