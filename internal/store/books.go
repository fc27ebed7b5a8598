package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/circulation-server/internal/domain"
	"github.com/listenupapp/circulation-server/internal/sse"
)

// CreateBook stores a new book. A duplicate ISBN returns ErrAlreadyExists.
func (s *Store) CreateBook(ctx context.Context, book *domain.Book) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return s.books.Create(txn, book.ID, book)
	})
	if err != nil {
		return err
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "book created",
		slog.String("id", book.ID),
		slog.String("title", book.Title),
		slog.String("isbn", book.ISBN),
	)
	s.indexBook(ctx, book)
	s.eventEmitter.Emit(sse.NewBookCreatedEvent(book))
	return nil
}

// GetBook retrieves a book by ID.
func (s *Store) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	var book *domain.Book
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		book, err = s.books.Get(txn, id)
		return err
	})
	return book, err
}

// GetBookByISBN finds a book by ISBN, ignoring hyphens and spaces.
func (s *Store) GetBookByISBN(ctx context.Context, isbn string) (*domain.Book, error) {
	var book *domain.Book
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		book, err = s.books.GetByIndex(txn, indexISBN, isbn)
		return err
	})
	return book, err
}

// BookMutator edits a book in place. hasOpenLend reports whether the ledger
// currently has the book out, read in the same transaction as the write.
type BookMutator func(book *domain.Book, hasOpenLend bool) error

// UpdateBook loads a book, applies mutate, and saves it in one transaction.
// An error from mutate aborts the update and is returned unchanged.
func (s *Store) UpdateBook(ctx context.Context, id string, mutate BookMutator) (*domain.Book, error) {
	var book *domain.Book
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		book, err = s.books.Get(txn, id)
		if err != nil {
			return err
		}

		open, err := s.hasOpenLend(txn, id)
		if err != nil {
			return err
		}
		if err := mutate(book, open); err != nil {
			return err
		}
		return s.books.Update(txn, id, book)
	})
	if err != nil {
		return nil, err
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "book updated",
		slog.String("id", book.ID),
		slog.String("status", string(book.Status)),
	)
	s.indexBook(ctx, book)
	s.eventEmitter.Emit(sse.NewBookUpdatedEvent(book))
	return book, nil
}

// DeleteBook removes a book. A book that is borrowed, or that the ledger
// still shows as out, returns ErrInUse. Closed lends keep their book_id.
func (s *Store) DeleteBook(ctx context.Context, id string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		book, err := s.books.Get(txn, id)
		if err != nil {
			return err
		}

		open, err := s.hasOpenLend(txn, id)
		if err != nil {
			return err
		}
		if open || book.Status == domain.BookBorrowed {
			return ErrInUse
		}
		return s.books.Delete(txn, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("book deleted", "id", id)
	if err := s.searchIndexer.DeleteBook(ctx, id); err != nil {
		s.logger.Warn("failed to remove book from search index", "book_id", id, "error", err)
	}
	s.eventEmitter.Emit(sse.NewBookDeletedEvent(id, time.Now()))
	return nil
}

// ListBooks returns every book in key order.
func (s *Store) ListBooks(ctx context.Context) ([]*domain.Book, error) {
	var books []*domain.Book
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		books, err = s.books.All(txn)
		return err
	})
	return books, err
}

// GetBooksByIDs loads several books at once, skipping ids that do not resolve.
func (s *Store) GetBooksByIDs(ctx context.Context, ids []string) (map[string]*domain.Book, error) {
	out := make(map[string]*domain.Book, len(ids))
	err := s.view(ctx, func(txn *badger.Txn) error {
		books, err := s.books.GetMany(txn, ids)
		if err != nil {
			return err
		}
		for _, b := range books {
			out[b.ID] = b
		}
		return nil
	})
	return out, err
}

// CountBooks returns the number of books.
func (s *Store) CountBooks(ctx context.Context) (int, error) {
	count := 0
	err := s.view(ctx, func(txn *badger.Txn) error {
		return s.books.Scan(txn, func(*domain.Book) bool {
			count++
			return true
		})
	})
	return count, err
}

func (s *Store) hasOpenLend(txn *badger.Txn, bookID string) (bool, error) {
	_, err := s.lends.Lookup(txn, indexOpenBook, bookID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
