// Package store persists circulation records in BadgerDB.
//
// Books, borrowers, categories and the lend ledger each live under their own
// key prefix. Writes that must agree with each other (a lend and its book's
// status flip) run in one badger transaction through Store.Atomically.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"

	"github.com/listenupapp/circulation-server/internal/domain"
	"github.com/listenupapp/circulation-server/internal/util"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	bookPrefix     = "book:"
	borrowerPrefix = "borrower:"
	categoryPrefix = "category:"
	lendPrefix     = "lend:"
)

// Index names.
const (
	indexISBN     = "isbn"
	indexEmail    = "email"
	indexSlug     = "slug"
	indexOpenBook = "open_book"
	indexBorrower = "borrower"
)

// EventEmitter is the interface for emitting SSE events.
// Store uses this to broadcast committed changes without depending on SSE internals.
type EventEmitter interface {
	Emit(event any)
}

// NoopEmitter is a no-op implementation of EventEmitter for testing.
type NoopEmitter struct{}

// Emit implements EventEmitter.Emit as a no-op.
func (NoopEmitter) Emit(_ any) {}

// NewNoopEmitter creates a new no-op emitter for testing.
func NewNoopEmitter() EventEmitter {
	return NoopEmitter{}
}

// SearchIndexer keeps the search index in step with committed writes.
type SearchIndexer interface {
	IndexBook(ctx context.Context, book *domain.Book) error
	DeleteBook(ctx context.Context, bookID string) error
	IndexBorrower(ctx context.Context, b *domain.Borrower) error
	DeleteBorrower(ctx context.Context, borrowerID string) error
}

// NoopSearchIndexer is a no-op implementation for testing.
type NoopSearchIndexer struct{}

// IndexBook is a no-op.
func (NoopSearchIndexer) IndexBook(context.Context, *domain.Book) error { return nil }

// DeleteBook is a no-op.
func (NoopSearchIndexer) DeleteBook(context.Context, string) error { return nil }

// IndexBorrower is a no-op.
func (NoopSearchIndexer) IndexBorrower(context.Context, *domain.Borrower) error { return nil }

// DeleteBorrower is a no-op.
func (NoopSearchIndexer) DeleteBorrower(context.Context, string) error { return nil }

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	eventEmitter EventEmitter

	// Set via SetSearchIndexer after creation; the index is built from the store.
	searchIndexer SearchIndexer

	books      *Entity[domain.Book]
	borrowers  *Entity[domain.Borrower]
	categories *Entity[domain.Category]
	lends      *Entity[domain.Lend]
}

// New opens (or creates) the database at path.
func New(path string, logger *slog.Logger, emitter EventEmitter) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil            // Disable Badger's internal logging
	opts.SyncWrites = true       // A committed lend must survive a crash
	opts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if emitter == nil {
		emitter = NoopEmitter{}
	}

	s := &Store{
		db:            db,
		logger:        logger,
		eventEmitter:  emitter,
		searchIndexer: NoopSearchIndexer{},
	}
	s.initEntities()

	logger.Info("Badger database opened successfully", "path", path)
	return s, nil
}

func (s *Store) initEntities() {
	s.books = NewEntity[domain.Book](bookPrefix).
		WithIndexTransform(indexISBN,
			func(b *domain.Book) []string {
				if isbn := util.NormalizeISBN(b.ISBN); isbn != "" {
					return []string{isbn}
				}
				return nil
			},
			util.NormalizeISBN,
		)

	s.borrowers = NewEntity[domain.Borrower](borrowerPrefix).
		WithIndexTransform(indexEmail,
			func(b *domain.Borrower) []string {
				return []string{util.NormalizeEmail(b.Email)}
			},
			util.NormalizeEmail,
		)

	s.categories = NewEntity[domain.Category](categoryPrefix).
		WithIndexTransform(indexSlug,
			func(c *domain.Category) []string { return []string{c.Slug} },
			util.Slugify,
		)

	// open_book holds one key per book while a lend is open. Its uniqueness
	// is the storage-level backstop for "at most one open lend per book".
	s.lends = NewEntity[domain.Lend](lendPrefix).
		WithIndex(indexOpenBook, func(l *domain.Lend) []string {
			if l.IsOpen() {
				return []string{l.BookID}
			}
			return nil
		}).
		WithMultiIndex(indexBorrower, func(l *domain.Lend) []string {
			return []string{l.BorrowerID}
		})
}

// Close gracefully closes the database connection.
func (s *Store) Close() error {
	s.logger.Info("Closing database connection")
	return s.db.Close()
}

// SetSearchIndexer sets the search indexer for keeping search in sync.
func (s *Store) SetSearchIndexer(indexer SearchIndexer) {
	if indexer == nil {
		indexer = NoopSearchIndexer{}
	}
	s.searchIndexer = indexer
}

// Ping checks that the database answers reads.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("database is closed")
	}
	return s.db.View(func(*badger.Txn) error { return nil })
}

// view runs fn in a read-only transaction.
func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// update runs fn in a read-write transaction. A lost optimistic race is
// reported as ErrConflict.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		return ErrConflict.WithCause(err)
	}
	return err
}

func (s *Store) indexBook(ctx context.Context, book *domain.Book) {
	if err := s.searchIndexer.IndexBook(ctx, book); err != nil {
		s.logger.Warn("failed to index book", "book_id", book.ID, "error", err)
	}
}

func (s *Store) indexBorrower(ctx context.Context, b *domain.Borrower) {
	if err := s.searchIndexer.IndexBorrower(ctx, b); err != nil {
		s.logger.Warn("failed to index borrower", "borrower_id", b.ID, "error", err)
	}
}
