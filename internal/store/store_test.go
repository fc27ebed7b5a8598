package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/listenupapp/circulation-server/internal/domain"
	"github.com/listenupapp/circulation-server/internal/id"
	"github.com/listenupapp/circulation-server/internal/sse"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary store for testing.
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "circulation-test-*")
	require.NoError(t, err)

	store, err := New(filepath.Join(tmpDir, "test.db"), nil, NewNoopEmitter())
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, cleanup
}

// recordingEmitter captures emitted events.
type recordingEmitter struct {
	mu     sync.Mutex
	events []sse.Event
}

func (r *recordingEmitter) Emit(event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if evt, ok := event.(sse.Event); ok {
		r.events = append(r.events, evt)
	}
}

func (r *recordingEmitter) types() []sse.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sse.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestBook(title, isbn string) *domain.Book {
	now := time.Now()
	b := &domain.Book{
		Title:     title,
		Author:    "Test Author",
		ISBN:      isbn,
		Condition: domain.ConditionGood,
		Status:    domain.BookAvailable,
		Language:  domain.DefaultLanguage,
		DateAdded: now,
	}
	b.ID = id.MustGenerate(id.PrefixBook)
	b.InitTimestamps(now)
	return b
}

func newTestBorrower(name, email string) *domain.Borrower {
	now := time.Now()
	b := &domain.Borrower{
		Name:           name,
		Email:          email,
		Status:         domain.BorrowerActive,
		MembershipDate: now,
	}
	b.ID = id.MustGenerate(id.PrefixBorrower)
	b.InitTimestamps(now)
	return b
}

func newTestLend(bookID, borrowerID string, at time.Time) *domain.Lend {
	return &domain.Lend{
		ID:              id.MustGenerate(id.PrefixLend),
		BookID:          bookID,
		BorrowerID:      borrowerID,
		TransactionDate: at,
		DueDate:         at.AddDate(0, 0, 14),
	}
}

func mustCreateBook(t *testing.T, s *Store, b *domain.Book) *domain.Book {
	t.Helper()
	require.NoError(t, s.CreateBook(context.Background(), b))
	return b
}

func mustCreateBorrower(t *testing.T, s *Store, b *domain.Borrower) *domain.Borrower {
	t.Helper()
	require.NoError(t, s.CreateBorrower(context.Background(), b))
	return b
}

// insertOpenLend writes a lend and flips the book to borrowed, the way the lending workflow does.
func insertOpenLend(t *testing.T, s *Store, l *domain.Lend) {
	t.Helper()
	err := s.Atomically(context.Background(), func(r Records) error {
		if err := r.InsertLend(l); err != nil {
			return err
		}
		book, err := r.GetBook(l.BookID)
		if err != nil {
			return err
		}
		book.Status = domain.BookBorrowed
		book.BorrowCount++
		return r.PutBook(book)
	})
	require.NoError(t, err)
}
