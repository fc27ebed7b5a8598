package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/circulation-server/internal/domain"
	domainerrors "github.com/listenupapp/circulation-server/internal/errors"
	"github.com/listenupapp/circulation-server/internal/logger"
	"github.com/listenupapp/circulation-server/internal/search"
	"github.com/listenupapp/circulation-server/internal/sse"
	"github.com/listenupapp/circulation-server/internal/store"
	"github.com/listenupapp/circulation-server/internal/store/sqlite"
)

// testEnv wires every service over temp-dir stores and a settable clock.
type testEnv struct {
	store     *store.Store
	index     *search.SearchIndex
	contacts  *sqlite.Store
	events    *recordingEmitter
	catalog   *CatalogService
	borrowers *BorrowerService
	circ      *CirculationService
	txns      *TransactionService

	mu  sync.Mutex
	now time.Time
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func (e *testEnv) today() time.Time {
	n := e.clock()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, n.Location())
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

func (r *recordingEmitter) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
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

func setupTestEnv(t *testing.T, configure ...func(*Policy)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	log := logger.Discard()

	env := &testEnv{
		events: &recordingEmitter{},
		now:    time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC),
	}

	st, err := store.New(filepath.Join(dir, "db"), log, env.events)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	index, err := search.NewSearchIndex(search.Options{DataPath: filepath.Join(dir, "search"), Logger: log})
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })
	st.SetSearchIndexer(index)

	contacts, err := sqlite.Open(filepath.Join(dir, "annotations.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { contacts.Close() })

	policy := Policy{
		FineRatePerDay: 0.50,
		Location:       time.UTC,
		Now:            env.clock,
	}
	for _, fn := range configure {
		fn(&policy)
	}

	env.store = st
	env.index = index
	env.contacts = contacts
	env.catalog = NewCatalogService(st, index, policy, log)
	env.borrowers = NewBorrowerService(st, index, policy, log)
	env.circ = NewCirculationService(st, policy, log)
	env.txns = NewTransactionService(st, contacts, policy, log)
	return env
}

func allowPastDue(p *Policy) { p.AllowPastDue = true }

func (e *testEnv) addBook(t *testing.T, title string) *domain.Book {
	t.Helper()
	b, err := e.catalog.CreateBook(context.Background(), BookInput{Title: title, Author: "Test Author"})
	require.NoError(t, err)
	return b
}

func (e *testEnv) addBorrower(t *testing.T, name, email string, status domain.BorrowerStatus) *domain.Borrower {
	t.Helper()
	b, err := e.borrowers.CreateBorrower(context.Background(), BorrowerInput{Name: name, Email: email, Status: status})
	require.NoError(t, err)
	return b
}

func (e *testEnv) lend(t *testing.T, book *domain.Book, borrower *domain.Borrower, days int) *domain.Lend {
	t.Helper()
	l, err := e.circ.Lend(context.Background(), LendRequest{
		BookID:     book.ID,
		BorrowerID: borrower.ID,
		DueDate:    e.today().AddDate(0, 0, days),
	})
	require.NoError(t, err)
	return l
}

func (e *testEnv) book(t *testing.T, bookID string) *domain.Book {
	t.Helper()
	b, err := e.store.GetBook(context.Background(), bookID)
	require.NoError(t, err)
	return b
}

// assertDomainError checks the code and exact message of a service error.
func assertDomainError(t *testing.T, err error, code domainerrors.Code, msg string) {
	t.Helper()
	var derr *domainerrors.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, code, derr.Code)
	if msg != "" {
		assert.Equal(t, msg, derr.Message)
	}
}

// assertStatusMatchesLedger checks that every book is borrowed exactly
// when the ledger holds one open lend for it.
func assertStatusMatchesLedger(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()

	books, err := st.ListBooks(ctx)
	require.NoError(t, err)
	open, err := st.ListOpenLends(ctx)
	require.NoError(t, err)

	count := make(map[string]int)
	for _, l := range open {
		count[l.BookID]++
	}
	for _, b := range books {
		assert.LessOrEqual(t, count[b.ID], 1, "book %s has several open lends", b.ID)
		assert.Equal(t, count[b.ID] == 1, b.Status == domain.BookBorrowed,
			"book %s status %s with %d open lends", b.ID, b.Status, count[b.ID])
	}
}
