package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/listenupapp/circulation-server/internal/domain"
	domainerrors "github.com/listenupapp/circulation-server/internal/errors"
	"github.com/listenupapp/circulation-server/internal/sse"
	"github.com/listenupapp/circulation-server/internal/store"
)

func TestLend_Success(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	book := env.addBook(t, "The Great Gatsby")
	borrower := env.addBorrower(t, "Jane Reader", "jane@example.com", domain.BorrowerActive)
	env.events.reset()

	due := env.today().AddDate(0, 0, 14)
	lend, err := env.circ.Lend(ctx, LendRequest{
		BookID:     book.ID,
		BorrowerID: borrower.ID,
		DueDate:    due,
		Notes:      "first checkout",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, lend.ID)
	assert.Equal(t, book.ID, lend.BookID)
	assert.Equal(t, borrower.ID, lend.BorrowerID)
	assert.True(t, lend.DueDate.Equal(due))
	assert.True(t, lend.TransactionDate.Equal(env.clock()))
	assert.True(t, lend.IsOpen())

	got := env.book(t, book.ID)
	assert.Equal(t, domain.BookBorrowed, got.Status)
	assert.Equal(t, 1, got.BorrowCount)

	assert.ElementsMatch(t, []sse.EventType{sse.EventLendCreated, sse.EventBookUpdated}, env.events.types())
	assertStatusMatchesLedger(t, env.store)
}

func TestLend_ValidationErrors(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	book := env.addBook(t, "Dune")
	borrower := env.addBorrower(t, "Paul", "paul@example.com", domain.BorrowerActive)

	tests := []struct {
		name string
		req  LendRequest
		msg  string
	}{
		{"missing book", LendRequest{BorrowerID: borrower.ID, DueDate: env.today()}, ""},
		{"missing borrower", LendRequest{BookID: book.ID, DueDate: env.today()}, ""},
		{"missing due date", LendRequest{BookID: book.ID, BorrowerID: borrower.ID}, ""},
		{"due yesterday", LendRequest{BookID: book.ID, BorrowerID: borrower.ID, DueDate: env.today().AddDate(0, 0, -1)}, MsgDueDateInPast},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.circ.Lend(ctx, tt.req)
			assertDomainError(t, err, domainerrors.CodeValidation, tt.msg)
		})
	}

	assert.Equal(t, domain.BookAvailable, env.book(t, book.ID).Status)
}

func TestLend_DueTodayAllowed(t *testing.T) {
	env := setupTestEnv(t)
	book := env.addBook(t, "Emma")
	borrower := env.addBorrower(t, "Anne", "anne@example.com", domain.BorrowerActive)

	lend := env.lend(t, book, borrower, 0)
	assert.True(t, lend.DueDate.Equal(env.today()))
}

func TestLend_BookNotFound(t *testing.T) {
	env := setupTestEnv(t)
	borrower := env.addBorrower(t, "Anne", "anne@example.com", domain.BorrowerActive)

	_, err := env.circ.Lend(context.Background(), LendRequest{
		BookID:     "book-missing",
		BorrowerID: borrower.ID,
		DueDate:    env.today().AddDate(0, 0, 7),
	})
	assertDomainError(t, err, domainerrors.CodeNotFound, MsgBookNotFound)

	lends, err := env.store.ListLends(context.Background(), store.LendFilter{})
	require.NoError(t, err)
	assert.Empty(t, lends)
}

func TestLend_BorrowerNotFound(t *testing.T) {
	env := setupTestEnv(t)
	book := env.addBook(t, "Emma")

	_, err := env.circ.Lend(context.Background(), LendRequest{
		BookID:     book.ID,
		BorrowerID: "brw-missing",
		DueDate:    env.today().AddDate(0, 0, 7),
	})
	assertDomainError(t, err, domainerrors.CodeNotFound, MsgBorrowerNotFound)
	assert.Equal(t, domain.BookAvailable, env.book(t, book.ID).Status)
}

func TestLend_InactiveBorrowerWritesNothing(t *testing.T) {
	for _, status := range []domain.BorrowerStatus{domain.BorrowerSuspended, domain.BorrowerInactive} {
		t.Run(string(status), func(t *testing.T) {
			env := setupTestEnv(t)
			ctx := context.Background()
			book := env.addBook(t, "Middlemarch")
			borrower := env.addBorrower(t, "Dorothea", "dorothea@example.com", status)

			_, err := env.circ.Lend(ctx, LendRequest{
				BookID:     book.ID,
				BorrowerID: borrower.ID,
				DueDate:    env.today().AddDate(0, 0, 14),
			})
			assertDomainError(t, err, domainerrors.CodePreconditionFailed, MsgBorrowerNotActive)

			got := env.book(t, book.ID)
			assert.Equal(t, domain.BookAvailable, got.Status)
			assert.Zero(t, got.BorrowCount)

			lends, err := env.store.ListLends(ctx, store.LendFilter{})
			require.NoError(t, err)
			assert.Empty(t, lends)
		})
	}
}

func TestLend_UnavailableStatuses(t *testing.T) {
	for _, status := range []domain.BookStatus{domain.BookMaintenance, domain.BookLost} {
		t.Run(string(status), func(t *testing.T) {
			env := setupTestEnv(t)
			book, err := env.catalog.CreateBook(context.Background(), BookInput{Title: "Ulysses", Author: "Joyce", Status: status})
			require.NoError(t, err)
			borrower := env.addBorrower(t, "Leopold", "leopold@example.com", domain.BorrowerActive)

			_, err = env.circ.Lend(context.Background(), LendRequest{
				BookID:     book.ID,
				BorrowerID: borrower.ID,
				DueDate:    env.today().AddDate(0, 0, 14),
			})
			assertDomainError(t, err, domainerrors.CodePreconditionFailed, MsgBookNotAvailable)
			assert.Equal(t, status, env.book(t, book.ID).Status)
		})
	}
}

func TestLend_AlreadyBorrowed(t *testing.T) {
	env := setupTestEnv(t)
	book := env.addBook(t, "Beloved")
	first := env.addBorrower(t, "Sethe", "sethe@example.com", domain.BorrowerActive)
	second := env.addBorrower(t, "Denver", "denver@example.com", domain.BorrowerActive)

	env.lend(t, book, first, 14)

	_, err := env.circ.Lend(context.Background(), LendRequest{
		BookID:     book.ID,
		BorrowerID: second.ID,
		DueDate:    env.today().AddDate(0, 0, 14),
	})
	assertDomainError(t, err, domainerrors.CodePreconditionFailed, MsgBookNotAvailable)
	assert.Equal(t, 1, env.book(t, book.ID).BorrowCount)
}

func TestLend_ConcurrentLendsOneWinner(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	book := env.addBook(t, "Contested Copy")

	const n = 10
	borrowers := make([]*domain.Borrower, n)
	for i := range n {
		borrowers[i] = env.addBorrower(t, "Borrower", "b"+string(rune('a'+i))+"@example.com", domain.BorrowerActive)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		failures []error
	)
	due := env.today().AddDate(0, 0, 14)
	for i := range n {
		wg.Add(1)
		go func(b *domain.Borrower) {
			defer wg.Done()
			_, err := env.circ.Lend(ctx, LendRequest{BookID: book.ID, BorrowerID: b.ID, DueDate: due})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
				return
			}
			failures = append(failures, err)
		}(borrowers[i])
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	require.Len(t, failures, n-1)
	for _, err := range failures {
		assertDomainError(t, err, domainerrors.CodePreconditionFailed, MsgBookNotAvailable)
	}

	open, err := env.store.ListOpenLends(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	got := env.book(t, book.ID)
	assert.Equal(t, domain.BookBorrowed, got.Status)
	assert.Equal(t, 1, got.BorrowCount)
	assertStatusMatchesLedger(t, env.store)
}

func TestLend_SameBorrowerDifferentBooksConcurrently(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	borrower := env.addBorrower(t, "Avid", "avid@example.com", domain.BorrowerActive)
	first := env.addBook(t, "First")
	second := env.addBook(t, "Second")

	due := env.today().AddDate(0, 0, 14)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, book := range []*domain.Book{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.circ.Lend(ctx, LendRequest{BookID: book.ID, BorrowerID: borrower.ID, DueDate: due})
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	open, err := env.store.ListOpenLends(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)
	assertStatusMatchesLedger(t, env.store)
}

// conflictingRunner reports a lost commit race for the first n units.
func conflictingRunner(env *testEnv, n int, calls *int) atomicRunner {
	return func(ctx context.Context, fn func(store.Records) error) error {
		*calls++
		if *calls <= n {
			return store.ErrConflict
		}
		return env.store.Atomically(ctx, fn)
	}
}

func TestLend_RetriesAfterConflict(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	book := env.addBook(t, "Retry")
	borrower := env.addBorrower(t, "Patient", "patient@example.com", domain.BorrowerActive)

	var calls int
	env.circ.runAtomic = conflictingRunner(env, maxLendAttempts-1, &calls)

	lend, err := env.circ.Lend(ctx, LendRequest{
		BookID:     book.ID,
		BorrowerID: borrower.ID,
		DueDate:    env.today().AddDate(0, 0, 14),
	})
	require.NoError(t, err)
	assert.Equal(t, maxLendAttempts, calls)
	assert.True(t, lend.IsOpen())
	assert.Equal(t, domain.BookBorrowed, env.book(t, book.ID).Status)
}

func TestLend_ConflictRetriesAreBounded(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	book := env.addBook(t, "Hot")
	borrower := env.addBorrower(t, "Unlucky", "unlucky@example.com", domain.BorrowerActive)

	var calls int
	env.circ.runAtomic = conflictingRunner(env, maxLendAttempts, &calls)

	_, err := env.circ.Lend(ctx, LendRequest{
		BookID:     book.ID,
		BorrowerID: borrower.ID,
		DueDate:    env.today().AddDate(0, 0, 14),
	})
	assertDomainError(t, err, domainerrors.CodePreconditionFailed, MsgBookNotAvailable)
	assert.Equal(t, maxLendAttempts, calls)
	assert.Equal(t, domain.BookAvailable, env.book(t, book.ID).Status)
}

func TestLend_RacingBorrowerDeleteLeavesNoOrphans(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	due := env.today().AddDate(0, 0, 14)

	for i := range 20 {
		book := env.addBook(t, "Round")
		borrower := env.addBorrower(t, "Racer", fmt.Sprintf("racer%d@example.com", i), domain.BorrowerActive)

		var wg sync.WaitGroup
		var lendErr, deleteErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, lendErr = env.circ.Lend(ctx, LendRequest{BookID: book.ID, BorrowerID: borrower.ID, DueDate: due})
		}()
		go func() {
			defer wg.Done()
			deleteErr = env.borrowers.DeleteBorrower(ctx, borrower.ID)
		}()
		wg.Wait()

		// At most one side wins.
		assert.False(t, lendErr == nil && deleteErr == nil, "round %d: lend and delete both committed", i)
	}

	open, err := env.store.ListOpenLends(ctx)
	require.NoError(t, err)
	for _, l := range open {
		_, err := env.store.GetBorrower(ctx, l.BorrowerID)
		assert.NoError(t, err, "open lend %s names a missing borrower", l.ID)
	}
	assertStatusMatchesLedger(t, env.store)
}

func TestReturn_OnTime(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	book := env.addBook(t, "Persuasion")
	borrower := env.addBorrower(t, "Anne", "anne@example.com", domain.BorrowerActive)
	lend := env.lend(t, book, borrower, 14)

	env.advance(7 * 24 * time.Hour)
	env.events.reset()

	res, err := env.circ.Return(ctx, ReturnRequest{TransactionID: lend.ID})
	require.NoError(t, err)

	assert.Zero(t, res.FineAmount)
	assert.Zero(t, res.AssessedFine)
	assert.True(t, res.ReturnDate.Equal(env.clock()))
	assert.Equal(t, domain.BookBorrowed, res.PreviousBookStatus)
	assert.False(t, res.Lend.IsOpen())

	got := env.book(t, book.ID)
	assert.Equal(t, domain.BookAvailable, got.Status)
	assert.Equal(t, 1, got.BorrowCount)

	assert.ElementsMatch(t, []sse.EventType{sse.EventLendReturned, sse.EventBookUpdated}, env.events.types())
	assertStatusMatchesLedger(t, env.store)
}

func TestReturn_LateWithoutFineChargesZero(t *testing.T) {
	env := setupTestEnv(t)
	book := env.addBook(t, "Late Book")
	borrower := env.addBorrower(t, "Tardy", "tardy@example.com", domain.BorrowerActive)
	lend := env.lend(t, book, borrower, 14)

	env.advance(17 * 24 * time.Hour)

	res, err := env.circ.Return(context.Background(), ReturnRequest{TransactionID: lend.ID})
	require.NoError(t, err)
	assert.Zero(t, res.FineAmount)
	assert.InDelta(t, 1.50, res.AssessedFine, 0.001)
	assert.True(t, res.Lend.Closure.FineOverridden)

	got, err := env.store.GetLend(context.Background(), lend.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FineAmount())
	assert.InDelta(t, 1.50, got.Closure.AssessedFine, 0.001)
}

func TestReturn_CallerFineIsCharged(t *testing.T) {
	env := setupTestEnv(t)
	book := env.addBook(t, "Late Book")
	borrower := env.addBorrower(t, "Tardy", "tardy@example.com", domain.BorrowerActive)
	lend := env.lend(t, book, borrower, 14)
	env.advance(17 * 24 * time.Hour)

	fine := 1.004
	res, err := env.circ.Return(context.Background(), ReturnRequest{TransactionID: lend.ID, FineAmount: &fine})
	require.NoError(t, err)
	assert.InDelta(t, 1.00, res.FineAmount, 0.0001)
	assert.InDelta(t, 1.50, res.AssessedFine, 0.001)
	assert.True(t, res.Lend.Closure.FineOverridden)
}

func TestReturn_MatchingFineIsNotOverride(t *testing.T) {
	env := setupTestEnv(t)
	book := env.addBook(t, "Late Book")
	borrower := env.addBorrower(t, "Tardy", "tardy@example.com", domain.BorrowerActive)
	lend := env.lend(t, book, borrower, 14)
	env.advance(17 * 24 * time.Hour)

	fine := 1.5
	res, err := env.circ.Return(context.Background(), ReturnRequest{TransactionID: lend.ID, FineAmount: &fine})
	require.NoError(t, err)
	assert.InDelta(t, 1.50, res.FineAmount, 0.001)
	assert.False(t, res.Lend.Closure.FineOverridden)
}

func TestReturn_FineOverride(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("desk-key"), bcrypt.MinCost)
	require.NoError(t, err)

	env := setupTestEnv(t, func(p *Policy) { p.WaiverKeyHash = string(hash) })
	ctx := context.Background()
	book := env.addBook(t, "Waived")
	borrower := env.addBorrower(t, "Lucky", "lucky@example.com", domain.BorrowerActive)
	lend := env.lend(t, book, borrower, 14)
	env.advance(20 * 24 * time.Hour)

	zero := 0.0

	t.Run("no key", func(t *testing.T) {
		_, err := env.circ.Return(ctx, ReturnRequest{TransactionID: lend.ID, FineAmount: &zero})
		assertDomainError(t, err, domainerrors.CodeForbidden, MsgOverrideForbidden)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := env.circ.Return(ctx, ReturnRequest{TransactionID: lend.ID, FineAmount: &zero, WaiverKey: "guess"})
		assertDomainError(t, err, domainerrors.CodeForbidden, MsgOverrideForbidden)
	})

	// A refused override leaves the lend open.
	got, err := env.store.GetLend(ctx, lend.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOpen())
	assert.Equal(t, domain.BookBorrowed, env.book(t, book.ID).Status)

	t.Run("valid key", func(t *testing.T) {
		res, err := env.circ.Return(ctx, ReturnRequest{TransactionID: lend.ID, FineAmount: &zero, WaiverKey: "desk-key"})
		require.NoError(t, err)
		assert.Zero(t, res.FineAmount)
		assert.InDelta(t, 3.00, res.AssessedFine, 0.001)
		assert.True(t, res.Lend.Closure.FineOverridden)
	})
}

func TestReturn_WaiverWithoutConfiguredKey(t *testing.T) {
	env := setupTestEnv(t)
	book := env.addBook(t, "Waived At Desk")
	borrower := env.addBorrower(t, "Forgiven", "forgiven@example.com", domain.BorrowerActive)
	lend := env.lend(t, book, borrower, 1)
	env.advance(6 * 24 * time.Hour)

	zero := 0.0
	res, err := env.circ.Return(context.Background(), ReturnRequest{TransactionID: lend.ID, FineAmount: &zero})
	require.NoError(t, err)
	assert.Zero(t, res.FineAmount)
	assert.InDelta(t, 2.50, res.AssessedFine, 0.001)
	assert.True(t, res.Lend.Closure.FineOverridden)
	assert.Equal(t, domain.BookAvailable, env.book(t, book.ID).Status)
}

func TestReturn_ConfiguredKeyChargesAssessedByDefault(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("desk-key"), bcrypt.MinCost)
	require.NoError(t, err)

	env := setupTestEnv(t, func(p *Policy) { p.WaiverKeyHash = string(hash) })
	book := env.addBook(t, "Strict")
	borrower := env.addBorrower(t, "Prompt", "prompt@example.com", domain.BorrowerActive)
	lend := env.lend(t, book, borrower, 14)
	env.advance(17 * 24 * time.Hour)

	res, err := env.circ.Return(context.Background(), ReturnRequest{TransactionID: lend.ID})
	require.NoError(t, err)
	assert.InDelta(t, 1.50, res.FineAmount, 0.001)
	assert.InDelta(t, 1.50, res.AssessedFine, 0.001)
	assert.False(t, res.Lend.Closure.FineOverridden)
}

func TestReturn_Validation(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.circ.Return(context.Background(), ReturnRequest{TransactionID: "  "})
	assertDomainError(t, err, domainerrors.CodeValidation, MsgTransactionRequired)

	negative := -1.0
	_, err = env.circ.Return(context.Background(), ReturnRequest{TransactionID: "txn-1", FineAmount: &negative})
	assertDomainError(t, err, domainerrors.CodeValidation, "")
}

func TestReturn_UnknownTransaction(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.circ.Return(context.Background(), ReturnRequest{TransactionID: "txn-missing"})
	assertDomainError(t, err, domainerrors.CodeNotFound, MsgActiveLendNotFound)
}

func TestReturn_TwiceFails(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	book := env.addBook(t, "Once Only")
	borrower := env.addBorrower(t, "Ret", "ret@example.com", domain.BorrowerActive)
	lend := env.lend(t, book, borrower, 14)

	_, err := env.circ.Return(ctx, ReturnRequest{TransactionID: lend.ID})
	require.NoError(t, err)

	env.advance(time.Hour)
	_, err = env.circ.Return(ctx, ReturnRequest{TransactionID: lend.ID})
	assertDomainError(t, err, domainerrors.CodeNotFound, MsgActiveLendNotFound)

	got, err := env.store.GetLend(ctx, lend.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Closure)
	assert.True(t, got.Closure.ReturnDate.Before(env.clock()))
}

func TestReturn_ConcurrentReturnsOneWinner(t *testing.T) {
	env := setupTestEnv(t)
	book := env.addBook(t, "Race")
	borrower := env.addBorrower(t, "Racer", "racer@example.com", domain.BorrowerActive)
	lend := env.lend(t, book, borrower, 14)

	const n = 5
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.circ.Return(context.Background(), ReturnRequest{TransactionID: lend.ID})
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assertDomainError(t, err, domainerrors.CodeNotFound, MsgActiveLendNotFound)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, domain.BookAvailable, env.book(t, book.ID).Status)
}

func TestLendReturnCycle(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	book := env.addBook(t, "Round Trip")
	a := env.addBorrower(t, "A", "a@example.com", domain.BorrowerActive)
	b := env.addBorrower(t, "B", "b@example.com", domain.BorrowerActive)

	for i, borrower := range []*domain.Borrower{a, b, a} {
		lend := env.lend(t, book, borrower, 14)
		assertStatusMatchesLedger(t, env.store)

		env.advance(24 * time.Hour)
		_, err := env.circ.Return(ctx, ReturnRequest{TransactionID: lend.ID})
		require.NoError(t, err)
		assertStatusMatchesLedger(t, env.store)

		got := env.book(t, book.ID)
		assert.Equal(t, domain.BookAvailable, got.Status)
		assert.Equal(t, i+1, got.BorrowCount)
	}

	lends, err := env.store.ListLends(ctx, store.LendFilter{})
	require.NoError(t, err)
	assert.Len(t, lends, 3)
}

func TestReturn_BookLostWhileOut(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	book := env.addBook(t, "Misplaced")
	borrower := env.addBorrower(t, "Careless", "careless@example.com", domain.BorrowerActive)
	lend := env.lend(t, book, borrower, 14)

	// Out-of-band status change that bypasses catalog rules.
	_, err := env.store.UpdateBook(ctx, book.ID, func(b *domain.Book, _ bool) error {
		b.Status = domain.BookLost
		return nil
	})
	require.NoError(t, err)

	res, err := env.circ.Return(ctx, ReturnRequest{TransactionID: lend.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.BookLost, res.PreviousBookStatus)
	assert.False(t, res.Lend.IsOpen())
	assert.Equal(t, domain.BookLost, env.book(t, book.ID).Status)
}

func TestReturn_BookNotMarkedBorrowed(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	book := env.addBook(t, "Unflagged")
	borrower := env.addBorrower(t, "Holder", "holder@example.com", domain.BorrowerActive)

	// Open a lend without flipping the book. The open lend blocks deletion.
	err := env.store.Atomically(ctx, func(r store.Records) error {
		return r.InsertLend(&domain.Lend{
			ID:              "txn-orphan",
			BookID:          book.ID,
			BorrowerID:      borrower.ID,
			TransactionDate: env.clock(),
			DueDate:         env.today().AddDate(0, 0, 7),
		})
	})
	require.NoError(t, err)
	require.ErrorIs(t, env.store.DeleteBook(ctx, book.ID), store.ErrInUse)

	res, err := env.circ.Return(ctx, ReturnRequest{TransactionID: "txn-orphan"})
	require.NoError(t, err)
	assert.Equal(t, domain.BookAvailable, res.PreviousBookStatus)
	assert.False(t, res.Lend.IsOpen())
}

// faultyRecords fails every book write after delegating reads.
type faultyRecords struct {
	store.Records
}

var errInjected = errors.New("injected write failure")

func (faultyRecords) PutBook(*domain.Book) error { return errInjected }

func withFaultyBookWrites(env *testEnv) {
	env.circ.runAtomic = func(ctx context.Context, fn func(store.Records) error) error {
		return env.store.Atomically(ctx, func(r store.Records) error {
			return fn(faultyRecords{Records: r})
		})
	}
}

func TestLend_FailedBookWriteRollsBackLedger(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	book := env.addBook(t, "Fragile")
	borrower := env.addBorrower(t, "Unlucky", "unlucky@example.com", domain.BorrowerActive)
	withFaultyBookWrites(env)
	env.events.reset()

	_, err := env.circ.Lend(ctx, LendRequest{
		BookID:     book.ID,
		BorrowerID: borrower.ID,
		DueDate:    env.today().AddDate(0, 0, 14),
	})
	assertDomainError(t, err, domainerrors.CodeStorageFailure, "")
	assert.ErrorIs(t, err, errInjected)

	lends, err := env.store.ListLends(ctx, store.LendFilter{})
	require.NoError(t, err)
	assert.Empty(t, lends)

	got := env.book(t, book.ID)
	assert.Equal(t, domain.BookAvailable, got.Status)
	assert.Zero(t, got.BorrowCount)
	assert.Empty(t, env.events.types())
}

func TestReturn_FailedBookWriteKeepsLendOpen(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	book := env.addBook(t, "Fragile")
	borrower := env.addBorrower(t, "Unlucky", "unlucky@example.com", domain.BorrowerActive)
	lend := env.lend(t, book, borrower, 14)
	withFaultyBookWrites(env)

	_, err := env.circ.Return(ctx, ReturnRequest{TransactionID: lend.ID})
	assertDomainError(t, err, domainerrors.CodeStorageFailure, "")

	got, err := env.store.GetLend(ctx, lend.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOpen())
	assert.Equal(t, domain.BookBorrowed, env.book(t, book.ID).Status)
	assertStatusMatchesLedger(t, env.store)
}

func TestOverdueScenario(t *testing.T) {
	env := setupTestEnv(t, allowPastDue)
	ctx := context.Background()
	book := env.addBook(t, "Long Gone")
	borrower := env.addBorrower(t, "Slow", "slow@example.com", domain.BorrowerActive)

	lend, err := env.circ.Lend(ctx, LendRequest{
		BookID:     book.ID,
		BorrowerID: borrower.ID,
		DueDate:    env.today().AddDate(0, 0, -5),
	})
	require.NoError(t, err)

	overdue, err := env.txns.ListOverdue(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, lend.ID, overdue[0].ID)
	assert.Equal(t, 5, overdue[0].OverdueDays)
	assert.InDelta(t, 2.50, overdue[0].AccruedFine, 0.001)

	fine := overdue[0].AccruedFine
	res, err := env.circ.Return(ctx, ReturnRequest{TransactionID: lend.ID, FineAmount: &fine})
	require.NoError(t, err)
	assert.InDelta(t, 2.50, res.FineAmount, 0.001)
	assert.InDelta(t, 2.50, res.AssessedFine, 0.001)
	assert.False(t, res.Lend.Closure.FineOverridden)
}

func TestForceAvailable(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	t.Run("maintenance", func(t *testing.T) {
		book, err := env.catalog.CreateBook(ctx, BookInput{Title: "Rebinding", Author: "X", Status: domain.BookMaintenance})
		require.NoError(t, err)

		got, previous, err := env.circ.ForceAvailable(ctx, book.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BookMaintenance, previous)
		assert.Equal(t, domain.BookAvailable, got.Status)
	})

	t.Run("open lend", func(t *testing.T) {
		book := env.addBook(t, "Checked Out")
		borrower := env.addBorrower(t, "Has It", "hasit@example.com", domain.BorrowerActive)
		env.lend(t, book, borrower, 7)

		_, _, err := env.circ.ForceAvailable(ctx, book.ID)
		assertDomainError(t, err, domainerrors.CodePreconditionFailed, "")
		assert.Equal(t, domain.BookBorrowed, env.book(t, book.ID).Status)
	})

	t.Run("missing", func(t *testing.T) {
		_, _, err := env.circ.ForceAvailable(ctx, "book-missing")
		assertDomainError(t, err, domainerrors.CodeNotFound, MsgBookNotFound)
	})
}

func TestLend_CanceledContext(t *testing.T) {
	env := setupTestEnv(t)
	book := env.addBook(t, "Never")
	borrower := env.addBorrower(t, "Nobody", "nobody@example.com", domain.BorrowerActive)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.circ.Lend(ctx, LendRequest{BookID: book.ID, BorrowerID: borrower.ID, DueDate: env.today().AddDate(0, 0, 1)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.BookAvailable, env.book(t, book.ID).Status)
}
