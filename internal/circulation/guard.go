// Package circulation holds the lending rules: the availability guard that
// moves a book between available and borrowed, the lend ledger, and the
// overdue fee calculator.
//
// Guard and ledger functions take a store.Records so that callers compose
// them inside one Store.Atomically unit. None of them commit on their own.
package circulation

import (
	"errors"
	"time"

	"github.com/listenupapp/circulation-server/internal/domain"
	"github.com/listenupapp/circulation-server/internal/store"
)

// Guard and ledger errors.
var (
	ErrBookNotFound    = errors.New("book not found")
	ErrNotAvailable    = errors.New("book is not available")
	ErrLendNotFound    = errors.New("lend not found")
	ErrAlreadyReturned = errors.New("lend already returned")
	ErrOpenLendExists  = errors.New("book has an open lend")
)

func loadBook(r store.Records, bookID string) (*domain.Book, error) {
	book, err := r.GetBook(bookID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBookNotFound
	}
	return book, err
}

// TryMarkBorrowed moves a book from available to borrowed and bumps its
// borrow count. Any other starting status fails with ErrNotAvailable.
//
// The read and the write share the caller's transaction, so a concurrent
// winner makes this unit fail to commit rather than double-lend.
func TryMarkBorrowed(r store.Records, bookID string, now time.Time) (*domain.Book, error) {
	book, err := loadBook(r, bookID)
	if err != nil {
		return nil, err
	}
	if book.Status != domain.BookAvailable {
		return nil, ErrNotAvailable
	}

	book.Status = domain.BookBorrowed
	book.BorrowCount++
	book.Touch(now)
	if err := r.PutBook(book); err != nil {
		return nil, err
	}
	return book, nil
}

// MarkReturned moves a borrowed book back to available and returns the
// status it found. A book that was not borrowed keeps its status (a lost or
// maintenance flag is not silently cleared); callers treat that as an
// anomaly to report, not a failure.
func MarkReturned(r store.Records, bookID string, now time.Time) (domain.BookStatus, error) {
	book, err := loadBook(r, bookID)
	if err != nil {
		return "", err
	}

	previous := book.Status
	if previous != domain.BookBorrowed {
		return previous, nil
	}

	book.Status = domain.BookAvailable
	book.Touch(now)
	return previous, r.PutBook(book)
}

// ForceAvailable is the explicit correction for a book stuck in
// maintenance, lost, or borrowed without a matching lend. It refuses while
// the ledger shows the book out, since the return workflow owns that case.
func ForceAvailable(r store.Records, bookID string, now time.Time) (*domain.Book, domain.BookStatus, error) {
	book, err := loadBook(r, bookID)
	if err != nil {
		return nil, "", err
	}

	open, err := r.OpenLendForBook(bookID)
	if err != nil {
		return nil, "", err
	}
	if open != nil {
		return nil, "", ErrOpenLendExists
	}

	previous := book.Status
	if previous == domain.BookAvailable {
		return book, previous, nil
	}

	book.Status = domain.BookAvailable
	book.Touch(now)
	if err := r.PutBook(book); err != nil {
		return nil, "", err
	}
	return book, previous, nil
}

// RestoreBorrowed marks a book borrowed to match an open lend the ledger
// already holds. Unlike TryMarkBorrowed it does not count a new borrow.
// It fails with ErrLendNotFound when the ledger has no open lend for the book.
func RestoreBorrowed(r store.Records, bookID string, now time.Time) (*domain.Book, error) {
	book, err := loadBook(r, bookID)
	if err != nil {
		return nil, err
	}

	open, err := r.OpenLendForBook(bookID)
	if err != nil {
		return nil, err
	}
	if open == nil {
		return nil, ErrLendNotFound
	}
	if book.Status == domain.BookBorrowed {
		return book, nil
	}

	book.Status = domain.BookBorrowed
	book.Touch(now)
	if err := r.PutBook(book); err != nil {
		return nil, err
	}
	return book, nil
}
