package circulation

import (
	"errors"
	"time"

	"github.com/listenupapp/circulation-server/internal/domain"
	"github.com/listenupapp/circulation-server/internal/id"
	"github.com/listenupapp/circulation-server/internal/store"
)

// OpenLend appends a new open lend. It does not check the book's status;
// pair it with TryMarkBorrowed in the same unit. The storage index on open
// lends still rejects a second open lend for one book with ErrOpenLendExists.
func OpenLend(r store.Records, bookID, borrowerID string, due time.Time, notes string, now time.Time) (*domain.Lend, error) {
	lendID, err := id.Generate(id.PrefixLend)
	if err != nil {
		return nil, err
	}

	lend := &domain.Lend{
		ID:              lendID,
		BookID:          bookID,
		BorrowerID:      borrowerID,
		TransactionDate: now,
		DueDate:         due,
		Notes:           notes,
	}

	err = r.InsertLend(lend)
	if errors.Is(err, store.ErrAlreadyExists) {
		return nil, ErrOpenLendExists
	}
	if err != nil {
		return nil, err
	}
	return lend, nil
}

// Settlement is the money side of a return.
type Settlement struct {
	Fine       float64
	Assessed   float64
	Overridden bool
}

// CloseLend closes an open lend. Non-empty notes replace the lend's notes.
// A closed lend is never reopened or closed again.
func CloseLend(r store.Records, lendID string, s Settlement, notes string, now time.Time) (*domain.Lend, error) {
	lend, err := r.GetLend(lendID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrLendNotFound
	}
	if err != nil {
		return nil, err
	}
	if !lend.IsOpen() {
		return nil, ErrAlreadyReturned
	}

	lend.Closure = &domain.Closure{
		ReturnDate:     now,
		FineAmount:     RoundCents(max(s.Fine, 0)),
		AssessedFine:   s.Assessed,
		FineOverridden: s.Overridden,
	}
	if notes != "" {
		lend.Notes = notes
	}

	if err := r.PutLend(lend); err != nil {
		return nil, err
	}
	return lend, nil
}

// FindOpenLendForBook returns the book's open lend, or nil.
func FindOpenLendForBook(r store.Records, bookID string) (*domain.Lend, error) {
	return r.OpenLendForBook(bookID)
}
