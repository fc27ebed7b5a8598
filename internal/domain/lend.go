package domain

import "time"

// TransactionTypeLend is the only ledger record type. A return is the
// closure of a lend, not a row of its own.
const TransactionTypeLend = "lend"

// Lend is a ledger record: a book checked out to a borrower, optionally
// closed by a return. A closed lend is terminal.
type Lend struct {
	ID              string    `json:"id"`
	BookID          string    `json:"book_id"`
	BorrowerID      string    `json:"borrower_id"`
	TransactionDate time.Time `json:"transaction_date"`
	DueDate         time.Time `json:"due_date"`
	Notes           string    `json:"notes,omitempty"`
	Closure         *Closure  `json:"closure,omitempty"`
}

// Closure records how and when a lend was returned.
type Closure struct {
	ReturnDate time.Time `json:"return_date"`
	// FineAmount is what was actually charged.
	FineAmount float64 `json:"fine_amount"`
	// AssessedFine is what the fee schedule produced at return time.
	AssessedFine   float64 `json:"assessed_fine"`
	FineOverridden bool    `json:"fine_overridden,omitempty"`
}

// IsOpen reports whether the book is still out.
func (l *Lend) IsOpen() bool {
	return l.Closure == nil
}

// ReturnDate returns the return timestamp, or nil while open.
func (l *Lend) ReturnDate() *time.Time {
	if l.Closure == nil {
		return nil
	}
	t := l.Closure.ReturnDate
	return &t
}

// FineAmount returns the charged fine, 0 while open.
func (l *Lend) FineAmount() float64 {
	if l.Closure == nil {
		return 0
	}
	return l.Closure.FineAmount
}
