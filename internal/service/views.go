package service

import (
	"time"

	"github.com/listenupapp/circulation-server/internal/domain"
)

// BorrowerInfo tells who has a borrowed book and until when.
type BorrowerInfo struct {
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	DueDate time.Time `json:"due_date"`
}

// BookView is a book as listed, with its current borrower when lent.
type BookView struct {
	domain.Book
	BorrowerInfo *BorrowerInfo `json:"borrower_info,omitempty"`
}

// Transaction statuses as exposed to clients.
const (
	TxnStatusActive   = "active"
	TxnStatusReturned = "returned"
)

// TransactionView is a ledger record joined with its book and borrower.
type TransactionView struct {
	ID              string     `json:"id"`
	BookID          string     `json:"book_id"`
	BorrowerID      string     `json:"borrower_id"`
	TransactionType string     `json:"transaction_type"`
	TransactionDate time.Time  `json:"transaction_date"`
	DueDate         time.Time  `json:"due_date"`
	ReturnDate      *time.Time `json:"return_date"`
	FineAmount      float64    `json:"fine_amount"`
	AssessedFine    *float64   `json:"assessed_fine,omitempty"`
	FineOverridden  bool       `json:"fine_overridden,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	Status          string     `json:"status"`

	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
	ISBN   string `json:"isbn,omitempty"`

	BorrowerName  string `json:"borrower_name,omitempty"`
	BorrowerEmail string `json:"borrower_email,omitempty"`
}

// OverdueView is an open, past-due lend with everything needed to chase it.
type OverdueView struct {
	TransactionView
	Category      string     `json:"category,omitempty"`
	BorrowerPhone string     `json:"borrower_phone,omitempty"`
	OverdueDays   int        `json:"overdue_days"`
	AccruedFine   float64    `json:"accrued_fine"`
	Contacted     bool       `json:"contacted"`
	ContactedAt   *time.Time `json:"contacted_at,omitempty"`
}

func newTransactionView(l *domain.Lend, book *domain.Book, borrower *domain.Borrower) TransactionView {
	v := TransactionView{
		ID:              l.ID,
		BookID:          l.BookID,
		BorrowerID:      l.BorrowerID,
		TransactionType: domain.TransactionTypeLend,
		TransactionDate: l.TransactionDate,
		DueDate:         l.DueDate,
		ReturnDate:      l.ReturnDate(),
		FineAmount:      l.FineAmount(),
		Notes:           l.Notes,
		Status:          TxnStatusActive,
	}
	if l.Closure != nil {
		assessed := l.Closure.AssessedFine
		v.AssessedFine = &assessed
		v.FineOverridden = l.Closure.FineOverridden
		v.Status = TxnStatusReturned
	}
	if book != nil {
		v.Title = book.Title
		v.Author = book.Author
		v.ISBN = book.ISBN
	}
	if borrower != nil {
		v.BorrowerName = borrower.Name
		v.BorrowerEmail = borrower.Email
	}
	return v
}
