// Package domain contains the circulation entities: books, borrowers, categories and the lend ledger.
package domain

import "time"

// BookStatus is a book's circulation status.
//
// Only the lend and return workflows move a book into or out of
// BookBorrowed; catalog management may choose among the other three.
type BookStatus string

// Book statuses.
const (
	BookAvailable   BookStatus = "available"
	BookBorrowed    BookStatus = "borrowed"
	BookMaintenance BookStatus = "maintenance"
	BookLost        BookStatus = "lost"
)

// Valid reports whether s is a known status.
func (s BookStatus) Valid() bool {
	switch s {
	case BookAvailable, BookBorrowed, BookMaintenance, BookLost:
		return true
	}
	return false
}

// CatalogSettable reports whether catalog management may assign s directly.
func (s BookStatus) CatalogSettable() bool {
	return s.Valid() && s != BookBorrowed
}

// Condition describes a book's physical state.
type Condition string

// Physical conditions.
const (
	ConditionExcellent Condition = "Excellent"
	ConditionGood      Condition = "Good"
	ConditionFair      Condition = "Fair"
	ConditionPoor      Condition = "Poor"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	switch c {
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor:
		return true
	}
	return false
}

// DefaultLanguage is assigned to books created without one.
const DefaultLanguage = "English"

// Book is a physical copy in the catalog.
type Book struct {
	Record
	Title           string     `json:"title"`
	Author          string     `json:"author"`
	ISBN            string     `json:"isbn,omitempty"`
	Category        string     `json:"category,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	Publisher       string     `json:"publisher,omitempty"`
	Pages           int        `json:"pages,omitempty"`
	Language        string     `json:"language,omitempty"`
	Description     string     `json:"description,omitempty"`
	Location        string     `json:"location,omitempty"`
	Condition       Condition  `json:"condition"`
	Status          BookStatus `json:"status"`
	BorrowCount     int        `json:"borrow_count"`
	CoverImage      string     `json:"cover_image,omitempty"`
	DateAdded       time.Time  `json:"date_added"`
}

// IsAvailable reports whether the book can be lent right now.
func (b *Book) IsAvailable() bool {
	return b.Status == BookAvailable
}
