package domain

import "time"

// BorrowerStatus is a borrower's membership standing.
type BorrowerStatus string

// Borrower statuses.
const (
	BorrowerActive    BorrowerStatus = "active"
	BorrowerInactive  BorrowerStatus = "inactive"
	BorrowerSuspended BorrowerStatus = "suspended"
)

// Valid reports whether s is a known status.
func (s BorrowerStatus) Valid() bool {
	switch s {
	case BorrowerActive, BorrowerInactive, BorrowerSuspended:
		return true
	}
	return false
}

// Borrower is a library member.
type Borrower struct {
	Record
	Name           string         `json:"name"`
	Email          string         `json:"email"` // stored lowercased, unique
	Phone          string         `json:"phone,omitempty"`
	Address        string         `json:"address,omitempty"`
	MembershipDate time.Time      `json:"membership_date"`
	Status         BorrowerStatus `json:"status"`
	Notes          string         `json:"notes,omitempty"`
}

// CanBorrow reports whether a new lend may be opened for this borrower.
func (b *Borrower) CanBorrow() bool {
	return b.Status == BorrowerActive
}
