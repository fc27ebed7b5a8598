package domain

import "time"

// Record holds the identity and timestamps shared by catalog entities.
// It is embedded in Book, Borrower and Category. Lends carry their own
// dates and do not embed it.
type Record struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch sets UpdatedAt to now.
// Call this whenever the underlying entity changes.
func (r *Record) Touch(now time.Time) {
	r.UpdatedAt = now
}

// InitTimestamps sets both CreatedAt and UpdatedAt to now.
// Call this when creating a new entity.
func (r *Record) InitTimestamps(now time.Time) {
	r.CreatedAt = now
	r.UpdatedAt = now
}
