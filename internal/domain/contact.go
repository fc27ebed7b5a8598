package domain

import "time"

// OverdueContact notes that staff reached out to a borrower about an
// overdue lend. It is advisory only and never read by the workflows.
type OverdueContact struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	ContactedAt   time.Time `json:"contacted_at"`
	Channel       string    `json:"channel,omitempty"` // email, phone, letter
	Note          string    `json:"note,omitempty"`
}
