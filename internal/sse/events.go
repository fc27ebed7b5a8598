// Package sse streams circulation changes to connected clients as Server-Sent Events.
package sse

import (
	"strings"
	"time"

	"github.com/listenupapp/circulation-server/internal/domain"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventBookCreated represents a book creation event.
	EventBookCreated EventType = "book.created"
	// EventBookUpdated is emitted for catalog edits and for every status flip made by a lend or return.
	EventBookUpdated EventType = "book.updated"
	// EventBookDeleted represents a book deletion event.
	EventBookDeleted EventType = "book.deleted"

	EventBorrowerCreated EventType = "borrower.created"
	EventBorrowerUpdated EventType = "borrower.updated"
	EventBorrowerDeleted EventType = "borrower.deleted"

	// EventLendCreated follows a committed lend.
	EventLendCreated EventType = "lend.created"
	// EventLendReturned follows a committed return.
	EventLendReturned EventType = "lend.returned"

	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Topic returns the part of the type before the dot ("book", "lend", ...).
func (t EventType) Topic() string {
	topic, _, _ := strings.Cut(string(t), ".")
	return topic
}

// Event represents an SSE event to be sent to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`
}

// BookEventData is the data payload for book create and update events.
type BookEventData struct {
	Book *domain.Book `json:"book"`
}

// BorrowerEventData is the data payload for borrower create and update events.
type BorrowerEventData struct {
	Borrower *domain.Borrower `json:"borrower"`
}

// DeletedEventData is the payload for delete events of any entity.
type DeletedEventData struct {
	DeletedAt time.Time `json:"deleted_at"`
	ID        string    `json:"id"`
}

// LendEventData is the data payload for ledger events.
type LendEventData struct {
	ID              string     `json:"id"`
	BookID          string     `json:"book_id"`
	BorrowerID      string     `json:"borrower_id"`
	TransactionDate time.Time  `json:"transaction_date"`
	DueDate         time.Time  `json:"due_date"`
	ReturnDate      *time.Time `json:"return_date"`
	FineAmount      float64    `json:"fine_amount"`
}

// HeartbeatEventData is the data payload for heartbeat events.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"server_time"`
}

func newEvent(t EventType, data any) Event {
	return Event{Type: t, Data: data, Timestamp: time.Now()}
}

// NewBookCreatedEvent creates a book.created event.
func NewBookCreatedEvent(book *domain.Book) Event {
	return newEvent(EventBookCreated, BookEventData{Book: book})
}

// NewBookUpdatedEvent creates a book.updated event.
func NewBookUpdatedEvent(book *domain.Book) Event {
	return newEvent(EventBookUpdated, BookEventData{Book: book})
}

// NewBookDeletedEvent creates a book.deleted event.
func NewBookDeletedEvent(bookID string, deletedAt time.Time) Event {
	return newEvent(EventBookDeleted, DeletedEventData{ID: bookID, DeletedAt: deletedAt})
}

// NewBorrowerCreatedEvent creates a borrower.created event.
func NewBorrowerCreatedEvent(b *domain.Borrower) Event {
	return newEvent(EventBorrowerCreated, BorrowerEventData{Borrower: b})
}

// NewBorrowerUpdatedEvent creates a borrower.updated event.
func NewBorrowerUpdatedEvent(b *domain.Borrower) Event {
	return newEvent(EventBorrowerUpdated, BorrowerEventData{Borrower: b})
}

// NewBorrowerDeletedEvent creates a borrower.deleted event.
func NewBorrowerDeletedEvent(borrowerID string, deletedAt time.Time) Event {
	return newEvent(EventBorrowerDeleted, DeletedEventData{ID: borrowerID, DeletedAt: deletedAt})
}

func lendData(l *domain.Lend) LendEventData {
	return LendEventData{
		ID:              l.ID,
		BookID:          l.BookID,
		BorrowerID:      l.BorrowerID,
		TransactionDate: l.TransactionDate,
		DueDate:         l.DueDate,
		ReturnDate:      l.ReturnDate(),
		FineAmount:      l.FineAmount(),
	}
}

// NewLendCreatedEvent creates a lend.created event.
func NewLendCreatedEvent(l *domain.Lend) Event {
	return newEvent(EventLendCreated, lendData(l))
}

// NewLendReturnedEvent creates a lend.returned event.
func NewLendReturnedEvent(l *domain.Lend) Event {
	return newEvent(EventLendReturned, lendData(l))
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() Event {
	return newEvent(EventHeartbeat, HeartbeatEventData{ServerTime: time.Now()})
}
