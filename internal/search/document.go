// Package search provides full-text search over books and borrowers using Bleve.
package search

import (
	"strings"

	"github.com/listenupapp/circulation-server/internal/domain"
	"github.com/listenupapp/circulation-server/internal/util"
)

// DocType represents the type of document in the unified index.
type DocType string

// Document types for the search index.
const (
	DocTypeBook     DocType = "book"
	DocTypeBorrower DocType = "borrower"
)

// SearchDocument is the unified document structure for the Bleve index.
// Books and borrowers share one index with type discrimination.
type SearchDocument struct {
	ID   string  `json:"id"`
	Type DocType `json:"type"`

	// Book: title, Borrower: name
	Name string `json:"name"`

	// Book fields
	Author      string `json:"author,omitempty"`
	ISBN        string `json:"isbn,omitempty"` // normalized
	Category    string `json:"category,omitempty"`
	Publisher   string `json:"publisher,omitempty"`
	Description string `json:"description,omitempty"`

	// Borrower fields
	Email string `json:"email,omitempty"` // lowercased
	Phone string `json:"phone,omitempty"`

	// Circulation status for either type.
	Status string `json:"status"`

	CreatedAt int64 `json:"created_at"` // Unix millis
	UpdatedAt int64 `json:"updated_at"` // Unix millis
}

// ToMap converts the document to a map with lowercase field names.
// This ensures field names match the Bleve index mapping.
func (d *SearchDocument) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"id":         d.ID,
		"type":       string(d.Type),
		"name":       d.Name,
		"status":     d.Status,
		"created_at": d.CreatedAt,
		"updated_at": d.UpdatedAt,
	}

	if d.Author != "" {
		m["author"] = d.Author
	}
	if d.ISBN != "" {
		m["isbn"] = d.ISBN
	}
	if d.Category != "" {
		m["category"] = d.Category
	}
	if d.Publisher != "" {
		m["publisher"] = d.Publisher
	}
	if d.Description != "" {
		m["description"] = d.Description
	}
	if d.Email != "" {
		m["email"] = d.Email
	}
	if d.Phone != "" {
		m["phone"] = d.Phone
	}

	return m
}

// BookToSearchDocument converts a domain Book to a SearchDocument.
func BookToSearchDocument(book *domain.Book) *SearchDocument {
	return &SearchDocument{
		ID:          book.ID,
		Type:        DocTypeBook,
		Name:        book.Title,
		Author:      book.Author,
		ISBN:        util.NormalizeISBN(book.ISBN),
		Category:    book.Category,
		Publisher:   book.Publisher,
		Description: book.Description,
		Status:      string(book.Status),
		CreatedAt:   book.CreatedAt.UnixMilli(),
		UpdatedAt:   book.UpdatedAt.UnixMilli(),
	}
}

// BorrowerToSearchDocument converts a domain Borrower to a SearchDocument.
func BorrowerToSearchDocument(b *domain.Borrower) *SearchDocument {
	return &SearchDocument{
		ID:        b.ID,
		Type:      DocTypeBorrower,
		Name:      b.Name,
		Email:     util.NormalizeEmail(b.Email),
		Phone:     normalizePhone(b.Phone),
		Status:    string(b.Status),
		CreatedAt: b.CreatedAt.UnixMilli(),
		UpdatedAt: b.UpdatedAt.UnixMilli(),
	}
}

// normalizePhone keeps digits and a leading plus.
func normalizePhone(phone string) string {
	var sb strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if (r >= '0' && r <= '9') || (r == '+' && i == 0) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
