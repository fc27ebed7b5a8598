package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/circulation-server/internal/domain"
	"github.com/listenupapp/circulation-server/internal/service"
	"github.com/listenupapp/circulation-server/internal/store"
)

func (s *Server) registerBookRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listBooks",
		Method:      http.MethodGet,
		Path:        "/api/books",
		Summary:     "List books",
		Description: "Returns books sorted by title. Borrowed books include who has them.",
		Tags:        []string{"Books"},
	}, s.handleListBooks)

	huma.Register(s.api, huma.Operation{
		OperationID: "getBook",
		Method:      http.MethodGet,
		Path:        "/api/books/{id}",
		Summary:     "Get book",
		Description: "Returns a book by ID",
		Tags:        []string{"Books"},
	}, s.handleGetBook)

	huma.Register(s.api, huma.Operation{
		OperationID:   "createBook",
		Method:        http.MethodPost,
		Path:          "/api/books",
		Summary:       "Create book",
		Description:   "Adds a book to the catalog",
		Tags:          []string{"Books"},
		DefaultStatus: http.StatusCreated,
	}, s.handleCreateBook)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateBook",
		Method:      http.MethodPut,
		Path:        "/api/books/{id}",
		Summary:     "Update book",
		Description: "Updates catalog fields. Status cannot be set to borrowed, nor changed while the book is lent.",
		Tags:        []string{"Books"},
	}, s.handleUpdateBook)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteBook",
		Method:      http.MethodDelete,
		Path:        "/api/books/{id}",
		Summary:     "Delete book",
		Description: "Removes a book that is not lent",
		Tags:        []string{"Books"},
	}, s.handleDeleteBook)

	huma.Register(s.api, huma.Operation{
		OperationID: "forceBookAvailable",
		Method:      http.MethodPost,
		Path:        "/api/books/{id}/force-available",
		Summary:     "Force book available",
		Description: "Clears a maintenance, lost or orphaned borrowed status. Refused while the ledger shows the book out.",
		Tags:        []string{"Books"},
	}, s.handleForceAvailable)
}

// === DTOs ===

// ListBooksInput contains parameters for listing books.
type ListBooksInput struct {
	Search   string `query:"search" doc:"Free text over title, author and ISBN"`
	Category string `query:"category" doc:"Category name"`
	Status   string `query:"status" enum:"available,borrowed,maintenance,lost" doc:"Book status"`
	PageInput
}

// PageInput holds pagination query parameters.
type PageInput struct {
	Page  int `query:"page" default:"1" minimum:"1" doc:"Page number, starting at 1"`
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"100" doc:"Items per page"`
}

func (p PageInput) params() store.PageParams {
	return store.PageParams{Page: p.Page, Limit: p.Limit}
}

// ListBooksOutput wraps a page of books for Huma.
type ListBooksOutput struct {
	Body *store.Page[service.BookView]
}

// BookIDInput identifies a book.
type BookIDInput struct {
	ID string `path:"id" doc:"Book ID"`
}

// BookOutput wraps a book for Huma.
type BookOutput struct {
	Body *service.BookView
}

// CreateBookRequest is the request body for creating a book.
type CreateBookRequest struct {
	Title           string    `json:"title" validate:"required,max=500" doc:"Title"`
	Author          string    `json:"author" validate:"required,max=300" doc:"Author"`
	ISBN            string    `json:"isbn,omitempty" validate:"omitempty,isbn" doc:"ISBN-10 or ISBN-13"`
	Category        string    `json:"category,omitempty" validate:"max=100" doc:"Category name"`
	PublicationDate *FlexDate `json:"publication_date,omitempty" doc:"Publication date"`
	Publisher       string    `json:"publisher,omitempty" validate:"max=300" doc:"Publisher"`
	Pages           int       `json:"pages,omitempty" validate:"gte=0" doc:"Page count"`
	Language        string    `json:"language,omitempty" validate:"max=50" doc:"Language, default English"`
	Description     string    `json:"description,omitempty" doc:"Description"`
	Location        string    `json:"location,omitempty" validate:"max=100" doc:"Shelf location"`
	Condition       string    `json:"condition,omitempty" validate:"omitempty,condition" doc:"Excellent, Good, Fair or Poor"`
	Status          string    `json:"status,omitempty" validate:"omitempty,catalog_status" doc:"available, maintenance or lost"`
	CoverImage      string    `json:"cover_image,omitempty" validate:"omitempty,max=2000" doc:"Cover image URL"`
}

// CreateBookInput wraps the create book request for Huma.
type CreateBookInput struct {
	Body CreateBookRequest
}

// UpdateBookRequest is the request body for updating a book. Omitted
// fields are left unchanged.
type UpdateBookRequest struct {
	Title           *string   `json:"title,omitempty" validate:"omitempty,min=1,max=500" doc:"Title"`
	Author          *string   `json:"author,omitempty" validate:"omitempty,min=1,max=300" doc:"Author"`
	ISBN            *string   `json:"isbn,omitempty" validate:"omitempty,isbn" doc:"ISBN-10 or ISBN-13"`
	Category        *string   `json:"category,omitempty" validate:"omitempty,max=100" doc:"Category name"`
	PublicationDate *FlexDate `json:"publication_date,omitempty" doc:"Publication date"`
	Publisher       *string   `json:"publisher,omitempty" validate:"omitempty,max=300" doc:"Publisher"`
	Pages           *int      `json:"pages,omitempty" validate:"omitempty,gte=0" doc:"Page count"`
	Language        *string   `json:"language,omitempty" validate:"omitempty,max=50" doc:"Language"`
	Description     *string   `json:"description,omitempty" doc:"Description"`
	Location        *string   `json:"location,omitempty" validate:"omitempty,max=100" doc:"Shelf location"`
	Condition       *string   `json:"condition,omitempty" validate:"omitempty,condition" doc:"Excellent, Good, Fair or Poor"`
	Status          *string   `json:"status,omitempty" validate:"omitempty,catalog_status" doc:"available, maintenance or lost"`
	CoverImage      *string   `json:"cover_image,omitempty" validate:"omitempty,max=2000" doc:"Cover image URL"`
}

// UpdateBookInput wraps the update book request for Huma.
type UpdateBookInput struct {
	ID   string `path:"id" doc:"Book ID"`
	Body UpdateBookRequest
}

// MessageResponse is a bare acknowledgement.
type MessageResponse struct {
	Message string `json:"message" doc:"Outcome"`
}

// MessageOutput wraps a message for Huma.
type MessageOutput struct {
	Body MessageResponse
}

// ForceAvailableResponse reports a forced status change.
type ForceAvailableResponse struct {
	Book           *domain.Book      `json:"book" doc:"Updated book"`
	PreviousStatus domain.BookStatus `json:"previous_status" doc:"Status before the change"`
}

// ForceAvailableOutput wraps the force-available response for Huma.
type ForceAvailableOutput struct {
	Body ForceAvailableResponse
}

// === Handlers ===

func (s *Server) handleListBooks(ctx context.Context, input *ListBooksInput) (*ListBooksOutput, error) {
	page, err := s.services.Catalog.ListBooks(ctx, service.BookQuery{
		Search:     input.Search,
		Category:   input.Category,
		Status:     domain.BookStatus(input.Status),
		PageParams: input.params(),
	})
	if err != nil {
		return nil, err
	}
	return &ListBooksOutput{Body: page}, nil
}

func (s *Server) handleGetBook(ctx context.Context, input *BookIDInput) (*BookOutput, error) {
	book, err := s.services.Catalog.GetBook(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &BookOutput{Body: book}, nil
}

func (s *Server) handleCreateBook(ctx context.Context, input *CreateBookInput) (*BookOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, err
	}

	body := input.Body
	book, err := s.services.Catalog.CreateBook(ctx, service.BookInput{
		Title:           body.Title,
		Author:          body.Author,
		ISBN:            body.ISBN,
		Category:        body.Category,
		PublicationDate: s.optionalDate(body.PublicationDate),
		Publisher:       body.Publisher,
		Pages:           body.Pages,
		Language:        body.Language,
		Description:     body.Description,
		Location:        body.Location,
		Condition:       domain.Condition(body.Condition),
		Status:          domain.BookStatus(body.Status),
		CoverImage:      body.CoverImage,
	})
	if err != nil {
		return nil, err
	}
	return &BookOutput{Body: &service.BookView{Book: *book}}, nil
}

func (s *Server) handleUpdateBook(ctx context.Context, input *UpdateBookInput) (*BookOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, err
	}

	body := input.Body
	up := service.BookUpdate{
		Title:           body.Title,
		Author:          body.Author,
		ISBN:            body.ISBN,
		Category:        body.Category,
		PublicationDate: s.optionalDate(body.PublicationDate),
		Publisher:       body.Publisher,
		Pages:           body.Pages,
		Language:        body.Language,
		Description:     body.Description,
		Location:        body.Location,
		CoverImage:      body.CoverImage,
	}
	if body.Condition != nil {
		c := domain.Condition(*body.Condition)
		up.Condition = &c
	}
	if body.Status != nil {
		st := domain.BookStatus(*body.Status)
		up.Status = &st
	}

	if _, err := s.services.Catalog.UpdateBook(ctx, input.ID, up); err != nil {
		return nil, err
	}
	view, err := s.services.Catalog.GetBook(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &BookOutput{Body: view}, nil
}

func (s *Server) handleDeleteBook(ctx context.Context, input *BookIDInput) (*MessageOutput, error) {
	if err := s.services.Catalog.DeleteBook(ctx, input.ID); err != nil {
		return nil, err
	}
	return &MessageOutput{Body: MessageResponse{Message: "Book deleted successfully"}}, nil
}

func (s *Server) handleForceAvailable(ctx context.Context, input *BookIDInput) (*ForceAvailableOutput, error) {
	book, previous, err := s.services.Circulation.ForceAvailable(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &ForceAvailableOutput{Body: ForceAvailableResponse{Book: book, PreviousStatus: previous}}, nil
}

// optionalDate resolves an optional request date in the circulation zone.
func (s *Server) optionalDate(d *FlexDate) *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.In(s.location)
	return &t
}
