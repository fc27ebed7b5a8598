package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/circulation-server/internal/domain"
	"github.com/listenupapp/circulation-server/internal/service"
	"github.com/listenupapp/circulation-server/internal/store"
)

func TestCreateBook_Defaults(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Post("/api/books", map[string]any{
		"title":            "The Hobbit",
		"author":           "J.R.R. Tolkien",
		"isbn":             "978-0-261-10221-7",
		"publication_date": "1937-09-21",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	book := decode[service.BookView](t, resp)
	assert.NotEmpty(t, book.ID)
	assert.Equal(t, domain.BookAvailable, book.Status)
	assert.Equal(t, domain.ConditionGood, book.Condition)
	assert.Equal(t, domain.DefaultLanguage, book.Language)
	require.NotNil(t, book.PublicationDate)
	assert.Equal(t, 1937, book.PublicationDate.Year())
}

func TestCreateBook_Validation(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"missing title", map[string]any{"author": "A"}, ""},
		{"blank title", map[string]any{"title": "", "author": "A"}, "title"},
		{"bad isbn", map[string]any{"title": "T", "author": "A", "isbn": "12345"}, "isbn"},
		{"borrowed status", map[string]any{"title": "T", "author": "A", "status": "borrowed"}, "status"},
		{"bad condition", map[string]any{"title": "T", "author": "A", "condition": "Mint"}, "condition"},
		{"negative pages", map[string]any{"title": "T", "author": "A", "pages": -3}, "pages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.api.Post("/api/books", tt.body)
			require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())

			body := decode[errorBody](t, resp)
			assert.Equal(t, "VALIDATION", body.Code)
			if tt.field != "" {
				assert.Contains(t, body.Details, tt.field)
			}
		})
	}
}

func TestCreateBook_DuplicateISBN(t *testing.T) {
	ts := setupTestServer(t)

	body := map[string]any{"title": "Dune", "author": "Frank Herbert", "isbn": "9780441013593"}
	require.Equal(t, http.StatusCreated, ts.api.Post("/api/books", body).Code)

	body["isbn"] = "978-0441013593"
	resp := ts.api.Post("/api/books", body)
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "ALREADY_EXISTS", decode[errorBody](t, resp).Code)
}

func TestListBooks(t *testing.T) {
	ts := setupTestServer(t)
	for _, title := range []string{"Emma", "dune", "Beloved"} {
		ts.createBook(t, title)
	}
	resp := ts.api.Post("/api/books", map[string]any{"title": "Atlas", "author": "X", "status": "maintenance"})
	require.Equal(t, http.StatusCreated, resp.Code)

	page := decode[store.Page[service.BookView]](t, ts.api.Get("/api/books"))
	require.Equal(t, 4, page.Total)
	titles := make([]string, len(page.Items))
	for i, b := range page.Items {
		titles[i] = b.Title
	}
	assert.Equal(t, []string{"Atlas", "Beloved", "dune", "Emma"}, titles)

	page = decode[store.Page[service.BookView]](t, ts.api.Get("/api/books?status=maintenance"))
	assert.Equal(t, 1, page.Total)

	page = decode[store.Page[service.BookView]](t, ts.api.Get("/api/books?search=emm"))
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "Emma", page.Items[0].Title)

	page = decode[store.Page[service.BookView]](t, ts.api.Get("/api/books?page=2&limit=3"))
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 2, page.Pages)
	assert.Len(t, page.Items, 1)

	assert.Equal(t, http.StatusBadRequest, ts.api.Get("/api/books?status=borrowing").Code)
}

func TestUpdateBook(t *testing.T) {
	ts := setupTestServer(t)
	bookID := ts.createBook(t, "Dune")

	resp := ts.api.Put("/api/books/"+bookID, map[string]any{"location": "Shelf 4", "status": "maintenance"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	book := decode[service.BookView](t, resp)
	assert.Equal(t, "Shelf 4", book.Location)
	assert.Equal(t, domain.BookMaintenance, book.Status)
	assert.Equal(t, "Dune", book.Title)

	resp = ts.api.Put("/api/books/"+bookID, map[string]any{"status": "borrowed"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.api.Put("/api/books/book-missing", map[string]any{"title": "X"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestUpdateBook_StatusLockedWhileLent(t *testing.T) {
	ts := setupTestServer(t)
	bookID := ts.createBook(t, "Dune")
	ts.lend(t, bookID, ts.createBorrower(t, "Ada", "ada@example.com"), 7)

	resp := ts.api.Put("/api/books/"+bookID, map[string]any{"status": "lost"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "PRECONDITION_FAILED", decode[errorBody](t, resp).Code)

	// Non-status fields are still editable.
	resp = ts.api.Put("/api/books/"+bookID, map[string]any{"description": "Spice"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, domain.BookBorrowed, decode[service.BookView](t, resp).Status)
}

func TestDeleteBook(t *testing.T) {
	ts := setupTestServer(t)
	lent := ts.createBook(t, "Dune")
	ts.lend(t, lent, ts.createBorrower(t, "Ada", "ada@example.com"), 7)
	free := ts.createBook(t, "Emma")

	resp := ts.api.Delete("/api/books/" + lent)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "PRECONDITION_FAILED", decode[errorBody](t, resp).Code)

	resp = ts.api.Delete("/api/books/" + free)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Book deleted successfully", decode[MessageResponse](t, resp).Message)

	assert.Equal(t, http.StatusNotFound, ts.api.Get("/api/books/"+free).Code)
}

func TestForceAvailable(t *testing.T) {
	ts := setupTestServer(t)
	resp := ts.api.Post("/api/books", map[string]any{"title": "Atlas", "author": "X", "status": "lost"})
	require.Equal(t, http.StatusCreated, resp.Code)
	lostID := decode[service.BookView](t, resp).ID

	resp = ts.api.Post("/api/books/"+lostID+"/force-available")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	out := decode[ForceAvailableResponse](t, resp)
	assert.Equal(t, domain.BookLost, out.PreviousStatus)
	assert.Equal(t, domain.BookAvailable, out.Book.Status)

	lentID := ts.createBook(t, "Dune")
	ts.lend(t, lentID, ts.createBorrower(t, "Ada", "ada@example.com"), 7)
	resp = ts.api.Post("/api/books/"+lentID+"/force-available")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCategories(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Post("/api/categories", map[string]any{"name": "Poetry", "description": "Verse"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = ts.api.Post("/api/categories", map[string]any{"name": "poetry!"})
	assert.Equal(t, http.StatusConflict, resp.Code)

	cats := decode[[]domain.Category](t, ts.api.Get("/api/categories"))
	require.Len(t, cats, 1)
	assert.Equal(t, "Poetry", cats[0].Name)

	alias := decode[[]domain.Category](t, ts.api.Get("/api/books/categories/list"))
	assert.Equal(t, cats, alias)
}
