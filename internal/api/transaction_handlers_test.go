package api

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/listenupapp/circulation-server/internal/circulation"
	"github.com/listenupapp/circulation-server/internal/service"
	"github.com/listenupapp/circulation-server/internal/store"
)

func TestLend_Success(t *testing.T) {
	ts := setupTestServer(t)
	bookID := ts.createBook(t, "Dune")
	borrowerID := ts.createBorrower(t, "Ada", "ada@example.com")

	resp := ts.api.Post("/api/transactions/lend", map[string]any{
		"book_id":     bookID,
		"borrower_id": borrowerID,
		"due_date":    "2026-06-29",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	lend := decode[LendResponse](t, resp)
	assert.NotEmpty(t, lend.ID)
	assert.Equal(t, "Book lent successfully", lend.Message)
	assert.True(t, lend.DueDate.Equal(time.Date(2026, 6, 29, 0, 0, 0, 0, time.UTC)))

	book := decode[service.BookView](t, ts.api.Get("/api/books/"+bookID))
	assert.Equal(t, "borrowed", string(book.Status))
	assert.Equal(t, 1, book.BorrowCount)
	require.NotNil(t, book.BorrowerInfo)
	assert.Equal(t, "Ada", book.BorrowerInfo.Name)
}

func TestLend_Errors(t *testing.T) {
	ts := setupTestServer(t)
	bookID := ts.createBook(t, "Dune")
	borrowerID := ts.createBorrower(t, "Ada", "ada@example.com")

	tests := []struct {
		name    string
		body    map[string]any
		status  int
		code    string
		message string
	}{
		{
			name:    "past due date",
			body:    map[string]any{"book_id": bookID, "borrower_id": borrowerID, "due_date": "2026-06-14"},
			status:  http.StatusBadRequest,
			code:    "VALIDATION",
			message: service.MsgDueDateInPast,
		},
		{
			name:    "unknown book",
			body:    map[string]any{"book_id": "book-missing", "borrower_id": borrowerID, "due_date": "2026-06-29"},
			status:  http.StatusNotFound,
			code:    "NOT_FOUND",
			message: service.MsgBookNotFound,
		},
		{
			name:    "unknown borrower",
			body:    map[string]any{"book_id": bookID, "borrower_id": "borrower-missing", "due_date": "2026-06-29"},
			status:  http.StatusNotFound,
			code:    "NOT_FOUND",
			message: service.MsgBorrowerNotFound,
		},
		{
			name:   "empty book id",
			body:   map[string]any{"book_id": "", "borrower_id": borrowerID, "due_date": "2026-06-29"},
			status: http.StatusBadRequest,
			code:   "VALIDATION",
		},
		{
			name:   "missing due date",
			body:   map[string]any{"book_id": bookID, "borrower_id": borrowerID},
			status: http.StatusBadRequest,
			code:   "VALIDATION",
		},
		{
			name:   "unparseable due date",
			body:   map[string]any{"book_id": bookID, "borrower_id": borrowerID, "due_date": "next tuesday"},
			status: http.StatusBadRequest,
			code:   "VALIDATION",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.api.Post("/api/transactions/lend", tt.body)
			require.Equal(t, tt.status, resp.Code, resp.Body.String())

			body := decode[errorBody](t, resp)
			assert.Equal(t, tt.code, body.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, body.Error)
			}
		})
	}

	// None of the failures touched the book.
	book := decode[service.BookView](t, ts.api.Get("/api/books/"+bookID))
	assert.Equal(t, "available", string(book.Status))
}

func TestLend_BookAlreadyBorrowed(t *testing.T) {
	ts := setupTestServer(t)
	bookID := ts.createBook(t, "Dune")
	first := ts.createBorrower(t, "Ada", "ada@example.com")
	second := ts.createBorrower(t, "Grace", "grace@example.com")
	ts.lend(t, bookID, first, 14)

	resp := ts.api.Post("/api/transactions/lend", map[string]any{
		"book_id":     bookID,
		"borrower_id": second,
		"due_date":    ts.date(14),
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	body := decode[errorBody](t, resp)
	assert.Equal(t, "PRECONDITION_FAILED", body.Code)
	assert.Equal(t, service.MsgBookNotAvailable, body.Error)
}

func TestLend_InactiveBorrower(t *testing.T) {
	ts := setupTestServer(t)
	bookID := ts.createBook(t, "Dune")
	resp := ts.api.Post("/api/borrowers", map[string]any{
		"name":   "Sam",
		"email":  "sam@example.com",
		"status": "suspended",
	})
	require.Equal(t, http.StatusCreated, resp.Code)
	borrowerID := decode[struct {
		ID string `json:"id"`
	}](t, resp).ID

	resp = ts.api.Post("/api/transactions/lend", map[string]any{
		"book_id":     bookID,
		"borrower_id": borrowerID,
		"due_date":    ts.date(7),
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, service.MsgBorrowerNotActive, decode[errorBody](t, resp).Error)
}

func TestLend_ConcurrentSingleWinner(t *testing.T) {
	ts := setupTestServer(t)
	bookID := ts.createBook(t, "Dune")

	const n = 8
	borrowers := make([]string, n)
	for i := range n {
		borrowers[i] = ts.createBorrower(t, "Reader", "reader"+string(rune('a'+i))+"@example.com")
	}

	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := ts.api.Post("/api/transactions/lend", map[string]any{
				"book_id":     bookID,
				"borrower_id": borrowers[i],
				"due_date":    ts.date(14),
			})
			codes[i] = resp.Code
		}(i)
	}
	wg.Wait()

	created := 0
	for _, c := range codes {
		if c == http.StatusCreated {
			created++
		} else {
			assert.Equal(t, http.StatusBadRequest, c)
		}
	}
	assert.Equal(t, 1, created)

	page := decode[store.Page[service.TransactionView]](t, ts.api.Get("/api/transactions?status=active"))
	assert.Equal(t, 1, page.Total)
}

func TestReturn_OnTime(t *testing.T) {
	ts := setupTestServer(t)
	bookID := ts.createBook(t, "Dune")
	borrowerID := ts.createBorrower(t, "Ada", "ada@example.com")
	txnID := ts.lend(t, bookID, borrowerID, 14)

	ts.advance(3 * 24 * time.Hour)
	resp := ts.api.Post("/api/transactions/return", map[string]any{"transaction_id": txnID})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	ret := decode[ReturnResponse](t, resp)
	assert.Equal(t, "Book returned successfully", ret.Message)
	assert.Equal(t, txnID, ret.TransactionID)
	assert.Zero(t, ret.FineAmount)
	assert.False(t, ret.FineOverridden)

	book := decode[service.BookView](t, ts.api.Get("/api/books/"+bookID))
	assert.Equal(t, "available", string(book.Status))
	assert.Nil(t, book.BorrowerInfo)
}

func TestReturn_LateFineFromCaller(t *testing.T) {
	ts := setupTestServer(t)
	borrowerID := ts.createBorrower(t, "Ada", "ada@example.com")
	charged := ts.lend(t, ts.createBook(t, "Dune"), borrowerID, 7)
	omitted := ts.lend(t, ts.createBook(t, "Emma"), borrowerID, 7)
	waived := ts.lend(t, ts.createBook(t, "Ulysses"), borrowerID, 7)

	ts.advance(12 * 24 * time.Hour)

	resp := ts.api.Post("/api/transactions/return", map[string]any{"transaction_id": charged, "fine_amount": 2.5})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	ret := decode[ReturnResponse](t, resp)
	assert.InDelta(t, 2.50, ret.FineAmount, 0.001)
	assert.InDelta(t, 2.50, ret.AssessedFine, 0.001)
	assert.False(t, ret.FineOverridden)

	txn := decode[service.TransactionView](t, ts.api.Get("/api/transactions/"+charged))
	assert.Equal(t, service.TxnStatusReturned, txn.Status)
	assert.InDelta(t, 2.50, txn.FineAmount, 0.001)
	require.NotNil(t, txn.ReturnDate)

	resp = ts.api.Post("/api/transactions/return", map[string]any{"transaction_id": omitted})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	ret = decode[ReturnResponse](t, resp)
	assert.Zero(t, ret.FineAmount)
	assert.InDelta(t, 2.50, ret.AssessedFine, 0.001)

	resp = ts.api.Post("/api/transactions/return", map[string]any{"transaction_id": waived, "fine_amount": 0})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	ret = decode[ReturnResponse](t, resp)
	assert.Zero(t, ret.FineAmount)
	assert.True(t, ret.FineOverridden)
}

func TestReturn_FineOverride(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("desk-key"), bcrypt.MinCost)
	require.NoError(t, err)
	ts := setupTestServer(t, withWaiverKeyHash(string(hash)))

	bookID := ts.createBook(t, "Dune")
	borrowerID := ts.createBorrower(t, "Ada", "ada@example.com")
	txnID := ts.lend(t, bookID, borrowerID, 7)
	ts.advance(10 * 24 * time.Hour)

	body := map[string]any{"transaction_id": txnID, "fine_amount": 0}

	resp := ts.api.Post("/api/transactions/return", body)
	require.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "FORBIDDEN", decode[errorBody](t, resp).Code)

	resp = ts.api.Post("/api/transactions/return", HeaderWaiverKey+": wrong", body)
	require.Equal(t, http.StatusForbidden, resp.Code)

	// The refused attempts left the lend open.
	txn := decode[service.TransactionView](t, ts.api.Get("/api/transactions/"+txnID))
	assert.Equal(t, service.TxnStatusActive, txn.Status)

	resp = ts.api.Post("/api/transactions/return", HeaderWaiverKey+": desk-key", body)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	ret := decode[ReturnResponse](t, resp)
	assert.Zero(t, ret.FineAmount)
	assert.InDelta(t, 1.50, ret.AssessedFine, 0.001)
	assert.True(t, ret.FineOverridden)
}

func TestReturn_Errors(t *testing.T) {
	ts := setupTestServer(t)
	bookID := ts.createBook(t, "Dune")
	borrowerID := ts.createBorrower(t, "Ada", "ada@example.com")
	txnID := ts.lend(t, bookID, borrowerID, 7)

	resp := ts.api.Post("/api/transactions/return", map[string]any{"transaction_id": txnID})
	require.Equal(t, http.StatusOK, resp.Code)

	t.Run("second return", func(t *testing.T) {
		resp := ts.api.Post("/api/transactions/return", map[string]any{"transaction_id": txnID})
		require.Equal(t, http.StatusNotFound, resp.Code)
		assert.Equal(t, service.MsgActiveLendNotFound, decode[errorBody](t, resp).Error)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		resp := ts.api.Post("/api/transactions/return", map[string]any{"transaction_id": "lend-missing"})
		require.Equal(t, http.StatusNotFound, resp.Code)
		assert.Equal(t, "NOT_FOUND", decode[errorBody](t, resp).Code)
	})

	t.Run("blank transaction id", func(t *testing.T) {
		resp := ts.api.Post("/api/transactions/return", map[string]any{"transaction_id": ""})
		require.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, "VALIDATION", decode[errorBody](t, resp).Code)
	})

	t.Run("negative fine", func(t *testing.T) {
		resp := ts.api.Post("/api/transactions/return", map[string]any{"transaction_id": txnID, "fine_amount": -1})
		require.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func TestListTransactions_Filters(t *testing.T) {
	ts := setupTestServer(t)
	borrowerID := ts.createBorrower(t, "Ada", "ada@example.com")
	returned := ts.lend(t, ts.createBook(t, "Dune"), borrowerID, 7)
	ts.lend(t, ts.createBook(t, "Emma"), borrowerID, 7)
	require.Equal(t, http.StatusOK, ts.api.Post("/api/transactions/return", map[string]any{"transaction_id": returned}).Code)

	tests := []struct {
		query string
		total int
	}{
		{"", 2},
		{"?type=lend", 2},
		{"?type=return", 1},
		{"?status=active", 1},
		{"?status=borrowed", 1},
		{"?status=returned", 1},
		{"?type=return&status=active", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp := ts.api.Get("/api/transactions" + tt.query)
			require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
			page := decode[store.Page[service.TransactionView]](t, resp)
			assert.Equal(t, tt.total, page.Total)
		})
	}

	resp := ts.api.Get("/api/transactions?type=renewal")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.api.Get("/api/transactions?limit=500")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestOverdueAndContacts(t *testing.T) {
	ts := setupTestServer(t)
	borrowerID := ts.createBorrower(t, "Ada", "ada@example.com")
	late := ts.lend(t, ts.createBook(t, "Dune"), borrowerID, 3)
	ts.lend(t, ts.createBook(t, "Emma"), borrowerID, 30)
	ts.advance(8 * 24 * time.Hour)

	resp := ts.api.Get("/api/transactions/overdue/list")
	require.Equal(t, http.StatusOK, resp.Code)
	overdue := decode[[]service.OverdueView](t, resp)
	require.Len(t, overdue, 1)
	assert.Equal(t, late, overdue[0].ID)
	assert.Equal(t, 5, overdue[0].OverdueDays)
	assert.InDelta(t, 2.50, overdue[0].AccruedFine, 0.001)
	assert.False(t, overdue[0].Contacted)

	resp = ts.api.Post("/api/transactions/"+late+"/contact", map[string]any{"channel": "phone", "note": "left a message"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	overdue = decode[[]service.OverdueView](t, ts.api.Get("/api/transactions/overdue/list"))
	require.Len(t, overdue, 1)
	assert.True(t, overdue[0].Contacted)

	summary := decode[circulation.OverdueSummary](t, ts.api.Get("/api/reports/overdue-summary"))
	assert.Equal(t, 1, summary.TotalOverdue)
	assert.Equal(t, 1, summary.Overdue1Week)
	assert.InDelta(t, 2.50, summary.TotalAccruedFines, 0.001)

	resp = ts.api.Post("/api/transactions/"+late+"/contact", map[string]any{"channel": "pigeon"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.api.Delete("/api/transactions/" + late + "/contact")
	assert.Equal(t, http.StatusNoContent, resp.Code)

	resp = ts.api.Delete("/api/transactions/" + late + "/contact")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestLendRateLimit(t *testing.T) {
	ts := setupTestServer(t, withRateLimit(0.001, 2))
	bookID := ts.createBook(t, "Dune")
	borrowerID := ts.createBorrower(t, "Ada", "ada@example.com")

	body := map[string]any{"book_id": bookID, "borrower_id": borrowerID, "due_date": ts.date(7)}
	assert.Equal(t, http.StatusCreated, ts.api.Post("/api/transactions/lend", body).Code)
	assert.Equal(t, http.StatusBadRequest, ts.api.Post("/api/transactions/lend", body).Code)

	resp := ts.api.Post("/api/transactions/lend", body)
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.NotEmpty(t, resp.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decode[errorBody](t, resp).Code)

	// Reads are not throttled.
	for range 5 {
		assert.Equal(t, http.StatusOK, ts.api.Get("/api/transactions").Code)
	}
}
