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

// HeaderWaiverKey carries the key that authorizes a fine override on return.
const HeaderWaiverKey = "X-Waiver-Key"

func (s *Server) registerTransactionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listTransactions",
		Method:      http.MethodGet,
		Path:        "/api/transactions",
		Summary:     "List transactions",
		Description: "Returns ledger records newest first. type=return keeps returned lends only; status filters by active or returned.",
		Tags:        []string{"Transactions"},
	}, s.handleListTransactions)

	huma.Register(s.api, huma.Operation{
		OperationID: "listOverdueTransactions",
		Method:      http.MethodGet,
		Path:        "/api/transactions/overdue/list",
		Summary:     "List overdue lends",
		Description: "Returns open lends past their due date, most overdue first, with accrued fines",
		Tags:        []string{"Transactions"},
	}, s.handleListOverdue)

	huma.Register(s.api, huma.Operation{
		OperationID: "getTransaction",
		Method:      http.MethodGet,
		Path:        "/api/transactions/{id}",
		Summary:     "Get transaction",
		Description: "Returns one ledger record with its book and borrower",
		Tags:        []string{"Transactions"},
	}, s.handleGetTransaction)

	huma.Register(s.api, huma.Operation{
		OperationID:   "lendBook",
		Method:        http.MethodPost,
		Path:          "/api/transactions/lend",
		Summary:       "Lend a book",
		Description:   "Checks an available book out to an active borrower",
		Tags:          []string{"Transactions"},
		DefaultStatus: http.StatusCreated,
	}, s.handleLend)

	huma.Register(s.api, huma.Operation{
		OperationID: "returnBook",
		Method:      http.MethodPost,
		Path:        "/api/transactions/return",
		Summary:     "Return a book",
		Description: "Closes an open lend and records the fine charged, 0 when fine_amount is omitted, next to the assessed late fine. When a waiver key is configured the assessed fine is charged by default and a different fine_amount needs the " + HeaderWaiverKey + " header.",
		Tags:        []string{"Transactions"},
	}, s.handleReturn)

	huma.Register(s.api, huma.Operation{
		OperationID:   "recordOverdueContact",
		Method:        http.MethodPost,
		Path:          "/api/transactions/{id}/contact",
		Summary:       "Record overdue contact",
		Description:   "Notes that the borrower of an open lend was contacted. Replaces any earlier note.",
		Tags:          []string{"Transactions"},
		DefaultStatus: http.StatusCreated,
	}, s.handleRecordContact)

	huma.Register(s.api, huma.Operation{
		OperationID:   "clearOverdueContact",
		Method:        http.MethodDelete,
		Path:          "/api/transactions/{id}/contact",
		Summary:       "Clear overdue contact",
		Description:   "Removes the contact note for a transaction",
		Tags:          []string{"Transactions"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleClearContact)
}

// === DTOs ===

// ListTransactionsInput contains parameters for listing transactions.
type ListTransactionsInput struct {
	Type   string `query:"type" enum:"lend,return" doc:"lend for every record, return for returned lends"`
	Status string `query:"status" enum:"active,borrowed,returned" doc:"active (or borrowed) for open lends, returned for closed"`
	PageInput
}

// ListTransactionsOutput wraps a page of transactions for Huma.
type ListTransactionsOutput struct {
	Body *store.Page[service.TransactionView]
}

// TransactionIDInput identifies a transaction.
type TransactionIDInput struct {
	ID string `path:"id" doc:"Transaction ID"`
}

// TransactionOutput wraps one transaction for Huma.
type TransactionOutput struct {
	Body *service.TransactionView
}

// OverdueListOutput wraps the overdue list for Huma.
type OverdueListOutput struct {
	Body []service.OverdueView
}

// LendRequest is the request body for lending a book.
type LendRequest struct {
	BookID     string    `json:"book_id" validate:"required" doc:"Book to lend"`
	BorrowerID string    `json:"borrower_id" validate:"required" doc:"Borrower taking the book"`
	DueDate    *FlexDate `json:"due_date" validate:"required" doc:"Due date, today or later"`
	Notes      string    `json:"notes,omitempty" validate:"max=1000" doc:"Staff notes"`
}

// LendInput wraps the lend request for Huma.
type LendInput struct {
	Body LendRequest
}

// LendResponse confirms a lend.
type LendResponse struct {
	ID              string    `json:"id" doc:"Transaction ID"`
	Message         string    `json:"message" doc:"Outcome"`
	TransactionDate time.Time `json:"transaction_date" doc:"When the book was lent"`
	DueDate         time.Time `json:"due_date" doc:"When the book is due"`
}

// LendOutput wraps the lend response for Huma.
type LendOutput struct {
	Body LendResponse
}

// ReturnRequest is the request body for returning a book.
type ReturnRequest struct {
	TransactionID string   `json:"transaction_id" validate:"required" doc:"Open lend to close"`
	FineAmount    *float64 `json:"fine_amount,omitempty" validate:"omitempty,gte=0" doc:"Fine to charge; defaults to 0, or to the assessed fine when waiver keys are configured"`
	Notes         string   `json:"notes,omitempty" validate:"max=1000" doc:"Return notes"`
}

// ReturnInput wraps the return request for Huma.
type ReturnInput struct {
	WaiverKey string `header:"X-Waiver-Key" doc:"Authorizes a fine override when waiver keys are configured"`
	Body      ReturnRequest
}

// ReturnResponse reports what a return recorded.
type ReturnResponse struct {
	TransactionID  string    `json:"transaction_id" doc:"Closed transaction"`
	Message        string    `json:"message" doc:"Outcome"`
	ReturnDate     time.Time `json:"return_date" doc:"When the book came back"`
	FineAmount     float64   `json:"fine_amount" doc:"Fine charged"`
	AssessedFine   float64   `json:"assessed_fine" doc:"Fine computed from days late"`
	FineOverridden bool      `json:"fine_overridden" doc:"Whether the charged fine differs from the assessed one"`
}

// ReturnOutput wraps the return response for Huma.
type ReturnOutput struct {
	Body ReturnResponse
}

// ContactRequest is the request body for recording an overdue contact.
type ContactRequest struct {
	Channel string `json:"channel,omitempty" validate:"omitempty,oneof=email phone letter in_person" doc:"email, phone, letter or in_person"`
	Note    string `json:"note,omitempty" validate:"max=1000" doc:"What was said"`
}

// ContactInput wraps the contact request for Huma.
type ContactInput struct {
	ID   string `path:"id" doc:"Transaction ID"`
	Body ContactRequest
}

// ContactOutput wraps a contact note for Huma.
type ContactOutput struct {
	Body *domain.OverdueContact
}

// === Handlers ===

func (s *Server) handleListTransactions(ctx context.Context, input *ListTransactionsInput) (*ListTransactionsOutput, error) {
	page, err := s.services.Transactions.ListTransactions(ctx, service.TransactionQuery{
		Type:       input.Type,
		Status:     input.Status,
		PageParams: input.params(),
	})
	if err != nil {
		return nil, err
	}
	return &ListTransactionsOutput{Body: page}, nil
}

func (s *Server) handleListOverdue(ctx context.Context, _ *struct{}) (*OverdueListOutput, error) {
	overdue, err := s.services.Transactions.ListOverdue(ctx)
	if err != nil {
		return nil, err
	}
	if overdue == nil {
		overdue = []service.OverdueView{}
	}
	return &OverdueListOutput{Body: overdue}, nil
}

func (s *Server) handleGetTransaction(ctx context.Context, input *TransactionIDInput) (*TransactionOutput, error) {
	txn, err := s.services.Transactions.GetTransaction(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &TransactionOutput{Body: txn}, nil
}

func (s *Server) handleLend(ctx context.Context, input *LendInput) (*LendOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, err
	}

	lend, err := s.services.Circulation.Lend(ctx, service.LendRequest{
		BookID:     input.Body.BookID,
		BorrowerID: input.Body.BorrowerID,
		DueDate:    input.Body.DueDate.In(s.location),
		Notes:      input.Body.Notes,
	})
	if err != nil {
		return nil, err
	}

	return &LendOutput{
		Body: LendResponse{
			ID:              lend.ID,
			Message:         "Book lent successfully",
			TransactionDate: lend.TransactionDate,
			DueDate:         lend.DueDate,
		},
	}, nil
}

func (s *Server) handleReturn(ctx context.Context, input *ReturnInput) (*ReturnOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, err
	}

	result, err := s.services.Circulation.Return(ctx, service.ReturnRequest{
		TransactionID: input.Body.TransactionID,
		FineAmount:    input.Body.FineAmount,
		Notes:         input.Body.Notes,
		WaiverKey:     input.WaiverKey,
	})
	if err != nil {
		return nil, err
	}

	return &ReturnOutput{
		Body: ReturnResponse{
			TransactionID:  result.Lend.ID,
			Message:        "Book returned successfully",
			ReturnDate:     result.ReturnDate,
			FineAmount:     result.FineAmount,
			AssessedFine:   result.AssessedFine,
			FineOverridden: result.Lend.Closure.FineOverridden,
		},
	}, nil
}

func (s *Server) handleRecordContact(ctx context.Context, input *ContactInput) (*ContactOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, err
	}
	c, err := s.services.Transactions.RecordContact(ctx, input.ID, input.Body.Channel, input.Body.Note)
	if err != nil {
		return nil, err
	}
	return &ContactOutput{Body: c}, nil
}

func (s *Server) handleClearContact(ctx context.Context, input *TransactionIDInput) (*struct{}, error) {
	if err := s.services.Transactions.ClearContact(ctx, input.ID); err != nil {
		return nil, err
	}
	return nil, nil
}
