package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/circulation-server/internal/domain"
	"github.com/listenupapp/circulation-server/internal/service"
	"github.com/listenupapp/circulation-server/internal/store"
)

func (s *Server) registerBorrowerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listBorrowers",
		Method:      http.MethodGet,
		Path:        "/api/borrowers",
		Summary:     "List borrowers",
		Description: "Returns borrowers sorted by name",
		Tags:        []string{"Borrowers"},
	}, s.handleListBorrowers)

	huma.Register(s.api, huma.Operation{
		OperationID: "getBorrower",
		Method:      http.MethodGet,
		Path:        "/api/borrowers/{id}",
		Summary:     "Get borrower",
		Description: "Returns a borrower by ID",
		Tags:        []string{"Borrowers"},
	}, s.handleGetBorrower)

	huma.Register(s.api, huma.Operation{
		OperationID:   "createBorrower",
		Method:        http.MethodPost,
		Path:          "/api/borrowers",
		Summary:       "Create borrower",
		Description:   "Registers a member. Emails are unique ignoring case.",
		Tags:          []string{"Borrowers"},
		DefaultStatus: http.StatusCreated,
	}, s.handleCreateBorrower)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateBorrower",
		Method:      http.MethodPut,
		Path:        "/api/borrowers/{id}",
		Summary:     "Update borrower",
		Description: "Updates a borrower. Suspending blocks new lends but leaves open ones alone.",
		Tags:        []string{"Borrowers"},
	}, s.handleUpdateBorrower)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteBorrower",
		Method:      http.MethodDelete,
		Path:        "/api/borrowers/{id}",
		Summary:     "Delete borrower",
		Description: "Removes a borrower with no open lends",
		Tags:        []string{"Borrowers"},
	}, s.handleDeleteBorrower)

	huma.Register(s.api, huma.Operation{
		OperationID: "listBorrowerTransactions",
		Method:      http.MethodGet,
		Path:        "/api/borrowers/{id}/transactions",
		Summary:     "Borrower history",
		Description: "Returns a borrower's lends newest first",
		Tags:        []string{"Borrowers"},
	}, s.handleBorrowerTransactions)
}

// === DTOs ===

// ListBorrowersInput contains parameters for listing borrowers.
type ListBorrowersInput struct {
	Search string `query:"search" doc:"Free text over name, email and phone"`
	Status string `query:"status" enum:"active,inactive,suspended" doc:"Membership status"`
	PageInput
}

// ListBorrowersOutput wraps a page of borrowers for Huma.
type ListBorrowersOutput struct {
	Body *store.Page[*domain.Borrower]
}

// BorrowerIDInput identifies a borrower.
type BorrowerIDInput struct {
	ID string `path:"id" doc:"Borrower ID"`
}

// BorrowerOutput wraps a borrower for Huma.
type BorrowerOutput struct {
	Body *domain.Borrower
}

// CreateBorrowerRequest is the request body for creating a borrower.
type CreateBorrowerRequest struct {
	Name           string    `json:"name" validate:"required,max=200" doc:"Full name"`
	Email          string    `json:"email" validate:"required,email,max=320" doc:"Email address"`
	Phone          string    `json:"phone,omitempty" validate:"max=50" doc:"Phone number"`
	Address        string    `json:"address,omitempty" validate:"max=500" doc:"Postal address"`
	MembershipDate *FlexDate `json:"membership_date,omitempty" doc:"Membership start, defaults to today"`
	Status         string    `json:"status,omitempty" validate:"omitempty,borrower_status" doc:"active, inactive or suspended"`
	Notes          string    `json:"notes,omitempty" doc:"Staff notes"`
}

// CreateBorrowerInput wraps the create borrower request for Huma.
type CreateBorrowerInput struct {
	Body CreateBorrowerRequest
}

// UpdateBorrowerRequest is the request body for updating a borrower.
type UpdateBorrowerRequest struct {
	Name    *string `json:"name,omitempty" validate:"omitempty,min=1,max=200" doc:"Full name"`
	Email   *string `json:"email,omitempty" validate:"omitempty,email,max=320" doc:"Email address"`
	Phone   *string `json:"phone,omitempty" validate:"omitempty,max=50" doc:"Phone number"`
	Address *string `json:"address,omitempty" validate:"omitempty,max=500" doc:"Postal address"`
	Status  *string `json:"status,omitempty" validate:"omitempty,borrower_status" doc:"active, inactive or suspended"`
	Notes   *string `json:"notes,omitempty" doc:"Staff notes"`
}

// UpdateBorrowerInput wraps the update borrower request for Huma.
type UpdateBorrowerInput struct {
	ID   string `path:"id" doc:"Borrower ID"`
	Body UpdateBorrowerRequest
}

// TransactionListOutput wraps an unpaged list of transactions for Huma.
type TransactionListOutput struct {
	Body []service.TransactionView
}

// === Handlers ===

func (s *Server) handleListBorrowers(ctx context.Context, input *ListBorrowersInput) (*ListBorrowersOutput, error) {
	page, err := s.services.Borrowers.ListBorrowers(ctx, service.BorrowerQuery{
		Search:     input.Search,
		Status:     domain.BorrowerStatus(input.Status),
		PageParams: input.params(),
	})
	if err != nil {
		return nil, err
	}
	return &ListBorrowersOutput{Body: page}, nil
}

func (s *Server) handleGetBorrower(ctx context.Context, input *BorrowerIDInput) (*BorrowerOutput, error) {
	b, err := s.services.Borrowers.GetBorrower(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &BorrowerOutput{Body: b}, nil
}

func (s *Server) handleCreateBorrower(ctx context.Context, input *CreateBorrowerInput) (*BorrowerOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, err
	}

	body := input.Body
	b, err := s.services.Borrowers.CreateBorrower(ctx, service.BorrowerInput{
		Name:           body.Name,
		Email:          body.Email,
		Phone:          body.Phone,
		Address:        body.Address,
		MembershipDate: s.optionalDate(body.MembershipDate),
		Status:         domain.BorrowerStatus(body.Status),
		Notes:          body.Notes,
	})
	if err != nil {
		return nil, err
	}
	return &BorrowerOutput{Body: b}, nil
}

func (s *Server) handleUpdateBorrower(ctx context.Context, input *UpdateBorrowerInput) (*BorrowerOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, err
	}

	body := input.Body
	up := service.BorrowerUpdate{
		Name:    body.Name,
		Email:   body.Email,
		Phone:   body.Phone,
		Address: body.Address,
		Notes:   body.Notes,
	}
	if body.Status != nil {
		st := domain.BorrowerStatus(*body.Status)
		up.Status = &st
	}

	b, err := s.services.Borrowers.UpdateBorrower(ctx, input.ID, up)
	if err != nil {
		return nil, err
	}
	return &BorrowerOutput{Body: b}, nil
}

func (s *Server) handleDeleteBorrower(ctx context.Context, input *BorrowerIDInput) (*MessageOutput, error) {
	if err := s.services.Borrowers.DeleteBorrower(ctx, input.ID); err != nil {
		return nil, err
	}
	return &MessageOutput{Body: MessageResponse{Message: "Borrower deleted successfully"}}, nil
}

func (s *Server) handleBorrowerTransactions(ctx context.Context, input *BorrowerIDInput) (*TransactionListOutput, error) {
	txns, err := s.services.Borrowers.BorrowerTransactions(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if txns == nil {
		txns = []service.TransactionView{}
	}
	return &TransactionListOutput{Body: txns}, nil
}
