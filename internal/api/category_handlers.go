package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/circulation-server/internal/domain"
)

func (s *Server) registerCategoryRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listCategories",
		Method:      http.MethodGet,
		Path:        "/api/categories",
		Summary:     "List categories",
		Description: "Returns all categories sorted by name",
		Tags:        []string{"Categories"},
	}, s.handleListCategories)

	// Older clients read categories from under /books.
	huma.Register(s.api, huma.Operation{
		OperationID: "listBookCategories",
		Method:      http.MethodGet,
		Path:        "/api/books/categories/list",
		Summary:     "List categories (books path)",
		Description: "Same as GET /api/categories",
		Tags:        []string{"Categories"},
	}, s.handleListCategories)

	huma.Register(s.api, huma.Operation{
		OperationID:   "createCategory",
		Method:        http.MethodPost,
		Path:          "/api/categories",
		Summary:       "Create category",
		Description:   "Adds a category. Names differing only in case or punctuation collide.",
		Tags:          []string{"Categories"},
		DefaultStatus: http.StatusCreated,
	}, s.handleCreateCategory)
}

// === DTOs ===

// ListCategoriesOutput wraps the category list for Huma.
type ListCategoriesOutput struct {
	Body []*domain.Category
}

// CreateCategoryRequest is the request body for creating a category.
type CreateCategoryRequest struct {
	Name        string `json:"name" validate:"required,max=100" doc:"Category name"`
	Description string `json:"description,omitempty" validate:"max=500" doc:"Description"`
}

// CreateCategoryInput wraps the create category request for Huma.
type CreateCategoryInput struct {
	Body CreateCategoryRequest
}

// CategoryOutput wraps a category for Huma.
type CategoryOutput struct {
	Body *domain.Category
}

// === Handlers ===

func (s *Server) handleListCategories(ctx context.Context, _ *struct{}) (*ListCategoriesOutput, error) {
	cats, err := s.services.Catalog.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	if cats == nil {
		cats = []*domain.Category{}
	}
	return &ListCategoriesOutput{Body: cats}, nil
}

func (s *Server) handleCreateCategory(ctx context.Context, input *CreateCategoryInput) (*CategoryOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, err
	}
	c, err := s.services.Catalog.CreateCategory(ctx, input.Body.Name, input.Body.Description)
	if err != nil {
		return nil, err
	}
	return &CategoryOutput{Body: c}, nil
}
