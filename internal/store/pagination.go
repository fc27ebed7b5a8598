package store

// Pagination defaults for list endpoints.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// PageParams selects one page of a sorted result. Page is 1-based.
type PageParams struct {
	Page  int
	Limit int
}

// Normalize clamps the params into range.
func (p *PageParams) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
}

// Page is one slice of a larger result.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

// Paginate cuts items (already sorted) down to the requested page.
func Paginate[T any](items []T, params PageParams) Page[T] {
	params.Normalize()

	total := len(items)
	start := min((params.Page-1)*params.Limit, total)
	end := min(start+params.Limit, total)

	return Page[T]{
		Items: items[start:end],
		Total: total,
		Page:  params.Page,
		Limit: params.Limit,
		Pages: (total + params.Limit - 1) / params.Limit,
	}
}
