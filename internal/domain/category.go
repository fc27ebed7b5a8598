package domain

// Category groups books by subject. Identity is the slug.
type Category struct {
	Record
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
}

// DefaultCategories are created on first start.
var DefaultCategories = []Category{
	{Name: "Fiction", Description: "Novels, short stories and other imaginative works"},
	{Name: "Non-Fiction", Description: "Factual works on real events, people and ideas"},
	{Name: "Science", Description: "Natural and physical sciences"},
	{Name: "Technology", Description: "Computing, engineering and applied technology"},
	{Name: "Biography", Description: "Accounts of people's lives"},
	{Name: "History", Description: "Past events and civilizations"},
}
