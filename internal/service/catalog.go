package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/listenupapp/circulation-server/internal/domain"
	domainerrors "github.com/listenupapp/circulation-server/internal/errors"
	"github.com/listenupapp/circulation-server/internal/id"
	"github.com/listenupapp/circulation-server/internal/search"
	"github.com/listenupapp/circulation-server/internal/store"
	"github.com/listenupapp/circulation-server/internal/util"
)

// searchHitLimit caps how many index hits a free-text filter considers.
const searchHitLimit = 1000

// Matcher finds documents by free text. *search.SearchIndex implements it.
type Matcher interface {
	MatchIDs(ctx context.Context, docType search.DocType, text string, limit int) ([]string, error)
}

// CatalogService manages books and categories.
type CatalogService struct {
	store   *store.Store
	matcher Matcher
	policy  Policy
	logger  *slog.Logger
}

// NewCatalogService creates a new catalog service. matcher may be nil, in
// which case text search falls back to substring matching only.
func NewCatalogService(st *store.Store, matcher Matcher, policy Policy, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		store:   st,
		matcher: matcher,
		policy:  policy,
		logger:  logger,
	}
}

// BookQuery filters and pages the book list.
type BookQuery struct {
	Search   string
	Category string
	Status   domain.BookStatus
	store.PageParams
}

// ListBooks returns books sorted by title. Borrowed books carry who has them.
func (s *CatalogService) ListBooks(ctx context.Context, q BookQuery) (*store.Page[BookView], error) {
	books, err := s.store.ListBooks(ctx)
	if err != nil {
		return nil, domainerrors.StorageFailure(err, "failed to list books")
	}

	hits := matchSet(ctx, s.matcher, s.logger, search.DocTypeBook, q.Search)
	needle := strings.ToLower(strings.TrimSpace(q.Search))

	filtered := books[:0]
	for _, b := range books {
		if q.Category != "" && !strings.EqualFold(b.Category, q.Category) {
			continue
		}
		if q.Status != "" && b.Status != q.Status {
			continue
		}
		if needle != "" && !hits[b.ID] && !bookContains(b, needle) {
			continue
		}
		filtered = append(filtered, b)
	}

	slices.SortFunc(filtered, func(a, b *domain.Book) int {
		return compareFold(a.Title, b.Title, a.ID, b.ID)
	})

	page := store.Paginate(filtered, q.PageParams)
	views, err := s.decorate(ctx, page.Items)
	if err != nil {
		return nil, err
	}

	return &store.Page[BookView]{
		Items: views,
		Total: page.Total,
		Page:  page.Page,
		Limit: page.Limit,
		Pages: page.Pages,
	}, nil
}

// GetBook returns one book with its current borrower.
func (s *CatalogService) GetBook(ctx context.Context, bookID string) (*BookView, error) {
	book, err := s.store.GetBook(ctx, bookID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainerrors.NotFound(MsgBookNotFound)
	}
	if err != nil {
		return nil, domainerrors.StorageFailure(err, "failed to get book")
	}

	views, err := s.decorate(ctx, []*domain.Book{book})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// decorate attaches borrower info to borrowed books.
func (s *CatalogService) decorate(ctx context.Context, books []*domain.Book) ([]BookView, error) {
	views := make([]BookView, len(books))
	var lent []*domain.Book
	for i, b := range books {
		views[i] = BookView{Book: *b}
		if b.Status == domain.BookBorrowed {
			lent = append(lent, b)
		}
	}
	if len(lent) == 0 {
		return views, nil
	}

	open, err := s.store.OpenLendsByBook(ctx)
	if err != nil {
		return nil, domainerrors.StorageFailure(err, "failed to load open lends")
	}

	borrowerIDs := make([]string, 0, len(lent))
	for _, b := range lent {
		if l := open[b.ID]; l != nil {
			borrowerIDs = append(borrowerIDs, l.BorrowerID)
		}
	}
	borrowers, err := s.store.GetBorrowersByIDs(ctx, borrowerIDs)
	if err != nil {
		return nil, domainerrors.StorageFailure(err, "failed to load borrowers")
	}

	for i := range views {
		l := open[views[i].ID]
		if l == nil {
			continue
		}
		info := &BorrowerInfo{DueDate: l.DueDate}
		if br := borrowers[l.BorrowerID]; br != nil {
			info.Name = br.Name
			info.Email = br.Email
		}
		views[i].BorrowerInfo = info
	}
	return views, nil
}

// BookInput holds the catalog fields of a book.
type BookInput struct {
	Title           string
	Author          string
	ISBN            string
	Category        string
	PublicationDate *time.Time
	Publisher       string
	Pages           int
	Language        string
	Description     string
	Location        string
	Condition       domain.Condition
	Status          domain.BookStatus
	CoverImage      string
}

// CreateBook adds a book to the catalog. New books start available unless
// the input names maintenance or lost.
func (s *CatalogService) CreateBook(ctx context.Context, in BookInput) (*domain.Book, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	if in.Title == "" || in.Author == "" {
		return nil, domainerrors.Validation("title and author are required")
	}
	if in.Status == "" {
		in.Status = domain.BookAvailable
	}
	if !in.Status.CatalogSettable() {
		return nil, domainerrors.Validationf("status %q cannot be set by catalog management", in.Status)
	}
	if in.Condition == "" {
		in.Condition = domain.ConditionGood
	}
	if !in.Condition.Valid() {
		return nil, domainerrors.Validationf("unknown condition %q", in.Condition)
	}
	if in.Language == "" {
		in.Language = domain.DefaultLanguage
	}

	bookID, err := id.Generate(id.PrefixBook)
	if err != nil {
		return nil, domainerrors.Internal("failed to generate id")
	}

	now := s.policy.now()
	book := &domain.Book{
		Record:          domain.Record{ID: bookID},
		Title:           in.Title,
		Author:          in.Author,
		ISBN:            strings.TrimSpace(in.ISBN),
		Category:        strings.TrimSpace(in.Category),
		PublicationDate: in.PublicationDate,
		Publisher:       in.Publisher,
		Pages:           in.Pages,
		Language:        in.Language,
		Description:     in.Description,
		Location:        in.Location,
		Condition:       in.Condition,
		Status:          in.Status,
		CoverImage:      in.CoverImage,
		DateAdded:       now,
	}
	book.InitTimestamps(now)

	if err := s.store.CreateBook(ctx, book); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, domainerrors.AlreadyExists("A book with this ISBN already exists")
		}
		return nil, domainerrors.StorageFailure(err, "failed to create book")
	}
	return book, nil
}

// BookUpdate holds the fields to change. Nil fields are left alone.
type BookUpdate struct {
	Title           *string
	Author          *string
	ISBN            *string
	Category        *string
	PublicationDate *time.Time
	Publisher       *string
	Pages           *int
	Language        *string
	Description     *string
	Location        *string
	Condition       *domain.Condition
	Status          *domain.BookStatus
	CoverImage      *string
}

// errStatusLocked aborts an update that would touch a lent book's status.
var errStatusLocked = errors.New("status locked by open lend")

// UpdateBook edits catalog fields. Status may only move among available,
// maintenance and lost, and only while the book is not lent.
func (s *CatalogService) UpdateBook(ctx context.Context, bookID string, up BookUpdate) (*domain.Book, error) {
	if up.Status != nil && !up.Status.CatalogSettable() {
		return nil, domainerrors.Validationf("status %q cannot be set by catalog management", *up.Status)
	}
	if up.Condition != nil && !up.Condition.Valid() {
		return nil, domainerrors.Validationf("unknown condition %q", *up.Condition)
	}
	if up.Title != nil && strings.TrimSpace(*up.Title) == "" {
		return nil, domainerrors.Validation("title cannot be empty")
	}
	if up.Author != nil && strings.TrimSpace(*up.Author) == "" {
		return nil, domainerrors.Validation("author cannot be empty")
	}

	now := s.policy.now()
	book, err := s.store.UpdateBook(ctx, bookID, func(b *domain.Book, hasOpenLend bool) error {
		if up.Status != nil && *up.Status != b.Status {
			if hasOpenLend || b.Status == domain.BookBorrowed {
				return errStatusLocked
			}
			b.Status = *up.Status
		}
		applyBookUpdate(b, up)
		b.Touch(now)
		return nil
	})

	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, domainerrors.NotFound(MsgBookNotFound)
	case errors.Is(err, errStatusLocked):
		return nil, domainerrors.PreconditionFailed("Book status cannot change while it is lent")
	case errors.Is(err, store.ErrAlreadyExists):
		return nil, domainerrors.AlreadyExists("A book with this ISBN already exists")
	case errors.Is(err, store.ErrConflict):
		return nil, domainerrors.Conflict("Book was modified concurrently; retry")
	case err != nil:
		return nil, domainerrors.StorageFailure(err, "failed to update book")
	}
	return book, nil
}

func applyBookUpdate(b *domain.Book, up BookUpdate) {
	setTrimmed := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setTrimmed(&b.Title, up.Title)
	setTrimmed(&b.Author, up.Author)
	setTrimmed(&b.ISBN, up.ISBN)
	setTrimmed(&b.Category, up.Category)
	setTrimmed(&b.Publisher, up.Publisher)
	setTrimmed(&b.Language, up.Language)
	setTrimmed(&b.Location, up.Location)
	setTrimmed(&b.CoverImage, up.CoverImage)
	if up.Description != nil {
		b.Description = *up.Description
	}
	if up.PublicationDate != nil {
		b.PublicationDate = up.PublicationDate
	}
	if up.Pages != nil {
		b.Pages = *up.Pages
	}
	if up.Condition != nil {
		b.Condition = *up.Condition
	}
}

// DeleteBook removes a book that is not lent. Its closed lends stay in the ledger.
func (s *CatalogService) DeleteBook(ctx context.Context, bookID string) error {
	err := s.store.DeleteBook(ctx, bookID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domainerrors.NotFound(MsgBookNotFound)
	case errors.Is(err, store.ErrInUse):
		return domainerrors.PreconditionFailed("Cannot delete a book that is currently borrowed")
	case err != nil:
		return domainerrors.StorageFailure(err, "failed to delete book")
	}
	return nil
}

// ListCategories returns categories sorted by name.
func (s *CatalogService) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, domainerrors.StorageFailure(err, "failed to list categories")
	}
	return cats, nil
}

// CreateCategory adds a category. Names that differ only in case or
// punctuation are the same category.
func (s *CatalogService) CreateCategory(ctx context.Context, name, description string) (*domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" || util.Slugify(name) == "" {
		return nil, domainerrors.Validation("name is required")
	}

	catID, err := id.Generate(id.PrefixCategory)
	if err != nil {
		return nil, domainerrors.Internal("failed to generate id")
	}

	c := &domain.Category{
		Record:      domain.Record{ID: catID},
		Name:        name,
		Description: strings.TrimSpace(description),
	}
	c.InitTimestamps(s.policy.now())

	if err := s.store.CreateCategory(ctx, c); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, domainerrors.AlreadyExists("Category already exists")
		}
		return nil, domainerrors.StorageFailure(err, "failed to create category")
	}
	s.logger.Info("category created", "id", c.ID, "slug", c.Slug)
	return c, nil
}

// SeedDefaults creates the stock categories that are missing.
func (s *CatalogService) SeedDefaults(ctx context.Context) (int, error) {
	return s.store.SeedCategories(ctx, domain.DefaultCategories)
}

func bookContains(b *domain.Book, needle string) bool {
	if strings.Contains(strings.ToLower(b.Title), needle) ||
		strings.Contains(strings.ToLower(b.Author), needle) {
		return true
	}
	isbn := util.NormalizeISBN(needle)
	return isbn != "" && strings.Contains(util.NormalizeISBN(b.ISBN), isbn)
}

// matchSet runs a free-text query against the index. Index errors degrade
// to substring matching rather than failing the request.
func matchSet(ctx context.Context, m Matcher, logger *slog.Logger, docType search.DocType, text string) map[string]bool {
	text = strings.TrimSpace(text)
	if m == nil || text == "" {
		return nil
	}

	ids, err := m.MatchIDs(ctx, docType, text, searchHitLimit)
	if err != nil {
		logger.Warn("search index query failed, using substring match", "type", string(docType), "error", err)
		return nil
	}

	set := make(map[string]bool, len(ids))
	for _, docID := range ids {
		set[docID] = true
	}
	return set
}

// compareFold orders case-insensitively by primary key, then by id.
func compareFold(a, b, aID, bID string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(aID, bID)
}
