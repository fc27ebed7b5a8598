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

// BorrowerService manages library members.
type BorrowerService struct {
	store   *store.Store
	matcher Matcher
	policy  Policy
	logger  *slog.Logger
}

// NewBorrowerService creates a new borrower service.
func NewBorrowerService(st *store.Store, matcher Matcher, policy Policy, logger *slog.Logger) *BorrowerService {
	return &BorrowerService{
		store:   st,
		matcher: matcher,
		policy:  policy,
		logger:  logger,
	}
}

// BorrowerQuery filters and pages the borrower list.
type BorrowerQuery struct {
	Search string
	Status domain.BorrowerStatus
	store.PageParams
}

// ListBorrowers returns borrowers sorted by name.
func (s *BorrowerService) ListBorrowers(ctx context.Context, q BorrowerQuery) (*store.Page[*domain.Borrower], error) {
	all, err := s.store.ListBorrowers(ctx)
	if err != nil {
		return nil, domainerrors.StorageFailure(err, "failed to list borrowers")
	}

	hits := matchSet(ctx, s.matcher, s.logger, search.DocTypeBorrower, q.Search)
	needle := strings.ToLower(strings.TrimSpace(q.Search))

	filtered := all[:0]
	for _, b := range all {
		if q.Status != "" && b.Status != q.Status {
			continue
		}
		if needle != "" && !hits[b.ID] && !borrowerContains(b, needle) {
			continue
		}
		filtered = append(filtered, b)
	}

	slices.SortFunc(filtered, func(a, b *domain.Borrower) int {
		return compareFold(a.Name, b.Name, a.ID, b.ID)
	})

	page := store.Paginate(filtered, q.PageParams)
	return &page, nil
}

func borrowerContains(b *domain.Borrower, needle string) bool {
	return strings.Contains(strings.ToLower(b.Name), needle) ||
		strings.Contains(b.Email, needle) ||
		strings.Contains(b.Phone, needle)
}

// GetBorrower returns one borrower.
func (s *BorrowerService) GetBorrower(ctx context.Context, borrowerID string) (*domain.Borrower, error) {
	b, err := s.store.GetBorrower(ctx, borrowerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainerrors.NotFound(MsgBorrowerNotFound)
	}
	if err != nil {
		return nil, domainerrors.StorageFailure(err, "failed to get borrower")
	}
	return b, nil
}

// BorrowerInput holds a borrower's editable fields.
type BorrowerInput struct {
	Name           string
	Email          string
	Phone          string
	Address        string
	MembershipDate *time.Time
	Status         domain.BorrowerStatus
	Notes          string
}

// CreateBorrower registers a member. Emails are unique ignoring case.
func (s *BorrowerService) CreateBorrower(ctx context.Context, in BorrowerInput) (*domain.Borrower, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = util.NormalizeEmail(in.Email)
	if in.Name == "" || in.Email == "" {
		return nil, domainerrors.Validation("name and email are required")
	}
	if in.Status == "" {
		in.Status = domain.BorrowerActive
	}
	if !in.Status.Valid() {
		return nil, domainerrors.Validationf("unknown borrower status %q", in.Status)
	}

	borrowerID, err := id.Generate(id.PrefixBorrower)
	if err != nil {
		return nil, domainerrors.Internal("failed to generate id")
	}

	now := s.policy.now()
	b := &domain.Borrower{
		Record:         domain.Record{ID: borrowerID},
		Name:           in.Name,
		Email:          in.Email,
		Phone:          strings.TrimSpace(in.Phone),
		Address:        strings.TrimSpace(in.Address),
		MembershipDate: now,
		Status:         in.Status,
		Notes:          in.Notes,
	}
	if in.MembershipDate != nil {
		b.MembershipDate = *in.MembershipDate
	}
	b.InitTimestamps(now)

	if err := s.store.CreateBorrower(ctx, b); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, domainerrors.AlreadyExists("A borrower with this email already exists")
		}
		return nil, domainerrors.StorageFailure(err, "failed to create borrower")
	}
	return b, nil
}

// BorrowerUpdate holds the fields to change. Nil fields are left alone.
type BorrowerUpdate struct {
	Name    *string
	Email   *string
	Phone   *string
	Address *string
	Status  *domain.BorrowerStatus
	Notes   *string
}

// UpdateBorrower edits a borrower. Suspending a borrower does not touch
// lends already open; it only blocks new ones.
func (s *BorrowerService) UpdateBorrower(ctx context.Context, borrowerID string, up BorrowerUpdate) (*domain.Borrower, error) {
	if up.Status != nil && !up.Status.Valid() {
		return nil, domainerrors.Validationf("unknown borrower status %q", *up.Status)
	}
	if up.Name != nil && strings.TrimSpace(*up.Name) == "" {
		return nil, domainerrors.Validation("name cannot be empty")
	}
	if up.Email != nil && util.NormalizeEmail(*up.Email) == "" {
		return nil, domainerrors.Validation("email cannot be empty")
	}

	now := s.policy.now()
	b, err := s.store.UpdateBorrower(ctx, borrowerID, func(b *domain.Borrower) error {
		if up.Name != nil {
			b.Name = strings.TrimSpace(*up.Name)
		}
		if up.Email != nil {
			b.Email = util.NormalizeEmail(*up.Email)
		}
		if up.Phone != nil {
			b.Phone = strings.TrimSpace(*up.Phone)
		}
		if up.Address != nil {
			b.Address = strings.TrimSpace(*up.Address)
		}
		if up.Status != nil {
			b.Status = *up.Status
		}
		if up.Notes != nil {
			b.Notes = *up.Notes
		}
		b.Touch(now)
		return nil
	})

	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, domainerrors.NotFound(MsgBorrowerNotFound)
	case errors.Is(err, store.ErrAlreadyExists):
		return nil, domainerrors.AlreadyExists("A borrower with this email already exists")
	case errors.Is(err, store.ErrConflict):
		return nil, domainerrors.Conflict("Borrower was modified concurrently; retry")
	case err != nil:
		return nil, domainerrors.StorageFailure(err, "failed to update borrower")
	}
	return b, nil
}

// DeleteBorrower removes a borrower with no books out.
func (s *BorrowerService) DeleteBorrower(ctx context.Context, borrowerID string) error {
	err := s.store.DeleteBorrower(ctx, borrowerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domainerrors.NotFound(MsgBorrowerNotFound)
	case errors.Is(err, store.ErrInUse):
		return domainerrors.PreconditionFailed("Cannot delete a borrower with books on loan")
	case errors.Is(err, store.ErrConflict):
		return domainerrors.Conflict("Borrower changed while deleting").WithCause(err)
	case err != nil:
		return domainerrors.StorageFailure(err, "failed to delete borrower")
	}
	return nil
}

// BorrowerTransactions returns a borrower's lends, newest first, with book details.
func (s *BorrowerService) BorrowerTransactions(ctx context.Context, borrowerID string) ([]TransactionView, error) {
	borrower, err := s.GetBorrower(ctx, borrowerID)
	if err != nil {
		return nil, err
	}

	lends, err := s.store.ListLendsByBorrower(ctx, borrowerID)
	if err != nil {
		return nil, domainerrors.StorageFailure(err, "failed to list transactions")
	}

	bookIDs := make([]string, len(lends))
	for i, l := range lends {
		bookIDs[i] = l.BookID
	}
	books, err := s.store.GetBooksByIDs(ctx, bookIDs)
	if err != nil {
		return nil, domainerrors.StorageFailure(err, "failed to load books")
	}

	views := make([]TransactionView, len(lends))
	for i, l := range lends {
		views[i] = newTransactionView(l, books[l.BookID], borrower)
	}
	return views, nil
}
