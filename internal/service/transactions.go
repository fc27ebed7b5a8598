package service

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/listenupapp/circulation-server/internal/circulation"
	"github.com/listenupapp/circulation-server/internal/domain"
	domainerrors "github.com/listenupapp/circulation-server/internal/errors"
	"github.com/listenupapp/circulation-server/internal/store"
)

// ContactStore keeps advisory overdue-contact notes. *sqlite.Store implements it.
type ContactStore interface {
	UpsertContact(ctx context.Context, c *domain.OverdueContact) error
	GetContact(ctx context.Context, transactionID string) (*domain.OverdueContact, error)
	DeleteContact(ctx context.Context, transactionID string) error
	ListContactsByTransactionIDs(ctx context.Context, ids []string) (map[string]*domain.OverdueContact, error)
}

// TransactionService answers ledger queries. It never writes the ledger.
type TransactionService struct {
	store    *store.Store
	contacts ContactStore
	policy   Policy
	logger   *slog.Logger
}

// NewTransactionService creates a new transaction service.
func NewTransactionService(st *store.Store, contacts ContactStore, policy Policy, logger *slog.Logger) *TransactionService {
	return &TransactionService{
		store:    st,
		contacts: contacts,
		policy:   policy,
		logger:   logger,
	}
}

// TransactionQuery filters the ledger listing.
type TransactionQuery struct {
	// Type is "lend" (every record) or "return" (returned lends only).
	Type string
	// Status is "active" or "borrowed" for open lends, "returned" for closed.
	Status string
	store.PageParams
}

// ListTransactions returns ledger records newest first.
func (s *TransactionService) ListTransactions(ctx context.Context, q TransactionQuery) (*store.Page[TransactionView], error) {
	byType, err := openForType(q.Type)
	if err != nil {
		return nil, err
	}
	byStatus, err := openForStatus(q.Status)
	if err != nil {
		return nil, err
	}

	var lends []*domain.Lend
	// type=return with status=active matches nothing.
	if byType == nil || byStatus == nil || *byType == *byStatus {
		filter := store.LendFilter{Open: cmp.Or(byType, byStatus)}
		lends, err = s.store.ListLends(ctx, filter)
		if err != nil {
			return nil, domainerrors.StorageFailure(err, "failed to list transactions")
		}
	}

	page := store.Paginate(lends, q.PageParams)
	views, err := s.join(ctx, page.Items)
	if err != nil {
		return nil, err
	}

	return &store.Page[TransactionView]{
		Items: views,
		Total: page.Total,
		Page:  page.Page,
		Limit: page.Limit,
		Pages: page.Pages,
	}, nil
}

// openForType maps a transaction type to an open/closed filter. Returns are
// closures of lends, so "return" selects returned lends.
func openForType(t string) (*bool, error) {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", domain.TransactionTypeLend:
		return nil, nil
	case "return":
		return boolPtr(false), nil
	}
	return nil, domainerrors.Validationf("unknown transaction type %q", t)
}

func openForStatus(status string) (*bool, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "":
		return nil, nil
	case TxnStatusActive, "borrowed":
		return boolPtr(true), nil
	case TxnStatusReturned:
		return boolPtr(false), nil
	}
	return nil, domainerrors.Validationf("unknown transaction status %q", status)
}

// GetTransaction returns one ledger record.
func (s *TransactionService) GetTransaction(ctx context.Context, transactionID string) (*TransactionView, error) {
	l, err := s.store.GetLend(ctx, transactionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainerrors.NotFound(MsgTransactionNotFound)
	}
	if err != nil {
		return nil, domainerrors.StorageFailure(err, "failed to get transaction")
	}

	views, err := s.join(ctx, []*domain.Lend{l})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// join attaches book and borrower fields.
func (s *TransactionService) join(ctx context.Context, lends []*domain.Lend) ([]TransactionView, error) {
	books, borrowers, err := s.related(ctx, lends)
	if err != nil {
		return nil, err
	}

	views := make([]TransactionView, len(lends))
	for i, l := range lends {
		views[i] = newTransactionView(l, books[l.BookID], borrowers[l.BorrowerID])
	}
	return views, nil
}

func (s *TransactionService) related(ctx context.Context, lends []*domain.Lend) (map[string]*domain.Book, map[string]*domain.Borrower, error) {
	bookIDs := make([]string, len(lends))
	borrowerIDs := make([]string, len(lends))
	for i, l := range lends {
		bookIDs[i] = l.BookID
		borrowerIDs[i] = l.BorrowerID
	}

	books, err := s.store.GetBooksByIDs(ctx, bookIDs)
	if err != nil {
		return nil, nil, domainerrors.StorageFailure(err, "failed to load books")
	}
	borrowers, err := s.store.GetBorrowersByIDs(ctx, borrowerIDs)
	if err != nil {
		return nil, nil, domainerrors.StorageFailure(err, "failed to load borrowers")
	}
	return books, borrowers, nil
}

// ListOverdue returns open lends whose due date is before today, oldest
// due date first, with accrued fines and contact notes.
func (s *TransactionService) ListOverdue(ctx context.Context) ([]OverdueView, error) {
	now := s.policy.now()

	open, err := s.store.ListOpenLends(ctx)
	if err != nil {
		return nil, domainerrors.StorageFailure(err, "failed to list open lends")
	}

	var overdue []*domain.Lend
	for _, l := range open {
		if circulation.IsOverdue(l, now) {
			overdue = append(overdue, l)
		}
	}
	slices.SortFunc(overdue, func(a, b *domain.Lend) int {
		return cmp.Or(a.DueDate.Compare(b.DueDate), cmp.Compare(a.ID, b.ID))
	})

	books, borrowers, err := s.related(ctx, overdue)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(overdue))
	for i, l := range overdue {
		ids[i] = l.ID
	}
	contacts := map[string]*domain.OverdueContact{}
	if s.contacts != nil && len(ids) > 0 {
		contacts, err = s.contacts.ListContactsByTransactionIDs(ctx, ids)
		if err != nil {
			// Contact notes are advisory; the list is still correct without them.
			s.logger.Warn("failed to load overdue contacts", "error", err)
			contacts = map[string]*domain.OverdueContact{}
		}
	}

	views := make([]OverdueView, len(overdue))
	for i, l := range overdue {
		book := books[l.BookID]
		borrower := borrowers[l.BorrowerID]

		v := OverdueView{
			TransactionView: newTransactionView(l, book, borrower),
			OverdueDays:     circulation.OverdueDays(l, now),
			AccruedFine:     circulation.AccruedFine(l, now, s.policy.FineRatePerDay),
		}
		if book != nil {
			v.Category = book.Category
		}
		if borrower != nil {
			v.BorrowerPhone = borrower.Phone
		}
		if c := contacts[l.ID]; c != nil {
			at := c.ContactedAt
			v.Contacted = true
			v.ContactedAt = &at
		}
		views[i] = v
	}
	return views, nil
}

// OverdueSummary buckets the open overdue lends by lateness.
func (s *TransactionService) OverdueSummary(ctx context.Context) (*circulation.OverdueSummary, error) {
	open, err := s.store.ListOpenLends(ctx)
	if err != nil {
		return nil, domainerrors.StorageFailure(err, "failed to list open lends")
	}
	summary := circulation.Summarize(open, s.policy.now(), s.policy.FineRatePerDay)
	return &summary, nil
}

// RecordContact notes that the borrower of an open lend was contacted.
func (s *TransactionService) RecordContact(ctx context.Context, transactionID, channel, note string) (*domain.OverdueContact, error) {
	if s.contacts == nil {
		return nil, domainerrors.Internal("contact notes are not configured")
	}

	l, err := s.store.GetLend(ctx, transactionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainerrors.NotFound(MsgTransactionNotFound)
	}
	if err != nil {
		return nil, domainerrors.StorageFailure(err, "failed to get transaction")
	}
	if !l.IsOpen() {
		return nil, domainerrors.PreconditionFailed("Transaction is already returned")
	}

	c := &domain.OverdueContact{
		TransactionID: l.ID,
		ContactedAt:   s.policy.now(),
		Channel:       strings.TrimSpace(channel),
		Note:          strings.TrimSpace(note),
	}
	if err := s.contacts.UpsertContact(ctx, c); err != nil {
		return nil, domainerrors.StorageFailure(err, "failed to record contact")
	}

	s.logger.Info("overdue contact recorded", "transaction_id", l.ID, "channel", c.Channel)
	return c, nil
}

// ClearContact removes the contact note for a transaction.
func (s *TransactionService) ClearContact(ctx context.Context, transactionID string) error {
	if s.contacts == nil {
		return domainerrors.Internal("contact notes are not configured")
	}

	err := s.contacts.DeleteContact(ctx, transactionID)
	if errors.Is(err, store.ErrNotFound) {
		return domainerrors.NotFound("No contact recorded for this transaction")
	}
	if err != nil {
		return domainerrors.StorageFailure(err, "failed to clear contact")
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
