package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/listenupapp/circulation-server/internal/circulation"
	"github.com/listenupapp/circulation-server/internal/domain"
	"github.com/listenupapp/circulation-server/internal/store"
)

// Kinds of disagreement between a book's status and the ledger.
const (
	IssueBorrowedWithoutLend = "borrowed_without_lend"
	IssueLendOnUnborrowed    = "lend_on_unborrowed_book"
	IssueMultipleOpenLends   = "multiple_open_lends"
)

// ReconcileIssue is one book whose status disagrees with the ledger.
type ReconcileIssue struct {
	BookID      string            `json:"book_id"`
	Title       string            `json:"title"`
	Kind        string            `json:"kind"`
	BookStatus  domain.BookStatus `json:"book_status"`
	OpenLendIDs []string          `json:"open_lend_ids,omitempty"`
	Fixed       bool              `json:"fixed"`
	FixError    string            `json:"fix_error,omitempty"`
}

// ReconcileReport summarizes a reconciliation pass.
type ReconcileReport struct {
	BooksChecked int              `json:"books_checked"`
	OpenLends    int              `json:"open_lends"`
	Issues       []ReconcileIssue `json:"issues"`
}

// Reconcile compares every book's status with the ledger's open lends.
// The ledger is the source of truth. With fix set, each repairable issue
// is corrected in its own atomic unit: an orphaned borrowed status becomes
// available and a book with one open lend becomes borrowed. Several open
// lends on one book are reported but never repaired automatically.
func (s *CirculationService) Reconcile(ctx context.Context, fix bool) (*ReconcileReport, error) {
	books, err := s.store.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	lends, err := s.store.ListOpenLends(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open lends: %w", err)
	}

	openByBook := make(map[string][]string)
	for _, l := range lends {
		openByBook[l.BookID] = append(openByBook[l.BookID], l.ID)
	}

	report := &ReconcileReport{
		BooksChecked: len(books),
		OpenLends:    len(lends),
		Issues:       []ReconcileIssue{},
	}

	for _, book := range books {
		open := openByBook[book.ID]
		issue := ReconcileIssue{
			BookID:      book.ID,
			Title:       book.Title,
			BookStatus:  book.Status,
			OpenLendIDs: open,
		}

		switch {
		case len(open) > 1:
			issue.Kind = IssueMultipleOpenLends
		case len(open) == 1 && book.Status != domain.BookBorrowed:
			issue.Kind = IssueLendOnUnborrowed
		case len(open) == 0 && book.Status == domain.BookBorrowed:
			issue.Kind = IssueBorrowedWithoutLend
		default:
			continue
		}

		if fix && issue.Kind != IssueMultipleOpenLends {
			if err := s.repair(ctx, book.ID, issue.Kind); err != nil {
				issue.FixError = err.Error()
			} else {
				issue.Fixed = true
			}
		}

		s.logger.Warn("book status disagrees with ledger",
			"book_id", book.ID,
			"kind", issue.Kind,
			"status", string(book.Status),
			"open_lends", len(open),
			"fixed", issue.Fixed,
		)
		report.Issues = append(report.Issues, issue)
	}

	slices.SortFunc(report.Issues, func(a, b ReconcileIssue) int {
		return cmp.Or(cmp.Compare(a.Kind, b.Kind), cmp.Compare(a.BookID, b.BookID))
	})

	s.logger.Info("reconciliation complete",
		"books", report.BooksChecked,
		"open_lends", report.OpenLends,
		"issues", len(report.Issues),
		"fix", fix,
	)
	return report, nil
}

func (s *CirculationService) repair(ctx context.Context, bookID, kind string) error {
	return s.runAtomic(ctx, func(r store.Records) error {
		now := s.policy.now()
		switch kind {
		case IssueBorrowedWithoutLend:
			_, _, err := circulation.ForceAvailable(r, bookID, now)
			return err
		case IssueLendOnUnborrowed:
			_, err := circulation.RestoreBorrowed(r, bookID, now)
			return err
		}
		return nil
	})
}
