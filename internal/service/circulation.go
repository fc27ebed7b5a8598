package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/listenupapp/circulation-server/internal/circulation"
	"github.com/listenupapp/circulation-server/internal/domain"
	domainerrors "github.com/listenupapp/circulation-server/internal/errors"
	"github.com/listenupapp/circulation-server/internal/store"
)

// atomicRunner runs fn as one all-or-nothing unit of work.
type atomicRunner func(ctx context.Context, fn func(store.Records) error) error

// errBorrowerNotFound and errBorrowerNotActive abort the lend unit.
const maxLendAttempts = 3

var (
	errBorrowerNotFound  = errors.New("borrower not found")
	errBorrowerNotActive = errors.New("borrower not active")
)

// CirculationService runs the lend and return workflows. These are the
// only code paths that move a book into or out of borrowed.
type CirculationService struct {
	store     *store.Store
	policy    Policy
	logger    *slog.Logger
	runAtomic atomicRunner
}

// NewCirculationService creates a new circulation service.
func NewCirculationService(st *store.Store, policy Policy, logger *slog.Logger) *CirculationService {
	return &CirculationService{
		store:     st,
		policy:    policy,
		logger:    logger,
		runAtomic: st.Atomically,
	}
}

// LendRequest asks to check a book out.
type LendRequest struct {
	BookID     string
	BorrowerID string
	DueDate    time.Time
	Notes      string
}

// Lend checks a book out to a borrower.
//
// Every check and write runs in one store transaction, so a failed check
// writes nothing. The borrower record is touched as well, which keeps a
// concurrent delete of the borrower from also committing. Of several concurrent
// lends of one book exactly one commits; the others fail with
// "Book is not available for lending".
func (s *CirculationService) Lend(ctx context.Context, req LendRequest) (*domain.Lend, error) {
	req.BookID = strings.TrimSpace(req.BookID)
	req.BorrowerID = strings.TrimSpace(req.BorrowerID)
	if req.BookID == "" || req.BorrowerID == "" || req.DueDate.IsZero() {
		return nil, domainerrors.Validation("book_id, borrower_id and due_date are required")
	}

	now := s.policy.now()
	if !s.policy.AllowPastDue && circulation.DaysLate(req.DueDate, now) > 0 {
		return nil, domainerrors.Validation(MsgDueDateInPast)
	}

	var lend *domain.Lend
	unit := func(r store.Records) error {
		book, err := r.GetBook(req.BookID)
		if errors.Is(err, store.ErrNotFound) {
			return circulation.ErrBookNotFound
		}
		if err != nil {
			return err
		}
		if !book.IsAvailable() {
			return circulation.ErrNotAvailable
		}

		borrower, err := r.GetBorrower(req.BorrowerID)
		if errors.Is(err, store.ErrNotFound) {
			return errBorrowerNotFound
		}
		if err != nil {
			return err
		}
		if !borrower.CanBorrow() {
			return errBorrowerNotActive
		}
		borrower.Touch(now)
		if err := r.PutBorrower(borrower); err != nil {
			return err
		}

		lend, err = circulation.OpenLend(r, req.BookID, req.BorrowerID, req.DueDate, req.Notes, now)
		if err != nil {
			return err
		}
		_, err = circulation.TryMarkBorrowed(r, req.BookID, now)
		return err
	}

	// Lends to the same borrower conflict on the borrower record even for
	// different books. The unit re-reads the book, so a retry after losing
	// the book itself fails as unavailable.
	var err error
	for attempt := 1; ; attempt++ {
		err = s.runAtomic(ctx, unit)
		if !errors.Is(err, store.ErrConflict) || attempt == maxLendAttempts {
			break
		}
		s.logger.DebugContext(ctx, "lend conflicted, retrying", "book_id", req.BookID, "attempt", attempt)
	}
	if err != nil {
		return nil, s.lendError(ctx, req, err)
	}

	s.logger.Info("book lent",
		"transaction_id", lend.ID,
		"book_id", lend.BookID,
		"borrower_id", lend.BorrowerID,
		"due_date", lend.DueDate.Format(time.DateOnly),
	)
	return lend, nil
}

func (s *CirculationService) lendError(ctx context.Context, req LendRequest, err error) error {
	switch {
	case errors.Is(err, circulation.ErrBookNotFound):
		return domainerrors.NotFound(MsgBookNotFound)
	case errors.Is(err, circulation.ErrNotAvailable),
		errors.Is(err, circulation.ErrOpenLendExists),
		errors.Is(err, store.ErrConflict):
		s.logger.DebugContext(ctx, "lend rejected", "book_id", req.BookID, "reason", err)
		return domainerrors.PreconditionFailed(MsgBookNotAvailable).WithCause(err)
	case errors.Is(err, errBorrowerNotFound):
		return domainerrors.NotFound(MsgBorrowerNotFound)
	case errors.Is(err, errBorrowerNotActive):
		return domainerrors.PreconditionFailed(MsgBorrowerNotActive)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		s.logger.ErrorContext(ctx, "lend failed", "book_id", req.BookID, "borrower_id", req.BorrowerID, "error", err)
		return domainerrors.StorageFailure(err, "failed to lend book")
	}
}

// ReturnRequest asks to check a book back in.
type ReturnRequest struct {
	TransactionID string
	// FineAmount is what the caller charges. Nil means 0, or the assessed
	// fine when waiver keys are configured.
	FineAmount *float64
	Notes      string
	// WaiverKey authorizes an override.
	WaiverKey string
}

// ReturnResult reports what a return recorded.
type ReturnResult struct {
	Lend         *domain.Lend
	ReturnDate   time.Time
	FineAmount   float64
	AssessedFine float64
	// PreviousBookStatus is the status the book had before the return.
	// Anything other than borrowed is an anomaly the return left in place.
	PreviousBookStatus domain.BookStatus
}

// Return closes an open lend and makes the book available.
//
// The charged fine is the caller's amount, 0 when omitted. The fine the
// schedule assesses for the days late is recorded next to it, and a
// difference marks the closure as overridden. With a waiver key configured
// the assessment is binding instead: an omitted amount charges it and any
// other amount needs the key. A lend closes at most once; a second return
// of the same transaction fails with "Active lending transaction not found".
func (s *CirculationService) Return(ctx context.Context, req ReturnRequest) (*ReturnResult, error) {
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	if req.TransactionID == "" {
		return nil, domainerrors.Validation(MsgTransactionRequired)
	}
	if req.FineAmount != nil && *req.FineAmount < 0 {
		return nil, domainerrors.Validation("fine_amount must not be negative")
	}

	now := s.policy.now()
	result := &ReturnResult{ReturnDate: now}

	err := s.runAtomic(ctx, func(r store.Records) error {
		open, err := r.GetLend(req.TransactionID)
		if errors.Is(err, store.ErrNotFound) {
			return circulation.ErrLendNotFound
		}
		if err != nil {
			return err
		}
		if !open.IsOpen() {
			return circulation.ErrAlreadyReturned
		}

		settlement, err := s.settle(open, req, now)
		if err != nil {
			return err
		}

		result.Lend, err = circulation.CloseLend(r, open.ID, settlement, req.Notes, now)
		if err != nil {
			return err
		}

		result.PreviousBookStatus, err = circulation.MarkReturned(r, open.BookID, now)
		if errors.Is(err, circulation.ErrBookNotFound) {
			result.PreviousBookStatus = ""
			return nil
		}
		return err
	})
	if err != nil {
		return nil, s.returnError(ctx, req, err)
	}

	result.FineAmount = result.Lend.FineAmount()
	result.AssessedFine = result.Lend.Closure.AssessedFine

	if result.PreviousBookStatus != domain.BookBorrowed {
		s.logger.Warn("returned book was not marked borrowed",
			"transaction_id", result.Lend.ID,
			"book_id", result.Lend.BookID,
			"book_status", string(result.PreviousBookStatus),
		)
	}
	if result.Lend.Closure.FineOverridden {
		s.logger.Info("fine overridden",
			"transaction_id", result.Lend.ID,
			"assessed", result.AssessedFine,
			"charged", result.FineAmount,
		)
	}
	s.logger.Info("book returned",
		"transaction_id", result.Lend.ID,
		"book_id", result.Lend.BookID,
		"fine_amount", result.FineAmount,
	)
	return result, nil
}

var errOverrideForbidden = errors.New("fine override not authorized")

// settle decides what a return charges.
func (s *CirculationService) settle(l *domain.Lend, req ReturnRequest, now time.Time) (circulation.Settlement, error) {
	assessed := circulation.ComputeFine(circulation.DaysLate(l.DueDate, now), s.policy.FineRatePerDay)

	charged := 0.0
	switch {
	case req.FineAmount != nil:
		charged = circulation.RoundCents(*req.FineAmount)
	case s.policy.enforcesFines():
		charged = assessed
	}

	overridden := charged != assessed
	if overridden && s.policy.enforcesFines() && !s.policy.authorizesOverride(req.WaiverKey) {
		return circulation.Settlement{}, errOverrideForbidden
	}
	return circulation.Settlement{Fine: charged, Assessed: assessed, Overridden: overridden}, nil
}

func (s *CirculationService) returnError(ctx context.Context, req ReturnRequest, err error) error {
	switch {
	case errors.Is(err, circulation.ErrLendNotFound),
		errors.Is(err, circulation.ErrAlreadyReturned),
		errors.Is(err, store.ErrConflict):
		s.logger.DebugContext(ctx, "return rejected", "transaction_id", req.TransactionID, "reason", err)
		return domainerrors.NotFound(MsgActiveLendNotFound).WithCause(err)
	case errors.Is(err, errOverrideForbidden):
		s.logger.Warn("unauthorized fine override", "transaction_id", req.TransactionID)
		return domainerrors.Forbidden(MsgOverrideForbidden)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		s.logger.ErrorContext(ctx, "return failed", "transaction_id", req.TransactionID, "error", err)
		return domainerrors.StorageFailure(err, "failed to return book")
	}
}

// ForceAvailable clears a stuck maintenance, lost or orphaned borrowed
// status. It refuses while the ledger shows the book out; the return
// workflow owns that case.
func (s *CirculationService) ForceAvailable(ctx context.Context, bookID string) (*domain.Book, domain.BookStatus, error) {
	var (
		book     *domain.Book
		previous domain.BookStatus
	)
	err := s.runAtomic(ctx, func(r store.Records) error {
		var err error
		book, previous, err = circulation.ForceAvailable(r, bookID, s.policy.now())
		return err
	})
	switch {
	case errors.Is(err, circulation.ErrBookNotFound):
		return nil, "", domainerrors.NotFound(MsgBookNotFound)
	case errors.Is(err, circulation.ErrOpenLendExists), errors.Is(err, store.ErrConflict):
		return nil, "", domainerrors.PreconditionFailed("Book has an open lend; return it instead")
	case err != nil:
		return nil, "", domainerrors.StorageFailure(err, "failed to update book")
	}

	if previous != domain.BookAvailable {
		s.logger.Info("book forced available", "book_id", bookID, "previous_status", string(previous))
	}
	return book, previous, nil
}
