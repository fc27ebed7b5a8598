package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/listenupapp/circulation-server/internal/errors"
	"github.com/listenupapp/circulation-server/internal/service"
)

func (s *Server) registerAdminRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "reconcileLedger",
		Method:      http.MethodPost,
		Path:        "/api/admin/reconcile",
		Summary:     "Reconcile book statuses",
		Description: "Compares every book's status with the open lends in the ledger. With fix=true, repairable disagreements are corrected.",
		Tags:        []string{"Admin"},
	}, s.handleReconcile)
}

// ReconcileInput contains parameters for a reconciliation pass.
type ReconcileInput struct {
	Fix bool `query:"fix" default:"false" doc:"Repair what can be repaired"`
}

// ReconcileOutput wraps the reconciliation report for Huma.
type ReconcileOutput struct {
	Body *service.ReconcileReport
}

func (s *Server) handleReconcile(ctx context.Context, input *ReconcileInput) (*ReconcileOutput, error) {
	report, err := s.services.Circulation.Reconcile(ctx, input.Fix)
	if err != nil {
		s.logger.Error("reconcile failed", "fix", input.Fix, "error", err)
		return nil, domainerrors.StorageFailure(err, "failed to reconcile ledger")
	}
	if report.Issues == nil {
		report.Issues = []service.ReconcileIssue{}
	}
	return &ReconcileOutput{Body: report}, nil
}
