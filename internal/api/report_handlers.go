package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/circulation-server/internal/circulation"
)

func (s *Server) registerReportRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "overdueSummary",
		Method:      http.MethodGet,
		Path:        "/api/reports/overdue-summary",
		Summary:     "Overdue summary",
		Description: "Counts open overdue lends by lateness with the fines they have accrued",
		Tags:        []string{"Reports"},
	}, s.handleOverdueSummary)
}

// OverdueSummaryOutput wraps the overdue summary for Huma.
type OverdueSummaryOutput struct {
	Body *circulation.OverdueSummary
}

func (s *Server) handleOverdueSummary(ctx context.Context, _ *struct{}) (*OverdueSummaryOutput, error) {
	summary, err := s.services.Transactions.OverdueSummary(ctx)
	if err != nil {
		return nil, err
	}
	return &OverdueSummaryOutput{Body: summary}, nil
}
