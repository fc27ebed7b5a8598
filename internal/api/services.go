package api

import "github.com/listenupapp/circulation-server/internal/service"

// Services groups the business logic used by the API server.
type Services struct {
	Catalog      *service.CatalogService
	Borrowers    *service.BorrowerService
	Circulation  *service.CirculationService
	Transactions *service.TransactionService
}
