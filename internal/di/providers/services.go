package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/listenupapp/circulation-server/internal/config"
	"github.com/listenupapp/circulation-server/internal/logger"
	"github.com/listenupapp/circulation-server/internal/service"
)

// ProvidePolicy provides the lending rules from configuration.
func ProvidePolicy(i do.Injector) (service.Policy, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return service.PolicyFromConfig(cfg.Circulation), nil
}

// ProvideCatalogService provides the book and category service.
func ProvideCatalogService(i do.Injector) (*service.CatalogService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	policy := do.MustInvoke[service.Policy](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewCatalogService(storeHandle.Store, indexHandle.SearchIndex, policy, log.Logger), nil
}

// ProvideBorrowerService provides the borrower service.
func ProvideBorrowerService(i do.Injector) (*service.BorrowerService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	policy := do.MustInvoke[service.Policy](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewBorrowerService(storeHandle.Store, indexHandle.SearchIndex, policy, log.Logger), nil
}

// ProvideCirculationService provides the lend and return workflows.
func ProvideCirculationService(i do.Injector) (*service.CirculationService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	policy := do.MustInvoke[service.Policy](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewCirculationService(storeHandle.Store, policy, log.Logger), nil
}

// ProvideTransactionService provides ledger queries and overdue tracking.
func ProvideTransactionService(i do.Injector) (*service.TransactionService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	contactHandle := do.MustInvoke[*ContactStoreHandle](i)
	policy := do.MustInvoke[service.Policy](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewTransactionService(storeHandle.Store, contactHandle.Store, policy, log.Logger), nil
}

// SeedDefaultCategories creates the stock categories on first run.
func SeedDefaultCategories(i do.Injector) error {
	catalog := do.MustInvoke[*service.CatalogService](i)
	log := do.MustInvoke[*logger.Logger](i)

	created, err := catalog.SeedDefaults(context.Background())
	if err != nil {
		return err
	}
	if created > 0 {
		log.Info("Seeded default categories", "count", created)
	}
	return nil
}
