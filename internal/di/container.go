// Package di provides dependency injection configuration for the circulation server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/circulation-server/internal/config"
	"github.com/listenupapp/circulation-server/internal/di/providers"
	"github.com/listenupapp/circulation-server/internal/logger"
	"github.com/listenupapp/circulation-server/internal/service"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Storage layer
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideContactStore)
	do.Provide(injector, providers.ProvideSearchIndex)

	// Business services
	do.Provide(injector, providers.ProvidePolicy)
	do.Provide(injector, providers.ProvideCatalogService)
	do.Provide(injector, providers.ProvideBorrowerService)
	do.Provide(injector, providers.ProvideCirculationService)
	do.Provide(injector, providers.ProvideTransactionService)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and starts the HTTP server.
func Bootstrap(injector *do.RootScope) error {
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.SSEManagerHandle](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*providers.ContactStoreHandle](injector)
	_ = do.MustInvoke[*providers.SearchIndexHandle](injector)

	_ = do.MustInvoke[*service.CatalogService](injector)
	_ = do.MustInvoke[*service.BorrowerService](injector)
	_ = do.MustInvoke[*service.CirculationService](injector)
	_ = do.MustInvoke[*service.TransactionService](injector)

	if err := providers.SeedDefaultCategories(injector); err != nil {
		return err
	}
	providers.TriggerSearchReindexIfNeeded(injector)

	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)
	return nil
}
