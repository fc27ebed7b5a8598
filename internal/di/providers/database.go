package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/listenupapp/circulation-server/internal/config"
	"github.com/listenupapp/circulation-server/internal/logger"
	"github.com/listenupapp/circulation-server/internal/sse"
	"github.com/listenupapp/circulation-server/internal/store"
	"github.com/listenupapp/circulation-server/internal/store/sqlite"
)

// SSEManagerHandle wraps the SSE manager with its context for lifecycle management.
type SSEManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Manager.Shutdown(ctx)
}

// ProvideSSEManager provides the server-sent events manager.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)

	manager := sse.NewManager(log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	log.Info("SSE manager started")

	return &SSEManagerHandle{
		Manager: manager,
		cancel:  cancel,
	}, nil
}

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the record store. Committed changes are broadcast
// through the SSE manager.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	db, err := store.New(cfg.Data.DBPath(), log.Logger, sseHandle.Manager)
	if err != nil {
		return nil, err
	}

	log.Info("Database initialized", "path", cfg.Data.DBPath())
	return &StoreHandle{Store: db}, nil
}

// ContactStoreHandle wraps the sqlite annotations store.
type ContactStoreHandle struct {
	*sqlite.Store
}

// Shutdown implements do.Shutdownable.
func (h *ContactStoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideContactStore provides the sqlite store for overdue contact notes.
func ProvideContactStore(i do.Injector) (*ContactStoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	contacts, err := sqlite.Open(cfg.Data.AnnotationsPath(), log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Annotations database initialized", "path", cfg.Data.AnnotationsPath())
	return &ContactStoreHandle{Store: contacts}, nil
}
