// Package main provides circulationctl, an operator tool for the lending desk.
//
// It works directly against the data directory, so stop the server first:
// badger allows a single process at a time.
//
// Usage:
//
//	circulationctl --data-path ~/circulation seed
//	circulationctl --data-path ~/circulation overdue
//	circulationctl --data-path ~/circulation reconcile --fix
//	circulationctl --data-path ~/circulation force-available <book-id>
//	circulationctl hash-key
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/listenupapp/circulation-server/internal/config"
	"github.com/listenupapp/circulation-server/internal/logger"
	"github.com/listenupapp/circulation-server/internal/search"
	"github.com/listenupapp/circulation-server/internal/service"
	"github.com/listenupapp/circulation-server/internal/store"
	"github.com/listenupapp/circulation-server/internal/store/sqlite"
)

var (
	dataPath string
	logLevel string
)

func main() {
	root := &cobra.Command{
		Use:           "circulationctl",
		Short:         "Maintenance commands for the circulation server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dataPath, "data-path", "", "Base path for data storage (default: $DATA_PATH or ~/circulation)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newSeedCmd(),
		newOverdueCmd(),
		newReconcileCmd(),
		newForceAvailableCmd(),
		newHashKeyCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// desk holds the opened stores and the services built on them.
type desk struct {
	cfg          *config.Config
	store        *store.Store
	index        *search.SearchIndex
	contacts     *sqlite.Store
	catalog      *service.CatalogService
	circulation  *service.CirculationService
	transactions *service.TransactionService
}

// openDesk loads configuration the same way the server does and opens the
// data directory. Close must be called on success.
func openDesk() (*desk, error) {
	var args []string
	if dataPath != "" {
		args = append(args, "--data-path", dataPath)
	}
	cfg, err := config.Load(args)
	if err != nil {
		return nil, err
	}

	log := logger.New(logger.Config{
		Writer:      os.Stderr,
		Environment: cfg.App.Environment,
		Level:       logger.ParseLevel(logLevel),
	})

	st, err := store.New(cfg.Data.DBPath(), log.Logger, store.NewNoopEmitter())
	if err != nil {
		return nil, err
	}

	index, err := search.NewSearchIndex(search.Options{
		DataPath: cfg.Data.SearchPath(),
		Logger:   log.Logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open search index: %w", err)
	}
	st.SetSearchIndexer(index)

	contacts, err := sqlite.Open(cfg.Data.AnnotationsPath(), log.Logger)
	if err != nil {
		_ = index.Close()
		_ = st.Close()
		return nil, err
	}

	policy := service.PolicyFromConfig(cfg.Circulation)
	return &desk{
		cfg:          cfg,
		store:        st,
		index:        index,
		contacts:     contacts,
		catalog:      service.NewCatalogService(st, index, policy, log.Logger),
		circulation:  service.NewCirculationService(st, policy, log.Logger),
		transactions: service.NewTransactionService(st, contacts, policy, log.Logger),
	}, nil
}

func (d *desk) Close() error {
	return errors.Join(d.contacts.Close(), d.index.Close(), d.store.Close())
}

// withDesk opens the data directory for the duration of fn.
func withDesk(cmd *cobra.Command, fn func(ctx context.Context, d *desk) error) error {
	d, err := openDesk()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := d.Close(); cerr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: close data directory: %v\n", cerr)
		}
	}()
	return fn(cmd.Context(), d)
}
