package app

import (
	"context"
	"fmt"
	"sync"

	"signalbridge/src/connectors"
	"signalbridge/src/controller"
	"signalbridge/src/events"
	"signalbridge/src/executors"
	"signalbridge/src/registry"
	"signalbridge/src/repository"
	"signalbridge/src/resolver"
	"signalbridge/src/security"
	"signalbridge/src/server"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App holds the production wiring of every component over one database.
type App struct {
	Keys       *registry.Registry
	Accounts   *repository.BrokerAccountRepository
	Resolver   *resolver.AccountResolver
	Signals    *repository.SignalRepository
	Exceptions *repository.ExceptionRepository
	Vault      *security.Vault
	Hub        *events.Hub
	Dispatcher *executors.Dispatcher
	Sweeper    *executors.Sweeper
	Ingestor   *controller.Ingestor
}

// Build wires the service over db. A nil bridge is built from BRIDGE_* config.
func Build(db *gorm.DB, bridge connectors.Bridge) (*App, error) {
	vault, err := security.NewVaultFromConfig()
	if err != nil {
		return nil, fmt.Errorf("credential vault: %w", err)
	}

	config := executors.GetConfig()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if bridge == nil {
		bridgeConfig := connectors.GetConfig()
		if err := bridgeConfig.CheckTimeout(config.BrokerTimeout); err != nil {
			return nil, err
		}
		bridge, err = connectors.NewBridge(bridgeConfig)
		if err != nil {
			return nil, err
		}
	}

	accounts := repository.NewBrokerAccountRepository().WithDB(db)
	accountResolver := resolver.NewAccountResolver(accounts)

	signals := repository.NewSignalRepository(accountResolver).WithDB(db)
	signals.IdempotencyWindow = controller.GetConfig().IdempotencyWindow

	keys := registry.NewRegistry(repository.NewWebhookKeyRepository().WithDB(db))
	exceptions := repository.NewExceptionRepository().WithDB(db)
	hub := events.NewHub(0)

	dispatcher := executors.NewDispatcher(executors.Deps{
		Ledger:     signals,
		Keys:       keys,
		Accounts:   accounts,
		Vault:      vault,
		Bridge:     bridge,
		Exceptions: exceptions,
		Hub:        hub,
	}, config)

	return &App{
		Keys:       keys,
		Accounts:   accounts,
		Resolver:   accountResolver,
		Signals:    signals,
		Exceptions: exceptions,
		Vault:      vault,
		Hub:        hub,
		Dispatcher: dispatcher,
		Sweeper:    executors.NewSweeper(signals, exceptions, hub, config),
		Ingestor:   controller.NewIngestor(keys, accountResolver, signals, dispatcher, hub),
	}, nil
}

// RunWorkers runs a recovery sweep, then the dispatcher and the periodic sweep
// until ctx is cancelled.
func (a *App) RunWorkers(ctx context.Context) error {
	if result, err := a.Sweeper.SweepOnce(ctx); err != nil {
		logger.WithError(err).Error("Startup sweep failed")
	} else if len(result.Recovered)+len(result.TimedOut) > 0 {
		logger.WithFields(map[string]interface{}{
			"recovered": len(result.Recovered),
			"timed_out": len(result.TimedOut),
		}).Warn("Startup sweep settled signals left in processing")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.Sweeper.Run(ctx)
	}()

	err := a.Dispatcher.Run(ctx)
	wg.Wait()
	return err
}

// Serve runs the HTTP surface and, when withWorkers is set, the dispatcher in
// the same process so accepted signals wake workers immediately.
func (a *App) Serve(ctx context.Context, config *server.Config, withWorkers bool) error {
	routes := server.Routes{
		Ingestor: a.Ingestor,
		Keys:     a.Keys,
		Signals:  a.Signals,
		Hub:      a.Hub,
	}

	if !withWorkers {
		return server.StartServer(ctx, routes, config)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workersDone := make(chan error, 1)
	go func() { workersDone <- a.RunWorkers(ctx) }()

	err := server.StartServer(ctx, routes, config)
	cancel()
	if werr := <-workersDone; err == nil {
		err = werr
	}
	return err
}
