package executor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"signalbridge/src/app"
	"signalbridge/src/database"

	"github.com/sirupsen/logrus"
)

// Executor runs dispatcher workers without the HTTP surface. Signals are picked
// up by polling since no ingestion happens in this process.
type Executor struct{}

func (t *Executor) Start() error {
	config := GetConfig()
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to main database")
		return err
	}

	service, err := app.Build(database.MainDB, nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to build dispatcher")
		return err
	}

	logrus.WithField("runSweeper", config.RunSweeper).Info("Starting signal dispatcher")

	if config.RunSweeper {
		return service.RunWorkers(ctx)
	}
	return service.Dispatcher.Run(ctx)
}

// Sweep runs one reconciliation pass and reports what it settled.
func Sweep(ctx context.Context) error {
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to main database")
		return err
	}

	service, err := app.Build(database.MainDB, nil)
	if err != nil {
		return err
	}

	result, err := service.Sweeper.SweepOnce(ctx)
	if err != nil {
		return err
	}

	logrus.WithFields(map[string]interface{}{
		"recovered":     result.Recovered,
		"timed_out":     result.TimedOut,
		"stale_pending": result.StalePending,
	}).Info("Sweep completed")
	return nil
}
