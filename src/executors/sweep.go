package executors

import (
	"context"
	"errors"
	"time"

	"signalbridge/src/controller"
	"signalbridge/src/events"
	"signalbridge/src/model"
	"signalbridge/src/repository"

	logger "github.com/sirupsen/logrus"
)

type sweepLedger interface {
	FindStaleProcessing(ctx context.Context, claimedBefore time.Time) ([]model.Signal, error)
	FindStalePending(ctx context.Context, createdBefore time.Time) ([]model.Signal, error)
	HasTrade(ctx context.Context, signalID uint) (bool, error)
	Finalize(ctx context.Context, id uint, outcome repository.Outcome) error
}

// SweepResult lists what one sweep pass did.
type SweepResult struct {
	Recovered    []uint
	TimedOut     []uint
	StalePending []uint
}

// Sweeper settles signals stuck in processing past the deadline and reports
// pending signals that still have no account.
type Sweeper struct {
	ledger     sweepLedger
	exceptions exceptionStore
	hub        *events.Hub
	config     Config
	now        func() time.Time
}

func NewSweeper(ledger sweepLedger, exceptions exceptionStore, hub *events.Hub, config Config) *Sweeper {
	if config.ProcessingDeadline <= 0 {
		config.ProcessingDeadline = 5 * time.Minute
	}
	if config.StalePendingAfter <= 0 {
		config.StalePendingAfter = 15 * time.Minute
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Minute
	}
	return &Sweeper{
		ledger:     ledger,
		exceptions: exceptions,
		hub:        hub,
		config:     config,
		now:        time.Now,
	}
}

// SweepOnce runs a single reconciliation pass. It never re-claims a signal.
func (s *Sweeper) SweepOnce(ctx context.Context) (*SweepResult, error) {
	now := s.now().UTC()
	result := &SweepResult{}

	stuck, err := s.ledger.FindStaleProcessing(ctx, now.Add(-s.config.ProcessingDeadline))
	if err != nil {
		return nil, err
	}

	for _, signal := range stuck {
		fields := map[string]interface{}{
			"executor":   "Sweeper",
			"signal_id":  signal.ID,
			"claimed_by": signal.ClaimedBy,
		}

		hasTrade, err := s.ledger.HasTrade(ctx, signal.ID)
		if err != nil {
			return result, err
		}

		outcome := repository.Failed(model.ReasonWorkerTimeout)
		if hasTrade {
			outcome = repository.ExecutedRecovered()
		}

		if err := s.ledger.Finalize(ctx, signal.ID, outcome); err != nil {
			if errors.Is(err, repository.ErrInvariantViolation) {
				// The worker finished between the scan and this write.
				logger.WithFields(fields).WithError(err).Warn("Stuck signal settled concurrently")
				continue
			}
			controller.Capture(ctx, s.exceptions, serviceName, "sweeper", "SweepOnce", model.ExceptionLevelError, err, fields)
			continue
		}

		eventType := events.TypeFailed
		if hasTrade {
			result.Recovered = append(result.Recovered, signal.ID)
			eventType = events.TypeExecuted
			logger.WithFields(fields).Warn("Recovered executed signal left in processing")
		} else {
			result.TimedOut = append(result.TimedOut, signal.ID)
			logger.WithFields(fields).Warn("Signal exceeded processing deadline")
		}

		s.hub.Publish(events.Event{
			Type:      eventType,
			SignalID:  signal.ID,
			UserID:    signal.UserID,
			AccountID: signal.BrokerAccountID,
			Status:    outcome.Status,
			Reason:    outcome.ErrorMessage,
		})
	}

	stale, err := s.ledger.FindStalePending(ctx, now.Add(-s.config.StalePendingAfter))
	if err != nil {
		return result, err
	}
	for _, signal := range stale {
		result.StalePending = append(result.StalePending, signal.ID)
		logger.WithFields(map[string]interface{}{
			"executor":  "Sweeper",
			"signal_id": signal.ID,
			"user_id":   signal.UserID,
			"age":       now.Sub(signal.CreatedAt).Round(time.Second).String(),
		}).Warn("Pending signal has no broker account")

		s.hub.Publish(events.Event{
			Type:     events.TypeStale,
			SignalID: signal.ID,
			UserID:   signal.UserID,
			Status:   signal.Status,
			Reason:   model.ReasonNoAccountAvailable,
		})
	}

	return result, nil
}

// Run sweeps every SWEEP_INTERVAL until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("Sweep failed")
			}
		}
	}
}
