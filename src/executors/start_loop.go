package executors

import (
	"context"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Run starts WORKER_COUNT workers and blocks until ctx is cancelled and every
// worker has finished its current signal.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger.WithFields(map[string]interface{}{
		"instance": d.instance,
		"workers":  d.config.WorkerCount,
		"poll":     d.config.PollInterval.String(),
	}).Info("Dispatcher started")

	var wg sync.WaitGroup
	for i := 0; i < d.config.WorkerCount; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("%s-%d", d.instance, i)
		go func() {
			defer wg.Done()
			d.workerLoop(ctx, workerID)
		}()
	}

	wg.Wait()
	logger.WithField("instance", d.instance).Info("Dispatcher stopped")
	return nil
}

func (d *Dispatcher) workerLoop(ctx context.Context, workerID string) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		d.drain(ctx, workerID)

		select {
		case <-ctx.Done():
			logger.WithField("worker", workerID).Debug("worker stopped")
			return
		case <-d.wake:
		case <-ticker.C:
		}
	}
}

// drain processes signals until nothing is claimable or a claim fails.
func (d *Dispatcher) drain(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		processed, err := d.ProcessOne(ctx, workerID)
		if err != nil {
			if ctx.Err() == nil {
				logger.WithField("worker", workerID).WithError(err).Error("Worker iteration failed")
			}
			return
		}
		if !processed {
			return
		}
	}
}
