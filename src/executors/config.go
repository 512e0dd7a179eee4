package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	WorkerCount        int           `envconfig:"WORKER_COUNT" default:"4"`
	PollInterval       time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	BrokerTimeout      time.Duration `envconfig:"BROKER_TIMEOUT" default:"30s"`
	FinalizeTimeout    time.Duration `envconfig:"FINALIZE_TIMEOUT" default:"10s"`
	ProcessingDeadline time.Duration `envconfig:"PROCESSING_DEADLINE" default:"5m"`
	StalePendingAfter  time.Duration `envconfig:"STALE_PENDING_AFTER" default:"15m"`
	SweepInterval      time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Validate checks that a claimed signal always settles before the sweep may time it out.
func (c Config) Validate() error {
	if c.ProcessingDeadline <= c.BrokerTimeout+c.FinalizeTimeout {
		return fmt.Errorf("PROCESSING_DEADLINE (%s) must exceed BROKER_TIMEOUT (%s) + FINALIZE_TIMEOUT (%s)",
			c.ProcessingDeadline, c.BrokerTimeout, c.FinalizeTimeout)
	}
	return nil
}
