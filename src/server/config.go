package server

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port                string `envconfig:"PORT" default:"9898"`
	WebhookMaxBodyBytes int64  `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"65536"`
	EventsToken         string `envconfig:"EVENTS_TOKEN" default:""`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
