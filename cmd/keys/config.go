package keys

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// PublicURL prefixes printed webhook URLs.
	PublicURL string `envconfig:"PUBLIC_URL" default:"http://localhost:9898"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
