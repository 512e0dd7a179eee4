package security

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	CredentialsSecret string `envconfig:"CREDENTIALS_SECRET"`
	CredentialsSalt   string `envconfig:"CREDENTIALS_SALT" default:"signalbridge/broker-credentials/v1"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
