package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	BridgeKindHTTP  = "http"
	BridgeKindPaper = "paper"
)

type Config struct {
	BridgeKind  string            `envconfig:"BRIDGE_KIND" default:"http"` // "http" or "paper"
	BaseURL     string            `envconfig:"BRIDGE_BASE_URL" default:"http://localhost:5005"`
	APIToken    string            `envconfig:"BRIDGE_API_TOKEN"`
	Timeout     time.Duration     `envconfig:"BRIDGE_HTTP_TIMEOUT" default:"35s"`
	ReadRetries int               `envconfig:"BRIDGE_READ_RETRIES" default:"3"`
	PaperPrices map[string]string `envconfig:"BRIDGE_PAPER_PRICES"` // e.g. EURUSD:1.0850,XAUUSD:2350
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// CheckTimeout verifies the HTTP client timeout is not shorter than the broker deadline.
func (c Config) CheckTimeout(brokerTimeout time.Duration) error {
	if c.BridgeKind == BridgeKindHTTP && c.Timeout < brokerTimeout {
		return fmt.Errorf("BRIDGE_HTTP_TIMEOUT (%s) must be at least BROKER_TIMEOUT (%s)", c.Timeout, brokerTimeout)
	}
	return nil
}

// NewBridge builds the bridge selected by BRIDGE_KIND.
func NewBridge(config Config) (Bridge, error) {
	switch config.BridgeKind {
	case BridgeKindHTTP:
		return NewMT5BridgeClient(config.BaseURL, config.APIToken, config.Timeout, config.ReadRetries), nil
	case BridgeKindPaper:
		paper := NewPaperBridge()
		for symbol, price := range config.PaperPrices {
			if err := paper.SetPriceString(symbol, price); err != nil {
				return nil, fmt.Errorf("BRIDGE_PAPER_PRICES %s: %w", symbol, err)
			}
		}
		return paper, nil
	default:
		return nil, fmt.Errorf("unsupported BRIDGE_KIND %q", config.BridgeKind)
	}
}
