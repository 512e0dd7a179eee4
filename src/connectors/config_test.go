package connectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigCheckTimeout(t *testing.T) {
	assert.NoError(t, Config{BridgeKind: BridgeKindHTTP, Timeout: 35 * time.Second}.CheckTimeout(30*time.Second))
	assert.NoError(t, Config{BridgeKind: BridgeKindHTTP, Timeout: 30 * time.Second}.CheckTimeout(30*time.Second))
	assert.Error(t, Config{BridgeKind: BridgeKindHTTP, Timeout: 5 * time.Second}.CheckTimeout(30*time.Second))

	// The paper bridge has no HTTP client.
	assert.NoError(t, Config{BridgeKind: BridgeKindPaper, Timeout: time.Second}.CheckTimeout(30*time.Second))
}
