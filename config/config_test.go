package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "commerce-service", cfg.AppName)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.DBLockTimeout)
	assert.Equal(t, "commerce.events", cfg.EventsExchangeName)
	assert.Equal(t, "topic", cfg.EventsExchangeType)
	assert.Equal(t, "#", cfg.EventsBindingKey)
	assert.Equal(t, 3, cfg.MaxProcessingRetries)
}
