package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_AllFieldsPopulated(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "http://localhost:7777", cfg.Backend.BaseURL)
	assert.Equal(t, "github", cfg.Backend.DefaultProvider)
	assert.Equal(t, "/signin", cfg.Backend.SignInRoute)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Empty(t, cfg.Storage.DataDir)

	assert.Equal(t, "127.0.0.1:0", cfg.Login.CallbackAddr)
	assert.Equal(t, "/auth/callback", cfg.Login.CallbackPath)
	assert.True(t, cfg.Login.OpenBrowser)

	assert.Equal(t, "30s", cfg.Network.Timeout)
	assert.Empty(t, cfg.Network.UserAgent)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "auto", cfg.Logging.Format)

	assert.Equal(t, 3, cfg.Bucket.MaxPasswordAttempts)
	assert.Equal(t, 4, cfg.Bucket.ParallelDownloads)
}

func TestDefaultConfig_Validates(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}
