package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/messenger/internal/conversation"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.EqualValues(t, 4096, cfg.MaxMessageSize)
	assert.Equal(t, RateLimitConfig{Burst: 5, RefillInterval: time.Second}, cfg.RateLimit())
	assert.Equal(t, 10*time.Minute, cfg.SessionTTL)
	assert.Equal(t, "memory", cfg.SessionBackend)
	assert.Equal(t, "badger", cfg.StoreDriver)
	assert.Equal(t, ScopeGlobal, cfg.Scope())
	assert.Equal(t, conversation.DefaultConfig(), cfg.Batcher())
	assert.Equal(t, 3, cfg.Batcher().MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.ResponderTimeout)
	assert.NoError(t, validate.Struct(cfg))
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, https://b.example ,")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("RATE_LIMIT_BURST", "2")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "500ms")
	t.Setenv("SESSION_TTL", "30s")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("MESSAGE_BLOCK_SIZE", "10")
	t.Setenv("FLUSH_FAILURE_POLICY", "drop")
	t.Setenv("BROADCAST_SCOPE", "room")
	t.Setenv("STORE_BREAKER_FAILURES", "7")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "https://b.example", ""}, cfg.AllowedOrigins)
	assert.EqualValues(t, 1024, cfg.MaxMessageSize)
	assert.Equal(t, RateLimitConfig{Burst: 2, RefillInterval: 500 * time.Millisecond}, cfg.RateLimit())
	assert.Equal(t, 30*time.Second, cfg.SessionTTL)
	assert.Equal(t, ScopeRoom, cfg.Scope())
	assert.Equal(t, 10, cfg.Batcher().BlockSize)
	assert.Equal(t, conversation.PolicyDrop, cfg.Batcher().Policy)
	assert.Equal(t, "sqlite", cfg.Storage().Driver)
	assert.EqualValues(t, 7, cfg.Storage().Guard.MaxFailures)
}

func TestLoadConfigKeepsZeroRetries(t *testing.T) {
	t.Setenv("FLUSH_MAX_RETRIES", "0")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Batcher().MaxRetries)
}

func TestLoadConfigRejectsUnknownEnums(t *testing.T) {
	t.Setenv("BROADCAST_SCOPE", "everyone")
	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestLoadConfigSanitizesInvalidNumbers(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "-5")
	t.Setenv("RATE_LIMIT_BURST", "0")
	t.Setenv("MESSAGE_BLOCK_SIZE", "-1")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.EqualValues(t, 4096, cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.RateLimitBurst)
	assert.Equal(t, 1, cfg.MessageBlockSize)
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SERVER_PORT=:7070\nLOG_FORMAT=text\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("SERVER_PORT")
		_ = os.Unsetenv("LOG_FORMAT")
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Port)
	assert.Equal(t, "text", cfg.LogFormat)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err, "a missing env file is not an error")
}
