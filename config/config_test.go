package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, ":8070", cfg.Server.ListenAddress)
	assert.False(t, cfg.Server.Security.Enabled)
	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, "snappy", cfg.Store.Compression)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "grpc", cfg.Tracing.Protocol)
	assert.Equal(t, 64, cfg.Sweep.JobHistory)
	assert.True(t, cfg.Debug.Enabled)
}

func TestLoadOverridesDefaults(t *testing.T) {
	yaml := `
server:
  listen_address: ":9999"
  security:
    enabled: true
    user_file: /etc/expirebin/users.yaml
store:
  backend: memory
  compression: zstd
sweep:
  default_bins: [session, cache]
  job_history: 8
logging:
  level: debug
tracing:
  enabled: true
  protocol: http
`
	cfg, err := Load(strings.NewReader(yaml))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.ListenAddress)
	assert.True(t, cfg.Server.Security.Enabled)
	assert.Equal(t, "/etc/expirebin/users.yaml", cfg.Server.Security.UserFilePath)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "zstd", cfg.Store.Compression)
	assert.Equal(t, []string{"session", "cache"}, cfg.Sweep.DefaultBins)
	assert.Equal(t, 8, cfg.Sweep.JobHistory)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "http", cfg.Tracing.Protocol)

	// Untouched sections keep their defaults.
	assert.Equal(t, "./data", cfg.Store.DataDir)
	assert.Equal(t, "stdout", cfg.Logging.Output)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
	}{
		{"bad backend", "store:\n  backend: redis\n"},
		{"bad compression", "store:\n  compression: gzip\n"},
		{"bad tracing protocol", "tracing:\n  protocol: udp\n"},
		{"negative job history", "sweep:\n  job_history: -1\n"},
		{"malformed yaml", "store: [\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/expirebin.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8070", cfg.Server.ListenAddress)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 5*time.Minute, ParseDuration("", 5*time.Minute, nil))
	assert.Equal(t, 5*time.Minute, ParseDuration("0", 5*time.Minute, nil))
	assert.Equal(t, 90*time.Second, ParseDuration("90s", 5*time.Minute, nil))
	assert.Equal(t, 5*time.Minute, ParseDuration("not-a-duration", 5*time.Minute, nil))
}
