package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(t, SourceFile, cfg.Source.Kind)
	assert.Equal(t, "-", cfg.Source.Path)
	assert.Equal(t, "erc20:mainnet:cursor", cfg.CursorKey)
	assert.Equal(t, "blocks.mainnet", cfg.Source.Subject)
	assert.Equal(t, "erc20.mainnet", cfg.Sinks.NATS.Subject)
	assert.Equal(t, 100, cfg.Sinks.Arrow.BatchSize)

	// no sink enabled yet
	assert.Error(t, cfg.Validate())
	cfg.Sinks.JSON = true
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("TEST_MINIO_SECRET", "s3cr3t")
	path := writeConfig(t, `
log_level: debug
log_format: json
network: Ethereum
source:
  kind: websocket
  websocket_urls: ["ws://a:8546", "ws://b:8546"]
  method: trace_subscribe
  retry_delay: 2s
  max_retries: 5
redis_url: redis://localhost:6379/0
sinks:
  duckdb:
    enabled: true
    path: /tmp/balances.duckdb
  arrow:
    enabled: true
    endpoint: localhost:9000
    access_key: minio
    secret_key: ${TEST_MINIO_SECRET}
    flush_interval: 30s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(t, SourceWebSocket, cfg.Source.Kind)
	assert.Equal(t, []string{"ws://a:8546", "ws://b:8546"}, cfg.Source.WebsocketURLs)
	assert.Equal(t, 2*time.Second, cfg.Source.RetryDelay)
	assert.Equal(t, 5, cfg.Source.MaxRetries)
	assert.Equal(t, "s3cr3t", cfg.Sinks.Arrow.SecretKey)
	assert.Equal(t, 30*time.Second, cfg.Sinks.Arrow.FlushInterval)
	// untouched defaults survive
	assert.Equal(t, 100, cfg.Sinks.Arrow.BatchSize)
	assert.Equal(t, "erc20-balances", cfg.Sinks.Arrow.Bucket)

	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, "debug", logger.GetLevel().String())
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "network: sepolia\nsource:\n  kind: file\n")
	t.Setenv("ERC20_SOURCE_KIND", "nats")
	t.Setenv("ERC20_SOURCE_NATS_URL", "nats://localhost:4222")
	t.Setenv("ERC20_SINKS_NATS_ENABLED", "true")
	t.Setenv("ERC20_SINKS_ARROW_BATCH_SIZE", "7")
	t.Setenv("ERC20_CURSOR_KEY", "custom")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, SourceNATS, cfg.Source.Kind)
	assert.Equal(t, "blocks.sepolia", cfg.Source.Subject)
	assert.Equal(t, "nats://localhost:4222", cfg.Sinks.NATS.URL)
	assert.Equal(t, 7, cfg.Sinks.Arrow.BatchSize)
	assert.Equal(t, "custom", cfg.CursorKey)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "source: [unclosed"))
	assert.Error(t, err)

	t.Setenv("ERC20_SINKS_ARROW_BATCH_SIZE", "many")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "bad level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log_level"},
		{name: "bad format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "log_format"},
		{name: "unknown source", mutate: func(c *Config) { c.Source.Kind = "kafka" }, wantErr: "unknown source kind"},
		{name: "nats source without url", mutate: func(c *Config) { c.Source.Kind = SourceNATS }, wantErr: "source.nats_url"},
		{name: "websocket without urls", mutate: func(c *Config) { c.Source.Kind = SourceWebSocket }, wantErr: "source.websocket_urls"},
		{name: "nats sink without url", mutate: func(c *Config) { c.Sinks.NATS.Enabled = true }, wantErr: "sinks.nats.url"},
		{name: "arrow without endpoint", mutate: func(c *Config) { c.Sinks.Arrow.Enabled = true }, wantErr: "sinks.arrow.endpoint"},
		{name: "no sinks", mutate: func(c *Config) { c.Sinks.JSON = false }, wantErr: "at least one sink"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Sinks.JSON = true
			cfg.applyNetworkDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNetworkRegistry_Lookup(t *testing.T) {
	nr := DefaultNetworkRegistry()

	for _, name := range []string{"mainnet", "Ethereum", " ETH ", "1"} {
		n, ok := nr.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, "mainnet", n.Name)
	}

	n, ok := nr.Lookup("43114")
	require.True(t, ok)
	assert.Equal(t, "avalanche", n.Name)

	_, ok = nr.Lookup("unknown-chain")
	assert.False(t, ok)

	nr.AddNetwork(NetworkConfig{Name: "Devnet", ChainID: 1337, Testnet: true})
	n, ok = nr.Lookup("devnet")
	require.True(t, ok)
	assert.True(t, n.Testnet)
	assert.Contains(t, nr.Names(), "devnet")
}

func TestLoad_UnknownNetworkKept(t *testing.T) {
	cfg, err := Load(writeConfig(t, "network: my-devnet\n"))
	require.NoError(t, err)
	assert.Equal(t, "my-devnet", cfg.Network)
	assert.Equal(t, "erc20:my-devnet:cursor", cfg.CursorKey)
}
