package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override. Nested keys are joined
// with underscores: sinks.arrow.batch_size is ERC20_SINKS_ARROW_BATCH_SIZE.
const EnvPrefix = "ERC20"

// Source kinds
const (
	SourceFile      = "file"
	SourceNATS      = "nats"
	SourceWebSocket = "websocket"
)

// Config holds the application configuration
type Config struct {
	LogLevel  string `yaml:"log_level" split_words:"true"`
	LogFormat string `yaml:"log_format" split_words:"true"` // text or json
	Network   string `yaml:"network"`

	Source SourceConfig `yaml:"source"`
	Sinks  SinksConfig  `yaml:"sinks"`

	// Cursor store; an empty URL keeps the cursor in memory
	RedisURL  string `yaml:"redis_url" split_words:"true"`
	CursorKey string `yaml:"cursor_key" split_words:"true"`

	RequestTimeout time.Duration `yaml:"request_timeout" split_words:"true"`
}

// SourceConfig selects where traced blocks come from
type SourceConfig struct {
	Kind string `yaml:"kind"`

	// file: JSON lines, "-" reads stdin
	Path string `yaml:"path"`

	// nats: JetStream pull consumer
	NatsURL string `yaml:"nats_url" split_words:"true"`
	Stream  string `yaml:"stream"`
	Subject string `yaml:"subject"`
	Durable string `yaml:"durable"`

	// websocket: pushed blocks with failover across URLs
	WebsocketURLs []string      `yaml:"websocket_urls" envconfig:"WEBSOCKET_URLS"`
	Method        string        `yaml:"method"`
	RetryDelay    time.Duration `yaml:"retry_delay" split_words:"true"`
	MaxRetries    int           `yaml:"max_retries" split_words:"true"`
}

// SinksConfig lists the outputs; every enabled sink receives every block
type SinksConfig struct {
	JSON   bool             `yaml:"json"` // JSON lines on stdout
	NATS   NATSSinkConfig   `yaml:"nats"`
	DuckDB DuckDBSinkConfig `yaml:"duckdb"`
	Arrow  ArrowSinkConfig  `yaml:"arrow"`
}

// NATSSinkConfig publishes records to JetStream
type NATSSinkConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Stream  string        `yaml:"stream"`
	Subject string        `yaml:"subject"`
	MaxAge  time.Duration `yaml:"max_age" split_words:"true"`
}

// DuckDBSinkConfig stores records in a DuckDB database file
type DuckDBSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ArrowSinkConfig uploads Arrow batches to MinIO / S3. The same bucket
// serves DuckDB Parquet exports.
type ArrowSinkConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size" split_words:"true"`
	FlushInterval time.Duration `yaml:"flush_interval" split_words:"true"`
	Endpoint      string        `yaml:"endpoint"`
	AccessKey     string        `yaml:"access_key" split_words:"true"`
	SecretKey     string        `yaml:"secret_key" split_words:"true"`
	UseSSL        bool          `yaml:"use_ssl" split_words:"true"`
	Region        string        `yaml:"region"`
	Bucket        string        `yaml:"bucket"`
	BasePath      string        `yaml:"base_path" split_words:"true"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Network:   "mainnet",
		Source: SourceConfig{
			Kind:       SourceFile,
			Path:       "-",
			Durable:    "erc20-balances",
			RetryDelay: 5 * time.Second,
		},
		Sinks: SinksConfig{
			NATS: NATSSinkConfig{
				MaxAge: 24 * time.Hour,
			},
			DuckDB: DuckDBSinkConfig{
				Path: "erc20_balances.duckdb",
			},
			Arrow: ArrowSinkConfig{
				BatchSize:     100,
				FlushInterval: time.Minute,
				Region:        "us-east-1",
				Bucket:        "erc20-balances",
			},
		},
		RequestTimeout: 10 * time.Second,
	}
}

// Load reads the YAML file at path, when given, over the defaults, then applies
// ERC20_* environment overrides and fills network derived defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.applyNetworkDefaults()
	return cfg, nil
}

// applyNetworkDefaults canonicalizes the network name and derives the
// subjects and cursor key from it when they are unset
func (c *Config) applyNetworkDefaults() {
	if network, ok := DefaultNetworkRegistry().Lookup(c.Network); ok {
		c.Network = network.Name
	}
	if c.CursorKey == "" {
		c.CursorKey = fmt.Sprintf("erc20:%s:cursor", c.Network)
	}
	if c.Source.Subject == "" {
		c.Source.Subject = fmt.Sprintf("blocks.%s", c.Network)
	}
	if c.Sinks.NATS.Stream == "" {
		c.Sinks.NATS.Stream = "ERC20_BALANCES"
	}
	if c.Sinks.NATS.Subject == "" {
		c.Sinks.NATS.Subject = fmt.Sprintf("erc20.%s", c.Network)
	}
	if c.Sinks.NATS.URL == "" {
		c.Sinks.NATS.URL = c.Source.NatsURL
	}
}

// Validate checks the fields required by the selected source and sinks
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if c.Network == "" {
		errs = append(errs, errors.New("network is required"))
	}

	switch c.Source.Kind {
	case SourceFile:
		if c.Source.Path == "" {
			errs = append(errs, errors.New("source.path is required for the file source"))
		}
	case SourceNATS:
		if c.Source.NatsURL == "" {
			errs = append(errs, errors.New("source.nats_url is required for the nats source"))
		}
		if c.Source.Subject == "" {
			errs = append(errs, errors.New("source.subject is required for the nats source"))
		}
	case SourceWebSocket:
		if len(c.Source.WebsocketURLs) == 0 {
			errs = append(errs, errors.New("source.websocket_urls is required for the websocket source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source kind %q", c.Source.Kind))
	}

	if c.Sinks.NATS.Enabled && c.Sinks.NATS.URL == "" {
		errs = append(errs, errors.New("sinks.nats.url is required when the nats sink is enabled"))
	}
	if c.Sinks.DuckDB.Enabled && c.Sinks.DuckDB.Path == "" {
		errs = append(errs, errors.New("sinks.duckdb.path is required when the duckdb sink is enabled"))
	}
	if c.Sinks.Arrow.Enabled {
		if c.Sinks.Arrow.Endpoint == "" {
			errs = append(errs, errors.New("sinks.arrow.endpoint is required when the arrow sink is enabled"))
		}
		if c.Sinks.Arrow.Bucket == "" {
			errs = append(errs, errors.New("sinks.arrow.bucket is required when the arrow sink is enabled"))
		}
	}
	if !c.Sinks.JSON && !c.Sinks.NATS.Enabled && !c.Sinks.DuckDB.Enabled && !c.Sinks.Arrow.Enabled {
		errs = append(errs, errors.New("at least one sink must be enabled"))
	}

	return errors.Join(errs...)
}

// NewLogger builds the logger described by the log settings
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
