// internal/config/config.go
package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/harbourline/ingest/internal/job"
	"github.com/harbourline/ingest/internal/sink"
)

// Config is the service configuration: server knobs, fetch behaviour, the
// persistence sink, and optionally a set of predefined jobs for the CLI.
type Config struct {
	ListenAddr string       `yaml:"listen_addr,omitempty"`
	Timezone   string       `yaml:"timezone,omitempty"`
	Fetch      FetchConfig  `yaml:"fetch,omitempty"`
	Sink       SinkConfig   `yaml:"sink,omitempty"`
	Jobs       []job.Params `yaml:"jobs,omitempty"`
}

// FetchConfig mirrors the fetch client's tunables.
type FetchConfig struct {
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
	BaseDelay   time.Duration `yaml:"base_delay,omitempty"`
	RateLimit   float64       `yaml:"rate_limit,omitempty"`
	RateBurst   int           `yaml:"rate_burst,omitempty"`
}

// SinkConfig selects and configures the persistence gateway.
type SinkConfig struct {
	Kind  string           `yaml:"kind,omitempty"` // sql, mongo, or log
	SQL   sink.SQLConfig   `yaml:"sql,omitempty"`
	Mongo sink.MongoConfig `yaml:"mongo,omitempty"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("configuration filename cannot be empty")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes, expanding ${VAR}
// environment references before decoding.
func LoadFromBytes(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("configuration data cannot be empty")
	}
	expanded := expandEnvironmentVariables(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}
	applyDefaults(&config)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// Default returns the configuration used when no file is supplied: listen
// address and sink taken from the environment.
func Default() *Config {
	config := &Config{
		ListenAddr: os.Getenv("LISTEN_ADDR"),
		Sink: SinkConfig{
			SQL: sink.SQLConfig{DSN: os.Getenv("SINK_DSN"), CreateTables: true},
		},
	}
	if config.Sink.SQL.DSN != "" {
		config.Sink.Kind = "sql"
	}
	applyDefaults(config)
	return config
}

var envVarRe = regexp.MustCompile(`\$\{(\w+)\}`)

// expandEnvironmentVariables substitutes ${VAR} references. Unset variables
// expand to an empty string, which validation then catches for required
// fields.
func expandEnvironmentVariables(data string) string {
	return envVarRe.ReplaceAllStringFunc(data, func(match string) string {
		name := envVarRe.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// applyDefaults fills unset fields with working defaults.
func applyDefaults(config *Config) {
	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}
	if config.Timezone == "" {
		config.Timezone = job.DefaultTimezone
	}
	if config.Sink.Kind == "" {
		config.Sink.Kind = "log"
	}
	if config.Fetch.Timeout == 0 {
		config.Fetch.Timeout = 12 * time.Second
	}
	if config.Fetch.MaxAttempts == 0 {
		config.Fetch.MaxAttempts = 3
	}
	if config.Fetch.BaseDelay == 0 {
		config.Fetch.BaseDelay = 500 * time.Millisecond
	}
	if config.Fetch.RateLimit == 0 {
		config.Fetch.RateLimit = 4
	}
}

// BuildSink constructs the configured persistence gateway.
func (c SinkConfig) BuildSink(ctx context.Context, logger *zap.Logger) (sink.Sink, error) {
	switch c.Kind {
	case "sql":
		return sink.NewSQLSink(c.SQL)
	case "mongo":
		return sink.NewMongoSink(ctx, c.Mongo)
	default:
		return sink.NewLogSink(logger), nil
	}
}

// Validate rejects configurations that would fail mid-run: unknown sink
// kinds, missing DSNs, bad timezones, and invalid job parameters all fail
// here, before any work begins.
func (c *Config) Validate() error {
	switch c.Sink.Kind {
	case "log":
	case "sql":
		if c.Sink.SQL.DSN == "" {
			return fmt.Errorf("sql sink requires a DSN")
		}
	case "mongo":
		if c.Sink.Mongo.URI == "" {
			return fmt.Errorf("mongo sink requires a URI")
		}
		if c.Sink.Mongo.Database == "" {
			return fmt.Errorf("mongo sink requires a database name")
		}
	default:
		return fmt.Errorf("unknown sink kind %q", c.Sink.Kind)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	for i, params := range c.Jobs {
		if err := params.Validate(); err != nil {
			return fmt.Errorf("job %d: %w", i, err)
		}
	}
	return nil
}
