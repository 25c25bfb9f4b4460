// Package config resolves the server's configuration from a YAML file
// merged with environment variable overrides, using spf13/viper the way
// a Cobra-based CLI collaborator would — this is ambient CLI-adjacent
// tooling, not part of the core per spec.md §1, but it still earns a real
// library rather than hand-rolled env parsing.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults are named, documented constants rather than inline magic
// numbers.
const (
	DefaultMaxRetries        = 3
	DefaultRetryBaseDelay    = time.Second
	DefaultRetryMaxDelay     = 10 * time.Second
	DefaultBackendTimeout    = 30 * time.Second
	DefaultMaxIdleConns      = 100
	DefaultMaxIdlePerHost    = 30

	DefaultCacheCapacity          = 1000
	DefaultCacheTTLRetrieve       = 300 * time.Second
	DefaultCacheTTLSearch         = 300 * time.Second
	DefaultCacheTTLListTypes      = 900 * time.Second
	DefaultAnalyticsCacheTTL      = 30 * time.Second
	DefaultMetricsFacadeCacheTTL  = 60 * time.Second

	DefaultMaxContentBytes       = 1 << 20 // 1 MiB
	DefaultMaxScratchpadBytes    = 64 << 10 // 64 KiB
	DefaultMaxUserFactsLimit     = 200

	DefaultStreamChunkSize        = 100
	DefaultStreamMaxConcurrent    = 10
	DefaultStreamInterPageDelay   = 10 * time.Millisecond
	DefaultBatchInterWindowDelay  = 50 * time.Millisecond
	DefaultBatchItemRetryBaseMs   = 100 * time.Millisecond

	DefaultMetricsMaxPointsPerSeries = 10000
	DefaultMetricsAggregationPeriod  = 60 * time.Second
	DefaultMetricsRetention          = time.Hour
	DefaultMetricsAggErrorBackoff    = 5 * time.Second
	DefaultMetricsCleanupErrorBackoff = 60 * time.Second

	DefaultWebhookQueueCapacity   = 10000
	DefaultWebhookMaxSubscriptions = 1000
	DefaultWebhookMaxConcurrent   = 100
	DefaultWebhookRetryBase       = time.Second
	DefaultWebhookRetryMult       = 2.0
	DefaultWebhookRetryMax        = 60 * time.Second
	DefaultWebhookMaxRetries      = 3
	DefaultWebhookDeliveryTimeout = 30 * time.Second
	DefaultWebhookHistorySize     = 10000
)

// Config is the fully resolved, immutable configuration the server runs
// with. It is the only thing the core sees — it never reads the
// environment or a file itself, matching spec.md §1's "out of scope"
// carve-out for configuration loading.
type Config struct {
	APIURL           string        `mapstructure:"api_url"`
	APIKey           string        `mapstructure:"api_key"`
	UserID           string        `mapstructure:"user_id"`
	LogLevel         string        `mapstructure:"log_level"`
	WebhookSecret    string        `mapstructure:"webhook_secret"`
	MaxResults       int           `mapstructure:"max_results"`
	ReadOnlyGraph    bool          `mapstructure:"read_only_graph"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
	TracingExporter  string        `mapstructure:"tracing_exporter"`
	TracingEndpoint  string        `mapstructure:"tracing_endpoint"`
	BackendTimeout   time.Duration `mapstructure:"backend_timeout"`
	// AllowPrivateNetworks names CIDR ranges that opt out of the
	// webhook registry's SSRF guard, for local development or trusted
	// internal deployments. Empty by default (no private network may
	// be used as a webhook target).
	AllowPrivateNetworks []string `mapstructure:"allow_private_networks"`
}

// Default returns a Config populated with the defaults a fresh `init`
// would write out.
func Default() *Config {
	return &Config{
		APIURL:          "http://localhost:8000",
		LogLevel:        "info",
		MaxResults:      100,
		ReadOnlyGraph:   true,
		TracingExporter: "none",
		BackendTimeout:  DefaultBackendTimeout,
	}
}

// Load merges, in increasing priority: built-in defaults, an optional
// YAML config file at path (if non-empty and present; an empty path
// falls back to VERIS_CONFIG_PATH), then VERIS_-prefixed environment
// variables.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("VERIS_CONFIG_PATH")
	}
	v := viper.New()
	v.SetConfigType("yaml")

	d := Default()
	v.SetDefault("api_url", d.APIURL)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("max_results", d.MaxResults)
	v.SetDefault("read_only_graph", d.ReadOnlyGraph)
	v.SetDefault("tracing_exporter", d.TracingExporter)
	v.SetDefault("backend_timeout", d.BackendTimeout)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix("VERIS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"api_url", "api_key", "user_id", "log_level", "webhook_secret", "max_results", "read_only_graph", "metrics_addr", "tracing_exporter", "tracing_endpoint", "backend_timeout", "allow_private_networks"} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("config: api_url must not be empty")
	}
	return &cfg, nil
}

// DefaultYAML is written by `veris-mcp init`.
const DefaultYAML = `# veris-mcp configuration
api_url: http://localhost:8000
api_key: ""
user_id: ""
log_level: info
webhook_secret: ""
max_results: 100
read_only_graph: true
metrics_addr: ""
tracing_exporter: none
tracing_endpoint: ""
backend_timeout: 30s
allow_private_networks: []
`
