package elastic

import (
	"errors"
	"flag"
	"time"

	"github.com/grafana/dskit/flagext"
)

// Config configures one Elasticsearch or OpenSearch cluster.
type Config struct {
	Enabled   bool                   `yaml:"enabled"`
	Addresses flagext.StringSliceCSV `yaml:"addresses"`
	Username  string                 `yaml:"username"`
	Password  flagext.Secret         `yaml:"password"`

	IndexPrefix        string        `yaml:"index_prefix"`
	MaxIndicesPerQuery int           `yaml:"max_indices_per_query"`
	IndexCacheSize     int           `yaml:"index_cache_size"`
	IndexCacheTTL      time.Duration `yaml:"index_cache_ttl"`

	AllowLeadingWildcard bool `yaml:"allow_leading_wildcard"`
	DefaultMessageLimit  int  `yaml:"default_message_limit"`
	DefaultValuesLimit   int  `yaml:"default_values_limit"`

	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
}

func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.Enabled, prefix+"enabled", false, "Enable the backend.")
	f.Var(&cfg.Addresses, prefix+"addresses", "Comma-separated list of cluster URLs.")
	f.StringVar(&cfg.Username, prefix+"username", "", "Username for basic authentication.")
	f.Var(&cfg.Password, prefix+"password", "Password for basic authentication.")
	f.StringVar(&cfg.IndexPrefix, prefix+"index-prefix", "graylog", "Prefix of the daily message indices, which are named <prefix>_YYYY.MM.DD.")
	f.IntVar(&cfg.MaxIndicesPerQuery, prefix+"max-indices-per-query", 90, "Maximum number of daily indices named in a request. Wider time ranges search all indices of the prefix.")
	f.IntVar(&cfg.IndexCacheSize, prefix+"index-cache-size", 1024, "Number of index lookups to cache. 0 disables the cache.")
	f.DurationVar(&cfg.IndexCacheTTL, prefix+"index-cache-ttl", time.Minute, "How long index lookups are cached.")
	f.BoolVar(&cfg.AllowLeadingWildcard, prefix+"allow-leading-wildcard", false, "Allow leading wildcards in query strings.")
	f.IntVar(&cfg.DefaultMessageLimit, prefix+"default-message-limit", 150, "Page size of message lists which do not set a limit.")
	f.IntVar(&cfg.DefaultValuesLimit, prefix+"default-values-limit", 15, "Number of buckets of values and group-by dimensions which do not set a limit.")
	cfg.CircuitBreaker.RegisterFlagsWithPrefix(prefix+"circuit-breaker.", f)
}

func (cfg *Config) Validate() error {
	if !cfg.Enabled {
		return nil
	}
	if len(cfg.Addresses) == 0 {
		return errors.New("at least one address is required")
	}
	if cfg.IndexPrefix == "" {
		return errors.New("index prefix must not be empty")
	}
	if cfg.DefaultMessageLimit <= 0 || cfg.DefaultValuesLimit <= 0 {
		return errors.New("default limits must be positive")
	}
	return cfg.CircuitBreaker.Validate()
}

// BreakerConfig configures the circuit breaker in front of a cluster.
type BreakerConfig struct {
	MaxRequests         int           `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures int           `yaml:"consecutive_failures"`
}

func (cfg *BreakerConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.MaxRequests, prefix+"max-requests", 1, "Number of requests allowed through a half-open circuit breaker.")
	f.DurationVar(&cfg.Interval, prefix+"interval", time.Minute, "Period after which failure counts of a closed circuit breaker are reset.")
	f.DurationVar(&cfg.Timeout, prefix+"timeout", 30*time.Second, "Period an open circuit breaker waits before becoming half-open.")
	f.IntVar(&cfg.ConsecutiveFailures, prefix+"consecutive-failures", 5, "Consecutive failures which open the circuit breaker.")
}

func (cfg *BreakerConfig) Validate() error {
	if cfg.MaxRequests < 0 || cfg.ConsecutiveFailures < 0 {
		return errors.New("circuit breaker limits must not be negative")
	}
	return nil
}
