// Package config loads the scraping fabric's YAML configuration bundle.
// Grounded on raito/internal/config's Load(path) *Config shape.
package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the batch entry / status HTTP API.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PoolConfig controls the Proxy Pool (spec.md §4.1).
type PoolConfig struct {
	MinSuccessRate     float64 `yaml:"minSuccessRate"`
	MinObservations    int     `yaml:"minObservations"`
	HealthCheckURL     string  `yaml:"healthCheckURL"`
	HealthCheckTimeout int     `yaml:"healthCheckTimeoutMs"`
}

// GateConfig controls the Concurrency Gate (spec.md §4.2).
type GateConfig struct {
	GlobalConcurrency int `yaml:"globalConcurrency"`
	PerDomainLimit    int `yaml:"perDomainLimit"`
	SlowDomainLimit   int `yaml:"slowDomainLimit"`
	SlowP95Ms         int `yaml:"slowP95Ms"`
}

// RateLimitConfig controls the per-domain token-bucket Rate Limiter
// (spec.md §4.3).
type RateLimitConfig struct {
	RPMDefault int `yaml:"rpmDefault"`
	RPMSlow    int `yaml:"rpmSlow"`
	BurstSize  int `yaml:"burstSize"`
}

// BreakerConfig controls the per-domain Circuit Breaker (spec.md §4.4).
type BreakerConfig struct {
	FailureThreshold int `yaml:"failureThreshold"`
	RecoveryMs       int `yaml:"recoveryMs"`
	HalfOpenMax      int `yaml:"halfOpenMax"`
}

// FetchConfig controls the HTTP Fetcher and URL Prober timeouts
// (spec.md §4.5, §4.6).
type FetchConfig struct {
	ProbeTimeoutMs   int `yaml:"probeTimeoutMs"`
	FastTimeoutMs    int `yaml:"fastTimeoutMs"`
	SlowTimeoutMs    int `yaml:"slowTimeoutMs"`
	MaxRetries       int `yaml:"maxRetries"`
	RetryDelayMs     int `yaml:"retryDelayMs"`
	MaxResponseBytes int `yaml:"maxResponseBytes"`
}

// SubpageConfig controls the link prioritiser and subpage batching
// (spec.md §4.9, §4.10).
type SubpageConfig struct {
	BatchSize          int `yaml:"batchSize"`
	IntraBatchDelayMs  int `yaml:"intraBatchDelayMs"`
	InterBatchDelayMs  int `yaml:"interBatchDelayMs"`
	RescueMinChars     int `yaml:"rescueMinChars"`
	MaxSubpages        int `yaml:"maxSubpages"`
	CompanyDeadlineSec int `yaml:"companyDeadlineSec"`
}

// DatabaseConfig controls the persistence sink (spec.md §6).
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig controls cross-instance status aggregation (spec.md §6).
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SearchConfig controls the out-of-scope search-engine client stub.
type SearchConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"baseURL"`
}

// LLMConfig controls the out-of-scope LLM client stub.
type LLMConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"baseURL"`
}

// Config is the root configuration bundle. Every field has the default
// named in spec.md §6; defaults are applied by Load via applyDefaults
// so a partially-specified YAML file still produces a fully usable
// Config.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Proxies   []string        `yaml:"proxies"`
	Pool      PoolConfig      `yaml:"pool"`
	Gate      GateConfig      `yaml:"gate"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Subpages  SubpageConfig   `yaml:"subpages"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Search    SearchConfig    `yaml:"search"`
	LLM       LLMConfig       `yaml:"llm"`
}

// Load reads and decodes the YAML config file at path, fataling on any
// error in the same way raito's config loader does — configuration
// problems are not recoverable at runtime.
func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	applyDefaults(&cfg)
	return &cfg
}

// applyDefaults fills zero-valued fields with the defaults from
// spec.md §6's configuration table.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Pool.MinSuccessRate == 0 {
		cfg.Pool.MinSuccessRate = 0.10
	}
	if cfg.Pool.MinObservations == 0 {
		cfg.Pool.MinObservations = 8
	}
	if cfg.Pool.HealthCheckTimeout == 0 {
		cfg.Pool.HealthCheckTimeout = 5000
	}

	if cfg.Gate.GlobalConcurrency == 0 {
		cfg.Gate.GlobalConcurrency = 200
	}
	if cfg.Gate.PerDomainLimit == 0 {
		cfg.Gate.PerDomainLimit = 5
	}
	if cfg.Gate.SlowDomainLimit == 0 {
		cfg.Gate.SlowDomainLimit = 2
	}
	if cfg.Gate.SlowP95Ms == 0 {
		cfg.Gate.SlowP95Ms = 8000
	}

	if cfg.RateLimit.RPMDefault == 0 {
		cfg.RateLimit.RPMDefault = 300
	}
	if cfg.RateLimit.RPMSlow == 0 {
		cfg.RateLimit.RPMSlow = 60
	}
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 60
	}

	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 12
	}
	if cfg.Breaker.RecoveryMs == 0 {
		cfg.Breaker.RecoveryMs = 30000
	}
	if cfg.Breaker.HalfOpenMax == 0 {
		cfg.Breaker.HalfOpenMax = 3
	}

	if cfg.Fetch.ProbeTimeoutMs == 0 {
		cfg.Fetch.ProbeTimeoutMs = 10000
	}
	if cfg.Fetch.FastTimeoutMs == 0 {
		cfg.Fetch.FastTimeoutMs = 12000
	}
	if cfg.Fetch.SlowTimeoutMs == 0 {
		cfg.Fetch.SlowTimeoutMs = 15000
	}
	if cfg.Fetch.MaxRetries == 0 {
		cfg.Fetch.MaxRetries = 1
	}
	if cfg.Fetch.MaxResponseBytes == 0 {
		cfg.Fetch.MaxResponseBytes = 1 << 20
	}

	if cfg.Subpages.BatchSize == 0 {
		cfg.Subpages.BatchSize = 4
	}
	if cfg.Subpages.RescueMinChars == 0 {
		cfg.Subpages.RescueMinChars = 500
	}
	if cfg.Subpages.MaxSubpages == 0 {
		cfg.Subpages.MaxSubpages = 5
	}
	if cfg.Subpages.CompanyDeadlineSec == 0 {
		cfg.Subpages.CompanyDeadlineSec = 90
	}
}
