package config

import (
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"
)

// FileName is the per-directory and per-user config file.
const FileName = ".pgokache.yml"

// Config holds all pgokache configuration.
type Config struct {
	Store      Store      `yaml:"store"`
	Secrets    Secrets    `yaml:"secrets"`
	Timeouts   Timeouts   `yaml:"timeouts"`
	Collector  Collector  `yaml:"collector"`
	Thresholds Thresholds `yaml:"thresholds"`
	Exclude    Exclude    `yaml:"exclude"`
	Server     Server     `yaml:"server"`
	Defaults   Defaults   `yaml:"defaults"`
}

// Store selects the persistence backend.
// "sqlite://path" or "postgres://...".
type Store struct {
	URL string `yaml:"url"`
}

// Secrets locates the key used to encrypt instance passwords.
type Secrets struct {
	KeyFile string `yaml:"key_file"`
}

// Timeouts bound every blocking operation against a target or the lock table.
type Timeouts struct {
	Connect  string `yaml:"connect"`
	Query    string `yaml:"query"`
	LockWait string `yaml:"lock_wait"`
}

// Collector tunes snapshot capture.
type Collector struct {
	TopN               int     `yaml:"top_n"`
	MinCalls           int64   `yaml:"min_calls"`         // 0 disables the floor
	MinTotalTimeMs     float64 `yaml:"min_total_time_ms"` // 0 disables the floor
	QueryTextMax       int     `yaml:"query_text_max"`
	StoreFullQueryText bool    `yaml:"store_full_query_text"`
}

// Thresholds control recommendation sensitivity.
type Thresholds struct {
	BlocksPerRow          float64 `yaml:"blocks_per_row"`
	TempBlocksPerCall     float64 `yaml:"temp_blocks_per_call"`
	MinCalls              int64   `yaml:"min_calls"`
	ReadShare             float64 `yaml:"read_share"`
	ReadReplicaMinTotalMs float64 `yaml:"read_replica_min_total_ms"`
	HighCalls             int64   `yaml:"high_calls"`
	MediumCalls           int64   `yaml:"medium_calls"`
	ResurrectFactor       float64 `yaml:"resurrect_factor"`
}

// Exclude lists recommendation types, query patterns and query ids to skip.
type Exclude struct {
	Types    []string `yaml:"types"`
	Queries  []string `yaml:"queries"`
	QueryIDs []string `yaml:"query_ids"`
}

// Server configures the HTTP API.
type Server struct {
	Addr            string  `yaml:"addr"`
	RateLimit       float64 `yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst       int     `yaml:"rate_burst"`
	ShutdownTimeout string  `yaml:"shutdown_timeout"`
}

// Defaults holds default CLI flag values.
type Defaults struct {
	Format string `yaml:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Store: Store{
			URL: "sqlite://pgokache.db",
		},
		Timeouts: Timeouts{
			Connect:  "5s",
			Query:    "5s",
			LockWait: "10s",
		},
		Collector: Collector{
			TopN:         100,
			QueryTextMax: 2048,
		},
		Thresholds: Thresholds{
			BlocksPerRow:          10,
			TempBlocksPerCall:     128,
			MinCalls:              50,
			ReadShare:             0.8,
			ReadReplicaMinTotalMs: 10000,
			HighCalls:             1000,
			MediumCalls:           200,
			ResurrectFactor:       2.0,
		},
		Server: Server{
			Addr:            ":8080",
			RateLimit:       20,
			RateBurst:       40,
			ShutdownTimeout: "10s",
		},
		Defaults: Defaults{
			Format: "text",
		},
	}
}

// Load reads configuration from .pgokache.yml in the given directory,
// falling back to ~/.pgokache.yml. Returns DefaultConfig if no file found.
func Load(dir string) (Config, error) {
	cfg := DefaultConfig()

	paths := []string{filepath.Join(dir, FileName)}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, FileName))
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	return cfg, nil
}

// Exists reports whether dir contains a config file.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil
}

// KeyFile returns the secret key path, defaulting to ~/.pgokache/secret.key.
func (c *Config) KeyFile() string {
	if c.Secrets.KeyFile != "" {
		return c.Secrets.KeyFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pgokache", "secret.key")
	}
	return filepath.Join(home, ".pgokache", "secret.key")
}

// ConnectTimeout parses Timeouts.Connect. Returns 5s if parsing fails.
func (c *Config) ConnectTimeout() time.Duration {
	return parseDuration(c.Timeouts.Connect, 5*time.Second)
}

// QueryTimeout parses Timeouts.Query. Returns 5s if parsing fails.
func (c *Config) QueryTimeout() time.Duration {
	return parseDuration(c.Timeouts.Query, 5*time.Second)
}

// LockWait parses Timeouts.LockWait. Returns 10s if parsing fails.
func (c *Config) LockWait() time.Duration {
	return parseDuration(c.Timeouts.LockWait, 10*time.Second)
}

// ShutdownTimeout parses Server.ShutdownTimeout. Returns 10s if parsing fails.
func (c *Config) ShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
