package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/probexplain/pkg/probexplain/explain"
	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
)

// Config is the run configuration of probexplain
type Config struct {
	Network  string        `yaml:"network"`
	Backend  string        `yaml:"backend"`
	Seed     uint64        `yaml:"seed"`
	DB       string        `yaml:"db"`
	LogLevel string        `yaml:"log_level"`
	Cache    CacheConfig   `yaml:"cache"`
	Explain  ExplainConfig `yaml:"explain"`
}

// CacheConfig sizes the query cache
type CacheConfig struct {
	Capacity int `yaml:"capacity"` // 0 = unbounded
}

// ExplainConfig holds algorithm defaults
type ExplainConfig struct {
	Divergence       string  `yaml:"divergence"`
	Workers          int     `yaml:"workers"`
	SensitivityDelta float64 `yaml:"sensitivity_delta"`
	DefeaterDepth    int     `yaml:"defeater_depth"`
	MaxSubsets       int     `yaml:"max_subsets"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Backend:  "varelim",
		LogLevel: "info",
		Explain: ExplainConfig{
			Divergence:       string(explain.KL),
			Workers:          explain.DefaultWorkers,
			SensitivityDelta: 0.05,
			DefeaterDepth:    2,
			MaxSubsets:       explain.DefaultMaxSubsets,
		},
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML configuration on top of the defaults. Unknown
// keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Env variable names read by ApplyEnv
const (
	EnvNetwork       = "PROBEXPLAIN_NETWORK"
	EnvBackend       = "PROBEXPLAIN_BACKEND"
	EnvDB            = "PROBEXPLAIN_DB"
	EnvLogLevel      = "PROBEXPLAIN_LOG_LEVEL"
	EnvSeed          = "PROBEXPLAIN_SEED"
	EnvCacheCapacity = "PROBEXPLAIN_CACHE_CAPACITY"
	EnvWorkers       = "PROBEXPLAIN_WORKERS"
	EnvDivergence    = "PROBEXPLAIN_DIVERGENCE"
)

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str(EnvNetwork, &c.Network)
	str(EnvBackend, &c.Backend)
	str(EnvDB, &c.DB)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvDivergence, &c.Explain.Divergence)

	if v, ok := lookup(EnvSeed); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", internalerr.ErrInvalidConfig, EnvSeed, v)
		}
		c.Seed = n
	}
	for key, dst := range map[string]*int{
		EnvCacheCapacity: &c.Cache.Capacity,
		EnvWorkers:       &c.Explain.Workers,
	} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", internalerr.ErrInvalidConfig, key, v)
		}
		*dst = n
	}
	return c.Validate()
}

// Validate checks value ranges
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Backend) == "" {
		errs = append(errs, errors.New("backend is empty"))
	}
	if c.Cache.Capacity < 0 {
		errs = append(errs, fmt.Errorf("cache.capacity %d is negative", c.Cache.Capacity))
	}
	if c.Explain.Workers < 0 {
		errs = append(errs, fmt.Errorf("explain.workers %d is negative", c.Explain.Workers))
	}
	if c.Explain.DefeaterDepth < 0 {
		errs = append(errs, fmt.Errorf("explain.defeater_depth %d is negative", c.Explain.DefeaterDepth))
	}
	if _, err := explain.ParseDivergence(c.Explain.Divergence); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", internalerr.ErrInvalidConfig, err)
	}
	return nil
}
