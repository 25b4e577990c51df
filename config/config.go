// Package config loads rv5sim's run configuration from flags, a config
// file, and environment variables, layered by spf13/viper.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sarchlab/rv5sim/timing/cache"
)

// applyDefaults sets def's values as viper defaults under the same
// mapstructure keys Load unmarshals against. json.Marshal would produce
// camelCase keys that don't match the snake_case mapstructure tags on
// Config, so the mapping is spelled out explicitly instead.
func applyDefaults(v *viper.Viper, def Config) {
	v.SetDefault("program", def.ProgramPath)
	v.SetDefault("timing", def.Timing)
	v.SetDefault("verbose", def.Verbose)
	v.SetDefault("memory_size_bytes", def.MemorySizeBytes)
	v.SetDefault("max_instructions", def.MaxInstructions)
	v.SetDefault("max_cycles", def.MaxCycles)
	v.SetDefault("history_path", def.HistoryPath)
	v.SetDefault("predictor", def.Predictor)
	v.SetDefault("inclusion_policy", def.InclusionPolicy)
}

// ConfigError reports a bad configuration value discovered either while
// loading flags/config-file input or while constructing the cache
// hierarchy it describes. It aborts startup before simulation begins.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CacheLevelConfig is the on-disk/flag representation of a single cache
// level, mirroring cache.Config but with JSON-friendly field names and
// an Enabled switch.
type CacheLevelConfig struct {
	Enabled       bool   `mapstructure:"enabled" json:"enabled"`
	SizeBytes     int    `mapstructure:"size_bytes" json:"sizeBytes"`
	Associativity int    `mapstructure:"associativity" json:"associativity"`
	BlockSize     int    `mapstructure:"block_size" json:"blockSize"`
	LatencyCycles uint64 `mapstructure:"latency_cycles" json:"latencyCycles"`
	Policy        string `mapstructure:"policy" json:"policy"` // "lru" | "random"
}

// ToCacheConfig converts a CacheLevelConfig to a cache.Config.
func (c CacheLevelConfig) ToCacheConfig() cache.Config {
	policy := cache.ReplacementLRU
	if c.Policy == "random" {
		policy = cache.ReplacementRandom
	}
	return cache.Config{
		Size:          c.SizeBytes,
		Associativity: c.Associativity,
		BlockSize:     c.BlockSize,
		Latency:       c.LatencyCycles,
		Policy:        policy,
	}
}

// Config is the fully resolved configuration for one simulator run.
type Config struct {
	// ProgramPath is the path to the RISC-V ELF binary to run.
	ProgramPath string `mapstructure:"program" json:"program"`
	// Timing selects cycle-accurate pipeline simulation instead of the
	// plain functional emulator.
	Timing bool `mapstructure:"timing" json:"timing"`
	// Verbose enables extra diagnostic output on stderr.
	Verbose bool `mapstructure:"verbose" json:"verbose"`
	// MemorySizeBytes is the size of the flat backing memory.
	MemorySizeBytes uint64 `mapstructure:"memory_size_bytes" json:"memorySizeBytes"`
	// MaxInstructions bounds the instructions retired by a functional
	// or timing run; 0 is unbounded.
	MaxInstructions uint64 `mapstructure:"max_instructions" json:"maxInstructions"`
	// MaxCycles bounds a timing run; 0 is unbounded.
	MaxCycles uint64 `mapstructure:"max_cycles" json:"maxCycles"`
	// HistoryPath, if non-empty, writes a per-cycle pipeline dump there.
	HistoryPath string `mapstructure:"history_path" json:"historyPath"`
	// Predictor selects the branch predictor variant: "nt", "at",
	// "1bit", "2bit", or "perceptron".
	Predictor string `mapstructure:"predictor" json:"predictor"`
	// InclusionPolicy selects the cache hierarchy's inclusion policy:
	// "inclusive", "exclusive", or "noninclusive".
	InclusionPolicy string `mapstructure:"inclusion_policy" json:"inclusionPolicy"`

	ICache CacheLevelConfig `mapstructure:"icache" json:"icache"`
	DCache CacheLevelConfig `mapstructure:"dcache" json:"dcache"`
	L2     CacheLevelConfig `mapstructure:"l2" json:"l2"`
}

// Default returns the default configuration: no caches, two-bit
// predictor, 1GiB of backing memory.
func Default() Config {
	return Config{
		MemorySizeBytes: 1 << 30,
		Predictor:       "2bit",
		InclusionPolicy: "inclusive",
		ICache:          CacheLevelConfig{},
		DCache:          CacheLevelConfig{},
		L2:              CacheLevelConfig{},
	}
}

// BindFlags registers the configuration's command-line flags on fs and
// binds each to v, so flag > config-file > default precedence holds.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.Bool("timing", false, "run the cycle-accurate pipeline instead of the functional emulator")
	fs.Bool("verbose", false, "enable verbose diagnostic output")
	fs.Uint64("memory-size-bytes", 1<<30, "size of the simulated backing memory")
	fs.Uint64("max-instructions", 0, "instruction limit for functional and timing runs (0 = unbounded)")
	fs.Uint64("max-cycles", 0, "cycle limit for timing runs (0 = unbounded)")
	fs.String("history-path", "", "write a per-cycle pipeline dump to this path")
	fs.String("predictor", "2bit", "branch predictor: nt, at, 1bit, 2bit, perceptron")
	fs.String("inclusion-policy", "inclusive", "cache inclusion policy: inclusive, exclusive, noninclusive")
	fs.Bool("icache", false, "enable the L1 instruction cache")
	fs.Bool("dcache", false, "enable the L1 data cache")
	fs.Bool("l2", false, "enable the unified L2 cache")

	_ = v.BindPFlag("timing", fs.Lookup("timing"))
	_ = v.BindPFlag("verbose", fs.Lookup("verbose"))
	_ = v.BindPFlag("memory_size_bytes", fs.Lookup("memory-size-bytes"))
	_ = v.BindPFlag("max_instructions", fs.Lookup("max-instructions"))
	_ = v.BindPFlag("max_cycles", fs.Lookup("max-cycles"))
	_ = v.BindPFlag("history_path", fs.Lookup("history-path"))
	_ = v.BindPFlag("predictor", fs.Lookup("predictor"))
	_ = v.BindPFlag("inclusion_policy", fs.Lookup("inclusion-policy"))
	_ = v.BindPFlag("icache.enabled", fs.Lookup("icache"))
	_ = v.BindPFlag("dcache.enabled", fs.Lookup("dcache"))
	_ = v.BindPFlag("l2.enabled", fs.Lookup("l2"))
}

// NewViper creates a Viper instance reading RV5SIM_-prefixed environment
// variables, with BindFlags already applied to fs.
func NewViper(fs *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("RV5SIM")
	v.AutomaticEnv()
	BindFlags(fs, v)
	return v
}

// Load layers flags (already bound into v by NewViper) > environment >
// configFile (if non-empty) > defaults, and unmarshals the result into
// a Config. Cache levels left unconfigured by the file/flags fall back
// to the package's representative defaults once Enabled.
func Load(v *viper.Viper, configFile string) (Config, error) {
	applyDefaults(v, Default())

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.ICache.Enabled && cfg.ICache.SizeBytes == 0 {
		cfg.ICache = defaultCacheLevel(cache.DefaultL1IConfig())
	}
	if cfg.DCache.Enabled && cfg.DCache.SizeBytes == 0 {
		cfg.DCache = defaultCacheLevel(cache.DefaultL1DConfig())
	}
	if cfg.L2.Enabled && cfg.L2.SizeBytes == 0 {
		cfg.L2 = defaultCacheLevel(cache.DefaultL2Config())
	}

	return cfg, nil
}

// ToInclusionPolicy converts the configured inclusion policy string to
// a cache.InclusionPolicy, defaulting to Inclusive for an unrecognized
// value.
func (c Config) ToInclusionPolicy() cache.InclusionPolicy {
	switch c.InclusionPolicy {
	case "exclusive":
		return cache.Exclusive
	case "noninclusive":
		return cache.NonInclusive
	default:
		return cache.Inclusive
	}
}

func defaultCacheLevel(c cache.Config) CacheLevelConfig {
	return CacheLevelConfig{
		Enabled:       true,
		SizeBytes:     c.Size,
		Associativity: c.Associativity,
		BlockSize:     c.BlockSize,
		LatencyCycles: c.Latency,
		Policy:        "lru",
	}
}

// Save writes cfg to path as indented JSON.
func Save(cfg Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
