// Package config provides configuration management for evalbox.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/caffeineduck/evalbox/executor"
	"github.com/caffeineduck/evalbox/internal/modstore"
)

const wasmPageSize = 64 << 10

// Config holds all configuration for evalbox.
type Config struct {
	TimeBudget    time.Duration           `mapstructure:"time_budget"`
	MemoryBudget  string                  `mapstructure:"memory_budget"`   // e.g. "256MiB"
	MaxTimeBudget time.Duration           `mapstructure:"max_time_budget"` // 0 = no ceiling
	MaxMemory     string                  `mapstructure:"max_memory"`      // "" = no ceiling
	OutputLimit   string                  `mapstructure:"output_limit"`
	ModuleDir     string                  `mapstructure:"module_dir"`
	Modules       map[string]ModuleConfig `mapstructure:"modules"`
	CacheDir      string                  `mapstructure:"cache_dir"`
	DiskCache     bool                    `mapstructure:"disk_cache"`
	LogLevel      string                  `mapstructure:"log_level"`
	Server        ServerConfig            `mapstructure:"server"`
}

// ModuleConfig locates one guest module.
type ModuleConfig struct {
	Path   string `mapstructure:"path"`   // overrides <module_dir>/<name>.wasm
	URL    string `mapstructure:"url"`    // used by "modules fetch"
	SHA256 string `mapstructure:"sha256"` // expected digest of the fetched file
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("time_budget", executor.DefaultTimeBudget)
	v.SetDefault("memory_budget", "256MiB")
	v.SetDefault("max_time_budget", time.Duration(0))
	v.SetDefault("max_memory", "")
	v.SetDefault("output_limit", "1MiB")
	v.SetDefault("module_dir", modstore.DefaultDir())
	v.SetDefault("cache_dir", executor.DefaultCacheDir())
	v.SetDefault("disk_cache", true)
	v.SetDefault("log_level", "warn")

	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.max_concurrent", 16)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("evalbox")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/evalbox")
		v.AddConfigPath("/etc/evalbox")
	}

	v.SetEnvPrefix("EVALBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	for key, val := range map[string]string{
		"memory_budget": c.MemoryBudget,
		"max_memory":    c.MaxMemory,
		"output_limit":  c.OutputLimit,
	} {
		if val == "" {
			continue
		}
		if _, err := humanize.ParseBytes(val); err != nil {
			return fmt.Errorf("config %s: %w", key, err)
		}
	}
	if n := parseSize(c.MaxMemory); n > 0 && n < wasmPageSize {
		return fmt.Errorf("config max_memory: %s is below one 64KiB page", c.MaxMemory)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func parseSize(s string) uint64 {
	if s == "" {
		return 0
	}
	n, _ := humanize.ParseBytes(s)
	return n
}

// Limits returns the default per-run limits.
func (c *Config) Limits() executor.Limits {
	return executor.Limits{
		TimeBudget:   c.TimeBudget,
		MemoryBudget: parseSize(c.MemoryBudget),
	}
}

// OutputLimitBytes is the output cap in bytes.
func (c *Config) OutputLimitBytes() int {
	return int(parseSize(c.OutputLimit))
}

// ExecutorOptions translates the configuration into executor options.
func (c *Config) ExecutorOptions(logger *slog.Logger) []executor.ExecutorOption {
	opts := []executor.ExecutorOption{
		executor.WithDefaultLimits(c.Limits()),
		executor.WithLogger(logger),
	}
	if n := c.OutputLimitBytes(); n > 0 {
		opts = append(opts, executor.WithDefaultOutputLimit(n))
	}
	if c.MaxTimeBudget > 0 {
		opts = append(opts, executor.WithMaxTimeBudget(c.MaxTimeBudget))
	}
	if pages := c.MaxMemoryPages(); pages > 0 {
		opts = append(opts, executor.WithMemoryLimit(pages))
	}
	if c.DiskCache {
		opts = append(opts, executor.WithDiskCache(c.CacheDir))
	}
	return opts
}

// MaxMemoryPages is max_memory in whole 64KiB pages, rounded down so the
// ceiling never exceeds the configured size. 0 means no ceiling.
func (c *Config) MaxMemoryPages() uint32 {
	return uint32(parseSize(c.MaxMemory) / wasmPageSize)
}

// Store returns the module store rooted at ModuleDir.
func (c *Config) Store() *modstore.Store {
	return &modstore.Store{Dir: c.ModuleDir}
}

// ModulePath returns the file the named guest module is read from.
func (c *Config) ModulePath(name string) string {
	if m, ok := c.Modules[name]; ok && m.Path != "" {
		return m.Path
	}
	return c.Store().Path(name)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config log_level: %w", err)
	}
	return level, nil
}

// Logger builds the text logger used by the CLI.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
