package executor

import (
	"io"
	"log/slog"
	"time"
)

// Default ceilings applied when a run does not set its own.
const (
	DefaultTimeBudget   = 30 * time.Second
	DefaultMemoryBudget = 256 << 20
	DefaultOutputLimit  = 1 << 20
)

// Limits are the two ceilings the governor enforces on a single run.
// Zero values select the executor defaults.
type Limits struct {
	TimeBudget   time.Duration
	MemoryBudget uint64
}

// Option configures a single Run.
type Option func(*runConfig)

type runConfig struct {
	limits      Limits
	outputLimit int
}

func (e *Executor) defaultRunConfig() runConfig {
	return runConfig{
		limits:      e.cfg.defaults,
		outputLimit: e.cfg.outputLimit,
	}
}

// WithTimeBudget sets the maximum wall-clock time the guest may compute.
func WithTimeBudget(d time.Duration) Option {
	return func(c *runConfig) {
		c.limits.TimeBudget = d
	}
}

// WithMemoryBudget sets the maximum size in bytes of the guest's linear memory.
func WithMemoryBudget(bytes uint64) Option {
	return func(c *runConfig) {
		c.limits.MemoryBudget = bytes
	}
}

// WithLimits sets both ceilings at once. Zero fields keep the current value.
func WithLimits(l Limits) Option {
	return func(c *runConfig) {
		if l.TimeBudget > 0 {
			c.limits.TimeBudget = l.TimeBudget
		}
		if l.MemoryBudget > 0 {
			c.limits.MemoryBudget = l.MemoryBudget
		}
	}
}

// WithOutputLimit caps how many bytes of guest stdout/stderr are kept.
func WithOutputLimit(n int) Option {
	return func(c *runConfig) {
		c.outputLimit = n
	}
}

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	diskCache        bool
	cacheDir         string
	precompile       []Language // Languages to precompile at startup
	memoryLimitPages uint32     // Hard ceiling in 64KB pages, 0 = none
	maxTimeBudget    time.Duration
	defaults         Limits
	outputLimit      int
	logger           *slog.Logger
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		defaults: Limits{
			TimeBudget:   DefaultTimeBudget,
			MemoryBudget: DefaultMemoryBudget,
		},
		outputLimit: DefaultOutputLimit,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithDiskCache enables persistent compilation cache for faster CLI startup.
// Optionally provide a custom directory; otherwise uses ~/.cache/evalbox or XDG_CACHE_HOME/evalbox.
//
// Examples:
//
//	executor.New(executor.WithDiskCache())            // default dir
//	executor.New(executor.WithDiskCache("/tmp/cache")) // custom dir
func WithDiskCache(dir ...string) ExecutorOption {
	return func(c *executorConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithPrecompile loads and validates the specified languages at Executor
// creation time. This moves the compilation cost to startup rather than first
// execution, and surfaces a LoadError before any code is accepted.
func WithPrecompile(langs ...Language) ExecutorOption {
	return func(c *executorConfig) {
		c.precompile = langs
	}
}

// WithMemoryLimit sets the hard ceiling on memory available to any guest.
// Each page is 64KB. Per-run memory budgets above this are clamped.
//
// Default is 0 (no ceiling beyond the run's own budget).
func WithMemoryLimit(pages uint32) ExecutorOption {
	return func(c *executorConfig) {
		c.memoryLimitPages = pages
	}
}

// WithMaxTimeBudget sets the hard ceiling on the per-run time budget.
func WithMaxTimeBudget(d time.Duration) ExecutorOption {
	return func(c *executorConfig) {
		c.maxTimeBudget = d
	}
}

// WithDefaultLimits replaces the limits used when a run sets none.
func WithDefaultLimits(l Limits) ExecutorOption {
	return func(c *executorConfig) {
		if l.TimeBudget > 0 {
			c.defaults.TimeBudget = l.TimeBudget
		}
		if l.MemoryBudget > 0 {
			c.defaults.MemoryBudget = l.MemoryBudget
		}
	}
}

// WithDefaultOutputLimit sets the output cap used when a run sets none.
func WithDefaultOutputLimit(n int) ExecutorOption {
	return func(c *executorConfig) {
		c.outputLimit = n
	}
}

// WithLogger sets the logger used for invocation events.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(c *executorConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Memory limit constants for convenience.
const (
	MemoryLimit1MB   uint32 = 16    // 1 MB
	MemoryLimit16MB  uint32 = 256   // 16 MB
	MemoryLimit64MB  uint32 = 1024  // 64 MB
	MemoryLimit256MB uint32 = 4096  // 256 MB
	MemoryLimit1GB   uint32 = 16384 // 1 GB
)

const wasmPageSize = 65536
