package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Executor manages the WASM runtime and compiled guest module caching.
// It is safe for concurrent use; every Run gets its own isolated instance.
type Executor struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	cfg     executorConfig
	modules map[string]*moduleEntry
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// moduleEntry is a per-language cache slot. It is filled exactly once; a
// failed load is remembered and never retried.
type moduleEntry struct {
	once     sync.Once
	compiled wazero.CompiledModule
	err      error
}

// New creates an Executor.
func New(opts ...ExecutorOption) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()

	var cache wazero.CompilationCache
	var err error

	if cfg.diskCache {
		cacheDir := cfg.cacheDir
		if cacheDir == "" {
			cacheDir = DefaultCacheDir()
		}
		cache, err = wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCustomSections(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		if cache != nil {
			cache.Close(ctx)
		}
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	e := &Executor{
		runtime: rt,
		cache:   cache,
		cfg:     cfg,
		modules: make(map[string]*moduleEntry),
	}

	for _, lang := range cfg.precompile {
		if _, err := e.Load(ctx, lang); err != nil {
			e.Close()
			return nil, fmt.Errorf("precompile %s: %w", lang.Name(), err)
		}
	}

	return e, nil
}

// Load compiles and validates the guest module for lang, or returns the
// cached result of an earlier attempt. Failures are *LoadError.
func (e *Executor) Load(ctx context.Context, lang Language) (wazero.CompiledModule, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	entry, ok := e.modules[lang.Name()]
	if !ok {
		entry = &moduleEntry{}
		e.modules[lang.Name()] = entry
	}
	e.mu.Unlock()

	entry.once.Do(func() {
		entry.compiled, entry.err = e.compile(context.WithoutCancel(ctx), lang)
		if entry.err != nil {
			e.cfg.logger.Error("guest module rejected", "language", lang.Name(), "error", entry.err)
		} else {
			e.cfg.logger.Debug("guest module loaded", "language", lang.Name(), "abi", lang.ABI())
		}
	})
	return entry.compiled, entry.err
}

func (e *Executor) compile(ctx context.Context, lang Language) (wazero.CompiledModule, error) {
	loadErr := func(err error) error {
		return &LoadError{Language: lang.Name(), Err: err}
	}

	bin, err := lang.Module()
	if err != nil {
		return nil, loadErr(fmt.Errorf("read module: %w", err))
	}
	if len(bin) == 0 {
		return nil, loadErr(errors.New("module is empty"))
	}

	compiled, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, loadErr(fmt.Errorf("compile: %w", err))
	}
	if err := validateModule(compiled, lang.ABI()); err != nil {
		compiled.Close(ctx)
		return nil, loadErr(err)
	}
	return compiled, nil
}

// Run evaluates source in a fresh instance of lang's guest and returns the
// value of its final expression, or the reason there is none.
func (e *Executor) Run(ctx context.Context, lang Language, source string, opts ...Option) Result {
	start := time.Now()
	id := uuid.NewString()

	cfg := e.defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	limits := e.clamp(cfg.limits)

	result := Result{ID: id, State: StateCreated}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		result.Error = ErrClosed
		result.State = StateTornDown
		return result
	}
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	compiled, err := e.Load(ctx, lang)
	if err != nil {
		result.Error = err
		result.State = StateTornDown
		result.Duration = time.Since(start)
		e.logRun(lang, result)
		return result
	}

	gov, runCtx := newGovernor(ctx, limits)
	ec := newExecContext(id, lang, e.runtime, compiled, gov, cfg.outputLimit, e.cfg.logger)

	val, err := ec.execute(runCtx, source)
	final := ec.State()
	ec.teardown(context.Background())

	result.Value = val
	result.Error = err
	result.State = final
	result.Output = ec.output.String()
	result.Truncated = ec.output.Truncated()
	result.Duration = time.Since(start)

	e.logRun(lang, result, "peak_memory", humanize.IBytes(gov.peak.Load()))
	return result
}

// clamp applies defaults to zero limits and caps them at the executor-wide
// ceilings.
func (e *Executor) clamp(l Limits) Limits {
	if l.TimeBudget <= 0 {
		l.TimeBudget = e.cfg.defaults.TimeBudget
	}
	if l.MemoryBudget == 0 {
		l.MemoryBudget = e.cfg.defaults.MemoryBudget
	}
	if ceiling := e.cfg.maxTimeBudget; ceiling > 0 && l.TimeBudget > ceiling {
		l.TimeBudget = ceiling
	}
	if e.cfg.memoryLimitPages > 0 {
		if ceiling := uint64(e.cfg.memoryLimitPages) * wasmPageSize; l.MemoryBudget > ceiling {
			l.MemoryBudget = ceiling
		}
	}
	return l
}

func (e *Executor) logRun(lang Language, r Result, extra ...any) {
	attrs := append([]any{
		"invocation", r.ID,
		"language", lang.Name(),
		"outcome", r.Outcome(),
		"state", r.State,
		"duration", r.Duration,
	}, extra...)

	if r.Outcome() == OutcomeHostFault {
		e.cfg.logger.Error("invocation failed", append(attrs, "error", r.Error)...)
		return
	}
	e.cfg.logger.Debug("invocation finished", attrs...)
}

// Close waits for in-flight runs and releases all resources held by the
// Executor. Later Runs fail with ErrClosed.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.wg.Wait()

	ctx := context.Background()

	var errs []error
	if err := e.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.cache != nil {
		if err := e.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultCacheDir is where WithDiskCache keeps compiled modules when no
// directory is given.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "evalbox")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "evalbox")
	}
	return filepath.Join(os.TempDir(), "evalbox-cache")
}
