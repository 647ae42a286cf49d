// Package bench measures evalbox start-up and per-evaluation cost.
//
// Run with: go test -v -run=Test ./bench/
// Benchmarks: go test -bench=. -benchtime=3x ./bench/
//
// Interpreter benchmarks need the modules installed (evalbox modules fetch)
// and are skipped otherwise. The echo guest benchmarks isolate the cost of
// the sandbox itself.
package bench

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/caffeineduck/evalbox/executor"
	"github.com/caffeineduck/evalbox/internal/wasmtest"
	"github.com/caffeineduck/evalbox/language/python"
	"github.com/caffeineduck/evalbox/language/wasm"
)

var echo = wasm.New("echo", wasmtest.Echo(), executor.ABIReactor)

func pythonOrSkip(tb testing.TB) executor.Language {
	tb.Helper()
	lang := python.New(python.WithModulePath(os.Getenv("EVALBOX_PYTHON_WASM")))
	if _, err := os.Stat(lang.Path()); err != nil {
		tb.Skipf("python module not installed at %s", lang.Path())
	}
	return lang
}

// --- Sandbox overhead: echo guest ---

func BenchmarkEcho_ColdStart(b *testing.B) {
	for i := 0; i < b.N; i++ {
		e, _ := executor.New()
		e.Run(context.Background(), echo, "v1")
		e.Close()
	}
}

func BenchmarkEcho_WarmStart(b *testing.B) {
	e, _ := executor.New(executor.WithPrecompile(echo))
	defer e.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Run(context.Background(), echo, "v1")
	}
}

func BenchmarkEcho_Parallel(b *testing.B) {
	e, _ := executor.New(executor.WithPrecompile(echo))
	defer e.Close()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			e.Run(context.Background(), echo, `v{"a": [1, 2, 3]}`)
		}
	})
}

// --- Python interpreter ---

func BenchmarkPython_WarmStart(b *testing.B) {
	lang := pythonOrSkip(b)
	e, _ := executor.New(executor.WithPrecompile(lang))
	defer e.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Run(context.Background(), lang, "1 + 1")
	}
}

func BenchmarkPython_WarmStart_Computation(b *testing.B) {
	lang := pythonOrSkip(b)
	e, _ := executor.New(executor.WithPrecompile(lang))
	defer e.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Run(context.Background(), lang, "sum(i*i for i in range(1000))")
	}
}

func BenchmarkNative_Python(b *testing.B) {
	if _, err := exec.LookPath("python3"); err != nil {
		b.Skip("python3 not available")
	}
	for i := 0; i < b.N; i++ {
		exec.Command("python3", "-c", "1 + 1").Run()
	}
}

// =============================================================================
// COMPARISON - human readable output
// =============================================================================

func measure(runs int, fn func()) time.Duration {
	var total time.Duration
	for i := 0; i < runs; i++ {
		start := time.Now()
		fn()
		total += time.Since(start)
	}
	return total / time.Duration(runs)
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
}

func TestComparison(t *testing.T) {
	type row struct {
		name       string
		cold, warm time.Duration
	}
	var rows []row
	const runs = 5

	add := func(name string, lang executor.Language, source string) {
		e, err := executor.New()
		if err != nil {
			t.Fatal(err)
		}
		defer e.Close()

		cold := measure(1, func() { e.Run(context.Background(), lang, source) })
		warm := measure(runs, func() { e.Run(context.Background(), lang, source) })
		rows = append(rows, row{name, cold, warm})
	}

	add("evalbox echo guest", echo, "v1")
	if lang := python.New(python.WithModulePath(os.Getenv("EVALBOX_PYTHON_WASM"))); fileExists(lang.Path()) {
		add("evalbox python", lang, "1 + 1")
	}
	if _, err := exec.LookPath("python3"); err == nil {
		cmd := func() { exec.Command("python3", "-c", "1 + 1").Run() }
		rows = append(rows, row{"native python3 (no isolation)", measure(1, cmd), measure(runs, cmd)})
	}

	t.Logf("Platform: %s/%s, CPUs: %d", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	t.Logf("%-32s %10s %10s", "Runtime", "Cold", "Warm")
	for _, r := range rows {
		t.Logf("%-32s %10s %10s", r.name, formatDuration(r.cold), formatDuration(r.warm))
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// =============================================================================
// MEMORY
// =============================================================================

func TestMemoryUsage(t *testing.T) {
	var m runtime.MemStats

	runtime.GC()
	runtime.ReadMemStats(&m)
	before := m.Alloc

	e, _ := executor.New()
	for i := 0; i < 50; i++ {
		e.Run(context.Background(), echo, "v[1, 2, 3]")
	}

	runtime.ReadMemStats(&m)
	after := m.Alloc
	e.Close()

	runtime.GC()
	runtime.ReadMemStats(&m)

	t.Logf("Heap before: %s", humanize.IBytes(before))
	t.Logf("Heap after 50 runs: %s", humanize.IBytes(after))
	t.Logf("Heap after GC: %s", humanize.IBytes(m.Alloc))
}

// =============================================================================
// DISK CACHE (simulates repeated CLI invocations)
// =============================================================================

func TestDiskCacheBenefit(t *testing.T) {
	cacheDir := t.TempDir()

	var lang executor.Language = echo
	source := "v1"
	if py := python.New(python.WithModulePath(os.Getenv("EVALBOX_PYTHON_WASM"))); fileExists(py.Path()) {
		lang, source = py, "1"
	}

	var times []time.Duration
	for i := 0; i < 5; i++ {
		start := time.Now()
		e, err := executor.New(executor.WithDiskCache(cacheDir))
		if err != nil {
			t.Fatal(err)
		}
		e.Run(context.Background(), lang, source)
		e.Close()
		times = append(times, time.Since(start))
	}

	for i, d := range times {
		t.Logf("invocation %d (%s): %s", i+1, lang.Name(), formatDuration(d))
	}
}
