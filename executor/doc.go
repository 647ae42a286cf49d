// Package executor evaluates untrusted programs inside WebAssembly guests and
// reports how each evaluation ended.
//
// # Overview
//
// An [Executor] owns one wazero runtime. Guest interpreter modules are
// compiled and validated once per [Language] and cached. Every call to
// [Executor.Run] instantiates a fresh, isolated copy of the guest, hands it
// the program text, collects the value of its final expression and tears the
// instance down again. Nothing survives from one run to the next.
//
// # Basic Usage
//
//	exec, err := executor.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	result := exec.Run(ctx, python.New(), "sum(range(10))")
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
//	fmt.Println(result.Value) // 45
//
// # Outcomes
//
// A run ends in exactly one way, see [Result.Outcome]:
//
//   - a [Value]
//   - a [*GuestError] raised by the program, a value the guest cannot
//     serialize, or a trap
//   - a [*ResourceExceededError] when the time or memory budget is hit
//   - a [*HostFault] when the sandbox itself misbehaved
//   - a [*LoadError] when the guest module is missing or incompatible
//
// # Limits
//
// Each run is bounded by a wall-clock time budget and a linear memory budget:
//
//	result := exec.Run(ctx, python.New(), code,
//	    executor.WithTimeBudget(2*time.Second),
//	    executor.WithMemoryBudget(64<<20),
//	)
//
// Guests get no filesystem, no environment, no network and deterministic
// clocks and randomness.
//
// # Language Interface
//
// To plug in a new guest, implement the [Language] interface with a module
// that speaks [ABIReactor] or [ABICommand].
// See [github.com/caffeineduck/evalbox/language/python] for an example.
package executor
