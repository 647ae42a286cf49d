// Package evalbox evaluates untrusted Python and JavaScript inside a
// WebAssembly sandbox and returns the value of the program's last
// expression.
//
// # Overview
//
// Every evaluation gets a fresh guest instance with no filesystem,
// network, clock or environment. A time budget and a memory budget bound
// each run, and the outcome is always one of a value, a guest error, an
// exceeded budget, a load error or a host fault.
//
// # Basic Usage
//
//	exec, _ := executor.New(executor.WithDiskCache())
//	defer exec.Close()
//
//	res := exec.Run(ctx, python.New(), "sum(range(10))",
//	    executor.WithTimeBudget(2*time.Second),
//	    executor.WithMemoryBudget(64<<20))
//	if res.Error != nil {
//	    // *executor.GuestError, *executor.ResourceExceededError, ...
//	}
//	fmt.Println(res.Value) // 45
//
// Interpreter modules are installed with "evalbox modules fetch" or placed
// in the module directory by hand.
//
// See the [executor], [language/python] and [language/javascript]
// packages for details.
package evalbox
