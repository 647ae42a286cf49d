package executor

// ABI identifies how a guest module receives program text and hands back its
// result envelope.
type ABI int

const (
	// ABIReactor guests export alloc and evaluate. The host writes the program
	// into memory returned by alloc and calls evaluate once.
	ABIReactor ABI = iota

	// ABICommand guests are WASI commands. The program arrives on stdin and the
	// envelope is written to stdout inside a result frame.
	ABICommand
)

func (a ABI) String() string {
	switch a {
	case ABIReactor:
		return "reactor"
	case ABICommand:
		return "command"
	default:
		return "unknown"
	}
}

// Language defines the interface for a WASM-based guest interpreter.
// Any module satisfying one of the ABIs can be plugged in; the executor never
// depends on a particular interpreter build.
type Language interface {
	// Name returns a unique identifier for this language (e.g., "python").
	// Used as the cache key for compiled modules.
	Name() string

	// ABI reports the entry point contract the module implements.
	ABI() ABI

	// Module loads the WASM binary for the interpreter from storage.
	Module() ([]byte, error)

	// Args returns the command-line arguments for ABICommand guests.
	// Reactor guests ignore it.
	Args() []string
}
