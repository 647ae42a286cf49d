// Package python provides the Python language adapter for evalbox.
//
// The guest is a WASI build of a Python interpreter run as a command. An
// embedded prelude reads the program from stdin, evaluates it and writes the
// value of the final expression back as a result frame.
package python

import (
	_ "embed"
	"os"

	"github.com/caffeineduck/evalbox/executor"
	"github.com/caffeineduck/evalbox/internal/modstore"
)

//go:embed prelude.py
var prelude string

// Python implements the executor.Language interface for Python execution.
type Python struct {
	path string
}

// Option configures the adapter.
type Option func(*Python)

// WithModulePath reads the interpreter from path instead of the module store.
func WithModulePath(path string) Option {
	return func(p *Python) {
		if path != "" {
			p.path = path
		}
	}
}

// New returns a Python language adapter.
func New(opts ...Option) *Python {
	p := &Python{path: modstore.Default().Path("python")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "python".
func (p *Python) Name() string {
	return "python"
}

// ABI returns executor.ABICommand.
func (p *Python) ABI() executor.ABI {
	return executor.ABICommand
}

// Path is where the interpreter module is read from.
func (p *Python) Path() string {
	return p.path
}

// Module reads the interpreter WASM binary.
func (p *Python) Module() ([]byte, error) {
	return os.ReadFile(p.path)
}

// Args runs the prelude with -c.
func (p *Python) Args() []string {
	return []string{"-c", prelude}
}
