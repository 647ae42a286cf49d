// Package javascript provides the JavaScript language adapter for evalbox.
// The guest is the reactor built from guest/javascript.
package javascript

import (
	"os"

	"github.com/caffeineduck/evalbox/executor"
	"github.com/caffeineduck/evalbox/internal/modstore"
)

// JavaScript implements the executor.Language interface for JavaScript execution.
type JavaScript struct {
	path string
}

// Option configures the adapter.
type Option func(*JavaScript)

// WithModulePath reads the guest from path instead of the module store.
func WithModulePath(path string) Option {
	return func(j *JavaScript) {
		if path != "" {
			j.path = path
		}
	}
}

// New returns a JavaScript language adapter.
func New(opts ...Option) *JavaScript {
	j := &JavaScript{path: modstore.Default().Path("javascript")}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Name returns "javascript".
func (j *JavaScript) Name() string {
	return "javascript"
}

// ABI returns executor.ABIReactor.
func (j *JavaScript) ABI() executor.ABI {
	return executor.ABIReactor
}

// Path is where the guest module is read from.
func (j *JavaScript) Path() string {
	return j.path
}

// Module reads the guest WASM binary.
func (j *JavaScript) Module() ([]byte, error) {
	return os.ReadFile(j.path)
}

// Args is unused by reactor guests.
func (j *JavaScript) Args() []string {
	return nil
}
