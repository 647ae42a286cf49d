// Package wasm plugs an arbitrary guest module into the executor. Use it for
// custom interpreter builds that implement one of the evalbox guest ABIs.
package wasm

import (
	"os"

	"github.com/caffeineduck/evalbox/executor"
)

// Guest is a Language backed by module bytes or a module file.
type Guest struct {
	name string
	abi  executor.ABI
	bin  []byte
	path string
	args []string
}

// New returns a guest named name that runs bin under abi. For command guests
// args follow the program name on the guest's command line.
func New(name string, bin []byte, abi executor.ABI, args ...string) *Guest {
	return &Guest{name: name, abi: abi, bin: bin, args: args}
}

// FromFile is like New but reads the module from path when it is loaded.
func FromFile(name, path string, abi executor.ABI, args ...string) *Guest {
	return &Guest{name: name, abi: abi, path: path, args: args}
}

func (g *Guest) Name() string      { return g.name }
func (g *Guest) ABI() executor.ABI { return g.abi }
func (g *Guest) Args() []string    { return g.args }

// Module returns the module bytes.
func (g *Guest) Module() ([]byte, error) {
	if g.path != "" {
		return os.ReadFile(g.path)
	}
	return g.bin, nil
}
