package executor

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// abiSection is the custom section a guest may use to declare the ABI version
// it was built against.
const abiSection = "evalbox.abi"

// abiConstraint is the range of guest ABI versions this host speaks.
var abiConstraint = mustConstraint("^1")

var errNoMemory = errors.New(`missing export "memory"`)

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

type signature struct {
	params  []api.ValueType
	results []api.ValueType
}

func (s signature) String() string {
	return fmt.Sprintf("(%s) -> (%s)", typeNames(s.params), typeNames(s.results))
}

func typeNames(ts []api.ValueType) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}

var (
	sigAlloc    = signature{[]api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}}
	sigEvaluate = signature{[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}}
	sigNullary  = signature{}
)

// validateModule checks that a compiled guest implements abi and imports
// nothing beyond WASI.
func validateModule(compiled wazero.CompiledModule, abi ABI) error {
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		if module != wasi_snapshot_preview1.ModuleName {
			return fmt.Errorf("import %s.%s not permitted", module, name)
		}
	}
	for _, def := range compiled.ImportedMemories() {
		module, name, _ := def.Import()
		return fmt.Errorf("memory import %s.%s not permitted", module, name)
	}

	if _, ok := compiled.ExportedMemories()["memory"]; !ok {
		return errNoMemory
	}

	exports := compiled.ExportedFunctions()
	switch abi {
	case ABIReactor:
		if err := requireExport(exports, "alloc", sigAlloc); err != nil {
			return err
		}
		if err := requireExport(exports, "evaluate", sigEvaluate); err != nil {
			return err
		}
		if _, ok := exports["_initialize"]; ok {
			if err := requireExport(exports, "_initialize", sigNullary); err != nil {
				return err
			}
		}
	case ABICommand:
		if err := requireExport(exports, "_start", sigNullary); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown abi %d", abi)
	}

	return checkABIVersion(compiled.CustomSections())
}

func requireExport(exports map[string]api.FunctionDefinition, name string, want signature) error {
	def, ok := exports[name]
	if !ok {
		return fmt.Errorf("missing export %q", name)
	}
	got := signature{def.ParamTypes(), def.ResultTypes()}
	if !slices.Equal(got.params, want.params) || !slices.Equal(got.results, want.results) {
		return fmt.Errorf("export %q has signature %s, want %s", name, got, want)
	}
	return nil
}

func checkABIVersion(sections []api.CustomSection) error {
	for _, s := range sections {
		if s.Name() != abiSection {
			continue
		}
		raw := strings.TrimSpace(string(s.Data()))
		v, err := semver.NewVersion(raw)
		if err != nil {
			return fmt.Errorf("parse abi version %q: %w", raw, err)
		}
		if !abiConstraint.Check(v) {
			return fmt.Errorf("abi version %s not supported (want %s)", v, abiConstraint)
		}
	}
	return nil
}
