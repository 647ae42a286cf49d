// Package wasmtest assembles small guest modules in the WebAssembly binary
// format. They speak the evalbox guest ABI without an interpreter, so the
// executor can be tested without real language builds.
package wasmtest

import "bytes"

// ValType is a WebAssembly value type.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
)

// Import is an imported function.
type Import struct {
	Module, Name string
	Params       []ValType
	Results      []ValType
}

// Func is a function defined by the module. Body is the instruction
// sequence without the trailing end opcode.
type Func struct {
	Export  string
	Params  []ValType
	Results []ValType
	Locals  []ValType
	Body    []byte
}

// Custom is a custom section.
type Custom struct {
	Name string
	Data []byte
}

// Module describes a module with at most one memory, exported as "memory"
// unless NoMemory is set.
type Module struct {
	Imports     []Import
	Funcs       []Func
	MemoryPages uint32
	NoMemory    bool
	Custom      []Custom
}

const (
	secCustom   = 0
	secType     = 1
	secImport   = 2
	secFunction = 3
	secMemory   = 5
	secExport   = 7
	secCode     = 10

	kindFunc   = 0x00
	kindMemory = 0x02
)

// Encode returns the binary form of m.
func (m Module) Encode() []byte {
	var out bytes.Buffer
	out.Write([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})

	// One type per function; imports come first in the index space.
	var types [][]byte
	for _, imp := range m.Imports {
		types = append(types, funcType(imp.Params, imp.Results))
	}
	for _, f := range m.Funcs {
		types = append(types, funcType(f.Params, f.Results))
	}
	writeSection(&out, secType, vec(types))

	if len(m.Imports) > 0 {
		var entries [][]byte
		for i, imp := range m.Imports {
			var e []byte
			e = append(e, name(imp.Module)...)
			e = append(e, name(imp.Name)...)
			e = append(e, kindFunc)
			e = append(e, U32(uint32(i))...)
			entries = append(entries, e)
		}
		writeSection(&out, secImport, vec(entries))
	}

	var funcs [][]byte
	for i := range m.Funcs {
		funcs = append(funcs, U32(uint32(len(m.Imports)+i)))
	}
	writeSection(&out, secFunction, vec(funcs))

	if !m.NoMemory {
		limits := append([]byte{0x00}, U32(m.MemoryPages)...)
		writeSection(&out, secMemory, vec([][]byte{limits}))
	}

	var exports [][]byte
	if !m.NoMemory {
		exports = append(exports, append(name("memory"), kindMemory, 0x00))
	}
	for i, f := range m.Funcs {
		if f.Export == "" {
			continue
		}
		e := append(name(f.Export), kindFunc)
		e = append(e, U32(uint32(len(m.Imports)+i))...)
		exports = append(exports, e)
	}
	writeSection(&out, secExport, vec(exports))

	var codes [][]byte
	for _, f := range m.Funcs {
		var body []byte
		var locals [][]byte
		for _, l := range f.Locals {
			locals = append(locals, []byte{0x01, byte(l)})
		}
		body = append(body, vec(locals)...)
		body = append(body, f.Body...)
		body = append(body, End)
		codes = append(codes, append(U32(uint32(len(body))), body...))
	}
	writeSection(&out, secCode, vec(codes))

	for _, c := range m.Custom {
		writeSection(&out, secCustom, append(name(c.Name), c.Data...))
	}

	return out.Bytes()
}

func funcType(params, results []ValType) []byte {
	b := []byte{0x60}
	b = append(b, U32(uint32(len(params)))...)
	for _, p := range params {
		b = append(b, byte(p))
	}
	b = append(b, U32(uint32(len(results)))...)
	for _, r := range results {
		b = append(b, byte(r))
	}
	return b
}

func name(s string) []byte {
	return append(U32(uint32(len(s))), s...)
}

func vec(items [][]byte) []byte {
	b := U32(uint32(len(items)))
	for _, it := range items {
		b = append(b, it...)
	}
	return b
}

func writeSection(out *bytes.Buffer, id byte, content []byte) {
	out.WriteByte(id)
	out.Write(U32(uint32(len(content))))
	out.Write(content)
}

// U32 encodes v as unsigned LEB128.
func U32(v uint32) []byte {
	var b []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if v == 0 {
			return b
		}
	}
}

// S64 encodes v as signed LEB128.
func S64(v int64) []byte {
	var b []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		b = append(b, c)
		if done {
			return b
		}
	}
}
