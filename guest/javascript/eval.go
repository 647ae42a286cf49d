// Command javascript is the JavaScript guest: a goja interpreter compiled to a
// WASI reactor that implements the evalbox guest ABI.
//
// Build with:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o javascript.wasm ./guest/javascript
package main

import (
	"math/rand"

	"github.com/dop251/goja"
)

// Envelope tags.
const (
	tagValue       = 'v'
	tagError       = 'e'
	tagUnsupported = 'u'
)

// evalEnvelope runs src as a script and encodes its completion value.
func evalEnvelope(src string) []byte {
	vm := goja.New()
	vm.SetRandSource(rand.New(rand.NewSource(1)).Float64)

	v, err := vm.RunString(src)
	if err != nil {
		return envelope(tagError, describe(vm, err))
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return envelope(tagValue, "null")
	}
	if _, ok := goja.AssertFunction(v); ok {
		return envelope(tagUnsupported, "function")
	}
	if _, ok := v.(*goja.Symbol); ok {
		return envelope(tagUnsupported, "symbol")
	}

	stringify, _ := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	out, err := stringify(goja.Undefined(), v)
	if err != nil {
		return envelope(tagUnsupported, describe(vm, err))
	}
	if goja.IsUndefined(out) {
		return envelope(tagUnsupported, v.String())
	}
	return envelope(tagValue, out.String())
}

// describe formats a failure as "<name>: <message>".
func describe(vm *goja.Runtime, err error) string {
	switch e := err.(type) {
	case *goja.CompilerSyntaxError:
		return "SyntaxError: " + e.Message
	case *goja.Exception:
		val := e.Value()
		if val == nil {
			return e.Error()
		}
		if obj, ok := val.(*goja.Object); ok {
			name := obj.Get("name")
			msg := obj.Get("message")
			if name != nil && !goja.IsUndefined(name) {
				if msg == nil || goja.IsUndefined(msg) || msg.String() == "" {
					return name.String()
				}
				return name.String() + ": " + msg.String()
			}
		}
		return "Error: " + val.String()
	}
	return err.Error()
}

func envelope(tag byte, payload string) []byte {
	out := make([]byte, 0, 1+len(payload))
	out = append(out, tag)
	return append(out, payload...)
}
