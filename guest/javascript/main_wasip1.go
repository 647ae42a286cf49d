//go:build wasip1

package main

import "unsafe"

var (
	// pinned keeps buffers handed to the host reachable.
	pinned = map[uint32][]byte{}
	result []byte
)

//go:wasmexport alloc
func alloc(size uint32) uint32 {
	buf := make([]byte, max(size, 1))
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))
	pinned[ptr] = buf
	return ptr
}

//go:wasmexport evaluate
func evaluate(ptr, n uint32) uint64 {
	src := string(pinned[ptr][:n])
	delete(pinned, ptr)

	result = evalEnvelope(src)
	out := uint32(uintptr(unsafe.Pointer(&result[0])))
	return uint64(out)<<32 | uint64(len(result))
}

func main() {}
