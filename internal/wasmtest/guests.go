package wasmtest

// Opcodes used by the guests below.
const (
	Unreachable byte = 0x00
	Loop        byte = 0x03
	If          byte = 0x04
	End         byte = 0x0b
	Br          byte = 0x0c
	Call        byte = 0x10
	Drop        byte = 0x1a
	LocalGet    byte = 0x20
	I32Load     byte = 0x28
	I32Store    byte = 0x36
	MemoryGrow  byte = 0x40
	I32Const    byte = 0x41
	I64Const    byte = 0x42
	I32Eq       byte = 0x46
	I64Or       byte = 0x84
	I64Shl      byte = 0x86
	I64ExtendU  byte = 0xad
	BlockVoid   byte = 0x40
)

// BufferAddr is where reactor guests place submitted programs.
const BufferAddr = 1024

var (
	allocParams    = []ValType{I32}
	allocResults   = []ValType{I32}
	evaluateParams = []ValType{I32, I32}
	evalResults    = []ValType{I64}
)

func i32(v int32) []byte { return append([]byte{I32Const}, S64(int64(v))...) }
func i64(v int64) []byte { return append([]byte{I64Const}, S64(v)...) }

func cat(parts ...[]byte) []byte {
	var b []byte
	for _, p := range parts {
		b = append(b, p...)
	}
	return b
}

// alloc always hands out BufferAddr.
func alloc() Func {
	return Func{Export: "alloc", Params: allocParams, Results: allocResults, Body: i32(BufferAddr)}
}

// echoBody returns (ptr << 32) | len, so the program text is the envelope.
var echoBody = []byte{
	LocalGet, 0, I64ExtendU,
	I64Const, 32, I64Shl,
	LocalGet, 1, I64ExtendU,
	I64Or,
}

func reactor(evaluate []byte, custom ...Custom) []byte {
	return Module{
		MemoryPages: 1,
		Funcs: []Func{
			alloc(),
			{Export: "evaluate", Params: evaluateParams, Results: evalResults, Body: evaluate},
		},
		Custom: custom,
	}.Encode()
}

// Echo is a reactor whose result envelope is the submitted program itself:
// submitting "v[1, 2]" yields the list [1, 2], "eValueError: bad" a runtime
// error.
func Echo() []byte { return reactor(echoBody) }

// EchoWithABI is Echo carrying an evalbox.abi section with the given version.
func EchoWithABI(version string) []byte {
	return reactor(echoBody, Custom{Name: "evalbox.abi", Data: []byte(version)})
}

// Spin never returns from evaluate.
func Spin() []byte {
	return reactor([]byte{Loop, BlockVoid, Br, 0, End, Unreachable})
}

// Hog grows memory sixteen pages at a time until growth is refused, then
// traps.
func Hog() []byte {
	return reactor(cat(
		[]byte{Loop, BlockVoid},
		i32(16), []byte{MemoryGrow, 0x00},
		i32(-1), []byte{I32Eq, If, BlockVoid, Unreachable, End},
		[]byte{Br, 0, End, Unreachable},
	))
}

// GrowThenEcho attempts one oversized growth, ignores the refusal and then
// behaves like Echo.
func GrowThenEcho(pages int32) []byte {
	return reactor(cat(i32(pages), []byte{MemoryGrow, 0x00, Drop}, echoBody))
}

// Trap hits unreachable inside evaluate.
func Trap() []byte { return reactor([]byte{Unreachable}) }

// BadAlloc returns a pointer past the end of memory from alloc.
func BadAlloc() []byte {
	return Module{
		MemoryPages: 1,
		Funcs: []Func{
			{Export: "alloc", Params: allocParams, Results: allocResults, Body: i32(-256)},
			{Export: "evaluate", Params: evaluateParams, Results: evalResults, Body: i64(0)},
		},
	}.Encode()
}

// BadEnvelope locates its result envelope outside guest memory.
func BadEnvelope() []byte {
	return reactor(i64(0x7fff0000<<32 | 16))
}

// BigMemory declares a minimum memory of the given number of pages.
func BigMemory(pages uint32) []byte {
	return Module{
		MemoryPages: pages,
		Funcs: []Func{
			alloc(),
			{Export: "evaluate", Params: evaluateParams, Results: evalResults, Body: echoBody},
		},
	}.Encode()
}

// WrongSignature exports evaluate as (i32) -> i32.
func WrongSignature() []byte {
	return Module{
		MemoryPages: 1,
		Funcs: []Func{
			alloc(),
			{Export: "evaluate", Params: allocParams, Results: allocResults, Body: []byte{LocalGet, 0}},
		},
	}.Encode()
}

// MissingEvaluate exports only alloc.
func MissingEvaluate() []byte {
	return Module{MemoryPages: 1, Funcs: []Func{alloc()}}.Encode()
}

// NoMemory is a reactor without a memory.
func NoMemory() []byte {
	return Module{
		NoMemory: true,
		Funcs: []Func{
			alloc(),
			{Export: "evaluate", Params: evaluateParams, Results: evalResults, Body: i64(0)},
		},
	}.Encode()
}

// ForeignImport imports a function from outside WASI.
func ForeignImport() []byte {
	return Module{
		MemoryPages: 1,
		Imports:     []Import{{Module: "env", Name: "open_socket", Results: []ValType{I32}}},
		Funcs: []Func{
			alloc(),
			{Export: "evaluate", Params: evaluateParams, Results: evalResults, Body: echoBody},
		},
	}.Encode()
}

var wasiIO = []ValType{I32, I32, I32, I32}

// CommandEcho is a WASI command that copies up to 60000 bytes of stdin to
// stdout. Submitting "hi\x00EVALBOX_RESULT:v1\x00" prints "hi" and yields 1.
func CommandEcho() []byte { return commandCopy(1, nil) }

// CommandAbort copies stdin to stderr and then traps, the way a guest
// runtime reports a failed allocation before aborting.
func CommandAbort() []byte { return commandCopy(2, []byte{Unreachable}) }

func commandCopy(fd int32, tail []byte) []byte {
	return Module{
		MemoryPages: 2,
		Imports: []Import{
			{Module: "wasi_snapshot_preview1", Name: "fd_read", Params: wasiIO, Results: []ValType{I32}},
			{Module: "wasi_snapshot_preview1", Name: "fd_write", Params: wasiIO, Results: []ValType{I32}},
		},
		Funcs: []Func{{
			Export: "_start",
			Body: cat(
				// iovec{buf: BufferAddr, len: 60000} at 0
				i32(0), i32(BufferAddr), []byte{I32Store, 2, 0},
				i32(4), i32(60000), []byte{I32Store, 2, 0},
				// fd_read(stdin, iovs=0, 1, nread=16)
				i32(0), i32(0), i32(1), i32(16), []byte{Call, 0, Drop},
				// iovec.len = nread
				i32(4), i32(16), []byte{I32Load, 2, 0}, []byte{I32Store, 2, 0},
				// fd_write(fd, iovs=0, 1, nwritten=20)
				i32(fd), i32(0), i32(1), i32(20), []byte{Call, 1, Drop},
				tail,
			),
		}},
	}.Encode()
}

// CommandExit is a WASI command that exits with code.
func CommandExit(code int32) []byte {
	return Module{
		MemoryPages: 1,
		Imports: []Import{
			{Module: "wasi_snapshot_preview1", Name: "proc_exit", Params: []ValType{I32}},
		},
		Funcs: []Func{{
			Export: "_start",
			Body:   cat(i32(code), []byte{Call, 0}),
		}},
	}.Encode()
}
