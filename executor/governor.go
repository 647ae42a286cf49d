package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/sys"
)

// governor enforces the time and memory ceilings of one run.
//
// Time is enforced by the run context: the runtime closes the module when it
// is done and the guest stops at its next function entry or loop back-edge.
// Memory is enforced by the allocator wazero uses for the guest's linear
// memory, which refuses to grow past the budget.
type governor struct {
	limits  Limits
	cancel  context.CancelFunc
	runCtx  context.Context
	parent  context.Context
	refused atomic.Bool
	peak    atomic.Uint64
	// allocFailed is set when the guest runtime reported a failed
	// allocation on stderr, typically right before it aborts.
	allocFailed atomic.Bool

	mu   sync.Mutex
	mems []*meteredMemory
}

// newGovernor derives the context a run executes under.
func newGovernor(parent context.Context, limits Limits) (*governor, context.Context) {
	ctx, cancel := context.WithTimeoutCause(parent, limits.TimeBudget, ErrTimeBudget)
	g := &governor{limits: limits, cancel: cancel, runCtx: ctx, parent: parent}
	return g, experimental.WithMemoryAllocator(ctx, g)
}

// stop releases the deadline timer. Safe to call more than once.
func (g *governor) stop() { g.cancel() }

// precheck refuses a module whose declared minimum memory is already beyond
// the budget; the allocator cannot fail the initial allocation.
func (g *governor) precheck(compiled wazero.CompiledModule) error {
	for _, def := range compiled.ExportedMemories() {
		if uint64(def.Min())*wasmPageSize > g.limits.MemoryBudget {
			g.refused.Store(true)
			return g.memoryExceeded()
		}
	}
	return nil
}

// Allocate implements experimental.MemoryAllocator.
func (g *governor) Allocate(capacity, _ uint64) experimental.LinearMemory {
	m := &meteredMemory{g: g, buf: make([]byte, 0, min(capacity, g.limits.MemoryBudget))}
	g.mu.Lock()
	g.mems = append(g.mems, m)
	g.mu.Unlock()
	return m
}

// released reports whether every memory handed to the guest has been freed.
func (g *governor) released() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.mems {
		if !m.freed() {
			return false
		}
	}
	return true
}

func (g *governor) memoryExceeded() error {
	return &ResourceExceededError{Kind: ResourceMemory, MemoryLimit: g.limits.MemoryBudget}
}

func (g *governor) timeExceeded() error {
	return &ResourceExceededError{Kind: ResourceTime, TimeLimit: g.limits.TimeBudget}
}

// timedOut reports whether the run's own deadline fired.
func (g *governor) timedOut() bool {
	return g.runCtx.Err() != nil && errors.Is(context.Cause(g.runCtx), ErrTimeBudget)
}

// classify maps the raw failure of a run to the error reported to the caller
// and the state the context ends in.
func (g *governor) classify(err error) (State, error) {
	if err == nil {
		return StateCompleted, nil
	}

	if g.timedOut() {
		return StateTimedOut, g.timeExceeded()
	}
	if g.parent.Err() != nil {
		return StateTrapped, hostFault(context.Cause(g.parent), "run aborted by caller")
	}

	var (
		hf *HostFault
		re *ResourceExceededError
	)
	if errors.As(err, &hf) {
		return StateTrapped, err
	}
	if errors.As(err, &re) {
		if re.Kind == ResourceMemory {
			return StateMemoryExceeded, g.memoryExceeded()
		}
		return StateTimedOut, g.timeExceeded()
	}

	if g.refused.Load() {
		return StateMemoryExceeded, g.memoryExceeded()
	}

	var ge *GuestError
	if errors.As(err, &ge) {
		if ge.Category == CategoryTrap {
			return StateTrapped, err
		}
		return StateCompleted, err
	}

	var exit *sys.ExitError
	if errors.As(err, &exit) {
		if g.allocFailed.Load() {
			return StateMemoryExceeded, g.memoryExceeded()
		}
		return StateTrapped, &GuestError{Category: CategoryTrap, Message: fmt.Sprintf("exit status %d", exit.ExitCode())}
	}
	if msg, ok := trapMessage(err); ok {
		if g.allocFailed.Load() {
			return StateMemoryExceeded, g.memoryExceeded()
		}
		return StateTrapped, &GuestError{Category: CategoryTrap, Message: msg}
	}
	return StateTrapped, hostFault(err, "execute guest")
}

// trapMessage extracts the trap reason from a wazero runtime error, e.g.
// "unreachable" or "out of bounds memory access".
func trapMessage(err error) (string, bool) {
	const marker = "wasm error: "
	s := err.Error()
	i := strings.Index(s, marker)
	if i < 0 {
		return "", false
	}
	s = s[i+len(marker):]
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[:nl]
	}
	return s, true
}

// meteredMemory backs one guest linear memory and grows only within the
// governor's budget.
type meteredMemory struct {
	g    *governor
	mu   sync.Mutex
	buf  []byte
	free bool
}

// Reallocate implements experimental.LinearMemory. Returning nil makes
// memory.grow fail with -1 inside the guest.
func (m *meteredMemory) Reallocate(size uint64) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size > m.g.limits.MemoryBudget {
		m.g.refused.Store(true)
		return nil
	}
	if size <= uint64(cap(m.buf)) {
		m.buf = m.buf[:size]
	} else {
		next := make([]byte, size, min(max(size, 2*uint64(cap(m.buf))), m.g.limits.MemoryBudget))
		copy(next, m.buf)
		m.buf = next
	}
	for {
		peak := m.g.peak.Load()
		if size <= peak || m.g.peak.CompareAndSwap(peak, size) {
			break
		}
	}
	return m.buf
}

// Free implements experimental.LinearMemory.
func (m *meteredMemory) Free() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = nil
	m.free = true
}

func (m *meteredMemory) freed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.free
}

// Messages a guest runtime prints when it gives up on an allocation, e.g.
// Rust's "capacity overflow" panic for a Vec larger than wasm32 can address.
var allocFailureMarkers = []string{
	"capacity overflow",
	"memory allocation of ",
}

// stderrWatch forwards guest stderr and flags allocation failure messages
// on the governor. A marker split across writes is still seen.
type stderrWatch struct {
	g    *governor
	w    io.Writer
	mu   sync.Mutex
	tail []byte
}

func (s *stderrWatch) Write(data []byte) (int, error) {
	s.mu.Lock()
	window := append(s.tail, data...)
	for _, m := range allocFailureMarkers {
		if bytes.Contains(window, []byte(m)) {
			s.g.allocFailed.Store(true)
		}
	}
	keep := min(len(window), maxMarkerLen-1)
	s.tail = append(s.tail[:0], window[len(window)-keep:]...)
	s.mu.Unlock()
	return s.w.Write(data)
}

var maxMarkerLen = func() int {
	n := 0
	for _, m := range allocFailureMarkers {
		n = max(n, len(m))
	}
	return n
}()
