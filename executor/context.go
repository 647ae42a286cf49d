package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// State is the lifecycle position of an execution context.
type State int

const (
	StateCreated State = iota
	StateLoadingModule
	StateContextReady
	StateRunning
	StateCompleted
	StateTimedOut
	StateMemoryExceeded
	StateTrapped
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLoadingModule:
		return "loading_module"
	case StateContextReady:
		return "context_ready"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateMemoryExceeded:
		return "memory_exceeded"
	case StateTrapped:
		return "trapped"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// execContext is one isolated instance of a guest module. It evaluates a
// single program and is then torn down; nothing in it outlives the run.
type execContext struct {
	id       string
	lang     Language
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	gov      *governor
	logger   *slog.Logger

	output *outputBuffer
	frames *frameHandler
	stderr *stderrWatch
	stdin  *strings.Reader

	mod       api.Module
	state     atomic.Int32
	closed    atomic.Bool
	teardownO sync.Once
}

func newExecContext(id string, lang Language, rt wazero.Runtime, compiled wazero.CompiledModule, gov *governor, outputLimit int, logger *slog.Logger) *execContext {
	output := newOutputBuffer(outputLimit)
	c := &execContext{
		id:       id,
		lang:     lang,
		runtime:  rt,
		compiled: compiled,
		gov:      gov,
		logger:   logger,
		output:   output,
		frames:   newFrameHandler(output, maxEnvelopeSize),
		stderr:   &stderrWatch{g: gov, w: output},
		stdin:    strings.NewReader(""),
	}
	c.setState(StateCreated)
	return c
}

func (c *execContext) State() State { return State(c.state.Load()) }

func (c *execContext) setState(s State) {
	c.state.Store(int32(s))
}

func (c *execContext) moduleConfig() wazero.ModuleConfig {
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStdin(c.stdin).
		WithStderr(c.stderr)

	switch c.lang.ABI() {
	case ABICommand:
		args := append([]string{c.lang.Name()}, c.lang.Args()...)
		cfg = cfg.WithStdout(c.frames).WithArgs(args...)
	default:
		cfg = cfg.WithStdout(c.output).WithStartFunctions("_initialize")
	}
	return cfg
}

// instantiate brings up a reactor instance. Command guests are instantiated
// by run, because instantiation is what executes them.
func (c *execContext) instantiate(ctx context.Context) error {
	c.setState(StateLoadingModule)
	if err := c.gov.precheck(c.compiled); err != nil {
		return err
	}
	if c.lang.ABI() == ABIReactor {
		mod, err := c.runtime.InstantiateModule(c.observe(ctx), c.compiled, c.moduleConfig())
		if err != nil {
			return err
		}
		c.mod = mod
	}
	c.setState(StateContextReady)
	return nil
}

// observe attaches a close notifier so teardown can tell whether the runtime
// already closed the instance.
func (c *execContext) observe(ctx context.Context) context.Context {
	return experimental.WithCloseNotifier(ctx, experimental.CloseNotifyFunc(func(context.Context, uint32) {
		c.closed.Store(true)
	}))
}

// run submits source and evaluates it once.
func (c *execContext) run(ctx context.Context, source string) (Value, error) {
	c.setState(StateRunning)

	var (
		env []byte
		err error
	)
	switch c.lang.ABI() {
	case ABICommand:
		env, err = c.runCommand(ctx, source)
	default:
		env, err = c.runReactor(ctx, source)
	}
	if err != nil {
		return Value{}, err
	}
	return decodeEnvelope(env)
}

func (c *execContext) runCommand(ctx context.Context, source string) ([]byte, error) {
	c.stdin.Reset(source)
	mod, err := c.runtime.InstantiateModule(c.observe(ctx), c.compiled, c.moduleConfig())
	if mod != nil {
		c.mod = mod
	}
	c.frames.Flush()
	if err != nil {
		return nil, err
	}
	if c.frames.Overflowed() {
		return nil, &GuestError{Category: CategoryUnsupported, Message: errValueTooLarge.Error()}
	}
	env, ok := c.frames.Envelope()
	if !ok {
		return nil, hostFault(nil, "guest exited without a result")
	}
	return env, nil
}

func (c *execContext) runReactor(ctx context.Context, source string) ([]byte, error) {
	mem := c.mod.Memory()
	if mem == nil {
		return nil, hostFault(nil, "guest has no memory")
	}

	res, err := c.mod.ExportedFunction("alloc").Call(ctx, uint64(len(source)))
	if err != nil {
		return nil, err
	}
	ptr := uint32(res[0])
	if !mem.WriteString(ptr, source) {
		return nil, hostFault(nil, "alloc returned out of range pointer %#x for %d bytes", ptr, len(source))
	}

	res, err = c.mod.ExportedFunction("evaluate").Call(ctx, uint64(ptr), uint64(len(source)))
	if err != nil {
		return nil, err
	}
	outPtr, outLen := uint32(res[0]>>32), uint32(res[0])
	env, ok := mem.Read(outPtr, outLen)
	if !ok {
		return nil, hostFault(nil, "result envelope [%#x, +%d) out of range", outPtr, outLen)
	}
	// The view aliases guest memory, which is freed on teardown.
	return append([]byte(nil), env...), nil
}

// teardown closes the instance and releases its memory. It runs exactly once
// no matter how many times it is called.
func (c *execContext) teardown(ctx context.Context) {
	c.teardownO.Do(func() {
		if s := c.State(); !s.Terminal() {
			c.logger.Debug("tearing down unfinished context", "invocation", c.id, "state", s)
		}
		if c.mod != nil && !c.closed.Load() {
			if err := c.mod.Close(ctx); err != nil {
				c.logger.Warn("close guest instance", "invocation", c.id, "error", err)
			}
		}
		c.gov.stop()
		c.setState(StateTornDown)
	})
}

// execute drives the context through its whole lifecycle on a worker
// goroutine, records the terminal state the run ended in and returns the
// classified outcome.
func (c *execContext) execute(ctx context.Context, source string) (Value, error) {
	type outcome struct {
		val Value
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				o = outcome{err: hostFault(fmt.Errorf("%v", r), "guest worker panicked")}
			}
			done <- o
		}()
		if err := c.instantiate(ctx); err != nil {
			o.err = err
			return
		}
		o.val, o.err = c.run(ctx, source)
	}()

	o := <-done
	final, err := c.gov.classify(o.err)
	c.setState(final)
	if err != nil {
		return Value{}, err
	}
	return o.val, nil
}
