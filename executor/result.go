package executor

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Sentinels matched with errors.Is against a ResourceExceededError.
var (
	ErrTimeBudget   = errors.New("time budget exceeded")
	ErrMemoryBudget = errors.New("memory budget exceeded")
	ErrClosed       = errors.New("executor closed")
)

// Outcome is the category of a finished invocation.
type Outcome int

const (
	OutcomeValue Outcome = iota
	OutcomeGuestError
	OutcomeResourceExceeded
	OutcomeHostFault
	OutcomeLoadError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValue:
		return "value"
	case OutcomeGuestError:
		return "guest_error"
	case OutcomeResourceExceeded:
		return "resource_exceeded"
	case OutcomeHostFault:
		return "host_fault"
	case OutcomeLoadError:
		return "load_error"
	default:
		return "unknown"
	}
}

// Result holds the outcome of one invocation. Exactly one of Value (when
// Error is nil) or Error describes it. State is the terminal state the
// execution context reached before it was torn down.
type Result struct {
	ID        string
	Value     Value
	Output    string
	Truncated bool
	Duration  time.Duration
	State     State
	Error     error
}

// Outcome classifies r.Error.
func (r Result) Outcome() Outcome {
	if r.Error == nil {
		return OutcomeValue
	}
	var (
		ge *GuestError
		re *ResourceExceededError
		le *LoadError
	)
	switch {
	case errors.As(r.Error, &ge):
		return OutcomeGuestError
	case errors.As(r.Error, &re):
		return OutcomeResourceExceeded
	case errors.As(r.Error, &le):
		return OutcomeLoadError
	default:
		return OutcomeHostFault
	}
}

// LoadError reports a guest module that is missing or incompatible.
// It is fatal for that language and is never retried.
type LoadError struct {
	Language string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Language, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Category narrows a GuestError.
type Category int

const (
	// CategoryRuntime is an error raised by the guest language itself.
	CategoryRuntime Category = iota
	// CategoryUnsupported is a final value the channel cannot represent.
	CategoryUnsupported
	// CategoryTrap is an abnormal guest stop not caused by a ceiling.
	CategoryTrap
)

func (c Category) String() string {
	switch c {
	case CategoryRuntime:
		return "runtime"
	case CategoryUnsupported:
		return "unsupported"
	case CategoryTrap:
		return "trap"
	default:
		return "unknown"
	}
}

// GuestError means the submitted program failed. It is never a host problem.
type GuestError struct {
	Category Category
	// Type is the guest's error class name when it reported one, e.g. "ZeroDivisionError".
	Type    string
	Message string
}

func (e *GuestError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Category, e.Message)
}

// ResourceKind names the ceiling that was hit.
type ResourceKind int

const (
	ResourceTime ResourceKind = iota
	ResourceMemory
)

func (k ResourceKind) String() string {
	if k == ResourceMemory {
		return "memory"
	}
	return "time"
}

// ResourceExceededError reports a ceiling violation together with the
// configured value of that ceiling.
type ResourceExceededError struct {
	Kind        ResourceKind
	TimeLimit   time.Duration
	MemoryLimit uint64
}

func (e *ResourceExceededError) Error() string {
	if e.Kind == ResourceMemory {
		return fmt.Sprintf("memory budget of %s exceeded", humanize.IBytes(e.MemoryLimit))
	}
	return fmt.Sprintf("time budget of %v exceeded", e.TimeLimit)
}

// Limit returns the violated ceiling as a duration or a byte count.
func (e *ResourceExceededError) Limit() any {
	if e.Kind == ResourceMemory {
		return e.MemoryLimit
	}
	return e.TimeLimit
}

func (e *ResourceExceededError) Is(target error) bool {
	switch target {
	case ErrTimeBudget:
		return e.Kind == ResourceTime
	case ErrMemoryBudget:
		return e.Kind == ResourceMemory
	}
	return false
}

// HostFault is an engine-side inconsistency: the sandbox, not the program,
// is broken. Retrying is unsafe.
type HostFault struct {
	Message string
	Err     error
}

func (e *HostFault) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("host fault: %s: %v", e.Message, e.Err)
	}
	return "host fault: " + e.Message
}

func (e *HostFault) Unwrap() error { return e.Err }

func hostFault(err error, format string, args ...any) *HostFault {
	return &HostFault{Message: fmt.Sprintf(format, args...), Err: err}
}
