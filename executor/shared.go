package executor

import "sync"

var (
	sharedExecutor *Executor
	sharedOnce     sync.Once
	sharedErr      error
)

// Shared returns a process-wide Executor created on first use with the given
// options. Later calls ignore opts and return the same instance, so guest
// modules are compiled once per process.
func Shared(opts ...ExecutorOption) (*Executor, error) {
	sharedOnce.Do(func() {
		sharedExecutor, sharedErr = New(opts...)
	})
	return sharedExecutor, sharedErr
}
