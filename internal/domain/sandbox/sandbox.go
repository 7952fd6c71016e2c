package sandbox

import (
	"context"
	"errors"
	"sync"

	"github.com/pawnfiddle/backend/internal/shared/id"
)

// ErrStartTimeout is returned when a sandbox does not come up within the
// configured startup timeout.
var ErrStartTimeout = errors.New("sandbox startup timed out")

// Kind classifies the single terminal event a handle emits.
type Kind int

const (
	// Exited: the script ran to completion with an exit code.
	Exited Kind = iota
	// Crashed: the sandbox failed outside the script's control.
	Crashed
	// Terminated: the sandbox was torn down by request.
	Terminated
)

func (k Kind) String() string {
	switch k {
	case Exited:
		return "exited"
	case Crashed:
		return "crashed"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Result is the terminal event of one sandbox run. Exactly one Result is
// delivered per handle.
type Result struct {
	Kind     Kind
	ExitCode int
	Reason   string
}

// Spec describes one run request.
type Spec struct {
	FiddleID string
	Script   string
}

// Handle is one live execution environment.
type Handle interface {
	// ID identifies the sandbox for logs and teardown.
	ID() id.SandboxID
	// Wait returns a channel delivering the single terminal event.
	Wait() <-chan Result
	// Terminate tears the sandbox down. Idempotent and safe on an
	// already-exited handle; all underlying resources are released
	// before it returns.
	Terminate(ctx context.Context) error
}

// Runtime creates ephemeral execution environments, one per run.
type Runtime interface {
	Name() string
	// Start launches a sandbox for the given script. It never blocks past
	// the runtime's startup timeout.
	Start(ctx context.Context, spec Spec) (Handle, error)
	Close() error
}

// resultOnce delivers exactly one Result on a buffered channel, dropping
// any later deliveries. Embedded by both runtime handles.
type resultOnce struct {
	once sync.Once
	ch   chan Result
}

func newResultOnce() *resultOnce {
	return &resultOnce{ch: make(chan Result, 1)}
}

func (r *resultOnce) deliver(res Result) bool {
	fired := false
	r.once.Do(func() {
		r.ch <- res
		fired = true
	})
	return fired
}

func (r *resultOnce) Wait() <-chan Result {
	return r.ch
}
