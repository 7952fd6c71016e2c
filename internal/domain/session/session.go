package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pawnfiddle/backend/internal/domain/fiddle"
	"github.com/pawnfiddle/backend/internal/domain/sandbox"
	"github.com/pawnfiddle/backend/internal/shared/id"
)

// ExecState is the sandbox execution state of a session.
type ExecState int

const (
	// Idle: no sandbox exists for the session.
	Idle ExecState = iota
	// Processing: a sandbox has been requested and is starting up.
	Processing
	// Running: the sandbox is executing the script.
	Running
)

func (s ExecState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Processing:
		return "processing"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Store is the slice of the persistence layer the orchestrator needs.
type Store interface {
	Get(ctx context.Context, id string) (*fiddle.Fiddle, error)
	Put(ctx context.Context, f *fiddle.Fiddle) error
}

// Runtime creates sandboxes for run requests.
type Runtime interface {
	Name() string
	Start(ctx context.Context, spec sandbox.Spec) (sandbox.Handle, error)
}

// Verifier gates the share transaction.
type Verifier interface {
	AwaitToken(ctx context.Context, connID id.ConnID) (string, error)
	Validate(ctx context.Context, token string) error
}

// Session is the live orchestration state for one fiddle id, shared by all
// connections attached to that id. The mutex is the serialization point:
// every mutating operation holds it for its state transition and for the
// broadcast announcing it, so connections observe transitions in the order
// they were made. Long waits (sandbox readiness/exit, verification) happen
// outside it. Broadcasting under the mutex is safe because the notifier
// enqueues without blocking and never calls back into the session.
type Session struct {
	fiddleID string
	reg      *Registry
	log      *zap.Logger

	mu         sync.Mutex
	title      string
	script     string
	locked     bool
	persisted  bool
	state      ExecState
	handle     sandbox.Handle
	runGen     uint64
	cancelRun  context.CancelFunc
	pending    bool // share transaction in flight
	forking    map[id.ConnID]bool
	conns      map[id.ConnID]struct{}
	pendingOps int
	lastActive time.Time
}

func newSession(reg *Registry, doc *fiddle.Fiddle, persisted bool) *Session {
	return &Session{
		fiddleID:   doc.ID,
		reg:        reg,
		log:        reg.deps.Logger.With(zap.String("fiddle", doc.ID)),
		title:      doc.Title,
		script:     doc.Script,
		locked:     doc.Locked,
		persisted:  persisted,
		forking:    make(map[id.ConnID]bool),
		conns:      make(map[id.ConnID]struct{}),
		lastActive: time.Now(),
	}
}

// ID returns the fiddle id the session orchestrates.
func (s *Session) ID() string { return s.fiddleID }

// State returns the current execution state.
func (s *Session) State() ExecState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Locked reports the current lock state.
func (s *Session) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// attach adds a connection. Caller is the registry.
func (s *Session) attach(connID id.ConnID) {
	s.mu.Lock()
	s.conns[connID] = struct{}{}
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// Sync sends the authoritative title, lock, and execution state to one
// (re)joining connection. Execution state is always reported Idle: the
// sandbox is bound to connection liveness, so a reconnecting tab starts
// from a clean slate.
func (s *Session) Sync(connID id.ConnID) {
	s.mu.Lock()
	title, locked := s.title, s.locked
	s.mu.Unlock()

	n := s.reg.deps.Notifier
	n.Send(connID, TitleEvent(title))
	n.Send(connID, LockEvent(locked))
	n.Send(connID, ExecStateEvent(Idle))
}

// SetTitle updates and persists the title, then broadcasts it. Rejected
// with ErrLocked on a published fiddle.
func (s *Session) SetTitle(ctx context.Context, title string) error {
	s.mu.Lock()
	if s.locked {
		s.mu.Unlock()
		return ErrLocked
	}
	s.title = title
	s.lastActive = time.Now()
	err := s.persistLocked(ctx)
	if err == nil {
		s.reg.deps.Notifier.Broadcast(s.fiddleID, TitleEvent(title))
	}
	s.mu.Unlock()
	return err
}

// SetContent updates and persists the script source. Rejected with
// ErrLocked on a published fiddle.
func (s *Session) SetContent(ctx context.Context, script string) error {
	s.mu.Lock()
	if s.locked {
		s.mu.Unlock()
		return ErrLocked
	}
	s.script = script
	s.lastActive = time.Now()
	err := s.persistLocked(ctx)
	s.mu.Unlock()
	return err
}

// persistLocked writes the document. Caller holds s.mu.
func (s *Session) persistLocked(ctx context.Context) error {
	err := s.reg.deps.Store.Put(ctx, &fiddle.Fiddle{
		ID:        s.fiddleID,
		Title:     s.title,
		Script:    s.script,
		Locked:    s.locked,
		UpdatedAt: time.Now().UTC(),
	})
	if err == nil {
		s.persisted = true
	}
	return err
}

// Run starts a sandbox for the current script. The optional verification
// token is accepted for protocol compatibility and ignored: runs are not
// gated. Fails with ErrLocked on a published fiddle and ErrAlreadyBusy
// when a run is in flight; concurrent callers collapse onto the single
// in-flight run.
func (s *Session) Run(connID id.ConnID) error {
	s.mu.Lock()
	if s.locked {
		s.mu.Unlock()
		return ErrLocked
	}
	if s.state != Idle {
		s.mu.Unlock()
		return ErrAlreadyBusy
	}

	s.state = Processing
	s.runGen++
	gen := s.runGen
	script := s.script
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancelRun = cancel
	s.pendingOps++
	s.lastActive = time.Now()
	s.reg.deps.Notifier.Broadcast(s.fiddleID, ExecStateEvent(Processing))
	s.mu.Unlock()

	s.log.Info("run requested", zap.String("conn", connID.String()))

	go s.runLoop(runCtx, gen, script)
	return nil
}

// runLoop owns the sandbox for one run: startup, the Running transition,
// and the single terminal event back to Idle.
func (s *Session) runLoop(ctx context.Context, gen uint64, script string) {
	deps := s.reg.deps

	handle, err := deps.Runtime.Start(ctx, sandbox.Spec{FiddleID: s.fiddleID, Script: script})
	if err != nil {
		s.log.Warn("sandbox start failed", zap.Error(err))
		deps.Metrics.RecordSandboxStart(deps.Runtime.Name(), "error")
		deps.Metrics.RecordRun("start_failed")
		s.finishRun(gen)
		return
	}
	deps.Metrics.RecordSandboxStart(deps.Runtime.Name(), "ok")
	deps.Metrics.AddSandboxes(1)
	defer deps.Metrics.AddSandboxes(-1)

	s.mu.Lock()
	if ctx.Err() != nil || gen != s.runGen {
		// Stopped while starting; never expose the handle.
		s.mu.Unlock()
		_ = handle.Terminate(context.Background())
		<-handle.Wait()
		s.finishRun(gen)
		return
	}
	s.handle = handle
	s.state = Running
	s.reg.deps.Notifier.Broadcast(s.fiddleID, ExecStateEvent(Running))
	s.mu.Unlock()

	var res sandbox.Result
	select {
	case res = <-handle.Wait():
	case <-ctx.Done():
		_ = handle.Terminate(context.Background())
		res = <-handle.Wait()
	case <-time.After(deps.RunTimeout):
		s.log.Info("run timed out")
		_ = handle.Terminate(context.Background())
		res = <-handle.Wait()
	}

	deps.Metrics.RecordRun(res.Kind.String())
	s.log.Info("run finished",
		zap.String("outcome", res.Kind.String()),
		zap.Int("exit_code", res.ExitCode),
	)
	s.finishRun(gen)
}

// finishRun drives the session back to Idle and broadcasts, unless a newer
// run has already taken over the state.
func (s *Session) finishRun(gen uint64) {
	s.mu.Lock()
	if gen == s.runGen {
		s.state = Idle
		s.handle = nil
		if s.cancelRun != nil {
			s.cancelRun()
			s.cancelRun = nil
		}
		s.reg.deps.Notifier.Broadcast(s.fiddleID, ExecStateEvent(Idle))
	}
	s.pendingOps--
	s.mu.Unlock()
	s.reg.release(s)
}

// Stop requests sandbox termination. No-op when Idle; the transition back
// to Idle is broadcast once teardown completes.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancelRun
	handle := s.handle
	s.lastActive = time.Now()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handle != nil {
		return handle.Terminate(ctx)
	}
	return nil
}

// detach removes a connection; the last connection leaving implicitly
// stops any execution, since the sandbox must not outlive its viewers.
// Detaching never alters persisted title or lock state.
func (s *Session) detach(connID id.ConnID) {
	s.mu.Lock()
	delete(s.conns, connID)
	delete(s.forking, connID)
	last := len(s.conns) == 0
	busy := s.state != Idle
	s.lastActive = time.Now()
	s.mu.Unlock()

	if last && busy {
		s.log.Info("last connection gone, stopping execution")
		_ = s.Stop(context.Background())
	}
}

// empty reports whether the session holds no connections and no pending
// async operations. Caller holds s.mu.
func (s *Session) emptyLocked() bool {
	return len(s.conns) == 0 && s.pendingOps == 0 && s.state == Idle
}
