package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/pawnfiddle/backend/internal/infrastructure/logging"
	"github.com/pawnfiddle/backend/internal/shared/id"
)

// ProcessConfig configures the subprocess runtime.
type ProcessConfig struct {
	Interpreter    string
	StartupTimeout time.Duration
}

// Process runs each script as an interpreter subprocess under a PTY. A
// fallback for environments without containerd; the PTY keeps stdout and
// stderr interleaved the way the script produced them.
type Process struct {
	cfg    ProcessConfig
	logger *logging.Logger
}

// NewProcess creates the subprocess runtime.
func NewProcess(cfg ProcessConfig, logger *logging.Logger) *Process {
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 10 * time.Second
	}
	return &Process{cfg: cfg, logger: logger}
}

func (r *Process) Name() string { return "process" }

func (r *Process) Close() error { return nil }

// Start stages the script and launches the interpreter under a PTY.
func (r *Process) Start(ctx context.Context, spec Spec) (Handle, error) {
	sandboxID := id.NewSandboxID()
	log := &logging.Logger{Logger: r.logger.With(zap.String("sandbox", sandboxID.String()), zap.String("fiddle", spec.FiddleID))}

	scriptDir, err := os.MkdirTemp("", "fiddle-sandbox-")
	if err != nil {
		return nil, fmt.Errorf("failed to stage script: %w", err)
	}
	scriptPath := filepath.Join(scriptDir, "script.js")
	if err := os.WriteFile(scriptPath, []byte(spec.Script), 0o644); err != nil {
		os.RemoveAll(scriptDir)
		return nil, fmt.Errorf("failed to stage script: %w", err)
	}

	cmd := exec.Command(r.cfg.Interpreter, scriptPath)
	cmd.Dir = scriptDir
	cmd.Env = []string{"TERM=xterm-256color", "PATH=/usr/local/bin:/usr/bin:/bin"}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		os.RemoveAll(scriptDir)
		return nil, fmt.Errorf("failed to start interpreter: %w", err)
	}
	log.Info("sandbox started", zap.Int("pid", cmd.Process.Pid))

	h := &processHandle{
		resultOnce: newResultOnce(),
		id:         sandboxID,
		cmd:        cmd,
		ptmx:       ptmx,
		scriptDir:  scriptDir,
		log:        log,
	}
	go h.monitor()
	return h, nil
}

type processHandle struct {
	*resultOnce
	id        id.SandboxID
	cmd       *exec.Cmd
	ptmx      *os.File
	scriptDir string
	log       *logging.Logger

	cleanupOnce sync.Once
	mu          sync.Mutex
	terminating bool
}

func (h *processHandle) ID() id.SandboxID { return h.id }

// monitor drains the PTY and waits for the interpreter to exit.
func (h *processHandle) monitor() {
	// Drain output so the child never blocks on a full PTY buffer.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := h.ptmx.Read(buf); err != nil {
				return
			}
		}
	}()

	err := h.cmd.Wait()

	h.mu.Lock()
	terminating := h.terminating
	h.mu.Unlock()

	h.cleanup()

	switch {
	case terminating:
		h.deliver(Result{Kind: Terminated})
	case err == nil:
		h.deliver(Result{Kind: Exited, ExitCode: 0})
	default:
		if exit, ok := err.(*exec.ExitError); ok {
			h.log.Info("sandbox exited", zap.Int("code", exit.ExitCode()))
			h.deliver(Result{Kind: Exited, ExitCode: exit.ExitCode()})
			return
		}
		h.log.Warn("sandbox crashed", zap.Error(err))
		h.deliver(Result{Kind: Crashed, Reason: err.Error()})
	}
}

// Terminate kills the interpreter. Idempotent; safe after exit.
func (h *processHandle) Terminate(ctx context.Context) error {
	h.mu.Lock()
	h.terminating = true
	h.mu.Unlock()

	if h.cmd.Process != nil {
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
	}
	h.cleanup()
	h.deliver(Result{Kind: Terminated})
	return nil
}

func (h *processHandle) cleanup() {
	h.cleanupOnce.Do(func() {
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
		_ = h.ptmx.Close()
		os.RemoveAll(h.scriptDir)
	})
}
