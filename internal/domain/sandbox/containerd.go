package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/namespaces"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	"github.com/opencontainers/runtime-spec/specs-go"
	"go.uber.org/zap"

	"github.com/pawnfiddle/backend/internal/infrastructure/logging"
	"github.com/pawnfiddle/backend/internal/shared/id"
)

// ContainerdConfig configures the containerd-backed runtime.
type ContainerdConfig struct {
	Address        string
	Namespace      string
	Image          string
	Interpreter    string
	StartupTimeout time.Duration
}

// Containerd runs each script in a fresh container with its own task. One
// container per run request; teardown deletes the container and snapshot.
type Containerd struct {
	client *containerd.Client
	cfg    ContainerdConfig
	logger *logging.Logger
}

// NewContainerd connects to containerd and verifies the client.
func NewContainerd(cfg ContainerdConfig, logger *logging.Logger) (*Containerd, error) {
	client, err := containerd.New(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "fiddle"
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	logger.Info("containerd runtime ready",
		zap.String("address", cfg.Address),
		zap.String("namespace", cfg.Namespace),
		zap.String("image", cfg.Image),
	)
	return &Containerd{client: client, cfg: cfg, logger: logger}, nil
}

func (r *Containerd) Name() string { return "containerd" }

// Close releases the containerd client.
func (r *Containerd) Close() error {
	return r.client.Close()
}

// Start creates and starts a container for the script, bounded by the
// startup timeout. The returned handle delivers one terminal event.
func (r *Containerd) Start(ctx context.Context, spec Spec) (Handle, error) {
	sandboxID := id.NewSandboxID()
	log := &logging.Logger{Logger: r.logger.With(zap.String("sandbox", sandboxID.String()), zap.String("fiddle", spec.FiddleID))}

	startCtx, cancel := context.WithTimeoutCause(ctx, r.cfg.StartupTimeout, ErrStartTimeout)
	defer cancel()
	startCtx = namespaces.WithNamespace(startCtx, r.cfg.Namespace)

	scriptDir, err := os.MkdirTemp("", "fiddle-sandbox-")
	if err != nil {
		return nil, fmt.Errorf("failed to stage script: %w", err)
	}
	scriptPath := filepath.Join(scriptDir, "script.js")
	if err := os.WriteFile(scriptPath, []byte(spec.Script), 0o644); err != nil {
		os.RemoveAll(scriptDir)
		return nil, fmt.Errorf("failed to stage script: %w", err)
	}

	image, err := r.client.GetImage(startCtx, r.cfg.Image)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			os.RemoveAll(scriptDir)
			return nil, fmt.Errorf("failed to resolve sandbox image: %w", err)
		}
		image, err = r.client.Pull(startCtx, r.cfg.Image, containerd.WithPullUnpack)
		if err != nil {
			os.RemoveAll(scriptDir)
			return nil, fmt.Errorf("failed to pull sandbox image: %w", err)
		}
	}

	specOpts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithProcessArgs(r.cfg.Interpreter, "/fiddle/script.js"),
		oci.WithMounts([]specs.Mount{{
			Destination: "/fiddle",
			Type:        "bind",
			Source:      scriptDir,
			Options:     []string{"rbind", "ro"},
		}}),
	}

	container, err := r.client.NewContainer(startCtx, sandboxID.String(),
		containerd.WithImage(image),
		containerd.WithNewSnapshot(sandboxID.String()+"-snapshot", image),
		containerd.WithNewSpec(specOpts...),
	)
	if err != nil {
		os.RemoveAll(scriptDir)
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	task, err := container.NewTask(startCtx, cio.NullIO)
	if err != nil {
		_ = container.Delete(namespaces.WithNamespace(context.Background(), r.cfg.Namespace), containerd.WithSnapshotCleanup)
		os.RemoveAll(scriptDir)
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	exitCh, err := task.Wait(namespaces.WithNamespace(context.Background(), r.cfg.Namespace))
	if err != nil {
		_, _ = task.Delete(namespaces.WithNamespace(context.Background(), r.cfg.Namespace))
		_ = container.Delete(namespaces.WithNamespace(context.Background(), r.cfg.Namespace), containerd.WithSnapshotCleanup)
		os.RemoveAll(scriptDir)
		return nil, fmt.Errorf("failed to wait on task: %w", err)
	}

	if err := task.Start(startCtx); err != nil {
		_, _ = task.Delete(namespaces.WithNamespace(context.Background(), r.cfg.Namespace))
		_ = container.Delete(namespaces.WithNamespace(context.Background(), r.cfg.Namespace), containerd.WithSnapshotCleanup)
		os.RemoveAll(scriptDir)
		return nil, fmt.Errorf("failed to start task: %w", err)
	}
	log.Info("sandbox started", zap.String("container", container.ID()))

	h := &containerdHandle{
		resultOnce: newResultOnce(),
		id:         sandboxID,
		runtime:    r,
		container:  container,
		task:       task,
		scriptDir:  scriptDir,
		log:        log,
	}
	go h.monitor(exitCh)
	return h, nil
}

type containerdHandle struct {
	*resultOnce
	id        id.SandboxID
	runtime   *Containerd
	container containerd.Container
	task      containerd.Task
	scriptDir string
	log       *logging.Logger

	cleanupOnce sync.Once
	terminating bool
	mu          sync.Mutex
}

func (h *containerdHandle) ID() id.SandboxID { return h.id }

// monitor waits for the task to exit and classifies the terminal event.
func (h *containerdHandle) monitor(exitCh <-chan containerd.ExitStatus) {
	status := <-exitCh
	code, _, err := status.Result()

	h.mu.Lock()
	terminating := h.terminating
	h.mu.Unlock()

	h.cleanup()

	switch {
	case terminating:
		h.deliver(Result{Kind: Terminated})
	case err != nil:
		h.log.Warn("sandbox crashed", zap.Error(err))
		h.deliver(Result{Kind: Crashed, Reason: err.Error()})
	default:
		h.log.Info("sandbox exited", zap.Uint32("code", code))
		h.deliver(Result{Kind: Exited, ExitCode: int(code)})
	}
}

// Terminate kills the task and removes the container. Safe to call more
// than once and after the task has already exited.
func (h *containerdHandle) Terminate(ctx context.Context) error {
	h.mu.Lock()
	h.terminating = true
	h.mu.Unlock()

	ctx = namespaces.WithNamespace(ctx, h.runtime.cfg.Namespace)
	if err := h.task.Kill(ctx, syscall.SIGTERM); err != nil && !errdefs.IsNotFound(err) {
		h.log.Warn("sandbox kill failed", zap.Error(err))
	}
	h.cleanup()
	h.deliver(Result{Kind: Terminated})
	return nil
}

// cleanup deletes the task, container, snapshot, and staged script.
func (h *containerdHandle) cleanup() {
	h.cleanupOnce.Do(func() {
		ctx := namespaces.WithNamespace(context.Background(), h.runtime.cfg.Namespace)
		if _, err := h.task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
			h.log.Warn("sandbox task delete failed", zap.Error(err))
		}
		if err := h.container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
			h.log.Warn("sandbox container delete failed", zap.Error(err))
		}
		os.RemoveAll(h.scriptDir)
	})
}
