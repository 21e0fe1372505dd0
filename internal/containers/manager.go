// Package containers implements the Per-Project Container Manager (§4.B):
// one long-lived, resource-capped execution container per project,
// created directly against the Docker Engine API rather than shelled
// out via docker-compose — grounded on the zkoranges-go-claw example's
// use of github.com/docker/docker's client package for create/exec/
// inspect/stop, replacing the donor's os/exec("docker","compose",...)
// wrapper in containers/orchestrator.go.
package containers

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/jordanhubbard/devteam-runner/internal/runnerrors"
	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// ExecResult is the outcome of a single exec call (§4.B contract).
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ExecOptions configures a single exec call.
type ExecOptions struct {
	Cwd     string
	Timeout time.Duration
	Env     map[string]string // never persisted to the volume (§4.B)
}

// Config configures the Container Manager.
type Config struct {
	Image           string // image with git + node preinstalled
	WorkspaceMount  string // path inside the container that CacheRoot/<projectID> is bind-mounted to
	CacheRoot       string // host path backing each project's bind-mounted workspace
	CPULimit        float64
	MemMiB          int64
	GlobalExecLimit int // default 5, §4.B "bounded by a global limit"
}

func defaultConfig(cfg Config) Config {
	if cfg.Image == "" {
		cfg.Image = "devteam-runner/exec-env:latest"
	}
	if cfg.WorkspaceMount == "" {
		cfg.WorkspaceMount = "/workspace"
	}
	if cfg.CacheRoot == "" {
		cfg.CacheRoot = "/var/runner/cache"
	}
	if cfg.CPULimit == 0 {
		cfg.CPULimit = 1.0
	}
	if cfg.MemMiB == 0 {
		cfg.MemMiB = 1024
	}
	if cfg.GlobalExecLimit == 0 {
		cfg.GlobalExecLimit = 5
	}
	return cfg
}

// projectContainer tracks one project's always-on container plus the
// lock that serializes exec calls against it (§4.B: "exec calls for
// the same project are serialized").
type projectContainer struct {
	handle models.ContainerHandle
	execMu sync.Mutex
}

// Manager owns every ContainerHandle exclusively (§3 ownership rule).
type Manager struct {
	cfg    Config
	docker *client.Client

	mu         sync.Mutex
	containers map[string]*projectContainer

	// globalSem bounds cross-project exec concurrency (§4.B default 5).
	globalSem chan struct{}
}

// NewManager dials the local Docker Engine and returns a Container Manager.
func NewManager(cfg Config) (*Manager, error) {
	cfg = defaultConfig(cfg)

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, &runnerrors.ContainerError{Kind: runnerrors.ContainerCreate, Err: err}
	}

	return &Manager{
		cfg:        cfg,
		docker:     cli,
		containers: make(map[string]*projectContainer),
		globalSem:  make(chan struct{}, cfg.GlobalExecLimit),
	}, nil
}

func containerName(projectID string) string {
	return fmt.Sprintf("runner-project-%s", projectID)
}

// EnsureContainer creates the project's container on first use, or
// validates health and auto-restarts once on a failed probe before
// escalating (§4.B).
func (m *Manager) EnsureContainer(ctx context.Context, projectID string) (*models.ContainerHandle, error) {
	m.mu.Lock()
	pc, exists := m.containers[projectID]
	if !exists {
		pc = &projectContainer{}
		m.containers[projectID] = pc
	}
	m.mu.Unlock()

	pc.execMu.Lock()
	defer pc.execMu.Unlock()

	if pc.handle.ContainerID != "" {
		if err := m.probeHealth(ctx, pc.handle.ContainerID); err == nil {
			pc.handle.LastHealthyAt = time.Now()
			return &pc.handle, nil
		}
		// First failure: restart once.
		if err := m.docker.ContainerRestart(ctx, pc.handle.ContainerID, container.StopOptions{}); err != nil {
			return nil, &runnerrors.ContainerError{Kind: runnerrors.ContainerUnhealthy, Err: err}
		}
		if err := m.probeHealth(ctx, pc.handle.ContainerID); err != nil {
			return nil, &runnerrors.ContainerError{Kind: runnerrors.ContainerUnhealthy, Err: err}
		}
		pc.handle.LastHealthyAt = time.Now()
		return &pc.handle, nil
	}

	id, err := m.createContainer(ctx, projectID)
	if err != nil {
		return nil, &runnerrors.ContainerError{Kind: runnerrors.ContainerCreate, Err: err}
	}

	if err := m.docker.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, &runnerrors.ContainerError{Kind: runnerrors.ContainerCreate, Err: err}
	}

	if err := m.probeHealth(ctx, id); err != nil {
		return nil, &runnerrors.ContainerError{Kind: runnerrors.ContainerUnhealthy, Err: err}
	}

	now := time.Now()
	pc.handle = models.ContainerHandle{
		ProjectID:     projectID,
		ContainerID:   id,
		CreatedAt:     now,
		LastHealthyAt: now,
		ResourceLimits: models.ResourceLimits{
			CPU:    m.cfg.CPULimit,
			MemMiB: m.cfg.MemMiB,
		},
	}
	return &pc.handle, nil
}

// createContainer creates (but does not start) the per-project
// container with 1 vCPU / 1 GiB RAM and a bind mount to the project's
// cache directory at the workspace root (§3 ContainerHandle, §4.B).
func (m *Manager) createContainer(ctx context.Context, projectID string) (string, error) {
	hostPath := fmt.Sprintf("%s/%s", strings.TrimRight(m.cfg.CacheRoot, "/"), projectID)

	resources := container.Resources{
		NanoCPUs: int64(m.cfg.CPULimit * 1e9),
		Memory:   m.cfg.MemMiB * 1024 * 1024,
	}

	resp, err := m.docker.ContainerCreate(ctx,
		&container.Config{
			Image:      m.cfg.Image,
			Cmd:        []string{"sleep", "infinity"},
			Tty:        false,
			WorkingDir: m.cfg.WorkspaceMount,
		},
		&container.HostConfig{
			Resources: resources,
			Mounts: []mount.Mount{
				{
					Type:   mount.TypeBind,
					Source: hostPath,
					Target: m.cfg.WorkspaceMount,
				},
			},
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
			NetworkMode:   "bridge", // open egress per §4.B
		},
		nil, nil, containerName(projectID),
	)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// probeHealth validates the container by executing `git --version` and
// `node --version` (§4.B).
func (m *Manager) probeHealth(ctx context.Context, containerID string) error {
	for _, cmd := range [][]string{{"git", "--version"}, {"node", "--version"}} {
		if _, err := m.execRaw(ctx, containerID, cmd, "", nil, 5*time.Second); err != nil {
			return err
		}
	}
	return nil
}

// Exec runs cmd inside the project's container. Calls for the same
// project are serialized by the container's exec lock; a global
// semaphore bounds cross-project concurrency (§4.B).
func (m *Manager) Exec(ctx context.Context, projectID string, cmd []string, opts ExecOptions) (*ExecResult, error) {
	m.mu.Lock()
	pc, exists := m.containers[projectID]
	m.mu.Unlock()
	if !exists {
		return nil, &runnerrors.ContainerError{Kind: runnerrors.ContainerExec, Err: fmt.Errorf("no container for project %s", projectID)}
	}

	pc.execMu.Lock()
	defer pc.execMu.Unlock()

	select {
	case m.globalSem <- struct{}{}:
		defer func() { <-m.globalSem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := m.execRaw(execCtx, pc.handle.ContainerID, cmd, opts.Cwd, opts.Env, timeout)
	if err != nil {
		if execCtx.Err() != nil {
			return nil, &runnerrors.ContainerError{Kind: runnerrors.ContainerTimeout, Err: err}
		}
		return nil, &runnerrors.ContainerError{Kind: runnerrors.ContainerExec, Err: err}
	}
	result.Duration = time.Since(start)
	return result, nil
}

// execRaw performs one docker exec create/attach/inspect cycle.
// Secret env values passed here live only for the duration of the
// exec call; they are never written to the container's volume.
func (m *Manager) execRaw(ctx context.Context, containerID string, cmd []string, cwd string, env map[string]string, _ time.Duration) (*ExecResult, error) {
	var envSlice []string
	for k, v := range env {
		envSlice = append(envSlice, k+"="+v)
	}

	execCfg := types.ExecConfig{
		Cmd:          cmd,
		WorkingDir:   cwd,
		Env:          envSlice,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := m.docker.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return nil, err
	}

	attach, err := m.docker.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, err
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return nil, err
	}

	inspect, err := m.docker.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, err
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Stop tears down a project's container (§4.B teardown SLO ≤ 60s).
func (m *Manager) Stop(ctx context.Context, projectID string) error {
	m.mu.Lock()
	pc, exists := m.containers[projectID]
	if exists {
		delete(m.containers, projectID)
	}
	m.mu.Unlock()
	if !exists || pc.handle.ContainerID == "" {
		return nil
	}

	timeout := 60
	if err := m.docker.ContainerStop(ctx, pc.handle.ContainerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return &runnerrors.ContainerError{Kind: runnerrors.ContainerExec, Err: err}
	}
	return m.docker.ContainerRemove(ctx, pc.handle.ContainerID, container.RemoveOptions{Force: true})
}

// Handle returns the current ContainerHandle for a project, if any.
func (m *Manager) Handle(projectID string) (*models.ContainerHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.containers[projectID]
	if !ok || pc.handle.ContainerID == "" {
		return nil, false
	}
	h := pc.handle
	return &h, true
}

// StopAll tears down every tracked container, best-effort.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.containers))
	for projectID := range m.containers {
		ids = append(ids, projectID)
	}
	m.mu.Unlock()

	var firstErr error
	for _, projectID := range ids {
		if err := m.Stop(ctx, projectID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
