// Package localengine implements sandbox.Backend on top of a local Docker
// (or Docker-API-compatible) engine. It is grounded on the teacher's own
// agents/shared/docker/client.go wrapper around github.com/docker/docker/client:
// the same client construction fallback, the same ContainerExecCreate +
// ContainerExecAttach + stdcopy.StdCopy exec pattern, and the same
// tar-archive-based CopyToContainer/CopyFromContainer file transport.
//
// Container lifecycle (image selection, install-then-run sequencing,
// base64-materialised code files) instead follows
// original_source/sandbox/backend/docker.py, translated into Go rather
// than the teacher's long-running dev-container semantics.
package localengine

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"silexa/sandbox"
	"silexa/sandbox/artifact"
)

// KeepAliveCommand is run as the container entrypoint so it stays up long
// enough to receive Exec calls, mirroring docker.py's
// command="tail -f /dev/null".
const KeepAliveCommand = "tail -f /dev/null"

// Handle wraps a Docker container ID.
type Handle struct {
	containerID string
	language    sandbox.SupportedLanguage
}

// Language implements sandbox.SandboxHandle.
func (h *Handle) Language() sandbox.SupportedLanguage { return h.language }

// Backend is a Docker-engine-backed sandbox.Backend.
type Backend struct {
	api   *client.Client
	plans map[sandbox.SupportedLanguage]sandbox.LanguagePlan
}

// Option configures a Backend.
type Option func(*Backend)

// WithLanguagePlans overrides the built-in plan table, primarily so image
// overrides from config can be applied.
func WithLanguagePlans(plans map[sandbox.SupportedLanguage]sandbox.LanguagePlan) Option {
	return func(b *Backend) { b.plans = plans }
}

// New constructs a Backend from an already-dialed Docker API client.
func New(api *client.Client, opts ...Option) *Backend {
	b := &Backend{api: api}
	for _, opt := range opts {
		opt(b)
	}
	if b.plans == nil {
		b.plans = sandbox.DefaultLanguagePlans()
	}
	return b
}

// Dial constructs a Docker API client the way the teacher's NewClient
// does: negotiate the API version against the environment's DOCKER_HOST,
// falling back to nothing fancier — this package targets a single local
// engine, not the teacher's multi-host auto-discovery.
func Dial() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// Create provisions a new container for lang, in the created (not yet
// started) state.
func (b *Backend) Create(ctx context.Context, lang sandbox.SupportedLanguage) (sandbox.SandboxHandle, error) {
	plan, ok := sandbox.LanguagePlanFor(b.plans, lang)
	if !ok {
		return nil, sandbox.NewBackendError(fmt.Sprintf("unsupported language %q", lang), nil)
	}

	resp, err := b.api.ContainerCreate(ctx,
		&container.Config{
			Image: plan.Image,
			Cmd:   []string{"sh", "-c", KeepAliveCommand},
			Tty:   false,
		},
		&container.HostConfig{AutoRemove: false},
		nil, nil, "")
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, sandbox.NewImageNotFound(plan.Image, err)
		}
		return nil, sandbox.NewBackendError("container create", err)
	}
	return &Handle{containerID: resp.ID, language: lang}, nil
}

// Start starts the container. Docker containers are addressable
// immediately after start; there is no separate readiness wait the way
// the orchestrator backend needs one.
func (b *Backend) Start(ctx context.Context, h sandbox.SandboxHandle) error {
	handle, err := asHandle(h)
	if err != nil {
		return err
	}
	if err := b.api.ContainerStart(ctx, handle.containerID, container.StartOptions{}); err != nil {
		return sandbox.NewBackendError("container start", err)
	}
	return nil
}

// Exec runs argv inside the container and captures stdout/stderr
// separately via stdcopy demultiplexing, exactly as the teacher's
// Client.Exec does.
func (b *Backend) Exec(ctx context.Context, h sandbox.SandboxHandle, argv []string, opts sandbox.ExecOptions) (sandbox.CommandResult, error) {
	handle, err := asHandle(h)
	if err != nil {
		return sandbox.CommandResult{}, err
	}
	if len(argv) == 0 {
		return sandbox.CommandResult{}, sandbox.NewBackendError("exec: empty argv", nil)
	}

	execResp, err := b.api.ContainerExecCreate(ctx, handle.containerID, types.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          argv,
		WorkingDir:   opts.WorkDir,
	})
	if err != nil {
		return sandbox.CommandResult{}, sandbox.NewBackendError("exec create", err)
	}

	attach, err := b.api.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return sandbox.CommandResult{}, sandbox.NewBackendError("exec attach", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return sandbox.CommandResult{}, sandbox.NewBackendError("exec stream", err)
	}

	inspect, err := b.api.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return sandbox.CommandResult{}, sandbox.NewBackendError("exec inspect", err)
	}

	return sandbox.CommandResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Put copies hostPath onto the container at sandboxPath via
// CopyToContainer, matching the teacher's tar-archive construction.
func (b *Backend) Put(ctx context.Context, h sandbox.SandboxHandle, hostPath, sandboxPath string) error {
	handle, err := asHandle(h)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(hostPath)
	if err != nil {
		return sandbox.NewBackendError("put: read host file", err)
	}
	dir, name := splitPath(sandboxPath)
	archive, err := artifact.Pack(name, data, 0o644)
	if err != nil {
		return sandbox.NewBackendError("put: pack archive", err)
	}
	if err := b.api.CopyToContainer(ctx, handle.containerID, dir, bytes.NewReader(archive), types.CopyToContainerOptions{
		AllowOverwriteDirWithFile: true,
	}); err != nil {
		return sandbox.NewBackendError("put: copy to container", err)
	}
	return nil
}

// Get retrieves sandboxPath as a single-entry tar stream via
// CopyFromContainer.
func (b *Backend) Get(ctx context.Context, h sandbox.SandboxHandle, sandboxPath string) (io.Reader, sandbox.ArtifactStat, error) {
	handle, err := asHandle(h)
	if err != nil {
		return nil, sandbox.ArtifactStat{}, err
	}
	rc, stat, err := b.api.CopyFromContainer(ctx, handle.containerID, sandboxPath)
	if err != nil {
		return nil, sandbox.ArtifactStat{}, sandbox.NewBackendError("get: copy from container", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, sandbox.ArtifactStat{}, sandbox.NewBackendError("get: read archive", err)
	}
	return &buf, sandbox.ArtifactStat{Name: stat.Name, Size: stat.Size, Mtime: stat.Mtime.Unix()}, nil
}

// RunCode installs dependencies (logged, not fatal, on failure), writes
// the code to a uuid-named file via base64-encoded echo, and runs it —
// the same three-step sequence as docker.py's run_code.
func (b *Backend) RunCode(ctx context.Context, h sandbox.SandboxHandle, req sandbox.ExecutionRequest) (sandbox.CommandResult, error) {
	handle, err := asHandle(h)
	if err != nil {
		return sandbox.CommandResult{}, err
	}
	plan, ok := sandbox.LanguagePlanFor(b.plans, req.Language)
	if !ok {
		return sandbox.CommandResult{}, sandbox.NewBackendError(fmt.Sprintf("unsupported language %q", req.Language), nil)
	}

	if len(req.Dependencies) > 0 && plan.HasInstallPlan() {
		installArgv := plan.InstallArgv(req.Dependencies)
		if len(installArgv) > 0 {
			// Dependency install failures are logged, not treated as fatal:
			// a missing package should still let the run attempt and report
			// its own error.
			installResult, err := b.Exec(ctx, h, installArgv, sandbox.ExecOptions{})
			if err != nil {
				log.Printf("localengine: dependency install: %v", err)
			} else if installResult.ExitCode != 0 {
				log.Printf("localengine: dependency install exited %d: %s", installResult.ExitCode, installResult.Stderr)
			}
		}
	}

	filePath := fmt.Sprintf("/sandbox/code_%s%s", strings.ReplaceAll(uuid.New().String(), "-", ""), plan.Extension)
	encoded := base64.StdEncoding.EncodeToString([]byte(req.Code))
	writeArgv := []string{"sh", "-c", fmt.Sprintf("echo %s | base64 -d > %s", shQuote(encoded), filePath)}
	if _, err := b.Exec(ctx, h, writeArgv, sandbox.ExecOptions{}); err != nil {
		return sandbox.CommandResult{}, sandbox.NewBackendError("materialise code", err)
	}

	runArgv := plan.RunArgv(filePath)
	return b.Exec(ctx, h, runArgv, sandbox.ExecOptions{})
}

// Destroy force-removes the container. It tolerates "already gone" so
// repeated or racing teardown calls never fail.
func (b *Backend) Destroy(ctx context.Context, h sandbox.SandboxHandle) error {
	handle, err := asHandle(h)
	if err != nil {
		return err
	}
	if err := b.api.ContainerRemove(ctx, handle.containerID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return sandbox.NewBackendError("container remove", err)
	}
	return nil
}

func asHandle(h sandbox.SandboxHandle) (*Handle, error) {
	handle, ok := h.(*Handle)
	if !ok {
		return nil, sandbox.NewBackendError("handle not owned by localengine backend", nil)
	}
	return handle, nil
}

func splitPath(p string) (dir, name string) {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return ".", p
	}
	if idx == 0 {
		return "/", p[1:]
	}
	return p[:idx], p[idx+1:]
}

func shQuote(s string) string {
	return "\"" + s + "\""
}
