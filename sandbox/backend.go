package sandbox

import (
	"context"
	"io"
)

// SandboxHandle identifies one live environment. It is opaque outside the
// backend that created it: a local-engine handle wraps a container ID, an
// orchestrator handle wraps a deployment name plus a discovered pod name.
// A Session owns at most one SandboxHandle and never exposes it.
type SandboxHandle interface {
	// Language is the language the environment was provisioned for.
	Language() SupportedLanguage
}

// ExecOptions carries the optional knobs for a single Exec call.
type ExecOptions struct {
	WorkDir string
}

// Backend is the polymorphic contract every substrate (local container
// engine, cluster orchestrator) must implement. All operations are
// blocking; non-zero exit codes from Exec/RunCode are ordinary results,
// not errors — only a substrate fault (environment lost, exec channel
// broken, provisioning refused) returns a *BackendError.
type Backend interface {
	// Create provisions a fresh environment for lang and returns once it
	// is addressable (not necessarily ready).
	Create(ctx context.Context, lang SupportedLanguage) (SandboxHandle, error)

	// Start transitions the environment to runnable, waiting for
	// readiness where the substrate requires it.
	Start(ctx context.Context, h SandboxHandle) error

	// Exec runs a single command synchronously and captures stdout/stderr
	// separately.
	Exec(ctx context.Context, h SandboxHandle, argv []string, opts ExecOptions) (CommandResult, error)

	// Put copies hostPath into the sandbox at sandboxPath.
	Put(ctx context.Context, h SandboxHandle, hostPath, sandboxPath string) error

	// Get retrieves sandboxPath as a packed single-entry archive stream,
	// plus its stat.
	Get(ctx context.Context, h SandboxHandle, sandboxPath string) (io.Reader, ArtifactStat, error)

	// RunCode installs dependencies (if any), materialises code, and runs
	// it, returning the run's CommandResult.
	RunCode(ctx context.Context, h SandboxHandle, req ExecutionRequest) (CommandResult, error)

	// Destroy tears down the environment. It must be idempotent and must
	// not fail on "already gone".
	Destroy(ctx context.Context, h SandboxHandle) error
}

// ArtifactStat is the metadata that accompanies a Get archive stream.
type ArtifactStat struct {
	Name  string
	Size  int64
	Mtime int64
}
