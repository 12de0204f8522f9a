package sandbox

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"silexa/sandbox/artifact"
	"silexa/sandbox/metrics"
)

// state mirrors the Supervisor state machine from the design: fresh ->
// provisioning -> ready -> running -> done|failed, with a separate
// terminal destroyed reached from any non-destroyed state. It exists for
// diagnostics and tests; callers drive the Session through its methods,
// not through state transitions directly.
type state int32

const (
	stateFresh state = iota
	stateProvisioning
	stateReady
	stateRunning
	stateDone
	stateFailed
	stateDestroyed
)

// Session is a scoped, single-use binding between a caller and one live
// sandbox environment. It owns at most one SandboxHandle, never exposes
// it, and guarantees teardown once Close is called.
//
// Operations on one SandboxHandle are serialised: every Session method
// holds an internal mutex for its whole duration, so a second call made
// while another is in progress blocks until the first returns.
type Session struct {
	mu        sync.Mutex
	backend   Backend
	handle    SandboxHandle
	language  SupportedLanguage
	plans     map[SupportedLanguage]LanguagePlan
	logger    *log.Logger
	metrics   *metrics.Recorder
	outputDir string
	state     state
	destroyed bool
}

// Option configures Open.
type Option func(*Session)

// WithLogger overrides the default logger (log.Default()).
func WithLogger(l *log.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithLanguagePlans overrides the built-in Language Plan table, primarily
// for tests that substitute a fake plan for every language.
func WithLanguagePlans(plans map[SupportedLanguage]LanguagePlan) Option {
	return func(s *Session) { s.plans = plans }
}

// WithOutputDir overrides the host directory artifacts are staged under
// (default "./output").
func WithOutputDir(dir string) Option {
	return func(s *Session) { s.outputDir = dir }
}

// WithMetrics attaches a metrics recorder. A nil recorder (the default)
// disables instrumentation.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Session) { s.metrics = r }
}

// Open acquires a backend from registry under backendKind, provisions an
// environment for language, and waits for it to become ready. If backend
// construction, Create, or Start fails, Open tears down whatever was
// created before propagating the error — no resource is ever leaked back
// to the caller.
func Open(ctx context.Context, registry *Registry, backendKind BackendKind, language SupportedLanguage, opts ...Option) (*Session, error) {
	backend, err := registry.Create(string(backendKind))
	if err != nil {
		return nil, err
	}

	s := &Session{
		backend:   backend,
		language:  language,
		plans:     DefaultLanguagePlans(),
		logger:    log.Default(),
		outputDir: "./output",
		state:     stateFresh,
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, ok := s.plans[language]; !ok {
		return nil, NewBackendError(fmt.Sprintf("unsupported language %q", language), nil)
	}

	s.state = stateProvisioning
	handle, err := backend.Create(ctx, language)
	if err != nil {
		return nil, NewBackendError("create sandbox", err)
	}
	s.handle = handle

	if err := backend.Start(ctx, handle); err != nil {
		if destroyErr := backend.Destroy(ctx, handle); destroyErr != nil {
			s.logger.Printf("sandbox: teardown after failed start: %v", destroyErr)
		}
		return nil, NewBackendError("start sandbox", err)
	}

	s.state = stateReady
	s.metrics.SessionCreated(string(backendKind), string(language))
	return s, nil
}

// Exec delegates to the backend, running argv synchronously inside the
// sandbox.
func (s *Session) Exec(ctx context.Context, argv []string, opts ExecOptions) (CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateRunning
	result, err := s.backend.Exec(ctx, s.handle, argv, opts)
	if err != nil {
		s.state = stateFailed
		return CommandResult{}, NewBackendError("exec", err)
	}
	s.metrics.Exec(result.ExitCode)
	s.state = stateReady
	return result, nil
}

// RunCode runs code in plain mode: install dependencies (if any and the
// language declares an install plan — failures are logged and do not
// short-circuit the run, per the preserved "log and continue" policy),
// materialise the source, and run it.
func (s *Session) RunCode(ctx context.Context, code string, dependencies []string) (CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateRunning

	result, err := s.backend.RunCode(ctx, s.handle, ExecutionRequest{
		Code:         code,
		Language:     s.language,
		Dependencies: dependencies,
	})
	if err != nil {
		s.state = stateFailed
		return CommandResult{}, NewBackendError("run_code", err)
	}
	s.metrics.Exec(result.ExitCode)
	s.state = stateDone
	return result, nil
}

// RunCodeWithArtifacts runs code exactly as RunCode does, then retrieves
// each requested artifact path. A path that could not be retrieved is
// logged and omitted from the result — it never fails the whole call.
func (s *Session) RunCodeWithArtifacts(ctx context.Context, code string, dependencies []string, artifactPaths []string) (ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateRunning

	cmdResult, err := s.backend.RunCode(ctx, s.handle, ExecutionRequest{
		Code:         code,
		Language:     s.language,
		Dependencies: dependencies,
	})
	if err != nil {
		s.state = stateFailed
		return ExecutionResult{}, NewBackendError("run_code", err)
	}
	s.metrics.Exec(cmdResult.ExitCode)

	handles := make([]ArtifactHandle, 0, len(artifactPaths))
	for _, requested := range artifactPaths {
		sandboxPath := artifact.NormalizeSandboxPath(requested)
		logicalName := strings.TrimPrefix(requested, "/")
		if idx := strings.LastIndex(logicalName, "/"); idx >= 0 {
			logicalName = logicalName[idx+1:]
		}

		archiveStream, stat, err := s.backend.Get(ctx, s.handle, sandboxPath)
		if err != nil {
			s.logger.Printf("sandbox: artifact %q not retrieved: %v", requested, err)
			s.metrics.ArtifactMissing()
			continue
		}
		_, data, err := artifact.Unpack(archiveStream)
		if err != nil {
			s.logger.Printf("sandbox: artifact %q unpack failed: %v", requested, err)
			s.metrics.ArtifactMissing()
			continue
		}
		hostPath, err := artifact.Stage(s.outputDir, logicalName, data)
		if err != nil {
			s.logger.Printf("sandbox: artifact %q stage failed: %v", requested, err)
			s.metrics.ArtifactMissing()
			continue
		}
		size := stat.Size
		if size == 0 {
			size = int64(len(data))
		}
		handles = append(handles, ArtifactHandle{HostPath: hostPath, Size: size, LogicalName: logicalName})
		s.metrics.ArtifactStaged()
	}

	s.state = stateDone
	return ExecutionResult{CommandResult: cmdResult, Artifacts: handles}, nil
}

// Close stops and destroys the sandbox environment. It is idempotent and
// never returns an error to the caller: teardown errors are logged and
// swallowed so they never shadow an in-flight user error. Callers should
// defer Close immediately after Open succeeds.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	if err := s.backend.Destroy(ctx, s.handle); err != nil {
		s.logger.Printf("sandbox: teardown: %v", err)
	}
	s.metrics.SessionDestroyed()
	s.state = stateDestroyed
}

// Run is the scoped-acquisition convenience entry point: it opens a
// Session, invokes fn, and guarantees Close runs on every exit path
// (including fn panicking or returning an error), mirroring the teacher
// pack's context-manager idiom with Go's defer.
func Run(ctx context.Context, registry *Registry, backendKind BackendKind, language SupportedLanguage, fn func(*Session) error, opts ...Option) error {
	s, err := Open(ctx, registry, backendKind, language, opts...)
	if err != nil {
		return err
	}
	defer s.Close(ctx)
	return fn(s)
}
