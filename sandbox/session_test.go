package sandbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silexa/sandbox/artifact"
)

type stubHandle struct{ lang SupportedLanguage }

func (h *stubHandle) Language() SupportedLanguage { return h.lang }

type stubBackend struct {
	startErr     error
	runCodeErr   error
	destroyErr   error
	destroyCalls int
	getData      map[string][]byte
	runResult    CommandResult
}

func (b *stubBackend) Create(ctx context.Context, lang SupportedLanguage) (SandboxHandle, error) {
	return &stubHandle{lang: lang}, nil
}

func (b *stubBackend) Start(ctx context.Context, h SandboxHandle) error { return b.startErr }

func (b *stubBackend) Exec(ctx context.Context, h SandboxHandle, argv []string, opts ExecOptions) (CommandResult, error) {
	return b.runResult, nil
}

func (b *stubBackend) Put(ctx context.Context, h SandboxHandle, hostPath, sandboxPath string) error {
	return nil
}

func (b *stubBackend) Get(ctx context.Context, h SandboxHandle, sandboxPath string) (io.Reader, ArtifactStat, error) {
	data, ok := b.getData[sandboxPath]
	if !ok {
		return nil, ArtifactStat{}, errors.New("not found")
	}
	archive, err := artifact.Pack("out.txt", data, 0o644)
	if err != nil {
		return nil, ArtifactStat{}, err
	}
	return bytes.NewReader(archive), ArtifactStat{Name: "out.txt", Size: int64(len(data))}, nil
}

func (b *stubBackend) RunCode(ctx context.Context, h SandboxHandle, req ExecutionRequest) (CommandResult, error) {
	if b.runCodeErr != nil {
		return CommandResult{}, b.runCodeErr
	}
	return b.runResult, nil
}

func (b *stubBackend) Destroy(ctx context.Context, h SandboxHandle) error {
	b.destroyCalls++
	return b.destroyErr
}

func registryWith(backend Backend) *Registry {
	r := NewRegistry()
	r.Register(string(LocalEngine), func() (Backend, error) { return backend, nil })
	return r
}

func TestOpenAndCloseTearsDownExactlyOnce(t *testing.T) {
	backend := &stubBackend{}
	ctx := context.Background()
	sess, err := Open(ctx, registryWith(backend), LocalEngine, Python)
	require.NoError(t, err)

	sess.Close(ctx)
	sess.Close(ctx)
	assert.Equal(t, 1, backend.destroyCalls, "Close must be idempotent")
}

func TestOpenTearsDownOnFailedStart(t *testing.T) {
	backend := &stubBackend{startErr: errors.New("start refused")}
	ctx := context.Background()
	_, err := Open(ctx, registryWith(backend), LocalEngine, Python)
	require.Error(t, err)
	assert.Equal(t, 1, backend.destroyCalls, "a failed Start must still tear down the created environment")
}

func TestOpenRejectsUnsupportedLanguage(t *testing.T) {
	backend := &stubBackend{}
	ctx := context.Background()
	_, err := Open(ctx, registryWith(backend), LocalEngine, SupportedLanguage("cobol"))
	require.Error(t, err)
}

func TestRunCodeReturnsResult(t *testing.T) {
	backend := &stubBackend{runResult: CommandResult{ExitCode: 0, Stdout: "hi"}}
	ctx := context.Background()
	sess, err := Open(ctx, registryWith(backend), LocalEngine, Python)
	require.NoError(t, err)
	defer sess.Close(ctx)

	result, err := sess.RunCode(ctx, "print('hi')", nil)
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, "hi", result.Stdout)
}

func TestRunCodeWithArtifactsOmitsMissingWithoutFailing(t *testing.T) {
	backend := &stubBackend{
		runResult: CommandResult{ExitCode: 0},
		getData:   map[string][]byte{"/sandbox/present.txt": []byte("data")},
	}
	ctx := context.Background()
	sess, err := Open(ctx, registryWith(backend), LocalEngine, Python, WithOutputDir(t.TempDir()))
	require.NoError(t, err)
	defer sess.Close(ctx)

	result, err := sess.RunCodeWithArtifacts(ctx, "code", nil, []string{"present.txt", "missing.txt"})
	require.NoError(t, err)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "present.txt", result.Artifacts[0].LogicalName)
}

func TestCloseSwallowsTeardownError(t *testing.T) {
	backend := &stubBackend{destroyErr: errors.New("container already gone")}
	ctx := context.Background()
	var logBuf bytes.Buffer
	sess, err := Open(ctx, registryWith(backend), LocalEngine, Python, WithLogger(log.New(&logBuf, "", 0)))
	require.NoError(t, err)

	assert.NotPanics(t, func() { sess.Close(ctx) })
	assert.Contains(t, logBuf.String(), "teardown")
}

func TestRunReturnsFnErrorAndStillTearsDown(t *testing.T) {
	backend := &stubBackend{}
	ctx := context.Background()
	wantErr := errors.New("caller failure")

	err := Run(ctx, registryWith(backend), LocalEngine, Python, func(s *Session) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, backend.destroyCalls)
}
