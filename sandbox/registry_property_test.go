package sandbox

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeBackend struct{ id int }

func (f *fakeBackend) Create(ctx context.Context, lang SupportedLanguage) (SandboxHandle, error) {
	return nil, nil
}
func (f *fakeBackend) Start(ctx context.Context, h SandboxHandle) error { return nil }
func (f *fakeBackend) Exec(ctx context.Context, h SandboxHandle, argv []string, opts ExecOptions) (CommandResult, error) {
	return CommandResult{}, nil
}
func (f *fakeBackend) Put(ctx context.Context, h SandboxHandle, hostPath, sandboxPath string) error {
	return nil
}
func (f *fakeBackend) Get(ctx context.Context, h SandboxHandle, sandboxPath string) (io.Reader, ArtifactStat, error) {
	return nil, ArtifactStat{}, nil
}
func (f *fakeBackend) RunCode(ctx context.Context, h SandboxHandle, req ExecutionRequest) (CommandResult, error) {
	return CommandResult{}, nil
}
func (f *fakeBackend) Destroy(ctx context.Context, h SandboxHandle) error { return nil }

// Property: for any sequence of Register calls, the last registration for
// a given key wins — Create always constructs via that last constructor —
// and Available() always reports exactly the set of distinct keys
// registered so far.
func TestRegistryLastWriteWins(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		keys := rapid.SliceOfN(rapid.StringMatching(`[a-c]`), 1, 20).Draw(rt, "keys")

		registry := NewRegistry()
		want := map[string]int{}
		for i, key := range keys {
			id := i
			registry.Register(key, func() (Backend, error) { return &fakeBackend{id: id}, nil })
			want[key] = id
		}

		for key, id := range want {
			backend, err := registry.Create(key)
			require.NoError(rt, err)
			fb, ok := backend.(*fakeBackend)
			require.True(rt, ok)
			require.Equal(rt, id, fb.id)
		}

		available := registry.Available()
		require.Len(rt, available, len(want))
		for _, k := range available {
			_, ok := want[k]
			require.True(rt, ok)
		}
	})
}

func TestRegistryUnknownKeyReturnsBackendNotAvailable(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Create("missing")
	require.Error(t, err)
	var notAvailable *BackendNotAvailable
	require.ErrorAs(t, err, &notAvailable)
}

func TestRegistryCreateInvokesFreshConstructorEachCall(t *testing.T) {
	registry := NewRegistry()
	calls := 0
	registry.Register("k", func() (Backend, error) {
		calls++
		return &fakeBackend{id: calls}, nil
	})
	b1, err := registry.Create("k")
	require.NoError(t, err)
	b2, err := registry.Create("k")
	require.NoError(t, err)
	require.NotSame(t, b1, b2)
	require.Equal(t, 2, calls)
}
