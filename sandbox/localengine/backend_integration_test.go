//go:build integration

package localengine

import (
	"context"
	"testing"
	"time"

	"github.com/docker/docker/client"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"silexa/sandbox"
)

// TestLocalEngineRunsPythonEndToEnd provisions a long-running Python
// container with testcontainers-go (the same GenericContainer +
// wait.Strategy idiom platinummonkey-spoke's s3_integration_test.go uses
// for its MinIO fixture), then drives Exec/RunCode against it through a
// Handle built from the container's own ID, exercising the run_code
// smoke-test scenario spec.md §8 calls for.
func TestLocalEngineRunsPythonEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:      "python:3.12-alpine",
		Cmd:        []string{"sh", "-c", "mkdir -p /sandbox && tail -f /dev/null"},
		WaitingFor: wait.ForExec([]string{"true"}),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "docker engine must be reachable for this test")
	defer func() { _ = container.Terminate(ctx) }()

	containerID := container.GetContainerID()

	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	require.NoError(t, err)
	defer api.Close()

	plans := sandbox.DefaultLanguagePlans()
	backend := New(api, WithLanguagePlans(plans))
	handle := &Handle{containerID: containerID, language: sandbox.Python}

	result, err := backend.RunCode(ctx, handle, sandbox.ExecutionRequest{
		Code:     "print(1 + 1)",
		Language: sandbox.Python,
	})
	require.NoError(t, err)
	require.True(t, result.Success())
	require.Contains(t, result.Stdout, "2")
}
