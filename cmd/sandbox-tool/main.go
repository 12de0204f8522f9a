// Command sandbox-tool exposes the sandbox Session Supervisor as an MCP
// tool server, the way tools/credentials-mcp exposes the credentials
// broker: github.com/modelcontextprotocol/go-sdk's mcp.NewServer plus a
// streamable HTTP handler, one typed tool (run_code_in_sandbox), and
// nothing else — this binary is thin plumbing, all behavior lives in the
// sandbox package.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"silexa/sandbox"
	"silexa/sandbox/config"
	"silexa/sandbox/localengine"
	"silexa/sandbox/metrics"
	"silexa/sandbox/orchestrator"
)

// RunCodeInput matches the tool-server adapter field names from the
// sandbox's own wire contract: code, language, libraries?, file_paths?.
type RunCodeInput struct {
	Code      string   `json:"code"`
	Language  string   `json:"language"`
	Libraries []string `json:"libraries,omitempty"`
	FilePaths []string `json:"file_paths,omitempty"`
}

// RunCodeOutput mirrors sandbox.ExecutionResult.
type RunCodeOutput struct {
	ExitCode  int      `json:"exit_code"`
	Stdout    string   `json:"stdout"`
	Stderr    string   `json:"stderr"`
	Artifacts []string `json:"artifacts,omitempty"`
}

type server struct {
	registry  *sandbox.Registry
	logger    *log.Logger
	metrics   *metrics.Recorder
	outputDir string
}

func main() {
	logger := log.New(os.Stdout, "sandbox-tool ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load(envOr("SANDBOX_CONFIG", "/etc/sandbox/config.toml"))
	if err != nil {
		logger.Fatalf("config load: %v", err)
	}
	plans := cfg.OverlayImages(sandbox.DefaultLanguagePlans())
	recorder := metrics.NewRecorder(nil)

	registry := sandbox.NewRegistry()
	registry.Register(string(sandbox.LocalEngine), func() (sandbox.Backend, error) {
		api, err := localengine.Dial()
		if err != nil {
			return nil, err
		}
		return localengine.New(api, localengine.WithLanguagePlans(plans)), nil
	})
	registry.Register(string(sandbox.Orchestrator), func() (sandbox.Backend, error) {
		clientset, restCfg, err := orchestrator.Dial()
		if err != nil {
			return nil, err
		}
		return orchestrator.New(clientset, restCfg,
			orchestrator.WithLanguagePlans(plans),
			orchestrator.WithNamespace(cfg.Orchestrator.Namespace),
			orchestrator.WithReadinessBudget(orchestrator.ReadinessBudget{
				PollInterval: cfg.Orchestrator.ReadinessPollInterval(time.Second),
				MaxAttempts:  cfg.Orchestrator.ReadinessMaxAttemptsOr(100),
			}),
		), nil
	})

	srv := &server{
		registry:  registry,
		logger:    logger,
		metrics:   recorder,
		outputDir: envOr("SANDBOX_OUTPUT_DIR", "./output"),
	}

	impl := &mcp.Implementation{
		Name:    "sandbox-tool",
		Title:   "Code Execution Sandbox",
		Version: "0.1.0",
	}
	mcpServer := mcp.NewServer(impl, &mcp.ServerOptions{HasTools: true})

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "run_code_in_sandbox",
		Description: "Run untrusted code in an isolated sandbox and return its output, optionally retrieving generated artifact files.",
	}, srv.runCodeInSandbox)

	handler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, &mcp.StreamableHTTPOptions{JSONResponse: true})

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := envOr("ADDR", ":8092")
	logger.Printf("listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatalf("serve: %v", err)
	}
}

func (s *server) runCodeInSandbox(ctx context.Context, _ *mcp.CallToolRequest, in RunCodeInput) (*mcp.CallToolResult, RunCodeOutput, error) {
	language, ok := sandbox.ParseLanguage(in.Language)
	if !ok {
		return nil, RunCodeOutput{}, errors.New("unsupported language: " + in.Language)
	}

	backendKind := sandbox.LocalEngine
	if strings.TrimSpace(os.Getenv("SANDBOX_BACKEND")) == string(sandbox.Orchestrator) {
		backendKind = sandbox.Orchestrator
	}

	sess, err := sandbox.Open(ctx, s.registry, backendKind, language,
		sandbox.WithLogger(s.logger),
		sandbox.WithMetrics(s.metrics),
		sandbox.WithOutputDir(s.outputDir),
	)
	if err != nil {
		return nil, RunCodeOutput{}, err
	}
	defer sess.Close(ctx)

	if len(in.FilePaths) == 0 {
		result, err := sess.RunCode(ctx, in.Code, in.Libraries)
		if err != nil {
			return nil, RunCodeOutput{}, err
		}
		return nil, RunCodeOutput{ExitCode: result.ExitCode, Stdout: result.Stdout, Stderr: result.Stderr}, nil
	}

	result, err := sess.RunCodeWithArtifacts(ctx, in.Code, in.Libraries, in.FilePaths)
	if err != nil {
		return nil, RunCodeOutput{}, err
	}
	artifacts := make([]string, 0, len(result.Artifacts))
	for _, a := range result.Artifacts {
		artifacts = append(artifacts, a.HostPath)
	}
	return nil, RunCodeOutput{
		ExitCode:  result.ExitCode,
		Stdout:    result.Stdout,
		Stderr:    result.Stderr,
		Artifacts: artifacts,
	}, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
