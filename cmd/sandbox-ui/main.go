// Command sandbox-ui is a small chi-routed HTML form front end for the
// sandbox Session Supervisor, in the same style as agents/dashboard's
// chi router plus an embedded static bundle, trimmed to one form and one
// submit handler.
package main

import (
	"context"
	"embed"
	"html/template"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"silexa/sandbox"
	"silexa/sandbox/config"
	"silexa/sandbox/localengine"
	"silexa/sandbox/metrics"
	"silexa/sandbox/orchestrator"
)

//go:embed templates/*.html
var templatesFS embed.FS

type server struct {
	registry  *sandbox.Registry
	logger    *log.Logger
	metrics   *metrics.Recorder
	outputDir string
	tmpl      *template.Template
}

func main() {
	logger := log.New(os.Stdout, "sandbox-ui ", log.LstdFlags|log.LUTC)

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

	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		logger.Fatalf("templates: %v", err)
	}

	s := &server{
		registry:  registry,
		logger:    logger,
		metrics:   recorder,
		outputDir: envOr("SANDBOX_OUTPUT_DIR", "./output"),
		tmpl:      tmpl,
	}

	r := chi.NewRouter()
	r.Get("/", s.handleForm)
	r.Post("/run", s.handleRun)

	addr := envOr("ADDR", ":8093")
	logger.Printf("listening on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Fatalf("server error: %v", err)
	}
}

type formView struct {
	Code          string
	Language      string
	Libraries     string
	ArtifactPaths string
	Result        *sandbox.CommandResult
	Artifacts     []sandbox.ArtifactHandle
	Error         string
}

func (s *server) handleForm(w http.ResponseWriter, r *http.Request) {
	_ = s.tmpl.ExecuteTemplate(w, "form.html", formView{Language: string(sandbox.Python)})
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	view := formView{
		Code:          r.FormValue("code"),
		Language:      r.FormValue("language"),
		Libraries:     r.FormValue("libraries"),
		ArtifactPaths: r.FormValue("artifact_paths"),
	}

	language, ok := sandbox.ParseLanguage(view.Language)
	if !ok {
		view.Error = "unsupported language: " + view.Language
		_ = s.tmpl.ExecuteTemplate(w, "form.html", view)
		return
	}

	var libs []string
	for _, lib := range strings.Split(view.Libraries, ",") {
		lib = strings.TrimSpace(lib)
		if lib != "" {
			libs = append(libs, lib)
		}
	}

	var artifactPaths []string
	for _, path := range strings.Split(view.ArtifactPaths, ",") {
		path = strings.TrimSpace(path)
		if path != "" {
			artifactPaths = append(artifactPaths, path)
		}
	}

	ctx := context.Background()
	sess, err := sandbox.Open(ctx, s.registry, sandbox.LocalEngine, language,
		sandbox.WithLogger(s.logger),
		sandbox.WithMetrics(s.metrics),
		sandbox.WithOutputDir(s.outputDir),
	)
	if err != nil {
		view.Error = err.Error()
		_ = s.tmpl.ExecuteTemplate(w, "form.html", view)
		return
	}
	defer sess.Close(ctx)

	if len(artifactPaths) == 0 {
		result, err := sess.RunCode(ctx, view.Code, libs)
		if err != nil {
			view.Error = err.Error()
			_ = s.tmpl.ExecuteTemplate(w, "form.html", view)
			return
		}
		view.Result = &result
		_ = s.tmpl.ExecuteTemplate(w, "form.html", view)
		return
	}

	execResult, err := sess.RunCodeWithArtifacts(ctx, view.Code, libs, artifactPaths)
	if err != nil {
		view.Error = err.Error()
		_ = s.tmpl.ExecuteTemplate(w, "form.html", view)
		return
	}
	view.Result = &execResult.CommandResult
	view.Artifacts = execResult.Artifacts
	_ = s.tmpl.ExecuteTemplate(w, "form.html", view)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
