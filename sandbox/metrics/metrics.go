// Package metrics wraps github.com/prometheus/client_golang for the
// sandbox Session Supervisor's operational counters. Grounded on the
// pack's own observability convention (BaSui01-agentflow's
// internal/metrics/collector.go and platinummonkey-spoke's
// pkg/observability/metrics.go both wrap client_golang behind a small
// recorder type rather than calling the global registry inline).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder records sandbox lifecycle events. A nil *Recorder is a valid
// no-op: every method tolerates it so embedders who don't want metrics
// never have to construct one.
type Recorder struct {
	sessionsCreated   *prometheus.CounterVec
	sessionsDestroyed prometheus.Counter
	execTotal         *prometheus.CounterVec
	artifactsTotal    *prometheus.CounterVec
}

// NewRecorder builds a Recorder and registers its collectors with reg. If
// reg is nil, prometheus.DefaultRegisterer is used.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_sessions_created_total",
			Help: "Sessions opened, by backend kind and language.",
		}, []string{"backend", "language"}),
		sessionsDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_sessions_destroyed_total",
			Help: "Sessions torn down (teardown attempted, regardless of outcome).",
		}),
		execTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_exec_total",
			Help: "Exec calls, by exit-code class.",
		}, []string{"exit_class"}),
		artifactsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_artifacts_total",
			Help: "Requested artifacts, by outcome (staged or missing).",
		}, []string{"outcome"}),
	}
	reg.MustRegister(r.sessionsCreated, r.sessionsDestroyed, r.execTotal, r.artifactsTotal)
	return r
}

func (r *Recorder) SessionCreated(backend, language string) {
	if r == nil {
		return
	}
	r.sessionsCreated.WithLabelValues(backend, language).Inc()
}

func (r *Recorder) SessionDestroyed() {
	if r == nil {
		return
	}
	r.sessionsDestroyed.Inc()
}

func (r *Recorder) Exec(exitCode int) {
	if r == nil {
		return
	}
	class := "nonzero"
	if exitCode == 0 {
		class = "zero"
	}
	r.execTotal.WithLabelValues(class).Inc()
}

func (r *Recorder) ArtifactStaged() {
	if r == nil {
		return
	}
	r.artifactsTotal.WithLabelValues("staged").Inc()
}

func (r *Recorder) ArtifactMissing() {
	if r == nil {
		return
	}
	r.artifactsTotal.WithLabelValues("missing").Inc()
}
