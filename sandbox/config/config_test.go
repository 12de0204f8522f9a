package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silexa/sandbox"
)

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Images)
}

func TestLoadParsesDocument(t *testing.T) {
	doc := `
[images]
python = "my-sandbox:python"

[orchestrator]
namespace = "team-sandbox"
readiness_poll_interval_ms = 500
readiness_max_attempts = 30

[local_engine]
keep_alive_command = "sleep infinity"
`
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "my-sandbox:python", cfg.Images["python"])
	assert.Equal(t, "team-sandbox", cfg.Orchestrator.Namespace)
	assert.Equal(t, 500, cfg.Orchestrator.ReadinessPollIntervalMs)
	assert.Equal(t, "sleep infinity", cfg.LocalEngine.KeepAliveCommand)
}

func TestOverlayImagesOnlyTouchesImageField(t *testing.T) {
	cfg := Config{Images: map[string]string{"python": "override:python"}}
	base := sandbox.DefaultLanguagePlans()
	overlaid := cfg.OverlayImages(base)

	pyPlan, ok := sandbox.LanguagePlanFor(overlaid, sandbox.Python)
	require.True(t, ok)
	assert.Equal(t, "override:python", pyPlan.Image)
	assert.Equal(t, base[sandbox.Python].Extension, pyPlan.Extension)

	goPlan, ok := sandbox.LanguagePlanFor(overlaid, sandbox.Go)
	require.True(t, ok)
	assert.Equal(t, base[sandbox.Go].Image, goPlan.Image, "languages without an override keep the default image")
}

func TestOverlayImagesNoOpWhenEmpty(t *testing.T) {
	cfg := Config{}
	base := sandbox.DefaultLanguagePlans()
	overlaid := cfg.OverlayImages(base)
	assert.Equal(t, base[sandbox.Python].Image, overlaid[sandbox.Python].Image)
}

func TestReadinessDefaultsFallBackWhenUnset(t *testing.T) {
	var o Orchestrator
	assert.Equal(t, 100, o.ReadinessMaxAttemptsOr(100))
	assert.Equal(t, "tail -f /dev/null", LocalEngine{}.KeepAliveCommandOr("tail -f /dev/null"))
}
