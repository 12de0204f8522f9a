// Package config loads the sandbox's narrow, core-internal settings
// surface: per-language image overrides, the orchestrator's namespace
// and readiness budget, and the local engine's keep-alive command. It is
// deliberately small — the wider "logging transport and configuration
// file parsing" system is out of scope — but what it does cover follows
// the teacher's own TOML convention (tools/si/settings.go) via
// github.com/pelletier/go-toml/v2.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"silexa/sandbox"
)

// Config is the root settings document.
type Config struct {
	Images       map[string]string `toml:"images,omitempty"`
	Orchestrator Orchestrator      `toml:"orchestrator,omitempty"`
	LocalEngine  LocalEngine       `toml:"local_engine,omitempty"`
}

// Orchestrator holds cluster-backend settings.
type Orchestrator struct {
	Namespace                string `toml:"namespace,omitempty"`
	ReadinessPollIntervalMs  int    `toml:"readiness_poll_interval_ms,omitempty"`
	ReadinessMaxAttempts     int    `toml:"readiness_max_attempts,omitempty"`
}

// LocalEngine holds local-container-backend settings.
type LocalEngine struct {
	KeepAliveCommand string `toml:"keep_alive_command,omitempty"`
}

// Load reads and parses a TOML config file. A missing file is not an
// error — Load returns a zero-value Config, and callers overlay it onto
// defaults exactly as if no file had been given.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// OverlayImages replaces only the Image field of each named language
// plan, leaving InstallArgv/RunArgv untouched — those are tied to the
// interpreter, not to deployment policy.
func (c Config) OverlayImages(plans map[sandbox.SupportedLanguage]sandbox.LanguagePlan) map[sandbox.SupportedLanguage]sandbox.LanguagePlan {
	if len(c.Images) == 0 {
		return plans
	}
	overlaid := make(map[sandbox.SupportedLanguage]sandbox.LanguagePlan, len(plans))
	for lang, plan := range plans {
		if image, ok := c.Images[string(lang)]; ok && image != "" {
			plan.Image = image
		}
		overlaid[lang] = plan
	}
	return overlaid
}

// ReadinessPollInterval returns the configured poll interval, or
// fallback if unset.
func (o Orchestrator) ReadinessPollInterval(fallback time.Duration) time.Duration {
	if o.ReadinessPollIntervalMs <= 0 {
		return fallback
	}
	return time.Duration(o.ReadinessPollIntervalMs) * time.Millisecond
}

// ReadinessMaxAttemptsOr returns the configured attempt budget, or
// fallback if unset.
func (o Orchestrator) ReadinessMaxAttemptsOr(fallback int) int {
	if o.ReadinessMaxAttempts <= 0 {
		return fallback
	}
	return o.ReadinessMaxAttempts
}

// KeepAliveCommandOr returns the configured keep-alive command, or
// fallback if unset.
func (l LocalEngine) KeepAliveCommandOr(fallback string) string {
	if l.KeepAliveCommand == "" {
		return fallback
	}
	return l.KeepAliveCommand
}
