// Package configstore persists launcher settings as TOML inside the state
// directory. Absent files and absent keys resolve to defaults; secrets never
// live here.
package configstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/openclaw/clawdock/internal/engine"
	"github.com/openclaw/clawdock/internal/listen"
)

const settingsFileName = "settings.toml"

// Port allocation modes.
const (
	PortModeFixed  = "fixed"
	PortModeRandom = "random"
)

// Settings is the persisted launcher configuration.
type Settings struct {
	Image         string            `toml:"image"`
	ContainerName string            `toml:"container_name"`
	Workspace     string            `toml:"workspace,omitempty"`
	Port          PortSettings      `toml:"port"`
	Limits        LimitSettings     `toml:"limits"`
	Browser       BrowserSettings   `toml:"browser"`
	Telemetry     TelemetrySettings `toml:"telemetry"`
}

// PortSettings picks the gateway port policy. The allocated port itself is
// persisted in the env file, not here.
type PortSettings struct {
	Mode   string `toml:"mode"`
	Number int    `toml:"number"`
}

// LimitSettings is the configurable subset of the container lockdown
// profile.
type LimitSettings struct {
	Memory string `toml:"memory"`
	CPUs   string `toml:"cpus"`
	Pids   int    `toml:"pids"`
}

// BrowserSettings controls the open-in-browser side effect after launch.
type BrowserSettings struct {
	Open bool `toml:"open"`
}

// TelemetrySettings controls anonymous usage events.
type TelemetrySettings struct {
	Enabled bool `toml:"enabled"`
}

// Defaults returns the settings used when nothing is persisted.
func Defaults() Settings {
	limits := engine.DefaultLimits()
	return Settings{
		Image:         "ghcr.io/openclaw/openclaw:latest",
		ContainerName: "openclaw-gateway",
		Port:          PortSettings{Mode: PortModeFixed, Number: listen.DefaultGatewayPort},
		Limits:        LimitSettings{Memory: limits.Memory, CPUs: limits.CPUs, Pids: limits.Pids},
		Browser:       BrowserSettings{Open: true},
		Telemetry:     TelemetrySettings{Enabled: true},
	}
}

// EngineLimits converts the settings limits for container creation.
func (s Settings) EngineLimits() engine.Limits {
	return engine.Limits{Memory: s.Limits.Memory, CPUs: s.Limits.CPUs, Pids: s.Limits.Pids}
}

func (s *Settings) normalize() {
	defaults := Defaults()
	if s.Image == "" {
		s.Image = defaults.Image
	}
	if s.ContainerName == "" {
		s.ContainerName = defaults.ContainerName
	}
	if s.Port.Mode != PortModeFixed && s.Port.Mode != PortModeRandom {
		s.Port.Mode = defaults.Port.Mode
	}
	if s.Port.Number <= 0 || s.Port.Number > 65535 {
		s.Port.Number = defaults.Port.Number
	}
	if s.Limits.Pids < 0 {
		s.Limits.Pids = defaults.Limits.Pids
	}
}

// ParseError represents a TOML decode failure.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse settings %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Path returns the settings file location inside dir.
func Path(dir string) string {
	return filepath.Join(dir, settingsFileName)
}

// Load reads settings from dir. A missing file yields defaults; keys absent
// from the file keep their default values.
func Load(dir string) (Settings, error) {
	cfg := Defaults()
	path := Path(dir)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read settings: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			return Defaults(), &ParseError{Path: path, Err: decodeErr}
		}
		return Defaults(), err
	}
	cfg.normalize()
	return cfg, nil
}

// Save atomically writes the settings to dir.
func Save(dir string, cfg Settings) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "settings-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleaned := false
	defer func() {
		if !cleaned {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	encoder := toml.NewEncoder(tmp)
	if err := encoder.Encode(cfg); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp settings: %w", err)
	}
	if err := os.Rename(tmpName, Path(dir)); err != nil {
		return fmt.Errorf("rename temp settings: %w", err)
	}
	cleaned = true
	return nil
}
