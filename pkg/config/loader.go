package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FROYO_INSTALLER_"

// LoadOptions controls where settings are read from.
type LoadOptions struct {
	// ExeDir is the folder of the running executable. Defaults to the folder
	// of os.Executable.
	ExeDir string

	// Path is an explicit settings file. It must exist when set. When empty,
	// FileName in ExeDir is read if present.
	Path string

	// Environment replaces the process environment, for tests.
	Environment map[string]string
}

// Load resolves the settings: defaults, then the settings file, then
// FROYO_INSTALLER_* environment overrides, then derived paths and validation.
func Load(opts LoadOptions) (*Settings, error) {
	exeDir := opts.ExeDir
	if exeDir == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		exeDir = filepath.Dir(exe)
	}

	s := Defaults(exeDir)

	path, required := opts.Path, true
	if path == "" {
		path, required = filepath.Join(exeDir, FileName), false
	}
	if err := s.mergeFile(path, required); err != nil {
		return nil, err
	}

	envOpts := env.Options{Prefix: EnvPrefix}
	if opts.Environment != nil {
		envOpts.Environment = opts.Environment
	}
	if err := env.ParseWithOptions(s, envOpts); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	s.derive(exeDir)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) mergeFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	return nil
}

// derive resolves relative paths against exeDir and fills the paths that
// default to locations inside the site data folder.
func (s *Settings) derive(exeDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(exeDir, p)
	}

	s.SiteDataDir = abs(s.SiteDataDir)
	s.PortableDir = abs(s.PortableDir)
	s.DatabasePath = abs(s.DatabasePath)
	s.LogsDir = abs(s.LogsDir)
	s.ScriptDir = abs(s.ScriptDir)
	s.MetricsTextfile = abs(s.MetricsTextfile)

	if s.DatabasePath == "" {
		s.DatabasePath = filepath.Join(s.SiteDataDir, "installer.db")
	}
	if s.LogsDir == "" {
		s.LogsDir = filepath.Join(s.SiteDataDir, "logs")
	}
	// Continuation scripts must outlive the restart, so they never go to
	// the temp dir, which tmpfs hosts clear at boot.
	if s.ScriptDir == "" {
		s.ScriptDir = filepath.Join(s.SiteDataDir, "continuations")
	}
}

// Validate checks the settings against their validation tags.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
