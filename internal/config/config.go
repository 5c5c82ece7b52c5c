// Package config loads the optional agency/config.yaml preferences file that
// agencyd and agencyctl both consult for defaults, mirroring the
// project.yaml registration files the teacher's CLIs maintain by hand.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Project is a named shortcut for a repository root, so agencyctl can be
// invoked as `agencyctl open myapp 7 feat claude` instead of spelling out
// the full path every time.
type Project struct {
	Name string `yaml:"name"`
	Repo string `yaml:"repo"`
}

// Config is the parsed contents of the config file at Path().
type Config struct {
	// Sock overrides the default socket path (still itself overridable by
	// the AGENCY_SOCK environment variable and the --sock flag).
	Sock string `yaml:"sock"`

	Projects []Project `yaml:"projects"`
}

// Path returns the canonical config file location: $XDG_CONFIG_HOME/agency/config.yaml,
// falling back to ~/.config/agency/config.yaml.
func Path() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "agency", "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "agency", "config.yaml"), nil
}

// Load reads and parses the config file at Path(). A missing file is not
// an error — it returns a zero-value Config, since every field has a
// sensible default elsewhere in the call chain.
func Load() (Config, error) {
	path, err := Path()
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveRepo looks up name among the configured projects and returns its
// repo root. If name isn't a configured shortcut, it is returned unchanged
// so callers can always pass a literal path.
func (c Config) ResolveRepo(name string) string {
	for _, p := range c.Projects {
		if p.Name == name {
			return p.Repo
		}
	}
	return name
}
