package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Resolved is the effective configuration after all four layers have been
// applied, with derived values filled in.
type Resolved struct {
	Config

	// ConfigPath is the config file that was consulted (it may not exist).
	ConfigPath string
	// DataDir is the absolute credential store directory.
	DataDir string
	// Timeout is Network.Timeout parsed.
	Timeout time.Duration
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. File (or defaults)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Environment
	if env.BaseURL != "" {
		cfg.Backend.BaseURL = env.BaseURL
	}

	if env.DataDir != "" {
		cfg.Storage.DataDir = env.DataDir
	}

	// 4. CLI
	if cli.BaseURL != "" {
		cfg.Backend.BaseURL = cli.BaseURL
	}

	// Overrides bypassed file validation, so check the final result again.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	r := &Resolved{Config: *cfg, ConfigPath: cfgPath}

	r.DataDir = expandTilde(cfg.Storage.DataDir)
	if r.DataDir == "" {
		r.DataDir = DefaultDataDir()
	}

	if err := ValidateResolved(r); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	// Already validated by Validate.
	r.Timeout, _ = time.ParseDuration(cfg.Network.Timeout)

	return r, nil
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
