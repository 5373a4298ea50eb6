package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const platformDarwin = "darwin"

// Application directory name used across all platforms.
const appName = "cthulhu"

// Config file name.
const configFileName = "config.toml"

// DefaultConfigDir returns the directory holding config.toml: XDG_CONFIG_HOME
// or ~/.config on Linux and other Unixes, ~/Library/Application Support on
// macOS.
func DefaultConfigDir() string {
	return appDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the directory holding the credential store:
// XDG_DATA_HOME or ~/.local/share, ~/Library/Application Support on macOS
// (macOS collapses config and data into one directory).
func DefaultDataDir() string {
	return appDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// DefaultConfigPath returns the full path to the default config file. This
// is used when neither CTHULHU_CONFIG nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

func appDir(xdgVar, homeRel string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == platformDarwin {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	return xdgDir(home, xdgVar, homeRel)
}

// xdgDir honors an XDG base directory variable, falling back to home/homeRel.
func xdgDir(home, xdgVar, homeRel string) string {
	if xdg := os.Getenv(xdgVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, homeRel, appName)
}
