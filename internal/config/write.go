package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// configFilePermissions is the standard permission mode for config files.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by CreateDefault when the file already exists.
var ErrConfigExists = errors.New("config file already exists")

// configTemplate is the content written by `config init`. Every option is
// present as a commented-out default so users can discover them without
// reading docs.
const configTemplate = `# cthulhu configuration

[backend]
# base_url = "http://localhost:7777"
# default_provider = "github"
# signin_route = "/signin"

[storage]
# Credential store: "sqlite" or "file"
# backend = "sqlite"
# data_dir = ""

[login]
# callback_addr = "127.0.0.1:0"
# callback_path = "/auth/callback"
# open_browser = true

[network]
# Timeout for non-transfer requests
# timeout = "30s"
# user_agent = ""

[logging]
# Verbosity: debug, info, warn, error
# level = "info"
# Format: auto, text, json
# format = "auto"

[bucket]
# max_password_attempts = 3
# parallel_downloads = 4
`

// CreateDefault writes the commented default config to path. It refuses to
// overwrite an existing file.
func CreateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	slog.Info("creating config file", slog.String("path", path))

	return atomicWriteFile(path, []byte(configTemplate))
}

// SetKey sets section.key = value in the config file at path, editing the
// text in place so comments and layout survive. A missing file is created
// from the template; a missing section is appended. The key must be known
// and the edited file must still validate.
func SetKey(path, section, key, value string) error {
	if err := checkKnownKey(section, key); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data = []byte(configTemplate)
	} else if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	slog.Info("setting config key",
		slog.String("path", path),
		slog.String("section", section),
		slog.String("key", key),
	)

	lines := strings.Split(string(data), "\n")
	newLine := fmt.Sprintf("%s = %s", key, formatTOMLValue(value))

	headerLine := findSectionHeader(lines, section)
	if headerLine < 0 {
		if n := len(lines); n > 0 && lines[n-1] == "" {
			lines = lines[:n-1]
		}

		lines = append(lines, "", "["+section+"]", newLine, "")
	} else {
		lines = setKeyInSection(lines, headerLine, key, newLine)
	}

	content := strings.Join(lines, "\n")

	if err := validateText(content); err != nil {
		return err
	}

	return atomicWriteFile(path, []byte(content))
}

func checkKnownKey(section, key string) error {
	keys, ok := knownKeys[section]
	if !ok {
		return unknownKeyError([]string{section})
	}

	for _, k := range keys {
		if k == key {
			return nil
		}
	}

	return unknownKeyError([]string{section, key})
}

// validateText runs the full load pipeline on candidate file content.
func validateText(content string) error {
	dir, err := os.MkdirTemp("", "cthulhu-config-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, configFileName)
	if err := os.WriteFile(path, []byte(content), configFilePermissions); err != nil {
		return fmt.Errorf("writing temp config: %w", err)
	}

	_, err = Load(path)

	return err
}

// findSectionHeader returns the line index of "[section]", or -1.
func findSectionHeader(lines []string, section string) int {
	header := "[" + section + "]"

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i
		}
	}

	return -1
}

// findSectionEnd returns the index of the next section header after start,
// or len(lines).
func findSectionEnd(lines []string, start int) int {
	for i := start; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "[") {
			return i
		}
	}

	return len(lines)
}

// setKeyInSection either replaces an existing (uncommented) key line or
// inserts a new one after the section header.
func setKeyInSection(lines []string, headerLine int, key, newLine string) []string {
	sectionEnd := findSectionEnd(lines, headerLine+1)

	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, key+" ") || strings.HasPrefix(trimmed, key+"=") {
			lines[i] = newLine
			return lines
		}
	}

	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

// formatTOMLValue formats a value for TOML output. Booleans and integers are
// written bare; everything else is a quoted string.
func formatTOMLValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}

	if _, err := strconv.Atoi(value); err == nil {
		return value
	}

	return strconv.Quote(value)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it over path. Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
