// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for cthulhu. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Backend BackendConfig `toml:"backend"`
	Storage StorageConfig `toml:"storage"`
	Login   LoginConfig   `toml:"login"`
	Network NetworkConfig `toml:"network"`
	Logging LoggingConfig `toml:"logging"`
	Bucket  BucketConfig  `toml:"bucket"`
}

// BackendConfig locates the file-sharing backend.
type BackendConfig struct {
	BaseURL         string `toml:"base_url"`
	DefaultProvider string `toml:"default_provider"`
	SignInRoute     string `toml:"signin_route"`
}

// StorageConfig selects where credentials are persisted. Backend is
// "sqlite" or "file"; DataDir empty means the platform data directory.
type StorageConfig struct {
	Backend string `toml:"backend"`
	DataDir string `toml:"data_dir"`
}

// LoginConfig controls the local OAuth callback listener used by `login`.
type LoginConfig struct {
	CallbackAddr string `toml:"callback_addr"`
	CallbackPath string `toml:"callback_path"`
	OpenBrowser  bool   `toml:"open_browser"`
}

// NetworkConfig controls HTTP client behavior. Timeout applies to metadata
// requests only; uploads and downloads are bounded by the context.
type NetworkConfig struct {
	Timeout   string `toml:"timeout"`
	UserAgent string `toml:"user_agent"`
}

// LoggingConfig controls log output: level and format (auto, text, json).
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// BucketConfig controls the bucket opening flow.
type BucketConfig struct {
	MaxPasswordAttempts int `toml:"max_password_attempts"`
	ParallelDownloads   int `toml:"parallel_downloads"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Empty strings mean "not specified".
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	BaseURL    string // --base-url flag
}
