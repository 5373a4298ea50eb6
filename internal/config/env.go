package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "CTHULHU_CONFIG"
	EnvBaseURL = "CTHULHU_BASE_URL"
	EnvDataDir = "CTHULHU_DATA_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // CTHULHU_CONFIG: override config file path
	BaseURL    string // CTHULHU_BASE_URL: backend base URL
	DataDir    string // CTHULHU_DATA_DIR: credential store directory
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		BaseURL:    os.Getenv(EnvBaseURL),
		DataDir:    os.Getenv(EnvDataDir),
	}
}
