package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain.
const (
	defaultBaseURL             = "http://localhost:7777"
	defaultProvider            = "github"
	defaultSignInRoute         = "/signin"
	defaultStorageBackend      = "sqlite"
	defaultCallbackAddr        = "127.0.0.1:0"
	defaultCallbackPath        = "/auth/callback"
	defaultTimeout             = "30s"
	defaultLogLevel            = "info"
	defaultLogFormat           = "auto"
	defaultMaxPasswordAttempts = 3
	defaultParallelDownloads   = 4
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:         defaultBaseURL,
			DefaultProvider: defaultProvider,
			SignInRoute:     defaultSignInRoute,
		},
		Storage: StorageConfig{
			Backend: defaultStorageBackend,
		},
		Login: LoginConfig{
			CallbackAddr: defaultCallbackAddr,
			CallbackPath: defaultCallbackPath,
			OpenBrowser:  true,
		},
		Network: NetworkConfig{
			Timeout: defaultTimeout,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Bucket: BucketConfig{
			MaxPasswordAttempts: defaultMaxPasswordAttempts,
			ParallelDownloads:   defaultParallelDownloads,
		},
	}
}
