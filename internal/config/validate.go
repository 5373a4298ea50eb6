package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Validation range constants.
const (
	minTimeout          = 1 * time.Second
	minPasswordAttempts = 1
	maxPasswordAttempts = 10
	minParallel         = 1
	maxParallel         = 16
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateBackend(&cfg.Backend)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateLogin(&cfg.Login)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateBucket(&cfg.Bucket)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense after the
// override chain has been applied.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if r.DataDir == "" {
		errs = append(errs, errors.New("data_dir: cannot determine a data directory; set storage.data_dir"))
	} else if !filepath.IsAbs(r.DataDir) {
		errs = append(errs, fmt.Errorf("data_dir: must be absolute after expansion, got %q", r.DataDir))
	}

	return errors.Join(errs...)
}

func validateBackend(b *BackendConfig) []error {
	var errs []error

	u, err := url.Parse(b.BaseURL)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("base_url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("base_url: scheme must be http or https, got %q", b.BaseURL))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("base_url: missing host in %q", b.BaseURL))
	}

	if b.DefaultProvider == "" {
		errs = append(errs, errors.New("default_provider: must not be empty"))
	}

	if !strings.HasPrefix(b.SignInRoute, "/") {
		errs = append(errs, fmt.Errorf("signin_route: must start with /, got %q", b.SignInRoute))
	}

	return errs
}

var validStorageBackends = map[string]bool{
	"sqlite": true,
	"file":   true,
}

func validateStorage(s *StorageConfig) []error {
	if !validStorageBackends[s.Backend] {
		return []error{fmt.Errorf("backend: must be one of sqlite, file; got %q", s.Backend)}
	}

	return nil
}

func validateLogin(l *LoginConfig) []error {
	var errs []error

	if _, _, err := net.SplitHostPort(l.CallbackAddr); err != nil {
		errs = append(errs, fmt.Errorf("callback_addr: %w", err))
	}

	if !strings.HasPrefix(l.CallbackPath, "/") {
		errs = append(errs, fmt.Errorf("callback_path: must start with /, got %q", l.CallbackPath))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	return validateDurationMin("timeout", n.Timeout, minTimeout)
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, value)}
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.Level] {
		errs = append(errs, fmt.Errorf("level: must be one of debug, info, warn, error; got %q", l.Level))
	}

	if !validLogFormats[l.Format] {
		errs = append(errs, fmt.Errorf("format: must be one of auto, text, json; got %q", l.Format))
	}

	return errs
}

func validateBucket(b *BucketConfig) []error {
	var errs []error

	if b.MaxPasswordAttempts < minPasswordAttempts || b.MaxPasswordAttempts > maxPasswordAttempts {
		errs = append(errs, fmt.Errorf("max_password_attempts: must be between %d and %d, got %d",
			minPasswordAttempts, maxPasswordAttempts, b.MaxPasswordAttempts))
	}

	if b.ParallelDownloads < minParallel || b.ParallelDownloads > maxParallel {
		errs = append(errs, fmt.Errorf("parallel_downloads: must be between %d and %d, got %d",
			minParallel, maxParallel, b.ParallelDownloads))
	}

	return errs
}
