package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as TOML-like text to w.
// This powers `config show`.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)

	ew.printf("[backend]\n")
	ew.printf("  base_url         = %q\n", r.Backend.BaseURL)
	ew.printf("  default_provider = %q\n", r.Backend.DefaultProvider)
	ew.printf("  signin_route     = %q\n\n", r.Backend.SignInRoute)

	ew.printf("[storage]\n")
	ew.printf("  backend  = %q\n", r.Storage.Backend)
	ew.printf("  data_dir = %q\n\n", r.DataDir)

	ew.printf("[login]\n")
	ew.printf("  callback_addr = %q\n", r.Login.CallbackAddr)
	ew.printf("  callback_path = %q\n", r.Login.CallbackPath)
	ew.printf("  open_browser  = %t\n\n", r.Login.OpenBrowser)

	ew.printf("[network]\n")
	ew.printf("  timeout = %q\n", r.Network.Timeout)

	if r.Network.UserAgent != "" {
		ew.printf("  user_agent = %q\n", r.Network.UserAgent)
	}

	ew.printf("\n[logging]\n")
	ew.printf("  level  = %q\n", r.Logging.Level)
	ew.printf("  format = %q\n\n", r.Logging.Format)

	ew.printf("[bucket]\n")
	ew.printf("  max_password_attempts = %d\n", r.Bucket.MaxPasswordAttempts)
	ew.printf("  parallel_downloads    = %d\n", r.Bucket.ParallelDownloads)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
