package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/cthulhu/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// CLIFlags holds the global persistent flags.
type CLIFlags struct {
	ConfigPath string
	BaseURL    string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is what every command receives from the root pre-run: parsed
// flags, the resolved configuration, a logger, and the standard streams.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
	Err    io.Writer
}

type cliContextKey struct{}

// cliContextFrom returns the CLIContext installed by the root pre-run.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

// mustCLIContext is cliContextFrom for RunE functions, which only run after
// the pre-run succeeded.
func mustCLIContext(cmd *cobra.Command) *CLIContext {
	cc := cliContextFrom(cmd.Context())
	if cc == nil {
		panic("cli context missing: command ran without root pre-run")
	}

	return cc
}

// skipConfigCommands lists commands that must work with a missing or broken
// config file because they exist to create or repair it.
var skipConfigCommands = map[string]bool{
	"cthulhu config init": true,
	"cthulhu config set":  true,
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:   "cthulhu",
		Short: "File-sharing client",
		Long: "Sign in to a file-sharing backend, upload files into buckets, and " +
			"browse or download password-protected buckets.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc := &CLIContext{
				Flags: flags,
				In:    cmd.InOrStdin(),
				Out:   cmd.OutOrStdout(),
				Err:   cmd.ErrOrStderr(),
			}

			if !skipConfigCommands[cmd.CommandPath()] {
				resolved, err := loadConfig(flags)
				if err != nil {
					return err
				}

				cc.Cfg = resolved
			}

			cc.Logger = buildLogger(cc.Cfg, flags, cc.Err)
			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flags.BaseURL, "base-url", "", "backend base URL (overrides config)")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newCallbackCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newAdminsCmd())
	cmd.AddCommand(newUnlockCmd())
	cmd.AddCommand(newLockCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain.
func loadConfig(flags CLIFlags) (*config.Resolved, error) {
	cli := config.CLIOverrides{
		ConfigPath: flags.ConfigPath,
		BaseURL:    flags.BaseURL,
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return resolved, nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger(cfg *config.Resolved, flags CLIFlags, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if cfg != nil {
		switch cfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = cfg.Logging.Format
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// isTerminal reports whether w is a terminal.
func isTerminal(w any) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
