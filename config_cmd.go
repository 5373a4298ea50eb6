package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cthulhu/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented default config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <section.key> <value>",
		Short: "Set one config value, keeping comments and layout",
		Example: `  cthulhu config set backend.base_url https://files.example.com
  cthulhu config set storage.backend file`,
		Args: cobra.ExactArgs(2),
		RunE: runConfigSet,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)

	if cc.Flags.JSON {
		return printJSON(cc.Out, cc.Cfg)
	}

	return config.RenderEffective(cc.Cfg, cc.Out)
}

// configPath is the file config init and set operate on: --config, then
// CTHULHU_CONFIG, then the platform default.
func configPath(flags CLIFlags) string {
	if flags.ConfigPath != "" {
		return flags.ConfigPath
	}

	if env := config.ReadEnvOverrides(); env.ConfigPath != "" {
		return env.ConfigPath
	}

	return config.DefaultConfigPath()
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)

	path := configPath(cc.Flags)
	if path == "" {
		return fmt.Errorf("cannot determine config path; pass --config")
	}

	if err := config.CreateDefault(path); err != nil {
		return err
	}

	cc.Statusf("Wrote %s\n", path)

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd)

	section, key, ok := strings.Cut(args[0], ".")
	if !ok || section == "" || key == "" {
		return fmt.Errorf("key must be section.key, got %q", args[0])
	}

	path := configPath(cc.Flags)
	if path == "" {
		return fmt.Errorf("cannot determine config path; pass --config")
	}

	if err := config.SetKey(path, section, key, args[1]); err != nil {
		return err
	}

	cc.Statusf("Set %s.%s in %s\n", section, key, path)

	return nil
}
