package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mbfetch/mbfetch/internal/config"
)

var configInitPath string

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage mbfetch configuration. Subcommands allow viewing the effective
configuration and writing a starter config file.`,
		Example: `  mbfetch config show
  mbfetch config init --path ~/.config/mbfetch/mbfetch.yaml`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigInitCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration in YAML format. If a config file is
loaded, shows the loaded configuration with any command-line overrides
applied.`,
		Example: `  mbfetch config show
  mbfetch config show --config /etc/mbfetch/mbfetch.yaml`,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	log.Info("showing configuration")

	data, err := yaml.Marshal(globalCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println(string(data))

	return nil
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write the default configuration to a file as a starting point. Refuses
to overwrite an existing file.`,
		Example: `  mbfetch config init
  mbfetch config init --path /etc/mbfetch/mbfetch.yaml`,
		RunE: configInitRun,
	}

	cmd.Flags().StringVar(&configInitPath, "path", "mbfetch.yaml", "where to write the config file")

	return cmd
}

func configInitRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if _, err := os.Stat(configInitPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configInitPath)
	}

	cfg := config.DefaultConfig()
	if err := cfg.Write(configInitPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	log.Info("wrote default configuration", "path", configInitPath)
	fmt.Printf("Wrote default configuration to %s\n", configInitPath)

	return nil
}
