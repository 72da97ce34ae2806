// Command jiralinkctl runs schema migrations and mints development tokens.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"jiralink.dev/internal/config"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "jiralinkctl",
		Short:        "Operate a jiralink deployment",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("JIRALINK_CONFIG"), "path to the YAML config file")

	load := func() (config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(newMigrateCmd(load), newTokenCmd(load))
	return root
}
