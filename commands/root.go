// Package commands implements the questd command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thc1967/codex-quest-manager-sub000/config"
	"go.uber.org/zap"
)

const defaultConfigPath = "config/config.yaml"

// NewRootCommand builds the questd command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "questd",
		Short:         "Shared quest tracker for tabletop campaigns",
		Long:          "questd serves a campaign's quest document to players and directors over REST, server-sent events and WebSocket.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", defaultConfigPath, "path to the YAML config file (empty for defaults and environment only)")

	root.AddCommand(NewServeCommand())
	root.AddCommand(NewMigrateCommand())
	root.AddCommand(NewExportCommand())
	root.AddCommand(NewImportCommand())
	root.AddCommand(NewAccountCommand())
	return root
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return NewRootCommand().Execute()
}

// loadConfig reads the file named by the --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// newLogger returns a development logger in debug mode and a production
// logger otherwise.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Server.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
