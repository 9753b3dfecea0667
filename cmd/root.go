// Package cmd wires the CLI surface: backup, restore, rotate and verify
// subcommands on a cobra root.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kebairia/bakctl/internal/logger"
)

// ConfigFile is the path to the YAML configuration.
var (
	ConfigFile string

	rootCmd = &cobra.Command{
		Use:   "bakctl",
		Short: "CLI tool for database backup, restore and retention",
		Long: `bakctl backs up databases into durable, verifiable artifacts,
restores them on demand and prunes old backups under a retention policy,
all driven by a YAML configuration file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() {
	if _, err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
	}
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		logger.Cleanup()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", "./configs/config.yaml", "path to YAML config file")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(verifyCmd)
}
