package main

import (
	"github.com/spf13/cobra"

	"peek/internal/version"
)

var (
	// rootFlag is the workspace root; the working directory when empty
	rootFlag string
	// configFlag points at an explicit config file
	configFlag string
	// logLevelFlag overrides logging.level from the config
	logLevelFlag string
	// verboseFlag and quietFlag override both
	verboseFlag int
	quietFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "peek",
	Short: "peek - navigable location lists from language servers and SCIP indexes",
	Long: `peek asks every configured code intelligence backend (language servers
and SCIP indexes) for definitions, references, implementations, type
definitions and call hierarchies at a cursor position, and shows the first
non-empty answer as a foldable list grouped by file.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("peek version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "Workspace root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: <root>/.peek/config.*)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error, silent")
	rootCmd.PersistentFlags().CountVarP(&verboseFlag, "verbose", "v", "Verbose logging (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Disable logging")
}
