package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"peek/internal/config"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage peek configuration",
	Long:  "View and manage peek configuration stored in .peek/config.{json,toml,yaml}",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Display the configuration after defaults, config file and PEEK_*
environment overrides are applied.

Examples:
  peek config show                 # TOML
  peek config show --format yaml
  peek config show --format json`,
	Args: cobra.NoArgs,
	Run:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	Long:  "Write the default configuration to <root>/.peek/config.json unless a config already exists.",
	Args:  cobra.NoArgs,
	Run:   runConfigInit,
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format (toml, yaml, json)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) {
	root, err := workspaceRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := loadConfig(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := encodeConfig(os.Stdout, cfg, configFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runConfigInit(cmd *cobra.Command, args []string) {
	root, err := workspaceRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, name := range []string{"config.json", "config.toml", "config.yaml"} {
		path := filepath.Join(root, config.DirName, name)
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(os.Stderr, "Error: %s already exists\n", path)
			os.Exit(1)
		}
	}
	if err := config.DefaultConfig().Save(root); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", filepath.Join(root, config.DirName, "config.json"))
}

// encodeConfig writes cfg in format.
func encodeConfig(w io.Writer, cfg *config.Config, format string) error {
	switch format {
	case "toml":
		return toml.NewEncoder(w).Encode(cfg)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}
