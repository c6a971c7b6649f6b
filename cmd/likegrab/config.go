package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"likegrab/pkg/auth"
	"likegrab/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage likegrab configuration.

Configuration is loaded from, highest priority first:
  - command line flags
  - environment variables (LIKEGRAB_*)
  - .env and ~/.likegrab.env
  - the configuration file
  - defaults`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with every default",
	Long: `Write a configuration file with all options at their defaults.

The file is created as .likegrab.yaml in the current directory unless a path
is given with --config. An existing file is never overwritten.`,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Show the configuration after all sources are applied. Secrets are masked.`,
	RunE:  runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = ".likegrab.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	printer.Success("Configuration written to " + path)
	printer.Info("Next", "add credentials with 'likegrab auth login' or the LIKEGRAB_* variables")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	return writeMaskedConfig(cmd.OutOrStdout(), cfg)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	printer.Success("Configuration is valid")
	printer.Info("Manifest", cfg.Output.ManifestPath)
	printer.Info("Staging", cfg.Output.StagingDirectory)
	return nil
}

// writeMaskedConfig writes cfg as YAML with every secret masked
func writeMaskedConfig(w io.Writer, cfg *config.Config) error {
	c := *cfg
	masked := auth.SanitizeAccount(&auth.Account{
		AuthToken:   c.Credentials.AuthToken,
		CSRFToken:   c.Credentials.CSRFToken,
		BearerToken: c.Credentials.BearerToken,
	})
	c.Credentials.AuthToken = masked.AuthToken
	c.Credentials.CSRFToken = masked.CSRFToken
	c.Credentials.BearerToken = masked.BearerToken
	if c.SessionAPI.WebBearerToken != "" {
		c.SessionAPI.WebBearerToken = auth.SanitizeAccount(&auth.Account{BearerToken: c.SessionAPI.WebBearerToken}).BearerToken
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&c); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return enc.Close()
}
