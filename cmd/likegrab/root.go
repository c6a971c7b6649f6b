package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"likegrab/pkg/ui"
)

var (
	// Version information
	version   = "0.1.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noColor    bool
	quiet      bool

	printer = ui.NewPrinter(os.Stdout, false)
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "likegrab",
	Short: "Resolve and download the media of liked X posts",
	Long: `likegrab turns exported lists of liked X posts from one or more accounts
into a local photo archive.

Each post is recorded once no matter how many accounts liked it. Posts without
media URLs are resolved through a chain of strategies:
  - the web session API (x.com cookies)
  - the paid REST API (bearer token, call budget enforced)
  - public page scraping (slow, capped per run)

Media is fetched only from allowlisted CDN hosts, deduplicated by content hash
and recorded in a resumable manifest (JSON, or SQLite for .db paths).`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		printer = ui.NewPrinter(cmd.OutOrStdout(), noColor)
		printer.SetQuiet(quiet)
	},
}

// Execute runs the root command and exits non-zero on error
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.NewPrinter(os.Stderr, noColor).Error("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.likegrab.yaml or ~/.config/likegrab/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors and the final report")

	rootCmd.SetVersionTemplate(`likegrab {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
