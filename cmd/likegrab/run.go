package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"likegrab/pkg/auth"
	"likegrab/pkg/config"
	"likegrab/pkg/engine"
	"likegrab/pkg/logger"
	"likegrab/pkg/metrics"
)

var (
	// Run command flags
	manifestPath    string
	stagingDir      string
	accountName     string
	metricsAddr     string
	limit           int
	concurrent      int
	paidMaxCalls    int
	downloadTimeout time.Duration
	runTimeout      time.Duration
	noSessionAPI    bool
	noPaidAPI       bool
	noScrape        bool
	noDownload      bool
	retryFailed     bool
	useAPI          bool
	apiUserID       string
	apiMaxPages     int
)

// flagKeys maps CLI flag names to the keys config.MergeCommandLineFlags reads
var flagKeys = map[string]string{
	"manifest":       "manifest",
	"staging":        "staging",
	"account":        "account",
	"metrics-addr":   "metrics-addr",
	"limit":          "limit",
	"concurrent":     "concurrent",
	"paid-max-calls": "paid-max-calls",
	"timeout":        "download-timeout",
	"run-timeout":    "timeout",
	"no-session-api": "no-session-api",
	"no-paid-api":    "no-paid-api",
	"no-scrape":      "no-scrape",
	"no-download":    "no-download",
	"retry-failed":   "retry-failed",
	"api":            "api",
	"api-user-id":    "api-user-id",
	"api-max-pages":  "api-max-pages",
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [inputs...]",
	Short: "Ingest liked posts, resolve missing media and download it",
	Long: `Ingest one or more liked-post exports, resolve media URLs for posts that
lack them and download every photo into the staging directory.

Inputs are JSON arrays or JSON lines files of objects with account_id, post_id
and optional media_urls. Use "-" to read standard input. With --api the liked
posts are also read from the REST API with the bearer token. With no inputs the
run works through whatever the manifest still has pending.

Runs are resumable: everything is recorded in the manifest as it happens, and
a rerun skips posts already resolved and files already downloaded.`,
	Example: `  # Merge two accounts' likes and fetch everything
  likegrab run likes_alice.json likes_bob.jsonl

  # Keep the paid API to 5 calls and store the manifest in SQLite
  likegrab run likes.json --paid-max-calls 5 --manifest archive.db

  # Read likes from the API instead of an archive export
  likegrab run --api --api-user-id 12345

  # Retry posts that failed permanently on an earlier run
  likegrab run --retry-failed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, args, false)
	},
}

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve [inputs...]",
	Short: "Ingest and resolve liked posts without downloading",
	Long: `Same as run, but stops after resolution. Resolved media URLs are recorded in
the manifest and downloaded by a later run.`,
	Example: `  likegrab resolve likes.json --no-scrape`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, args, true)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resolveCmd)

	for _, cmd := range []*cobra.Command{runCmd, resolveCmd} {
		addPipelineFlags(cmd.Flags())
	}
	runCmd.Flags().StringVar(&stagingDir, "staging", "", "staging directory for downloaded files")
	runCmd.Flags().IntVar(&concurrent, "concurrent", 0, "number of concurrent downloads")
	runCmd.Flags().DurationVar(&downloadTimeout, "timeout", 0, "per-download timeout")
	runCmd.Flags().BoolVar(&noDownload, "no-download", false, "skip the download stage")
}

func addPipelineFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&manifestPath, "manifest", "m", "", "manifest path (.json, or .db/.sqlite for SQLite)")
	fs.StringVarP(&accountName, "account", "a", "", "use a specific stored credential profile")
	fs.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	fs.IntVar(&limit, "limit", 0, "maximum unresolved posts to attempt this run (0 = all)")
	fs.IntVar(&paidMaxCalls, "paid-max-calls", 0, "maximum paid API calls this run")
	fs.DurationVar(&runTimeout, "run-timeout", 0, "stop the run after this long (0 = no limit)")
	fs.BoolVar(&noSessionAPI, "no-session-api", false, "disable the session API strategy")
	fs.BoolVar(&noPaidAPI, "no-paid-api", false, "disable the paid API strategy")
	fs.BoolVar(&noScrape, "no-scrape", false, "disable the scrape strategy")
	fs.BoolVar(&retryFailed, "retry-failed", false, "retry posts that failed permanently on earlier runs")
	fs.BoolVar(&useAPI, "api", false, "read liked posts from the REST API")
	fs.StringVar(&apiUserID, "api-user-id", "", "user whose likes --api reads (default: the token's user)")
	fs.IntVar(&apiMaxPages, "api-max-pages", 0, "maximum liked-post pages to read (0 = all)")
}

// buildFlagMap collects the flags the user actually set, keyed the way the
// config layer expects. Unset flags leave file and environment values alone.
func buildFlagMap(fs *pflag.FlagSet) map[string]interface{} {
	flags := make(map[string]interface{})
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		var v interface{}
		var err error
		switch f.Value.Type() {
		case "int":
			v, err = fs.GetInt(f.Name)
		case "bool":
			v, err = fs.GetBool(f.Name)
		case "duration":
			v, err = fs.GetDuration(f.Name)
		default:
			v = f.Value.String()
		}
		if err == nil {
			flags[key] = v
		}
	})
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	return flags
}

func loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(configFile, buildFlagMap(fs))
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func runPipeline(cmd *cobra.Command, inputs []string, skipDownload bool) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	var src accountSource
	if manager, err := auth.NewManager(""); err != nil {
		log.WithError(err).Warn("Credential store unavailable, using configured credentials only")
	} else {
		src = manager
	}
	profile, err := applyAccount(&cfg.Credentials, src)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.WithError(err).Warn("Metrics endpoint stopped")
			}
		}()
	}

	eng, err := engine.New(engine.Options{Config: cfg, Metrics: m, Logger: log})
	if err != nil {
		return err
	}

	printer.Logo()
	printer.Info("Run", eng.RunID())
	if profile != "" {
		printer.Info("Credentials", profile)
	}
	if cfg.Metrics.Addr != "" {
		printer.Info("Metrics", "http://"+cfg.Metrics.Addr+"/metrics")
	}

	res, err := eng.Run(ctx, engine.RunOptions{Inputs: inputs, SkipDownload: skipDownload})
	if res != nil {
		printer.RunReport(res)
	}
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		printer.Warning("Run stopped early; run again to resume from the manifest")
	}
	return nil
}
