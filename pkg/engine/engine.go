// Package engine runs the resolution and acquisition pipeline: it loads the
// manifest, folds archive exports into the identity ledger, resolves the
// posts that still lack media URLs, and downloads what was resolved.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"likegrab/internal/downloader"
	"likegrab/pkg/clock"
	"likegrab/pkg/config"
	"likegrab/pkg/ledger"
	"likegrab/pkg/logger"
	"likegrab/pkg/manifest"
	"likegrab/pkg/metrics"
	"likegrab/pkg/models"
	"likegrab/pkg/paidapi"
	"likegrab/pkg/ratelimit"
	"likegrab/pkg/resolver"
)

// Options configures an Engine
type Options struct {
	Config *config.Config
	Clock  clock.Clock
	// HTTPClient is shared by every remote boundary when set
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Logger     logger.Logger
	// RunID tags the manifest and logs; generated when empty
	RunID string
}

// RunOptions selects the inputs and stages of one run
type RunOptions struct {
	Inputs       []string
	SkipDownload bool
}

// Result summarizes a run
type Result struct {
	RunID        string
	ManifestPath string
	// Ingested counts raw entries read from the inputs and the likes API
	Ingested int
	// Likes is nil unless liked posts were read from the API
	Likes *paidapi.LikesReport
	// Posts counts distinct posts known after ingestion
	Posts int
	// MultiAccount counts posts liked from more than one account
	MultiAccount  int
	ClearedFailed int
	Resolution    *resolver.Summary
	// Download is nil when downloads were skipped
	Download *downloader.Report
	Duration time.Duration
}

// Engine wires the ledger, orchestrator, download manager and manifest
type Engine struct {
	cfg        *config.Config
	clock      clock.Clock
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     logger.Logger
	runID      string
}

// New creates an engine. The configuration must already be validated.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("engine: config is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Engine{
		cfg:        opts.Config,
		clock:      opts.Clock,
		httpClient: opts.HTTPClient,
		metrics:    opts.Metrics,
		logger:     opts.Logger.WithField("run_id", opts.RunID),
		runID:      opts.RunID,
	}, nil
}

// RunID returns the identifier of this engine's run
func (e *Engine) RunID() string {
	return e.runID
}

// Run executes one pass of the pipeline. Item-level failures are recorded in
// the manifest and the result; the error is non-nil only when inputs cannot
// be read, the likes API refuses the crawl, or the manifest cannot be written.
func (e *Engine) Run(ctx context.Context, ro RunOptions) (*Result, error) {
	start := e.clock.Now()
	if e.cfg.Run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Run.Timeout)
		defer cancel()
	}

	raw, err := ReadInputs(ro.Inputs)
	if err != nil {
		return nil, err
	}

	sched := ratelimit.NewScheduler(e.clock, e.logger)
	var likes *paidapi.LikesReport
	if e.cfg.LikesAPI.Enabled {
		var posts []models.RawPost
		posts, likes, err = e.fetchLikes(ctx, sched)
		if err != nil {
			return nil, fmt.Errorf("likes API: %w", err)
		}
		raw = append(raw, posts...)
	}

	path := e.cfg.Output.ManifestPath
	mf, err := manifest.Load(context.WithoutCancel(ctx), path, e.runID, e.logger)
	if err != nil {
		return nil, err
	}
	defer mf.Close()

	res := &Result{RunID: e.runID, ManifestPath: path, Ingested: len(raw), Likes: likes}

	led := ledger.New(e.clock, e.logger)
	led.Seed(mf.Posts())
	led.Ingest(raw)
	if e.cfg.Resolve.RetryFailed {
		res.ClearedFailed = led.ClearFailed()
	}
	if err := e.flush(ctx, led, mf); err != nil {
		return res, err
	}
	res.Posts = led.Len()
	res.MultiAccount = led.MultiAccount()

	e.logger.InfoWithFields("Ledger ready", map[string]interface{}{
		"ingested":       res.Ingested,
		"posts":          res.Posts,
		"multi_account":  res.MultiAccount,
		"unresolved":     len(led.Unresolved()),
		"cleared_failed": res.ClearedFailed,
	})

	orch := resolver.New(e.handlers(sched), resolver.Options{
		Clock:     e.clock,
		Scheduler: sched,
		Backoff:   e.backoff(),
		Metrics:   e.metrics,
		Logger:    e.logger,
	})
	res.Resolution, err = orch.Resolve(ctx, led, mf, led.Unresolved(), e.cfg.Resolve.Limit)
	if err != nil {
		return res, fmt.Errorf("resolve: %w", err)
	}

	if e.cfg.Download.Enabled && !ro.SkipDownload && ctx.Err() == nil {
		res.Download, err = e.download(ctx, led.Resolved(), mf)
		if err != nil {
			return res, fmt.Errorf("download: %w", err)
		}
	}

	res.Duration = e.clock.Now().Sub(start)
	e.logSummary(res)
	return res, nil
}

// flush persists records the ledger changed
func (e *Engine) flush(ctx context.Context, led *ledger.Ledger, mf *manifest.Manifest) error {
	ctx = context.WithoutCancel(ctx)
	for _, rec := range led.TakeDirty() {
		if err := mf.PutPost(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
