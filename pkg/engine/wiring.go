package engine

import (
	"context"

	"likegrab/internal/downloader"
	"likegrab/pkg/logger"
	"likegrab/pkg/manifest"
	"likegrab/pkg/models"
	"likegrab/pkg/paidapi"
	"likegrab/pkg/ratelimit"
	"likegrab/pkg/resolver"
	"likegrab/pkg/retry"
	"likegrab/pkg/scrape"
	"likegrab/pkg/sessionapi"
)

// handlers builds the strategy chain in fallback order: session API, paid
// API, scrape. Disabled strategies are left out.
func (e *Engine) handlers(sched *ratelimit.Scheduler) []resolver.Handler {
	cfg := e.cfg
	cred := cfg.Credentials
	var hs []resolver.Handler

	if cfg.SessionAPI.Enabled {
		client := sessionapi.NewClient(sessionapi.Options{
			BaseURL:        cfg.SessionAPI.BaseURL,
			QueryID:        cfg.SessionAPI.QueryID,
			WebBearerToken: cfg.SessionAPI.WebBearerToken,
			AuthToken:      cred.AuthToken,
			CSRFToken:      cred.CSRFToken,
			UserAgent:      cred.UserAgent,
			Timeout:        cfg.SessionAPI.Timeout,
			HTTPClient:     e.httpClient,
			Logger:         e.logger,
		})
		hs = append(hs, resolver.Handler{
			Strategy: sessionapi.NewStrategy(client, cfg.Resolve.PhotosOnly),
			Policy: resolver.Policy{
				BatchSize:              cfg.SessionAPI.BatchSize,
				MaxAttempts:            cfg.SessionAPI.MaxAttempts,
				MinInterval:            cfg.SessionAPI.MinInterval,
				MaxConsecutiveFailures: cfg.SessionAPI.MaxConsecutiveFailures,
			},
		})
	}

	if cfg.PaidAPI.Enabled {
		key := string(models.StrategyPaidAPI)
		client := paidapi.NewClient(paidapi.Options{
			BaseURL:     cfg.PaidAPI.BaseURL,
			BearerToken: cred.BearerToken,
			UserAgent:   cred.UserAgent,
			Timeout:     cfg.PaidAPI.Timeout,
			HTTPClient:  e.httpClient,
			OnQuota:     func(q ratelimit.Quota) { sched.Observe(key, q) },
			Logger:      e.logger,
		})
		hs = append(hs, resolver.Handler{
			Strategy: paidapi.NewStrategy(client, cfg.Resolve.PhotosOnly),
			Policy: resolver.Policy{
				BatchSize:   cfg.PaidAPI.BatchSize,
				MaxAttempts: cfg.PaidAPI.MaxAttempts,
				MaxCalls:    cfg.PaidAPI.MaxCalls,
				MaxDuration: cfg.PaidAPI.MaxDuration,
			},
		})
	}

	if cfg.Scrape.Enabled {
		client := scrape.NewClient(scrape.Options{
			BaseURL:    cfg.Scrape.BaseURL,
			AuthToken:  cred.AuthToken,
			CSRFToken:  cred.CSRFToken,
			UserAgent:  cred.UserAgent,
			Timeout:    cfg.Scrape.Timeout,
			HTTPClient: e.httpClient,
			Logger:     e.logger,
		})
		hs = append(hs, resolver.Handler{
			Strategy: scrape.NewStrategy(client),
			Policy: resolver.Policy{
				BatchSize:     1,
				MaxAttempts:   cfg.Scrape.MaxAttempts,
				MaxItems:      cfg.Scrape.MaxItems,
				MinInterval:   cfg.Scrape.MinInterval,
				ThrottleAtCap: true,
			},
		})
	}

	return hs
}

// fetchLikes reads liked posts from the REST API with the paid API's
// credentials, on its own scheduler key.
func (e *Engine) fetchLikes(ctx context.Context, sched *ratelimit.Scheduler) ([]models.RawPost, *paidapi.LikesReport, error) {
	cfg := e.cfg
	client := paidapi.NewClient(paidapi.Options{
		BaseURL:     cfg.PaidAPI.BaseURL,
		BearerToken: cfg.Credentials.BearerToken,
		UserAgent:   cfg.Credentials.UserAgent,
		Timeout:     cfg.LikesAPI.Timeout,
		HTTPClient:  e.httpClient,
		OnQuota:     func(q ratelimit.Quota) { sched.Observe(paidapi.LikesKey, q) },
		Logger:      e.logger,
	})
	return paidapi.FetchLikes(ctx, client, paidapi.LikesOptions{
		UserID:      cfg.LikesAPI.UserID,
		Account:     cfg.LikesAPI.Account,
		PhotosOnly:  cfg.Resolve.PhotosOnly,
		MaxPages:    cfg.LikesAPI.MaxPages,
		MaxAttempts: cfg.LikesAPI.MaxAttempts,
		MinInterval: cfg.LikesAPI.MinInterval,
		Backoff:     e.backoff(),
		Clock:       e.clock,
		Scheduler:   sched,
		Metrics:     e.metrics,
		Logger:      e.logger,
	})
}

func (e *Engine) backoff() *retry.ExponentialBackoff {
	r := e.cfg.Retry
	return &retry.ExponentialBackoff{
		BaseDelay:    r.BaseDelay,
		MaxDelay:     r.MaxDelay,
		Multiplier:   r.Multiplier,
		JitterFactor: r.JitterFactor,
	}
}

func (e *Engine) download(ctx context.Context, posts []*models.PostRecord, mf *manifest.Manifest) (*downloader.Report, error) {
	d := e.cfg.Download
	dm := downloader.NewManager(downloader.Options{
		Workers:       d.ConcurrentDownloads,
		Timeout:       d.DownloadTimeout,
		RetryAttempts: d.RetryAttempts,
		AllowedHosts:  d.AllowedHosts,
		MaxFileSize:   d.MaxFileSize,
		MaxItems:      d.MaxItems,
		UserAgent:     e.cfg.Credentials.UserAgent,
		HTTPClient:    e.httpClient,
		Backoff:       e.backoff(),
		Clock:         e.clock,
		Metrics:       e.metrics,
		Logger:        e.logger,
	})
	return dm.Download(ctx, posts, e.cfg.Output.StagingDirectory, mf)
}

func (e *Engine) logSummary(res *Result) {
	fields := map[string]interface{}{
		"posts":         res.Posts,
		"multi_account": res.MultiAccount,
		"duration":      res.Duration.String(),
	}
	if s := res.Resolution; s != nil {
		fields["resolve_requested"] = s.Requested
		fields["resolved"] = s.Resolved
		fields["resolve_failed"] = s.Failed
		fields["unresolved"] = len(s.Unresolved)
		fields["over_budget"] = s.OverBudget
	}
	if d := res.Download; d != nil {
		fields["downloaded"] = d.Downloaded
		fields["deduplicated"] = d.Deduplicated
		fields["download_skipped"] = d.Skipped
		fields["download_failed"] = d.Failed
		fields["invalid_source"] = d.InvalidSource
		fields["invalid_path"] = d.InvalidPath
		fields["interrupted"] = d.Interrupted
		fields["bytes"] = d.Bytes
	}
	logger.LogRunSummary(e.logger, fields)
}
