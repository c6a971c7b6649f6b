// Package downloader fetches resolved media into the staging area and
// records every outcome in the manifest.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"likegrab/pkg/clock"
	errs "likegrab/pkg/errors"
	"likegrab/pkg/logger"
	"likegrab/pkg/manifest"
	"likegrab/pkg/metrics"
	"likegrab/pkg/models"
	"likegrab/pkg/retry"
	"likegrab/pkg/storage"
)

// Options configures a Manager
type Options struct {
	Workers       int
	Timeout       time.Duration
	RetryAttempts int
	AllowedHosts  []string
	// MaxFileSize rejects larger bodies (0 = unlimited)
	MaxFileSize int64
	// MaxItems caps fetches per run (0 = unlimited)
	MaxItems   int
	UserAgent  string
	HTTPClient *http.Client
	Backoff    *retry.ExponentialBackoff
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	Logger     logger.Logger
}

// Report summarizes a download run
type Report struct {
	Planned       int
	Downloaded    int
	Deduplicated  int
	Skipped       int
	Failed        int
	InvalidSource int
	InvalidPath   int
	// Interrupted items were in flight when the context ended
	Interrupted int
	// Deferred items were left for a later run by the item budget
	Deferred int
	Bytes    int64
}

// Manager downloads media for resolved posts
type Manager struct {
	opts   Options
	allow  *Allowlist
	logger logger.Logger
}

// NewManager creates a download manager
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	return &Manager{
		opts:   opts,
		allow:  NewAllowlist(opts.AllowedHosts),
		logger: opts.Logger.WithField("component", "downloader"),
	}
}

// Download fetches every media item of posts into dest. Items already
// downloaded are skipped; disallowed hosts and unsafe paths are recorded
// without fetching. The manifest is updated after every item, only from the
// calling goroutine. Once ctx ends no new fetch starts; fetches already
// running finish and are recorded. The returned error is non-nil only when the staging
// area or the manifest cannot be written.
func (m *Manager) Download(ctx context.Context, posts []*models.PostRecord, dest string, mf *manifest.Manifest) (*Report, error) {
	store, err := storage.NewManager(dest)
	if err != nil {
		return nil, err
	}

	rep := &Report{}
	jobs, err := m.plan(ctx, posts, store, mf, rep)
	if err != nil {
		return rep, err
	}
	if m.opts.MaxItems > 0 && len(jobs) > m.opts.MaxItems {
		rep.Deferred = len(jobs) - m.opts.MaxItems
		jobs = jobs[:m.opts.MaxItems]
	}
	if len(jobs) == 0 {
		return rep, nil
	}

	fetcher := &httpFetcher{
		client:      newHTTPClient(m.opts.HTTPClient, m.opts.Timeout, m.allow),
		allow:       m.allow,
		store:       store,
		attempts:    m.opts.RetryAttempts,
		maxFileSize: m.opts.MaxFileSize,
		userAgent:   m.opts.UserAgent,
		backoff:     retry.NewErrorTypeBackoff(m.opts.Backoff),
		clock:       m.opts.Clock,
		metrics:     m.opts.Metrics,
		logger:      m.logger,
	}

	m.logger.InfoWithFields("Starting downloads", map[string]interface{}{
		"items":    len(jobs),
		"workers":  m.opts.Workers,
		"skipped":  rep.Skipped,
		"deferred": rep.Deferred,
	})

	pool := NewWorkerPool(m.opts.Workers, fetcher, m.logger)
	pool.Start(ctx)

	var writeErr error
	pending := jobs
	inFlight := 0
	done := ctx.Done()

	interrupt := func() {
		m.logger.WarnWithFields("Download interrupted", map[string]interface{}{
			"not_started": len(pending),
			"in_flight":   inFlight,
		})
		rep.Interrupted += len(pending)
		pending = nil
		done = nil
	}

	for len(pending) > 0 || inFlight > 0 {
		if done != nil && ctx.Err() != nil {
			interrupt()
			continue
		}

		var submit chan<- Job
		var next Job
		if len(pending) > 0 && writeErr == nil {
			submit = pool.Jobs()
			next = pending[0]
		}

		select {
		case submit <- next:
			pending = pending[1:]
			inFlight++
		case res := <-pool.Results():
			inFlight--
			if err := m.record(ctx, res, store, mf, rep); err != nil && writeErr == nil {
				writeErr = err
				pending = nil
			}
		case <-done:
			interrupt()
		}
	}
	pool.Stop()

	return rep, writeErr
}

// plan builds the job list, recording policy rejections and marking the
// remaining items pending.
func (m *Manager) plan(ctx context.Context, posts []*models.PostRecord, store *storage.Manager, mf *manifest.Manifest, rep *Report) ([]Job, error) {
	var jobs []Job
	now := m.opts.Clock.Now()
	ctx = context.WithoutCancel(ctx)

	for _, p := range posts {
		if !p.IsResolved() {
			continue
		}
		for idx, u := range p.MediaURLs {
			rep.Planned++
			prev, hasPrev := mf.Download(p.PostID, idx)

			if hasPrev && prev.URL == u {
				switch prev.Status {
				case models.DownloadDownloaded:
					if prev.LocalPath != "" && store.Exists(prev.LocalPath) {
						rep.Skipped++
						continue
					}
				case models.DownloadInvalidSource, models.DownloadInvalidPath:
					rep.Skipped++
					continue
				}
			}

			rec := &models.DownloadRecord{PostID: p.PostID, MediaIndex: idx, URL: u, UpdatedAt: now}
			if hasPrev && prev.URL == u {
				rec.Attempts = prev.Attempts
			}

			if _, err := m.allow.CheckString(u); err != nil {
				rec.Status = models.DownloadInvalidSource
				rec.Error = err.Error()
				logger.LogPolicyViolation(m.logger, "disallowed_host", p.PostID, idx, err.Error())
				m.opts.Metrics.Download(string(rec.Status), 0, 0)
				rep.InvalidSource++
				if err := mf.PutDownload(ctx, rec); err != nil {
					return nil, err
				}
				continue
			}

			ext, _ := extensionFromURL(u)
			if _, err := store.SafePath(p.PostID, idx, ext); err != nil {
				rec.Status = models.DownloadInvalidPath
				rec.Error = err.Error()
				logger.LogPolicyViolation(m.logger, "path_escape", p.PostID, idx, err.Error())
				m.opts.Metrics.Download(string(rec.Status), 0, 0)
				rep.InvalidPath++
				if err := mf.PutDownload(ctx, rec); err != nil {
					return nil, err
				}
				continue
			}

			rec.Status = models.DownloadPending
			if err := mf.PutDownload(ctx, rec); err != nil {
				return nil, err
			}
			jobs = append(jobs, Job{PostID: p.PostID, Index: idx, URL: u})
		}
	}
	return jobs, nil
}

// record applies one fetch result to disk and manifest
func (m *Manager) record(ctx context.Context, res Result, store *storage.Manager, mf *manifest.Manifest, rep *Report) error {
	job := res.Job
	rec, ok := mf.Download(job.PostID, job.Index)
	if !ok {
		rec = &models.DownloadRecord{PostID: job.PostID, MediaIndex: job.Index, URL: job.URL}
	}
	rec.Attempts += res.Attempts
	rec.UpdatedAt = m.opts.Clock.Now()

	if res.Err != nil {
		store.Discard(res.Staged)
		switch {
		case errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded):
			rec.Status = models.DownloadPending
			rec.Error = "interrupted"
			rep.Interrupted++
		case errs.IsPolicy(res.Err):
			rec.Status = models.DownloadInvalidSource
			rec.Error = res.Err.Error()
			rep.InvalidSource++
			logger.LogPolicyViolation(m.logger, "disallowed_redirect", job.PostID, job.Index, res.Err.Error())
		default:
			rec.Status = models.DownloadFailed
			rec.Error = res.Err.Error()
			rep.Failed++
		}
		m.opts.Metrics.Download(string(rec.Status), 0, res.Duration)
		logger.LogDownload(m.logger, job.PostID, job.Index, string(rec.Status), 0, res.Err)
		return m.persist(ctx, mf, rec)
	}

	staged := res.Staged
	rec.ContentHash = staged.Digest
	rec.ByteSize = staged.Size
	rec.Error = ""

	if existing, ok := mf.PathForDigest(staged.Digest); ok && store.Exists(existing) {
		store.Discard(staged)
		rec.LocalPath = existing
		rec.Status = models.DownloadDownloaded
		rep.Deduplicated++
		m.opts.Metrics.DedupHit()
		m.logger.DebugWithFields("Identical content already stored", map[string]interface{}{
			"post_id": job.PostID,
			"index":   job.Index,
			"path":    existing,
		})
		return m.persist(ctx, mf, rec)
	}

	path, err := store.SafePath(job.PostID, job.Index, ExtensionFor(job.URL, res.ContentType))
	if err != nil {
		store.Discard(staged)
		rec.Status = models.DownloadInvalidPath
		rec.Error = err.Error()
		rep.InvalidPath++
		return m.persist(ctx, mf, rec)
	}
	if err := store.Commit(staged, path); err != nil {
		return fmt.Errorf("commit %s: %w", path, err)
	}

	rec.LocalPath = path
	rec.Status = models.DownloadDownloaded
	rep.Downloaded++
	rep.Bytes += staged.Size
	m.opts.Metrics.Download(string(rec.Status), staged.Size, res.Duration)
	logger.LogDownload(m.logger, job.PostID, job.Index, string(rec.Status), staged.Size, nil)
	return m.persist(ctx, mf, rec)
}

func (m *Manager) persist(ctx context.Context, mf *manifest.Manifest, rec *models.DownloadRecord) error {
	// Persist even when ctx has ended so interrupted items are recorded.
	if err := mf.PutDownload(context.WithoutCancel(ctx), rec); err != nil {
		return fmt.Errorf("record download %s/%d: %w", rec.PostID, rec.MediaIndex, err)
	}
	return nil
}
