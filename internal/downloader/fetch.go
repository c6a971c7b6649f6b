package downloader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"likegrab/pkg/clock"
	errs "likegrab/pkg/errors"
	"likegrab/pkg/logger"
	"likegrab/pkg/metrics"
	"likegrab/pkg/retry"
	"likegrab/pkg/storage"
)

const maxRedirects = 5

// httpFetcher downloads media over HTTP into the staging area
type httpFetcher struct {
	client      *http.Client
	allow       *Allowlist
	store       *storage.Manager
	attempts    int
	maxFileSize int64
	userAgent   string
	backoff     *retry.ErrorTypeBackoff
	clock       clock.Clock
	metrics     *metrics.Metrics
	logger      logger.Logger
}

// newHTTPClient returns a client whose redirects are re-checked against the
// allowlist. base may be nil.
func newHTTPClient(base *http.Client, timeout time.Duration, allow *Allowlist) *http.Client {
	c := &http.Client{Timeout: timeout}
	if base != nil {
		clone := *base
		c = &clone
		if c.Timeout == 0 {
			c.Timeout = timeout
		}
	}
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errs.New(errs.ErrorTypeUnknown, 0, "too many redirects")
		}
		if err := allow.Check(req.URL); err != nil {
			return errs.Policy(fmt.Sprintf("redirect to disallowed location: %v", err))
		}
		return nil
	}
	return c
}

func (f *httpFetcher) Fetch(ctx context.Context, job Job) Result {
	f.metrics.FetchStarted()
	defer f.metrics.FetchDone()

	res := Result{Job: job}
	cfg := &retry.Config{
		MaxAttempts: f.attempts,
		BackoffFor:  f.backoff.ForError,
		Clock:       f.clock,
		Logger:      f.logger,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			f.metrics.Retry("download")
			f.logger.DebugWithFields("retrying download", map[string]interface{}{
				"post_id": job.PostID,
				"index":   job.Index,
				"attempt": attempt,
				"delay":   delay.String(),
				"error":   err.Error(),
			})
		},
	}

	// ctx only gates retries; a request already sent is bounded by the client timeout.
	reqCtx := context.WithoutCancel(ctx)
	err := retry.Do(ctx, func(_ context.Context, attempt int) error {
		res.Attempts = attempt
		staged, contentType, err := f.fetchOnce(reqCtx, job)
		if err != nil {
			return err
		}
		res.Staged = staged
		res.ContentType = contentType
		return nil
	}, cfg)
	res.Err = err
	return res
}

func (f *httpFetcher) fetchOnce(ctx context.Context, job Job) (*storage.Staged, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return nil, "", errs.Wrap(errs.ErrorTypeUnknown, err, "create request")
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		var typed *errs.Error
		switch {
		case ctx.Err() != nil:
			return nil, "", ctx.Err()
		case errors.As(err, &typed):
			return nil, "", typed
		default:
			return nil, "", errs.Network(err, "media request failed")
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", errs.FromStatus(resp.StatusCode, resp.Header, f.clock.Now())
	}

	body := bufio.NewReaderSize(resp.Body, 512)
	contentType := resp.Header.Get("Content-Type")
	if !isMediaType(contentType) {
		peek, _ := body.Peek(512)
		sniffed := http.DetectContentType(peek)
		if !isMediaType(sniffed) {
			return nil, "", errs.New(errs.ErrorTypeUnknown, resp.StatusCode,
				fmt.Sprintf("unexpected content type %q", contentType))
		}
		contentType = sniffed
	}

	staged, err := f.store.Stage(body, f.maxFileSize)
	switch {
	case err == nil:
		return staged, contentType, nil
	case errors.Is(err, storage.ErrEmpty), errors.Is(err, storage.ErrTooLarge):
		return nil, "", errs.Wrap(errs.ErrorTypeUnknown, err, "rejected content")
	case ctx.Err() != nil:
		return nil, "", ctx.Err()
	default:
		// interrupted bodies and timeouts while streaming
		return nil, "", errs.Network(err, "read media body")
	}
}
