// Package scrape resolves posts by fetching their public status pages.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	errs "likegrab/pkg/errors"
	"likegrab/pkg/logger"
)

const (
	// DefaultBaseURL is the site the status pages are fetched from
	DefaultBaseURL = "https://x.com"

	maxPageSize = 4 << 20
)

// PageState classifies a fetched status page
type PageState string

const (
	PageMedia   PageState = "media"
	PageNoMedia PageState = "no_media"
	PageMissing PageState = "missing"
	// PageShell means the page loaded but carried no post metadata
	PageShell PageState = "shell"
)

// Page is the result of fetching one status page
type Page struct {
	ID           string
	State        PageState
	MediaURLs    []string
	AuthorHandle string
}

// Options configures a Client
type Options struct {
	BaseURL    string
	AuthToken  string
	CSRFToken  string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     logger.Logger
}

// Client fetches status pages
type Client struct {
	httpClient *http.Client
	opts       Options
	logger     logger.Logger
}

// NewClient creates a scrape client
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		httpClient: hc,
		opts:       opts,
		logger:     opts.Logger.WithField("component", "scrape"),
	}
}

// StatusURL returns the page URL for a post id
func StatusURL(baseURL, id string) string {
	return fmt.Sprintf("%s/i/web/status/%s", strings.TrimRight(baseURL, "/"), id)
}

// Fetch loads and parses the status page for id
func (c *Client) Fetch(ctx context.Context, id string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, StatusURL(c.opts.BaseURL, id), nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, err, "create request")
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if c.opts.AuthToken != "" {
		cookie := "auth_token=" + c.opts.AuthToken
		if c.opts.CSRFToken != "" {
			cookie += "; ct0=" + c.opts.CSRFToken
		}
		req.Header.Set("Cookie", cookie)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errs.Network(err, "fetch status page")
	}
	defer resp.Body.Close()

	c.logger.DebugWithFields("fetched status page", map[string]interface{}{
		"post_id":  id,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})

	if isLoginPage(resp.Request) {
		return nil, errs.Auth("redirected to login, session cookies are missing or expired")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return &Page{ID: id, State: PageMissing}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.Throttled("status pages are being throttled")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, errs.FromStatus(resp.StatusCode, resp.Header, time.Now())
	}

	ex, err := extract(io.LimitReader(resp.Body, maxPageSize), id)
	if err != nil {
		return nil, errs.Parsing(err, "parse status page")
	}

	page := &Page{ID: id, MediaURLs: ex.MediaURLs, AuthorHandle: ex.AuthorHandle}
	switch {
	case len(ex.MediaURLs) > 0:
		page.State = PageMedia
	case ex.HasPost:
		page.State = PageNoMedia
	default:
		page.State = PageShell
	}
	return page, nil
}

func isLoginPage(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	p := req.URL.Path
	return strings.HasPrefix(p, "/login") || strings.HasPrefix(p, "/i/flow/login")
}
