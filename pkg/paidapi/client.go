// Package paidapi looks up posts through the bearer-token REST API.
package paidapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	errs "likegrab/pkg/errors"
	"likegrab/pkg/logger"
	"likegrab/pkg/ratelimit"
)

const (
	// DefaultBaseURL is the REST API origin
	DefaultBaseURL = "https://api.x.com"

	// MaxBatchSize is the most ids one lookup call accepts
	MaxBatchSize = 100

	// defaultRetryAfter applies to 429s that carry no timing hints
	defaultRetryAfter = 60 * time.Second
)

// Options configures a Client
type Options struct {
	BaseURL     string
	BearerToken string
	UserAgent   string
	Timeout     time.Duration
	HTTPClient  *http.Client
	// OnQuota receives the rate limit headers of every response
	OnQuota func(ratelimit.Quota)
	Logger  logger.Logger
}

// Client calls the post lookup endpoint
type Client struct {
	httpClient *http.Client
	opts       Options
	logger     logger.Logger
	now        func() time.Time
}

// NewClient creates a paid API client
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
		logger:     opts.Logger.WithField("component", "paid_api"),
		now:        time.Now,
	}
}

// LookupURL builds the lookup URL for ids
func LookupURL(baseURL string, ids []string) string {
	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("expansions", "attachments.media_keys,author_id")
	params.Set("tweet.fields", "created_at,author_id,attachments")
	params.Set("user.fields", "username")
	params.Set("media.fields", "url,type")
	return fmt.Sprintf("%s/2/tweets?%s", strings.TrimRight(baseURL, "/"), params.Encode())
}

// Lookup fetches up to MaxBatchSize posts in one call
func (c *Client) Lookup(ctx context.Context, ids []string) (*Response, error) {
	if len(ids) == 0 {
		return &Response{}, nil
	}
	if len(ids) > MaxBatchSize {
		return nil, errs.New(errs.ErrorTypeUnknown, 0, fmt.Sprintf("batch of %d exceeds limit %d", len(ids), MaxBatchSize))
	}

	data, err := c.get(ctx, LookupURL(c.opts.BaseURL, ids), map[string]interface{}{"ids": len(ids)})
	if err != nil {
		return nil, err
	}

	var body tweetsResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errs.Parsing(err, "decode lookup response")
	}
	return body.toResponse(), nil
}

// get issues an authenticated GET and returns the body of a 2xx response.
// fields are added to the completion log line.
func (c *Client) get(ctx context.Context, rawURL string, fields map[string]interface{}) ([]byte, error) {
	if c.opts.BearerToken == "" {
		return nil, errs.Auth("paid API bearer token is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.BearerToken)
	req.Header.Set("Accept", "application/json")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"path":     req.URL.Path,
			"error":    err.Error(),
			"duration": time.Since(start),
		})
		return nil, errs.Network(err, "paid API request failed")
	}
	defer resp.Body.Close()

	quota := ratelimit.ParseHeaders(resp.Header.Get)
	if c.opts.OnQuota != nil && quota.Known {
		c.opts.OnQuota(quota)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Network(err, "read response body")
	}

	logFields := map[string]interface{}{
		"path":      req.URL.Path,
		"status":    resp.StatusCode,
		"remaining": quota.Remaining,
		"duration":  time.Since(start),
	}
	for k, v := range fields {
		logFields[k] = v
	}
	c.logger.DebugWithFields("HTTP request completed", logFields)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusError(resp, data, quota)
	}
	return data, nil
}

func (c *Client) statusError(resp *http.Response, data []byte, quota ratelimit.Quota) error {
	var problem apiError
	_ = json.Unmarshal(data, &problem)

	if resp.StatusCode == http.StatusTooManyRequests {
		if problem.Title == titleUsageCapExceed || problem.Type == problemUsageCap {
			return errs.Quota("monthly usage cap exceeded: " + problem.Detail)
		}
		wait := errs.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		if wait <= 0 && quota.Known && !quota.Reset.IsZero() {
			wait = quota.Reset.Sub(c.now())
		}
		if wait <= 0 {
			wait = defaultRetryAfter
		}
		c.logger.WarnWithFields("rate limit exceeded", map[string]interface{}{
			"retry_after": wait.String(),
		})
		return errs.RateLimited("paid API rate limit exceeded", wait)
	}

	e := errs.FromStatus(resp.StatusCode, resp.Header, c.now())
	if problem.Detail != "" {
		e.Message = problem.Detail
	}
	if e.Type == errs.ErrorTypeAuth {
		c.logger.WarnWithFields("authentication error", map[string]interface{}{
			"status": resp.StatusCode,
		})
	}
	return e
}
