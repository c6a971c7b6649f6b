// Package sessionapi looks up posts through the cookie-authenticated GraphQL
// API used by the x.com web client.
package sessionapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	errs "likegrab/pkg/errors"
	"likegrab/pkg/logger"
)

// Options configures a Client
type Options struct {
	BaseURL        string
	QueryID        string
	WebBearerToken string
	// AuthToken and CSRFToken are the auth_token and ct0 session cookies
	AuthToken  string
	CSRFToken  string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     logger.Logger
}

// Client performs batch post lookups with a logged-in session
type Client struct {
	httpClient *http.Client
	opts       Options
	logger     logger.Logger
	now        func() time.Time
}

// NewClient creates a session API client
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
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
		logger:     opts.Logger.WithField("component", "session_api"),
		now:        time.Now,
	}
}

// HasSession reports whether both session cookies are configured
func (c *Client) HasSession() bool {
	return c.opts.AuthToken != "" && c.opts.CSRFToken != ""
}

// LookupBatch fetches up to MaxBatchSize posts in one request. The returned
// slice has one entry per requested id, in request order.
func (c *Client) LookupBatch(ctx context.Context, ids []string) ([]Post, error) {
	if !c.HasSession() {
		return nil, errs.Auth("session cookies auth_token and ct0 are not configured")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxBatchSize {
		return nil, errs.New(errs.ErrorTypeUnknown, 0, fmt.Sprintf("batch of %d exceeds limit %d", len(ids), MaxBatchSize))
	}

	u, err := LookupURL(c.opts.BaseURL, c.opts.QueryID, ids)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, err, "build lookup url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, err, "create request")
	}
	c.setHeaders(req)

	var body lookupResponse
	if err := c.doJSON(req, &body); err != nil {
		return nil, err
	}

	if len(body.Data.TweetResult) == 0 && len(body.Errors) > 0 {
		return nil, graphQLFailure(body.Errors)
	}

	return alignResults(ids, body), nil
}

func (c *Client) setHeaders(req *http.Request) {
	bearer := c.opts.WebBearerToken
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("X-Csrf-Token", c.opts.CSRFToken)
	req.Header.Set("Cookie", fmt.Sprintf("auth_token=%s; ct0=%s", c.opts.AuthToken, c.opts.CSRFToken))
	req.Header.Set("X-Twitter-Auth-Type", "OAuth2Session")
	req.Header.Set("X-Twitter-Active-User", "yes")
	req.Header.Set("X-Twitter-Client-Language", "en")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
}

// doJSON performs the request and decodes a 2xx JSON body into target
func (c *Client) doJSON(req *http.Request, target interface{}) error {
	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"path":   req.URL.Path,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"path":     req.URL.Path,
			"error":    err.Error(),
			"duration": time.Since(start),
		})
		return errs.Network(err, "session API request failed")
	}
	defer resp.Body.Close()

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"path":     req.URL.Path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := errs.FromStatus(resp.StatusCode, resp.Header, c.now())
		if e.Type == errs.ErrorTypeAuth {
			e.Message = "session rejected, refresh the auth_token and ct0 cookies"
		}
		return e
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Network(err, "read response body")
	}
	if err := json.Unmarshal(data, target); err != nil {
		preview := string(data)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return errs.Parsing(err, "decode lookup response")
	}
	return nil
}

// alignResults maps result slots onto ids. The server answers positionally;
// when the counts disagree results are matched by id instead.
func alignResults(ids []string, body lookupResponse) []Post {
	slots := body.Data.TweetResult
	out := make([]Post, len(ids))

	if len(slots) == len(ids) {
		for i, id := range ids {
			out[i] = toPost(id, slots[i].Result)
		}
		return out
	}

	byID := make(map[string]*tweetResult, len(slots))
	for _, s := range slots {
		if s.Result == nil {
			continue
		}
		if id := resultID(s.Result); id != "" {
			byID[id] = s.Result
		}
	}
	for i, id := range ids {
		out[i] = toPost(id, byID[id])
	}
	return out
}

func resultID(r *tweetResult) string {
	if r.Tweet != nil {
		return resultID(r.Tweet)
	}
	if r.RestID != "" {
		return r.RestID
	}
	return r.Legacy.IDStr
}

// graphQLFailure classifies an error-only GraphQL response
func graphQLFailure(list []graphQLError) error {
	msgs := make([]string, 0, len(list))
	for _, e := range list {
		switch e.Code {
		case 88:
			return errs.RateLimited(e.Message, 0)
		case 32, 89, 239:
			return errs.Auth(e.Message)
		}
		msgs = append(msgs, e.Message)
	}
	return errs.New(errs.ErrorTypeServerError, http.StatusOK, "graphql: "+strings.Join(msgs, "; "))
}
