package paidapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"likegrab/pkg/clock"
	errs "likegrab/pkg/errors"
	"likegrab/pkg/logger"
	"likegrab/pkg/metrics"
	"likegrab/pkg/models"
	"likegrab/pkg/ratelimit"
	"likegrab/pkg/retry"
)

const (
	// LikesKey is the scheduler key for liked-posts pagination
	LikesKey = "likes_api"

	// MaxLikesPageSize is the largest page the liked-posts endpoint returns
	MaxLikesPageSize = 100
)

// LikedURL builds the URL of one liked-posts page. An empty pageToken
// requests the first page.
func LikedURL(baseURL, userID, pageToken string, pageSize int) string {
	if pageSize <= 0 || pageSize > MaxLikesPageSize {
		pageSize = MaxLikesPageSize
	}
	params := url.Values{}
	params.Set("max_results", strconv.Itoa(pageSize))
	params.Set("expansions", "attachments.media_keys,author_id")
	params.Set("tweet.fields", "created_at,author_id,attachments")
	params.Set("user.fields", "username")
	params.Set("media.fields", "url,type")
	if pageToken != "" {
		params.Set("pagination_token", pageToken)
	}
	return fmt.Sprintf("%s/2/users/%s/liked_tweets?%s",
		strings.TrimRight(baseURL, "/"), url.PathEscape(userID), params.Encode())
}

// LikedPage fetches one page of posts liked by userID
func (c *Client) LikedPage(ctx context.Context, userID, pageToken string) (*Response, error) {
	if userID == "" {
		return nil, errs.New(errs.ErrorTypeUnknown, 0, "user id is required")
	}
	data, err := c.get(ctx, LikedURL(c.opts.BaseURL, userID, pageToken, MaxLikesPageSize),
		map[string]interface{}{"user_id": userID})
	if err != nil {
		return nil, err
	}

	var body tweetsResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errs.Parsing(err, "decode liked posts page")
	}
	return body.toResponse(), nil
}

// Me returns the id of the user the token belongs to. App-only tokens have
// no user and fail with an auth error.
func (c *Client) Me(ctx context.Context) (string, error) {
	data, err := c.get(ctx, strings.TrimRight(c.opts.BaseURL, "/")+"/2/users/me?user.fields=id", nil)
	if err != nil {
		return "", err
	}
	var body userResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return "", errs.Parsing(err, "decode user response")
	}
	if body.Data.ID == "" {
		return "", errs.Parsing(errors.New("empty user id"), "decode user response")
	}
	return body.Data.ID, nil
}

// LikesOptions bounds a liked-posts crawl
type LikesOptions struct {
	// UserID whose likes are listed; the token's own user when empty
	UserID string
	// Account labels the raw posts; defaults to the user id
	Account     string
	PhotosOnly  bool
	MaxPages    int
	MaxAttempts int
	MinInterval time.Duration
	Backoff     *retry.ExponentialBackoff
	Clock       clock.Clock
	Scheduler   *ratelimit.Scheduler
	Metrics     *metrics.Metrics
	Logger      logger.Logger
}

// LikesReport describes a liked-posts crawl
type LikesReport struct {
	UserID string
	Pages  int
	Posts  int
	// WithoutMedia counts liked posts dropped for lacking qualifying media
	WithoutMedia int
	// Complete is false when the crawl stopped before the last page
	Complete bool
}

// FetchLikes pages through the posts liked by a user and returns those with
// media as raw posts. Each page is retried on transient errors and spaced by
// the scheduler. When ctx ends between pages the posts collected so far are
// returned with Complete unset and a nil error; a page already requested is
// allowed to finish.
func FetchLikes(ctx context.Context, c *Client, opts LikesOptions) ([]models.RawPost, *LikesReport, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = ratelimit.NewScheduler(opts.Clock, opts.Logger)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	log := opts.Logger.WithField("component", "likes_api")
	rep := &LikesReport{UserID: opts.UserID}
	reqCtx := context.WithoutCancel(ctx)

	if rep.UserID == "" {
		id, err := c.Me(reqCtx)
		if err != nil {
			return nil, rep, fmt.Errorf("look up authenticated user: %w", err)
		}
		rep.UserID = id
	}
	account := opts.Account
	if account == "" {
		account = rep.UserID
	}

	opts.Scheduler.SetInterval(LikesKey, opts.MinInterval)
	cfg := &retry.Config{
		MaxAttempts: opts.MaxAttempts,
		BackoffFor:  retry.NewErrorTypeBackoff(opts.Backoff).ForError,
		Clock:       opts.Clock,
		Logger:      log,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			opts.Metrics.Retry(LikesKey)
		},
	}

	var out []models.RawPost
	token := ""
	for {
		if ctx.Err() != nil {
			log.WarnWithFields("Liked posts crawl interrupted", map[string]interface{}{
				"pages": rep.Pages,
				"posts": rep.Posts,
			})
			return out, rep, nil
		}
		if opts.MaxPages > 0 && rep.Pages >= opts.MaxPages {
			log.InfoWithFields("Liked posts page cap reached", map[string]interface{}{
				"max_pages": opts.MaxPages,
			})
			return out, rep, nil
		}

		page, err := retry.DoWithResult(ctx, func(_ context.Context, attempt int) (*Response, error) {
			if err := opts.Scheduler.Wait(ctx, LikesKey, time.Time{}); err != nil {
				return nil, err
			}
			opts.Scheduler.Mark(LikesKey)
			return c.LikedPage(reqCtx, rep.UserID, token)
		}, cfg)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return out, rep, nil
			}
			return out, rep, fmt.Errorf("fetch liked posts page %d: %w", rep.Pages+1, err)
		}
		rep.Pages++

		for _, p := range page.Posts {
			raw := models.RawPost{AccountID: account, PostID: p.ID, AuthorHandle: p.AuthorHandle, PostedAt: p.PostedAt}
			for _, m := range p.Media {
				if opts.PhotosOnly && m.Type != "photo" {
					continue
				}
				if m.URL != "" {
					raw.MediaURLs = append(raw.MediaURLs, m.URL)
				}
			}
			if len(raw.MediaURLs) == 0 {
				rep.WithoutMedia++
				continue
			}
			out = append(out, raw)
			rep.Posts++
		}

		log.DebugWithFields("Liked posts page fetched", map[string]interface{}{
			"page":  rep.Pages,
			"posts": len(page.Posts),
		})

		if page.NextToken == "" {
			rep.Complete = true
			log.InfoWithFields("Liked posts fetched", map[string]interface{}{
				"user_id":       rep.UserID,
				"pages":         rep.Pages,
				"posts":         rep.Posts,
				"without_media": rep.WithoutMedia,
			})
			return out, rep, nil
		}
		token = page.NextToken
	}
}
