package paidapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "likegrab/pkg/errors"
	"likegrab/pkg/logger"
	"likegrab/pkg/ratelimit"
	"likegrab/pkg/resolver"
)

const lookupFixture = `{
  "data": [
    {"id": "10", "author_id": "u1", "created_at": "2024-05-01T08:30:00.000Z", "attachments": {"media_keys": ["3_1", "3_2"]}},
    {"id": "11", "author_id": "u2", "created_at": "2024-05-02T08:30:00.000Z", "attachments": {"media_keys": ["7_1"]}},
    {"id": "12", "author_id": "u2", "created_at": "2024-05-03T08:30:00.000Z"}
  ],
  "includes": {
    "users": [{"id": "u1", "username": "sketcher"}, {"id": "u2", "username": "clipper"}],
    "media": [
      {"media_key": "3_1", "type": "photo", "url": "https://pbs.twimg.com/media/one.jpg"},
      {"media_key": "3_2", "type": "photo", "url": "https://pbs.twimg.com/media/two.png"},
      {"media_key": "7_1", "type": "video"}
    ]
  },
  "errors": [
    {"value": "13", "resource_id": "13", "resource_type": "tweet", "title": "Not Found Error",
     "detail": "Could not find tweet with ids: [13].", "type": "https://api.twitter.com/2/problems/resource-not-found"},
    {"value": "14", "resource_id": "14", "resource_type": "tweet", "title": "Authorization Error",
     "detail": "Sorry, you are not authorized to see the Tweet with ids: [14].", "type": "https://api.twitter.com/2/problems/not-authorized-for-resource"}
  ]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, onQuota func(ratelimit.Quota)) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Options{
		BaseURL:     server.URL,
		BearerToken: "token",
		OnQuota:     onQuota,
		Logger:      logger.NewNopLogger(),
	})
}

func TestLookupRequest(t *testing.T) {
	var got *http.Request
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_, _ = w.Write([]byte(`{"data":[]}`))
	}, nil)

	_, err := client.Lookup(context.Background(), []string{"1", "2"})
	require.NoError(t, err)

	assert.Equal(t, "/2/tweets", got.URL.Path)
	assert.Equal(t, "Bearer token", got.Header.Get("Authorization"))
	q := got.URL.Query()
	assert.Equal(t, "1,2", q.Get("ids"))
	assert.Equal(t, "attachments.media_keys,author_id", q.Get("expansions"))
	assert.Equal(t, "created_at,author_id,attachments", q.Get("tweet.fields"))
	assert.Equal(t, "username", q.Get("user.fields"))
	assert.Equal(t, "url,type", q.Get("media.fields"))
}

func TestLookupParsesExpansions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(lookupFixture))
	}, nil)

	resp, err := client.Lookup(context.Background(), []string{"10", "11", "12", "13", "14"})
	require.NoError(t, err)
	require.Len(t, resp.Posts, 3)

	p := resp.Posts[0]
	assert.Equal(t, "sketcher", p.AuthorHandle)
	require.NotNil(t, p.PostedAt)
	assert.Equal(t, time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC), *p.PostedAt)
	require.Len(t, p.Media, 2)
	assert.Equal(t, "https://pbs.twimg.com/media/two.png", p.Media[1].URL)

	require.Len(t, resp.Missing, 2)
	assert.Equal(t, "13", resp.Missing[0].ID)
}

func TestLookupWithoutTokenIsAuthError(t *testing.T) {
	client := NewClient(Options{Logger: logger.NewNopLogger()})
	_, err := client.Lookup(context.Background(), []string{"1"})
	require.Error(t, err)
	assert.True(t, errs.IsStrategyFatal(err))
}

func TestLookupReportsQuota(t *testing.T) {
	reset := time.Now().Add(10 * time.Minute).Unix()
	var seen ratelimit.Quota
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-rate-limit-limit", "15")
		w.Header().Set("x-rate-limit-remaining", "0")
		w.Header().Set("x-rate-limit-reset", strconv.FormatInt(reset, 10))
		_, _ = w.Write([]byte(`{"data":[]}`))
	}, func(q ratelimit.Quota) { seen = q })

	_, err := client.Lookup(context.Background(), []string{"1"})
	require.NoError(t, err)
	assert.True(t, seen.Exhausted())
	assert.Equal(t, 15, seen.Limit)
	assert.Equal(t, reset, seen.Reset.Unix())
}

func TestLookupRateLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		header map[string]string
		want   time.Duration
	}{
		{"retry-after header", map[string]string{"Retry-After": "30"}, 30 * time.Second},
		{"reset header", map[string]string{
			"x-rate-limit-remaining": "0",
			"x-rate-limit-reset":     strconv.FormatInt(now.Add(5*time.Minute).Unix(), 10),
		}, 5 * time.Minute},
		{"no hints", nil, 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(http.StatusTooManyRequests)
			}, nil)
			client.now = func() time.Time { return now }

			_, err := client.Lookup(context.Background(), []string{"1"})
			require.Error(t, err)
			assert.Equal(t, errs.ErrorTypeRateLimit, errs.TypeOf(err))
			assert.Equal(t, tt.want, errs.RetryAfterOf(err))
		})
	}
}

func TestLookupUsageCapIsQuota(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"title":"UsageCapExceeded","detail":"Usage cap exceeded: Monthly product cap","type":"https://api.twitter.com/2/problems/usage-capped"}`))
	}, nil)

	_, err := client.Lookup(context.Background(), []string{"1"})
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeQuota, errs.TypeOf(err))
	assert.True(t, errs.IsStrategyFatal(err))
}

func TestLookupAuthFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"title":"Unauthorized","detail":"Unauthorized","type":"about:blank","status":401}`))
	}, nil)

	_, err := client.Lookup(context.Background(), []string{"1"})
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeAuth, errs.TypeOf(err))
}

func TestStrategyOutcomes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(lookupFixture))
	}, nil)

	results, err := NewStrategy(client, true).Lookup(context.Background(), []string{"10", "11", "12", "13", "14", "15"})
	require.NoError(t, err)

	byID := map[string]resolver.Result{}
	for _, r := range results {
		byID[r.PostID] = r
	}

	assert.Equal(t, resolver.OutcomeResolved, byID["10"].Outcome)
	assert.Equal(t, []string{"https://pbs.twimg.com/media/one.jpg", "https://pbs.twimg.com/media/two.png"}, byID["10"].MediaURLs)
	assert.Equal(t, resolver.OutcomeNoMedia, byID["11"].Outcome)
	assert.Equal(t, resolver.OutcomeNoMedia, byID["12"].Outcome)
	assert.Equal(t, resolver.OutcomeNoMedia, byID["13"].Outcome)
	assert.Equal(t, resolver.OutcomeNoMedia, byID["14"].Outcome)
	_, reported := byID["15"]
	assert.False(t, reported, "ids absent from the response are left to the orchestrator")
}
