package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"likegrab/pkg/clock"
	"likegrab/pkg/config"
	"likegrab/pkg/logger"
	"likegrab/pkg/manifest"
	"likegrab/pkg/metrics"
	"likegrab/pkg/models"
	"likegrab/pkg/resolver"
)

// fakeX stands in for the session API, the paid API, status pages and the
// media CDN.
type fakeX struct {
	srv *httptest.Server

	// paid maps post id to a media path; an empty path reports not found
	paid  map[string]string
	pages map[string]string
	// likes are the post ids the liked-posts endpoint lists, each with one photo
	likes []string

	sessionCalls atomic.Int32
	paidCalls    atomic.Int32
	likesCalls   atomic.Int32
	pageCalls    atomic.Int32
	mediaHits    atomic.Int32
}

func newFakeX(t *testing.T) *fakeX {
	t.Helper()
	f := &fakeX{paid: map[string]string{}, pages: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/i/api/graphql/", func(w http.ResponseWriter, r *http.Request) {
		f.sessionCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/2/tweets", f.servePaid)
	mux.HandleFunc("/2/users/", f.serveLikes)
	mux.HandleFunc("/i/web/status/", func(w http.ResponseWriter, r *http.Request) {
		f.pageCalls.Add(1)
		page, ok := f.pages[path.Base(r.URL.Path)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	})
	mux.HandleFunc("/media/", func(w http.ResponseWriter, r *http.Request) {
		f.mediaHits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		fmt.Fprintf(w, "\xff\xd8\xff\xe0 image bytes for %s", r.URL.Path)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeX) servePaid(w http.ResponseWriter, r *http.Request) {
	f.paidCalls.Add(1)
	type media struct {
		MediaKey string `json:"media_key"`
		Type     string `json:"type"`
		URL      string `json:"url"`
	}
	type problem struct {
		ResourceID string `json:"resource_id"`
		Type       string `json:"type"`
		Detail     string `json:"detail"`
	}
	var body struct {
		Data     []map[string]interface{} `json:"data,omitempty"`
		Includes struct {
			Media []media `json:"media,omitempty"`
		} `json:"includes"`
		Errors []problem `json:"errors,omitempty"`
	}
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		p, ok := f.paid[id]
		switch {
		case !ok:
		case p == "":
			body.Errors = append(body.Errors, problem{
				ResourceID: id,
				Type:       "https://api.twitter.com/2/problems/resource-not-found",
				Detail:     "Could not find tweet with ids: [" + id + "].",
			})
		default:
			key := "3_" + id
			body.Data = append(body.Data, map[string]interface{}{
				"id":          id,
				"attachments": map[string]interface{}{"media_keys": []string{key}},
			})
			body.Includes.Media = append(body.Includes.Media, media{MediaKey: key, Type: "photo", URL: f.srv.URL + p})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeX) serveLikes(w http.ResponseWriter, r *http.Request) {
	f.likesCalls.Add(1)
	if r.Header.Get("Authorization") != "Bearer test-bearer" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	type media struct {
		MediaKey string `json:"media_key"`
		Type     string `json:"type"`
		URL      string `json:"url"`
	}
	var body struct {
		Data     []map[string]interface{} `json:"data"`
		Includes struct {
			Media []media `json:"media"`
		} `json:"includes"`
	}
	for _, id := range f.likes {
		key := "3_" + id
		body.Data = append(body.Data, map[string]interface{}{
			"id":          id,
			"attachments": map[string]interface{}{"media_keys": []string{key}},
		})
		body.Includes.Media = append(body.Includes.Media, media{MediaKey: key, Type: "photo", URL: f.srv.URL + "/media/" + id + ".jpg"})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeX) config(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	u, err := url.Parse(f.srv.URL)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.SessionAPI.BaseURL = f.srv.URL
	cfg.PaidAPI.BaseURL = f.srv.URL
	cfg.Scrape.BaseURL = f.srv.URL
	cfg.Credentials.BearerToken = "test-bearer"
	cfg.Download.AllowedHosts = []string{u.Host}
	cfg.Output.StagingDirectory = filepath.Join(dir, "staging")
	cfg.Output.ManifestPath = filepath.Join(dir, "manifest.json")
	require.NoError(t, cfg.Validate())
	return cfg
}

func writeInput(t *testing.T, posts ...models.RawPost) string {
	t.Helper()
	data, err := json.Marshal(posts)
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), "likes.json")
	require.NoError(t, os.WriteFile(p, data, 0644))
	return p
}

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *logger.TestLogger) {
	t.Helper()
	log := logger.NewTestLogger()
	e, err := New(Options{
		Config:  cfg,
		Clock:   clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		Metrics: metrics.New(),
		Logger:  log,
	})
	require.NoError(t, err)
	return e, log
}

const scrapePage = `<html><head>
<meta property="og:title" content="painter on X">
<meta property="og:image" content="https://pbs.twimg.com/media/GxYz?format=jpg&name=small">
<link rel="canonical" href="https://x.com/painter/status/400">
</head><body></body></html>`

func TestRunResolvesThroughFallbackAndDownloads(t *testing.T) {
	f := newFakeX(t)
	f.paid["200"] = "/media/200.jpg"
	f.paid["300"] = ""
	f.pages["400"] = scrapePage
	cfg := f.config(t)

	input := writeInput(t,
		models.RawPost{AccountID: "a", PostID: "100", MediaURLs: []string{f.srv.URL + "/media/100.jpg"}},
		models.RawPost{AccountID: "a", PostID: "200"},
		models.RawPost{AccountID: "b", PostID: "200"},
		models.RawPost{AccountID: "b", PostID: "300"},
		models.RawPost{AccountID: "a", PostID: "400"},
	)

	e, _ := newTestEngine(t, cfg)
	res, err := e.Run(context.Background(), RunOptions{Inputs: []string{input}})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Ingested)
	assert.Equal(t, 4, res.Posts)
	assert.Equal(t, 1, res.MultiAccount)

	// No cookies: the session API stops on auth without a request.
	assert.Equal(t, int32(0), f.sessionCalls.Load())
	require.NotEmpty(t, res.Resolution.Strategies)
	assert.Equal(t, models.StrategySessionAPI, res.Resolution.Strategies[0].Strategy)
	assert.Equal(t, resolver.StopAuth, res.Resolution.Strategies[0].Stopped)

	assert.Equal(t, 3, res.Resolution.Requested)
	assert.Equal(t, 2, res.Resolution.Resolved)
	assert.Equal(t, 1, res.Resolution.Failed)
	assert.Empty(t, res.Resolution.Unresolved)
	assert.Equal(t, int32(1), f.pageCalls.Load(), "only the id the paid API skipped reaches scraping")

	require.NotNil(t, res.Download)
	assert.Equal(t, 2, res.Download.Downloaded)
	assert.Equal(t, 1, res.Download.InvalidSource, "scraped CDN url is outside the allowlist")
	assert.Equal(t, int32(2), f.mediaHits.Load())

	for _, name := range []string{"100_0.jpg", "200_0.jpg"} {
		_, err := os.Stat(filepath.Join(cfg.Output.StagingDirectory, name))
		assert.NoError(t, err, name)
	}

	doc, err := manifest.ReadDocument(cfg.Output.ManifestPath)
	require.NoError(t, err)
	assert.Equal(t, e.RunID(), doc.RunID)
	require.Len(t, doc.Posts, 4)

	byID := map[string]manifest.Entry{}
	for _, p := range doc.Posts {
		byID[p.PostID] = p
	}
	assert.Equal(t, []string{"a", "b"}, byID["200"].SourceAccounts)
	assert.Equal(t, models.StrategyPaidAPI, byID["200"].ResolutionStrategy)
	assert.Equal(t, models.StatusPermanentlyFailed, byID["300"].ResolutionStatus)
	assert.Equal(t, models.StrategyScrape, byID["400"].ResolutionStrategy)
	assert.Equal(t, "painter", byID["400"].AuthorHandle)
	require.Len(t, byID["400"].Media, 1)
	assert.Equal(t, models.DownloadInvalidSource, byID["400"].Media[0].Status)
	require.Len(t, byID["200"].Media, 1)
	assert.Equal(t, models.DownloadDownloaded, byID["200"].Media[0].Status)
	assert.True(t, strings.HasPrefix(byID["200"].Media[0].ContentHash, "sha256:"))
}

func TestRunMergesAccountsWithoutResolution(t *testing.T) {
	f := newFakeX(t)
	cfg := f.config(t)

	input := writeInput(t,
		models.RawPost{AccountID: "A", PostID: "123"},
		models.RawPost{AccountID: "B", PostID: "123", MediaURLs: []string{f.srv.URL + "/media/123.jpg"}},
	)

	e, _ := newTestEngine(t, cfg)
	res, err := e.Run(context.Background(), RunOptions{Inputs: []string{input}, SkipDownload: true})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Posts)
	assert.Equal(t, 0, res.Resolution.Requested)
	assert.Equal(t, int32(0), f.sessionCalls.Load()+f.paidCalls.Load()+f.pageCalls.Load())

	doc, err := manifest.ReadDocument(cfg.Output.ManifestPath)
	require.NoError(t, err)
	require.Len(t, doc.Posts, 1)
	rec := doc.Posts[0]
	assert.Equal(t, []string{"A", "B"}, rec.SourceAccounts)
	assert.Equal(t, models.StatusResolved, rec.ResolutionStatus)
	assert.Equal(t, []string{f.srv.URL + "/media/123.jpg"}, rec.MediaURLs)
}

func TestRunResumeIsFetchFree(t *testing.T) {
	f := newFakeX(t)
	f.paid["200"] = "/media/200.jpg"
	cfg := f.config(t)
	input := writeInput(t,
		models.RawPost{AccountID: "a", PostID: "100", MediaURLs: []string{f.srv.URL + "/media/100.jpg"}},
		models.RawPost{AccountID: "a", PostID: "200"},
	)

	first, _ := newTestEngine(t, cfg)
	_, err := first.Run(context.Background(), RunOptions{Inputs: []string{input}})
	require.NoError(t, err)
	hits, paid := f.mediaHits.Load(), f.paidCalls.Load()

	second, _ := newTestEngine(t, cfg)
	res, err := second.Run(context.Background(), RunOptions{Inputs: []string{input}})
	require.NoError(t, err)

	assert.Equal(t, hits, f.mediaHits.Load(), "no media refetched")
	assert.Equal(t, paid, f.paidCalls.Load(), "no resolution repeated")
	assert.Equal(t, 0, res.Resolution.Requested)
	assert.Equal(t, 2, res.Download.Skipped)
	assert.Equal(t, 0, res.Download.Downloaded)
}

func TestRunResolveOnly(t *testing.T) {
	f := newFakeX(t)
	f.paid["200"] = "/media/200.jpg"
	cfg := f.config(t)
	input := writeInput(t, models.RawPost{AccountID: "a", PostID: "200"})

	e, _ := newTestEngine(t, cfg)
	res, err := e.Run(context.Background(), RunOptions{Inputs: []string{input}, SkipDownload: true})
	require.NoError(t, err)

	assert.Nil(t, res.Download)
	assert.Equal(t, 1, res.Resolution.Resolved)
	assert.Equal(t, int32(0), f.mediaHits.Load())
}

func TestRunRespectsPaidCallBudget(t *testing.T) {
	f := newFakeX(t)
	cfg := f.config(t)
	cfg.SessionAPI.Enabled = false
	cfg.Scrape.Enabled = false
	cfg.PaidAPI.BatchSize = 1
	cfg.PaidAPI.MaxCalls = 2

	var posts []models.RawPost
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("90%d", i)
		f.paid[id] = "/media/" + id + ".jpg"
		posts = append(posts, models.RawPost{AccountID: "a", PostID: id})
	}
	input := writeInput(t, posts...)

	e, _ := newTestEngine(t, cfg)
	res, err := e.Run(context.Background(), RunOptions{Inputs: []string{input}, SkipDownload: true})
	require.NoError(t, err)

	assert.Equal(t, int32(2), f.paidCalls.Load())
	assert.Equal(t, 2, res.Resolution.Resolved)
	assert.Len(t, res.Resolution.Unresolved, 3)
	assert.Equal(t, resolver.StopCallBudget, res.Resolution.Strategies[0].Stopped)
}

func TestRunLimit(t *testing.T) {
	f := newFakeX(t)
	cfg := f.config(t)
	cfg.Resolve.Limit = 1
	f.paid["1"] = "/media/1.jpg"
	f.paid["2"] = "/media/2.jpg"
	input := writeInput(t,
		models.RawPost{AccountID: "a", PostID: "1"},
		models.RawPost{AccountID: "a", PostID: "2"},
	)

	e, _ := newTestEngine(t, cfg)
	res, err := e.Run(context.Background(), RunOptions{Inputs: []string{input}, SkipDownload: true})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Resolution.Resolved)
	assert.Equal(t, 1, res.Resolution.OverBudget)
	assert.Equal(t, []string{"2"}, res.Resolution.Unresolved)
}

func TestRunRetryFailed(t *testing.T) {
	f := newFakeX(t)
	f.paid["300"] = ""
	cfg := f.config(t)
	cfg.Scrape.Enabled = false
	input := writeInput(t, models.RawPost{AccountID: "a", PostID: "300"})

	e, _ := newTestEngine(t, cfg)
	res, err := e.Run(context.Background(), RunOptions{Inputs: []string{input}, SkipDownload: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolution.Failed)

	// Failed posts stay failed on a normal rerun.
	e, _ = newTestEngine(t, cfg)
	res, err = e.Run(context.Background(), RunOptions{Inputs: []string{input}, SkipDownload: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Resolution.Requested)

	f.paid["300"] = "/media/300.jpg"
	cfg.Resolve.RetryFailed = true
	e, _ = newTestEngine(t, cfg)
	res, err = e.Run(context.Background(), RunOptions{Inputs: []string{input}, SkipDownload: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ClearedFailed)
	assert.Equal(t, 1, res.Resolution.Resolved)
}

func TestRunWithSQLiteManifest(t *testing.T) {
	f := newFakeX(t)
	f.paid["200"] = "/media/200.jpg"
	cfg := f.config(t)
	cfg.Output.ManifestPath = filepath.Join(t.TempDir(), "manifest.db")
	input := writeInput(t, models.RawPost{AccountID: "a", PostID: "200"})

	e, _ := newTestEngine(t, cfg)
	_, err := e.Run(context.Background(), RunOptions{Inputs: []string{input}})
	require.NoError(t, err)

	mf, err := manifest.Load(context.Background(), cfg.Output.ManifestPath, "check", logger.NewNopLogger())
	require.NoError(t, err)
	defer mf.Close()

	stats := mf.Stats()
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.Downloads[models.DownloadDownloaded])
}

func TestRunCancelled(t *testing.T) {
	f := newFakeX(t)
	f.paid["200"] = "/media/200.jpg"
	cfg := f.config(t)
	input := writeInput(t, models.RawPost{AccountID: "a", PostID: "200"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, _ := newTestEngine(t, cfg)
	res, err := e.Run(ctx, RunOptions{Inputs: []string{input}})
	require.NoError(t, err)
	assert.Equal(t, []string{"200"}, res.Resolution.Unresolved)
	assert.Nil(t, res.Download)
	assert.Equal(t, int32(0), f.paidCalls.Load())
}

func TestRunCancelledWithSQLiteManifest(t *testing.T) {
	f := newFakeX(t)
	f.paid["200"] = "/media/200.jpg"
	cfg := f.config(t)
	cfg.Output.ManifestPath = filepath.Join(t.TempDir(), "manifest.db")
	input := writeInput(t, models.RawPost{AccountID: "a", PostID: "200"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, _ := newTestEngine(t, cfg)
	res, err := e.Run(ctx, RunOptions{Inputs: []string{input}})
	require.NoError(t, err)
	assert.Equal(t, []string{"200"}, res.Resolution.Unresolved)

	mf, err := manifest.Load(context.Background(), cfg.Output.ManifestPath, "check", logger.NewNopLogger())
	require.NoError(t, err)
	defer mf.Close()
	_, ok := mf.Post("200")
	assert.True(t, ok, "ingested posts are recorded even after the run is cancelled")
}

func TestRunReadsLikesFromAPI(t *testing.T) {
	f := newFakeX(t)
	f.likes = []string{"700", "701"}
	cfg := f.config(t)
	cfg.LikesAPI.Enabled = true
	cfg.LikesAPI.UserID = "42"
	cfg.LikesAPI.Account = "alice"
	input := writeInput(t, models.RawPost{AccountID: "bob", PostID: "700"})

	e, _ := newTestEngine(t, cfg)
	res, err := e.Run(context.Background(), RunOptions{Inputs: []string{input}})
	require.NoError(t, err)

	require.NotNil(t, res.Likes)
	assert.Equal(t, "42", res.Likes.UserID)
	assert.Equal(t, 2, res.Likes.Posts)
	assert.True(t, res.Likes.Complete)
	assert.Equal(t, int32(1), f.likesCalls.Load())

	assert.Equal(t, 3, res.Ingested)
	assert.Equal(t, 2, res.Posts)
	assert.Equal(t, 1, res.MultiAccount)
	assert.Equal(t, 0, res.Resolution.Requested, "liked posts from the API already carry media")
	assert.Equal(t, int32(0), f.paidCalls.Load())
	require.NotNil(t, res.Download)
	assert.Equal(t, 2, res.Download.Downloaded)

	doc, err := manifest.ReadDocument(cfg.Output.ManifestPath)
	require.NoError(t, err)
	require.Len(t, doc.Posts, 2)
	assert.Equal(t, []string{"alice", "bob"}, doc.Posts[0].SourceAccounts)
}

func TestRunLikesAPIAuthFailure(t *testing.T) {
	f := newFakeX(t)
	f.likes = []string{"700"}
	cfg := f.config(t)
	cfg.Credentials.BearerToken = "wrong"
	cfg.LikesAPI.Enabled = true
	cfg.LikesAPI.UserID = "42"

	e, _ := newTestEngine(t, cfg)
	_, err := e.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "likes API")
	assert.Equal(t, int32(1), f.likesCalls.Load())

	_, statErr := os.Stat(cfg.Output.ManifestPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunMissingInput(t *testing.T) {
	f := newFakeX(t)
	e, _ := newTestEngine(t, f.config(t))
	_, err := e.Run(context.Background(), RunOptions{Inputs: []string{filepath.Join(t.TempDir(), "nope.json")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.json")
}

func TestRunLogsSummary(t *testing.T) {
	f := newFakeX(t)
	cfg := f.config(t)
	input := writeInput(t, models.RawPost{AccountID: "a", PostID: "1", MediaURLs: []string{f.srv.URL + "/media/1.jpg"}})

	e, log := newTestEngine(t, cfg)
	_, err := e.Run(context.Background(), RunOptions{Inputs: []string{input}})
	require.NoError(t, err)

	assert.NotEmpty(t, log.FindByField("downloaded", 1))
}
