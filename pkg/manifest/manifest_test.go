package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"likegrab/pkg/logger"
	"likegrab/pkg/models"
)

var ts = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func resolvedPost(id string, accounts ...string) *models.PostRecord {
	rec := models.NewPostRecord(id, accounts[0])
	rec.AddAccounts(accounts...)
	rec.Resolve([]string{"https://pbs.twimg.com/media/" + id + ".jpg"}, models.StrategyPaidAPI, "author", nil, ts)
	return rec
}

func downloaded(id string, idx int, hash string) *models.DownloadRecord {
	return &models.DownloadRecord{
		PostID:      id,
		MediaIndex:  idx,
		URL:         "https://pbs.twimg.com/media/" + id + ".jpg",
		LocalPath:   id + "_0.jpg",
		ContentHash: hash,
		ByteSize:    10,
		Status:      models.DownloadDownloaded,
		Attempts:    1,
		UpdatedAt:   ts,
	}
}

func TestJSONStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", "manifest.json")

	m, err := Load(ctx, path, "run-1", logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, m.PutPost(ctx, resolvedPost("2", "A")))
	require.NoError(t, m.PutPost(ctx, resolvedPost("1", "B", "A")))
	require.NoError(t, m.PutDownload(ctx, downloaded("1", 0, "sha256:aa")))

	doc, err := ReadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, Version, doc.Version)
	assert.Equal(t, "run-1", doc.RunID)
	require.Len(t, doc.Posts, 2)
	assert.Equal(t, "1", doc.Posts[0].PostID, "posts are sorted by id")
	require.Len(t, doc.Posts[0].Media, 1)
	assert.Equal(t, "sha256:aa", doc.Posts[0].Media[0].ContentHash)

	reopened, err := Load(ctx, path, "run-2", logger.NewNopLogger())
	require.NoError(t, err)
	d, ok := reopened.Download("1", 0)
	require.True(t, ok)
	assert.Equal(t, models.DownloadDownloaded, d.Status)
	p, ok := reopened.PathForDigest("sha256:aa")
	require.True(t, ok)
	assert.Equal(t, "1_0.jpg", p)
	rec, ok := reopened.Post("1")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, rec.SourceAccounts)
}

func TestJSONStoreNoWriteWithoutChanges(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "manifest.json")

	m, err := Load(ctx, path, "run-1", logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, m.PutPost(ctx, resolvedPost("1", "A")))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = Load(ctx, path, "run-2", logger.NewNopLogger())
	require.NoError(t, err)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReadDocumentRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99, "posts": []}`), 0644))

	_, err := ReadDocument(path)
	assert.ErrorContains(t, err, "version 99")
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "manifest.db")

	m, err := Load(ctx, path, "run-1", logger.NewNopLogger())
	require.NoError(t, err)
	posted := ts.Add(-time.Hour)
	rec := resolvedPost("7", "A")
	rec.PostedAt = &posted
	require.NoError(t, m.PutPost(ctx, rec))
	require.NoError(t, m.PutDownload(ctx, downloaded("7", 0, "sha256:bb")))

	failed := downloaded("7", 1, "")
	failed.Status = models.DownloadFailed
	failed.Error = "timeout"
	require.NoError(t, m.PutDownload(ctx, failed))

	// Upsert replaces rather than duplicates.
	failed.Attempts = 3
	require.NoError(t, m.PutDownload(ctx, failed))
	require.NoError(t, m.Close())

	reopened, err := Load(ctx, path, "run-2", logger.NewNopLogger())
	require.NoError(t, err)
	defer reopened.Close()

	doc := reopened.Document()
	require.Len(t, doc.Posts, 1)
	require.Len(t, doc.Posts[0].Media, 2)
	assert.Equal(t, 3, doc.Posts[0].Media[1].Attempts)
	assert.True(t, posted.Equal(*doc.Posts[0].PostedAt))
	assert.Equal(t, models.StrategyPaidAPI, doc.Posts[0].ResolutionStrategy)

	stats := reopened.Stats()
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.Downloads[models.DownloadDownloaded])
	assert.Equal(t, 1, stats.Downloads[models.DownloadFailed])
}

func TestSQLiteReplace(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "m.sqlite"), "r", logger.NewNopLogger())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.PutPost(ctx, resolvedPost("old", "A")))

	src := New()
	require.NoError(t, src.PutPost(ctx, resolvedPost("new", "A")))
	require.NoError(t, store.Replace(ctx, src.Document()))

	doc, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Posts, 1)
	assert.Equal(t, "new", doc.Posts[0].PostID)
}

func TestMergeIdempotent(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.PutPost(ctx, resolvedPost("1", "A", "B")))
	unresolved := models.NewPostRecord("2", "C")
	require.NoError(t, m.PutPost(ctx, unresolved))
	require.NoError(t, m.PutDownload(ctx, downloaded("1", 0, "sha256:cc")))

	once := Merge(m, m)
	assert.Equal(t, m.Document(), once.Document())
	assert.Equal(t, once.Document(), Merge(once, m).Document())
}

func TestMergeIndependentRuns(t *testing.T) {
	ctx := context.Background()

	a := New()
	require.NoError(t, a.PutPost(ctx, models.NewPostRecord("1", "A")))
	pending := downloaded("2", 0, "")
	pending.Status = models.DownloadFailed
	require.NoError(t, a.PutPost(ctx, resolvedPost("2", "A")))
	require.NoError(t, a.PutDownload(ctx, pending))

	b := New()
	require.NoError(t, b.PutPost(ctx, resolvedPost("1", "B")))
	require.NoError(t, b.PutPost(ctx, resolvedPost("2", "B")))
	require.NoError(t, b.PutDownload(ctx, downloaded("2", 0, "sha256:dd")))

	ab := Merge(a, b)
	ba := Merge(b, a)
	assert.Equal(t, ab.Document(), ba.Document())

	rec, _ := ab.Post("1")
	assert.Equal(t, models.StatusResolved, rec.ResolutionStatus)
	assert.Equal(t, []string{"A", "B"}, rec.SourceAccounts)

	d, _ := ab.Download("2", 0)
	assert.Equal(t, models.DownloadDownloaded, d.Status)
	_, ok := ab.PathForDigest("sha256:dd")
	assert.True(t, ok)
}
