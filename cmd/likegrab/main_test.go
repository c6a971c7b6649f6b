package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"likegrab/pkg/auth"
	"likegrab/pkg/config"
	"likegrab/pkg/manifest"
	"likegrab/pkg/models"
)

func newRunFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	addPipelineFlags(fs)
	fs.DurationVar(&downloadTimeout, "timeout", 0, "")
	fs.IntVar(&concurrent, "concurrent", 0, "")
	return fs
}

func TestBuildFlagMapOnlyChangedFlags(t *testing.T) {
	fs := newRunFlagSet()
	require.NoError(t, fs.Parse([]string{
		"--limit", "5",
		"--no-scrape",
		"--run-timeout", "2m",
		"--timeout", "15s",
		"--manifest", "likes.db",
	}))

	flags := buildFlagMap(fs)

	assert.Equal(t, 5, flags["limit"])
	assert.Equal(t, true, flags["no-scrape"])
	assert.Equal(t, 2*time.Minute, flags["timeout"])
	assert.Equal(t, 15*time.Second, flags["download-timeout"])
	assert.Equal(t, "likes.db", flags["manifest"])
	assert.NotContains(t, flags, "concurrent")
	assert.NotContains(t, flags, "no-paid-api")
}

func TestBuildFlagMapSelectsAPISource(t *testing.T) {
	fs := newRunFlagSet()
	require.NoError(t, fs.Parse([]string{"--api", "--api-user-id", "987", "--api-max-pages", "2"}))

	cfg := config.DefaultConfig()
	cfg.MergeCommandLineFlags(buildFlagMap(fs))

	assert.True(t, cfg.LikesAPI.Enabled)
	assert.Equal(t, "987", cfg.LikesAPI.UserID)
	assert.Equal(t, 2, cfg.LikesAPI.MaxPages)
}

func TestBuildFlagMapFeedsConfig(t *testing.T) {
	fs := newRunFlagSet()
	require.NoError(t, fs.Parse([]string{"--paid-max-calls", "3", "--no-session-api"}))

	cfg := config.DefaultConfig()
	cfg.MergeCommandLineFlags(buildFlagMap(fs))

	assert.Equal(t, 3, cfg.PaidAPI.MaxCalls)
	assert.False(t, cfg.SessionAPI.Enabled)
	assert.True(t, cfg.Scrape.Enabled)
}

func TestApplyAccount(t *testing.T) {
	manager, _ := auth.NewMockManager()
	require.NoError(t, manager.Store(&auth.Account{
		Name:        "alice",
		AuthToken:   "profile-auth",
		CSRFToken:   "profile-ct0",
		BearerToken: "profile-bearer",
	}))

	t.Run("named profile fills empty fields", func(t *testing.T) {
		creds := config.CredentialsConfig{Account: "alice", BearerToken: "from-config"}
		name, err := applyAccount(&creds, manager)
		require.NoError(t, err)
		assert.Equal(t, "alice", name)
		assert.Equal(t, "profile-auth", creds.AuthToken)
		assert.Equal(t, "profile-ct0", creds.CSRFToken)
		assert.Equal(t, "from-config", creds.BearerToken)
	})

	t.Run("default profile", func(t *testing.T) {
		var creds config.CredentialsConfig
		name, err := applyAccount(&creds, manager)
		require.NoError(t, err)
		assert.Equal(t, "alice", name)
		assert.Equal(t, "profile-bearer", creds.BearerToken)
	})

	t.Run("missing named profile", func(t *testing.T) {
		creds := config.CredentialsConfig{Account: "bob"}
		_, err := applyAccount(&creds, manager)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrCredentialsNotFound)
	})

	t.Run("no store", func(t *testing.T) {
		var creds config.CredentialsConfig
		name, err := applyAccount(&creds, nil)
		require.NoError(t, err)
		assert.Empty(t, name)

		creds.Account = "alice"
		_, err = applyAccount(&creds, nil)
		assert.Error(t, err)
	})
}

func TestApplyAccountNoProfiles(t *testing.T) {
	manager, _ := auth.NewMockManager()
	creds := config.CredentialsConfig{AuthToken: "a", CSRFToken: "b"}

	name, err := applyAccount(&creds, manager)
	require.NoError(t, err)
	assert.Empty(t, name)
	assert.Equal(t, "a", creds.AuthToken)
}

func writeManifest(t *testing.T, path string, recs ...*models.PostRecord) {
	t.Helper()
	doc := &manifest.Document{Version: manifest.Version}
	for _, r := range recs {
		doc.Posts = append(doc.Posts, manifest.Entry{PostRecord: *r})
	}
	require.NoError(t, manifest.WriteDocument(path, doc))
}

func TestMergeManifestsIntoSQLite(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	out := filepath.Join(dir, "all.db")

	resolved := models.NewPostRecord("100", "bob")
	resolved.Resolve([]string{"https://pbs.twimg.com/media/x.jpg"}, models.StrategyPaidAPI, "", nil, time.Now())
	writeManifest(t, a, models.NewPostRecord("100", "alice"), models.NewPostRecord("200", "alice"))
	writeManifest(t, b, resolved)

	stats, err := mergeManifests(context.Background(), out, []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Posts)
	assert.Equal(t, 1, stats.Resolved)

	m, err := manifest.Load(context.Background(), out, "", nil)
	require.NoError(t, err)
	defer m.Close()

	rec, ok := m.Post("100")
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, rec.SourceAccounts)
	assert.Equal(t, models.StatusResolved, rec.ResolutionStatus)
}

func TestMergeManifestsMissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := mergeManifests(context.Background(), filepath.Join(dir, "out.json"), []string{filepath.Join(dir, "nope.json")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.json")
}

func TestWriteMaskedConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Credentials.AuthToken = "abcdef0123456789"
	cfg.Credentials.BearerToken = "bearer-secret-value"

	var buf bytes.Buffer
	require.NoError(t, writeMaskedConfig(&buf, cfg))

	out := buf.String()
	assert.NotContains(t, out, "abcdef0123456789")
	assert.NotContains(t, out, "bearer-secret-value")
	assert.NotContains(t, out, config.DefaultWebBearerToken)
	assert.Contains(t, out, "abcd...6789")
	// The caller's config is untouched.
	assert.Equal(t, "abcdef0123456789", cfg.Credentials.AuthToken)
}

func TestWriteAccounts(t *testing.T) {
	var buf bytes.Buffer
	writeAccounts(&buf, []*auth.Account{
		{Name: "alice", AuthToken: "auth-token-value", CSRFToken: "csrf-token-value"},
		{Name: "paid", BearerToken: "bearer-token-value"},
	})

	out := buf.String()
	assert.Contains(t, out, "1. alice")
	assert.Contains(t, out, "auth_token: auth...alue")
	assert.Contains(t, out, "2. paid")
	assert.Contains(t, out, "bearer: bear...alue")
	assert.NotContains(t, out, "bearer-token-value")

	buf.Reset()
	writeAccounts(&buf, nil)
	assert.Contains(t, buf.String(), "No stored profiles")
}
