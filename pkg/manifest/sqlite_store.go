package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"likegrab/pkg/logger"
	"likegrab/pkg/models"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS posts (
		post_id             TEXT PRIMARY KEY,
		source_accounts     TEXT NOT NULL,
		author_handle       TEXT NOT NULL DEFAULT '',
		posted_at           TEXT,
		media_urls          TEXT NOT NULL,
		resolution_status   TEXT NOT NULL,
		resolution_strategy TEXT NOT NULL,
		last_error          TEXT NOT NULL DEFAULT '',
		updated_at          TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS media (
		post_id      TEXT NOT NULL,
		media_index  INTEGER NOT NULL,
		url          TEXT NOT NULL,
		local_path   TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		byte_size    INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL,
		attempts     INTEGER NOT NULL DEFAULT 0,
		error        TEXT NOT NULL DEFAULT '',
		updated_at   TEXT NOT NULL,
		PRIMARY KEY (post_id, media_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_media_content_hash ON media(content_hash)`,
	`CREATE TABLE IF NOT EXISTS manifest_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// SQLiteStore keeps the manifest in a SQLite database with one row per post
// and per media item.
type SQLiteStore struct {
	db     *sql.DB
	runID  string
	logger logger.Logger
}

// OpenSQLiteStore opens (creating if needed) the database at path
func OpenSQLiteStore(path, runID string, log logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create manifest directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open manifest database: %w", err)
	}
	// One connection: a single writer, and :memory: databases stay shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA synchronous=NORMAL"}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %q: %w", p, err)
		}
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate manifest database: %w", err)
		}
	}

	return &SQLiteStore{db: db, runID: runID, logger: log}, nil
}

// Load reads every post and media row
func (s *SQLiteStore) Load(ctx context.Context) (*Document, error) {
	posts := make(map[string]*models.PostRecord)
	downloads := make(map[models.MediaKey]*models.DownloadRecord)

	rows, err := s.db.QueryContext(ctx, `
		SELECT post_id, source_accounts, author_handle, posted_at, media_urls,
		       resolution_status, resolution_strategy, last_error, updated_at
		FROM posts`)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	for rows.Next() {
		rec, err := scanPost(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		posts[rec.PostID] = rec
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT post_id, media_index, url, local_path, content_hash, byte_size,
		       status, attempts, error, updated_at
		FROM media`)
	if err != nil {
		return nil, fmt.Errorf("query media: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d models.DownloadRecord
		var status, updated string
		if err := rows.Scan(&d.PostID, &d.MediaIndex, &d.URL, &d.LocalPath, &d.ContentHash,
			&d.ByteSize, &status, &d.Attempts, &d.Error, &updated); err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		d.Status = models.DownloadStatus(status)
		d.UpdatedAt = parseTime(updated)
		downloads[d.Key()] = &d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media: %w", err)
	}

	doc := buildDocument(posts, downloads)
	var runID, updated sql.NullString
	_ = s.db.QueryRowContext(ctx, `SELECT value FROM manifest_meta WHERE key = 'run_id'`).Scan(&runID)
	_ = s.db.QueryRowContext(ctx, `SELECT value FROM manifest_meta WHERE key = 'updated_at'`).Scan(&updated)
	doc.RunID = runID.String
	doc.UpdatedAt = parseTime(updated.String)
	return doc, nil
}

func scanPost(rows *sql.Rows) (*models.PostRecord, error) {
	var rec models.PostRecord
	var accounts, urls, status, strategy, updated string
	var posted sql.NullString
	if err := rows.Scan(&rec.PostID, &accounts, &rec.AuthorHandle, &posted, &urls,
		&status, &strategy, &rec.LastError, &updated); err != nil {
		return nil, fmt.Errorf("scan post: %w", err)
	}
	if err := json.Unmarshal([]byte(accounts), &rec.SourceAccounts); err != nil {
		return nil, fmt.Errorf("decode source accounts of %s: %w", rec.PostID, err)
	}
	if err := json.Unmarshal([]byte(urls), &rec.MediaURLs); err != nil {
		return nil, fmt.Errorf("decode media urls of %s: %w", rec.PostID, err)
	}
	if posted.Valid && posted.String != "" {
		t := parseTime(posted.String)
		rec.PostedAt = &t
	}
	rec.ResolutionStatus = models.ResolutionStatus(status)
	rec.ResolutionStrategy = models.Strategy(strategy)
	rec.UpdatedAt = parseTime(updated)
	return &rec, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PutPost upserts one post row
func (s *SQLiteStore) PutPost(ctx context.Context, rec *models.PostRecord) error {
	if err := upsertPost(ctx, s.db, rec); err != nil {
		return err
	}
	return s.touch(ctx, s.db)
}

func upsertPost(ctx context.Context, ex execer, rec *models.PostRecord) error {
	accounts, err := json.Marshal(nonNil(rec.SourceAccounts))
	if err != nil {
		return fmt.Errorf("encode source accounts: %w", err)
	}
	urls, err := json.Marshal(nonNil(rec.MediaURLs))
	if err != nil {
		return fmt.Errorf("encode media urls: %w", err)
	}
	var posted any
	if rec.PostedAt != nil {
		posted = formatTime(*rec.PostedAt)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO posts (post_id, source_accounts, author_handle, posted_at, media_urls,
		                   resolution_status, resolution_strategy, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (post_id) DO UPDATE SET
			source_accounts = excluded.source_accounts,
			author_handle = excluded.author_handle,
			posted_at = excluded.posted_at,
			media_urls = excluded.media_urls,
			resolution_status = excluded.resolution_status,
			resolution_strategy = excluded.resolution_strategy,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		rec.PostID, string(accounts), rec.AuthorHandle, posted, string(urls),
		string(rec.ResolutionStatus), string(rec.ResolutionStrategy), rec.LastError,
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert post %s: %w", rec.PostID, err)
	}
	return nil
}

// PutDownload upserts one media row
func (s *SQLiteStore) PutDownload(ctx context.Context, d *models.DownloadRecord) error {
	if err := upsertDownload(ctx, s.db, d); err != nil {
		return err
	}
	return s.touch(ctx, s.db)
}

func upsertDownload(ctx context.Context, ex execer, d *models.DownloadRecord) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO media (post_id, media_index, url, local_path, content_hash, byte_size,
		                   status, attempts, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (post_id, media_index) DO UPDATE SET
			url = excluded.url,
			local_path = excluded.local_path,
			content_hash = excluded.content_hash,
			byte_size = excluded.byte_size,
			status = excluded.status,
			attempts = excluded.attempts,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		d.PostID, d.MediaIndex, d.URL, d.LocalPath, d.ContentHash, d.ByteSize,
		string(d.Status), d.Attempts, d.Error, formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert media %s/%d: %w", d.PostID, d.MediaIndex, err)
	}
	return nil
}

// Replace rewrites all rows inside one transaction
func (s *SQLiteStore) Replace(ctx context.Context, doc *Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM media`, `DELETE FROM posts`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear manifest: %w", err)
		}
	}
	for i := range doc.Posts {
		e := &doc.Posts[i]
		if err := upsertPost(ctx, tx, &e.PostRecord); err != nil {
			return err
		}
		for j := range e.Media {
			d := e.Media[j]
			d.PostID = e.PostID
			if err := upsertDownload(ctx, tx, &d); err != nil {
				return err
			}
		}
	}
	if err := s.touch(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) touch(ctx context.Context, ex execer) error {
	meta := map[string]string{
		"run_id":     s.runID,
		"updated_at": formatTime(time.Now()),
	}
	for k, v := range meta {
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO manifest_meta (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("update manifest meta: %w", err)
		}
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
