// Package models defines the records shared by the ledger, the resolution
// orchestrator, the download manager and the manifest.
package models

import (
	"sort"
	"time"
)

// ResolutionStatus tracks where a post is in the resolution lifecycle
type ResolutionStatus string

const (
	StatusUnresolved        ResolutionStatus = "unresolved"
	StatusResolved          ResolutionStatus = "resolved"
	StatusPermanentlyFailed ResolutionStatus = "permanently_failed"
)

// Strategy names the source that produced a post's media URLs
type Strategy string

const (
	StrategyNone       Strategy = "none"
	StrategySessionAPI Strategy = "session_api"
	StrategyPaidAPI    Strategy = "paid_api"
	StrategyScrape     Strategy = "scrape"
)

// DownloadStatus is the outcome of fetching one media item
type DownloadStatus string

const (
	DownloadPending       DownloadStatus = "pending"
	DownloadDownloaded    DownloadStatus = "downloaded"
	DownloadFailed        DownloadStatus = "failed"
	DownloadInvalidSource DownloadStatus = "invalid_source"
	DownloadInvalidPath   DownloadStatus = "invalid_path"
)

// RawPost is one liked-post entry as exported from a single account
type RawPost struct {
	AccountID    string     `json:"account_id"`
	PostID       string     `json:"post_id"`
	MediaURLs    []string   `json:"media_urls,omitempty"`
	AuthorHandle string     `json:"author_handle,omitempty"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
}

// PostRecord is the canonical, deduplicated record for one post
type PostRecord struct {
	PostID             string           `json:"post_id"`
	SourceAccounts     []string         `json:"source_accounts"`
	AuthorHandle       string           `json:"author_handle,omitempty"`
	PostedAt           *time.Time       `json:"posted_at,omitempty"`
	MediaURLs          []string         `json:"media_urls"`
	ResolutionStatus   ResolutionStatus `json:"resolution_status"`
	ResolutionStrategy Strategy         `json:"resolution_strategy"`
	LastError          string           `json:"last_error,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// NewPostRecord creates an unresolved record seen from account
func NewPostRecord(postID, account string) *PostRecord {
	return &PostRecord{
		PostID:             postID,
		SourceAccounts:     []string{account},
		MediaURLs:          []string{},
		ResolutionStatus:   StatusUnresolved,
		ResolutionStrategy: StrategyNone,
	}
}

// Clone returns a deep copy
func (p *PostRecord) Clone() *PostRecord {
	c := *p
	c.SourceAccounts = append([]string(nil), p.SourceAccounts...)
	c.MediaURLs = append([]string{}, p.MediaURLs...)
	if p.PostedAt != nil {
		t := *p.PostedAt
		c.PostedAt = &t
	}
	return &c
}

// AddAccounts unions accounts into SourceAccounts, keeping it sorted.
// It reports whether the set grew.
func (p *PostRecord) AddAccounts(accounts ...string) bool {
	seen := make(map[string]struct{}, len(p.SourceAccounts))
	for _, a := range p.SourceAccounts {
		seen[a] = struct{}{}
	}
	grew := false
	for _, a := range accounts {
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		p.SourceAccounts = append(p.SourceAccounts, a)
		grew = true
	}
	sort.Strings(p.SourceAccounts)
	return grew
}

// IsResolved reports whether the record has usable media URLs
func (p *PostRecord) IsResolved() bool {
	return p.ResolutionStatus == StatusResolved && len(p.MediaURLs) > 0
}

// Resolve records media found by strategy. Resolved records are never
// downgraded; an empty URL list is ignored.
func (p *PostRecord) Resolve(urls []string, strategy Strategy, author string, postedAt *time.Time, now time.Time) bool {
	if p.ResolutionStatus == StatusResolved || len(urls) == 0 {
		return false
	}
	p.MediaURLs = append([]string{}, urls...)
	p.ResolutionStatus = StatusResolved
	p.ResolutionStrategy = strategy
	p.LastError = ""
	if p.AuthorHandle == "" {
		p.AuthorHandle = author
	}
	if p.PostedAt == nil && postedAt != nil {
		t := *postedAt
		p.PostedAt = &t
	}
	p.UpdatedAt = now
	return true
}

// Fail marks an unresolved record as permanently failed
func (p *PostRecord) Fail(strategy Strategy, reason string, now time.Time) bool {
	if p.ResolutionStatus != StatusUnresolved {
		return false
	}
	p.ResolutionStatus = StatusPermanentlyFailed
	p.ResolutionStrategy = strategy
	p.LastError = reason
	p.UpdatedAt = now
	return true
}

// DownloadRecord is the outcome of fetching one media item of a post
type DownloadRecord struct {
	PostID      string         `json:"post_id"`
	MediaIndex  int            `json:"media_index"`
	URL         string         `json:"url"`
	LocalPath   string         `json:"local_path,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	ByteSize    int64          `json:"byte_size,omitempty"`
	Status      DownloadStatus `json:"status"`
	Attempts    int            `json:"attempts,omitempty"`
	Error       string         `json:"error,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Key identifies the media slot the record describes
func (d *DownloadRecord) Key() MediaKey {
	return MediaKey{PostID: d.PostID, Index: d.MediaIndex}
}

// Clone returns a copy
func (d *DownloadRecord) Clone() *DownloadRecord {
	c := *d
	return &c
}

// MediaKey is the unique (post_id, media_index) pair of a download
type MediaKey struct {
	PostID string
	Index  int
}
