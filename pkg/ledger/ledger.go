// Package ledger deduplicates liked posts across accounts and archives. It
// is pure bookkeeping: no network or disk access.
package ledger

import (
	"sort"
	"strings"
	"sync"
	"time"

	"likegrab/pkg/clock"
	"likegrab/pkg/logger"
	"likegrab/pkg/models"
)

// Ledger holds one canonical PostRecord per post id
type Ledger struct {
	mu      sync.RWMutex
	records map[string]*models.PostRecord
	dirty   map[string]struct{}
	clock   clock.Clock
	logger  logger.Logger
}

// New creates an empty ledger
func New(clk clock.Clock, log logger.Logger) *Ledger {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Ledger{
		records: make(map[string]*models.PostRecord),
		dirty:   make(map[string]struct{}),
		clock:   clk,
		logger:  log,
	}
}

// Seed loads records from a previous run. Seeded records are not dirty and
// their media URLs take precedence over newly ingested ones.
func (l *Ledger) Seed(records []*models.PostRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range records {
		if r == nil || r.PostID == "" {
			continue
		}
		l.records[r.PostID] = r.Clone()
	}
}

type normalized struct {
	account string
	postID  string
	urls    []string
	author  string
	posted  *time.Time
	key     string
}

func normalize(raw models.RawPost) (normalized, bool) {
	n := normalized{
		account: strings.TrimSpace(raw.AccountID),
		postID:  strings.TrimSpace(raw.PostID),
		author:  strings.TrimPrefix(strings.TrimSpace(raw.AuthorHandle), "@"),
		posted:  raw.PostedAt,
	}
	if n.account == "" || n.postID == "" {
		return n, false
	}
	for _, u := range raw.MediaURLs {
		if u = strings.TrimSpace(u); u != "" {
			n.urls = append(n.urls, u)
		}
	}
	var posted string
	if n.posted != nil {
		posted = n.posted.UTC().Format(time.RFC3339Nano)
	}
	n.key = strings.Join([]string{n.postID, n.account, strings.Join(n.urls, "\x01"), n.author, posted}, "\x00")
	return n, true
}

// Ingest merges raw posts into the ledger and returns the records they
// touched, sorted by post id. The result does not depend on input order.
func (l *Ledger) Ingest(raw []models.RawPost) []*models.PostRecord {
	items := make([]normalized, 0, len(raw))
	skipped := 0
	for _, r := range raw {
		n, ok := normalize(r)
		if !ok {
			skipped++
			continue
		}
		items = append(items, n)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].key < items[j].key })

	if skipped > 0 {
		l.logger.WarnWithFields("Skipped raw posts without account or post id", map[string]interface{}{
			"skipped": skipped,
		})
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	touched := make(map[string]*models.PostRecord)
	for _, n := range items {
		rec, ok := l.records[n.postID]
		changed := false
		if !ok {
			rec = models.NewPostRecord(n.postID, n.account)
			l.records[n.postID] = rec
			changed = true
		} else if rec.AddAccounts(n.account) {
			changed = true
		}

		if len(rec.MediaURLs) == 0 && len(n.urls) > 0 {
			rec.MediaURLs = append([]string{}, n.urls...)
			rec.ResolutionStatus = models.StatusResolved
			rec.ResolutionStrategy = models.StrategyNone
			rec.LastError = ""
			changed = true
		}
		if rec.AuthorHandle == "" && n.author != "" {
			rec.AuthorHandle = n.author
			changed = true
		}
		if rec.PostedAt == nil && n.posted != nil {
			t := *n.posted
			rec.PostedAt = &t
			changed = true
		}

		if changed {
			rec.UpdatedAt = now
			l.dirty[rec.PostID] = struct{}{}
		}
		touched[rec.PostID] = rec
	}

	out := make([]*models.PostRecord, 0, len(touched))
	for _, rec := range touched {
		out = append(out, rec)
	}
	sortRecords(out)
	return out
}

// Get returns the record for id
func (l *Ledger) Get(id string) (*models.PostRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	return rec, ok
}

// Len returns the number of distinct posts
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Records returns every record sorted by post id
func (l *Ledger) Records() []*models.PostRecord {
	return l.filter(func(*models.PostRecord) bool { return true })
}

// Resolved returns records with media URLs, sorted by post id
func (l *Ledger) Resolved() []*models.PostRecord {
	return l.filter(func(r *models.PostRecord) bool { return r.IsResolved() })
}

// Unresolved returns the ids still awaiting resolution, sorted
func (l *Ledger) Unresolved() []string {
	recs := l.filter(func(r *models.PostRecord) bool {
		return r.ResolutionStatus == models.StatusUnresolved
	})
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.PostID
	}
	return ids
}

// MultiAccount counts posts liked from more than one account
func (l *Ledger) MultiAccount() int {
	return len(l.filter(func(r *models.PostRecord) bool { return len(r.SourceAccounts) > 1 }))
}

// ClearFailed makes permanently failed records eligible for resolution
// again and returns how many were reset.
func (l *Ledger) ClearFailed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	n := 0
	for id, rec := range l.records {
		if rec.ResolutionStatus != models.StatusPermanentlyFailed {
			continue
		}
		rec.ResolutionStatus = models.StatusUnresolved
		rec.ResolutionStrategy = models.StrategyNone
		rec.LastError = ""
		rec.UpdatedAt = now
		l.dirty[id] = struct{}{}
		n++
	}
	return n
}

// MarkDirty flags a record as needing to be persisted
func (l *Ledger) MarkDirty(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[id]; ok {
		l.dirty[id] = struct{}{}
	}
}

// TakeDirty returns and clears the records changed since the last call
func (l *Ledger) TakeDirty() []*models.PostRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*models.PostRecord, 0, len(l.dirty))
	for id := range l.dirty {
		out = append(out, l.records[id])
	}
	l.dirty = make(map[string]struct{})
	sortRecords(out)
	return out
}

func (l *Ledger) filter(keep func(*models.PostRecord) bool) []*models.PostRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*models.PostRecord
	for _, rec := range l.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out
}

func sortRecords(recs []*models.PostRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].PostID < recs[j].PostID })
}
