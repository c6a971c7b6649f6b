// Package manifest is the durable record of every post and media download.
// A Manifest is loaded once at the start of a run, updated item by item, and
// flushed to its Store after every update so an interrupted run can resume.
package manifest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"likegrab/pkg/models"
)

// Version is the manifest document format version
const Version = 1

// Document is the serialized form of a manifest
type Document struct {
	Version   int       `json:"version"`
	RunID     string    `json:"run_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Posts     []Entry   `json:"posts"`
}

// Entry is one post and its media downloads
type Entry struct {
	models.PostRecord
	Media []models.DownloadRecord `json:"media,omitempty"`
}

// Stats summarizes a manifest
type Stats struct {
	Posts      int
	Resolved   int
	Unresolved int
	Failed     int
	Downloads  map[models.DownloadStatus]int
	Bytes      int64
}

// Manifest is the in-memory view of the manifest. It is safe for concurrent
// readers; writes are expected from one goroutine at a time.
type Manifest struct {
	mu        sync.RWMutex
	store     Store
	posts     map[string]*models.PostRecord
	downloads map[models.MediaKey]*models.DownloadRecord
	digests   map[string]string
}

// New creates an empty in-memory manifest with no backing store
func New() *Manifest {
	return &Manifest{
		posts:     make(map[string]*models.PostRecord),
		downloads: make(map[models.MediaKey]*models.DownloadRecord),
		digests:   make(map[string]string),
	}
}

// Open loads the manifest held by store
func Open(ctx context.Context, store Store) (*Manifest, error) {
	doc, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	m := FromDocument(doc)
	m.store = store
	return m, nil
}

// FromDocument builds an in-memory manifest from a document
func FromDocument(doc *Document) *Manifest {
	m := New()
	if doc == nil {
		return m
	}
	for i := range doc.Posts {
		e := doc.Posts[i]
		rec := e.PostRecord.Clone()
		m.posts[rec.PostID] = rec
		for j := range e.Media {
			d := e.Media[j].Clone()
			d.PostID = rec.PostID
			m.putDownloadLocked(d)
		}
	}
	return m
}

// Store returns the backing store, nil for in-memory manifests
func (m *Manifest) Store() Store {
	return m.store
}

// PutPost records rec and flushes it to the store
func (m *Manifest) PutPost(ctx context.Context, rec *models.PostRecord) error {
	c := rec.Clone()
	m.mu.Lock()
	m.posts[c.PostID] = c
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	if err := m.store.PutPost(ctx, c); err != nil {
		return fmt.Errorf("persist post %s: %w", c.PostID, err)
	}
	return nil
}

// PutDownload records d and flushes it to the store
func (m *Manifest) PutDownload(ctx context.Context, d *models.DownloadRecord) error {
	c := d.Clone()
	m.mu.Lock()
	m.putDownloadLocked(c)
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	if err := m.store.PutDownload(ctx, c); err != nil {
		return fmt.Errorf("persist download %s/%d: %w", c.PostID, c.MediaIndex, err)
	}
	return nil
}

func (m *Manifest) putDownloadLocked(d *models.DownloadRecord) {
	m.downloads[d.Key()] = d
	if d.Status == models.DownloadDownloaded && d.ContentHash != "" && d.LocalPath != "" {
		if _, ok := m.digests[d.ContentHash]; !ok {
			m.digests[d.ContentHash] = d.LocalPath
		}
	}
}

// Post returns a copy of the record for id
func (m *Manifest) Post(id string) (*models.PostRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.posts[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Posts returns copies of all post records sorted by id
func (m *Manifest) Posts() []*models.PostRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.PostRecord, 0, len(m.posts))
	for _, rec := range m.posts {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PostID < out[j].PostID })
	return out
}

// Download returns a copy of the record for (postID, index)
func (m *Manifest) Download(postID string, index int) (*models.DownloadRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.downloads[models.MediaKey{PostID: postID, Index: index}]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Downloads returns copies of all download records ordered by post and index
func (m *Manifest) Downloads() []*models.DownloadRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.DownloadRecord, 0, len(m.downloads))
	for _, d := range m.downloads {
		out = append(out, d.Clone())
	}
	sortDownloads(out)
	return out
}

// PathForDigest returns the local path of an already stored file with hash
func (m *Manifest) PathForDigest(hash string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.digests[hash]
	return p, ok
}

// Document returns the serializable form of the manifest
func (m *Manifest) Document() *Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return buildDocument(m.posts, m.downloads)
}

// Stats counts posts and downloads by status
func (m *Manifest) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{Posts: len(m.posts), Downloads: make(map[models.DownloadStatus]int)}
	for _, rec := range m.posts {
		switch rec.ResolutionStatus {
		case models.StatusResolved:
			s.Resolved++
		case models.StatusPermanentlyFailed:
			s.Failed++
		default:
			s.Unresolved++
		}
	}
	for _, d := range m.downloads {
		s.Downloads[d.Status]++
		if d.Status == models.DownloadDownloaded {
			s.Bytes += d.ByteSize
		}
	}
	return s
}

// Close closes the backing store
func (m *Manifest) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}

func buildDocument(posts map[string]*models.PostRecord, downloads map[models.MediaKey]*models.DownloadRecord) *Document {
	byPost := make(map[string][]models.DownloadRecord)
	for k, d := range downloads {
		byPost[k.PostID] = append(byPost[k.PostID], *d)
	}

	ids := make([]string, 0, len(posts))
	for id := range posts {
		ids = append(ids, id)
	}
	for id := range byPost {
		if _, ok := posts[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	doc := &Document{Version: Version, Posts: make([]Entry, 0, len(ids))}
	for _, id := range ids {
		var rec *models.PostRecord
		if p, ok := posts[id]; ok {
			rec = p.Clone()
		} else {
			// Download without a post record; keep it rather than drop data.
			rec = models.NewPostRecord(id, "")
			rec.SourceAccounts = []string{}
		}
		media := byPost[id]
		sort.Slice(media, func(i, j int) bool { return media[i].MediaIndex < media[j].MediaIndex })
		doc.Posts = append(doc.Posts, Entry{PostRecord: *rec, Media: media})
	}
	return doc
}

func sortDownloads(ds []*models.DownloadRecord) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].PostID != ds[j].PostID {
			return ds[i].PostID < ds[j].PostID
		}
		return ds[i].MediaIndex < ds[j].MediaIndex
	})
}
