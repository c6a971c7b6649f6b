package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"likegrab/pkg/logger"
	"likegrab/pkg/models"
)

// JSONStore keeps the manifest as a single indented JSON document that is
// rewritten atomically on every update.
type JSONStore struct {
	mu        sync.Mutex
	path      string
	runID     string
	now       func() time.Time
	logger    logger.Logger
	loaded    bool
	posts     map[string]*models.PostRecord
	downloads map[models.MediaKey]*models.DownloadRecord
}

// NewJSONStore creates a store backed by the file at path
func NewJSONStore(path, runID string, log logger.Logger) *JSONStore {
	if log == nil {
		log = logger.GetLogger()
	}
	return &JSONStore{
		path:      path,
		runID:     runID,
		now:       time.Now,
		logger:    log,
		posts:     make(map[string]*models.PostRecord),
		downloads: make(map[models.MediaKey]*models.DownloadRecord),
	}
}

// Path returns the manifest file location
func (s *JSONStore) Path() string {
	return s.path
}

// Load reads the manifest file. A missing file is an empty manifest.
func (s *JSONStore) Load(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return buildDocument(s.posts, s.downloads), nil
}

func (s *JSONStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	doc, err := ReadDocument(s.path)
	if err != nil {
		return err
	}
	s.setLocked(doc)
	s.loaded = true

	s.logger.DebugWithFields("Manifest loaded", map[string]interface{}{
		"path":  s.path,
		"posts": len(s.posts),
	})
	return nil
}

func (s *JSONStore) setLocked(doc *Document) {
	s.posts = make(map[string]*models.PostRecord)
	s.downloads = make(map[models.MediaKey]*models.DownloadRecord)
	for i := range doc.Posts {
		e := doc.Posts[i]
		s.posts[e.PostID] = e.PostRecord.Clone()
		for j := range e.Media {
			d := e.Media[j].Clone()
			d.PostID = e.PostID
			s.downloads[d.Key()] = d
		}
	}
}

// PutPost upserts rec and rewrites the file
func (s *JSONStore) PutPost(ctx context.Context, rec *models.PostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	s.posts[rec.PostID] = rec.Clone()
	return s.flushLocked()
}

// PutDownload upserts d and rewrites the file
func (s *JSONStore) PutDownload(ctx context.Context, d *models.DownloadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	s.downloads[d.Key()] = d.Clone()
	return s.flushLocked()
}

// Replace overwrites the file with doc
func (s *JSONStore) Replace(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(doc)
	s.loaded = true
	return s.flushLocked()
}

// Close is a no-op; every update is already on disk
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) flushLocked() error {
	doc := buildDocument(s.posts, s.downloads)
	doc.RunID = s.runID
	doc.UpdatedAt = s.now().UTC()
	return WriteDocument(s.path, doc)
}

// ReadDocument reads a JSON manifest file. A missing file yields an empty document.
func ReadDocument(path string) (*Document, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Document{Version: Version}, nil
		}
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	var doc Document
	if err := json.NewDecoder(file).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	if doc.Version > Version {
		return nil, fmt.Errorf("manifest %s has version %d, newest supported is %d", path, doc.Version, Version)
	}
	return &doc, nil
}

// WriteDocument atomically writes doc as indented JSON to path
func WriteDocument(path string, doc *Document) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode manifest: %w", err)
		}
		return nil
	})
}
