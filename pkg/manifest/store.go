package manifest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"likegrab/pkg/logger"
	"likegrab/pkg/models"
)

// Store persists manifest state. Writes are per item so a crash loses at
// most the item in flight.
type Store interface {
	Load(ctx context.Context) (*Document, error)
	PutPost(ctx context.Context, rec *models.PostRecord) error
	PutDownload(ctx context.Context, d *models.DownloadRecord) error
	// Replace overwrites the whole stored state with doc
	Replace(ctx context.Context, doc *Document) error
	Close() error
}

// IsSQLitePath reports whether path selects the SQLite store
func IsSQLitePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

// OpenStore opens the store for path, choosing the backend by extension
func OpenStore(path, runID string, log logger.Logger) (Store, error) {
	if IsSQLitePath(path) {
		return OpenSQLiteStore(path, runID, log)
	}
	return NewJSONStore(path, runID, log), nil
}

// Load opens the store at path and loads the manifest it holds
func Load(ctx context.Context, path, runID string, log logger.Logger) (*Manifest, error) {
	store, err := OpenStore(path, runID, log)
	if err != nil {
		return nil, err
	}
	m, err := Open(ctx, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return m, nil
}

// writeFileAtomic writes through a temp file in the same directory, syncs,
// and renames over path.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := file.Name()

	if err := write(file); err != nil {
		file.Close()
		os.Remove(tempPath)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}
