package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	partialPrefix = ".likegrab-"
	partialSuffix = ".part"
)

var (
	// ErrTooLarge is returned by Stage when the content exceeds the size limit
	ErrTooLarge = errors.New("content exceeds size limit")
	// ErrEmpty is returned by Stage for zero-byte content
	ErrEmpty = errors.New("empty content")
	// ErrUnsafePath is returned when a file name would leave the staging root
	ErrUnsafePath = errors.New("unsafe staging path")
)

// allowedExtensions are the file extensions media may be written with
var allowedExtensions = map[string]bool{
	"jpg":  true,
	"png":  true,
	"gif":  true,
	"webp": true,
	"mp4":  true,
}

// IsAllowedExtension reports whether ext may be used for a staged file
func IsAllowedExtension(ext string) bool {
	return allowedExtensions[ext]
}

// Staged is content written to a temporary file, not yet committed
type Staged struct {
	TempPath string
	Size     int64
	// Digest is "sha256:<hex>"
	Digest string
}

// Manager handles file storage under one staging root
type Manager struct {
	root    string
	absRoot string
}

// NewManager creates the staging directory if needed and removes partial
// files left by an earlier interrupted run.
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve staging directory: %w", err)
	}
	m := &Manager{root: root, absRoot: abs}
	if _, err := m.CleanupPartial(); err != nil {
		return nil, err
	}
	return m, nil
}

// Root returns the staging directory as configured
func (m *Manager) Root() string {
	return m.root
}

// CleanupPartial removes temporary files from interrupted writes
func (m *Manager) CleanupPartial() (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("failed to read staging directory: %w", err)
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, partialPrefix) || !strings.HasSuffix(name, partialSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(m.root, name)); err == nil {
			removed++
		}
	}
	return removed, nil
}

// FileName returns the staged file name for a media item
func FileName(postID string, index int, ext string) string {
	return fmt.Sprintf("%s_%d.%s", postID, index, ext)
}

// SafePath returns the path for a media item, verifying that it stays inside
// the staging root. Post ids containing separators or dot segments are
// rejected outright.
func (m *Manager) SafePath(postID string, index int, ext string) (string, error) {
	if postID == "" || postID == "." || postID == ".." ||
		strings.ContainsAny(postID, `/\`+"\x00") || strings.Contains(postID, "..") {
		return "", fmt.Errorf("%w: post id %q", ErrUnsafePath, postID)
	}
	if index < 0 {
		return "", fmt.Errorf("%w: negative media index %d", ErrUnsafePath, index)
	}
	if !IsAllowedExtension(ext) {
		return "", fmt.Errorf("%w: extension %q", ErrUnsafePath, ext)
	}

	name := FileName(postID, index, ext)
	full := filepath.Join(m.absRoot, name)
	rel, err := filepath.Rel(m.absRoot, full)
	if err != nil || rel != name || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(m.root, name), nil
}

// Stage streams r into a temporary file in the staging root, hashing it on
// the way. maxSize <= 0 means no limit.
func (m *Manager) Stage(r io.Reader, maxSize int64) (*Staged, error) {
	f, err := os.CreateTemp(m.root, partialPrefix+"*"+partialSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmp := f.Name()
	fail := func(err error) (*Staged, error) {
		f.Close()
		os.Remove(tmp)
		return nil, err
	}

	src := r
	if maxSize > 0 {
		src = io.LimitReader(r, maxSize+1)
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), src)
	if err != nil {
		return fail(fmt.Errorf("failed to write media data: %w", err))
	}
	if maxSize > 0 && n > maxSize {
		return fail(fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxSize))
	}
	if n == 0 {
		return fail(ErrEmpty)
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync file: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return &Staged{
		TempPath: tmp,
		Size:     n,
		Digest:   "sha256:" + hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Commit atomically moves staged content to path
func (m *Manager) Commit(s *Staged, path string) error {
	if err := os.Rename(s.TempPath, path); err != nil {
		os.Remove(s.TempPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// Discard removes staged content that will not be committed
func (m *Manager) Discard(s *Staged) {
	if s != nil {
		os.Remove(s.TempPath)
	}
}

// Exists reports whether a regular file exists at path
func (m *Manager) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
