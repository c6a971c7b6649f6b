package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager(t *testing.T) {
	tempDir := t.TempDir()

	manager, err := NewManager(tempDir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	path, err := manager.SafePath("1790", 0, "jpg")
	if err != nil {
		t.Fatalf("Failed to build path: %v", err)
	}
	if path != filepath.Join(tempDir, "1790_0.jpg") {
		t.Errorf("Unexpected path %s", path)
	}

	testData := []byte("test photo data")
	staged, err := manager.Stage(bytes.NewReader(testData), 0)
	if err != nil {
		t.Fatalf("Failed to stage: %v", err)
	}

	sum := sha256.Sum256(testData)
	if staged.Digest != "sha256:"+hex.EncodeToString(sum[:]) {
		t.Errorf("Unexpected digest %s", staged.Digest)
	}
	if staged.Size != int64(len(testData)) {
		t.Errorf("Expected size %d, got %d", len(testData), staged.Size)
	}

	if manager.Exists(path) {
		t.Error("File must not exist before commit")
	}
	if err := manager.Commit(staged, path); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}
	if !bytes.Equal(content, testData) {
		t.Error("File content does not match expected data")
	}
	if _, err := os.Stat(staged.TempPath); !os.IsNotExist(err) {
		t.Error("Temporary file should be gone after commit")
	}
}

func TestSafePathRejectsTraversal(t *testing.T) {
	manager, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	tests := []struct {
		id    string
		index int
		ext   string
	}{
		{"../../etc/passwd", 0, "jpg"},
		{"..", 0, "jpg"},
		{".", 0, "jpg"},
		{"", 0, "jpg"},
		{"a/b", 0, "jpg"},
		{`a\b`, 0, "jpg"},
		{"x..y", 0, "jpg"},
		{"ok\x00", 0, "jpg"},
		{"123", -1, "jpg"},
		{"123", 0, "exe"},
		{"123", 0, "jpg/../../x"},
	}

	for _, tt := range tests {
		if _, err := manager.SafePath(tt.id, tt.index, tt.ext); !errors.Is(err, ErrUnsafePath) {
			t.Errorf("SafePath(%q, %d, %q) = %v, want ErrUnsafePath", tt.id, tt.index, tt.ext, err)
		}
	}
}

func TestStageLimits(t *testing.T) {
	dir := t.TempDir()
	manager, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	if _, err := manager.Stage(strings.NewReader(""), 0); !errors.Is(err, ErrEmpty) {
		t.Errorf("Expected ErrEmpty, got %v", err)
	}
	if _, err := manager.Stage(strings.NewReader("0123456789"), 5); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", err)
	}
	if _, err := manager.Stage(strings.NewReader("01234"), 5); err != nil {
		t.Errorf("Content at the limit should be accepted: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Rejected content must not leave files behind, found %d entries", len(entries))
	}
}

func TestNewManagerRemovesPartialFiles(t *testing.T) {
	dir := t.TempDir()
	partial := filepath.Join(dir, ".likegrab-123.part")
	kept := filepath.Join(dir, "1_0.jpg")
	if err := os.WriteFile(partial, []byte("half"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(kept, []byte("whole"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewManager(dir); err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	if _, err := os.Stat(partial); !os.IsNotExist(err) {
		t.Error("Expected partial file to be removed")
	}
	if _, err := os.Stat(kept); err != nil {
		t.Error("Expected committed file to be kept")
	}
}
