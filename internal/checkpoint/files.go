package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileService is the single mutation funnel for live file content. Both the
// checkpoint manager (during jumps) and the tool gateway (during edits) go
// through it, so a second writer can refuse concurrent mutation of the same
// file via BeginEdit.
type FileService interface {
	// Read returns the on-disk content. existed is false when the file is
	// absent; that is not an error.
	Read(path string) (content string, existed bool, err error)

	// ReadBuffer returns the in-memory buffer for path when one is open.
	// Used as a fallback when the disk read fails.
	ReadBuffer(path string) (content string, ok bool)

	// BeginEdit announces an imminent mutation of path. An error refuses
	// the edit and nothing may be written.
	BeginEdit(path string) error

	// Save persists content to path, creating parent directories.
	Save(path string, content string) error

	// Remove deletes path. Used only to undo a file this process created
	// during a failed jump.
	Remove(path string) error
}

// LocalFiles is the plain filesystem implementation. It keeps no buffers;
// ReadBuffer always misses.
type LocalFiles struct{}

func (LocalFiles) Read(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), true, nil
}

func (LocalFiles) ReadBuffer(string) (string, bool) { return "", false }

func (LocalFiles) BeginEdit(string) error { return nil }

func (LocalFiles) Save(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create parent directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (LocalFiles) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
