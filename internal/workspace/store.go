// internal/workspace/store.go
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"
)

// ErrNoParentDir marks a write whose parent directory does not exist.
// Callers may recover by creating the directory and retrying once.
var ErrNoParentDir = errors.New("parent directory does not exist")

// Store performs file operations relative to a validated workspace
// root. Paths are always workspace-relative; absolute paths and any
// path escaping the root are rejected.
type Store struct {
	mu   sync.Mutex
	root string
}

func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string { return s.root }

// resolve validates a workspace-relative path and returns its absolute
// form.
func (s *Store) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path %s not allowed", rel)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes the workspace", rel)
	}
	return filepath.Join(s.root, clean), nil
}

// Read returns the content of a workspace file.
func (s *Store) Read(rel string) (string, error) {
	abs, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

// Write replaces the content of a workspace file. It returns
// ErrNoParentDir when the containing directory is missing.
func (s *Store) Write(rel, content string) error {
	abs, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Dir(abs)); os.IsNotExist(err) {
		return fmt.Errorf("write %s: %w", rel, ErrNoParentDir)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// WriteEnsured writes a file, creating the parent directory and
// retrying once if it is missing.
func (s *Store) WriteEnsured(rel, content string) error {
	err := s.Write(rel, content)
	if !errors.Is(err, ErrNoParentDir) {
		return err
	}
	if mkErr := s.CreateDir(filepath.ToSlash(filepath.Dir(rel))); mkErr != nil {
		return mkErr
	}
	return s.Write(rel, content)
}

// CreateFile creates an empty file; it fails if the file exists.
func (s *Store) CreateFile(rel string) error {
	abs, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Dir(abs)); os.IsNotExist(err) {
		return fmt.Errorf("create %s: %w", rel, ErrNoParentDir)
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", rel, err)
	}
	return f.Close()
}

// CreateDir creates a directory and any missing parents.
func (s *Store) CreateDir(rel string) error {
	abs, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", rel, err)
	}
	return nil
}

// Delete removes a file or an empty directory.
func (s *Store) Delete(rel string) error {
	abs, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	return nil
}

// Rename moves a file or directory within the workspace.
func (s *Store) Rename(oldRel, newRel string) error {
	oldAbs, err := s.resolve(oldRel)
	if err != nil {
		return err
	}
	newAbs, err := s.resolve(newRel)
	if err != nil {
		return err
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		return fmt.Errorf("rename %s: %w", oldRel, err)
	}
	return nil
}

// Exists reports whether a workspace path exists.
func (s *Store) Exists(rel string) bool {
	abs, err := s.resolve(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// CharCount returns the number of non-whitespace runes in a file.
// Prose length targets count characters, not bytes.
func (s *Store) CharCount(rel string) (int, error) {
	content, err := s.Read(rel)
	if err != nil {
		return 0, err
	}
	return CountChars(content), nil
}

// CountChars counts non-whitespace runes in text.
func CountChars(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
