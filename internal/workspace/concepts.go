// internal/workspace/concepts.go
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	metaDirName       = ".inkforge"
	conceptIndexName  = "concepts.json"
	continuityLogName = "continuity.md"
)

// ConceptEntry tracks one file in the concept index. The revision
// increases every time the file's content hash changes, so downstream
// context packs can tell stale references from current ones.
type ConceptEntry struct {
	Hash      string    `json:"hash"`
	Revision  int       `json:"revision"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Store) metaDir() string {
	return filepath.Join(s.root, metaDirName)
}

func (s *Store) conceptIndexPath() string {
	return filepath.Join(s.metaDir(), conceptIndexName)
}

// ConceptIndex loads the concept index. A missing index is empty.
func (s *Store) ConceptIndex() (map[string]ConceptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readConceptIndex()
}

func (s *Store) readConceptIndex() (map[string]ConceptEntry, error) {
	data, err := os.ReadFile(s.conceptIndexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ConceptEntry{}, nil
		}
		return nil, fmt.Errorf("read concept index: %w", err)
	}
	index := map[string]ConceptEntry{}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse concept index: %w", err)
	}
	return index, nil
}

// UpdateConcept recomputes the hash of a workspace file and bumps its
// revision if the content changed. Returns the entry and whether it
// changed.
func (s *Store) UpdateConcept(rel string) (ConceptEntry, bool, error) {
	content, err := s.Read(rel)
	if err != nil {
		return ConceptEntry{}, false, err
	}
	sum := sha256.Sum256([]byte(content))
	hash := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readConceptIndex()
	if err != nil {
		return ConceptEntry{}, false, err
	}
	prev, exists := index[rel]
	if exists && prev.Hash == hash {
		return prev, false, nil
	}

	entry := ConceptEntry{Hash: hash, Revision: prev.Revision + 1, UpdatedAt: time.Now()}
	index[rel] = entry
	if err := s.writeConceptIndex(index); err != nil {
		return ConceptEntry{}, false, err
	}
	return entry, true, nil
}

// RemoveConcept drops a deleted file from the index.
func (s *Store) RemoveConcept(rel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readConceptIndex()
	if err != nil {
		return err
	}
	if _, ok := index[rel]; !ok {
		return nil
	}
	delete(index, rel)
	return s.writeConceptIndex(index)
}

func (s *Store) writeConceptIndex(index map[string]ConceptEntry) error {
	if err := os.MkdirAll(s.metaDir(), 0o755); err != nil {
		return fmt.Errorf("create meta dir: %w", err)
	}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal concept index: %w", err)
	}
	tmp := s.conceptIndexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write concept index: %w", err)
	}
	return os.Rename(tmp, s.conceptIndexPath())
}

// AppendContinuity appends one dated entry to the continuity log. The
// log is append-only; earlier entries are never rewritten.
func (s *Store) AppendContinuity(entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.metaDir(), 0o755); err != nil {
		return fmt.Errorf("create meta dir: %w", err)
	}
	path := filepath.Join(s.metaDir(), continuityLogName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open continuity log: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("- %s %s\n", time.Now().Format("2006-01-02 15:04"), entry)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append continuity entry: %w", err)
	}
	return nil
}

// Continuity returns the full continuity log, or empty if none exists.
func (s *Store) Continuity() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.metaDir(), continuityLogName))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read continuity log: %w", err)
	}
	return string(data), nil
}
