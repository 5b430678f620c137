// internal/changeset/backup.go
package changeset

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// BackupStore keeps the pre-edit content of every file a ChangeSet
// touches. Content is deduplicated in a content-addressable pool and
// compressed with zstd; a small ref file per ChangeSet points into it.
type BackupStore struct {
	baseDir string
	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

type backupRef struct {
	FilePath string `json:"path"`
	Hash     string `json:"hash"`
	Size     int64  `json:"size"`
}

// NewBackupStore creates a backup store rooted at baseDir
func NewBackupStore(baseDir string, compressionLevel int) *BackupStore {
	encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
	decoder, _ := zstd.NewReader(nil)

	return &BackupStore{
		baseDir: baseDir,
		encoder: encoder,
		decoder: decoder,
	}
}

func (s *BackupStore) refPath(changeSetID string) string {
	return filepath.Join(s.baseDir, "refs", changeSetID+".json")
}

func (s *BackupStore) poolPath(hash string) string {
	return filepath.Join(s.baseDir, "content_pool", hash)
}

// Save stores the pre-edit content for a ChangeSet
func (s *BackupStore) Save(changeSetID, filePath, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(content)))

	poolFile := s.poolPath(hash)
	if _, err := os.Stat(poolFile); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(poolFile), 0755); err != nil {
			return fmt.Errorf("create content pool dir: %w", err)
		}
		compressed := s.encoder.EncodeAll([]byte(content), nil)
		if err := os.WriteFile(poolFile, compressed, 0644); err != nil {
			return fmt.Errorf("write content pool entry: %w", err)
		}
	}

	ref := backupRef{FilePath: filePath, Hash: hash, Size: int64(len(content))}
	refJSON, err := json.MarshalIndent(ref, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal backup ref: %w", err)
	}
	refFile := s.refPath(changeSetID)
	if err := os.MkdirAll(filepath.Dir(refFile), 0755); err != nil {
		return fmt.Errorf("create refs dir: %w", err)
	}
	if err := os.WriteFile(refFile, refJSON, 0644); err != nil {
		return fmt.Errorf("write backup ref: %w", err)
	}

	return nil
}

// Load returns the backed-up file path and content for a ChangeSet
func (s *BackupStore) Load(changeSetID string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refData, err := os.ReadFile(s.refPath(changeSetID))
	if err != nil {
		return "", "", fmt.Errorf("read backup ref: %w", err)
	}

	var ref backupRef
	if err := json.Unmarshal(refData, &ref); err != nil {
		return "", "", fmt.Errorf("parse backup ref: %w", err)
	}

	compressed, err := os.ReadFile(s.poolPath(ref.Hash))
	if err != nil {
		return "", "", fmt.Errorf("read content pool entry: %w", err)
	}
	content, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return "", "", fmt.Errorf("decompress backup: %w", err)
	}

	return ref.FilePath, string(content), nil
}

// Delete removes the backup ref for a ChangeSet. Pool entries stay; they
// are shared between refs and cheap once compressed.
func (s *BackupStore) Delete(changeSetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.refPath(changeSetID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove backup ref: %w", err)
	}
	return nil
}
