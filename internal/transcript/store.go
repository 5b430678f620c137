// internal/transcript/store.go
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is one chat transcript entry. Assistant messages carry the
// stream and version group they were produced by.
type Message struct {
	ID             string    `json:"id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	StreamID       string    `json:"streamId,omitempty"`
	VersionGroupID string    `json:"versionGroupId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SessionMeta describes one chat session in the index.
type SessionMeta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists chat sessions as append-only JSONL files under a
// directory, one file per session, plus a sessions.json index.
type Store struct {
	mu  sync.Mutex
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) sessionPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".jsonl")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, "sessions.json")
}

// CreateSession registers a new session and returns its metadata.
func (s *Store) CreateSession(title string) (SessionMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	meta := SessionMeta{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	index, err := s.readIndex()
	if err != nil {
		return SessionMeta{}, err
	}
	index = append(index, meta)
	if err := s.writeIndex(index); err != nil {
		return SessionMeta{}, err
	}
	return meta, nil
}

// Sessions lists all sessions, newest update first.
func (s *Store) Sessions() ([]SessionMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	sort.Slice(index, func(i, j int) bool {
		return index[i].UpdatedAt.After(index[j].UpdatedAt)
	})
	return index, nil
}

// Append writes a message to the session log. A missing message ID is
// assigned.
func (s *Store) Append(sessionID string, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	line, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("marshal message: %w", err)
	}
	f, err := os.OpenFile(s.sessionPath(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Message{}, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}

	if err := s.touchSession(sessionID); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Messages returns all messages of a session in append order. A
// session with no log yet returns an empty slice.
func (s *Store) Messages(sessionID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readMessages(sessionID)
}

// MessageExists reports whether messageID is present in the session.
func (s *Store) MessageExists(sessionID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.readMessages(sessionID)
	if err != nil {
		return false
	}
	for _, m := range msgs {
		if m.ID == messageID {
			return true
		}
	}
	return false
}

// Delete removes messages by ID, rewriting the session log.
func (s *Store) Delete(sessionID string, messageIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.readMessages(sessionID)
	if err != nil {
		return err
	}
	drop := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		drop[id] = true
	}
	kept := msgs[:0]
	for _, m := range msgs {
		if !drop[m.ID] {
			kept = append(kept, m)
		}
	}
	return s.rewrite(sessionID, kept)
}

// UpdateContent replaces the content of one message, used when the
// user cycles an assistant reply to a different version.
func (s *Store) UpdateContent(sessionID, messageID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.readMessages(sessionID)
	if err != nil {
		return err
	}
	found := false
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Content = content
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("message %s not found in session %s", messageID, sessionID)
	}
	return s.rewrite(sessionID, msgs)
}

// DeleteSession removes the session log and its index entry.
func (s *Store) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.sessionPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session log: %w", err)
	}
	index, err := s.readIndex()
	if err != nil {
		return err
	}
	kept := index[:0]
	for _, meta := range index {
		if meta.ID != sessionID {
			kept = append(kept, meta)
		}
	}
	return s.writeIndex(kept)
}

func (s *Store) readMessages(sessionID string) ([]Message, error) {
	f, err := os.Open(s.sessionPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	var msgs []Message
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			// Skip corrupt lines rather than losing the session.
			continue
		}
		msgs = append(msgs, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read session log: %w", err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

func (s *Store) rewrite(sessionID string, msgs []Message) error {
	var b strings.Builder
	for _, m := range msgs {
		line, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	tmp := s.sessionPath(sessionID) + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write session log: %w", err)
	}
	return os.Rename(tmp, s.sessionPath(sessionID))
}

func (s *Store) touchSession(sessionID string) error {
	index, err := s.readIndex()
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].ID == sessionID {
			index[i].UpdatedAt = time.Now()
			return s.writeIndex(index)
		}
	}
	// Sessions created out of band still get indexed.
	now := time.Now()
	index = append(index, SessionMeta{ID: sessionID, CreatedAt: now, UpdatedAt: now})
	return s.writeIndex(index)
}

func (s *Store) readIndex() ([]SessionMeta, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionMeta{}, nil
		}
		return nil, fmt.Errorf("read session index: %w", err)
	}
	var index []SessionMeta
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse session index: %w", err)
	}
	return index, nil
}

func (s *Store) writeIndex(index []SessionMeta) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session index: %w", err)
	}
	return os.Rename(tmp, s.indexPath())
}
