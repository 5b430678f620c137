// internal/changeset/manager.go
package changeset

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"inkforge/internal/diff"
)

// FileStore is the slice of the workspace the manager needs: reading a
// file before proposing edits and writing the reviewed result back.
type FileStore interface {
	Read(path string) (string, error)
	Write(path, content string) error
}

// EventEmitter receives ChangeSet snapshots after every mutation
type EventEmitter interface {
	Emit(eventName string, payload interface{})
}

// Manager owns the live ChangeSets of a session: proposal, per-
// modification review, all-or-nothing acceptance with rollback, and the
// turn stack used to undo a whole exchange.
type Manager struct {
	store   FileStore
	backups *BackupStore
	emitter EventEmitter

	mu    sync.RWMutex
	sets  map[string]*record
	turns []Turn
}

// record pairs a ChangeSet with the original content it was diffed
// against. The original also lives in the backup store; the in-memory
// copy avoids a disk read on every accept/reject.
type record struct {
	cs       *ChangeSet
	original string
}

// NewManager creates a ChangeSet manager
func NewManager(store FileStore, backups *BackupStore, emitter EventEmitter) *Manager {
	return &Manager{
		store:   store,
		backups: backups,
		emitter: emitter,
		sets:    make(map[string]*record),
	}
}

// Propose diffs the file's current content against the model's proposed
// content and registers the result as a pending ChangeSet
func (m *Manager) Propose(filePath, original, proposed, streamID string) (*Snapshot, error) {
	res := diff.Compute(original, proposed)
	if len(res.Changes) == 0 {
		return nil, nil
	}
	return m.ProposeModifications(filePath, original, diff.ToModifications(res.Changes), res.Stats, streamID)
}

// ProposeModifications registers pre-built modifications (e.g. parsed
// from tagged model output) as a pending ChangeSet
func (m *Manager) ProposeModifications(filePath, original string, mods []diff.Modification, stats diff.Stats, streamID string) (*Snapshot, error) {
	if len(mods) == 0 {
		return nil, nil
	}

	cs := &ChangeSet{
		ID:            fmt.Sprintf("changeset-%d-%s", time.Now().UnixMilli(), shortID()),
		Timestamp:     time.Now(),
		FilePath:      filePath,
		StreamID:      streamID,
		Modifications: mods,
		Stats:         stats,
	}

	if err := m.backups.Save(cs.ID, filePath, original); err != nil {
		return nil, fmt.Errorf("save backup: %w", err)
	}

	m.mu.Lock()
	m.sets[cs.ID] = &record{cs: cs, original: original}
	m.mu.Unlock()

	snap := cs.snapshot()
	m.emit("changeset:proposed", snap)
	return &snap, nil
}

// Get returns a snapshot of one ChangeSet
func (m *Manager) Get(changeSetID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sets[changeSetID]
	if !ok {
		return nil, fmt.Errorf("changeset not found: %s", changeSetID)
	}
	snap := rec.cs.snapshot()
	return &snap, nil
}

// List returns snapshots of all live ChangeSets, newest first
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.sets))
	for _, rec := range m.sets {
		out = append(out, rec.cs.snapshot())
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Timestamp.After(out[i].Timestamp) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// Accept marks one modification accepted and rewrites the file from the
// backup original plus every accepted modification
func (m *Manager) Accept(changeSetID, modificationID string) (*Snapshot, error) {
	return m.setStatus(changeSetID, modificationID, diff.StatusAccepted)
}

// Reject marks one modification rejected and rewrites the file
func (m *Manager) Reject(changeSetID, modificationID string) (*Snapshot, error) {
	return m.setStatus(changeSetID, modificationID, diff.StatusRejected)
}

// Undo reverts a previously accepted modification back to pending and
// rewrites the file without it. It fails if the modification is not
// currently accepted.
func (m *Manager) Undo(changeSetID, modificationID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, mod, err := m.find(changeSetID, modificationID)
	if err != nil {
		return nil, err
	}
	if mod.Status != diff.StatusAccepted {
		return nil, fmt.Errorf("modification %s is not accepted, nothing to undo", modificationID)
	}

	mod.Status = diff.StatusPending
	if err := m.rewrite(rec); err != nil {
		mod.Status = diff.StatusAccepted
		return nil, err
	}

	snap := rec.cs.snapshot()
	m.emit("changeset:updated", snap)
	return &snap, nil
}

// AcceptAll accepts every modification and writes the merged result in
// one step. On any failure the file is restored from backup and the
// ChangeSet is left exactly as it was.
func (m *Manager) AcceptAll(changeSetID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sets[changeSetID]
	if !ok {
		return nil, fmt.Errorf("changeset not found: %s", changeSetID)
	}

	saved := make([]diff.ModificationStatus, len(rec.cs.Modifications))
	for i := range rec.cs.Modifications {
		saved[i] = rec.cs.Modifications[i].Status
		rec.cs.Modifications[i].Status = diff.StatusAccepted
	}

	if err := m.rewrite(rec); err != nil {
		for i := range rec.cs.Modifications {
			rec.cs.Modifications[i].Status = saved[i]
		}
		if restoreErr := m.store.Write(rec.cs.FilePath, rec.original); restoreErr != nil {
			log.Printf("[ChangeSet] Rollback of %s failed: %v", rec.cs.FilePath, restoreErr)
		}
		return nil, fmt.Errorf("accept all: %w", err)
	}

	snap := rec.cs.snapshot()
	m.emit("changeset:updated", snap)
	return &snap, nil
}

// RejectAll rejects every modification and restores the backup content
func (m *Manager) RejectAll(changeSetID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sets[changeSetID]
	if !ok {
		return nil, fmt.Errorf("changeset not found: %s", changeSetID)
	}

	saved := make([]diff.ModificationStatus, len(rec.cs.Modifications))
	for i := range rec.cs.Modifications {
		saved[i] = rec.cs.Modifications[i].Status
		rec.cs.Modifications[i].Status = diff.StatusRejected
	}

	if err := m.store.Write(rec.cs.FilePath, rec.original); err != nil {
		for i := range rec.cs.Modifications {
			rec.cs.Modifications[i].Status = saved[i]
		}
		return nil, fmt.Errorf("reject all: %w", err)
	}

	snap := rec.cs.snapshot()
	m.emit("changeset:updated", snap)
	return &snap, nil
}

// Delete discards a ChangeSet and its backup
func (m *Manager) Delete(changeSetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sets[changeSetID]; !ok {
		return fmt.Errorf("changeset not found: %s", changeSetID)
	}
	delete(m.sets, changeSetID)
	return m.backups.Delete(changeSetID)
}

// PushTurn records the artifacts of a completed exchange on the
// rollback stack
func (m *Manager) PushTurn(turn Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	m.turns = append(m.turns, turn)
}

// RollbackLastTurn pops the most recent turn whose messages still exist
// (per the supplied check), restores every file its ChangeSets touched
// from backup, and returns the turn so the caller can drop its
// transcript messages. Turns whose messages were already removed by
// other means are skipped and discarded.
func (m *Manager) RollbackLastTurn(messageExists func(messageID string) bool) (*Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.turns) > 0 {
		turn := m.turns[len(m.turns)-1]
		m.turns = m.turns[:len(m.turns)-1]

		if !messageExists(turn.UserMessageID) || !messageExists(turn.AssistantMessageID) {
			continue
		}

		for _, csID := range turn.ChangeSetIDs {
			rec, ok := m.sets[csID]
			if !ok {
				continue
			}
			if err := m.store.Write(rec.cs.FilePath, rec.original); err != nil {
				return nil, fmt.Errorf("restore %s: %w", rec.cs.FilePath, err)
			}
			for i := range rec.cs.Modifications {
				rec.cs.Modifications[i].Status = diff.StatusRejected
			}
			m.emit("changeset:updated", rec.cs.snapshot())
		}
		return &turn, nil
	}

	return nil, fmt.Errorf("no turn to roll back")
}

// TurnDepth reports how many turns the rollback stack currently holds
func (m *Manager) TurnDepth() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}

func (m *Manager) setStatus(changeSetID, modificationID string, status diff.ModificationStatus) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, mod, err := m.find(changeSetID, modificationID)
	if err != nil {
		return nil, err
	}

	prev := mod.Status
	mod.Status = status
	if err := m.rewrite(rec); err != nil {
		mod.Status = prev
		return nil, err
	}

	snap := rec.cs.snapshot()
	m.emit("changeset:updated", snap)
	return &snap, nil
}

// rewrite recomputes the file from the backup original plus all
// accepted modifications. Anchoring every apply to the pristine
// original keeps line numbers stable no matter the review order.
func (m *Manager) rewrite(rec *record) error {
	content, err := diff.ApplyModifications(rec.original, rec.cs.Modifications)
	if err != nil {
		return err
	}
	return m.store.Write(rec.cs.FilePath, content)
}

func (m *Manager) find(changeSetID, modificationID string) (*record, *diff.Modification, error) {
	rec, ok := m.sets[changeSetID]
	if !ok {
		return nil, nil, fmt.Errorf("changeset not found: %s", changeSetID)
	}
	for i := range rec.cs.Modifications {
		if rec.cs.Modifications[i].ID == modificationID {
			return rec, &rec.cs.Modifications[i], nil
		}
	}
	return nil, nil, fmt.Errorf("modification not found: %s", modificationID)
}

func (m *Manager) emit(event string, payload interface{}) {
	if m.emitter != nil {
		m.emitter.Emit(event, payload)
	}
}

func shortID() string {
	id := uuid.New().String()
	if i := len(id); i > 8 {
		return id[:8]
	}
	return id
}
