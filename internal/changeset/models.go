// internal/changeset/models.go
package changeset

import (
	"time"

	"inkforge/internal/diff"
)

// Status is the review state of a whole ChangeSet, derived from the
// states of its modifications
type Status string

const (
	StatusPending  Status = "pending"
	StatusPartial  Status = "partial"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// ChangeSet bundles the reviewable line edits proposed for one file
// during one generation turn
type ChangeSet struct {
	ID            string              `json:"id"`
	Timestamp     time.Time           `json:"timestamp"`
	FilePath      string              `json:"filePath"`
	StreamID      string              `json:"streamId,omitempty"`
	Modifications []diff.Modification `json:"modifications"`
	Stats         diff.Stats          `json:"stats"`
}

// DerivedStatus folds the modification statuses into the ChangeSet
// status: uniform states map directly, anything mixed is partial.
func (cs *ChangeSet) DerivedStatus() Status {
	if len(cs.Modifications) == 0 {
		return StatusPending
	}

	accepted, rejected, pending := 0, 0, 0
	for _, m := range cs.Modifications {
		switch m.Status {
		case diff.StatusAccepted:
			accepted++
		case diff.StatusRejected:
			rejected++
		default:
			pending++
		}
	}

	total := len(cs.Modifications)
	switch {
	case accepted == total:
		return StatusAccepted
	case rejected == total:
		return StatusRejected
	case pending == total:
		return StatusPending
	default:
		return StatusPartial
	}
}

// Snapshot is the externally visible view of a ChangeSet
type Snapshot struct {
	ID            string              `json:"id"`
	Timestamp     time.Time           `json:"timestamp"`
	FilePath      string              `json:"filePath"`
	StreamID      string              `json:"streamId,omitempty"`
	Status        Status              `json:"status"`
	Stats         diff.Stats          `json:"stats"`
	Modifications []diff.Modification `json:"modifications"`
}

func (cs *ChangeSet) snapshot() Snapshot {
	mods := make([]diff.Modification, len(cs.Modifications))
	copy(mods, cs.Modifications)
	return Snapshot{
		ID:            cs.ID,
		Timestamp:     cs.Timestamp,
		FilePath:      cs.FilePath,
		StreamID:      cs.StreamID,
		Status:        cs.DerivedStatus(),
		Stats:         cs.Stats,
		Modifications: mods,
	}
}

// Turn binds the artifacts of one user/assistant exchange so a single
// rollback can reverse everything the exchange caused
type Turn struct {
	UserMessageID      string    `json:"user_message_id"`
	AssistantMessageID string    `json:"assistant_message_id"`
	StreamID           string    `json:"stream_id"`
	ChangeSetIDs       []string  `json:"change_set_ids"`
	CreatedAt          time.Time `json:"created_at"`
}
