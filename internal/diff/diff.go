// internal/diff/diff.go
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// ChangeType classifies a line-level change
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeDelete ChangeType = "delete"
	ChangeModify ChangeType = "modify"
)

// ModificationStatus is the review state of a single modification
type ModificationStatus string

const (
	StatusPending  ModificationStatus = "pending"
	StatusAccepted ModificationStatus = "accepted"
	StatusRejected ModificationStatus = "rejected"
)

// Change is one line-numbered change produced by Compute.
// LineStart/LineEnd are 1-based and inclusive, addressing the original
// document. For an add, both fields name the original line the new text
// is spliced in front of (len(lines)+1 appends at the end).
type Change struct {
	Type         ChangeType `json:"type"`
	LineStart    int        `json:"lineStart"`
	LineEnd      int        `json:"lineEnd"`
	OriginalText string     `json:"originalText,omitempty"`
	ModifiedText string     `json:"modifiedText,omitempty"`
}

// Stats counts added and deleted lines across a diff
type Stats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// Result bundles the changes of one original/modified pair
type Result struct {
	Changes []Change `json:"changes"`
	Stats   Stats    `json:"stats"`
}

// Modification is an individually reviewable change
type Modification struct {
	ID           string             `json:"id"`
	Type         ChangeType         `json:"type"`
	LineStart    int                `json:"lineStart"`
	LineEnd      int                `json:"lineEnd"`
	OriginalText string             `json:"originalText,omitempty"`
	ModifiedText string             `json:"modifiedText,omitempty"`
	Status       ModificationStatus `json:"status"`
}

// Compute diffs two documents character-wise and folds the result into
// line-numbered change records. A run of deleted lines immediately
// followed by inserted lines at the same position collapses into a
// single modify record instead of a delete/add pair.
func Compute(original, modified string) Result {
	dmp := diffmatchpatch.New()
	chars1, chars2, lineArray := dmp.DiffLinesToChars(original, modified)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(chars1, chars2, false), lineArray)

	var res Result
	origLine := 1 // 1-based cursor into the original document

	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		n := countLines(d.Text)

		switch d.Type {
		case diffmatchpatch.DiffEqual:
			origLine += n

		case diffmatchpatch.DiffDelete:
			res.Stats.Deletions += n
			if prev := lastChange(res.Changes); prev != nil &&
				prev.Type == ChangeAdd && prev.ModifiedText != "" &&
				prev.LineStart == origLine {
				// Insert directly followed by a delete of the lines it
				// landed on is a replacement, not two separate edits.
				prev.Type = ChangeModify
				prev.LineEnd = origLine + n - 1
				prev.OriginalText = d.Text
				origLine += n
				continue
			}
			res.Changes = append(res.Changes, Change{
				Type:         ChangeDelete,
				LineStart:    origLine,
				LineEnd:      origLine + n - 1,
				OriginalText: d.Text,
			})
			origLine += n

		case diffmatchpatch.DiffInsert:
			res.Stats.Additions += n
			if prev := lastChange(res.Changes); prev != nil &&
				prev.Type == ChangeDelete &&
				prev.LineEnd+1 == origLine {
				// Delete directly followed by an insert at the same spot
				// is a replacement, not two separate edits.
				prev.Type = ChangeModify
				prev.ModifiedText = d.Text
				continue
			}
			res.Changes = append(res.Changes, Change{
				Type:         ChangeAdd,
				LineStart:    origLine,
				LineEnd:      origLine,
				ModifiedText: d.Text,
			})
		}
	}

	return res
}

// ToModifications assigns fresh ids and pending status to each change
func ToModifications(changes []Change) []Modification {
	mods := make([]Modification, 0, len(changes))
	for _, c := range changes {
		mods = append(mods, Modification{
			ID:           uuid.New().String(),
			Type:         c.Type,
			LineStart:    c.LineStart,
			LineEnd:      c.LineEnd,
			OriginalText: c.OriginalText,
			ModifiedText: c.ModifiedText,
			Status:       StatusPending,
		})
	}
	return mods
}

// ApplyModifications applies the accepted modifications to original and
// returns the resulting document. Modifications are applied from the
// bottom of the file upward so earlier edits cannot shift the line
// numbers of later ones. Rejected and pending modifications are skipped.
func ApplyModifications(original string, mods []Modification) (string, error) {
	accepted := make([]Modification, 0, len(mods))
	for _, m := range mods {
		if m.Status == StatusAccepted {
			accepted = append(accepted, m)
		}
	}
	if len(accepted) == 0 {
		return original, nil
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].LineStart > accepted[j].LineStart
	})

	lines := SplitLines(original)
	for _, m := range accepted {
		var err error
		switch m.Type {
		case ChangeAdd:
			lines, err = spliceAdd(lines, m)
		case ChangeDelete:
			lines, err = spliceDelete(lines, m)
		case ChangeModify:
			lines, err = spliceModify(lines, m)
		default:
			err = fmt.Errorf("unknown modification type %q", m.Type)
		}
		if err != nil {
			return "", fmt.Errorf("apply modification %s: %w", m.ID, err)
		}
	}

	return strings.Join(lines, ""), nil
}

func spliceAdd(lines []string, m Modification) ([]string, error) {
	if m.LineStart < 1 || m.LineStart > len(lines)+1 {
		return nil, fmt.Errorf("add position %d out of range 1..%d", m.LineStart, len(lines)+1)
	}
	at := m.LineStart - 1
	ins := SplitLines(m.ModifiedText)
	out := make([]string, 0, len(lines)+len(ins))
	out = append(out, lines[:at]...)
	out = append(out, ins...)
	out = append(out, lines[at:]...)
	return out, nil
}

func spliceDelete(lines []string, m Modification) ([]string, error) {
	if err := checkRange(lines, m); err != nil {
		return nil, err
	}
	return append(lines[:m.LineStart-1], lines[m.LineEnd:]...), nil
}

func spliceModify(lines []string, m Modification) ([]string, error) {
	if err := checkRange(lines, m); err != nil {
		return nil, err
	}
	ins := SplitLines(m.ModifiedText)
	out := make([]string, 0, len(lines)-(m.LineEnd-m.LineStart+1)+len(ins))
	out = append(out, lines[:m.LineStart-1]...)
	out = append(out, ins...)
	out = append(out, lines[m.LineEnd:]...)
	return out, nil
}

func checkRange(lines []string, m Modification) error {
	if m.LineStart < 1 || m.LineEnd < m.LineStart || m.LineEnd > len(lines) {
		return fmt.Errorf("line range %d-%d out of range 1..%d", m.LineStart, m.LineEnd, len(lines))
	}
	return nil
}

func lastChange(changes []Change) *Change {
	if len(changes) == 0 {
		return nil
	}
	return &changes[len(changes)-1]
}

// SplitLines splits a document into lines that keep their trailing
// newline, so joining with "" reproduces the input byte-for-byte. Line
// numbers everywhere in this package are 1-based indexes into this
// slice; a newline-terminated document has no empty trailing line.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			lines = append(lines, s)
			return lines
		}
		lines = append(lines, s[:i+1])
		s = s[i+1:]
		if s == "" {
			return lines
		}
	}
}

// countLines counts lines in a diff run; a run only lacks a trailing
// newline when it holds the document's final line.
func countLines(s string) int {
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
