// internal/diff/diff_test.go
package diff

import (
	"testing"
)

func acceptAll(mods []Modification) []Modification {
	out := make([]Modification, len(mods))
	copy(out, mods)
	for i := range out {
		out[i].Status = StatusAccepted
	}
	return out
}

func rejectAll(mods []Modification) []Modification {
	out := make([]Modification, len(mods))
	copy(out, mods)
	for i := range out {
		out[i].Status = StatusRejected
	}
	return out
}

func TestComputeRoundTrip(t *testing.T) {
	pairs := []struct {
		name     string
		original string
		modified string
	}{
		{"replace middle line", "one\ntwo\nthree\n", "one\nTWO\nthree\n"},
		{"append at end", "one\ntwo\n", "one\ntwo\nthree\n"},
		{"insert at start", "two\nthree\n", "one\ntwo\nthree\n"},
		{"delete middle", "one\ntwo\nthree\n", "one\nthree\n"},
		{"delete all", "one\ntwo\n", ""},
		{"create from empty", "", "one\ntwo\n"},
		{"no trailing newline", "one\ntwo", "one\ntwo\nthree"},
		{"gain trailing newline", "one\ntwo", "one\ntwo\n"},
		{"lose trailing newline", "one\ntwo\n", "one\ntwo"},
		{"multi block", "a\nb\nc\nd\ne\nf\n", "a\nB\nc\nnew\nd\nf\n"},
		{"identical", "a\nb\n", "a\nb\n"},
		{"rewrite everything", "a\nb\nc\n", "x\ny\n"},
	}

	for _, p := range pairs {
		t.Run(p.name, func(t *testing.T) {
			res := Compute(p.original, p.modified)
			mods := acceptAll(ToModifications(res.Changes))

			got, err := ApplyModifications(p.original, mods)
			if err != nil {
				t.Fatalf("ApplyModifications failed: %v", err)
			}
			if got != p.modified {
				t.Errorf("round trip mismatch:\n got %q\nwant %q", got, p.modified)
			}
		})
	}
}

func TestApplyWithAllRejected(t *testing.T) {
	original := "one\ntwo\nthree\n"
	res := Compute(original, "one\nTWO\nfour\n")
	mods := rejectAll(ToModifications(res.Changes))

	got, err := ApplyModifications(original, mods)
	if err != nil {
		t.Fatalf("ApplyModifications failed: %v", err)
	}
	if got != original {
		t.Errorf("rejecting everything must leave the text unchanged, got %q", got)
	}
}

func TestApplyPartialAcceptance(t *testing.T) {
	original := "a\nb\nc\nd\n"
	modified := "a\nB\nc\nD\n"
	res := Compute(original, modified)
	mods := ToModifications(res.Changes)
	if len(mods) != 2 {
		t.Fatalf("expected 2 modifications, got %d", len(mods))
	}

	// Accept only the first edit
	mods[0].Status = StatusAccepted
	mods[1].Status = StatusRejected

	got, err := ApplyModifications(original, mods)
	if err != nil {
		t.Fatalf("ApplyModifications failed: %v", err)
	}
	if got != "a\nB\nc\nd\n" {
		t.Errorf("unexpected result %q", got)
	}
}

func TestReplaceCollapsesToModify(t *testing.T) {
	res := Compute("one\ntwo\nthree\n", "one\nTWO\nthree\n")
	if len(res.Changes) != 1 {
		t.Fatalf("expected a single change, got %d: %+v", len(res.Changes), res.Changes)
	}

	c := res.Changes[0]
	if c.Type != ChangeModify {
		t.Errorf("expected modify, got %s", c.Type)
	}
	if c.LineStart != 2 || c.LineEnd != 2 {
		t.Errorf("expected line range 2-2, got %d-%d", c.LineStart, c.LineEnd)
	}
	if c.OriginalText != "two\n" || c.ModifiedText != "TWO\n" {
		t.Errorf("unexpected texts: %q -> %q", c.OriginalText, c.ModifiedText)
	}
}

func TestPureInsertStaysAdd(t *testing.T) {
	res := Compute("one\nthree\n", "one\ntwo\nthree\n")
	if len(res.Changes) != 1 {
		t.Fatalf("expected a single change, got %d", len(res.Changes))
	}
	if res.Changes[0].Type != ChangeAdd {
		t.Errorf("expected add, got %s", res.Changes[0].Type)
	}
	if res.Changes[0].LineStart != 2 {
		t.Errorf("expected insert before line 2, got %d", res.Changes[0].LineStart)
	}
}

func TestStats(t *testing.T) {
	res := Compute("a\nb\nc\n", "a\nB\nc\nd\ne\n")
	if res.Stats.Deletions != 1 {
		t.Errorf("expected 1 deletion, got %d", res.Stats.Deletions)
	}
	if res.Stats.Additions != 3 {
		t.Errorf("expected 3 additions, got %d", res.Stats.Additions)
	}
}

func TestToModificationsAssignsIDs(t *testing.T) {
	res := Compute("a\n", "b\n")
	mods := ToModifications(res.Changes)
	seen := make(map[string]bool)
	for _, m := range mods {
		if m.ID == "" {
			t.Error("modification id must not be empty")
		}
		if seen[m.ID] {
			t.Errorf("duplicate modification id %s", m.ID)
		}
		seen[m.ID] = true
		if m.Status != StatusPending {
			t.Errorf("new modification should be pending, got %s", m.Status)
		}
	}
}

func TestApplyRejectsBadRange(t *testing.T) {
	_, err := ApplyModifications("a\n", []Modification{{
		ID:        "m1",
		Type:      ChangeDelete,
		LineStart: 5,
		LineEnd:   6,
		Status:    StatusAccepted,
	}})
	if err == nil {
		t.Fatal("expected range error")
	}
}
