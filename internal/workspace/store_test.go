// internal/workspace/store_test.go
package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "workspace-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestReadWrite(t *testing.T) {
	s := newTestStore(t)

	if err := s.Write("chapter1.md", "It began in the rain.\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := s.Read("chapter1.md")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "It began in the rain.\n" {
		t.Fatalf("content = %q", got)
	}
}

func TestPathValidation(t *testing.T) {
	s := newTestStore(t)

	for _, bad := range []string{"", "../outside.md", "a/../../outside.md", "/etc/passwd"} {
		if _, err := s.Read(bad); err == nil {
			t.Errorf("read %q should fail", bad)
		}
		if err := s.Write(bad, "x"); err == nil {
			t.Errorf("write %q should fail", bad)
		}
	}
}

func TestWriteMissingParent(t *testing.T) {
	s := newTestStore(t)

	err := s.Write("volume1/chapter1.md", "text")
	if !errors.Is(err, ErrNoParentDir) {
		t.Fatalf("err = %v, want ErrNoParentDir", err)
	}

	// WriteEnsured recovers by creating the directory.
	if err := s.WriteEnsured("volume1/chapter1.md", "text"); err != nil {
		t.Fatalf("write ensured: %v", err)
	}
	got, err := s.Read("volume1/chapter1.md")
	if err != nil || got != "text" {
		t.Fatalf("read back: %q, %v", got, err)
	}
}

func TestCreateFile(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateFile("notes.md"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateFile("notes.md"); err == nil {
		t.Fatal("creating an existing file should fail")
	}
	if err := s.CreateFile("missing/notes.md"); !errors.Is(err, ErrNoParentDir) {
		t.Fatalf("err = %v, want ErrNoParentDir", err)
	}
}

func TestCountChars(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"   \n\t ", 0},
		{"hello world", 10},
		{"雨が 降る", 4},
		{"line one\nline two\n", 14},
	}
	for _, tc := range tests {
		if got := CountChars(tc.text); got != tc.want {
			t.Errorf("CountChars(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestTree(t *testing.T) {
	s := newTestStore(t)

	mustWrite := func(rel, content string) {
		t.Helper()
		if err := s.WriteEnsured(rel, content); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	mustWrite("volume1/chapter1.md", "ten chars!")
	mustWrite("volume1/chapter2.md", "more text here")
	mustWrite("plan.md", "the plan")
	if err := os.MkdirAll(filepath.Join(s.Root(), ".inkforge"), 0o755); err != nil {
		t.Fatal(err)
	}

	nodes, err := s.Tree(2)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("top level = %d entries, want 2 (hidden dirs skipped)", len(nodes))
	}
	if !nodes[0].IsDir || nodes[0].Name != "volume1" {
		t.Fatalf("directories should sort first, got %+v", nodes[0])
	}
	if len(nodes[0].Children) != 2 {
		t.Fatalf("volume1 children = %d, want 2", len(nodes[0].Children))
	}
	if nodes[1].Name != "plan.md" || nodes[1].CharCount != 7 {
		t.Fatalf("plan.md = %+v", nodes[1])
	}

	// Depth bound of 1 stops before volume1's children.
	shallow, err := s.Tree(1)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if shallow[0].Children != nil {
		t.Fatal("depth 1 should not descend into directories")
	}
}

func TestTotalChars(t *testing.T) {
	s := newTestStore(t)
	if err := s.WriteEnsured("volume1/chapter1.md", "ten chars!"); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteEnsured("volume1/chapter2.md", "five!"); err != nil {
		t.Fatal(err)
	}

	total, err := s.TotalChars("volume1")
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != 15 {
		t.Fatalf("total = %d, want 15", total)
	}
}

func TestConceptIndex(t *testing.T) {
	s := newTestStore(t)
	if err := s.Write("hero.md", "A quiet archivist."); err != nil {
		t.Fatal(err)
	}

	entry, changed, err := s.UpdateConcept("hero.md")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !changed || entry.Revision != 1 || entry.Hash == "" {
		t.Fatalf("first update: %+v changed=%v", entry, changed)
	}

	// Same content, no revision bump.
	entry, changed, err = s.UpdateConcept("hero.md")
	if err != nil || changed || entry.Revision != 1 {
		t.Fatalf("unchanged update: %+v changed=%v err=%v", entry, changed, err)
	}

	if err := s.Write("hero.md", "A quiet archivist with a secret."); err != nil {
		t.Fatal(err)
	}
	entry, changed, err = s.UpdateConcept("hero.md")
	if err != nil || !changed || entry.Revision != 2 {
		t.Fatalf("changed update: %+v changed=%v err=%v", entry, changed, err)
	}

	index, err := s.ConceptIndex()
	if err != nil || len(index) != 1 {
		t.Fatalf("index = %+v, err %v", index, err)
	}

	if err := s.RemoveConcept("hero.md"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	index, _ = s.ConceptIndex()
	if len(index) != 0 {
		t.Fatalf("index after remove = %+v", index)
	}
}

func TestContinuityLog(t *testing.T) {
	s := newTestStore(t)

	if err := s.AppendContinuity("Chapter 1 drafted; Mara reaches the archive."); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendContinuity("Chapter 2 drafted; the ledger goes missing."); err != nil {
		t.Fatalf("append: %v", err)
	}

	log, err := s.Continuity()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !containsInOrder(log, "Mara reaches the archive", "ledger goes missing") {
		t.Fatalf("log = %q", log)
	}
}

func containsInOrder(s string, subs ...string) bool {
	for _, sub := range subs {
		i := strings.Index(s, sub)
		if i < 0 {
			return false
		}
		s = s[i+len(sub):]
	}
	return true
}
