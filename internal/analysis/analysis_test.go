// internal/analysis/analysis_test.go
package analysis

import (
	"strings"
	"testing"
)

func TestAnalyzeDetectsHeadings(t *testing.T) {
	content := `# Chapter One

Mira met Tomas by the river. Then Tomas gave Mira a letter.
She read it twice and asked Tomas to wait.

# Chapter Two

The letter sent Mira north before dawn.
`
	book := Analyze(content, "The River Letter")

	if book.Title != "The River Letter" {
		t.Errorf("title = %q", book.Title)
	}
	if len(book.Chapters) != 2 {
		t.Fatalf("chapters = %d, want 2", len(book.Chapters))
	}
	if book.Chapters[0].Title != "Chapter One" || book.Chapters[1].Title != "Chapter Two" {
		t.Errorf("unexpected titles %q %q", book.Chapters[0].Title, book.Chapters[1].Title)
	}
	if book.Chapters[0].StartLine != 1 {
		t.Errorf("first chapter starts at line %d", book.Chapters[0].StartLine)
	}
	if book.Chapters[0].CharCount == 0 || book.Chapters[1].CharCount == 0 {
		t.Error("chapter char counts missing")
	}
	if book.Structure != "novella" {
		t.Errorf("structure = %q", book.Structure)
	}
	if book.TotalChars == 0 {
		t.Error("total chars missing")
	}
}

func TestAnalyzePartitionsHeadinglessText(t *testing.T) {
	line := "The caravan crossed the salt flats before the heat arrived.\n"
	content := strings.Repeat(line, 200)

	book := Analyze(content, "Salt")
	if len(book.Chapters) < 2 {
		t.Fatalf("expected size-based chapters, got %d", len(book.Chapters))
	}
	if book.Chapters[0].Title != "Chapter 1" {
		t.Errorf("synthesized title = %q", book.Chapters[0].Title)
	}
	if book.Chapters[1].StartLine <= book.Chapters[0].EndLine {
		t.Errorf("chapters overlap: %+v %+v", book.Chapters[0], book.Chapters[1])
	}
}

func TestAnalyzeExtractsRecurringNames(t *testing.T) {
	content := `She watched Mira cross the yard. He called Mira twice before
she heard him, and Mira only laughed. Later he asked Mira about the
letter, but Mira said nothing. The yard stayed empty after that.`

	book := Analyze(content, "Yard")

	var found *Character
	for i := range book.Characters {
		if book.Characters[i].Name == "Mira" {
			found = &book.Characters[i]
		}
		if book.Characters[i].Name == "The" {
			t.Error("sentence lead counted as a character")
		}
	}
	if found == nil {
		t.Fatalf("Mira not extracted: %+v", book.Characters)
	}
	if found.Mentions < 3 {
		t.Errorf("mentions = %d, want >= 3", found.Mentions)
	}
}

func TestSplitBreaksAtSentenceEnds(t *testing.T) {
	sentence := "Mira walked to the village square.\n"
	content := strings.Repeat(sentence, 4)

	res := Split(content, "Square", 40)
	if len(res.Chapters) != 2 {
		t.Fatalf("chapters = %d, want 2", len(res.Chapters))
	}
	var joined strings.Builder
	for _, c := range res.Chapters {
		if !strings.HasSuffix(strings.TrimRight(c.Content, "\n"), ".") {
			t.Errorf("chapter %d breaks mid-sentence: %q", c.Index, c.Content)
		}
		if c.CharCount == 0 {
			t.Errorf("chapter %d has no chars", c.Index)
		}
		joined.WriteString(c.Content)
	}
	if joined.String() != content {
		t.Errorf("split lost text: %q", joined.String())
	}
}

func TestSplitDropsTinyTail(t *testing.T) {
	content := strings.Repeat("A long enough sentence for one chapter here.\n", 3) + "End.\n"
	res := Split(content, "Tail", 60)
	for _, c := range res.Chapters {
		if strings.TrimSpace(c.Content) == "End." {
			t.Errorf("tiny tail kept as chapter %d", c.Index)
		}
	}
}
