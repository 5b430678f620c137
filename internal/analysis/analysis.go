// internal/analysis/analysis.go
package analysis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"inkforge/internal/workspace"
)

// DefaultChapterChars is the split target when the manuscript carries
// no recognizable chapter headings.
const DefaultChapterChars = 3000

// Chapter is one detected or synthesized chapter of a manuscript.
type Chapter struct {
	Index     int    `json:"index"`
	Title     string `json:"title"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	CharCount int    `json:"charCount"`
}

// Character is a recurring proper name and how often it appears.
type Character struct {
	Name     string `json:"name"`
	Mentions int    `json:"mentions"`
}

// Book is the structural analysis of one manuscript.
type Book struct {
	Title               string      `json:"title"`
	TotalChars          int         `json:"totalChars"`
	Chapters            []Chapter   `json:"chapters"`
	Structure           string      `json:"structure"`
	AverageChapterChars int         `json:"averageChapterChars"`
	Density             string      `json:"density"`
	Characters          []Character `json:"characters"`
}

// SplitChapter is one piece of a size-based manuscript split.
type SplitChapter struct {
	Index     int    `json:"index"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CharCount int    `json:"charCount"`
}

// SplitResult is the outcome of splitting a manuscript into chapters.
type SplitResult struct {
	Title      string         `json:"title"`
	TotalChars int            `json:"totalChars"`
	Chapters   []SplitChapter `json:"chapters"`
}

// chapterHeadingRe matches markdown headings and prose chapter titles.
var chapterHeadingRe = regexp.MustCompile(`^(#{1,3}\s+\S.*|(?:Chapter|CHAPTER|Part|PART)\s+(?:\d+|[IVXLCM]+)\b.*)$`)

func isChapterHeading(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > 80 {
		return false
	}
	return chapterHeadingRe.MatchString(trimmed)
}

// Analyze derives the chapter layout, overall structure, pacing and
// recurring character names of a manuscript. Chapters are detected by
// heading lines; a manuscript without headings is partitioned by size.
func Analyze(content, title string) *Book {
	book := &Book{
		Title:      title,
		TotalChars: workspace.CountChars(content),
	}

	lines := strings.Split(content, "\n")
	book.Chapters = detectChapters(lines)
	if len(book.Chapters) == 0 {
		book.Chapters = partitionBySize(lines, DefaultChapterChars)
	}

	n := len(book.Chapters)
	switch {
	case n > 100:
		book.Structure = "long-form serial"
	case n > 50:
		book.Structure = "multi-arc novel"
	case n > 10:
		book.Structure = "novel"
	default:
		book.Structure = "novella"
	}

	if n > 0 {
		book.AverageChapterChars = book.TotalChars / n
	}
	switch {
	case book.AverageChapterChars > 4000:
		book.Density = "high"
	case book.AverageChapterChars > 2000:
		book.Density = "medium"
	default:
		book.Density = "low"
	}

	book.Characters = extractCharacters(content)
	return book
}

// detectChapters walks heading lines and closes a chapter at each one.
func detectChapters(lines []string) []Chapter {
	var (
		chapters []Chapter
		current  *Chapter
		buf      strings.Builder
	)

	closeCurrent := func(endLine int) {
		if current == nil {
			return
		}
		current.EndLine = endLine
		current.CharCount = workspace.CountChars(buf.String())
		chapters = append(chapters, *current)
		current = nil
		buf.Reset()
	}

	for i, line := range lines {
		if isChapterHeading(line) {
			closeCurrent(i)
			current = &Chapter{
				Index:     len(chapters) + 1,
				Title:     strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#")),
				StartLine: i + 1,
			}
			continue
		}
		if current != nil {
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}
	closeCurrent(len(lines))
	return chapters
}

// partitionBySize synthesizes chapters of roughly targetChars each.
// A trailing fragment under 100 characters folds into nothing.
func partitionBySize(lines []string, targetChars int) []Chapter {
	var (
		chapters  []Chapter
		startLine = 1
		chars     int
	)
	for i, line := range lines {
		chars += workspace.CountChars(line)
		if chars >= targetChars {
			chapters = append(chapters, Chapter{
				Index:     len(chapters) + 1,
				Title:     fmt.Sprintf("Chapter %d", len(chapters)+1),
				StartLine: startLine,
				EndLine:   i + 1,
				CharCount: chars,
			})
			startLine = i + 2
			chars = 0
		}
	}
	if chars > 100 {
		chapters = append(chapters, Chapter{
			Index:     len(chapters) + 1,
			Title:     fmt.Sprintf("Chapter %d", len(chapters)+1),
			StartLine: startLine,
			EndLine:   len(lines),
			CharCount: chars,
		})
	}
	return chapters
}

// Split partitions a manuscript into chapters of roughly targetChars,
// breaking at the last sentence end before the target so no chapter
// opens mid-sentence. Fragments under 50 characters are dropped.
func Split(content, title string, targetChars int) *SplitResult {
	if targetChars <= 0 {
		targetChars = DefaultChapterChars
	}

	res := &SplitResult{Title: title}
	var buf strings.Builder
	flush := func(text string) {
		chars := workspace.CountChars(text)
		if chars <= 50 {
			return
		}
		res.Chapters = append(res.Chapters, SplitChapter{
			Index:     len(res.Chapters) + 1,
			Title:     fmt.Sprintf("Chapter %d", len(res.Chapters)+1),
			Content:   text,
			CharCount: chars,
		})
		res.TotalChars += chars
	}

	for _, line := range strings.Split(content, "\n") {
		buf.WriteString(line)
		buf.WriteString("\n")
		if workspace.CountChars(buf.String()) < targetChars {
			continue
		}
		text := buf.String()
		at := lastSentenceEnd(text)
		flush(text[:at])
		buf.Reset()
		buf.WriteString(text[at:])
	}
	flush(buf.String())
	return res
}

// lastSentenceEnd returns the offset just past the final sentence
// terminator, or len(s) when there is none.
func lastSentenceEnd(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	return len(s)
}

// sentenceLeads are capitalized words too common to be names.
var sentenceLeads = map[string]bool{
	"A": true, "An": true, "And": true, "As": true, "At": true,
	"But": true, "By": true, "Chapter": true, "For": true, "He": true,
	"Her": true, "His": true, "I": true, "If": true, "In": true,
	"It": true, "Its": true, "Mr": true, "Mrs": true, "Ms": true,
	"No": true, "Not": true, "Now": true, "Of": true, "On": true,
	"Or": true, "Part": true, "She": true, "So": true, "The": true,
	"Then": true, "There": true, "They": true, "This": true,
	"To": true, "We": true, "What": true, "When": true, "Why": true,
	"With": true, "You": true,
}

// extractCharacters counts capitalized words that appear mid-sentence,
// which in prose are almost always proper names. Names mentioned fewer
// than three times are dropped; the result is capped at twenty.
func extractCharacters(content string) []Character {
	counts := map[string]int{}
	words := strings.Fields(content)
	for i, w := range words {
		name := strings.Trim(w, `.,;:!?"'()[]*_-`)
		if name == "" || sentenceLeads[name] {
			continue
		}
		first, _ := utf8.DecodeRuneInString(name)
		if !unicode.IsUpper(first) {
			continue
		}
		rest := name[utf8.RuneLen(first):]
		if rest == "" || strings.IndexFunc(rest, func(r rune) bool { return !unicode.IsLower(r) }) >= 0 {
			continue
		}
		if i == 0 || endsSentence(words[i-1]) {
			continue
		}
		counts[name]++
	}

	var out []Character
	for name, n := range counts {
		if n >= 3 {
			out = append(out, Character{Name: name, Mentions: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mentions != out[j].Mentions {
			return out[i].Mentions > out[j].Mentions
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > 20 {
		out = out[:20]
	}
	return out
}

func endsSentence(w string) bool {
	w = strings.TrimRight(w, `"')`)
	return strings.HasSuffix(w, ".") || strings.HasSuffix(w, "!") ||
		strings.HasSuffix(w, "?") || strings.HasSuffix(w, ":")
}
