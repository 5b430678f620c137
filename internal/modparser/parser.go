// internal/modparser/parser.go

// Package modparser extracts file edit instructions from raw model
// output. The model marks edits with a small tag grammar:
//
//	<file_edit path="stories/chapter-001.md">
//	<replace lines="10-15">
//	New content here
//	</replace>
//	<insert at="5">
//	New line to insert
//	</insert>
//	<delete lines="20-25" />
//	</file_edit>
//
// Responses without tags produce no edits.
package modparser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"inkforge/internal/diff"
)

var (
	fileEditRe = regexp.MustCompile(`(?s)<file_edit\s+path="([^"]+)">(.*?)</file_edit>`)
	replaceRe  = regexp.MustCompile(`(?s)<replace\s+lines="(\d+)-(\d+)">(.*?)</replace>`)
	insertRe   = regexp.MustCompile(`(?s)<insert\s+at="(\d+)">(.*?)</insert>`)
	deleteRe   = regexp.MustCompile(`<delete\s+lines="(\d+)-(\d+)"\s*/>`)
)

// FileEdit is the parsed set of modifications against one file
type FileEdit struct {
	Path          string
	Original      string
	Modifications []diff.Modification
	Stats         diff.Stats
}

// ReadFunc resolves a workspace-relative path to its current content
type ReadFunc func(path string) (string, error)

// Parse scans a model response for file edit tags. It returns nil when
// the response carries no edit instructions.
func Parse(response string, read ReadFunc) ([]FileEdit, error) {
	if !strings.Contains(response, "<file_edit") {
		return nil, nil
	}

	var edits []FileEdit
	for _, cap := range fileEditRe.FindAllStringSubmatch(response, -1) {
		path := cap[1]
		body := cap[2]

		original, err := read(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		mods, stats := parseModifications(body, original)
		if len(mods) == 0 {
			continue
		}
		edits = append(edits, FileEdit{
			Path:          path,
			Original:      original,
			Modifications: mods,
			Stats:         stats,
		})
	}

	return edits, nil
}

func parseModifications(body, original string) ([]diff.Modification, diff.Stats) {
	var (
		mods    []diff.Modification
		stats   diff.Stats
		counter int
	)
	// Line numbers are validated against the same splitting scheme the
	// apply side uses, so every modification produced here splices.
	lines := diff.SplitLines(original)

	nextID := func() string {
		counter++
		return fmt.Sprintf("mod-%d-%d", time.Now().UnixMilli(), counter)
	}

	for _, cap := range replaceRe.FindAllStringSubmatch(body, -1) {
		start, end, ok := lineRange(cap[1], cap[2], len(lines))
		if !ok {
			continue
		}
		text := blockText(cap[3])
		mods = append(mods, diff.Modification{
			ID:           nextID(),
			Type:         diff.ChangeModify,
			LineStart:    start,
			LineEnd:      end,
			OriginalText: originalSlice(lines, start, end),
			ModifiedText: text,
			Status:       diff.StatusPending,
		})
		stats.Deletions += end - start + 1
		stats.Additions += strings.Count(text, "\n")
	}

	for _, cap := range insertRe.FindAllStringSubmatch(body, -1) {
		at, err := strconv.Atoi(cap[1])
		if err != nil || at < 1 || at > len(lines)+1 {
			continue
		}
		text := blockText(cap[2])
		mods = append(mods, diff.Modification{
			ID:           nextID(),
			Type:         diff.ChangeAdd,
			LineStart:    at,
			LineEnd:      at,
			ModifiedText: text,
			Status:       diff.StatusPending,
		})
		stats.Additions += strings.Count(text, "\n")
	}

	for _, cap := range deleteRe.FindAllStringSubmatch(body, -1) {
		start, end, ok := lineRange(cap[1], cap[2], len(lines))
		if !ok {
			continue
		}
		mods = append(mods, diff.Modification{
			ID:           nextID(),
			Type:         diff.ChangeDelete,
			LineStart:    start,
			LineEnd:      end,
			OriginalText: originalSlice(lines, start, end),
			Status:       diff.StatusPending,
		})
		stats.Deletions += end - start + 1
	}

	return mods, stats
}

func lineRange(startStr, endStr string, lineCount int) (int, int, bool) {
	start, err := strconv.Atoi(startStr)
	if err != nil {
		return 0, 0, false
	}
	end, err := strconv.Atoi(endStr)
	if err != nil {
		return 0, 0, false
	}
	if start < 1 || end < start || start > lineCount {
		return 0, 0, false
	}
	if end > lineCount {
		end = lineCount
	}
	return start, end, true
}

// blockText trims the tag's surrounding whitespace and normalizes the
// payload to whole newline-terminated lines so it splices cleanly.
func blockText(raw string) string {
	text := strings.Trim(raw, "\r\n")
	if text == "" {
		return ""
	}
	return text + "\n"
}

func originalSlice(lines []string, start, end int) string {
	if start < 1 || end > len(lines) {
		return ""
	}
	return strings.Join(lines[start-1:end], "")
}
