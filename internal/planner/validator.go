// internal/planner/validator.go
package planner

import (
	"fmt"
	"strings"
	"unicode"
)

// Verdict is a quality-gate decision.
type Verdict struct {
	OK     bool
	Reason string
}

// Validator judges whether a task's produced text meets its quality
// bar. Implementations get the full task pool so cross-task checks
// (duplicated openings, dependency context) are possible.
type Validator interface {
	Validate(task *Task, generated string, pool []*Task, readFile func(string) (string, error)) Verdict
}

// HeuristicValidator is the shipped validator: cheap mechanical checks
// that catch the common failure shapes of model-written chapters.
type HeuristicValidator struct{}

const (
	minCompactChars   = 600
	compactWordFactor = 0.42
	hookTailRunes     = 80
	dupHeadRunes      = 140
	dupHeadMinRunes   = 80
)

var placeholderTokens = []string{
	"todo", "lorem", "xxx", "tbd", "[placeholder]", "to be written",
}

func (HeuristicValidator) Validate(task *Task, generated string, pool []*Task, readFile func(string) (string, error)) Verdict {
	text := strings.TrimSpace(generated)
	if text == "" {
		return Verdict{OK: false, Reason: "model returned empty content"}
	}
	if !strings.Contains(text, "TASK_DONE: "+task.ID) {
		return Verdict{OK: false, Reason: fmt.Sprintf("missing completion tag TASK_DONE: %s", task.ID)}
	}

	content, err := readFile(task.Scope)
	if err != nil {
		return Verdict{OK: false, Reason: fmt.Sprintf("target file is missing or unreadable: %s", task.Scope)}
	}

	compact := stripWhitespace(content)
	minLen := minCompactChars
	if scaled := int(float64(task.TargetWords) * compactWordFactor); scaled > minLen {
		minLen = scaled
	}
	if len([]rune(compact)) < minLen {
		return Verdict{OK: false, Reason: fmt.Sprintf("file content is too short (%d/%d)", len([]rune(compact)), minLen)}
	}

	lowered := strings.ToLower(content)
	for _, token := range placeholderTokens {
		if strings.Contains(lowered, token) {
			return Verdict{OK: false, Reason: "chapter contains placeholder text"}
		}
	}

	if requiresHookEnding(task) && !hasHookEnding(content) {
		return Verdict{OK: false, Reason: "chapter ending lacks a hook or closure sentence"}
	}

	if reason, dup := duplicatedOpening(task, content, pool, readFile); dup {
		return Verdict{OK: false, Reason: reason}
	}

	return Verdict{OK: true}
}

func requiresHookEnding(task *Task) bool {
	for _, check := range task.AcceptanceChecks {
		if strings.Contains(strings.ToLower(check), "hook") {
			return true
		}
	}
	return false
}

// hasHookEnding looks for sentence-closing punctuation in the last few
// dozen runes of the chapter.
func hasHookEnding(content string) bool {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) == 0 {
		return false
	}
	tail := runes
	if len(tail) > hookTailRunes {
		tail = tail[len(tail)-hookTailRunes:]
	}
	for _, r := range tail {
		switch r {
		case '?', '!', '.', '…', '？', '！', '。':
			return true
		}
	}
	return false
}

// duplicatedOpening rejects chapters whose opening is a near-copy of
// the first dependency's chapter, a common model failure when the
// previous chapter is in the prompt context.
func duplicatedOpening(task *Task, content string, pool []*Task, readFile func(string) (string, error)) (string, bool) {
	if len(task.DependsOn) == 0 {
		return "", false
	}
	depID := task.DependsOn[0]
	var dep *Task
	for _, t := range pool {
		if t.ID == depID {
			dep = t
			break
		}
	}
	if dep == nil || dep.Scope == task.Scope {
		return "", false
	}
	depContent, err := readFile(dep.Scope)
	if err != nil {
		return "", false
	}

	head := headRunes(stripWhitespace(content), dupHeadRunes)
	depHead := headRunes(stripWhitespace(depContent), dupHeadRunes)
	if len([]rune(head)) > dupHeadMinRunes && len([]rune(depHead)) > dupHeadMinRunes && head == depHead {
		return "chapter opening duplicates the dependency chapter", true
	}
	return "", false
}

func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func headRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}
