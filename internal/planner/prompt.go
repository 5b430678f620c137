// internal/planner/prompt.go
package planner

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"inkforge/internal/workspace"
)

const defaultFileBudget = 4000

// defaultReferenceFiles are workspace documents pulled into every
// context pack when present.
var defaultReferenceFiles = []string{"characters.md", "relationships.md"}

// PromptBuilder assembles task prompts from task metadata and a
// context pack drawn from the workspace. Every included file is
// clamped to a per-file character budget to bound prompt size.
type PromptBuilder struct {
	Store          *workspace.Store
	FileBudget     int
	ReferenceFiles []string
}

func NewPromptBuilder(store *workspace.Store) *PromptBuilder {
	return &PromptBuilder{
		Store:          store,
		FileBudget:     defaultFileBudget,
		ReferenceFiles: defaultReferenceFiles,
	}
}

// Build produces the user-turn prompt for one task.
func (b *PromptBuilder) Build(task *Task, plan *Plan) (string, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## Writing task %s: %s\n\n", task.ID, task.Title)
	fmt.Fprintf(&sb, "Target file: %s\n", task.Scope)
	fmt.Fprintf(&sb, "Target length: %d words\n", task.TargetWords)
	if task.TimelineWindow != "" {
		fmt.Fprintf(&sb, "Timeline: %s\n", task.TimelineWindow)
	}
	if len(task.ArcTargets) > 0 {
		fmt.Fprintf(&sb, "Arc targets: %s\n", strings.Join(task.ArcTargets, "; "))
	}
	if len(task.ForeshadowRefs) > 0 {
		fmt.Fprintf(&sb, "Foreshadowing: %s\n", strings.Join(task.ForeshadowRefs, "; "))
	}
	if len(task.AcceptanceChecks) > 0 {
		sb.WriteString("Acceptance checks:\n")
		for _, check := range task.AcceptanceChecks {
			fmt.Fprintf(&sb, "- %s\n", check)
		}
	}
	if task.TaskPrompt != "" {
		sb.WriteString("\n")
		sb.WriteString(task.TaskPrompt)
		sb.WriteString("\n")
	}

	sb.WriteString("\nWrite the chapter into the target file using file_edit tags. ")
	fmt.Fprintf(&sb, "End your reply with the line `TASK_DONE: %s` once the chapter is complete.\n", task.ID)

	if cfg, err := LoadStoryConfig(b.Store); err == nil {
		b.section(&sb, "Story style", fmt.Sprintf(
			"POV: %s\nTense: %s\nTone: %s\nDialogue/action/description ratio: %.2f/%.2f/%.2f",
			cfg.Style.POV, cfg.Style.Tense, cfg.Style.Tone,
			cfg.Ratios.Dialogue, cfg.Ratios.Action, cfg.Ratios.Description))
	}

	if plan != nil && plan.Prose != "" {
		b.section(&sb, "Master plan", plan.Prose)
	}

	if continuity, err := b.Store.Continuity(); err == nil && continuity != "" {
		b.section(&sb, "Continuity index", continuity)
	}

	for _, ref := range b.ReferenceFiles {
		if content, err := b.Store.Read(ref); err == nil {
			b.section(&sb, "Reference: "+ref, content)
		}
	}

	for _, neighbor := range b.neighbors(task) {
		if content, err := b.Store.Read(neighbor); err == nil {
			b.section(&sb, "Story context: "+neighbor, content)
		}
	}

	if current, err := b.Store.Read(task.Scope); err == nil && strings.TrimSpace(current) != "" {
		b.section(&sb, "Current content of "+task.Scope, current)
	}

	return sb.String(), nil
}

func (b *PromptBuilder) section(sb *strings.Builder, title, content string) {
	fmt.Fprintf(sb, "\n## %s\n\n%s\n", title, b.clamp(content))
}

func (b *PromptBuilder) clamp(content string) string {
	budget := b.FileBudget
	if budget <= 0 {
		budget = defaultFileBudget
	}
	runes := []rune(content)
	if len(runes) <= budget {
		return content
	}
	return string(runes[:budget]) + "\n[truncated]"
}

// neighbors returns up to two story files before and after the task's
// target within its volume directory, in reading order.
func (b *PromptBuilder) neighbors(task *Task) []string {
	nodes, err := b.Store.List(path.Dir(task.Scope))
	if err != nil {
		return nil
	}

	var files []string
	for _, n := range nodes {
		if !n.IsDir && strings.HasSuffix(n.Name, ".md") {
			files = append(files, n.Path)
		}
	}
	sort.Strings(files)

	idx := -1
	for i, f := range files {
		if f == task.Scope {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	var out []string
	for i := idx - 2; i <= idx+2; i++ {
		if i < 0 || i >= len(files) || i == idx {
			continue
		}
		out = append(out, files[i])
	}
	return out
}
