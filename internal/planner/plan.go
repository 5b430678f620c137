// internal/planner/plan.go
package planner

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Plan documents live as markdown with a machine-readable YAML header
// inside an HTML comment, followed by the human-readable plan prose.
// The header is authoritative; the prose is display text.
const (
	planHeaderOpen  = "<!--inkforge:plan"
	planHeaderClose = "-->"

	// PlanPath is where the master plan lives in a workspace.
	PlanPath = "plan.md"
)

// Plan is the master plan document: the task queue plus its prose
// body.
type Plan struct {
	Version     int       `yaml:"version"`
	GeneratedAt time.Time `yaml:"generated_at"`
	Tasks       []*Task   `yaml:"tasks"`

	Prose string `yaml:"-"`
}

// HasHeader reports whether a document carries a plan header block.
func HasHeader(doc string) bool {
	return strings.Contains(doc, planHeaderOpen)
}

// ParsePlan reads a plan document. The YAML header between the
// inkforge:plan comment markers carries the task queue.
func ParsePlan(doc string) (*Plan, error) {
	start := strings.Index(doc, planHeaderOpen)
	if start < 0 {
		return nil, fmt.Errorf("plan document has no header block")
	}
	rest := doc[start+len(planHeaderOpen):]
	end := strings.Index(rest, planHeaderClose)
	if end < 0 {
		return nil, fmt.Errorf("plan header block is not terminated")
	}

	var p Plan
	if err := yaml.Unmarshal([]byte(rest[:end]), &p); err != nil {
		return nil, fmt.Errorf("parse plan header: %w", err)
	}
	for _, t := range p.Tasks {
		if t.Status == "" {
			t.Status = StatusTodo
		}
		if t.Priority == "" {
			t.Priority = PriorityMedium
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("parse plan: %w", err)
		}
	}
	p.Prose = strings.TrimLeft(rest[end+len(planHeaderClose):], "\n")
	return &p, nil
}

// Render serializes the plan back to its markdown form.
func (p *Plan) Render() (string, error) {
	header, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal plan header: %w", err)
	}
	var b strings.Builder
	b.WriteString(planHeaderOpen)
	b.WriteByte('\n')
	b.Write(header)
	b.WriteString(planHeaderClose)
	b.WriteString("\n\n")
	b.WriteString(p.Prose)
	if p.Prose != "" && !strings.HasSuffix(p.Prose, "\n") {
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// Task returns the task with the given id, or nil.
func (p *Plan) Task(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (p *Plan) tasksByID() map[string]*Task {
	byID := make(map[string]*Task, len(p.Tasks))
	for _, t := range p.Tasks {
		byID[t.ID] = t
	}
	return byID
}

// NextRunnable returns the first task in stored order whose status is
// todo or retry and whose dependencies are all done, or nil when the
// queue is exhausted or blocked on unmet dependencies.
func (p *Plan) NextRunnable() *Task {
	byID := p.tasksByID()
	for _, t := range p.Tasks {
		if runnable(t, byID) {
			return t
		}
	}
	return nil
}
