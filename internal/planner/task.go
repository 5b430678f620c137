// internal/planner/task.go
package planner

import (
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a writing task.
type TaskStatus string

const (
	StatusTodo    TaskStatus = "todo"
	StatusRunning TaskStatus = "running"
	StatusDone    TaskStatus = "done"
	StatusRetry   TaskStatus = "retry"
	StatusBlocked TaskStatus = "blocked"
)

// Priority orders tasks for human review; selection order is queue
// order, not priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Task is one planner-scheduled unit of chapter-writing work. Tasks
// are created in bulk when a plan is regenerated and mutated in place
// as execution proceeds; they are never deleted individually.
type Task struct {
	ID               string     `yaml:"id" json:"id"`
	Title            string     `yaml:"title" json:"title"`
	Status           TaskStatus `yaml:"status" json:"status"`
	Priority         Priority   `yaml:"priority" json:"priority"`
	DependsOn        []string   `yaml:"depends_on,omitempty" json:"dependsOn,omitempty"`
	TargetWords      int        `yaml:"target_words" json:"targetWords"`
	Scope            string     `yaml:"scope" json:"scope"`
	Volume           int        `yaml:"volume" json:"volume"`
	ChapterIndex     int        `yaml:"chapter_index" json:"chapterIndex"`
	AcceptanceChecks []string   `yaml:"acceptance_checks,omitempty" json:"acceptanceChecks,omitempty"`
	ArcTargets       []string   `yaml:"arc_targets,omitempty" json:"arcTargets,omitempty"`
	ForeshadowRefs   []string   `yaml:"foreshadow_refs,omitempty" json:"foreshadowRefs,omitempty"`
	TimelineWindow   string     `yaml:"timeline_window,omitempty" json:"timelineWindow,omitempty"`
	TaskPrompt       string     `yaml:"task_prompt,omitempty" json:"taskPrompt,omitempty"`
	Retries          int        `yaml:"retries" json:"retries"`
	LastError        string     `yaml:"last_error,omitempty" json:"lastError,omitempty"`
	CompletedAt      *time.Time `yaml:"completed_at,omitempty" json:"completedAt,omitempty"`
}

// Validate checks the structural constraints on a task.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task has no id")
	}
	if t.Scope == "" {
		return fmt.Errorf("task %s has no scope file", t.ID)
	}
	if t.TargetWords < 500 {
		return fmt.Errorf("task %s target_words %d below minimum 500", t.ID, t.TargetWords)
	}
	switch t.Status {
	case StatusTodo, StatusRunning, StatusDone, StatusRetry, StatusBlocked:
	default:
		return fmt.Errorf("task %s has unknown status %q", t.ID, t.Status)
	}
	return nil
}

// runnable reports whether a task may be selected given the status of
// its dependencies.
func runnable(t *Task, byID map[string]*Task) bool {
	if t.Status != StatusTodo && t.Status != StatusRetry {
		return false
	}
	for _, dep := range t.DependsOn {
		d, ok := byID[dep]
		if !ok || d.Status != StatusDone {
			return false
		}
	}
	return true
}

// failQuality applies the quality-gate transition: the first failure
// sends a task to retry, any further failure blocks it. Retries
// strictly increase.
func (t *Task) failQuality(reason string) {
	if t.Retries == 0 {
		t.Status = StatusRetry
	} else {
		t.Status = StatusBlocked
	}
	t.Retries++
	t.LastError = reason
}

// passQuality marks a task done.
func (t *Task) passQuality() {
	now := time.Now()
	t.Status = StatusDone
	t.LastError = ""
	t.CompletedAt = &now
}
