// internal/planner/planner_test.go
package planner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"inkforge/internal/provider"
	"inkforge/internal/stream"
	"inkforge/internal/workspace"
)

func newTestWorkspace(t *testing.T) *workspace.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "planner-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := workspace.NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func planDoc(tasks string) string {
	return "<!--inkforge:plan\nversion: 1\ntasks:\n" + tasks + "-->\n\n# Master Plan\n\nThree chapters in the archive.\n"
}

const threeTasks = `  - id: t1
    title: Chapter 1
    status: done
    target_words: 2000
    scope: volume1/chapter1.md
  - id: t2
    title: Chapter 2
    status: todo
    depends_on: [t1]
    target_words: 2000
    scope: volume1/chapter2.md
  - id: t3
    title: Chapter 3
    status: todo
    depends_on: [t2]
    target_words: 2000
    scope: volume1/chapter3.md
`

func TestParseAndRenderPlan(t *testing.T) {
	plan, err := ParsePlan(planDoc(threeTasks))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(plan.Tasks) != 3 {
		t.Fatalf("tasks = %d, want 3", len(plan.Tasks))
	}
	if plan.Tasks[1].Priority != PriorityMedium {
		t.Fatalf("default priority = %q", plan.Tasks[1].Priority)
	}
	if !strings.Contains(plan.Prose, "Three chapters") {
		t.Fatalf("prose = %q", plan.Prose)
	}

	doc, err := plan.Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	again, err := ParsePlan(doc)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(again.Tasks) != 3 || again.Tasks[2].ID != "t3" {
		t.Fatalf("round trip lost tasks: %+v", again.Tasks)
	}
}

func TestParsePlanRejectsBadTasks(t *testing.T) {
	_, err := ParsePlan(planDoc("  - id: bad\n    title: x\n    target_words: 100\n    scope: a.md\n"))
	if err == nil {
		t.Fatal("target_words below 500 should fail")
	}
	if _, err := ParsePlan("# no header\n"); err == nil {
		t.Fatal("missing header should fail")
	}
}

func TestSelectionRespectsDependencies(t *testing.T) {
	plan, err := ParsePlan(planDoc(threeTasks))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// t1 done, t2 ready, t3 waits on t2.
	next := plan.NextRunnable()
	if next == nil || next.ID != "t2" {
		t.Fatalf("next = %+v, want t2", next)
	}

	// A selected task never has an un-done dependency.
	plan.Task("t2").Status = StatusRunning
	if got := plan.NextRunnable(); got != nil {
		t.Fatalf("t3 selected with un-done dependency: %+v", got)
	}

	plan.Task("t2").Status = StatusDone
	next = plan.NextRunnable()
	if next == nil || next.ID != "t3" {
		t.Fatalf("next = %+v, want t3", next)
	}

	// Retry tasks are selectable again.
	plan.Task("t3").Status = StatusRetry
	next = plan.NextRunnable()
	if next == nil || next.ID != "t3" {
		t.Fatalf("retry task not reselected: %+v", next)
	}

	plan.Task("t3").Status = StatusBlocked
	if got := plan.NextRunnable(); got != nil {
		t.Fatalf("blocked task selected: %+v", got)
	}
}

func TestQualityFailureTransitions(t *testing.T) {
	task := &Task{ID: "t", Status: StatusRunning}

	task.failQuality("too short")
	if task.Status != StatusRetry || task.Retries != 1 {
		t.Fatalf("first failure: %+v", task)
	}

	task.Status = StatusRunning
	task.failQuality("still too short")
	if task.Status != StatusBlocked || task.Retries != 2 {
		t.Fatalf("second failure: %+v", task)
	}
	if task.LastError != "still too short" {
		t.Fatalf("last_error = %q", task.LastError)
	}
}

func longChapter(n int) string {
	var b strings.Builder
	for b.Len() < n {
		b.WriteString("The archive breathed its slow dust over every shelf she touched. ")
	}
	return b.String()
}

func TestHeuristicValidator(t *testing.T) {
	ws := newTestWorkspace(t)
	v := HeuristicValidator{}

	task := &Task{ID: "t2", Scope: "chapter2.md", TargetWords: 2000}
	pool := []*Task{task}

	generated := "chapter written\nTASK_DONE: t2"

	t.Run("empty output fails", func(t *testing.T) {
		if verdict := v.Validate(task, "  ", pool, ws.Read); verdict.OK {
			t.Fatal("empty output passed")
		}
	})

	t.Run("missing completion tag fails", func(t *testing.T) {
		verdict := v.Validate(task, "chapter written", pool, ws.Read)
		if verdict.OK || !strings.Contains(verdict.Reason, "TASK_DONE") {
			t.Fatalf("verdict = %+v", verdict)
		}
	})

	t.Run("short file fails", func(t *testing.T) {
		if err := ws.Write("chapter2.md", "barely anything"); err != nil {
			t.Fatal(err)
		}
		verdict := v.Validate(task, generated, pool, ws.Read)
		if verdict.OK || !strings.Contains(verdict.Reason, "too short") {
			t.Fatalf("verdict = %+v", verdict)
		}
	})

	t.Run("placeholder text fails", func(t *testing.T) {
		if err := ws.Write("chapter2.md", longChapter(2000)+" TBD the ending"); err != nil {
			t.Fatal(err)
		}
		verdict := v.Validate(task, generated, pool, ws.Read)
		if verdict.OK || !strings.Contains(verdict.Reason, "placeholder") {
			t.Fatalf("verdict = %+v", verdict)
		}
	})

	t.Run("good chapter passes", func(t *testing.T) {
		if err := ws.Write("chapter2.md", longChapter(2000)); err != nil {
			t.Fatal(err)
		}
		if verdict := v.Validate(task, generated, pool, ws.Read); !verdict.OK {
			t.Fatalf("verdict = %+v", verdict)
		}
	})

	t.Run("hook ending enforced when required", func(t *testing.T) {
		hooked := &Task{ID: "t2", Scope: "chapter2.md", TargetWords: 2000,
			AcceptanceChecks: []string{"ends on a hook"}}
		if err := ws.Write("chapter2.md", strings.ReplaceAll(longChapter(2000), ".", ",")); err != nil {
			t.Fatal(err)
		}
		verdict := v.Validate(hooked, generated, pool, ws.Read)
		if verdict.OK || !strings.Contains(verdict.Reason, "hook") {
			t.Fatalf("verdict = %+v", verdict)
		}
		if err := ws.Write("chapter2.md", longChapter(2000)); err != nil {
			t.Fatal(err)
		}
		if verdict := v.Validate(hooked, generated, pool, ws.Read); !verdict.OK {
			t.Fatalf("verdict = %+v", verdict)
		}
	})

	t.Run("duplicated opening fails", func(t *testing.T) {
		body := longChapter(2000)
		dep := &Task{ID: "t1", Scope: "chapter1.md", TargetWords: 2000, Status: StatusDone}
		chained := &Task{ID: "t2", Scope: "chapter2.md", TargetWords: 2000, DependsOn: []string{"t1"}}
		if err := ws.Write("chapter1.md", body); err != nil {
			t.Fatal(err)
		}
		if err := ws.Write("chapter2.md", body); err != nil {
			t.Fatal(err)
		}
		verdict := v.Validate(chained, generated, []*Task{dep, chained}, ws.Read)
		if verdict.OK || !strings.Contains(verdict.Reason, "duplicates") {
			t.Fatalf("verdict = %+v", verdict)
		}
	})
}

// scriptedCaller emits a fixed response.
type scriptedCaller struct {
	response string
}

func (s *scriptedCaller) ID() string { return "scripted" }

func (s *scriptedCaller) Stream(ctx context.Context, messages []provider.Message, system string, onToken func(string)) (string, error) {
	onToken(s.response)
	return s.response, nil
}

// fileWritingApplier writes the chapter body into the task scope the
// way the change-set pipeline would.
type fileWritingApplier struct {
	ws   *workspace.Store
	path string
	body string
}

func (a *fileWritingApplier) Apply(streamID, content string) error {
	return a.ws.WriteEnsured(a.path, a.body)
}

type snapshotEmitter struct {
	snapshots [][]Task
}

func (s *snapshotEmitter) Emit(name string, data interface{}) {
	if snap, ok := data.([]Task); ok {
		s.snapshots = append(s.snapshots, snap)
	}
}

func newTestEngine(t *testing.T, ws *workspace.Store, em EventEmitter) (*Engine, *stream.Manager) {
	t.Helper()
	sm := stream.NewManager(nil)
	e := NewEngine(ws, sm, em)
	if err := e.SetPlan(planDoc(threeTasks)); err != nil {
		t.Fatalf("set plan: %v", err)
	}
	return e, sm
}

func TestExecuteNextPass(t *testing.T) {
	ws := newTestWorkspace(t)
	em := &snapshotEmitter{}
	e, _ := newTestEngine(t, ws, em)
	e.SetApplier(&fileWritingApplier{ws: ws, path: "volume1/chapter2.md", body: longChapter(2000)})

	caller := &scriptedCaller{response: "Chapter written.\nTASK_DONE: t2"}
	task, verdict, err := e.ExecuteNext(context.Background(), caller, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if task.ID != "t2" || !verdict.OK {
		t.Fatalf("task=%s verdict=%+v", task.ID, verdict)
	}
	if task.Status != StatusDone || task.CompletedAt == nil {
		t.Fatalf("task after pass: %+v", task)
	}

	// Continuity got one summary line.
	cont, _ := ws.Continuity()
	if !strings.Contains(cont, "t2 Chapter 2 done") {
		t.Fatalf("continuity = %q", cont)
	}

	// Scope advanced: the next task's file exists.
	if !ws.Exists("volume1/chapter3.md") {
		t.Fatal("next task scope was not created")
	}

	// Queue snapshots were broadcast.
	if len(em.snapshots) == 0 {
		t.Fatal("no queue snapshots broadcast")
	}

	// The mutated queue survived persistence.
	doc, err := ws.Read(PlanPath)
	if err != nil {
		t.Fatalf("read plan: %v", err)
	}
	plan, err := ParsePlan(doc)
	if err != nil {
		t.Fatalf("reparse plan: %v", err)
	}
	if plan.Task("t2").Status != StatusDone {
		t.Fatalf("persisted t2 status = %s", plan.Task("t2").Status)
	}
}

func TestExecuteNextQualityFail(t *testing.T) {
	ws := newTestWorkspace(t)
	e, _ := newTestEngine(t, ws, nil)
	// No applier: the scope file stays empty, failing the length check.

	caller := &scriptedCaller{response: "Too short.\nTASK_DONE: t2"}
	task, verdict, err := e.ExecuteNext(context.Background(), caller, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if verdict.OK {
		t.Fatal("expected quality failure")
	}
	if task.Status != StatusRetry || task.Retries != 1 {
		t.Fatalf("after first failure: %+v", task)
	}

	// Second failure blocks the task.
	task, verdict, err = e.ExecuteNext(context.Background(), caller, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if verdict.OK || task.Status != StatusBlocked || task.Retries != 2 {
		t.Fatalf("after second failure: %+v", task)
	}

	// Queue is now blocked: t3 depends on t2.
	if _, _, err := e.ExecuteNext(context.Background(), caller, ""); !errors.Is(err, ErrNoRunnable) {
		t.Fatalf("err = %v, want ErrNoRunnable", err)
	}
}

func TestExecuteNextTransportErrorLeavesStateClean(t *testing.T) {
	ws := newTestWorkspace(t)
	e, _ := newTestEngine(t, ws, nil)

	caller := &failingCaller{}
	task, _, err := e.ExecuteNext(context.Background(), caller, "")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if task.Status != StatusTodo {
		t.Fatalf("status = %s, want todo (unchanged)", task.Status)
	}
	if task.Retries != 0 {
		t.Fatalf("transport errors must not consume quality retries: %+v", task)
	}
	if task.LastError == "" {
		t.Fatal("last_error not recorded")
	}
}

type failingCaller struct{}

func (f *failingCaller) ID() string { return "failing" }

func (f *failingCaller) Stream(ctx context.Context, messages []provider.Message, system string, onToken func(string)) (string, error) {
	return "", fmt.Errorf("connection refused")
}

func TestPromptBuilderContextPack(t *testing.T) {
	ws := newTestWorkspace(t)
	mustWrite := func(rel, content string) {
		t.Helper()
		if err := ws.WriteEnsured(rel, content); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("volume1/chapter1.md", "chapter one text")
	mustWrite("volume1/chapter2.md", "chapter two text")
	mustWrite("volume1/chapter3.md", "chapter three text")
	mustWrite("volume1/chapter4.md", "chapter four text")
	mustWrite("characters.md", "Mara: archivist")
	if err := ws.AppendContinuity("t1 Chapter 1 done (volume1/chapter1.md)"); err != nil {
		t.Fatal(err)
	}

	plan := &Plan{Prose: "The master plan prose."}
	task := &Task{
		ID: "t3", Title: "Chapter 3", Scope: "volume1/chapter3.md",
		TargetWords: 2000, ArcTargets: []string{"mara-doubt"},
	}

	b := NewPromptBuilder(ws)
	prompt, err := b.Build(task, plan)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	for _, want := range []string{
		"TASK_DONE: t3",
		"mara-doubt",
		"Story style",
		"third_limited",
		"The master plan prose.",
		"Continuity index",
		"Mara: archivist",
		"chapter one text",
		"chapter two text",
		"chapter four text",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestPromptBuilderClampsFiles(t *testing.T) {
	ws := newTestWorkspace(t)
	if err := ws.Write("characters.md", strings.Repeat("x", 10000)); err != nil {
		t.Fatal(err)
	}

	b := NewPromptBuilder(ws)
	b.FileBudget = 100
	prompt, err := b.Build(&Task{ID: "t", Scope: "chapter.md", TargetWords: 1000}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(prompt, "[truncated]") {
		t.Fatal("oversized reference file was not clamped")
	}
	if strings.Contains(prompt, strings.Repeat("x", 200)) {
		t.Fatal("clamp did not bound the included content")
	}
}

func TestStoryConfigDefaultsAndRoundTrip(t *testing.T) {
	ws := newTestWorkspace(t)

	cfg, err := LoadStoryConfig(ws)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TargetWords != 100000 || cfg.Style.POV != "third_limited" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if !ws.Exists(StoryConfigPath) {
		t.Fatal("defaults were not written back")
	}

	cfg.TargetWords = 80000
	cfg.Theme.Statement = "memory against erasure"
	if err := SaveStoryConfig(ws, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	again, err := LoadStoryConfig(ws)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.TargetWords != 80000 || again.Theme.Statement != "memory against erasure" {
		t.Fatalf("round trip = %+v", again)
	}
}
