// internal/autowrite/loop_test.go
package autowrite

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"inkforge/internal/planner"
	"inkforge/internal/provider"
	"inkforge/internal/stream"
	"inkforge/internal/workspace"
)

type scriptedCaller struct{}

func (s *scriptedCaller) ID() string { return "scripted" }

func (s *scriptedCaller) Stream(ctx context.Context, messages []provider.Message, system string, onToken func(string)) (string, error) {
	resp := "chapter written"
	onToken(resp)
	return resp, nil
}

type stubValidator struct {
	ok bool
}

func (v stubValidator) Validate(task *planner.Task, generated string, pool []*planner.Task, readFile func(string) (string, error)) planner.Verdict {
	if v.ok {
		return planner.Verdict{OK: true}
	}
	return planner.Verdict{OK: false, Reason: "forced failure"}
}

// chapterApplier writes a full chapter into the running task's scope.
type chapterApplier struct {
	mu    sync.Mutex
	ws    *workspace.Store
	e     *planner.Engine
	calls int
}

func (a *chapterApplier) Apply(streamID, content string) error {
	a.mu.Lock()
	a.calls++
	n := a.calls
	a.mu.Unlock()

	for _, t := range a.e.Snapshot() {
		if t.Status == planner.StatusRunning {
			body := strings.Repeat(fmt.Sprintf("Chapter %d prose. ", n), 150)
			return a.ws.WriteEnsured(t.Scope, body)
		}
	}
	return nil
}

type countingSnapshotter struct {
	mu     sync.Mutex
	labels []string
}

func (s *countingSnapshotter) Snapshot(label string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels = append(s.labels, label)
	return "deadbeef", nil
}

func planDoc(taskCount int) string {
	var b strings.Builder
	b.WriteString("<!--inkforge:plan\nversion: 1\ntasks:\n")
	for i := 1; i <= taskCount; i++ {
		fmt.Fprintf(&b, "  - id: t%d\n    title: Chapter %d\n    status: todo\n    target_words: 500\n    scope: chapters/chapter%d.md\n", i, i, i)
	}
	b.WriteString("-->\n\nThe plan.\n")
	return b.String()
}

type testRig struct {
	ws     *workspace.Store
	engine *planner.Engine
	loop   *Loop
}

func newRig(t *testing.T, taskCount int, validator planner.Validator) *testRig {
	t.Helper()
	dir, err := os.MkdirTemp("", "autowrite-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	ws, err := workspace.NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	sm := stream.NewManager(nil)
	engine := planner.NewEngine(ws, sm, nil)
	if err := engine.SetPlan(planDoc(taskCount)); err != nil {
		t.Fatalf("set plan: %v", err)
	}
	engine.SetValidator(validator)

	loop := NewLoop(engine, sm, ws, nil)
	loop.SetSettleDelay(10 * time.Millisecond)
	return &testRig{ws: ws, engine: engine, loop: loop}
}

func awaitStatus(t *testing.T, l *Loop, want Status) StatusEvent {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		r := l.Report()
		if r.Status == want {
			return r
		}
		if r.Status != StatusRunning && r.Status != StatusIdle {
			t.Fatalf("loop settled on %q, want %q (lastError=%q)", r.Status, want, r.LastError)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("loop never reached %q, last report %+v", want, l.Report())
	return StatusEvent{}
}

func TestRunsUntilQueueExhausted(t *testing.T) {
	rig := newRig(t, 3, stubValidator{ok: true})
	rig.engine.SetApplier(&chapterApplier{ws: rig.ws, e: rig.engine})
	snaps := &countingSnapshotter{}
	rig.loop.SetSnapshotter(snaps)

	if err := rig.loop.Start(context.Background(), Options{Caller: &scriptedCaller{}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	report := awaitStatus(t, rig.loop, StatusExhausted)
	if report.Rounds < 3 {
		t.Fatalf("rounds = %d, want >= 3", report.Rounds)
	}

	for _, task := range rig.engine.Snapshot() {
		if task.Status != planner.StatusDone {
			t.Fatalf("task %s = %s, want done", task.ID, task.Status)
		}
	}

	snaps.mu.Lock()
	defer snaps.mu.Unlock()
	if len(snaps.labels) != 3 {
		t.Fatalf("snapshots = %d, want 3", len(snaps.labels))
	}
	if snaps.labels[0] != "auto-write round 1" {
		t.Fatalf("first snapshot label = %q", snaps.labels[0])
	}
}

func TestStopsAtTargetLength(t *testing.T) {
	rig := newRig(t, 3, stubValidator{ok: true})
	if err := rig.ws.WriteEnsured("chapters/chapter0.md", strings.Repeat("x", 500)); err != nil {
		t.Fatal(err)
	}

	if err := rig.loop.Start(context.Background(), Options{Caller: &scriptedCaller{}, TargetChars: 400}); err != nil {
		t.Fatalf("start: %v", err)
	}
	awaitStatus(t, rig.loop, StatusCompleted)

	// Target was already met; no task should have run.
	for _, task := range rig.engine.Snapshot() {
		if task.Status != planner.StatusTodo {
			t.Fatalf("task %s = %s, want todo", task.ID, task.Status)
		}
	}
}

func TestStallDetection(t *testing.T) {
	// Failing validator: tasks retry then block, files never grow.
	rig := newRig(t, 1, stubValidator{ok: false})

	if err := rig.loop.Start(context.Background(), Options{Caller: &scriptedCaller{}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	awaitStatus(t, rig.loop, StatusStalled)
}

func TestBlockedQueueReported(t *testing.T) {
	rig := newRig(t, 1, stubValidator{ok: false})
	// Block the only task up front so the very first round finds
	// nothing runnable.
	doc := "<!--inkforge:plan\nversion: 1\ntasks:\n" +
		"  - id: t1\n    title: Chapter 1\n    status: blocked\n    target_words: 500\n    scope: chapters/chapter1.md\n    retries: 2\n" +
		"-->\n\nThe plan.\n"
	if err := rig.engine.SetPlan(doc); err != nil {
		t.Fatalf("set plan: %v", err)
	}

	if err := rig.loop.Start(context.Background(), Options{Caller: &scriptedCaller{}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	awaitStatus(t, rig.loop, StatusBlocked)
}

func TestMaxRounds(t *testing.T) {
	rig := newRig(t, 10, stubValidator{ok: true})
	rig.engine.SetApplier(&chapterApplier{ws: rig.ws, e: rig.engine})

	if err := rig.loop.Start(context.Background(), Options{Caller: &scriptedCaller{}, MaxRounds: 2}); err != nil {
		t.Fatalf("start: %v", err)
	}
	report := awaitStatus(t, rig.loop, StatusMaxRounds)
	if report.Rounds > 2 {
		t.Fatalf("rounds = %d, want <= 2", report.Rounds)
	}
}

func TestStopRequest(t *testing.T) {
	rig := newRig(t, 10, stubValidator{ok: true})
	rig.engine.SetApplier(&chapterApplier{ws: rig.ws, e: rig.engine})
	rig.loop.SetSettleDelay(200 * time.Millisecond)

	if err := rig.loop.Start(context.Background(), Options{Caller: &scriptedCaller{}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	rig.loop.Stop()
	awaitStatus(t, rig.loop, StatusStopped)
}

func TestRefusesConcurrentRuns(t *testing.T) {
	rig := newRig(t, 10, stubValidator{ok: true})
	rig.engine.SetApplier(&chapterApplier{ws: rig.ws, e: rig.engine})
	rig.loop.SetSettleDelay(200 * time.Millisecond)

	if err := rig.loop.Start(context.Background(), Options{Caller: &scriptedCaller{}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer rig.loop.Stop()

	if err := rig.loop.Start(context.Background(), Options{Caller: &scriptedCaller{}}); err == nil {
		t.Fatal("second start should be refused")
	}
}
