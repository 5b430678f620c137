// internal/planner/queue.go
package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"sync"

	"inkforge/internal/provider"
	"inkforge/internal/stream"
	"inkforge/internal/workspace"
)

// EventSnapshotQueue is broadcast after every queue mutation.
const EventSnapshotQueue = "queue:snapshot"

var (
	ErrNoPlan     = errors.New("planner: no plan loaded")
	ErrBusy       = errors.New("planner: a stream is already active")
	ErrNoRunnable = errors.New("planner: no runnable task")
)

// EventEmitter pushes events to connected clients.
type EventEmitter interface {
	Emit(eventName string, data interface{})
}

// StreamDriver is the slice of the stream manager the engine drives.
type StreamDriver interface {
	IsStreaming() bool
	Start(req stream.StartRequest) (string, error)
	Await(ctx context.Context, streamID string) (stream.Result, error)
}

// Applier materializes a finished stream's output into file edits.
// The app wires this to tag parsing plus change-set application.
type Applier interface {
	Apply(streamID, content string) error
}

// Engine owns the task queue: selection, execution, the quality gate,
// and plan persistence.
type Engine struct {
	mu sync.Mutex

	store     *workspace.Store
	emitter   EventEmitter
	streams   StreamDriver
	validator Validator
	prompts   *PromptBuilder
	applier   Applier

	plan *Plan
}

func NewEngine(store *workspace.Store, streams StreamDriver, emitter EventEmitter) *Engine {
	return &Engine{
		store:     store,
		emitter:   emitter,
		streams:   streams,
		validator: HeuristicValidator{},
		prompts:   NewPromptBuilder(store),
	}
}

// SetValidator replaces the quality validator.
func (e *Engine) SetValidator(v Validator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.validator = v
}

// SetApplier wires the change-set applier.
func (e *Engine) SetApplier(a Applier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applier = a
}

// LoadPlan reads the plan document from the workspace. A missing plan
// is not an error; the engine just has no queue yet.
func (e *Engine) LoadPlan() error {
	doc, err := e.store.Read(PlanPath)
	if err != nil {
		return nil
	}
	plan, err := ParsePlan(doc)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	e.mu.Lock()
	e.plan = plan
	e.mu.Unlock()
	e.broadcast()
	return nil
}

// SetPlan replaces the whole queue with a freshly generated plan
// document. Tasks are regenerated in bulk, never edited individually.
func (e *Engine) SetPlan(doc string) error {
	plan, err := ParsePlan(doc)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.plan = plan
	err = e.persistLocked()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.broadcast()
	return nil
}

// Snapshot returns the queue in stored order.
func (e *Engine) Snapshot() []Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.plan == nil {
		return []Task{}
	}
	out := make([]Task, 0, len(e.plan.Tasks))
	for _, t := range e.plan.Tasks {
		out = append(out, *t)
	}
	return out
}

// PlanProse returns the human-readable body of the current plan.
func (e *Engine) PlanProse() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.plan == nil {
		return ""
	}
	return e.plan.Prose
}

// NextRunnable returns a copy of the next selectable task, or nil.
func (e *Engine) NextRunnable() *Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.plan == nil {
		return nil
	}
	t := e.plan.NextRunnable()
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// ExecuteNext selects the next runnable task, drives it through the
// stream manager, applies the output, and runs the quality gate. It
// refuses to start while any stream is active.
func (e *Engine) ExecuteNext(ctx context.Context, caller stream.Caller, system string) (*Task, Verdict, error) {
	e.mu.Lock()
	if e.plan == nil {
		e.mu.Unlock()
		return nil, Verdict{}, ErrNoPlan
	}
	if e.streams.IsStreaming() {
		e.mu.Unlock()
		return nil, Verdict{}, ErrBusy
	}
	task := e.plan.NextRunnable()
	if task == nil {
		e.mu.Unlock()
		return nil, Verdict{}, ErrNoRunnable
	}

	prev := task.Status
	task.Status = StatusRunning
	if err := e.persistLocked(); err != nil {
		task.Status = prev
		e.mu.Unlock()
		return nil, Verdict{}, err
	}
	prompt, err := e.prompts.Build(task, e.plan)
	pool := e.plan.Tasks
	e.mu.Unlock()
	e.broadcast()
	if err != nil {
		return e.abort(task, prev, err)
	}

	if err := e.ensureScope(task.Scope); err != nil {
		return e.abort(task, prev, err)
	}

	streamID, err := e.streams.Start(stream.StartRequest{
		Messages: []provider.Message{{Role: "user", Content: prompt}},
		System:   system,
		Caller:   caller,
	})
	if err != nil {
		return e.abort(task, prev, err)
	}
	log.Printf("[Planner] task %s running on stream %s", task.ID, streamID)

	res, err := e.streams.Await(ctx, streamID)
	if err != nil {
		return e.abort(task, prev, err)
	}
	if res.Err != nil {
		return e.abort(task, prev, res.Err)
	}
	if res.Cancelled {
		return e.abort(task, prev, fmt.Errorf("stream %s cancelled", streamID))
	}

	if e.applier != nil {
		if err := e.applier.Apply(streamID, res.Content); err != nil {
			return e.abort(task, prev, err)
		}
	}

	verdict := e.validator.Validate(task, res.Content, pool, e.store.Read)

	e.mu.Lock()
	if verdict.OK {
		task.passQuality()
	} else {
		task.failQuality(verdict.Reason)
		log.Printf("[Planner] task %s failed quality gate: %s", task.ID, verdict.Reason)
	}
	persistErr := e.persistLocked()
	var nextScope string
	if verdict.OK {
		if next := e.plan.NextRunnable(); next != nil {
			nextScope = next.Scope
		}
	}
	e.mu.Unlock()
	e.broadcast()
	if persistErr != nil {
		return task, verdict, persistErr
	}

	if verdict.OK {
		summary := fmt.Sprintf("%s %s done (%s)", task.ID, task.Title, task.Scope)
		if err := e.store.AppendContinuity(summary); err != nil {
			return task, verdict, err
		}
		if nextScope != "" {
			if err := e.ensureScope(nextScope); err != nil {
				return task, verdict, err
			}
		}
	}
	return task, verdict, nil
}

// abort restores a task to its pre-execution status so a later retry
// resumes cleanly, records the error, and propagates it.
func (e *Engine) abort(task *Task, prev TaskStatus, cause error) (*Task, Verdict, error) {
	e.mu.Lock()
	task.Status = prev
	task.LastError = cause.Error()
	if err := e.persistLocked(); err != nil {
		log.Printf("[Planner] persist after abort failed: %v", err)
	}
	e.mu.Unlock()
	e.broadcast()
	return task, Verdict{}, cause
}

// ensureScope makes sure a task's target file exists, creating missing
// parent directories once.
func (e *Engine) ensureScope(rel string) error {
	if e.store.Exists(rel) {
		return nil
	}
	err := e.store.CreateFile(rel)
	if errors.Is(err, workspace.ErrNoParentDir) {
		if mkErr := e.store.CreateDir(path.Dir(rel)); mkErr != nil {
			return mkErr
		}
		err = e.store.CreateFile(rel)
	}
	return err
}

func (e *Engine) persistLocked() error {
	if e.plan == nil {
		return nil
	}
	doc, err := e.plan.Render()
	if err != nil {
		return err
	}
	return e.store.WriteEnsured(PlanPath, doc)
}

func (e *Engine) broadcast() {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(EventSnapshotQueue, e.Snapshot())
}
