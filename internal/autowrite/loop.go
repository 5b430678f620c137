// internal/autowrite/loop.go
package autowrite

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"inkforge/internal/planner"
	"inkforge/internal/stream"
	"inkforge/internal/workspace"
)

// Status strings reported by the loop. Stalled and blocked are routine
// steady states, not errors.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusExhausted Status = "exhausted"
	StatusBlocked   Status = "blocked"
	StatusStalled   Status = "stalled"
	StatusStopped   Status = "stopped"
	StatusMaxRounds Status = "max_rounds"
	StatusFailed    Status = "failed"
)

// Event names emitted by the loop.
const (
	EventRound  = "autowrite:round"
	EventStatus = "autowrite:status"
)

type RoundEvent struct {
	Round   int    `json:"round"`
	TaskID  string `json:"taskId,omitempty"`
	Passed  bool   `json:"passed"`
	Chars   int    `json:"chars"`
	Growth  int    `json:"growth"`
	Message string `json:"message,omitempty"`
}

type StatusEvent struct {
	Status    Status `json:"status"`
	Rounds    int    `json:"rounds"`
	Chars     int    `json:"chars"`
	LastError string `json:"lastError,omitempty"`
}

// Snapshotter commits the workspace after an applied round. git.Repo
// satisfies it; a nil snapshotter disables snapshots.
type Snapshotter interface {
	Snapshot(label string) (string, error)
}

// EventEmitter pushes events to connected clients.
type EventEmitter interface {
	Emit(eventName string, data interface{})
}

// Options configure one auto-write run.
type Options struct {
	Caller      stream.Caller
	System      string
	ScopeDir    string // directory whose character count is the target metric; "" = whole workspace
	TargetChars int    // 0 = run until the queue is exhausted
	MaxRounds   int
}

const (
	defaultSettleDelay  = 2 * time.Second
	defaultMaxRounds    = 120
	stallGrowthFloor    = 120
	stallRoundThreshold = 2
)

// Loop repeatedly drives the planner until a target length is reached,
// the queue is exhausted or blocked, progress stalls, a stop is
// requested, or an error aborts the run.
type Loop struct {
	mu sync.Mutex

	engine  *planner.Engine
	streams *stream.Manager
	store   *workspace.Store
	emitter EventEmitter
	tracer  trace.Tracer

	settleDelay time.Duration
	snapshots   Snapshotter

	running   bool
	stopping  bool
	stop      chan struct{}
	status    Status
	rounds    int
	chars     int
	lastError string
}

func NewLoop(engine *planner.Engine, streams *stream.Manager, store *workspace.Store, emitter EventEmitter) *Loop {
	return &Loop{
		engine:      engine,
		streams:     streams,
		store:       store,
		emitter:     emitter,
		tracer:      otel.Tracer("inkforge/autowrite"),
		settleDelay: defaultSettleDelay,
		status:      StatusIdle,
	}
}

// SetSnapshotter enables a workspace commit after every applied round.
func (l *Loop) SetSnapshotter(s Snapshotter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots = s
}

// SetSettleDelay overrides the pause between rounds.
func (l *Loop) SetSettleDelay(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d > 0 {
		l.settleDelay = d
	}
}

// Start begins an auto-write run. It refuses to start while a run is
// already in progress or any stream is active.
func (l *Loop) Start(ctx context.Context, opts Options) error {
	if opts.Caller == nil {
		return fmt.Errorf("autowrite: no provider")
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = defaultMaxRounds
	}

	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("autowrite: already running")
	}
	if l.streams.IsStreaming() {
		l.mu.Unlock()
		return fmt.Errorf("autowrite: a stream is already active")
	}
	l.running = true
	l.stopping = false
	l.stop = make(chan struct{})
	l.status = StatusRunning
	l.rounds = 0
	l.lastError = ""
	l.mu.Unlock()

	go l.run(ctx, opts)
	return nil
}

// Stop requests a graceful stop after the current round.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running && !l.stopping {
		l.stopping = true
		close(l.stop)
	}
}

// Report returns the loop's current status.
func (l *Loop) Report() StatusEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return StatusEvent{Status: l.status, Rounds: l.rounds, Chars: l.chars, LastError: l.lastError}
}

func (l *Loop) run(ctx context.Context, opts Options) {
	final := StatusCompleted
	defer func() {
		l.mu.Lock()
		l.running = false
		l.status = final
		report := StatusEvent{Status: l.status, Rounds: l.rounds, Chars: l.chars, LastError: l.lastError}
		l.mu.Unlock()
		l.emit(EventStatus, report)
		log.Printf("[AutoWrite] run finished: %s after %d rounds", report.Status, report.Rounds)
	}()

	stallCount := 0
	prevChars := -1

	for round := 1; ; round++ {
		select {
		case <-l.stopChan():
			final = StatusStopped
			return
		case <-ctx.Done():
			final = StatusStopped
			return
		default:
		}

		if round > opts.MaxRounds {
			final = StatusMaxRounds
			return
		}

		chars, err := l.store.TotalChars(opts.ScopeDir)
		if err != nil {
			l.fail(err)
			final = StatusFailed
			return
		}
		l.setChars(chars)

		if opts.TargetChars > 0 && chars >= opts.TargetChars {
			final = StatusCompleted
			return
		}

		// Stall detection: consecutive rounds with negligible growth.
		growth := 0
		if prevChars >= 0 {
			growth = chars - prevChars
			if growth < stallGrowthFloor {
				stallCount++
			} else {
				stallCount = 0
			}
			if stallCount >= stallRoundThreshold {
				final = StatusStalled
				return
			}
		}
		prevChars = chars

		passed, taskID, msg, done, status := l.round(ctx, opts, round, chars)
		if done {
			final = status
			return
		}

		l.mu.Lock()
		l.rounds = round
		l.mu.Unlock()
		l.emit(EventRound, RoundEvent{
			Round:   round,
			TaskID:  taskID,
			Passed:  passed,
			Chars:   chars,
			Growth:  growth,
			Message: msg,
		})

		// Let file-system state settle before re-reading counts.
		select {
		case <-time.After(l.delay()):
		case <-l.stopChan():
			final = StatusStopped
			return
		case <-ctx.Done():
			final = StatusStopped
			return
		}
	}
}

// round executes one planner task inside a span. done=true carries a
// terminal status for the whole run.
func (l *Loop) round(ctx context.Context, opts Options, n, chars int) (passed bool, taskID, msg string, done bool, status Status) {
	roundCtx, span := l.tracer.Start(ctx, "autowrite.round",
		trace.WithAttributes(
			attribute.Int("autowrite.round", n),
			attribute.Int("autowrite.chars", chars),
		))
	defer span.End()

	task, verdict, err := l.engine.ExecuteNext(roundCtx, opts.Caller, opts.System)
	switch {
	case errors.Is(err, planner.ErrNoRunnable):
		if l.queueBlocked() {
			return false, "", "", true, StatusBlocked
		}
		return false, "", "", true, StatusExhausted
	case errors.Is(err, planner.ErrBusy):
		// Another stream slipped in; settle and try again next round.
		return false, "", "stream busy", false, ""
	case err != nil:
		span.RecordError(err)
		l.fail(err)
		return false, "", "", true, StatusFailed
	}

	span.SetAttributes(
		attribute.String("autowrite.task", task.ID),
		attribute.Bool("autowrite.passed", verdict.OK),
	)
	if !verdict.OK {
		return false, task.ID, verdict.Reason, false, ""
	}

	l.mu.Lock()
	snap := l.snapshots
	l.mu.Unlock()
	if snap != nil {
		if _, err := snap.Snapshot(fmt.Sprintf("auto-write round %d", n)); err != nil {
			log.Printf("[AutoWrite] snapshot after round %d failed: %v", n, err)
		}
	}
	return true, task.ID, "", false, ""
}

// queueBlocked reports whether any task is in the blocked state.
func (l *Loop) queueBlocked() bool {
	for _, t := range l.engine.Snapshot() {
		if t.Status == planner.StatusBlocked {
			return true
		}
	}
	return false
}

func (l *Loop) fail(err error) {
	l.mu.Lock()
	l.lastError = err.Error()
	l.mu.Unlock()
	log.Printf("[AutoWrite] round aborted: %v", err)
}

func (l *Loop) setChars(n int) {
	l.mu.Lock()
	l.chars = n
	l.mu.Unlock()
}

func (l *Loop) stopChan() chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stop
}

func (l *Loop) delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settleDelay
}

func (l *Loop) emit(name string, data interface{}) {
	if l.emitter != nil {
		l.emitter.Emit(name, data)
	}
}
