// internal/git/watcher.go
package git

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"inkforge/internal/watcher"
)

// EventGitChanged is broadcast whenever the workspace repository's
// status changes.
const EventGitChanged = "git:changed"

// ChangedEvent carries the repository status after a change.
type ChangedEvent struct {
	Path   string            `json:"path"`
	Branch string            `json:"branch"`
	Status map[string]string `json:"status"`
}

// EventEmitter pushes events to connected clients.
type EventEmitter interface {
	Emit(eventName string, data interface{})
}

// Watcher watches workspace .git directories and broadcasts status
// changes, debounced.
type Watcher struct {
	watchers map[string]*watcher.Watcher
	emitter  EventEmitter
	mu       sync.RWMutex
}

func NewWatcher(emitter EventEmitter) *Watcher {
	return &Watcher{
		watchers: make(map[string]*watcher.Watcher),
		emitter:  emitter,
	}
}

// Watch starts watching a workspace's repository. Watching an already
// watched path is a no-op.
func (g *Watcher) Watch(workspacePath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.watchers[workspacePath]; exists {
		return nil
	}

	gitDir := filepath.Join(workspacePath, ".git")

	w, err := watcher.New(gitDir, 300*time.Millisecond, func(e watcher.Event) {
		g.onChange(workspacePath)
	})
	if err != nil {
		return fmt.Errorf("failed to watch git dir: %w", err)
	}

	if err := w.Start(); err != nil {
		w.Close()
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	g.watchers[workspacePath] = w

	// Broadcast the current status right away.
	go g.onChange(workspacePath)

	return nil
}

// Unwatch stops watching a workspace.
func (g *Watcher) Unwatch(workspacePath string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if w, exists := g.watchers[workspacePath]; exists {
		w.Close()
		delete(g.watchers, workspacePath)
	}
}

// Close stops all watchers.
func (g *Watcher) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, w := range g.watchers {
		w.Close()
	}
	g.watchers = make(map[string]*watcher.Watcher)
}

func (g *Watcher) onChange(workspacePath string) {
	if g.emitter == nil {
		return
	}
	g.emitter.Emit(EventGitChanged, g.currentStatus(workspacePath))
}

func (g *Watcher) currentStatus(workspacePath string) ChangedEvent {
	event := ChangedEvent{
		Path:   workspacePath,
		Status: make(map[string]string),
	}

	repo, err := Open(workspacePath)
	if err != nil {
		return event
	}
	if branch, err := repo.CurrentBranch(); err == nil {
		event.Branch = branch
	}
	status, err := repo.Status()
	if err != nil {
		return event
	}
	for _, fs := range status.Staged {
		event.Status[fs.Path] = fs.Status
	}
	for _, fs := range status.Modified {
		event.Status[fs.Path] = fs.Status
	}
	for _, fs := range status.Untracked {
		event.Status[fs.Path] = fs.Status
	}
	return event
}
