package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"inkforge/internal/agents"
	"inkforge/internal/autowrite"
	"inkforge/internal/changeset"
	"inkforge/internal/config"
	"inkforge/internal/database"
	"inkforge/internal/eventhub"
	"inkforge/internal/git"
	"inkforge/internal/modparser"
	"inkforge/internal/planner"
	"inkforge/internal/provider"
	"inkforge/internal/stream"
	"inkforge/internal/transcript"
	"inkforge/internal/watcher"
	"inkforge/internal/workspace"
)

// App owns all managers and is the RPC surface the websocket router
// dispatches into (bindings.go).
type App struct {
	ctx    context.Context
	mu     sync.RWMutex
	config *config.Config

	db          *database.Database
	eventHub    *eventhub.EventHub
	transcripts *transcript.Store
	agentStore  *agents.Store
	streams     *stream.Manager
	gitWatcher  *git.Watcher

	// Per-workspace managers, rebuilt by SetWorkspace.
	workspace   *workspace.Store
	fileWatcher *watcher.Watcher
	changeSets  *changeset.Manager
	planner     *planner.Engine
	autoWriter  *autowrite.Loop

	// turns maps stream IDs and version group IDs to the transcript
	// messages they belong to, so completion handling, version cycling
	// and rollback can find their way back.
	turnsMu sync.Mutex
	turns   map[string]*turnRef
}

// turnRef binds one in-flight or settled exchange to its transcript.
type turnRef struct {
	SessionID          string
	UserMessageID      string
	AssistantMessageID string
	VersionGroupID     string
	Mode               string
	HideEcho           bool
}

func NewApp() *App {
	return &App{
		turns: make(map[string]*turnRef),
	}
}

// Startup initializes the workspace-independent managers.
func (a *App) Startup(ctx context.Context) error {
	a.ctx = ctx

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.config = cfg

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db

	a.transcripts, err = transcript.NewStore(cfg.TranscriptsDir)
	if err != nil {
		return fmt.Errorf("failed to open transcript store: %w", err)
	}

	a.agentStore, err = agents.NewStore(cfg.AgentsDir)
	if err != nil {
		return fmt.Errorf("failed to open agent store: %w", err)
	}
	if err := a.agentStore.SeedDefaults(); err != nil {
		log.Printf("[App] failed to seed default agents: %v", err)
	}

	a.eventHub = eventhub.New(ctx)

	a.streams = stream.NewManager(a.eventHub)
	a.streams.OnComplete = a.onStreamComplete

	a.gitWatcher = git.NewWatcher(a.eventHub)

	log.Printf("[App] inkforge started")
	return nil
}

// Shutdown stops watchers and closes stores.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.autoWriter != nil {
		a.autoWriter.Stop()
	}
	if a.fileWatcher != nil {
		a.fileWatcher.Close()
	}
	if a.gitWatcher != nil {
		a.gitWatcher.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	log.Printf("[App] inkforge shutdown complete")
}

// SetEventHubBroadcaster attaches the websocket server as the event sink.
func (a *App) SetEventHubBroadcaster(b eventhub.Broadcaster) {
	if a.eventHub != nil {
		a.eventHub.SetBroadcaster(b)
	}
}

// SetWorkspace points the app at a manuscript directory and rebuilds
// the workspace-scoped managers around it.
func (a *App) SetWorkspace(root string) error {
	store, err := workspace.NewStore(root)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.autoWriter != nil {
		a.autoWriter.Stop()
	}
	if a.fileWatcher != nil {
		a.fileWatcher.Close()
		a.fileWatcher = nil
	}

	a.workspace = store

	backups := changeset.NewBackupStore(filepath.Join(a.config.InkforgeDir, "backups"), 3)
	a.changeSets = changeset.NewManager(store, backups, a.eventHub)

	a.planner = planner.NewEngine(store, a.streams, a.eventHub)
	a.planner.SetApplier(&taskApplier{app: a})
	if err := a.planner.LoadPlan(); err != nil {
		log.Printf("[App] failed to load plan: %v", err)
	}

	a.autoWriter = autowrite.NewLoop(a.planner, a.streams, store, a.eventHub)
	if repo, err := git.Open(root); err == nil {
		a.autoWriter.SetSnapshotter(repo)
	}

	fw, err := watcher.New(root, 300*time.Millisecond, func(ev watcher.Event) {
		a.eventHub.EmitFileChanged(ev.Path, string(ev.Type))
	})
	if err != nil {
		log.Printf("[App] failed to watch workspace: %v", err)
	} else if err := fw.Start(); err != nil {
		log.Printf("[App] failed to start workspace watcher: %v", err)
		fw.Close()
	} else {
		a.fileWatcher = fw
	}
	a.mu.Unlock()

	a.eventHub.EmitWorkspaceChanged(root)
	log.Printf("[App] workspace set to %s", root)
	return nil
}

func (a *App) workspaceStore() (*workspace.Store, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.workspace == nil {
		return nil, fmt.Errorf("no workspace selected")
	}
	return a.workspace, nil
}

func (a *App) changeSetManager() (*changeset.Manager, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.changeSets == nil {
		return nil, fmt.Errorf("no workspace selected")
	}
	return a.changeSets, nil
}

func (a *App) plannerEngine() (*planner.Engine, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.planner == nil {
		return nil, fmt.Errorf("no workspace selected")
	}
	return a.planner, nil
}

// activeCaller resolves the active provider config into a streaming
// caller. API keys come from the database; the provider falls back to
// environment variables when the stored key is empty.
func (a *App) activeCaller() (stream.Caller, error) {
	cfg, err := a.db.GetActiveProvider()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("no active provider configured")
	}
	return provider.New(provider.Config{
		ID:          cfg.ID,
		Kind:        cfg.Kind,
		Name:        cfg.Name,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
}

// onStreamComplete runs after every successful stream settlement. It
// persists the assistant message, extracts file edit tags into pending
// ChangeSets, and records the exchange on the rollback stack.
func (a *App) onStreamComplete(streamID, versionGroupID, content string, cancelled bool) {
	a.turnsMu.Lock()
	ref := a.turns[streamID]
	a.turnsMu.Unlock()
	if ref == nil {
		// planner-driven stream; the queue engine owns the outcome
		return
	}

	msg, err := a.transcripts.Append(ref.SessionID, transcript.Message{
		ID:             ref.AssistantMessageID,
		Role:           "assistant",
		Content:        content,
		StreamID:       streamID,
		VersionGroupID: versionGroupID,
	})
	if err != nil {
		log.Printf("[App] failed to persist assistant message: %v", err)
	}
	ref.AssistantMessageID = msg.ID

	a.turnsMu.Lock()
	a.turns[versionGroupID] = ref
	a.turnsMu.Unlock()

	if cancelled {
		return
	}

	var changeSetIDs []string
	ws, wsErr := a.workspaceStore()
	cm, cmErr := a.changeSetManager()
	if wsErr == nil && cmErr == nil {
		edits, err := modparser.Parse(content, ws.Read)
		if err != nil {
			log.Printf("[App] failed to parse file edits: %v", err)
		}
		for _, edit := range edits {
			snap, err := cm.ProposeModifications(edit.Path, edit.Original, edit.Modifications, edit.Stats, streamID)
			if err != nil {
				log.Printf("[App] failed to propose changeset for %s: %v", edit.Path, err)
				continue
			}
			changeSetIDs = append(changeSetIDs, snap.ID)
		}
		if len(changeSetIDs) > 0 {
			a.streams.Versions.AttachChangeSet(versionGroupID, content, changeSetIDs[0])
		}
	}

	if cmErr == nil {
		cm.PushTurn(changeset.Turn{
			UserMessageID:      ref.UserMessageID,
			AssistantMessageID: ref.AssistantMessageID,
			StreamID:           streamID,
			ChangeSetIDs:       changeSetIDs,
		})
	}

	// a reply in plan mode that carries a plan header replaces the queue
	if ref.Mode == database.ModePlan {
		if eng, err := a.plannerEngine(); err == nil && planner.HasHeader(content) {
			if err := eng.SetPlan(content); err != nil {
				log.Printf("[App] plan reply did not parse: %v", err)
			}
		}
	}
}

// taskApplier writes planner-generated prose into the running task's
// scope file. Edits arriving as file_edit tags are applied through the
// changeset manager instead, auto-accepted.
type taskApplier struct {
	app *App
}

func (ap *taskApplier) Apply(streamID, content string) error {
	ws, err := ap.app.workspaceStore()
	if err != nil {
		return err
	}

	if edits, err := modparser.Parse(content, ws.Read); err == nil && len(edits) > 0 {
		cm, err := ap.app.changeSetManager()
		if err != nil {
			return err
		}
		for _, edit := range edits {
			snap, err := cm.ProposeModifications(edit.Path, edit.Original, edit.Modifications, edit.Stats, streamID)
			if err != nil {
				return err
			}
			if _, err := cm.AcceptAll(snap.ID); err != nil {
				return err
			}
		}
		return nil
	}

	eng, err := ap.app.plannerEngine()
	if err != nil {
		return err
	}
	var running *planner.Task
	for _, t := range eng.Snapshot() {
		if t.Status == planner.StatusRunning {
			cp := t
			running = &cp
			break
		}
	}
	if running == nil {
		return fmt.Errorf("no running task for stream %s", streamID)
	}

	body := stripTaskDone(content)
	existing, err := ws.Read(running.Scope)
	if err != nil {
		existing = ""
	}
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		existing += "\n"
	}
	if err := ws.WriteEnsured(running.Scope, existing+body); err != nil {
		return err
	}
	if _, _, err := ws.UpdateConcept(running.Scope); err != nil {
		log.Printf("[App] failed to update concept index for %s: %v", running.Scope, err)
	}
	return nil
}

// stripTaskDone removes the trailing completion tag line from generated
// prose before it lands in the manuscript.
func stripTaskDone(content string) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for len(lines) > 0 {
		last := strings.TrimSpace(lines[len(lines)-1])
		if last == "" || strings.HasPrefix(last, "TASK_DONE:") {
			lines = lines[:len(lines)-1]
			continue
		}
		break
	}
	return strings.Join(lines, "\n") + "\n"
}
