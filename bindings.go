package main

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"inkforge/internal/agents"
	"inkforge/internal/analysis"
	"inkforge/internal/autowrite"
	"inkforge/internal/changeset"
	"inkforge/internal/database"
	"inkforge/internal/git"
	"inkforge/internal/planner"
	"inkforge/internal/provider"
	"inkforge/internal/stream"
	"inkforge/internal/transcript"
	"inkforge/internal/workspace"
)

// This file is the RPC surface: every exported method here is callable
// from the frontend by name through the websocket router.

// ---- Workspace ----

func (a *App) GetWorkspace() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.workspace == nil {
		return ""
	}
	return a.workspace.Root()
}

func (a *App) ReadFile(rel string) (string, error) {
	ws, err := a.workspaceStore()
	if err != nil {
		return "", err
	}
	return ws.Read(rel)
}

func (a *App) WriteFile(rel, content string) error {
	ws, err := a.workspaceStore()
	if err != nil {
		return err
	}
	if err := ws.Write(rel, content); err != nil {
		return err
	}
	if _, _, err := ws.UpdateConcept(rel); err != nil {
		log.Printf("[App] failed to update concept index for %s: %v", rel, err)
	}
	return nil
}

func (a *App) CreateFile(rel string) error {
	ws, err := a.workspaceStore()
	if err != nil {
		return err
	}
	return ws.CreateFile(rel)
}

func (a *App) CreateDir(rel string) error {
	ws, err := a.workspaceStore()
	if err != nil {
		return err
	}
	return ws.CreateDir(rel)
}

func (a *App) DeletePath(rel string) error {
	ws, err := a.workspaceStore()
	if err != nil {
		return err
	}
	if err := ws.Delete(rel); err != nil {
		return err
	}
	if err := ws.RemoveConcept(rel); err != nil {
		log.Printf("[App] failed to drop concept entry for %s: %v", rel, err)
	}
	return nil
}

func (a *App) RenamePath(oldRel, newRel string) error {
	ws, err := a.workspaceStore()
	if err != nil {
		return err
	}
	return ws.Rename(oldRel, newRel)
}

func (a *App) FileTree(maxDepth int) ([]*workspace.Node, error) {
	ws, err := a.workspaceStore()
	if err != nil {
		return nil, err
	}
	return ws.Tree(maxDepth)
}

func (a *App) ListDir(rel string) ([]*workspace.Node, error) {
	ws, err := a.workspaceStore()
	if err != nil {
		return nil, err
	}
	return ws.List(rel)
}

func (a *App) TotalChars(rel string) (int, error) {
	ws, err := a.workspaceStore()
	if err != nil {
		return 0, err
	}
	return ws.TotalChars(rel)
}

func (a *App) ConceptIndex() (map[string]workspace.ConceptEntry, error) {
	ws, err := a.workspaceStore()
	if err != nil {
		return nil, err
	}
	return ws.ConceptIndex()
}

func (a *App) Continuity() (string, error) {
	ws, err := a.workspaceStore()
	if err != nil {
		return "", err
	}
	return ws.Continuity()
}

func (a *App) AppendContinuity(entry string) error {
	ws, err := a.workspaceStore()
	if err != nil {
		return err
	}
	return ws.AppendContinuity(entry)
}

// ---- Book analysis ----

// AnalyzeBook derives the chapter layout, pacing and recurring
// character names of a manuscript file. The character roster lands in
// the continuity log so later turns can draw on it.
func (a *App) AnalyzeBook(rel string) (*analysis.Book, error) {
	ws, err := a.workspaceStore()
	if err != nil {
		return nil, err
	}
	content, err := ws.Read(rel)
	if err != nil {
		return nil, err
	}

	book := analysis.Analyze(content, bookTitle(rel))

	if len(book.Characters) > 0 {
		names := make([]string, 0, len(book.Characters))
		for _, c := range book.Characters {
			names = append(names, fmt.Sprintf("%s (%d)", c.Name, c.Mentions))
		}
		entry := fmt.Sprintf("Analyzed %s: %d chapters, %d chars, %s. Characters: %s",
			rel, len(book.Chapters), book.TotalChars, book.Structure, strings.Join(names, ", "))
		if err := ws.AppendContinuity(entry); err != nil {
			log.Printf("[App] failed to log analysis of %s: %v", rel, err)
		}
	}
	if _, _, err := ws.UpdateConcept(rel); err != nil {
		log.Printf("[App] failed to index %s: %v", rel, err)
	}
	return book, nil
}

// SplitBook partitions a manuscript into chapter files of roughly
// targetChars each under outDir and returns the created paths. Every
// chapter file is registered in the concept index.
func (a *App) SplitBook(rel, outDir string, targetChars int) ([]string, error) {
	ws, err := a.workspaceStore()
	if err != nil {
		return nil, err
	}
	content, err := ws.Read(rel)
	if err != nil {
		return nil, err
	}

	res := analysis.Split(content, bookTitle(rel), targetChars)
	if len(res.Chapters) == 0 {
		return nil, fmt.Errorf("split %s: nothing to split", rel)
	}

	paths := make([]string, 0, len(res.Chapters))
	for _, c := range res.Chapters {
		path := filepath.Join(outDir, fmt.Sprintf("chapter-%02d.md", c.Index))
		if err := ws.WriteEnsured(path, c.Content); err != nil {
			return paths, err
		}
		if _, _, err := ws.UpdateConcept(path); err != nil {
			log.Printf("[App] failed to index %s: %v", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func bookTitle(rel string) string {
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ---- Chat sessions ----

func (a *App) CreateSession(title string) (transcript.SessionMeta, error) {
	return a.transcripts.CreateSession(title)
}

func (a *App) ListSessions() ([]transcript.SessionMeta, error) {
	return a.transcripts.Sessions()
}

func (a *App) SessionMessages(sessionID string) ([]transcript.Message, error) {
	return a.transcripts.Messages(sessionID)
}

func (a *App) DeleteSession(sessionID string) error {
	return a.transcripts.DeleteSession(sessionID)
}

// ---- Turns and streams ----

// SendTurn starts a model turn for a chat session and returns the
// stream ID, or "" when a reused user message no longer exists.
// Recognized option keys: skipModeWrapping, reuseUserMessageID,
// hideEcho, versionGroupID, agentID.
func (a *App) SendTurn(sessionID, text string, opts map[string]interface{}) (string, error) {
	skipWrap, _ := opts["skipModeWrapping"].(bool)
	hideEcho, _ := opts["hideEcho"].(bool)
	reuseUserMessageID, _ := opts["reuseUserMessageID"].(string)
	versionGroupID, _ := opts["versionGroupID"].(string)
	agentID, _ := opts["agentID"].(string)

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("send turn: empty message")
	}
	if a.streams.IsStreaming() {
		return "", fmt.Errorf("send turn: a stream is already running")
	}

	state, err := a.db.GetSessionState(sessionID)
	if err != nil {
		return "", err
	}

	caller, err := a.activeCaller()
	if err != nil {
		return "", err
	}

	system := ""
	if agentID == "" {
		agentID = "general"
	}
	if agent, err := a.agentStore.Get(agentID); err == nil {
		system = agent.SystemPrompt
	}

	prompt := text
	if !skipWrap {
		prompt = a.wrapTurn(state.Mode, text)
	}

	userMessageID := reuseUserMessageID
	if userMessageID != "" {
		if !a.transcripts.MessageExists(sessionID, userMessageID) {
			return "", nil
		}
	} else {
		msg, err := a.transcripts.Append(sessionID, transcript.Message{
			ID:      uuid.New().String(),
			Role:    "user",
			Content: text,
		})
		if err != nil {
			return "", err
		}
		userMessageID = msg.ID
	}

	messages, err := a.conversation(sessionID, prompt)
	if err != nil {
		return "", err
	}

	assistantMessageID := uuid.New().String()
	streamID, err := a.streams.Start(stream.StartRequest{
		AssistantMessageID: assistantMessageID,
		VersionGroupID:     versionGroupID,
		Messages:           messages,
		System:             system,
		Caller:             caller,
	})
	if err != nil {
		return "", err
	}

	a.turnsMu.Lock()
	a.turns[streamID] = &turnRef{
		SessionID:          sessionID,
		UserMessageID:      userMessageID,
		AssistantMessageID: assistantMessageID,
		VersionGroupID:     versionGroupID,
		Mode:               state.Mode,
		HideEcho:           hideEcho,
	}
	a.turnsMu.Unlock()

	return streamID, nil
}

// conversation builds the model context from the session transcript,
// replacing the trailing user message with the wrapped prompt.
func (a *App) conversation(sessionID, prompt string) ([]provider.Message, error) {
	history, err := a.transcripts.Messages(sessionID)
	if err != nil {
		return nil, err
	}

	const contextWindow = 40
	if len(history) > contextWindow {
		history = history[len(history)-contextWindow:]
	}

	var messages []provider.Message
	for _, msg := range history {
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		if msg.Content == "" {
			continue
		}
		messages = append(messages, provider.Message{Role: msg.Role, Content: msg.Content})
	}
	// the wrapped prompt replaces the raw trailing user message
	if n := len(messages); n > 0 && messages[n-1].Role == "user" {
		messages[n-1].Content = prompt
	} else {
		messages = append(messages, provider.Message{Role: "user", Content: prompt})
	}
	return messages, nil
}

// wrapTurn prefixes the user text with mode instructions. Normal mode
// passes text through untouched.
func (a *App) wrapTurn(mode, text string) string {
	switch mode {
	case database.ModePlan:
		var sb strings.Builder
		sb.WriteString("You are planning a long-form novel. Reply with a complete plan document: ")
		sb.WriteString("a `<!--inkforge:plan` YAML header listing every task (id, title, status, ")
		sb.WriteString("priority, depends_on, target_words, scope) closed by `-->`, followed by ")
		sb.WriteString("the plan prose.\n\n")
		if ws, err := a.workspaceStore(); err == nil {
			if cfg, err := planner.LoadStoryConfig(ws); err == nil {
				if doc, err := yaml.Marshal(cfg); err == nil {
					sb.WriteString("## Story parameters\n```yaml\n")
					sb.Write(doc)
					sb.WriteString("```\n\n")
				}
			}
		}
		sb.WriteString(text)
		return sb.String()
	case database.ModeSpec:
		return "You are refining the story specification (premise, style, structure, themes). " +
			"Discuss and propose concrete parameter values; when asked to finalize, reply with " +
			"the full story config as YAML.\n\n" + text
	default:
		return text
	}
}

func (a *App) CancelStream(streamID string) error {
	return a.streams.Cancel(streamID)
}

func (a *App) IsStreaming() bool {
	return a.streams.IsStreaming()
}

// VersionInfo is the RPC shape of one recorded reply version.
type VersionInfo struct {
	Content     string `json:"content"`
	ChangeSetID string `json:"changeSetId"`
	Cancelled   bool   `json:"cancelled"`
	Index       int    `json:"index"`
	Total       int    `json:"total"`
}

// CycleVersion moves through a group's recorded reply versions and
// rewrites the assistant message to the selected one.
func (a *App) CycleVersion(versionGroupID string, delta int) (*VersionInfo, error) {
	v, idx, err := a.streams.Versions.Cycle(versionGroupID, delta)
	if err != nil {
		return nil, err
	}
	total := len(a.streams.Versions.Versions(versionGroupID))

	a.turnsMu.Lock()
	ref := a.turns[versionGroupID]
	a.turnsMu.Unlock()
	if ref != nil {
		if err := a.transcripts.UpdateContent(ref.SessionID, ref.AssistantMessageID, v.Content); err != nil {
			log.Printf("[App] failed to rewrite assistant message for version cycle: %v", err)
		}
	}

	return &VersionInfo{
		Content:     v.Content,
		ChangeSetID: v.ChangeSetID,
		Cancelled:   v.Cancelled,
		Index:       idx,
		Total:       total,
	}, nil
}

func (a *App) ListVersions(versionGroupID string) []stream.Version {
	return a.streams.Versions.Versions(versionGroupID)
}

// ---- ChangeSets ----

func (a *App) ListChangeSets() ([]changeset.Snapshot, error) {
	cm, err := a.changeSetManager()
	if err != nil {
		return nil, err
	}
	return cm.List(), nil
}

func (a *App) GetChangeSet(changeSetID string) (*changeset.Snapshot, error) {
	cm, err := a.changeSetManager()
	if err != nil {
		return nil, err
	}
	return cm.Get(changeSetID)
}

func (a *App) AcceptModification(changeSetID, modificationID string) (*changeset.Snapshot, error) {
	cm, err := a.changeSetManager()
	if err != nil {
		return nil, err
	}
	return cm.Accept(changeSetID, modificationID)
}

func (a *App) RejectModification(changeSetID, modificationID string) (*changeset.Snapshot, error) {
	cm, err := a.changeSetManager()
	if err != nil {
		return nil, err
	}
	return cm.Reject(changeSetID, modificationID)
}

func (a *App) UndoModification(changeSetID, modificationID string) (*changeset.Snapshot, error) {
	cm, err := a.changeSetManager()
	if err != nil {
		return nil, err
	}
	return cm.Undo(changeSetID, modificationID)
}

func (a *App) AcceptAllModifications(changeSetID string) (*changeset.Snapshot, error) {
	cm, err := a.changeSetManager()
	if err != nil {
		return nil, err
	}
	return cm.AcceptAll(changeSetID)
}

func (a *App) RejectAllModifications(changeSetID string) (*changeset.Snapshot, error) {
	cm, err := a.changeSetManager()
	if err != nil {
		return nil, err
	}
	return cm.RejectAll(changeSetID)
}

// RollbackLastTurn reverses the most recent exchange whose messages
// still exist: its changesets are rejected and its messages removed.
func (a *App) RollbackLastTurn(sessionID string) (*changeset.Turn, error) {
	cm, err := a.changeSetManager()
	if err != nil {
		return nil, err
	}
	turn, err := cm.RollbackLastTurn(func(messageID string) bool {
		return a.transcripts.MessageExists(sessionID, messageID)
	})
	if err != nil {
		return nil, err
	}
	if err := a.transcripts.Delete(sessionID, turn.UserMessageID, turn.AssistantMessageID); err != nil {
		return turn, fmt.Errorf("changesets reversed but messages not removed: %w", err)
	}
	return turn, nil
}

// ---- Plan and queue ----

func (a *App) QueueSnapshot() ([]planner.Task, error) {
	eng, err := a.plannerEngine()
	if err != nil {
		return nil, err
	}
	return eng.Snapshot(), nil
}

func (a *App) PlanDocument() (string, error) {
	ws, err := a.workspaceStore()
	if err != nil {
		return "", err
	}
	return ws.Read(planner.PlanPath)
}

func (a *App) SetPlanDocument(doc string) error {
	eng, err := a.plannerEngine()
	if err != nil {
		return err
	}
	return eng.SetPlan(doc)
}

// RegeneratePlan asks the model for a fresh plan document built from
// the story config and replaces the queue with it.
func (a *App) RegeneratePlan(sessionID, instructions string) error {
	eng, err := a.plannerEngine()
	if err != nil {
		return err
	}
	if a.streams.IsStreaming() {
		return fmt.Errorf("regenerate plan: a stream is already running")
	}
	caller, err := a.activeCaller()
	if err != nil {
		return err
	}

	if instructions == "" {
		instructions = "Regenerate the complete task plan for this story."
	}
	prompt := a.wrapTurn(database.ModePlan, instructions)

	streamID, err := a.streams.Start(stream.StartRequest{
		Messages: []provider.Message{{Role: "user", Content: prompt}},
		Caller:   caller,
	})
	if err != nil {
		return err
	}
	res, err := a.streams.Await(a.ctx, streamID)
	if err != nil {
		return err
	}
	if res.Err != nil {
		return res.Err
	}
	if res.Cancelled {
		return fmt.Errorf("plan generation cancelled")
	}
	if !planner.HasHeader(res.Content) {
		return fmt.Errorf("plan reply carries no plan header")
	}
	return eng.SetPlan(res.Content)
}

// RunNextTask executes one queue round. Normal mode never runs tasks.
func (a *App) RunNextTask(sessionID string) (*planner.Task, error) {
	state, err := a.db.GetSessionState(sessionID)
	if err != nil {
		return nil, err
	}
	if state.Mode == database.ModeNormal {
		return nil, fmt.Errorf("session %s is in normal mode; switch to plan or spec mode to run tasks", sessionID)
	}

	eng, err := a.plannerEngine()
	if err != nil {
		return nil, err
	}
	caller, err := a.activeCaller()
	if err != nil {
		return nil, err
	}
	system := ""
	if agent, err := a.agentStore.Get("prose"); err == nil {
		system = agent.SystemPrompt
	}

	task, verdict, err := eng.ExecuteNext(a.ctx, caller, system)
	if err != nil {
		return task, err
	}
	if task != nil {
		state.CurrentTaskID = task.ID
		if !verdict.OK {
			state.LastError = verdict.Reason
		} else {
			state.LastError = ""
		}
		if err := a.db.SaveSessionState(state); err != nil {
			log.Printf("[App] failed to persist session state: %v", err)
		}
	}
	return task, nil
}

// ---- Auto-write ----

func (a *App) StartAutoWrite(sessionID, scopeDir string, targetChars, maxRounds int) error {
	a.mu.RLock()
	loop := a.autoWriter
	a.mu.RUnlock()
	if loop == nil {
		return fmt.Errorf("no workspace selected")
	}

	state, err := a.db.GetSessionState(sessionID)
	if err != nil {
		return err
	}
	if state.Mode == database.ModeNormal {
		return fmt.Errorf("session %s is in normal mode; switch to plan or spec mode for auto-write", sessionID)
	}

	caller, err := a.activeCaller()
	if err != nil {
		return err
	}
	system := ""
	if agent, err := a.agentStore.Get("prose"); err == nil {
		system = agent.SystemPrompt
	}

	if err := loop.Start(a.ctx, autowrite.Options{
		Caller:      caller,
		System:      system,
		ScopeDir:    scopeDir,
		TargetChars: targetChars,
		MaxRounds:   maxRounds,
	}); err != nil {
		return err
	}

	state.AutoRun = true
	if err := a.db.SaveSessionState(state); err != nil {
		log.Printf("[App] failed to persist session state: %v", err)
	}
	return nil
}

func (a *App) StopAutoWrite(sessionID string) error {
	a.mu.RLock()
	loop := a.autoWriter
	a.mu.RUnlock()
	if loop == nil {
		return fmt.Errorf("no workspace selected")
	}
	loop.Stop()

	state, err := a.db.GetSessionState(sessionID)
	if err != nil {
		return err
	}
	state.AutoRun = false
	return a.db.SaveSessionState(state)
}

func (a *App) AutoWriteStatus() (autowrite.StatusEvent, error) {
	a.mu.RLock()
	loop := a.autoWriter
	a.mu.RUnlock()
	if loop == nil {
		return autowrite.StatusEvent{}, fmt.Errorf("no workspace selected")
	}
	return loop.Report(), nil
}

// ---- Session state ----

func (a *App) GetSessionState(sessionID string) (*database.SessionState, error) {
	return a.db.GetSessionState(sessionID)
}

func (a *App) SaveSessionState(sessionID, mode, currentTaskID string, autoRun bool) error {
	return a.db.SaveSessionState(&database.SessionState{
		SessionID:     sessionID,
		Mode:          mode,
		AutoRun:       autoRun,
		CurrentTaskID: currentTaskID,
	})
}

// ---- Story config ----

func (a *App) GetStoryConfig() (planner.StoryConfig, error) {
	ws, err := a.workspaceStore()
	if err != nil {
		return planner.StoryConfig{}, err
	}
	return planner.LoadStoryConfig(ws)
}

func (a *App) SetStoryConfig(doc string) error {
	ws, err := a.workspaceStore()
	if err != nil {
		return err
	}
	var cfg planner.StoryConfig
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		return fmt.Errorf("parse story config: %w", err)
	}
	return planner.SaveStoryConfig(ws, cfg)
}

// ---- Git ----

func (a *App) GitInit() error {
	ws, err := a.workspaceStore()
	if err != nil {
		return err
	}
	repo, err := git.InitIfNeeded(ws.Root())
	if err != nil {
		return err
	}
	a.mu.RLock()
	if a.autoWriter != nil {
		a.autoWriter.SetSnapshotter(repo)
	}
	a.mu.RUnlock()
	return nil
}

func (a *App) GitStatus() (*git.RepoStatus, error) {
	ws, err := a.workspaceStore()
	if err != nil {
		return nil, err
	}
	repo, err := git.Open(ws.Root())
	if err != nil {
		return nil, err
	}
	return repo.Status()
}

func (a *App) GitCommit(message string) (string, error) {
	ws, err := a.workspaceStore()
	if err != nil {
		return "", err
	}
	repo, err := git.Open(ws.Root())
	if err != nil {
		return "", err
	}
	return repo.Commit(message)
}

func (a *App) GitLog(limit int) ([]git.LogEntry, error) {
	ws, err := a.workspaceStore()
	if err != nil {
		return nil, err
	}
	repo, err := git.Open(ws.Root())
	if err != nil {
		return nil, err
	}
	return repo.Log(limit)
}

func (a *App) GitDiff(cached bool) (string, error) {
	ws, err := a.workspaceStore()
	if err != nil {
		return "", err
	}
	repo, err := git.Open(ws.Root())
	if err != nil {
		return "", err
	}
	return repo.Diff(cached)
}

func (a *App) WatchGitWorkspace(path string) error {
	return a.gitWatcher.Watch(path)
}

func (a *App) UnwatchGitWorkspace(path string) {
	a.gitWatcher.Unwatch(path)
}

// ---- Providers and settings ----

func (a *App) SaveProviderConfig(id, kind, name, baseURL, model, apiKey string, temperature float64, maxTokens int) error {
	return a.db.SaveProviderConfig(&database.ProviderConfig{
		ID:          id,
		Kind:        kind,
		Name:        name,
		BaseURL:     baseURL,
		Model:       model,
		APIKey:      apiKey,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
}

func (a *App) ListProviderConfigs() ([]*database.ProviderConfig, error) {
	return a.db.GetAllProviderConfigs()
}

func (a *App) DeleteProviderConfig(id string) error {
	return a.db.DeleteProviderConfig(id)
}

func (a *App) SetActiveProvider(id string) error {
	return a.db.SetActiveProvider(id)
}

func (a *App) GetActiveProvider() (*database.ProviderConfig, error) {
	return a.db.GetActiveProvider()
}

func (a *App) SaveSetting(key, value string) error {
	return a.db.SaveSetting(key, value)
}

func (a *App) GetSetting(key string) (string, error) {
	return a.db.GetSetting(key)
}

// ---- Agents ----

func (a *App) ListAgents() ([]*agents.Agent, error) {
	return a.agentStore.List()
}

func (a *App) GetAgent(id string) (*agents.Agent, error) {
	return a.agentStore.Get(id)
}

func (a *App) SaveAgent(id, name, icon, systemPrompt, description string, temperature float64) error {
	return a.agentStore.Save(&agents.Agent{
		ID:           id,
		Name:         name,
		Icon:         icon,
		SystemPrompt: systemPrompt,
		Temperature:  temperature,
		Description:  description,
	})
}

func (a *App) DeleteAgent(id string) error {
	return a.agentStore.Delete(id)
}

func (a *App) ImportAgentFromGitHub(url string) (*agents.Agent, error) {
	return agents.ImportAgent(url, a.agentStore)
}
