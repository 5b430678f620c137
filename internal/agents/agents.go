package agents

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Agent is a writing persona: a system prompt plus sampling defaults
// that SendTurn applies when the agent is selected.
type Agent struct {
	ID           string  `json:"id" yaml:"id"`
	Name         string  `json:"name" yaml:"name"`
	Icon         string  `json:"icon,omitempty" yaml:"icon,omitempty"`
	SystemPrompt string  `json:"system_prompt" yaml:"system_prompt"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
	Description  string  `json:"description,omitempty" yaml:"description,omitempty"`
	URL          string  `json:"url,omitempty" yaml:"url,omitempty"`
}

// Store persists agents as one YAML file per agent under Dir.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create agents dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".yaml")
}

// Save writes or overwrites the agent's YAML file.
func (s *Store) Save(agent *Agent) error {
	if agent.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if strings.ContainsAny(agent.ID, "/\\") {
		return fmt.Errorf("invalid agent id: %s", agent.ID)
	}

	data, err := yaml.Marshal(agent)
	if err != nil {
		return fmt.Errorf("failed to marshal agent: %w", err)
	}
	if err := os.WriteFile(s.path(agent.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write agent: %w", err)
	}
	return nil
}

func (s *Store) Get(id string) (*Agent, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("agent not found: %s", id)
	}

	var agent Agent
	if err := yaml.Unmarshal(data, &agent); err != nil {
		return nil, fmt.Errorf("failed to parse agent %s: %w", id, err)
	}
	return &agent, nil
}

func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil {
		return fmt.Errorf("failed to delete agent %s: %w", id, err)
	}
	return nil
}

// List returns all agents sorted by name. Files that fail to parse
// are skipped.
func (s *Store) List() ([]*Agent, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents dir: %w", err)
	}

	var agents []*Agent
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".yaml")
		agent, err := s.Get(id)
		if err != nil {
			continue
		}
		agents = append(agents, agent)
	}

	sort.Slice(agents, func(i, j int) bool {
		return agents[i].Name < agents[j].Name
	})
	return agents, nil
}

// SeedDefaults writes the builtin agents that do not already exist
// on disk. User edits to existing files are preserved.
func (s *Store) SeedDefaults() error {
	for _, agent := range DefaultAgents() {
		if _, err := os.Stat(s.path(agent.ID)); err == nil {
			continue
		}
		a := agent
		if err := s.Save(&a); err != nil {
			return err
		}
	}
	return nil
}

// DefaultAgents returns the builtin writing personas.
func DefaultAgents() []Agent {
	return []Agent{
		{
			ID:           "general",
			Name:         "General Assistant",
			Icon:         "✒️",
			SystemPrompt: "You are a thoughtful writing assistant. Answer questions about the manuscript, suggest improvements, and help the author think through story problems. Keep answers concrete and grounded in the text.",
			Temperature:  0.7,
			Description:  "All-purpose assistant for questions and brainstorming",
		},
		{
			ID:           "outliner",
			Name:         "Outliner",
			Icon:         "🗺️",
			SystemPrompt: "You are a story architect. Break narratives into acts, chapters and scenes with clear goals, conflicts and turning points. Track character arcs and foreshadowing across the outline. Output structured plans, not prose.",
			Temperature:  0.4,
			Description:  "Structural planning and chapter breakdowns",
		},
		{
			ID:           "prose",
			Name:         "Prose Writer",
			Icon:         "📖",
			SystemPrompt: "You are a novelist. Write immersive scene prose that follows the outline and stays consistent with established characters, voice and continuity. Show rather than tell, vary sentence rhythm, and end scenes on forward momentum.",
			Temperature:  0.9,
			Description:  "Long-form scene and chapter drafting",
		},
		{
			ID:           "editor",
			Name:         "Line Editor",
			Icon:         "🔍",
			SystemPrompt: "You are a line editor. Tighten prose, fix continuity slips, flag repeated phrasing and weak verbs, and preserve the author's voice. Explain each substantive change briefly.",
			Temperature:  0.3,
			Description:  "Revision passes over existing drafts",
		},
	}
}
