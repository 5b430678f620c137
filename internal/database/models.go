// internal/database/models.go
package database

import "time"

// ProviderConfig is a stored model-provider endpoint configuration.
// API keys live here (and in the environment), never in plan
// documents.
type ProviderConfig struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"` // "openai", "openai_compatible", "anthropic"
	Name        string    `json:"name"`
	BaseURL     string    `json:"baseUrl"`
	Model       string    `json:"model"`
	APIKey      string    `json:"apiKey"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"maxTokens"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SessionState is the planner-facing state of one chat session. Mode
// "normal" means no task queue involvement; "plan" and "spec" are
// task-driven.
type SessionState struct {
	SessionID     string    `json:"sessionId"`
	Mode          string    `json:"mode"` // "normal", "plan", "spec"
	AutoRun       bool      `json:"autoRun"`
	CurrentTaskID string    `json:"currentTaskId,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Session modes.
const (
	ModeNormal = "normal"
	ModePlan   = "plan"
	ModeSpec   = "spec"
)
