// internal/provider/interface.go

// Package provider speaks to the model backends. Each provider turns a
// message list into a streamed completion, delivering validated token
// events to a callback and returning the full text on settlement.
package provider

import (
	"context"
	"fmt"
)

// Message is one turn of conversation context sent to the model
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Config describes one configured model endpoint
type Config struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"` // "openai", "openai_compatible", "anthropic"
	Name        string  `json:"name"`
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	APIKey      string  `json:"api_key,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Provider streams completions from one backend kind
type Provider interface {
	// ID returns the configured provider id
	ID() string

	// Stream sends the conversation and delivers each validated token
	// to onToken as it arrives. It returns the accumulated text once
	// the backend signals completion. Cancelling ctx stops the stream.
	Stream(ctx context.Context, messages []Message, system string, onToken func(string)) (string, error)
}

// New builds a provider from its config
func New(cfg Config) (Provider, error) {
	switch cfg.Kind {
	case "openai", "openai_compatible":
		return newOpenAIProvider(cfg), nil
	case "anthropic":
		return newAnthropicProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider kind: %s", cfg.Kind)
	}
}

// Registry resolves provider configs by id
type Registry struct {
	configs map[string]Config
	active  string
}

// NewRegistry creates a registry from a config list; the first entry is
// the active provider unless overridden.
func NewRegistry(configs []Config) *Registry {
	r := &Registry{configs: make(map[string]Config)}
	for _, cfg := range configs {
		r.configs[cfg.ID] = cfg
		if r.active == "" {
			r.active = cfg.ID
		}
	}
	return r
}

// Add registers or replaces a provider config
func (r *Registry) Add(cfg Config) {
	r.configs[cfg.ID] = cfg
	if r.active == "" {
		r.active = cfg.ID
	}
}

// SetActive selects the provider used when no explicit id is given
func (r *Registry) SetActive(id string) error {
	if _, ok := r.configs[id]; !ok {
		return fmt.Errorf("provider not found: %s", id)
	}
	r.active = id
	return nil
}

// ActiveID returns the active provider id
func (r *Registry) ActiveID() string {
	return r.active
}

// Resolve returns a provider for the given id, or the active provider
// when id is empty.
func (r *Registry) Resolve(id string) (Provider, error) {
	if id == "" {
		id = r.active
	}
	cfg, ok := r.configs[id]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", id)
	}
	return New(cfg)
}

// List returns all configured providers with secrets blanked
func (r *Registry) List() []Config {
	out := make([]Config, 0, len(r.configs))
	for _, cfg := range r.configs {
		cfg.APIKey = ""
		out = append(out, cfg)
	}
	return out
}
