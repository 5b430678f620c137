// internal/provider/anthropic.go
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type anthropicProvider struct {
	cfg    Config
	client *http.Client
}

func newAnthropicProvider(cfg Config) *anthropicProvider {
	return &anthropicProvider{
		cfg:    cfg,
		client: &http.Client{},
	}
}

func (p *anthropicProvider) ID() string {
	return p.cfg.ID
}

func (p *anthropicProvider) Stream(ctx context.Context, messages []Message, system string, onToken func(string)) (string, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return "", fmt.Errorf("api key not found for provider=%s", p.cfg.ID)
	}

	out := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]string{"role": m.Role, "content": m.Content})
	}

	maxTokens := p.cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}
	payload := map[string]interface{}{
		"model":      p.cfg.Model,
		"messages":   out,
		"max_tokens": maxTokens,
		"stream":     true,
	}
	if strings.TrimSpace(system) != "" {
		payload["system"] = system
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	base := strings.TrimRight(p.cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.anthropic.com"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return readSSE(resp.Body, decodeAnthropicChunk, onToken)
}
