// internal/provider/openai.go
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type openAIProvider struct {
	cfg    Config
	client *http.Client
}

func newOpenAIProvider(cfg Config) *openAIProvider {
	return &openAIProvider{
		cfg:    cfg,
		client: &http.Client{}, // no overall timeout, streams run long
	}
}

func (p *openAIProvider) ID() string {
	return p.cfg.ID
}

func (p *openAIProvider) Stream(ctx context.Context, messages []Message, system string, onToken func(string)) (string, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return "", fmt.Errorf("api key not found for provider=%s", p.cfg.ID)
	}

	out := make([]map[string]string, 0, len(messages)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, map[string]string{"role": "system", "content": system})
	}
	for _, m := range messages {
		out = append(out, map[string]string{"role": m.Role, "content": m.Content})
	}

	temperature := p.cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	payload := map[string]interface{}{
		"model":       p.cfg.Model,
		"messages":    out,
		"temperature": temperature,
		"stream":      true,
	}
	if p.cfg.MaxTokens > 0 {
		payload["max_tokens"] = p.cfg.MaxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return readSSE(resp.Body, decodeOpenAIChunk, onToken)
}

// readSSE consumes an SSE body line by line, validates each data
// payload with decode, and appends token events until done or error.
func readSSE(body io.Reader, decode func(string) wireEvent, onToken func(string)) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var full strings.Builder
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		switch ev := decode(data); ev.kind {
		case wireToken:
			full.WriteString(ev.token)
			if onToken != nil {
				onToken(ev.token)
			}
		case wireDone:
			return full.String(), nil
		case wireError:
			return full.String(), fmt.Errorf("provider error: %s", ev.message)
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("read stream: %w", err)
	}
	return full.String(), nil
}
