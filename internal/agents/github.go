package agents

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentList is the shape of a shared agent collection file.
type AgentList struct {
	Agents []Agent `json:"agents" yaml:"agents"`
}

var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

// ConvertToRawURL rewrites a GitHub blob URL to its raw content URL.
func ConvertToRawURL(url string) string {
	if strings.Contains(url, "github.com") && strings.Contains(url, "/blob/") {
		url = strings.Replace(url, "github.com", "raw.githubusercontent.com", 1)
		url = strings.Replace(url, "/blob/", "/", 1)
	}
	return url
}

// FetchURL fetches content from a URL.
func FetchURL(url string) ([]byte, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return data, nil
}

// ParseAgentConfig parses a single agent from JSON or YAML.
func ParseAgentConfig(data []byte, format string) (*Agent, error) {
	var agent Agent

	switch strings.ToLower(format) {
	case "json":
		if err := json.Unmarshal(data, &agent); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &agent); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &agent); err != nil {
			if err := yaml.Unmarshal(data, &agent); err != nil {
				return nil, fmt.Errorf("failed to parse as JSON or YAML")
			}
		}
	}

	return &agent, nil
}

func formatFromURL(url string) string {
	lower := strings.ToLower(url)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		return "yaml"
	}
	return "json"
}

// FetchAgentContent fetches a shared agent definition from a GitHub URL.
func FetchAgentContent(url string) (*Agent, error) {
	data, err := FetchURL(ConvertToRawURL(url))
	if err != nil {
		return nil, err
	}

	agent, err := ParseAgentConfig(data, formatFromURL(url))
	if err != nil {
		return nil, err
	}

	agent.URL = url

	return agent, nil
}

// FetchAgentList fetches a collection of shared agents from a GitHub URL.
func FetchAgentList(url string) ([]Agent, error) {
	data, err := FetchURL(ConvertToRawURL(url))
	if err != nil {
		return nil, err
	}

	var list AgentList
	switch formatFromURL(url) {
	case "json":
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	case "yaml":
		if err := yaml.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	return list.Agents, nil
}

// ImportAgent fetches an agent from a GitHub URL and saves it to the store.
func ImportAgent(url string, store *Store) (*Agent, error) {
	agent, err := FetchAgentContent(url)
	if err != nil {
		return nil, err
	}

	if agent.ID == "" {
		agent.ID = slugify(agent.Name)
	}

	if err := store.Save(agent); err != nil {
		return nil, fmt.Errorf("failed to save agent: %w", err)
	}

	return agent, nil
}

func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
