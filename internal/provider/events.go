// internal/provider/events.go
package provider

import "encoding/json"

// wireEvent is the validated form of one streamed backend payload.
// Anything that does not decode into one of the known kinds is dropped
// at this boundary instead of leaking upward.
type wireEvent struct {
	kind    wireKind
	token   string
	message string
}

type wireKind int

const (
	wireUnknown wireKind = iota
	wireToken
	wireDone
	wireError
)

// decodeOpenAIChunk validates one OpenAI-style SSE data payload
func decodeOpenAIChunk(data string) wireEvent {
	if data == "[DONE]" {
		return wireEvent{kind: wireDone}
	}

	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return wireEvent{kind: wireUnknown}
	}
	if chunk.Error != nil {
		return wireEvent{kind: wireError, message: chunk.Error.Message}
	}
	if len(chunk.Choices) == 0 {
		return wireEvent{kind: wireUnknown}
	}
	if chunk.Choices[0].Delta.Content != "" {
		return wireEvent{kind: wireToken, token: chunk.Choices[0].Delta.Content}
	}
	if chunk.Choices[0].FinishReason != nil && *chunk.Choices[0].FinishReason != "" {
		return wireEvent{kind: wireDone}
	}
	return wireEvent{kind: wireUnknown}
}

// decodeAnthropicChunk validates one Anthropic-style SSE data payload
func decodeAnthropicChunk(data string) wireEvent {
	var chunk struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return wireEvent{kind: wireUnknown}
	}

	switch chunk.Type {
	case "content_block_delta":
		if chunk.Delta.Type == "text_delta" && chunk.Delta.Text != "" {
			return wireEvent{kind: wireToken, token: chunk.Delta.Text}
		}
		return wireEvent{kind: wireUnknown}
	case "message_stop":
		return wireEvent{kind: wireDone}
	case "error":
		msg := "provider error"
		if chunk.Error != nil && chunk.Error.Message != "" {
			msg = chunk.Error.Message
		}
		return wireEvent{kind: wireError, message: msg}
	default:
		return wireEvent{kind: wireUnknown}
	}
}
