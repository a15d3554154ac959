package wire

import (
	"fmt"
	"io"
	"strings"
)

type openAIStreamChunk struct {
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIUsage         `json:"usage,omitempty"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIStreamChoice struct {
	Delta        openAIStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openAIStreamDelta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// DecodeOpenAIChat decodes a body of OpenAI-chat-dialect SSE frames into
// NormalizedEvents. DeepSeek-chat uses the identical dialect (the
// distinction between the two providers is only in the encoder), so this
// single decoder serves both, per the Wire Adapters component design.
func DecodeOpenAIChat(body io.Reader) <-chan NormalizedEvent {
	out := make(chan NormalizedEvent, 64)

	go func() {
		defer close(out)

		scanner := newSSEScanner(body)
		var pending string

		for scanner.Scan() {
			line := scanner.Text()

			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			if data == "[DONE]" {
				out <- NormalizedEvent{Type: EventStop, StopReason: "stop"}
				return
			}

			var chunk openAIStreamChunk
			consumed, outcome, ok := decodeJSONLine(pending, data, &chunk)
			if !ok {
				if outcome.IsNeedMoreBytes() {
					pending = consumed
					continue
				}
				pending = ""
				out <- outcome.Event()
				continue
			}
			pending = ""

			if chunk.Error != nil {
				out <- NormalizedEvent{Type: EventStop, StopReason: "error: " + chunk.Error.Message}
				return
			}

			if chunk.Usage != nil {
				out <- NormalizedEvent{Type: EventUsage, Usage: Usage{
					Input:  chunk.Usage.PromptTokens,
					Output: chunk.Usage.CompletionTokens,
				}}
			}

			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Role != "" {
				out <- NormalizedEvent{Type: EventRoleStart, Role: choice.Delta.Role}
			}
			if choice.Delta.ReasoningContent != "" {
				out <- NormalizedEvent{Type: EventReasoningDelta, Text: choice.Delta.ReasoningContent}
			}
			if choice.Delta.Content != "" {
				out <- NormalizedEvent{Type: EventContentDelta, Text: choice.Delta.Content}
			}
			if choice.FinishReason != nil {
				out <- NormalizedEvent{Type: EventStop, StopReason: *choice.FinishReason}
				return
			}
		}

		if err := scanner.Err(); err != nil {
			out <- NormalizedEvent{Type: EventStop, StopReason: fmt.Sprintf("error: stream read error: %v", err)}
		}
	}()

	return out
}

// EncodeOpenAIChat builds the outbound OpenAI-chat request body used for
// Claude-OpenAI-style endpoints.
func EncodeOpenAIChat(model string, messages []Message, overrides map[string]any) map[string]any {
	body := map[string]any{
		"model":       model,
		"messages":    messages,
		"max_tokens":  defaultMaxTokens(model),
		"temperature": 0.7,
		"top_p":       0.95,
	}
	mergeOverrides(body, overrides)
	return body
}

// EncodeDeepSeekChat builds the outbound DeepSeek-chat request body. It
// shares the OpenAI-chat wire shape but is kept as a distinct entry point so
// vendor-specific fields (e.g. DeepSeek's own sampling knobs) can be passed
// through via overrides without touching the OpenAI-chat encoder.
func EncodeDeepSeekChat(model string, messages []Message, overrides map[string]any) map[string]any {
	return EncodeOpenAIChat(model, messages, overrides)
}
