package wire

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// anthropicEvent is the envelope every Anthropic-native SSE frame shares;
// the actual payload shape depends on Type.
type anthropicEvent struct {
	Type  string          `json:"type"`
	Delta json.RawMessage `json:"delta,omitempty"`

	Message *struct {
		Usage *anthropicUsage `json:"usage,omitempty"`
	} `json:"message,omitempty"`

	Usage *anthropicUsage `json:"usage,omitempty"`

	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicTextDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// DecodeAnthropic decodes a body of Anthropic-native SSE frames into
// NormalizedEvents, per the mapping in the Wire Adapters component design:
// message_start -> RoleStart, content_block_delta{text_delta} -> ContentDelta,
// message_delta{usage} -> Usage, message_stop -> Stop, ping -> Ping.
func DecodeAnthropic(body io.Reader) <-chan NormalizedEvent {
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

			var event anthropicEvent
			consumed, outcome, ok := decodeJSONLine(pending, data, &event)
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

			switch event.Type {
			case "message_start":
				if event.Message != nil && event.Message.Usage != nil {
					out <- NormalizedEvent{Type: EventUsage, Usage: Usage{Input: event.Message.Usage.InputTokens}}
				}
				out <- NormalizedEvent{Type: EventRoleStart, Role: "assistant"}

			case "content_block_delta":
				if len(event.Delta) == 0 {
					continue
				}
				var td anthropicTextDelta
				if err := json.Unmarshal(event.Delta, &td); err == nil && td.Type == "text_delta" {
					out <- NormalizedEvent{Type: EventContentDelta, Text: td.Text}
				}

			case "message_delta":
				if event.Usage != nil {
					out <- NormalizedEvent{Type: EventUsage, Usage: Usage{Output: event.Usage.OutputTokens}}
				}

			case "message_stop":
				out <- NormalizedEvent{Type: EventStop, StopReason: "stop"}
				return

			case "ping":
				out <- NormalizedEvent{Type: EventPing}

			case "error":
				msg := "anthropic stream error"
				if event.Error != nil {
					msg = event.Error.Message
				}
				out <- NormalizedEvent{Type: EventStop, StopReason: "error: " + msg}
				return

			default:
				// unknown tags are ignored per the adapter contract
			}
		}

		if err := scanner.Err(); err != nil {
			out <- NormalizedEvent{Type: EventStop, StopReason: fmt.Sprintf("error: stream read error: %v", err)}
		}
	}()

	return out
}

// EncodeAnthropic builds the outbound Anthropic /v1/messages request body.
// System-role messages are extracted into the top-level "system" field,
// since Anthropic does not accept a system role inside messages.
func EncodeAnthropic(model string, messages []Message, overrides map[string]any) map[string]any {
	var systemPrompt string
	filtered := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += m.Content
			continue
		}
		filtered = append(filtered, m)
	}

	body := map[string]any{
		"model":       model,
		"messages":    filtered,
		"max_tokens":  defaultMaxTokens(model),
		"temperature": 0.7,
		"top_p":       0.95,
	}
	if systemPrompt != "" {
		body["system"] = systemPrompt
	}

	mergeOverrides(body, overrides)

	return body
}

// defaultMaxTokens implements the preserved (and intentionally unchanged)
// max_tokens heuristic: 4096 for any model name containing "opus", else
// 8192. See SPEC_FULL.md §9, "Open question — max_tokens default".
func defaultMaxTokens(model string) int {
	if strings.Contains(model, "opus") {
		return 4096
	}
	return 8192
}

// mergeOverrides merges a ProviderConfig.body on top of body, discarding
// overrides to the reserved fields messages/system/stream silently.
func mergeOverrides(body map[string]any, overrides map[string]any) {
	for k, v := range overrides {
		switch k {
		case "messages", "system", "stream":
			continue
		default:
			body[k] = v
		}
	}
}

// Message is the canonical internal chat message shape threaded through the
// Wire Adapters and Composition Engine.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
