package compose

import (
	"errors"

	"github.com/rakunlabs/deepclaude-at/internal/wire"
)

// ErrInvalidSystemPrompt is returned when a request supplies a system
// prompt both top-level and inline among its messages.
var ErrInvalidSystemPrompt = errors.New("invalid system prompt: supplied both top-level and inline")

// ErrEmptyMessages is returned when a request carries no messages.
var ErrEmptyMessages = errors.New("messages must not be empty")

// ErrEmptyTrailingAssistant is returned when the request's final message is
// an assistant message with empty content.
var ErrEmptyTrailingAssistant = errors.New("trailing assistant message must not be empty")

// ProviderConfig carries opaque per-provider overrides. Body is merged into
// the outbound request body; Headers is carried on the request but is not
// applied to the outbound upstream call.
type ProviderConfig struct {
	Body    map[string]any
	Headers map[string]string
}

// ChatRequest is the canonical internal request the HTTP layer decodes
// incoming requests into.
type ChatRequest struct {
	Messages        []wire.Message
	Stream          bool
	System          string
	ReasoningConfig ProviderConfig
	AnswerConfig    ProviderConfig
	Verbose         bool
	ReasoningModel  string
	AnswerModel     string
}

// Validate enforces the ChatRequest invariants: non-empty messages, at most
// one system prompt (top-level or inline), and a non-empty trailing
// assistant message if the last message is from the assistant.
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return ErrEmptyMessages
	}

	inlineSystemCount := 0
	for _, m := range r.Messages {
		if m.Role == "system" {
			inlineSystemCount++
		}
	}
	if inlineSystemCount > 1 {
		return ErrInvalidSystemPrompt
	}
	if inlineSystemCount == 1 && r.System != "" {
		return ErrInvalidSystemPrompt
	}

	last := r.Messages[len(r.Messages)-1]
	if last.Role == "assistant" && last.Content == "" {
		return ErrEmptyTrailingAssistant
	}

	return nil
}

// baseMessages returns the messages the reasoning phase sends upstream: the
// caller's system prompt (top-level or inline) folded to the front,
// followed by the remaining non-system messages.
func (r ChatRequest) baseMessages() []wire.Message {
	system := r.System
	if system == "" {
		for _, m := range r.Messages {
			if m.Role == "system" {
				system = m.Content
				break
			}
		}
	}

	out := make([]wire.Message, 0, len(r.Messages)+1)
	if system != "" {
		out = append(out, wire.Message{Role: "system", Content: system})
	}
	for _, m := range r.Messages {
		if m.Role == "system" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// systemPrompt returns the caller-supplied system prompt text, whether
// given top-level or inline among the messages.
func (r ChatRequest) systemPrompt() string {
	if r.System != "" {
		return r.System
	}
	for _, m := range r.Messages {
		if m.Role == "system" {
			return m.Content
		}
	}
	return ""
}
