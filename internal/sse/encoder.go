// Package sse implements the Client Stream Encoder: it turns Composition
// Engine OutChunks into OpenAI-compatible chat.completion.chunk SSE frames.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rakunlabs/deepclaude-at/internal/compose"
	"github.com/rakunlabs/deepclaude-at/internal/wire"
)

// Chunk is the wire shape of one chat.completion.chunk SSE frame.
type Chunk struct {
	ID                string        `json:"id"`
	Object            string        `json:"object"`
	Created           int64         `json:"created"`
	Model             string        `json:"model"`
	Choices           []ChunkChoice `json:"choices"`
	SystemFingerprint string        `json:"system_fingerprint"`
	Usage             *ChunkUsage   `json:"usage,omitempty"`
	Heartbeat         bool          `json:"heartbeat,omitempty"`
}

type ChunkChoice struct {
	Index                int                  `json:"index"`
	Delta                ChunkDelta           `json:"delta"`
	FinishReason         *string              `json:"finish_reason"`
	ContentFilterResults ContentFilterResults `json:"content_filter_results"`
}

type ChunkDelta struct {
	Role             string  `json:"role,omitempty"`
	Content          *string `json:"content,omitempty"`
	ReasoningContent *string `json:"reasoning_content,omitempty"`
}

type ContentFilterResults struct {
	Hate      FilterFlag `json:"hate"`
	SelfHarm  FilterFlag `json:"self_harm"`
	Sexual    FilterFlag `json:"sexual"`
	Violence  FilterFlag `json:"violence"`
}

type FilterFlag struct {
	Filtered bool `json:"filtered"`
}

type ChunkUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Encoder writes OutChunks as SSE frames to an http.ResponseWriter.
type Encoder struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	streamID  string
	model     string
	firstSent bool
}

// NewEncoder sets the SSE response headers and returns an Encoder for the
// given stream id (shared by the first and final chunks) and model name
// (the reasoning model's default name, per the Client Stream Encoder's
// intermediate-chunk model-naming rule).
func NewEncoder(w http.ResponseWriter, streamID, model string) (*Encoder, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Encoder{w: w, flusher: flusher, streamID: streamID, model: model}, nil
}

// WriteChunk encodes one OutChunk as an SSE data frame.
func (e *Encoder) WriteChunk(c compose.OutChunk) {
	switch c.Kind {
	case compose.ChunkRole:
		e.write(Chunk{
			ID:      e.idFor(true),
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   e.model,
			Choices: []ChunkChoice{{Delta: ChunkDelta{Role: c.Role}}},
		})

	case compose.ChunkReasoning:
		text := c.Text
		e.write(Chunk{
			ID:                e.idFor(false),
			Object:            "chat.completion.chunk",
			Created:           time.Now().Unix(),
			Model:             e.model,
			Choices:           []ChunkChoice{{Delta: ChunkDelta{Role: "assistant", ReasoningContent: &text}}},
			Usage:             usageFromReasoning(c.Usage),
			SystemFingerprint: "",
		})

	case compose.ChunkContent:
		text := c.Text
		e.write(Chunk{
			ID:      e.idFor(false),
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   e.model,
			Choices: []ChunkChoice{{Delta: ChunkDelta{Role: "assistant", Content: &text}}},
			Usage:   usageFromAnswer(c.Usage),
		})

	case compose.ChunkHeartbeat:
		e.write(Chunk{
			ID:        e.idFor(false),
			Object:    "chat.completion.chunk",
			Created:   time.Now().Unix(),
			Model:     e.model,
			Choices:   []ChunkChoice{{Delta: ChunkDelta{}}},
			Heartbeat: true,
		})

	case compose.ChunkFinish:
		reason := c.FinishReason
		e.write(Chunk{
			ID:      e.idFor(true),
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   e.model,
			Choices: []ChunkChoice{{Delta: ChunkDelta{}, FinishReason: &reason}},
			Usage:   usageFromAnswer(c.Usage),
		})
		e.WriteDone()

	case compose.ChunkError:
		e.WriteError(c.Err)
	}
}

// WriteError writes a bare {"error": "<message>"} frame and closes the
// stream. No [DONE] sentinel follows: a mid-stream upstream failure is not a
// normal completion.
func (e *Encoder) WriteError(message string) {
	data, err := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: message})
	if err != nil {
		return
	}
	fmt.Fprintf(e.w, "data: %s\n\n", data)
	e.flusher.Flush()
}

// WriteDone writes the terminal [DONE] sentinel frame.
func (e *Encoder) WriteDone() {
	fmt.Fprint(e.w, "data: [DONE]\n\n")
	e.flusher.Flush()
}

func (e *Encoder) write(chunk Chunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(e.w, "data: %s\n\n", data)
	e.flusher.Flush()
}

// idFor returns a fresh per-chunk id, except the first chunk sent and any
// chunk marked shared (the role chunk and the terminal finish chunk), which
// reuse the request-level stream id. Error frames carry no id.
func (e *Encoder) idFor(shared bool) string {
	if !e.firstSent {
		e.firstSent = true
		return e.streamID
	}
	if shared {
		return e.streamID
	}
	return "chatcmpl-" + uuid.NewString()
}

func usageFromReasoning(u wire.Usage) *ChunkUsage {
	return &ChunkUsage{
		PromptTokens:     u.Input,
		CompletionTokens: u.Output,
		TotalTokens:      u.Input + u.Output,
	}
}

func usageFromAnswer(u wire.Usage) *ChunkUsage {
	return &ChunkUsage{
		PromptTokens:     u.Input,
		CompletionTokens: u.Output,
		TotalTokens:      u.Input + u.Output,
	}
}
