// Package compose implements the two-stage streaming composition pipeline:
// a reasoning-model pass followed by an answer-model pass, multiplexed into
// a single OpenAI-compatible chunk sequence.
package compose

import (
	"strings"
	"time"

	"github.com/rakunlabs/deepclaude-at/internal/wire"
)

// Mode selects how the reasoning model's output is related to the client
// and to the answer model's prompt.
type Mode string

const (
	// ModeNormal forwards only the reasoning model's chain-of-thought to
	// the client and the answer model.
	ModeNormal Mode = "normal"
	// ModeFull forwards the reasoning model's own final answer (its plain
	// content, prefixed with the historical sentinel substring) to the
	// client and to the answer model; chain-of-thought fragments reach the
	// client only when they contain that sentinel.
	ModeFull Mode = "full"
)

// rawAnswerSentinel marks where the reasoning model's own final answer
// begins inside its reasoning stream. Kept verbatim (not translated or
// renamed) because full-mode clients parse for this exact substring.
const rawAnswerSentinel = "deepseek原始回答:"

// Phase is one of the four Composition Engine states.
type Phase int

const (
	PhaseReasoning Phase = iota
	PhaseAnswer
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseReasoning:
		return "reasoning"
	case PhaseAnswer:
		return "answer"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReasoningBuffer accumulates the reasoning model's two text streams:
// its chain-of-thought (reasoning_content) and any plain content it also
// emits. Both are read-only once the Reasoning phase completes.
type ReasoningBuffer struct {
	Reasoning strings.Builder
	Normal    strings.Builder
}

// TrimmedReasoning returns the reasoning text with surrounding whitespace
// removed.
func (b *ReasoningBuffer) TrimmedReasoning() string {
	return strings.TrimSpace(b.Reasoning.String())
}

// TrimmedNormal returns the plain-content text with surrounding whitespace
// removed.
func (b *ReasoningBuffer) TrimmedNormal() string {
	return strings.TrimSpace(b.Normal.String())
}

// UsageTally accumulates token counts across both phases. A dialect may
// report a phase's usage split across two partial events (Anthropic-native
// sends Input at message_start and Output at message_delta), so each call
// merges field by field instead of overwriting the whole struct: a zero
// field on the incoming event means "not reported by this event", not "reset
// to zero".
type UsageTally struct {
	ReasoningInput  int
	ReasoningOutput int
	ReasoningCached int
	AnswerInput     int
	AnswerOutput    int
}

func (t *UsageTally) applyReasoning(u wire.Usage) {
	if u.Input != 0 {
		t.ReasoningInput = u.Input
	}
	if u.Output != 0 {
		t.ReasoningOutput = u.Output
	}
	if u.Cached != 0 {
		t.ReasoningCached = u.Cached
	}
}

func (t *UsageTally) applyAnswer(u wire.Usage) {
	if u.Input != 0 {
		t.AnswerInput = u.Input
	}
	if u.Output != 0 {
		t.AnswerOutput = u.Output
	}
}

// CompositionState is the per-request record the Composition Engine
// exclusively owns for the lifetime of one request.
type CompositionState struct {
	Mode              Mode
	Phase             Phase
	Buffer            ReasoningBuffer
	Usage             UsageTally
	AnswerContentSent int
	LastEventTime     time.Time
	StreamID          string
	CreatedAt         time.Time

	firstNormalFragment bool
}

// NewCompositionState starts a fresh per-request state in the Reasoning
// phase.
func NewCompositionState(mode Mode, streamID string, now time.Time) *CompositionState {
	return &CompositionState{
		Mode:                mode,
		Phase:               PhaseReasoning,
		StreamID:            streamID,
		CreatedAt:           now,
		LastEventTime:       now,
		firstNormalFragment: true,
	}
}
