package compose

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/deepclaude-at/internal/upstream"
	"github.com/rakunlabs/deepclaude-at/internal/wire"
)

// fullModeSystemDirective is the fixed developer directive prepended to the
// caller's system prompt in full mode, carried over verbatim from the
// source's SEARCH/REPLACE block instruction.
const fullModeSystemDirective = `Act as an expert software developer who edits source code.
You are diligent and tireless!
You NEVER leave comments describing code without implementing it!
You always COMPLETELY IMPLEMENT the needed code!
Describe each change with a *SEARCH/REPLACE block* per the examples below.
All changes to files must use this *SEARCH/REPLACE block* format.
ONLY EVER RETURN CODE IN A *SEARCH/REPLACE BLOCK*!
Always reply to the user in chinese.`

// heartbeatInterval is a var rather than a const so tests can shrink it
// instead of waiting out the real interval.
var heartbeatInterval = 15 * time.Second

// ChunkKind discriminates the shape of an OutChunk for the Client Stream
// Encoder.
type ChunkKind int

const (
	ChunkRole ChunkKind = iota
	ChunkReasoning
	ChunkContent
	ChunkFinish
	ChunkHeartbeat
	ChunkError
)

// OutChunk is one unit handed from the Composition Engine to the Client
// Stream Encoder over the bounded back-pressure channel.
type OutChunk struct {
	Kind         ChunkKind
	Role         string
	Text         string
	FinishReason string
	Usage        wire.Usage
	Err          string
}

// Engine drives the Reasoning-then-Answer composition for one request at a
// time; it holds no per-request state between calls.
type Engine struct {
	client      *upstream.Client
	upstreamCfg upstream.Config
}

// NewEngine builds an Engine against the given upstream client and
// endpoint configuration.
func NewEngine(client *upstream.Client, cfg upstream.Config) *Engine {
	return &Engine{client: client, upstreamCfg: cfg}
}

// Stream runs the full composition and returns a channel of OutChunks sized
// to the spec's bounded back-pressure capacity of 64. The channel is closed
// once the terminal chunk (finish or error) has been sent.
func (e *Engine) Stream(ctx context.Context, req ChatRequest, mode Mode, creds upstream.Credentials) (<-chan OutChunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	reasoningEp, err := upstream.ResolveEndpoint(req.ReasoningModel, e.upstreamCfg, creds)
	if err != nil {
		return nil, err
	}

	baseMessages := req.baseMessages()
	reasoningBody := encodeRequest(reasoningEp.Dialect, reasoningEp.Model, baseMessages, req.ReasoningConfig.Body)

	reasoningEvents, err := e.client.Stream(ctx, reasoningEp, reasoningBody)
	if err != nil {
		return nil, err
	}

	out := make(chan OutChunk, 64)
	state := NewCompositionState(mode, ulid.Make().String(), time.Now())

	go e.run(ctx, req, creds, state, baseMessages, reasoningEvents, out)

	return out, nil
}

func (e *Engine) run(ctx context.Context, req ChatRequest, creds upstream.Credentials, state *CompositionState, baseMessages []wire.Message, reasoningEvents <-chan wire.NormalizedEvent, out chan<- OutChunk) {
	defer close(out)

	send := func(c OutChunk) bool {
		select {
		case out <- c:
			state.LastEventTime = time.Now()
			return true
		case <-ctx.Done():
			return false
		}
	}

	send(OutChunk{Kind: ChunkRole, Role: "assistant"})

	if !e.runReasoningPhase(ctx, state, reasoningEvents, send) {
		return
	}
	if state.Phase == PhaseFailed {
		return
	}

	answerMessages := e.buildAnswerMessages(state, baseMessages, req)

	answerEp, err := upstream.ResolveEndpoint(req.AnswerModel, e.upstreamCfg, creds)
	if err != nil {
		send(OutChunk{Kind: ChunkError, Err: err.Error()})
		return
	}

	answerSystem := e.answerSystemPrompt(state.Mode, req.systemPrompt())
	answerBody := encodeRequest(answerEp.Dialect, answerEp.Model, withSystem(answerMessages, answerSystem), req.AnswerConfig.Body)

	answerEvents, err := e.client.Stream(ctx, answerEp, answerBody)
	if err != nil {
		send(OutChunk{Kind: ChunkError, Err: err.Error()})
		return
	}

	e.runAnswerPhase(ctx, state, answerEvents, send)
}

// runReasoningPhase consumes the reasoning upstream until Stop or failure,
// applying the mode-dependent forwarding policy from the Composition Engine
// design. It returns false if the context was cancelled mid-phase.
func (e *Engine) runReasoningPhase(ctx context.Context, state *CompositionState, events <-chan wire.NormalizedEvent, send func(OutChunk) bool) bool {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return false

		case <-heartbeat.C:
			if time.Since(state.LastEventTime) >= heartbeatInterval {
				if !send(OutChunk{Kind: ChunkHeartbeat}) {
					return false
				}
			}

		case event, ok := <-events:
			if !ok {
				state.Phase = PhaseDone
				return true
			}

			switch event.Type {
			case wire.EventReasoningDelta:
				state.Buffer.Reasoning.WriteString(event.Text)
				if state.Mode == ModeNormal {
					if !send(OutChunk{Kind: ChunkReasoning, Text: event.Text, Usage: state.reasoningUsage()}) {
						return false
					}
				} else if strings.Contains(event.Text, rawAnswerSentinel) {
					idx := strings.Index(event.Text, rawAnswerSentinel)
					if !send(OutChunk{Kind: ChunkReasoning, Text: event.Text[idx:], Usage: state.reasoningUsage()}) {
						return false
					}
				}

			case wire.EventContentDelta:
				state.Buffer.Normal.WriteString(event.Text)
				if state.Mode == ModeFull {
					text := event.Text
					if state.firstNormalFragment {
						text = rawAnswerSentinel + text
						state.firstNormalFragment = false
					}
					if !send(OutChunk{Kind: ChunkReasoning, Text: text, Usage: state.reasoningUsage()}) {
						return false
					}
				}

			case wire.EventUsage:
				state.Usage.applyReasoning(event.Usage)

			case wire.EventStop:
				if strings.HasPrefix(event.StopReason, "error:") {
					state.Phase = PhaseFailed
					send(OutChunk{Kind: ChunkError, Err: event.StopReason})
					return true
				}
				state.Phase = PhaseAnswer
				return true

			case wire.EventPing:
				// ignored by the Composition Engine

			default:
			}
		}
	}
}

// runAnswerPhase consumes the answer upstream until Stop or failure,
// forwarding content deltas verbatim.
func (e *Engine) runAnswerPhase(ctx context.Context, state *CompositionState, events <-chan wire.NormalizedEvent, send func(OutChunk) bool) {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			if time.Since(state.LastEventTime) >= heartbeatInterval {
				if !send(OutChunk{Kind: ChunkHeartbeat}) {
					return
				}
			}

		case event, ok := <-events:
			if !ok {
				state.Phase = PhaseDone
				send(OutChunk{Kind: ChunkFinish, FinishReason: "stop", Usage: state.answerUsage()})
				return
			}

			switch event.Type {
			case wire.EventContentDelta:
				state.AnswerContentSent += len(event.Text)
				if !send(OutChunk{Kind: ChunkContent, Text: event.Text, Usage: state.answerUsage()}) {
					return
				}

			case wire.EventUsage:
				state.Usage.applyAnswer(event.Usage)

			case wire.EventStop:
				state.Phase = PhaseDone
				reason := event.StopReason
				if reason == "" {
					reason = "stop"
				}
				if strings.HasPrefix(reason, "error:") {
					state.Phase = PhaseFailed
					send(OutChunk{Kind: ChunkError, Err: reason})
					return
				}
				send(OutChunk{Kind: ChunkFinish, FinishReason: reason, Usage: state.answerUsage()})
				return

			case wire.EventPing:

			default:
			}
		}
	}
}

// buildAnswerMessages appends the synthetic <thinking> assistant message
// per the mode-dependent construction rules, or nothing if neither
// condition holds.
func (e *Engine) buildAnswerMessages(state *CompositionState, baseMessages []wire.Message, req ChatRequest) []wire.Message {
	out := make([]wire.Message, len(baseMessages))
	copy(out, baseMessages)

	switch state.Mode {
	case ModeNormal:
		if reasoning := state.Buffer.TrimmedReasoning(); reasoning != "" {
			out = append(out, wire.Message{Role: "assistant", Content: "<thinking>\n" + reasoning + "</thinking>"})
		}
	case ModeFull:
		if normal := state.Buffer.TrimmedNormal(); normal != "" {
			out = append(out, wire.Message{Role: "assistant", Content: "<thinking>\n" + rawAnswerSentinel + normal + "</thinking>"})
		}
	}

	return out
}

// answerSystemPrompt builds the Answer-phase system prompt per mode.
func (e *Engine) answerSystemPrompt(mode Mode, callerSystem string) string {
	if mode != ModeFull {
		return callerSystem
	}
	if callerSystem == "" {
		return fullModeSystemDirective
	}
	return fullModeSystemDirective + "\n\n" + callerSystem
}

func (s *CompositionState) reasoningUsage() wire.Usage {
	return wire.Usage{Input: s.Usage.ReasoningInput, Output: s.Usage.ReasoningOutput, Cached: s.Usage.ReasoningCached}
}

func (s *CompositionState) answerUsage() wire.Usage {
	return wire.Usage{Input: s.Usage.AnswerInput, Output: s.Usage.AnswerOutput}
}

// withSystem returns messages with a leading system message replaced (or
// inserted) to carry systemPrompt; empty systemPrompt drops any existing
// system message instead.
func withSystem(messages []wire.Message, systemPrompt string) []wire.Message {
	filtered := make([]wire.Message, 0, len(messages)+1)
	for _, m := range messages {
		if m.Role == "system" {
			continue
		}
		filtered = append(filtered, m)
	}
	if systemPrompt == "" {
		return filtered
	}
	out := make([]wire.Message, 0, len(filtered)+1)
	out = append(out, wire.Message{Role: "system", Content: systemPrompt})
	out = append(out, filtered...)
	return out
}

// encodeRequest dispatches to the Wire Adapter encoder matching dialect.
func encodeRequest(dialect wire.Dialect, model string, messages []wire.Message, overrides map[string]any) map[string]any {
	switch dialect {
	case wire.DialectAnthropic:
		return wire.EncodeAnthropic(model, messages, overrides)
	case wire.DialectDeepSeekChat:
		return wire.EncodeDeepSeekChat(model, messages, overrides)
	default:
		return wire.EncodeOpenAIChat(model, messages, overrides)
	}
}
