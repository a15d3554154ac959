package compose

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/deepclaude-at/internal/upstream"
	"github.com/rakunlabs/deepclaude-at/internal/wire"
)

// sseServer starts an httptest.Server that replays a fixed Anthropic-style
// or OpenAI-chat-style SSE body for every request, regardless of payload,
// so the reasoning and answer phases can be driven independently in tests.
func sseServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
}

func drain(ch <-chan OutChunk) []OutChunk {
	var out []OutChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestEngineStream_NormalMode_HappyPath(t *testing.T) {
	reasoningBody := "" +
		`data: {"choices":[{"delta":{"reasoning_content":"Think A"},"finish_reason":null}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"reasoning_content":"Think B"},"finish_reason":null}]}` + "\n\n" +
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n"
	answerBody := "" +
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}` + "\n\n" +
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":" there."}}` + "\n\n" +
		`data: {"type":"message_stop"}` + "\n\n"

	reasoningSrv := sseServer(t, reasoningBody)
	defer reasoningSrv.Close()
	answerSrv := sseServer(t, answerBody)
	defer answerSrv.Close()

	client, err := upstream.NewClient()
	require.NoError(t, err)

	engine := NewEngine(client, upstream.Config{
		DeepSeekURL:          reasoningSrv.URL,
		AnthropicURL:         answerSrv.URL,
		DeepSeekDefaultModel: "deepseek-reasoner",
		ClaudeDefaultModel:   "claude-haiku-4-5",
	})

	req := ChatRequest{
		Messages:       []wire.Message{{Role: "user", Content: "Hello"}},
		Stream:         true,
		ReasoningModel: "deepseek-reasoner",
		AnswerModel:    "claude-haiku-4-5",
	}

	chunks, err := engine.Stream(context.Background(), req, ModeNormal, upstream.Credentials{
		DeepSeekKey:  "dk",
		AnthropicKey: "ak",
	})
	require.NoError(t, err)

	events := drain(chunks)
	require.NotEmpty(t, events)
	require.Equal(t, ChunkRole, events[0].Kind)

	var reasoningTexts, contentTexts []string
	sawFinish := false
	for _, e := range events {
		switch e.Kind {
		case ChunkReasoning:
			reasoningTexts = append(reasoningTexts, e.Text)
		case ChunkContent:
			contentTexts = append(contentTexts, e.Text)
		case ChunkFinish:
			sawFinish = true
			require.Equal(t, "stop", e.FinishReason)
		}
	}
	require.Equal(t, []string{"Think A", "Think B"}, reasoningTexts)
	require.Equal(t, []string{"Hi", " there."}, contentTexts)
	require.True(t, sawFinish)
	require.Equal(t, ChunkFinish, events[len(events)-1].Kind)
}

func TestEngineStream_FullMode_FiltersRawReasoningKeepsRawAnswer(t *testing.T) {
	reasoningBody := "" +
		`data: {"choices":[{"delta":{"reasoning_content":"R"},"finish_reason":null}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":"A1"},"finish_reason":null}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":"A2"},"finish_reason":null}]}` + "\n\n" +
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n"
	answerBody := `data: {"type":"message_stop"}` + "\n\n"

	reasoningSrv := sseServer(t, reasoningBody)
	defer reasoningSrv.Close()
	answerSrv := sseServer(t, answerBody)
	defer answerSrv.Close()

	client, err := upstream.NewClient()
	require.NoError(t, err)

	engine := NewEngine(client, upstream.Config{
		DeepSeekURL:          reasoningSrv.URL,
		AnthropicURL:         answerSrv.URL,
		DeepSeekDefaultModel: "deepseek-reasoner",
	})

	req := ChatRequest{
		Messages:       []wire.Message{{Role: "user", Content: "Hello"}},
		ReasoningModel: "deepseek-reasoner",
		AnswerModel:    "claude-haiku-4-5",
	}

	chunks, err := engine.Stream(context.Background(), req, ModeFull, upstream.Credentials{
		DeepSeekKey:  "dk",
		AnthropicKey: "ak",
	})
	require.NoError(t, err)

	var reasoningTexts []string
	for e := range chunks {
		if e.Kind == ChunkReasoning {
			reasoningTexts = append(reasoningTexts, e.Text)
		}
	}

	require.Equal(t, []string{"deepseek原始回答:A1", "A2"}, reasoningTexts)
}

func TestAnswerSystemPrompt_FullModeConcatenatesDirective(t *testing.T) {
	e := &Engine{}
	got := e.answerSystemPrompt(ModeFull, "be terse")
	require.True(t, strings.HasPrefix(got, fullModeSystemDirective))
	require.True(t, strings.HasSuffix(got, "be terse"))
}

func TestAnswerSystemPrompt_NormalModePassesThrough(t *testing.T) {
	e := &Engine{}
	require.Equal(t, "be terse", e.answerSystemPrompt(ModeNormal, "be terse"))
}

func TestBuildAnswerMessages_NormalModeAppendsThinkingFromReasoning(t *testing.T) {
	e := &Engine{}
	state := NewCompositionState(ModeNormal, "s1", time.Now())
	state.Buffer.Reasoning.WriteString("because X")

	out := e.buildAnswerMessages(state, []wire.Message{{Role: "user", Content: "hi"}}, ChatRequest{})
	require.Len(t, out, 2)
	require.Equal(t, "assistant", out[1].Role)
	require.Equal(t, "<thinking>\nbecause X</thinking>", out[1].Content)
}

func TestBuildAnswerMessages_FullModeAppendsThinkingFromNormal(t *testing.T) {
	e := &Engine{}
	state := NewCompositionState(ModeFull, "s1", time.Now())
	state.Buffer.Normal.WriteString("A1A2")

	out := e.buildAnswerMessages(state, []wire.Message{{Role: "user", Content: "hi"}}, ChatRequest{})
	require.Len(t, out, 2)
	require.Equal(t, "<thinking>\ndeepseek原始回答:A1A2</thinking>", out[1].Content)
}

func TestBuildAnswerMessages_NoBufferContentAddsNothing(t *testing.T) {
	e := &Engine{}
	state := NewCompositionState(ModeNormal, "s1", time.Now())
	out := e.buildAnswerMessages(state, []wire.Message{{Role: "user", Content: "hi"}}, ChatRequest{})
	require.Len(t, out, 1)
}

// slowSSEServer holds the connection open for delay before writing body,
// simulating an upstream that goes quiet long enough for the heartbeat
// ticker to fire.
func slowSSEServer(t *testing.T, delay time.Duration, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		flusher.Flush()
		time.Sleep(delay)
		_, _ = w.Write([]byte(body))
		flusher.Flush()
	}))
}

func TestEngineStream_IdleReasoningUpstreamEmitsHeartbeats(t *testing.T) {
	orig := heartbeatInterval
	heartbeatInterval = 15 * time.Millisecond
	defer func() { heartbeatInterval = orig }()

	reasoningBody := `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n"
	answerBody := `data: {"type":"message_stop"}` + "\n\n"

	reasoningSrv := slowSSEServer(t, 120*time.Millisecond, reasoningBody)
	defer reasoningSrv.Close()
	answerSrv := sseServer(t, answerBody)
	defer answerSrv.Close()

	client, err := upstream.NewClient()
	require.NoError(t, err)

	engine := NewEngine(client, upstream.Config{
		DeepSeekURL:          reasoningSrv.URL,
		AnthropicURL:         answerSrv.URL,
		DeepSeekDefaultModel: "deepseek-reasoner",
	})

	req := ChatRequest{
		Messages:       []wire.Message{{Role: "user", Content: "Hello"}},
		ReasoningModel: "deepseek-reasoner",
		AnswerModel:    "claude-haiku-4-5",
	}

	chunks, err := engine.Stream(context.Background(), req, ModeNormal, upstream.Credentials{
		DeepSeekKey:  "dk",
		AnthropicKey: "ak",
	})
	require.NoError(t, err)

	heartbeats := 0
	for e := range chunks {
		if e.Kind == ChunkHeartbeat {
			heartbeats++
		}
	}
	require.GreaterOrEqual(t, heartbeats, 2)
}
