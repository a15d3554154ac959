package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeOpenAIChat_ReasoningAndContent(t *testing.T) {
	body := "" +
		`data: {"choices":[{"delta":{"role":"assistant"},"finish_reason":null}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"reasoning_content":"Think A"},"finish_reason":null}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":"Hi"},"finish_reason":null}]}` + "\n\n" +
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n" +
		"data: [DONE]\n\n"

	events := collectEvents(DecodeOpenAIChat(strings.NewReader(body)))

	require.Equal(t, EventRoleStart, events[0].Type)
	require.Equal(t, EventReasoningDelta, events[1].Type)
	require.Equal(t, "Think A", events[1].Text)
	require.Equal(t, EventContentDelta, events[2].Type)
	require.Equal(t, "Hi", events[2].Text)
	require.Equal(t, EventStop, events[3].Type)
	require.Equal(t, "stop", events[3].StopReason)
	// finish_reason chunk terminates decoding before the literal [DONE]
	// frame is ever read.
	require.Len(t, events, 4)
}

func TestDecodeOpenAIChat_UsageChunk(t *testing.T) {
	body := `data: {"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":7}}` + "\n\n"
	events := collectEvents(DecodeOpenAIChat(strings.NewReader(body)))
	require.Len(t, events, 1)
	require.Equal(t, EventUsage, events[0].Type)
	require.Equal(t, 5, events[0].Usage.Input)
	require.Equal(t, 7, events[0].Usage.Output)
}

func TestDecodeOpenAIChat_UpstreamErrorSurfaces(t *testing.T) {
	body := `data: {"error":{"message":"rate limited"}}` + "\n\n"
	events := collectEvents(DecodeOpenAIChat(strings.NewReader(body)))
	require.Len(t, events, 1)
	require.Equal(t, EventStop, events[0].Type)
	require.Contains(t, events[0].StopReason, "rate limited")
}

func TestEncodeDeepSeekChat_SharesOpenAIShape(t *testing.T) {
	messages := []Message{{Role: "user", Content: "hi"}}
	a := EncodeOpenAIChat("deepseek-reasoner", messages, nil)
	b := EncodeDeepSeekChat("deepseek-reasoner", messages, nil)
	require.Equal(t, a, b)
}
