package wire

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func collectEvents(ch <-chan NormalizedEvent) []NormalizedEvent {
	var events []NormalizedEvent
	for e := range ch {
		events = append(events, e)
	}
	return events
}

func TestDecodeAnthropic_HappyPath(t *testing.T) {
	body := "" +
		`data: {"type":"message_start","message":{"usage":{"input_tokens":10}}}` + "\n\n" +
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}` + "\n\n" +
		`data: {"type":"message_delta","usage":{"output_tokens":3}}` + "\n\n" +
		`data: {"type":"message_stop"}` + "\n\n"

	events := collectEvents(DecodeAnthropic(strings.NewReader(body)))

	require.True(t, len(events) >= 4)
	require.Equal(t, EventUsage, events[0].Type)
	require.Equal(t, 10, events[0].Usage.Input)
	require.Equal(t, EventRoleStart, events[1].Type)
	require.Equal(t, EventContentDelta, events[2].Type)
	require.Equal(t, "Hi", events[2].Text)
	require.Equal(t, EventUsage, events[3].Type)
	require.Equal(t, 3, events[3].Usage.Output)
	last := events[len(events)-1]
	require.Equal(t, EventStop, last.Type)
	require.Equal(t, "stop", last.StopReason)
}

func TestDecodeAnthropic_ByteBoundaryRobust(t *testing.T) {
	body := `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"hello"}}` + "\n\n" +
		`data: {"type":"message_stop"}` + "\n\n"

	whole := collectEvents(DecodeAnthropic(strings.NewReader(body)))

	// Split the same logical bytes across many small reads via a reader
	// that returns one byte at a time; the decoded sequence must match.
	split := collectEvents(DecodeAnthropic(&byteAtATimeReader{data: []byte(body)}))

	require.Equal(t, whole, split)
}

func TestDecodeAnthropic_UnknownTypeIgnored(t *testing.T) {
	body := `data: {"type":"content_block_start"}` + "\n\n" +
		`data: {"type":"message_stop"}` + "\n\n"
	events := collectEvents(DecodeAnthropic(strings.NewReader(body)))
	require.Len(t, events, 1)
	require.Equal(t, EventStop, events[0].Type)
}

func TestDecodeAnthropic_LiteralDoneTreatedAsStop(t *testing.T) {
	body := "data: [DONE]\n\n"
	events := collectEvents(DecodeAnthropic(strings.NewReader(body)))
	require.Len(t, events, 1)
	require.Equal(t, EventStop, events[0].Type)
	require.Equal(t, "stop", events[0].StopReason)
}

func TestEncodeAnthropic_ExtractsSystemAndDefaults(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
	}
	body := EncodeAnthropic("claude-haiku-4-5", messages, nil)

	require.Equal(t, "be terse", body["system"])
	require.Equal(t, 8192, body["max_tokens"])
	msgs, ok := body["messages"].([]Message)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	require.Equal(t, "user", msgs[0].Role)
}

func TestEncodeAnthropic_OpusGetsSmallerMaxTokens(t *testing.T) {
	body := EncodeAnthropic("claude-3-opus-20240229", nil, nil)
	require.Equal(t, 4096, body["max_tokens"])
}

func TestEncodeAnthropic_OverridesMergeButProtectFields(t *testing.T) {
	overrides := map[string]any{
		"messages":    "should not replace",
		"system":      "should not replace",
		"stream":      true,
		"temperature": 0.1,
	}
	body := EncodeAnthropic("claude-haiku-4-5", []Message{{Role: "user", Content: "hi"}}, overrides)

	require.Equal(t, 0.1, body["temperature"])
	require.NotEqual(t, "should not replace", body["system"])
	if _, present := body["stream"]; present {
		t.Fatalf("stream override should have been discarded")
	}
}

// byteAtATimeReader feeds its data one byte per Read call, to exercise
// decoders against the worst-case SSE chunk fragmentation.
type byteAtATimeReader struct {
	data []byte
	pos  int
}

func (r *byteAtATimeReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}
