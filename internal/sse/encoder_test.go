package sse

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/deepclaude-at/internal/compose"
)

func TestWriteError_EmitsBareErrorObjectWithoutDone(t *testing.T) {
	rec := httptest.NewRecorder()
	enc, err := NewEncoder(rec, "chatcmpl-1", "deepseek-reasoner")
	require.NoError(t, err)

	enc.WriteChunk(compose.OutChunk{Kind: compose.ChunkError, Err: "upstream disconnected"})

	body := rec.Body.String()
	require.Contains(t, body, `data: {"error":"upstream disconnected"}`)
	require.NotContains(t, body, "[DONE]")
	require.NotContains(t, body, "finish_reason")
	require.NotContains(t, body, "choices")
}

func TestWriteChunk_Finish_WritesDone(t *testing.T) {
	rec := httptest.NewRecorder()
	enc, err := NewEncoder(rec, "chatcmpl-1", "deepseek-reasoner")
	require.NoError(t, err)

	enc.WriteChunk(compose.OutChunk{Kind: compose.ChunkFinish, FinishReason: "stop"})

	body := rec.Body.String()
	require.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}
