package compose

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/deepclaude-at/internal/wire"
)

func TestChatRequestValidate_EmptyMessagesRejected(t *testing.T) {
	err := ChatRequest{}.Validate()
	require.ErrorIs(t, err, ErrEmptyMessages)
}

func TestChatRequestValidate_DualSystemPromptRejected(t *testing.T) {
	req := ChatRequest{
		System:   "top level",
		Messages: []wire.Message{{Role: "system", Content: "inline"}, {Role: "user", Content: "hi"}},
	}
	require.ErrorIs(t, req.Validate(), ErrInvalidSystemPrompt)
}

func TestChatRequestValidate_TwoInlineSystemMessagesRejected(t *testing.T) {
	req := ChatRequest{
		Messages: []wire.Message{
			{Role: "system", Content: "a"},
			{Role: "system", Content: "b"},
			{Role: "user", Content: "hi"},
		},
	}
	require.ErrorIs(t, req.Validate(), ErrInvalidSystemPrompt)
}

func TestChatRequestValidate_EmptyTrailingAssistantRejected(t *testing.T) {
	req := ChatRequest{
		Messages: []wire.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: ""}},
	}
	require.ErrorIs(t, req.Validate(), ErrEmptyTrailingAssistant)
}

func TestChatRequestValidate_HappyPath(t *testing.T) {
	req := ChatRequest{
		System:   "be terse",
		Messages: []wire.Message{{Role: "user", Content: "hi"}},
	}
	require.NoError(t, req.Validate())
}

func TestBaseMessages_FoldsTopLevelSystemToFront(t *testing.T) {
	req := ChatRequest{
		System:   "be terse",
		Messages: []wire.Message{{Role: "user", Content: "hi"}},
	}
	out := req.baseMessages()
	require.Len(t, out, 2)
	require.Equal(t, "system", out[0].Role)
	require.Equal(t, "be terse", out[0].Content)
}

func TestBaseMessages_UsesInlineSystemWhenNoTopLevel(t *testing.T) {
	req := ChatRequest{
		Messages: []wire.Message{{Role: "system", Content: "inline"}, {Role: "user", Content: "hi"}},
	}
	out := req.baseMessages()
	require.Len(t, out, 2)
	require.Equal(t, "inline", out[0].Content)
}
