package compose

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/deepclaude-at/internal/upstream"
)

// AggregateResult is the assembled OpenAI-compatible non-streaming response.
type AggregateResult struct {
	ID                  string
	Created             int64
	Model               string
	Content             string
	ReasoningContent    string
	HasReasoningContent bool
	PromptTokens        int
	CompletionTokens    int
	TotalTokens         int
	Cost                *CostBreakdown
}

// CostBreakdown is attached to AggregateResult when the request's verbose
// flag is set.
type CostBreakdown struct {
	ReasoningCost string
	AnswerCost    string
	TotalCost     string
}

// Aggregate runs the full composition to completion and assembles a single
// response instead of streaming client chunks, per the Non-streaming
// Aggregator design. It reuses Stream's chunk sequence as its source of
// truth: the mode-dependent reasoning-forwarding policy already implemented
// there produces exactly the text the aggregator's reasoning_content rule
// calls for, concatenated.
func (e *Engine) Aggregate(ctx context.Context, req ChatRequest, mode Mode, creds upstream.Credentials, pricing PricingTable) (*AggregateResult, error) {
	chunks, err := e.Stream(ctx, req, mode, creds)
	if err != nil {
		return nil, err
	}

	var reasoning strings.Builder
	var content strings.Builder
	var reasoningInput, reasoningOutput int
	result := &AggregateResult{
		ID:      "chatcmpl-" + ulid.Make().String(),
		Created: time.Now().Add(8 * time.Hour).Unix(),
		Model:   composedModelName(req.ReasoningModel, req.AnswerModel),
	}

	for c := range chunks {
		switch c.Kind {
		case ChunkReasoning:
			reasoning.WriteString(c.Text)
			reasoningInput, reasoningOutput = c.Usage.Input, c.Usage.Output
		case ChunkContent:
			content.WriteString(c.Text)
		case ChunkFinish:
			result.PromptTokens = c.Usage.Input
			result.CompletionTokens = c.Usage.Output
			result.TotalTokens = c.Usage.Input + c.Usage.Output
		case ChunkError:
			return nil, fmt.Errorf("composition failed: %s", c.Err)
		}
	}

	result.Content = strings.TrimLeft(content.String(), " \t\n\r")
	if reasoning.Len() > 0 {
		result.ReasoningContent = reasoning.String()
		result.HasReasoningContent = true
	}

	if req.Verbose {
		reasoningCost := pricing.Cost(req.ReasoningModel, reasoningInput, reasoningOutput)
		answerCost := pricing.Cost(req.AnswerModel, result.PromptTokens, result.CompletionTokens)
		result.Cost = &CostBreakdown{
			ReasoningCost: FormatCost(reasoningCost),
			AnswerCost:    FormatCost(answerCost),
			TotalCost:     FormatCost(reasoningCost + answerCost),
		}
	}

	return result, nil
}

// composedModelName is "<reasoning_model>_<answer_model>", the non-streaming
// response's model field per the Client Stream Encoder's naming rule.
func composedModelName(reasoningModel, answerModel string) string {
	return reasoningModel + "_" + answerModel
}
