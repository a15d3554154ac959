package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/deepclaude-at/internal/compose"
	"github.com/rakunlabs/deepclaude-at/internal/sse"
	"github.com/rakunlabs/deepclaude-at/internal/upstream"
	"github.com/rakunlabs/deepclaude-at/internal/wire"
)

// gatewayMessage is the wire shape of one incoming chat message.
type gatewayMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// gatewayProviderConfig is the wire shape of one per-provider override
// block, carried straight into compose.ProviderConfig.
type gatewayProviderConfig struct {
	Body    map[string]any    `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// gatewayChatRequest is the OpenAI-compatible request body this gateway
// accepts at POST /v1/chat/completions.
type gatewayChatRequest struct {
	Messages        []gatewayMessage      `json:"messages"`
	Stream          bool                  `json:"stream"`
	System          string                `json:"system,omitempty"`
	Model           string                `json:"model,omitempty"`
	Temperature     *float64              `json:"temperature,omitempty"`
	TopP            *float64              `json:"top_p,omitempty"`
	MaxTokens       *int                  `json:"max_tokens,omitempty"`
	Verbose         bool                  `json:"verbose,omitempty"`
	DeepSeekConfig  gatewayProviderConfig `json:"deepseek_config,omitempty"`
	AnthropicConfig gatewayProviderConfig `json:"anthropic_config,omitempty"`
}

// toChatRequest converts the wire request into the Composition Engine's
// canonical ChatRequest, folding the convenience top-level sampling
// parameters into each provider's body unless that provider already set
// them explicitly.
func (req gatewayChatRequest) toChatRequest() compose.ChatRequest {
	messages := make([]wire.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = wire.Message{Role: m.Role, Content: m.Content}
	}

	reasoningConfig := compose.ProviderConfig{Body: cloneBody(req.DeepSeekConfig.Body), Headers: req.DeepSeekConfig.Headers}
	answerConfig := compose.ProviderConfig{Body: cloneBody(req.AnthropicConfig.Body), Headers: req.AnthropicConfig.Headers}

	applyDefault(reasoningConfig.Body, "temperature", req.Temperature)
	applyDefault(reasoningConfig.Body, "top_p", req.TopP)
	applyDefault(reasoningConfig.Body, "max_tokens", req.MaxTokens)
	applyDefault(answerConfig.Body, "temperature", req.Temperature)
	applyDefault(answerConfig.Body, "top_p", req.TopP)
	applyDefault(answerConfig.Body, "max_tokens", req.MaxTokens)

	answerModel, _ := answerConfig.Body["model"].(string)

	return compose.ChatRequest{
		Messages:        messages,
		Stream:          req.Stream,
		System:          req.System,
		ReasoningConfig: reasoningConfig,
		AnswerConfig:    answerConfig,
		Verbose:         req.Verbose,
		ReasoningModel:  req.Model,
		AnswerModel:     answerModel,
	}
}

func cloneBody(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}
	return out
}

// applyDefault sets body[key] from value only when value is non-nil and the
// provider config did not already set key explicitly.
func applyDefault[T any](body map[string]any, key string, value *T) {
	if value == nil {
		return
	}
	if _, exists := body[key]; exists {
		return
	}
	body[key] = *value
}

// ChatCompletions handles POST /v1/chat/completions.
func (s *Server) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	creds, missing := s.resolveCredentials(r)
	if len(missing) > 0 {
		httpResponseJSON(w, gatewayError(fmt.Sprintf("missing required credentials: %s", strings.Join(missing, ", "))), http.StatusUnauthorized)
		return
	}

	var wireReq gatewayChatRequest
	if err := json.NewDecoder(r.Body).Decode(&wireReq); err != nil {
		httpResponseJSON(w, gatewayError(fmt.Sprintf("invalid request body: %v", err)), http.StatusBadRequest)
		return
	}

	req := wireReq.toChatRequest()
	if req.ReasoningModel == "" {
		req.ReasoningModel = s.reasoningDefault
	}
	if req.AnswerModel == "" {
		req.AnswerModel = s.answerDefault
	}
	if err := req.Validate(); err != nil {
		httpResponseJSON(w, gatewayError(err.Error()), http.StatusBadRequest)
		return
	}

	if !req.Stream {
		s.handleAggregate(w, r, req, creds)
		return
	}
	s.handleStream(w, r, req, creds)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, req compose.ChatRequest, creds upstream.Credentials) {
	chunks, err := s.engine.Stream(r.Context(), req, s.mode, creds)
	if err != nil {
		s.writePreStreamFailure(w, err)
		return
	}

	encoder, err := sse.NewEncoder(w, "chatcmpl-"+ulid.Make().String(), s.reasoningDefault)
	if err != nil {
		slog.Error("sse encoder setup failed", "error", err)
		httpResponseJSON(w, gatewayError("internal error"), http.StatusInternalServerError)
		return
	}

	for chunk := range chunks {
		encoder.WriteChunk(chunk)
	}
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request, req compose.ChatRequest, creds upstream.Credentials) {
	result, err := s.engine.Aggregate(r.Context(), req, s.mode, creds, s.pricing)
	if err != nil {
		s.writePreStreamFailure(w, err)
		return
	}

	httpResponseJSON(w, buildAggregateResponse(result), http.StatusOK)
}

// writePreStreamFailure maps an error raised before any chunk left the
// Composition Engine to the status codes the error-handling design
// specifies. The handler normally rejects validation failures before this
// point; any validation sentinel that still arrives here maps to 400, and
// every other error is reported as an upstream failure with 502.
func (s *Server) writePreStreamFailure(w http.ResponseWriter, err error) {
	var validationErr error
	for _, sentinel := range []error{compose.ErrEmptyMessages, compose.ErrInvalidSystemPrompt, compose.ErrEmptyTrailingAssistant} {
		if errors.Is(err, sentinel) {
			validationErr = err
			break
		}
	}
	if validationErr != nil {
		httpResponseJSON(w, gatewayError(validationErr.Error()), http.StatusBadRequest)
		return
	}
	httpResponseJSON(w, gatewayError(fmt.Sprintf("upstream request failed: %v", err)), http.StatusBadGateway)
}

func gatewayError(message string) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
		},
	}
}

// resolveCredentials implements the two-tier credential lookup: request
// headers first, falling back to the .env store. It returns the names of
// any headers still missing after both sources are consulted.
func (s *Server) resolveCredentials(r *http.Request) (upstream.Credentials, []string) {
	creds := upstream.Credentials{}

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		creds.DeepSeekKey = strings.TrimPrefix(auth, "Bearer ")
	}
	creds.AnthropicKey = r.Header.Get("X-Anthropic-API-Token")

	if creds.DeepSeekKey == "" {
		if v, ok := s.envStore.Lookup("DEEPSEEK_API_KEY"); ok {
			creds.DeepSeekKey = v
		}
	}
	if creds.AnthropicKey == "" {
		if v, ok := s.envStore.Lookup("ANTHROPIC_API_KEY"); ok {
			creds.AnthropicKey = v
		}
	}

	var missing []string
	if creds.DeepSeekKey == "" {
		missing = append(missing, "Authorization")
	}
	if creds.AnthropicKey == "" {
		missing = append(missing, "X-Anthropic-API-Token")
	}
	return creds, missing
}

// buildAggregateResponse shapes an AggregateResult into the OpenAI-compatible
// non-streaming response body.
func buildAggregateResponse(result *compose.AggregateResult) map[string]any {
	message := map[string]any{
		"role":    "assistant",
		"content": result.Content,
	}
	if result.HasReasoningContent {
		message["reasoning_content"] = result.ReasoningContent
	}

	body := map[string]any{
		"id":      result.ID,
		"object":  "chat.completion",
		"created": result.Created,
		"model":   result.Model,
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       message,
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     result.PromptTokens,
			"completion_tokens": result.CompletionTokens,
			"total_tokens":      result.TotalTokens,
		},
	}

	if result.Cost != nil {
		body["cost"] = map[string]any{
			"reasoning_cost": result.Cost.ReasoningCost,
			"answer_cost":    result.Cost.AnswerCost,
			"total_cost":     result.Cost.TotalCost,
		}
	}

	return body
}
