// Package upstream resolves which provider endpoint a model name routes to
// and drives the HTTP call that hands the response body to a wire.Decode*
// function.
package upstream

import (
	"fmt"
	"strings"

	"github.com/rakunlabs/deepclaude-at/internal/wire"
)

// Config is the subset of the configuration snapshot endpoint resolution
// needs: upstream URLs and default model names.
type Config struct {
	DeepSeekURL          string
	ClaudeOpenAIURL      string
	AnthropicURL         string
	DeepSeekDefaultModel string
	ClaudeDefaultModel   string
}

// Credentials carries the two bearer credentials resolved at the HTTP
// boundary (request headers, falling back to the .env store).
type Credentials struct {
	DeepSeekKey  string
	AnthropicKey string
}

// Endpoint is the single descriptor an Upstream Client needs to make one
// call: resolved once per request rather than re-derived at each call site,
// per the Dialect-dispatch redesign flag.
type Endpoint struct {
	URL        string
	Dialect    wire.Dialect
	Credential string
	Model      string
}

// ResolveEndpoint is a pure function of configuration, credentials, and
// model name, implementing the three-way endpoint-selection rule from the
// Upstream Clients component design.
func ResolveEndpoint(model string, cfg Config, creds Credentials) (Endpoint, error) {
	if model == "" {
		model = cfg.DeepSeekDefaultModel
	}

	if strings.HasPrefix(model, "deepseek") || model == "deepclaude" {
		if creds.DeepSeekKey == "" {
			return Endpoint{}, fmt.Errorf("missing DeepSeek credential for model %q", model)
		}
		return Endpoint{
			URL:        cfg.DeepSeekURL,
			Dialect:    wire.DialectDeepSeekChat,
			Credential: creds.DeepSeekKey,
			Model:      model,
		}, nil
	}

	if cfg.ClaudeOpenAIURL != "" {
		if creds.AnthropicKey == "" {
			return Endpoint{}, fmt.Errorf("missing Anthropic credential for model %q", model)
		}
		return Endpoint{
			URL:        cfg.ClaudeOpenAIURL,
			Dialect:    wire.DialectOpenAIChat,
			Credential: creds.AnthropicKey,
			Model:      model,
		}, nil
	}

	if creds.AnthropicKey == "" {
		return Endpoint{}, fmt.Errorf("missing Anthropic credential for model %q", model)
	}
	return Endpoint{
		URL:        cfg.AnthropicURL,
		Dialect:    wire.DialectAnthropic,
		Credential: creds.AnthropicKey,
		Model:      model,
	}, nil
}
