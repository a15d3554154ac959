package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/worldline-go/klient"

	"github.com/rakunlabs/deepclaude-at/internal/wire"
)

// Client drives a single upstream streaming call for a resolved Endpoint,
// dispatching the response body to the decoder matching the endpoint's
// dialect. One Client is reused across requests; it holds no per-request
// state.
//
// Endpoints carry distinct base URLs and bearer credentials resolved per
// request, unlike antropic.go's Provider which binds a base URL and header
// set once at construction. klient.WithDisableBaseURLCheck(true) lets a
// single klient.Client issue requests built with absolute URLs instead, and
// klient.WithDisableRetry(true) makes "never retries a failed upstream call"
// structural rather than a convention callers must remember.
type Client struct {
	client *klient.Client
}

// NewClient builds a Client shared across all resolved endpoints.
func NewClient() (*Client, error) {
	c, err := klient.New(
		klient.WithDisableBaseURLCheck(true),
		klient.WithDisableRetry(true),
		klient.WithDisableEnvValues(true),
		klient.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("build upstream http client: %w", err)
	}
	return &Client{client: c}, nil
}

// Stream POSTs body to ep and returns a channel of normalized events read
// from the response as it arrives. Disabling retries is structural here:
// the caller owns mid-stream retry semantics (there are none, per the
// "never retries a failed upstream call" contract) rather than delegating
// to transport-level retry middleware.
func (c *Client) Stream(ctx context.Context, ep Endpoint, body map[string]any) (<-chan wire.NormalizedEvent, error) {
	body["stream"] = true

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for key, values := range buildHeaders(ep) {
		req.Header[key] = values
	}

	// Streamed bodies are read incrementally by the wire decoder, so the raw
	// *http.Client is used directly rather than client.Do's
	// read-the-whole-body-into-a-callback helper, matching ChatStream's use
	// of p.client.HTTP.Do in antropic.go.
	resp, err := c.client.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("upstream %s returned status %d: %s", ep.Dialect, resp.StatusCode, string(errBody))
	}

	switch ep.Dialect {
	case wire.DialectAnthropic:
		return wrapWithClose(wire.DecodeAnthropic(resp.Body), resp.Body), nil
	case wire.DialectOpenAIChat, wire.DialectDeepSeekChat:
		return wrapWithClose(wire.DecodeOpenAIChat(resp.Body), resp.Body), nil
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("unsupported dialect %s", ep.Dialect)
	}
}

// wrapWithClose forwards events from decoded and closes body once decoded is
// drained, so the response body's lifetime is tied to the consumer finishing
// the channel rather than to the decoder goroutine remembering to do it.
func wrapWithClose(decoded <-chan wire.NormalizedEvent, body io.Closer) <-chan wire.NormalizedEvent {
	out := make(chan wire.NormalizedEvent, 64)
	go func() {
		defer close(out)
		defer body.Close()
		for event := range decoded {
			out <- event
		}
	}()
	return out
}

// buildHeaders constructs the auth header for ep's dialect. Anthropic-native
// sends the key both as x-api-key and as a bearer token, together with
// anthropic-version and an event-stream accept header; both OpenAI-chat and
// DeepSeek-chat use a plain bearer token.
func buildHeaders(ep Endpoint) http.Header {
	h := http.Header{"Content-Type": []string{"application/json"}}
	switch ep.Dialect {
	case wire.DialectAnthropic:
		h.Set("X-Api-Key", ep.Credential)
		h.Set("Authorization", "Bearer "+ep.Credential)
		h.Set("Anthropic-Version", "2023-06-01")
		h.Set("Accept", "text/event-stream")
	default:
		h.Set("Authorization", "Bearer "+ep.Credential)
	}
	return h
}
