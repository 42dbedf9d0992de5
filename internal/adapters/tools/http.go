// Package tools provides remote tool execution over HTTP.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relay-run/relay/internal/core"
)

const defaultInvokeTimeout = 60 * time.Second

// HTTPInvoker executes tool calls against remote HTTP endpoints. Each call
// is a POST of an invocation envelope; the response body is the tool result,
// decoded as JSON when possible and passed through as text otherwise.
type HTTPInvoker struct {
	client *http.Client
}

// HTTPInvokerOption configures the invoker.
type HTTPInvokerOption func(*HTTPInvoker)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) HTTPInvokerOption {
	return func(i *HTTPInvoker) {
		i.client = client
	}
}

// NewHTTPInvoker creates an invoker with a default 60s per-call timeout.
func NewHTTPInvoker(opts ...HTTPInvokerOption) *HTTPInvoker {
	inv := &HTTPInvoker{
		client: &http.Client{Timeout: defaultInvokeTimeout},
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// invocation is the request envelope sent to the remote endpoint.
type invocation struct {
	Tool   string         `json:"tool"`
	Input  map[string]any `json:"input"`
	RunID  string         `json:"run_id"`
	UserID string         `json:"user_id,omitempty"`
}

// Invoke posts one tool call and returns the decoded response body.
func (i *HTTPInvoker) Invoke(ctx context.Context, endpoint, tool string, input map[string]any, tc core.ToolContext) (any, error) {
	payload, err := json.Marshal(invocation{
		Tool:   tool,
		Input:  input,
		RunID:  string(tc.RunID),
		UserID: tc.UserID,
	})
	if err != nil {
		return nil, core.ErrExecution("TOOL_ENCODE_FAILED",
			fmt.Sprintf("encoding invocation for tool %q", tool)).WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, core.ErrValidation("TOOL_ENDPOINT_INVALID",
			fmt.Sprintf("building request for tool %q endpoint %q", tool, endpoint)).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.ErrExecution("TOOL_INVOKE_FAILED",
			fmt.Sprintf("invoking tool %q at %s", tool, endpoint)).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, core.ErrExecution("TOOL_INVOKE_FAILED",
			fmt.Sprintf("reading response from tool %q", tool)).WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, core.ErrExecution("TOOL_INVOKE_FAILED",
			fmt.Sprintf("tool %q returned HTTP %d: %s", tool, resp.StatusCode, truncateBody(body)))
	}

	var result any
	if err := json.Unmarshal(body, &result); err != nil {
		// Non-JSON responses are legal; treat the body as text.
		return string(body), nil
	}
	return result, nil
}

func truncateBody(body []byte) string {
	const limit = 200
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
