package llm

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/relay-run/relay/internal/core"
)

func shProvider(t *testing.T, script string, opts ...CommandProviderOption) *CommandProvider {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests shell out via sh")
	}
	return NewCommandProvider("sh", []string{"-c", script}, opts...)
}

func TestCommandProvider_Generate(t *testing.T) {
	provider := shProvider(t, `cat > /dev/null; echo '{
		"text": "hello",
		"usage": {"tokens_in": 10, "tokens_out": 5, "cost_usd": 0.001},
		"messages": [{"role": "assistant", "content": "hello"}]
	}'`)

	result, err := provider.Generate(context.Background(), core.GenerateRequest{
		Model:    "test-model",
		Messages: []core.Message{core.UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Text != "hello" {
		t.Errorf("Text = %q, want hello", result.Text)
	}
	if result.Usage.TokensIn != 10 || result.Usage.CostUSD != 0.001 {
		t.Errorf("Usage = %+v", result.Usage)
	}
	if len(result.Messages) != 1 || result.Messages[0].Role != core.RoleAssistant {
		t.Errorf("Messages = %+v", result.Messages)
	}
}

func TestCommandProvider_RequestOnStdin(t *testing.T) {
	// Echo the received model back so we can confirm the request reached
	// the command's stdin intact.
	provider := shProvider(t, `
		model=$(sed 's/.*"model":"\([^"]*\)".*/\1/')
		printf '{"text":"%s","usage":{},"messages":[]}' "$model"
	`)

	result, err := provider.Generate(context.Background(), core.GenerateRequest{
		Model:    "claude-sonnet-4-20250514",
		Messages: []core.Message{core.UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Text != "claude-sonnet-4-20250514" {
		t.Errorf("round-tripped model = %q", result.Text)
	}
}

func TestCommandProvider_StructuredRetryableError(t *testing.T) {
	provider := shProvider(t, `cat > /dev/null; echo '{"error": "overloaded", "retryable": true}'; exit 1`)

	_, err := provider.Generate(context.Background(), core.GenerateRequest{
		Model:    "m",
		Messages: []core.Message{core.UserMessage("hi")},
	})
	if !core.IsRetryable(err) {
		t.Errorf("Generate() error = %v, want retryable", err)
	}
}

func TestCommandProvider_TempfailExitCodeIsRetryable(t *testing.T) {
	provider := shProvider(t, `cat > /dev/null; echo "rate limited" >&2; exit 75`)

	_, err := provider.Generate(context.Background(), core.GenerateRequest{
		Model:    "m",
		Messages: []core.Message{core.UserMessage("hi")},
	})
	if !core.IsRetryable(err) {
		t.Errorf("Generate() error = %v, want retryable rate limit", err)
	}
	if !core.IsCategory(err, core.ErrCatRateLimit) {
		t.Errorf("Generate() error category = %v, want rate_limit", core.GetCategory(err))
	}
}

func TestCommandProvider_HardFailureNotRetryable(t *testing.T) {
	provider := shProvider(t, `cat > /dev/null; echo "invalid api key" >&2; exit 2`)

	_, err := provider.Generate(context.Background(), core.GenerateRequest{
		Model:    "m",
		Messages: []core.Message{core.UserMessage("hi")},
	})
	if err == nil || core.IsRetryable(err) {
		t.Errorf("Generate() error = %v, want non-retryable", err)
	}
}

func TestCommandProvider_MalformedOutput(t *testing.T) {
	provider := shProvider(t, `cat > /dev/null; echo "not json"`)

	_, err := provider.Generate(context.Background(), core.GenerateRequest{
		Model:    "m",
		Messages: []core.Message{core.UserMessage("hi")},
	})
	var domainErr *core.DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "MALFORMED_RESPONSE" {
		t.Errorf("Generate() error = %v, want MALFORMED_RESPONSE", err)
	}
}

func TestCommandProvider_CallTimeout(t *testing.T) {
	provider := shProvider(t, `sleep 5`, WithCallTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := provider.Generate(context.Background(), core.GenerateRequest{
		Model:    "m",
		Messages: []core.Message{core.UserMessage("hi")},
	})
	if !core.IsCategory(err, core.ErrCatTimeout) {
		t.Errorf("Generate() error = %v, want timeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout did not interrupt the command")
	}
}

func TestCommandProvider_TimeoutWithForkedChild(t *testing.T) {
	// The backgrounded sleep inherits the stdout pipe and survives the kill
	// of the shell. WaitDelay keeps Run from blocking on it.
	provider := shProvider(t, `sleep 5 & wait`, WithCallTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := provider.Generate(context.Background(), core.GenerateRequest{
		Model:    "m",
		Messages: []core.Message{core.UserMessage("hi")},
	})
	if !core.IsCategory(err, core.ErrCatTimeout) {
		t.Errorf("Generate() error = %v, want timeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout did not interrupt the command")
	}
}

func TestCommandProvider_MissingModel(t *testing.T) {
	provider := NewCommandProvider("true", nil)
	_, err := provider.Generate(context.Background(), core.GenerateRequest{})
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Errorf("Generate() error = %v, want validation error", err)
	}
}
