package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/relay-run/relay/internal/core"
	"github.com/relay-run/relay/internal/logging"
)

// CommandProvider implements core.LLMProvider by shelling out to an external
// command per generation call. The request is written to the command's stdin
// as JSON and the result is read from stdout, also JSON. This keeps the
// engine decoupled from any one vendor SDK: the command is the provider.
type CommandProvider struct {
	command     string
	args        []string
	callTimeout time.Duration
	logger      *logging.Logger
}

// CommandProviderOption configures the provider.
type CommandProviderOption func(*CommandProvider)

// WithCallTimeout bounds each generation call.
func WithCallTimeout(d time.Duration) CommandProviderOption {
	return func(p *CommandProvider) {
		p.callTimeout = d
	}
}

// WithLogger sets the provider logger.
func WithLogger(logger *logging.Logger) CommandProviderOption {
	return func(p *CommandProvider) {
		p.logger = logger
	}
}

// NewCommandProvider creates a provider invoking command with fixed args.
func NewCommandProvider(command string, args []string, opts ...CommandProviderOption) *CommandProvider {
	p := &CommandProvider{
		command:     command,
		args:        args,
		callTimeout: 5 * time.Minute,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// errorEnvelope is the command's shape for a structured failure on stdout.
type errorEnvelope struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// Generate runs one LLM call through the external command.
func (p *CommandProvider) Generate(ctx context.Context, req core.GenerateRequest) (*core.GenerateResult, error) {
	if p.command == "" {
		return nil, core.ErrValidation("PROVIDER_COMMAND_REQUIRED", "provider command not configured")
	}
	if req.Model == "" {
		return nil, core.ErrValidation("MODEL_REQUIRED", "generate request has no model")
	}

	stdin, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling generate request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	// #nosec G204 -- command and args come from validated config
	cmd := exec.CommandContext(callCtx, p.command, p.args...)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Env = append(os.Environ(), "RELAY_MANAGED=true")
	// Without a WaitDelay, a provider that forks children keeps the stdout
	// pipe open past the kill and Run blocks until the grandchild exits,
	// defeating the call timeout.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	p.logger.Debug("llm: executing provider command",
		"command", p.command,
		"model", req.Model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
	)

	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runErr != nil {
		return nil, p.classifyFailure(callCtx, runErr, stdout.Bytes(), stderr.String(), elapsed)
	}

	var result core.GenerateResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, core.ErrProvider("MALFORMED_RESPONSE",
			fmt.Sprintf("provider output is not valid JSON: %v", err))
	}

	p.logger.Debug("llm: provider command finished",
		"duration", elapsed,
		"tokens_in", result.Usage.TokensIn,
		"tokens_out", result.Usage.TokensOut,
		"tool_calls", len(result.ToolCalls),
	)
	return &result, nil
}

// classifyFailure maps a command failure to a domain error, deciding
// retryability from the structured envelope when present and from exit
// context otherwise.
func (p *CommandProvider) classifyFailure(ctx context.Context, runErr error, stdout []byte, stderr string, elapsed time.Duration) error {
	if ctx.Err() == context.DeadlineExceeded {
		err := core.ErrTimeout(fmt.Sprintf("provider command timed out after %s", elapsed.Round(time.Second)))
		err.Cause = runErr
		return err
	}
	if ctx.Err() == context.Canceled {
		return ctx.Err()
	}

	// The command may report a structured error on stdout before exiting
	// non-zero.
	var envelope errorEnvelope
	if len(stdout) > 0 && json.Unmarshal(stdout, &envelope) == nil && envelope.Error != "" {
		if envelope.Retryable {
			err := core.ErrProviderUnavailable(envelope.Error)
			err.Cause = runErr
			return err
		}
		err := core.ErrProvider("PROVIDER_FAILED", envelope.Error)
		err.Cause = runErr
		return err
	}

	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = runErr.Error()
	}
	if len(detail) > 500 {
		detail = detail[:500] + "... [truncated]"
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		// Providers follow the sysexits convention of 75 (TEMPFAIL) for
		// transient failures like rate limits.
		if exitErr.ExitCode() == 75 {
			err := core.ErrRateLimit(detail)
			err.Cause = runErr
			return err
		}
		err := core.ErrProvider("PROVIDER_FAILED",
			fmt.Sprintf("provider exited %d: %s", exitErr.ExitCode(), detail))
		err.Cause = runErr
		return err
	}

	// Spawn failures (binary missing, permissions) are not retryable.
	err := core.ErrProvider("PROVIDER_SPAWN_FAILED", detail)
	err.Cause = runErr
	return err
}
