package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relay-run/relay/internal/core"
)

// BuiltinHandler executes one built-in tool call in process.
type BuiltinHandler func(ctx context.Context, input map[string]any, tc core.ToolContext) (any, error)

// RemoteInvoker executes a tool call against a remote endpoint. The
// transport is a named external collaborator.
type RemoteInvoker interface {
	Invoke(ctx context.Context, endpoint, tool string, input map[string]any, tc core.ToolContext) (any, error)
}

// ToolTarget is a resolved dispatch target: either an in-process handler or
// a remote endpoint. It is a closed variant, built once per stage when the
// agent's tool list is resolved, never re-dispatched by string match.
type ToolTarget struct {
	Kind     core.ToolTargetKind
	Handler  BuiltinHandler
	Endpoint string
}

// ToolResolver turns an agent's declared tool bindings into resolved
// targets and provider-facing specs.
type ToolResolver struct {
	builtins map[string]BuiltinHandler
	remote   RemoteInvoker
}

// NewToolResolver creates a resolver over the given builtin registry and
// remote invoker. Either may be nil if the corresponding kind is unused.
func NewToolResolver(builtins map[string]BuiltinHandler, remote RemoteInvoker) *ToolResolver {
	return &ToolResolver{builtins: builtins, remote: remote}
}

// Resolve maps the agent's tool bindings to targets. Unknown builtin names
// and remote bindings without an endpoint are configuration errors.
func (r *ToolResolver) Resolve(agent core.AgentDefinition) (map[string]ToolTarget, []core.ToolSpec, error) {
	targets := make(map[string]ToolTarget, len(agent.Tools))
	specs := make([]core.ToolSpec, 0, len(agent.Tools))

	for _, binding := range agent.Tools {
		var target ToolTarget
		switch binding.Kind {
		case core.ToolTargetBuiltin:
			handler, ok := r.builtins[binding.Name]
			if !ok {
				return nil, nil, core.ErrValidation(core.CodeToolUnknown,
					fmt.Sprintf("agent %q declares unknown builtin tool %q", agent.Name, binding.Name))
			}
			target = ToolTarget{Kind: core.ToolTargetBuiltin, Handler: handler}
		case core.ToolTargetRemote:
			if binding.Endpoint == "" {
				return nil, nil, core.ErrValidation(core.CodeToolUnknown,
					fmt.Sprintf("remote tool %q has no endpoint", binding.Name))
			}
			if r.remote == nil {
				return nil, nil, core.ErrValidation(core.CodeToolUnknown,
					fmt.Sprintf("remote tool %q declared but no remote invoker configured", binding.Name))
			}
			target = ToolTarget{Kind: core.ToolTargetRemote, Endpoint: binding.Endpoint}
		default:
			return nil, nil, core.ErrValidation(core.CodeToolUnknown,
				fmt.Sprintf("tool %q has unknown kind %q", binding.Name, binding.Kind))
		}
		targets[binding.Name] = target
		specs = append(specs, core.ToolSpec{Name: binding.Name, Description: binding.Description})
	}
	return targets, specs, nil
}

// Execute dispatches one normalized tool call to its resolved target and
// formats the result as conversation text.
func (r *ToolResolver) Execute(ctx context.Context, targets map[string]ToolTarget, call core.ToolCall, tc core.ToolContext) (string, error) {
	target, ok := targets[call.Name]
	if !ok {
		return "", core.ErrExecution(core.CodeToolUnknown,
			fmt.Sprintf("model requested unresolved tool %q", call.Name))
	}

	input := normalizeToolInput(call)

	var (
		result any
		err    error
	)
	switch target.Kind {
	case core.ToolTargetBuiltin:
		result, err = target.Handler(ctx, input, tc)
	case core.ToolTargetRemote:
		result, err = r.remote.Invoke(ctx, target.Endpoint, call.Name, input, tc)
	}
	if err != nil {
		return "", err
	}
	return formatToolResult(result), nil
}

// normalizeToolInput returns the structured input for a call, degrading to a
// raw-string fallback when the provider's argument payload was malformed.
func normalizeToolInput(call core.ToolCall) map[string]any {
	if call.Input != nil {
		return call.Input
	}
	if call.RawInput == "" {
		return map[string]any{}
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(call.RawInput), &parsed); err == nil {
		return parsed
	}
	return map[string]any{"raw": call.RawInput}
}

// formatToolResult renders a tool result for the conversation: a list of
// content blocks becomes newline-joined text, other maps become JSON, and
// scalars their string form.
func formatToolResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		if texts, ok := contentBlockTexts(v); ok {
			return joinLines(texts)
		}
		return toJSON(v)
	case map[string]any:
		if blocks, ok := v["content"].([]any); ok {
			if texts, blockOK := contentBlockTexts(blocks); blockOK {
				return joinLines(texts)
			}
		}
		return toJSON(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func contentBlockTexts(blocks []any) ([]string, bool) {
	texts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		m, ok := block.(map[string]any)
		if !ok {
			return nil, false
		}
		text, ok := m["text"].(string)
		if !ok {
			return nil, false
		}
		texts = append(texts, text)
	}
	return texts, true
}

func joinLines(lines []string) string {
	out := ""
	for i, line := range lines {
		if i > 0 {
			out += "\n"
		}
		out += line
	}
	return out
}

func toJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
