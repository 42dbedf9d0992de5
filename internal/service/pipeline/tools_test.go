package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/relay-run/relay/internal/core"
)

type recordingInvoker struct {
	endpoint string
	tool     string
	input    map[string]any
	result   any
	err      error
}

func (r *recordingInvoker) Invoke(_ context.Context, endpoint, tool string, input map[string]any, _ core.ToolContext) (any, error) {
	r.endpoint = endpoint
	r.tool = tool
	r.input = input
	return r.result, r.err
}

func TestToolResolver_Resolve(t *testing.T) {
	builtins := map[string]BuiltinHandler{
		"search": func(context.Context, map[string]any, core.ToolContext) (any, error) { return "ok", nil },
	}

	t.Run("mixed bindings", func(t *testing.T) {
		resolver := NewToolResolver(builtins, &recordingInvoker{})
		agent := core.AgentDefinition{
			Name: "a",
			Tools: []core.ToolBinding{
				{Name: "search", Description: "web search", Kind: core.ToolTargetBuiltin},
				{Name: "fetch", Kind: core.ToolTargetRemote, Endpoint: "https://tools.internal/fetch"},
			},
		}
		targets, specs, err := resolver.Resolve(agent)
		if err != nil {
			t.Fatal(err)
		}
		if len(targets) != 2 || len(specs) != 2 {
			t.Fatalf("targets=%d specs=%d, want 2/2", len(targets), len(specs))
		}
		if targets["search"].Kind != core.ToolTargetBuiltin || targets["search"].Handler == nil {
			t.Errorf("search target = %+v", targets["search"])
		}
		if targets["fetch"].Endpoint != "https://tools.internal/fetch" {
			t.Errorf("fetch target = %+v", targets["fetch"])
		}
		if specs[0].Name != "search" || specs[0].Description != "web search" {
			t.Errorf("spec = %+v", specs[0])
		}
	})

	errorCases := []struct {
		name  string
		tools []core.ToolBinding
	}{
		{"unknown builtin", []core.ToolBinding{{Name: "nope", Kind: core.ToolTargetBuiltin}}},
		{"remote without endpoint", []core.ToolBinding{{Name: "fetch", Kind: core.ToolTargetRemote}}},
		{"unknown kind", []core.ToolBinding{{Name: "x", Kind: "plugin"}}},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			resolver := NewToolResolver(builtins, &recordingInvoker{})
			_, _, err := resolver.Resolve(core.AgentDefinition{Name: "a", Tools: tt.tools})
			if !core.IsCategory(err, core.ErrCatValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}

	t.Run("remote declared without invoker", func(t *testing.T) {
		resolver := NewToolResolver(builtins, nil)
		_, _, err := resolver.Resolve(core.AgentDefinition{
			Name:  "a",
			Tools: []core.ToolBinding{{Name: "fetch", Kind: core.ToolTargetRemote, Endpoint: "https://x"}},
		})
		if !core.IsCategory(err, core.ErrCatValidation) {
			t.Fatalf("err = %v, want validation error", err)
		}
	})
}

func TestToolResolver_Execute(t *testing.T) {
	ctx := context.Background()
	tc := core.ToolContext{RunID: "run-1"}

	t.Run("builtin receives parsed raw input", func(t *testing.T) {
		var gotInput map[string]any
		targets := map[string]ToolTarget{
			"search": {Kind: core.ToolTargetBuiltin, Handler: func(_ context.Context, input map[string]any, _ core.ToolContext) (any, error) {
				gotInput = input
				return "found it", nil
			}},
		}
		resolver := NewToolResolver(nil, nil)
		out, err := resolver.Execute(ctx, targets, core.ToolCall{ID: "c1", Name: "search", RawInput: `{"q":"outage"}`}, tc)
		if err != nil {
			t.Fatal(err)
		}
		if out != "found it" {
			t.Errorf("out = %q", out)
		}
		if gotInput["q"] != "outage" {
			t.Errorf("input = %v", gotInput)
		}
	})

	t.Run("remote dispatch", func(t *testing.T) {
		invoker := &recordingInvoker{result: map[string]any{"status": "ok"}}
		resolver := NewToolResolver(nil, invoker)
		targets := map[string]ToolTarget{
			"fetch": {Kind: core.ToolTargetRemote, Endpoint: "https://tools.internal/fetch"},
		}
		out, err := resolver.Execute(ctx, targets, core.ToolCall{ID: "c1", Name: "fetch", Input: map[string]any{"url": "https://a"}}, tc)
		if err != nil {
			t.Fatal(err)
		}
		if invoker.endpoint != "https://tools.internal/fetch" || invoker.tool != "fetch" {
			t.Errorf("invoker saw endpoint=%q tool=%q", invoker.endpoint, invoker.tool)
		}
		if out != `{"status":"ok"}` {
			t.Errorf("out = %q", out)
		}
	})

	t.Run("unresolved tool", func(t *testing.T) {
		resolver := NewToolResolver(nil, nil)
		_, err := resolver.Execute(ctx, map[string]ToolTarget{}, core.ToolCall{Name: "ghost"}, tc)
		if !core.IsCategory(err, core.ErrCatExecution) {
			t.Fatalf("err = %v, want execution error", err)
		}
	})

	t.Run("handler error propagates", func(t *testing.T) {
		boom := errors.New("boom")
		targets := map[string]ToolTarget{
			"search": {Kind: core.ToolTargetBuiltin, Handler: func(context.Context, map[string]any, core.ToolContext) (any, error) {
				return nil, boom
			}},
		}
		resolver := NewToolResolver(nil, nil)
		_, err := resolver.Execute(ctx, targets, core.ToolCall{Name: "search"}, tc)
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}
	})
}

func TestNormalizeToolInput(t *testing.T) {
	tests := []struct {
		name string
		call core.ToolCall
		want map[string]any
	}{
		{"structured wins", core.ToolCall{Input: map[string]any{"a": "b"}, RawInput: `{"c":"d"}`}, map[string]any{"a": "b"}},
		{"raw parses", core.ToolCall{RawInput: `{"q":"x"}`}, map[string]any{"q": "x"}},
		{"malformed raw wrapped", core.ToolCall{RawInput: `not json`}, map[string]any{"raw": "not json"}},
		{"empty", core.ToolCall{}, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeToolInput(tt.call)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("got[%q] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestFormatToolResult(t *testing.T) {
	tests := []struct {
		name   string
		result any
		want   string
	}{
		{"nil", nil, ""},
		{"string passthrough", "plain", "plain"},
		{"content blocks", []any{
			map[string]any{"type": "text", "text": "line one"},
			map[string]any{"type": "text", "text": "line two"},
		}, "line one\nline two"},
		{"map with content blocks", map[string]any{
			"content": []any{map[string]any{"text": "inner"}},
		}, "inner"},
		{"plain map as json", map[string]any{"k": "v"}, `{"k":"v"}`},
		{"scalar", 42, "42"},
		{"heterogeneous list as json", []any{"a", 1.0}, `["a",1]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatToolResult(tt.result); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
