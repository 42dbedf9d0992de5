package core

import (
	"strings"
	"testing"
)

func TestConversationRoundTrip(t *testing.T) {
	msgs := []Message{
		UserMessage("investigate the outage"),
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "call-1", Name: "search", Input: map[string]any{"query": "outage"}},
			},
		},
		ToolResultMessage("call-1", "3 incidents found"),
		{Role: RoleAssistant, Content: "Root cause identified."},
	}

	data, err := MarshalConversation(msgs)
	if err != nil {
		t.Fatalf("MarshalConversation() error = %v", err)
	}

	got, err := UnmarshalConversation(data)
	if err != nil {
		t.Fatalf("UnmarshalConversation() error = %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("round trip returned %d messages, want %d", len(got), len(msgs))
	}
	if got[1].ToolCalls[0].ID != "call-1" {
		t.Errorf("tool call ID = %q, want call-1", got[1].ToolCalls[0].ID)
	}
	if got[2].ToolCallID != "call-1" {
		t.Errorf("tool result linkage = %q, want call-1", got[2].ToolCallID)
	}
}

func TestUnmarshalConversation_MissingRole(t *testing.T) {
	_, err := UnmarshalConversation(`[{"content":"no role"}]`)
	if err == nil || !strings.Contains(err.Error(), "role") {
		t.Errorf("UnmarshalConversation() error = %v, want role validation failure", err)
	}
}

func TestUsage_Add(t *testing.T) {
	var total Usage
	total.Add(Usage{TokensIn: 100, TokensOut: 50, CostUSD: 0.01})
	total.Add(Usage{TokensIn: 200, TokensOut: 75, CostUSD: 0.02})

	if total.TokensIn != 300 || total.TokensOut != 125 {
		t.Errorf("token totals = %d/%d, want 300/125", total.TokensIn, total.TokensOut)
	}
	if total.CostUSD < 0.029 || total.CostUSD > 0.031 {
		t.Errorf("CostUSD = %f, want ~0.03", total.CostUSD)
	}
}
