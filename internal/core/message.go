package core

import (
	"encoding/json"
	"fmt"
)

// Message roles within a conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is one tool invocation requested by the model. Input holds the
// parsed structured arguments; RawInput preserves the original payload when
// it cannot be parsed as a JSON object.
type ToolCall struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Input    map[string]any `json:"input,omitempty"`
	RawInput string         `json:"raw_input,omitempty"`
}

// Message is one turn of a conversation. Tool result messages link back to
// the originating call through ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// UserMessage builds a single user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ToolResultMessage builds a tool result turn linked to a call id.
func ToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: content}
}

// Usage is the token and cost accounting for one LLM call.
type Usage struct {
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

// Add accumulates another call's usage.
func (u *Usage) Add(other Usage) {
	u.TokensIn += other.TokensIn
	u.TokensOut += other.TokensOut
	u.CostUSD += other.CostUSD
}

// MarshalConversation serializes a conversation for crash snapshots. The
// encoding round-trips tool-call linkage so a resumed stage continues from
// the exact point of failure.
func MarshalConversation(messages []Message) (string, error) {
	data, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("marshaling conversation: %w", err)
	}
	return string(data), nil
}

// UnmarshalConversation reconstructs a serialized conversation, restoring
// per-role message objects and tool-call/tool-result linkage by id.
func UnmarshalConversation(data string) ([]Message, error) {
	if data == "" {
		return nil, nil
	}
	var messages []Message
	if err := json.Unmarshal([]byte(data), &messages); err != nil {
		return nil, fmt.Errorf("unmarshaling conversation: %w", err)
	}
	for i := range messages {
		if messages[i].Role == "" {
			return nil, fmt.Errorf("conversation message %d has no role", i)
		}
	}
	return messages, nil
}
