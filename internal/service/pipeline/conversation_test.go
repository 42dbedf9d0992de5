package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/relay-run/relay/internal/core"
)

// buildRounds constructs a conversation with r tool rounds: each round is an
// assistant message with one tool call followed by its tool result.
func buildRounds(r int) []core.Message {
	messages := []core.Message{core.UserMessage("task")}
	for i := 1; i <= r; i++ {
		id := fmt.Sprintf("call-%d", i)
		messages = append(messages,
			core.Message{
				Role:      core.RoleAssistant,
				Content:   fmt.Sprintf("round %d thinking", i),
				ToolCalls: []core.ToolCall{{ID: id, Name: "search"}},
			},
			core.ToolResultMessage(id, fmt.Sprintf("round %d result", i)),
		)
	}
	return messages
}

func TestPruneConversation(t *testing.T) {
	const keep = 3

	for _, total := range []int{1, 3, 4, 7} {
		t.Run(fmt.Sprintf("%d rounds", total), func(t *testing.T) {
			messages := buildRounds(total)
			pruned := pruneConversation(messages, keep)

			if len(pruned) != len(messages) {
				t.Fatalf("pruning changed message count: %d -> %d", len(messages), len(pruned))
			}

			wantTruncated := total - keep
			if wantTruncated < 0 {
				wantTruncated = 0
			}

			truncated := 0
			round := 0
			for i, msg := range pruned {
				// Structural fields never change.
				if msg.Role != messages[i].Role || msg.ToolCallID != messages[i].ToolCallID {
					t.Errorf("message %d structure changed: %+v", i, msg)
				}
				if msg.Role == core.RoleAssistant && len(msg.ToolCalls) > 0 {
					round++
					if msg.Content != messages[i].Content {
						t.Errorf("assistant content must not be pruned: %q", msg.Content)
					}
				}
				if msg.Role == core.RoleTool {
					if msg.Content == toolResultTruncated {
						truncated++
						if round > wantTruncated {
							t.Errorf("round %d truncated but is within the keep window", round)
						}
					} else if round <= wantTruncated {
						t.Errorf("round %d should be truncated, content = %q", round, msg.Content)
					}
				}
			}
			if truncated != wantTruncated {
				t.Errorf("truncated rounds = %d, want %d", truncated, wantTruncated)
			}
		})
	}
}

func TestPruneConversation_DoesNotMutateInput(t *testing.T) {
	messages := buildRounds(5)
	_ = pruneConversation(messages, 1)

	for _, msg := range messages {
		if strings.Contains(msg.Content, "truncated") {
			t.Fatal("pruneConversation mutated its input")
		}
	}
}
