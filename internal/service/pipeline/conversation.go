package pipeline

import "github.com/relay-run/relay/internal/core"

// toolResultTruncated replaces pruned tool-result content. Structural fields
// (role, tool-call id) are never touched, so the conversation stays
// well-formed for the provider.
const toolResultTruncated = "[tool result truncated to save context]"

// pruneConversation applies the sliding-window context policy: the
// tool-result contents of every round older than the last keepRounds rounds
// are replaced by the truncation marker. A round starts at an assistant
// message carrying tool calls and covers the tool messages that follow it.
// Rounds are counted from the conversation itself, so history carried in
// from a crash resume is pruned the same as history built in-loop.
func pruneConversation(messages []core.Message, keepRounds int) []core.Message {
	totalRounds := 0
	for i := range messages {
		if messages[i].Role == core.RoleAssistant && len(messages[i].ToolCalls) > 0 {
			totalRounds++
		}
	}
	cutoff := totalRounds - keepRounds
	if cutoff <= 0 {
		return messages
	}

	pruned := make([]core.Message, len(messages))
	copy(pruned, messages)

	round := 0
	for i := range pruned {
		if pruned[i].Role == core.RoleAssistant && len(pruned[i].ToolCalls) > 0 {
			round++
		}
		if pruned[i].Role == core.RoleTool && round <= cutoff && round > 0 {
			pruned[i].Content = toolResultTruncated
		}
	}
	return pruned
}
