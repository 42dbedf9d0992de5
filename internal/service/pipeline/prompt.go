package pipeline

import (
	"fmt"
	"strings"

	"github.com/relay-run/relay/internal/core"
)

// strategyHints maps known reasoning strategy tags to fixed prompt text.
var strategyHints = map[string]string{
	"chain_of_thought": "Think step by step. Lay out your reasoning explicitly before stating conclusions.",
	"react":            "Alternate between reasoning about what you know and acting with your tools. After each tool result, reflect before the next step.",
	"reflection":       "After drafting your answer, critique it for gaps and errors, then revise before finalizing.",
	"plan_and_execute": "First produce a short plan of the steps required, then execute the plan step by step.",
}

const toolBatchingHint = "When you need multiple independent tool results, request those tool calls together in one round rather than one at a time."

// BuildSystemPrompt assembles the stage system prompt. Parts are ordered and
// each is optional except the role line.
func BuildSystemPrompt(agent core.AgentDefinition, role, reportID string) string {
	var parts []string

	if agent.SystemPrompt != "" {
		parts = append(parts, agent.SystemPrompt)
	}

	parts = append(parts, fmt.Sprintf("You are acting as %q in a multi-agent pipeline.", role))

	if agent.Backstory != "" {
		parts = append(parts, "Backstory: "+agent.Backstory)
	}

	if len(agent.Opinions) > 0 {
		var b strings.Builder
		b.WriteString("Your working opinions:")
		for _, key := range agent.SortedOpinionKeys() {
			fmt.Fprintf(&b, "\n%s: %s", key, agent.Opinions[key])
		}
		parts = append(parts, b.String())
	}

	if agent.Strategy != "" {
		hint, ok := strategyHints[agent.Strategy]
		if !ok {
			hint = fmt.Sprintf("Use the %s approach.", agent.Strategy)
		}
		parts = append(parts, hint)
	}

	if len(agent.Tools) > 0 {
		parts = append(parts, toolBatchingHint)
	}

	if reportID != "" {
		parts = append(parts, fmt.Sprintf(
			"A report already exists for this run (id %s). Do not create a new report; read and append to the existing one.",
			reportID))
	}

	return strings.Join(parts, "\n\n")
}

// BuildUserPrompt builds the initial user turn for a fresh (non-resumed)
// stage: the run prompt, optionally prefixed by prior stage handoffs.
func BuildUserPrompt(handoff core.HandoffContext) string {
	if len(handoff.Prior) == 0 {
		return handoff.Prompt
	}

	var b strings.Builder
	b.WriteString("Previous stage handoffs:\n")
	for _, entry := range handoff.Prior {
		fmt.Fprintf(&b, "- %s (%s): %s\n", entry.AgentName, entry.Role, entry.Summary)
	}
	b.WriteString("\n")
	b.WriteString(handoff.Prompt)
	return b.String()
}
