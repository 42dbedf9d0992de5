package pipeline

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/relay-run/relay/internal/core"
)

// handoffSummaryLimit caps how much of a stage's output is carried forward.
const handoffSummaryLimit = 500

// ResumeReader derives resume state from the append-only run log. Both
// queries are linear scans, newest first; correctness depends on the log
// never being compacted.
type ResumeReader struct {
	logs core.LogStore
}

// NewResumeReader creates a reader over the given log store.
func NewResumeReader(logs core.LogStore) *ResumeReader {
	return &ResumeReader{logs: logs}
}

// HandoffSummary returns the handoff summary of the agent's most recent
// completed stage, or empty when the agent never completed one. It prefers
// the structured handoff_summary field and falls back to deriving one from
// the recorded output.
func (r *ResumeReader) HandoffSummary(ctx context.Context, runID core.RunID, agentName string) (string, error) {
	entries, err := r.logs.QueryLogs(ctx, runID, core.LogFilter{
		Step:      core.StepAgentComplete,
		AgentName: agentName,
	})
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}

	latest := entries[0]
	if summary, ok := latest.Metadata[core.MetaHandoffSummary].(string); ok && summary != "" {
		return summary, nil
	}
	if output, ok := latest.Metadata[core.MetaOutput].(string); ok {
		return ExtractHandoffSummary(output), nil
	}
	return "", nil
}

// CrashMessages returns the serialized conversation from the agent's most
// recent crash, or nil when the agent never crashed in this run.
func (r *ResumeReader) CrashMessages(ctx context.Context, runID core.RunID, agentName string) ([]core.Message, error) {
	entries, err := r.logs.QueryLogs(ctx, runID, core.LogFilter{
		Step:      core.StepAgentCrash,
		AgentName: agentName,
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	raw, ok := entries[0].Metadata[core.MetaMessages].(string)
	if !ok || raw == "" {
		return nil, nil
	}
	return core.UnmarshalConversation(raw)
}

// ExtractHandoffSummary digests a stage output for downstream context. It
// looks for a "## Handoff Summary" (or "###") section and takes everything
// up to the next "##" heading, trimmed and capped; absent that section, the
// first handoffSummaryLimit characters of the raw output.
func ExtractHandoffSummary(output string) string {
	for _, heading := range []string{"## Handoff Summary", "### Handoff Summary"} {
		idx := strings.Index(output, heading)
		if idx < 0 {
			continue
		}
		body := output[idx+len(heading):]
		if end := strings.Index(body, "\n##"); end >= 0 {
			body = body[:end]
		}
		return truncate(strings.TrimSpace(body), handoffSummaryLimit)
	}
	return truncate(strings.TrimSpace(output), handoffSummaryLimit)
}

// truncate caps s at limit bytes without splitting a multi-byte rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
