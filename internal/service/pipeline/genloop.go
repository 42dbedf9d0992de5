package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/relay-run/relay/internal/core"
	"github.com/relay-run/relay/internal/logging"
	"github.com/relay-run/relay/internal/service"
)

const (
	// defaultMaxIterations caps tool rounds when the agent sets no override.
	defaultMaxIterations = 10
	// defaultKeepRounds is the sliding-window size for context pruning.
	defaultKeepRounds = 3
	// cacheableToolBudget is the provider's cacheable-block budget; prompt
	// caching is only worthwhile below it.
	cacheableToolBudget = 4

	maxIterationsMarker = "\n\n[Generation stopped: maximum iterations reached]"
	costLimitMarker     = "\n\n[Generation stopped: run cost limit reached]"
)

// Phase names reported through ProgressFunc.
const (
	PhaseGenerating  = "generating"
	PhaseToolCalling = "tool_calling"
)

// ProgressFunc receives live progress, one notification per round phase.
type ProgressFunc func(round int, phase string)

// GenerationError is a stage failure carrying the best serialized
// conversation obtainable, so the stage can be resumed exactly.
type GenerationError struct {
	Err      error
	Messages []core.Message
}

func (e *GenerationError) Error() string {
	return e.Err.Error()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// StageOutput is a successful generation result. Analysis collects the
// intermediate assistant turns across tool rounds; Output is the final text.
type StageOutput struct {
	Analysis string
	Output   string
	Messages []core.Message
}

// GenerateInput is one stage's worth of generation work.
type GenerateInput struct {
	Run   *core.Run
	Agent core.AgentDefinition
	Role  string
	// Handoff threads prior stage summaries and the report identity.
	Handoff core.HandoffContext
	// ResumeMessages, when set, continues a crashed stage's conversation
	// instead of starting fresh.
	ResumeMessages []core.Message
	// Targets and Specs are the agent's pre-resolved tools.
	Targets map[string]ToolTarget
	Specs   []core.ToolSpec
	// Progress receives per-round notifications. Optional.
	Progress ProgressFunc
}

// Generator runs the per-stage LLM control loop.
type Generator struct {
	provider core.LLMProvider
	ledger   core.UsageLedger
	resolver *ToolResolver
	retry    *service.RetryPolicy
	logger   *logging.Logger

	maxIterations int
	keepRounds    int
	// enableCache and aggregatedMode gate prompt-cache eligibility.
	enableCache    bool
	aggregatedMode bool
}

// GeneratorOption configures the generator.
type GeneratorOption func(*Generator)

// WithMaxIterations sets the default tool-round cap.
func WithMaxIterations(n int) GeneratorOption {
	return func(g *Generator) { g.maxIterations = n }
}

// WithKeepRounds sets the pruning window.
func WithKeepRounds(n int) GeneratorOption {
	return func(g *Generator) { g.keepRounds = n }
}

// WithPromptCache enables provider prompt caching for eligible stages.
func WithPromptCache(enabled bool) GeneratorOption {
	return func(g *Generator) { g.enableCache = enabled }
}

// WithAggregatedMode marks the provider as running in aggregated request
// mode, which disqualifies prompt caching.
func WithAggregatedMode(aggregated bool) GeneratorOption {
	return func(g *Generator) { g.aggregatedMode = aggregated }
}

// WithRetryPolicy overrides the retry policy for provider calls.
func WithRetryPolicy(policy *service.RetryPolicy) GeneratorOption {
	return func(g *Generator) { g.retry = policy }
}

// WithGeneratorLogger sets the generator logger.
func WithGeneratorLogger(logger *logging.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = logger }
}

// NewGenerator creates a generator over a provider, ledger, and resolver.
func NewGenerator(provider core.LLMProvider, ledger core.UsageLedger, resolver *ToolResolver, opts ...GeneratorOption) *Generator {
	g := &Generator{
		provider:      provider,
		ledger:        ledger,
		resolver:      resolver,
		retry:         service.DefaultRetryPolicy(),
		logger:        logging.NewNop(),
		maxIterations: defaultMaxIterations,
		keepRounds:    defaultKeepRounds,
		enableCache:   true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate executes the stage control loop: guard checks, provider call
// with retry, tool dispatch, pruning, until the model stops calling tools or
// a soft stop fires. Failures carry the conversation for resume.
func (g *Generator) Generate(ctx context.Context, in GenerateInput) (*StageOutput, error) {
	if in.Agent.Model == "" {
		return nil, core.ErrNoModel(in.Agent.Name)
	}

	systemPrompt := BuildSystemPrompt(in.Agent, in.Role, in.Handoff.ReportID)

	messages := in.ResumeMessages
	if len(messages) == 0 {
		messages = []core.Message{core.UserMessage(BuildUserPrompt(in.Handoff))}
	} else {
		// Resumed history counts toward the pruning window too.
		messages = pruneConversation(messages, g.keepRounds)
	}

	maxIterations := g.maxIterations
	if in.Agent.MaxIterations > 0 {
		maxIterations = in.Agent.MaxIterations
	}

	enableCache := g.enableCache && !g.aggregatedMode && len(in.Specs) <= cacheableToolBudget
	logger := g.logger.WithRun(string(in.Run.ID)).WithAgent(in.Agent.Name)

	var analysis []string
	lastText := ""
	round := 0 // completed tool rounds

	for {
		// Guards run first, every round.
		if round >= maxIterations {
			logger.Warn("generation stopped at iteration cap", "rounds", round)
			return softStop(analysis, lastText, maxIterationsMarker, messages), nil
		}
		if in.Run.CostLimit != nil {
			exceeded, total, err := g.ledger.Check(ctx, in.Run.ID, *in.Run.CostLimit)
			if err != nil {
				return nil, &GenerationError{Err: err, Messages: messages}
			}
			if exceeded {
				logger.Warn("generation stopped at cost limit",
					"total_usd", total, "limit_usd", *in.Run.CostLimit)
				return softStop(analysis, lastText, costLimitMarker, messages), nil
			}
		}

		notifyProgress(in.Progress, round+1, PhaseGenerating)

		req := core.GenerateRequest{
			Model:        in.Agent.Model,
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Tools:        in.Specs,
			EnableCache:  enableCache,
		}

		var result *core.GenerateResult
		err := g.retry.ExecuteWithNotify(ctx,
			func(ctx context.Context) error {
				r, genErr := g.provider.Generate(ctx, req)
				if genErr != nil {
					return genErr
				}
				result = r
				return nil
			},
			func(attempt int, attemptErr error, delay time.Duration) {
				logger.Warn("provider call failed, retrying",
					"attempt", attempt, "delay", delay, "error", attemptErr)
			},
		)
		if err != nil {
			return nil, &GenerationError{Err: err, Messages: messages}
		}

		if recErr := g.ledger.Record(ctx, in.Run.ID, result.Usage); recErr != nil {
			logger.Warn("recording usage failed", "error", recErr)
		}

		messages = result.Messages
		lastText = result.Text

		if len(result.ToolCalls) == 0 {
			// Normal termination.
			return &StageOutput{
				Analysis: strings.Join(analysis, "\n\n"),
				Output:   result.Text,
				Messages: messages,
			}, nil
		}

		notifyProgress(in.Progress, round+1, PhaseToolCalling)
		if result.Text != "" {
			analysis = append(analysis, result.Text)
		}

		tc := core.ToolContext{RunID: in.Run.ID}
		for _, call := range result.ToolCalls {
			content, execErr := g.resolver.Execute(ctx, in.Targets, call, tc)
			if execErr != nil {
				// Tool failures go back to the model as results rather
				// than aborting the stage.
				content = fmt.Sprintf("tool error: %v", execErr)
				logger.Warn("tool execution failed", "tool", call.Name, "error", execErr)
			}
			messages = append(messages, core.ToolResultMessage(call.ID, content))
		}

		round++
		messages = pruneConversation(messages, g.keepRounds)
	}
}

func softStop(analysis []string, lastText, marker string, messages []core.Message) *StageOutput {
	return &StageOutput{
		Analysis: strings.Join(analysis, "\n\n"),
		Output:   lastText + marker,
		Messages: messages,
	}
}

func notifyProgress(fn ProgressFunc, round int, phase string) {
	if fn != nil {
		fn(round, phase)
	}
}
