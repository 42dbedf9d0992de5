package config

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Provider ProviderConfig `mapstructure:"provider"`
	State    StateConfig    `mapstructure:"state"`
	Report   ReportConfig   `mapstructure:"report"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EngineConfig configures pipeline execution.
type EngineConfig struct {
	// Timeout bounds a whole run, e.g. "30m".
	Timeout string `mapstructure:"timeout"`
	// MaxRetries is the retry count for retryable provider errors. The
	// engine makes max_retries+1 total attempts per call.
	MaxRetries int `mapstructure:"max_retries"`
	// MaxIterations caps generate/tool rounds per stage when the agent
	// does not set its own cap.
	MaxIterations int `mapstructure:"max_iterations"`
	// KeepRounds is how many recent tool rounds survive context pruning.
	KeepRounds int `mapstructure:"keep_rounds"`
	// CostLimitUSD stops a run once cumulative spend reaches it. Zero
	// means unlimited.
	CostLimitUSD float64 `mapstructure:"cost_limit_usd"`
	// MaxConcurrentRuns bounds background runs accepted at once.
	MaxConcurrentRuns int `mapstructure:"max_concurrent_runs"`
}

// ProviderConfig configures the LLM provider command.
type ProviderConfig struct {
	// Command is the executable invoked per generation call.
	Command string `mapstructure:"command"`
	// Args are fixed arguments prepended to every invocation.
	Args []string `mapstructure:"args"`
	// CallTimeout bounds a single generation call, e.g. "5m".
	CallTimeout string `mapstructure:"call_timeout"`
	// EnableCache turns on prompt caching for eligible stages.
	EnableCache bool `mapstructure:"enable_cache"`
}

// StateConfig configures run state persistence.
type StateConfig struct {
	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
}

// ReportConfig configures report output.
type ReportConfig struct {
	// Dir is the root directory reports are written under.
	Dir string `mapstructure:"dir"`
}
