package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/relay-run/relay/internal/core"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "RELAY",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "RELAY",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (RELAY_*)
// 3. Project config (.relay.yaml in current directory)
// 4. User config (~/.config/relay/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".relay")
		l.v.SetConfigType("yaml")

		// Project config takes precedence over user config.
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "relay"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("engine.timeout", "30m")
	l.v.SetDefault("engine.max_retries", 3)
	l.v.SetDefault("engine.max_iterations", 10)
	l.v.SetDefault("engine.keep_rounds", 3)
	l.v.SetDefault("engine.cost_limit_usd", 0.0)
	l.v.SetDefault("engine.max_concurrent_runs", 4)

	l.v.SetDefault("provider.command", "relay-llm")
	l.v.SetDefault("provider.call_timeout", "5m")
	l.v.SetDefault("provider.enable_cache", true)

	l.v.SetDefault("state.path", ".relay/state.db")
	l.v.SetDefault("report.dir", ".relay/reports")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

func validate(cfg *Config) error {
	if _, err := time.ParseDuration(cfg.Engine.Timeout); err != nil {
		return core.ErrValidation("INVALID_TIMEOUT",
			fmt.Sprintf("engine.timeout %q is not a duration", cfg.Engine.Timeout))
	}
	if _, err := time.ParseDuration(cfg.Provider.CallTimeout); err != nil {
		return core.ErrValidation("INVALID_TIMEOUT",
			fmt.Sprintf("provider.call_timeout %q is not a duration", cfg.Provider.CallTimeout))
	}
	if cfg.Engine.MaxRetries < 0 {
		return core.ErrValidation("INVALID_RETRIES", "engine.max_retries cannot be negative")
	}
	if cfg.Engine.MaxIterations < 1 {
		return core.ErrValidation("INVALID_ITERATIONS", "engine.max_iterations must be at least 1")
	}
	if cfg.Engine.KeepRounds < 1 {
		return core.ErrValidation("INVALID_KEEP_ROUNDS", "engine.keep_rounds must be at least 1")
	}
	if cfg.Engine.CostLimitUSD < 0 {
		return core.ErrValidation("INVALID_COST_LIMIT", "engine.cost_limit_usd cannot be negative")
	}
	if cfg.Provider.Command == "" {
		return core.ErrValidation("PROVIDER_COMMAND_REQUIRED", "provider.command cannot be empty")
	}
	return nil
}

// RunTimeout parses the configured run timeout.
func (c *Config) RunTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Engine.Timeout)
	return d
}

// CallTimeout parses the configured per-call timeout.
func (c *Config) CallTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Provider.CallTimeout)
	return d
}

// CostLimit returns the configured cost limit, or nil when unlimited.
func (c *Config) CostLimit() *float64 {
	if c.Engine.CostLimitUSD <= 0 {
		return nil
	}
	limit := c.Engine.CostLimitUSD
	return &limit
}
