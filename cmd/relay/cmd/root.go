package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/relay-run/relay/internal/config"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	dbPath    string
	reportDir string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

// cliViper backs flag bindings so CLI flags override config file and env.
var cliViper = viper.New()

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Durable multi-stage LLM pipeline runner",
	Long: `relay drives teams of LLM agents through sequential pipeline stages,
persisting every step so crashed or failed runs resume from the last
completed stage instead of starting over. Stage outputs accumulate in a
markdown report on disk.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .relay.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "",
		"state database path (default: .relay/state.db)")
	rootCmd.PersistentFlags().StringVar(&reportDir, "report-dir", "",
		"report output directory (default: .relay/reports)")

	// Bind flags to viper (errors are nil when flag exists)
	_ = cliViper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = cliViper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = cliViper.BindPFlag("state.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = cliViper.BindPFlag("report.dir", rootCmd.PersistentFlags().Lookup("report-dir"))
}

// loadConfig loads configuration honoring the persistent flags.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(cliViper)
	if cfgFile != "" {
		loader = loader.WithConfigFile(cfgFile)
	}
	return loader.Load()
}
