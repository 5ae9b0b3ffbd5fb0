// Package cmd wires the CLI surface: one-shot questions, the interactive
// chat, and read-only schema and stats views.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/classchat/classchat/internal/config"
	"github.com/classchat/classchat/internal/llm"
	"github.com/classchat/classchat/internal/logging"
)

var (
	flagConfig   string
	flagDebug    bool
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "classchat",
	Short: "Ask questions about the school database in plain language",
	Long: `classchat translates natural-language questions into read-only SQL
against the school database, runs them, and answers in plain language.
Follow-up questions are resolved against the conversation so far.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	ctx := context.Background()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Show generated SQL and row counts")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// loadRuntimeConfig loads configuration with flag overrides applied and
// initializes the global logger from it.
func loadRuntimeConfig() (*config.Config, error) {
	if flagConfig != "" {
		os.Setenv("CLASSCHAT_CONFIG", flagConfig)
	}

	cfg, err := config.LoadConfigWithOverrides(map[string]interface{}{
		"debug":     flagDebug,
		"log-level": flagLogLevel,
	})
	if err != nil {
		return nil, err
	}

	if err := logging.InitializeLogger(cfg.Logging); err != nil {
		logging.SetupFallbackLogger()
		logging.GetLogger().WithError(err).Warn("falling back to stderr logging")
	}

	return cfg, nil
}

// newProvider builds the configured model client. Configure applies the
// per-provider base-URL defaults and rejects incomplete credentials.
func newProvider(cfg *config.Config) (*llm.Client, error) {
	providerCfg := llm.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  cfg.LLMTimeout(),
	}

	client := llm.NewClient(providerCfg)
	if err := client.Configure(providerCfg); err != nil {
		return nil, err
	}

	return client, nil
}
