package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config represents the application configuration
type Config struct {
	Store   StoreConfig   `json:"store"   envPrefix:"CLASSCHAT_"`
	LLM     LLMConfig     `json:"llm"     envPrefix:"CLASSCHAT_"`
	Chat    ChatConfig    `json:"chat"    envPrefix:"CLASSCHAT_"`
	Logging LoggingConfig `json:"logging" envPrefix:"CLASSCHAT_"`
	Debug   bool          `json:"debug"   env:"CLASSCHAT_DEBUG" envDefault:"false"`
}

// StoreConfig represents database connection configuration
type StoreConfig struct {
	Host            string `json:"host"              env:"DB_HOST"              envDefault:"localhost"`
	Port            int    `json:"port"              env:"DB_PORT"              envDefault:"5432"`
	User            string `json:"user"              env:"DB_USER"              envDefault:"classchat"`
	Password        string `json:"password"          env:"DB_PASSWORD"`
	Database        string `json:"database"          env:"DB_NAME"              envDefault:"school"`
	SSLMode         string `json:"ssl_mode"          env:"DB_SSL_MODE"          envDefault:"disable"`
	MaxConnections  int    `json:"max_connections"   env:"DB_MAX_CONNECTIONS"   envDefault:"5"`
	ConnMaxLifetime string `json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	QueryTimeout    string `json:"query_timeout"     env:"DB_QUERY_TIMEOUT"     envDefault:"30s"`
}

// LLMConfig represents model provider configuration
type LLMConfig struct {
	Provider string `json:"provider" env:"LLM_PROVIDER" envDefault:"openai"`
	Model    string `json:"model"    env:"LLM_MODEL"    envDefault:"gpt-4o-mini"`
	APIKey   string `json:"api_key"  env:"LLM_API_KEY"`
	BaseURL  string `json:"base_url" env:"LLM_BASE_URL"`
	Timeout  string `json:"timeout"  env:"LLM_TIMEOUT"  envDefault:"60s"`
}

// ChatConfig represents per-session pipeline configuration
type ChatConfig struct {
	MemoryTurns         int    `json:"memory_turns"          env:"MEMORY_TURNS"          envDefault:"10"`
	RowCap              int    `json:"row_cap"               env:"ROW_CAP"               envDefault:"200"`
	LargeTableThreshold int64  `json:"large_table_threshold" env:"LARGE_TABLE_THRESHOLD" envDefault:"10000"`
	SchemaCacheTTL      string `json:"schema_cache_ttl"      env:"SCHEMA_CACHE_TTL"      envDefault:"5m"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level"  env:"LOG_LEVEL"  envDefault:"info"`   // debug, info, warn, error
	Format string `json:"format" env:"LOG_FORMAT" envDefault:"text"`   // text, json
	Output string `json:"output" env:"LOG_OUTPUT" envDefault:"stderr"` // stdout, stderr, file
	File   string `json:"file"   env:"LOG_FILE"   envDefault:"~/.config/classchat/logs/app.log"`
}

// DefaultConfig returns a configuration populated with defaults only
func DefaultConfig() *Config {
	cfg := &Config{}
	_ = env.Parse(cfg)

	return cfg
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides loads configuration with optional command-line flag overrides
func LoadConfigWithOverrides(flagOverrides map[string]interface{}) (*Config, error) {
	config := &Config{}

	// Load from config file if it exists
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Apply environment variable overrides (also sets defaults for zero fields)
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if flagOverrides != nil {
		applyFlagOverrides(config, flagOverrides)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadConfigFromFile loads configuration from a JSON file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]interface{}) {
	for key, value := range overrides {
		switch key {
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "debug":
			if b, ok := value.(bool); ok && b {
				config.Debug = true
			}
		case "db-host":
			if str, ok := value.(string); ok && str != "" {
				config.Store.Host = str
			}
		case "db-name":
			if str, ok := value.(string); ok && str != "" {
				config.Store.Database = str
			}
		}
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	if config.Chat.MemoryTurns < 1 {
		return fmt.Errorf("memory_turns must be at least 1, got %d", config.Chat.MemoryTurns)
	}

	if config.Chat.RowCap < 1 {
		return fmt.Errorf("row_cap must be at least 1, got %d", config.Chat.RowCap)
	}

	for name, value := range map[string]string{
		"store.query_timeout":   config.Store.QueryTimeout,
		"llm.timeout":           config.LLM.Timeout,
		"chat.schema_cache_ttl": config.Chat.SchemaCacheTTL,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", name, value)
		}
	}

	return nil
}

// QueryTimeout returns the parsed store query timeout
func (c *Config) QueryTimeout() time.Duration {
	d, err := time.ParseDuration(c.Store.QueryTimeout)
	if err != nil {
		return 30 * time.Second
	}

	return d
}

// LLMTimeout returns the parsed model-call timeout
func (c *Config) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 60 * time.Second
	}

	return d
}

// SchemaCacheTTL returns the parsed schema cache TTL
func (c *Config) SchemaCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Chat.SchemaCacheTTL)
	if err != nil {
		return 5 * time.Minute
	}

	return d
}

// DSN builds a PostgreSQL connection string from the store configuration
func (c *Config) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", c.Store.Host),
		fmt.Sprintf("port=%d", c.Store.Port),
		fmt.Sprintf("user=%s", c.Store.User),
		fmt.Sprintf("dbname=%s", c.Store.Database),
		fmt.Sprintf("sslmode=%s", c.Store.SSLMode),
	}
	if c.Store.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", c.Store.Password))
	}

	return strings.Join(parts, " ")
}

// getConfigPath returns the path to the configuration file
func getConfigPath() string {
	if path := os.Getenv("CLASSCHAT_CONFIG"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}

	return filepath.Join(homeDir, ".config", "classchat", "config.json")
}
