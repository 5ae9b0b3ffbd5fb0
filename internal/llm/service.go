package llm

import (
	"context"
	"time"
)

// Service defines the interface for model provider operations.
// An error returned from Complete always means the provider itself failed
// (network, auth, quota); judging the quality of the returned text is the
// caller's job.
type Service interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Configure(config Config) error
}

// Config represents model provider configuration
type Config struct {
	Provider string            `json:"provider"` // openai, anthropic, ollama
	Model    string            `json:"model"`
	APIKey   string            `json:"api_key,omitempty"`
	BaseURL  string            `json:"base_url,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
	// Timeout bounds each provider call; zero means DefaultTimeout.
	Timeout time.Duration `json:"-"`
}

// Provider constants for different model providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)
