// Package llm is a minimal client for the chat-completion services that
// back the recovery advisor.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider represents different LLM providers
type Provider string

const (
	OpenAI     Provider = "openai"
	OpenRouter Provider = "openrouter"
	Local      Provider = "local"
	Mock       Provider = "mock"
)

// Client sends one conversation and returns the model's reply
type Client interface {
	Complete(ctx context.Context, messages []Message) (*Completion, error)
	Provider() Provider
	Model() string
}

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is a model reply plus what it cost
type Completion struct {
	Content string
	Usage   *UsageStats
}

// Options configures a provider client
type Options struct {
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	// Responses scripts the mock provider, one reply per call
	Responses []string `yaml:"-"`
}

// NewClient creates a client for the given provider
func NewClient(provider Provider, apiKey string, opts Options) (Client, error) {
	switch provider {
	case OpenAI:
		return newOpenAIClient(apiKey, opts)
	case OpenRouter:
		return newOpenRouterClient(apiKey, opts)
	case Local:
		return newLocalClient(opts)
	case Mock:
		return NewMockClient(opts.Responses...), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}
