package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/agui-bridge/pkg/agui"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxTurns  = 8
	DefaultMaxTokens = 4096
)

// Config selects and tunes the agent built for each run.
type Config struct {
	Provider     string // echo, anthropic, openai
	Model        string
	APIKey       string
	BaseURL      string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	MaxTurns     int
	MaxRetries   int
	EchoDelay    time.Duration
}

// Factory builds the agent for one run.
type Factory interface {
	New(ctx context.Context, input *agui.RunAgentInput) (Agent, error)
}

// DefaultFactory builds agents from Config.
type DefaultFactory struct {
	config   Config
	tools    *ToolSet
	provider LLMProvider
	logger   zerolog.Logger
}

// NewFactory validates cfg and creates the LLM client once so runs share it.
func NewFactory(cfg Config, tools *ToolSet, logger zerolog.Logger) (*DefaultFactory, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}

	f := &DefaultFactory{
		config: cfg,
		tools:  tools,
		logger: logger.With().Str("component", "agent").Str("provider", cfg.Provider).Logger(),
	}

	switch cfg.Provider {
	case "", "echo":
		f.config.Provider = "echo"
	default:
		if cfg.Model == "" {
			return nil, fmt.Errorf("model is required for provider %s", cfg.Provider)
		}
		provider, err := NewProvider(cfg.Provider, cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		f.provider = provider
	}

	return f, nil
}

// WithProvider overrides the LLM provider, mainly for tests.
func (f *DefaultFactory) WithProvider(p LLMProvider) *DefaultFactory {
	f.provider = p
	if f.config.Provider == "echo" {
		f.config.Provider = p.Provider()
	}
	return f
}

func (f *DefaultFactory) New(ctx context.Context, input *agui.RunAgentInput) (Agent, error) {
	if f.config.Provider == "echo" {
		return NewEchoAgent(f.tools, f.config.EchoDelay, f.logger), nil
	}
	return NewLLMAgent(f.provider, f.tools, f.config, f.logger), nil
}
