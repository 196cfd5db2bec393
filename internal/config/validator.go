package config

import (
	"fmt"
	"slices"
	"strings"
)

// Validator validates individual configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if slices.Contains(validLevels, level) {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateEnv checks that every entry is KEY=VALUE with a non-empty key.
func (v *Validator) ValidateEnv(env []string) error {
	for _, kv := range env {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return fmt.Errorf("invalid env entry %q (want KEY=VALUE)", kv)
		}
	}
	return nil
}

// ValidateConfig collects every problem instead of stopping at the first.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	if cfg.Agent.Provider == "anthropic" || cfg.Agent.Provider == "openai" {
		if err := v.ValidateAPIKey(cfg.Agent.APIKey, cfg.Agent.Provider); err != nil {
			errs = append(errs, fmt.Errorf("agent: %w", err))
		}
	}

	for id, srv := range cfg.MCP.Servers {
		if err := v.ValidateEnv(srv.Env); err != nil {
			errs = append(errs, fmt.Errorf("mcp server %s: %w", id, err))
		}
	}

	return errs
}
