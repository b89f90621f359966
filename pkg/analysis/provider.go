package analysis

import (
	"context"
	"fmt"

	"github.com/contextd/datavault/pkg/config"
)

// Provider is a minimal single-turn completion client. The agent only ever
// needs one system prompt, one user prompt, and the raw reply text.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	ModelName() string
	Close() error
}

// NewProvider builds a Provider from configuration.
func NewProvider(cfg *config.AnalysisConfig) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "openai":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported analysis provider: %s", cfg.Provider)
	}
}
