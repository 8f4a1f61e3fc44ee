package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/client/anthropic"
	"github.com/fpt/chatdesk/pkg/client/gemini"
	"github.com/fpt/chatdesk/pkg/client/github"
	"github.com/fpt/chatdesk/pkg/client/ollama"
	"github.com/fpt/chatdesk/pkg/client/openai"
)

// Options selects and configures one provider
type Options struct {
	Provider   domain.ProviderID
	Credential string
	// BaseURL overrides the provider's default endpoint (Ollama host for ollama)
	BaseURL      string
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

// ErrMissingCredential is returned when a provider that needs a key gets none
var ErrMissingCredential = fmt.Errorf("no API key configured")

// NewProvider creates the adapter for opts.Provider.
func NewProvider(ctx context.Context, opts Options) (domain.Provider, error) {
	if opts.Provider.RequiresCredential() && opts.Credential == "" {
		return nil, fmt.Errorf("%s: %w", opts.Provider, ErrMissingCredential)
	}

	switch opts.Provider {
	case domain.ProviderOpenAI:
		return openai.NewOpenAIClient(openai.Config{
			APIKey:       opts.Credential,
			BaseURL:      opts.BaseURL,
			Timeout:      opts.Timeout,
			ProbeTimeout: opts.ProbeTimeout,
		}), nil
	case domain.ProviderGitHub:
		return github.NewGitHubClient(github.Config{
			Token:        opts.Credential,
			BaseURL:      opts.BaseURL,
			Timeout:      opts.Timeout,
			ProbeTimeout: opts.ProbeTimeout,
		}), nil
	case domain.ProviderAnthropic:
		return anthropic.NewAnthropicClient(anthropic.Config{
			APIKey:       opts.Credential,
			BaseURL:      opts.BaseURL,
			Timeout:      opts.Timeout,
			ProbeTimeout: opts.ProbeTimeout,
		}), nil
	case domain.ProviderGemini:
		return gemini.NewGeminiClient(ctx, gemini.Config{
			APIKey:       opts.Credential,
			BaseURL:      opts.BaseURL,
			Timeout:      opts.Timeout,
			ProbeTimeout: opts.ProbeTimeout,
		})
	case domain.ProviderOllama:
		return ollama.NewOllamaClient(ollama.Config{
			Host:         opts.BaseURL,
			APIKey:       opts.Credential,
			Timeout:      opts.Timeout,
			ProbeTimeout: opts.ProbeTimeout,
		})
	default:
		return nil, fmt.Errorf("unsupported provider: %q", opts.Provider)
	}
}

// BuiltinModels returns the static model table of provider without creating a client.
func BuiltinModels(provider domain.ProviderID) []domain.ModelDescriptor {
	switch provider {
	case domain.ProviderOpenAI:
		return openai.BuiltinModels()
	case domain.ProviderGitHub:
		return github.BuiltinModels()
	case domain.ProviderAnthropic:
		return anthropic.BuiltinModels()
	case domain.ProviderGemini:
		return gemini.BuiltinModels()
	case domain.ProviderOllama:
		return ollama.BuiltinModels()
	default:
		return nil
	}
}

// DefaultModel is the model selected for a provider when the user has not chosen one.
func DefaultModel(provider domain.ProviderID) string {
	switch provider {
	case domain.ProviderOpenAI:
		return "gpt-4o-mini"
	case domain.ProviderGitHub:
		return "openai/gpt-4o-mini"
	case domain.ProviderAnthropic:
		return "claude-sonnet-4-5"
	case domain.ProviderGemini:
		return "gemini-2.5-flash"
	case domain.ProviderOllama:
		return "llama3.2:latest"
	default:
		return ""
	}
}

// ContextWindow approximates how many input tokens model accepts
func ContextWindow(provider domain.ProviderID, model string) int {
	switch provider {
	case domain.ProviderOpenAI, domain.ProviderGitHub:
		if i := strings.LastIndex(model, "/"); i >= 0 {
			model = model[i+1:]
		}
		return openai.GetModelCapabilities(model).MaxContextWindow
	case domain.ProviderAnthropic:
		return anthropic.GetModelContextWindow(model)
	case domain.ProviderGemini:
		return 1048576
	case domain.ProviderOllama:
		if n := ollama.GetModelContextWindow(model); n > 0 {
			return n
		}
		return 8192
	default:
		return 32000
	}
}
