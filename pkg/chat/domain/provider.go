package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/fpt/chatdesk/pkg/message"
)

// ProviderID names a provider family
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderGitHub    ProviderID = "github"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderGemini    ProviderID = "gemini"
	ProviderOllama    ProviderID = "ollama"
)

// Providers lists every supported provider in display order
func Providers() []ProviderID {
	return []ProviderID{ProviderOpenAI, ProviderGitHub, ProviderAnthropic, ProviderGemini, ProviderOllama}
}

// ParseProvider resolves a provider name or common alias
func ParseProvider(s string) (ProviderID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return ProviderOpenAI, nil
	case "github", "github-models", "ghmodels":
		return ProviderGitHub, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "gemini", "google":
		return ProviderGemini, nil
	case "ollama":
		return ProviderOllama, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// RequiresCredential reports whether the provider cannot be called without one.
// Local Ollama servers normally run unauthenticated.
func (p ProviderID) RequiresCredential() bool {
	return p != ProviderOllama
}

// ModelDescriptor describes one selectable model
type ModelDescriptor struct {
	ID             string   `json:"id" yaml:"id"`
	DisplayName    string   `json:"displayName,omitempty" yaml:"display_name,omitempty"`
	Description    string   `json:"description,omitempty" yaml:"description,omitempty"`
	CapabilityTags []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// Label returns the display name, or the id when there is none
func (d ModelDescriptor) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.ID
}

// Adapter translates a transcript to one provider's request schema, performs
// the exchange, and classifies the outcome. Adapters never retry.
type Adapter interface {
	// Provider returns the family this adapter speaks to
	Provider() ProviderID

	// BuildRequest maps the recent window of t onto a provider request
	BuildRequest(t *message.Transcript, modelID string, cfg GenerationConfig) (*Request, error)

	// Do performs the remote call. Failures are recorded in the RawResponse.
	Do(ctx context.Context, req *Request) *RawResponse

	// ParseResponse yields the assistant message, or a *ProviderError
	ParseResponse(raw *RawResponse) (*message.Message, error)
}

// ModelLister enumerates models from the provider's listing endpoint
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelDescriptor, error)
}

// Prober checks a single model with a minimal request
type Prober interface {
	Probe(ctx context.Context, modelID string) error
}

// Provider is everything one provider package offers
type Provider interface {
	Adapter
	ModelLister
	Prober

	// BuiltinModels is the static table used when listing fails
	BuiltinModels() []ModelDescriptor
}

// Send runs one full exchange: build, dispatch, parse.
func Send(ctx context.Context, a Adapter, t *message.Transcript, modelID string, cfg GenerationConfig) (*message.Message, error) {
	req, err := a.BuildRequest(t, modelID, cfg)
	if err != nil {
		return nil, err
	}
	return a.ParseResponse(a.Do(ctx, req))
}
