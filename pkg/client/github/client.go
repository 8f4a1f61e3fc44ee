// Package github adapts GitHub Models, an OpenAI-compatible inference
// endpoint with its own model catalog.
package github

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go/v2/option"
	"github.com/pkg/errors"

	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/client/capture"
	"github.com/fpt/chatdesk/pkg/client/openai"
)

const (
	DefaultBaseURL    = "https://models.github.ai/inference/"
	DefaultCatalogURL = "https://models.github.ai/"
	catalogPath       = "catalog/models"
)

// Config for the GitHub Models endpoint
type Config struct {
	Token        string
	BaseURL      string
	CatalogURL   string
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

// Client reuses the OpenAI adapter for inference and reads GitHub's catalog for listing
type Client struct {
	*openai.Client
	catalogURL   string
	probeTimeout time.Duration
}

var _ domain.Provider = (*Client)(nil)

// catalogEntry is one element of GET /catalog/models
type catalogEntry struct {
	ID                        string   `json:"id"`
	Name                      string   `json:"name"`
	Publisher                 string   `json:"publisher"`
	Summary                   string   `json:"summary"`
	Capabilities              []string `json:"capabilities"`
	Tags                      []string `json:"tags"`
	SupportedOutputModalities []string `json:"supported_output_modalities"`
}

func NewGitHubClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.CatalogURL == "" {
		cfg.CatalogURL = DefaultCatalogURL
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	inner := openai.NewOpenAIClient(openai.Config{
		Provider:        domain.ProviderGitHub,
		APIKey:          cfg.Token,
		BaseURL:         cfg.BaseURL,
		Timeout:         cfg.Timeout,
		ProbeTimeout:    cfg.ProbeTimeout,
		LegacyMaxTokens: true,
		Builtin:         BuiltinModels(),
	})
	return &Client{Client: inner, catalogURL: cfg.CatalogURL, probeTimeout: cfg.ProbeTimeout}
}

// ListModels reads the GitHub Models catalog and keeps text-output models.
func (c *Client) ListModels(ctx context.Context) ([]domain.ModelDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	ctx, rec := capture.WithRecorder(ctx)

	var entries []catalogEntry
	err := c.SDK().Get(ctx, catalogPath, nil, &entries,
		option.WithBaseURL(c.catalogURL),
		option.WithHeader("Accept", "application/vnd.github+json"),
	)
	if err != nil {
		raw := &domain.RawResponse{Err: err}
		if ex, ok := rec.Last(); ok {
			raw.StatusCode, raw.Body = ex.StatusCode, ex.Body
		}
		if perr := domain.Classify(domain.ProviderGitHub, raw); perr != nil {
			return nil, perr
		}
		return nil, errors.Wrap(err, "read model catalog")
	}

	out := make([]domain.ModelDescriptor, 0, len(entries))
	for _, e := range entries {
		if !producesText(e) {
			continue
		}
		tags := append([]string(nil), e.Capabilities...)
		tags = append(tags, e.Tags...)
		out = append(out, domain.ModelDescriptor{
			ID:             e.ID,
			DisplayName:    e.Name,
			Description:    strings.TrimSpace(e.Publisher + ": " + e.Summary),
			CapabilityTags: tags,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func producesText(e catalogEntry) bool {
	if len(e.SupportedOutputModalities) == 0 {
		return true
	}
	for _, m := range e.SupportedOutputModalities {
		if m == "text" {
			return true
		}
	}
	return false
}

// BuiltinModels is the fallback table for GitHub Models
func BuiltinModels() []domain.ModelDescriptor {
	return []domain.ModelDescriptor{
		{ID: "openai/gpt-4o", DisplayName: "OpenAI GPT-4o", CapabilityTags: []string{"chat", "vision"}},
		{ID: "openai/gpt-4o-mini", DisplayName: "OpenAI GPT-4o mini", CapabilityTags: []string{"chat", "vision"}},
		{ID: "openai/gpt-4.1", DisplayName: "OpenAI GPT-4.1", CapabilityTags: []string{"chat"}},
		{ID: "meta/Llama-3.3-70B-Instruct", DisplayName: "Llama 3.3 70B Instruct", CapabilityTags: []string{"chat"}},
		{ID: "mistral-ai/mistral-small-2503", DisplayName: "Mistral Small 3.1", CapabilityTags: []string{"chat"}},
		{ID: "deepseek/DeepSeek-V3-0324", DisplayName: "DeepSeek-V3", CapabilityTags: []string{"chat"}},
		{ID: "microsoft/Phi-4", DisplayName: "Phi-4", CapabilityTags: []string{"chat"}},
	}
}
