package gemini

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/client/capture"
	"github.com/fpt/chatdesk/pkg/message"
)

// Config for the Gemini API
type Config struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

// GeminiClient adapts Models.GenerateContent. The system prompt is sent as
// the system instruction and assistant turns use the "model" role.
type GeminiClient struct {
	client *genai.Client
	cfg    Config
}

var _ domain.Provider = (*GeminiClient)(nil)

func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: capture.NewHTTPClient(nil),
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client, cfg: cfg}, nil
}

func (c *GeminiClient) Provider() domain.ProviderID { return domain.ProviderGemini }

func (c *GeminiClient) BuiltinModels() []domain.ModelDescriptor { return BuiltinModels() }

func (c *GeminiClient) BuildRequest(t *message.Transcript, modelID string, cfg domain.GenerationConfig) (*domain.Request, error) {
	return domain.BuildRequest(domain.ProviderGemini, t, modelID, cfg, domain.BuildOptions{
		SystemAsField: true,
		NoPenalties:   !supportsPenalties(modelID),
	})
}

func (c *GeminiClient) Do(ctx context.Context, req *domain.Request) *domain.RawResponse {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	contents, config := toContents(req)
	return c.generate(ctx, req.Model, contents, config)
}

func (c *GeminiClient) ParseResponse(raw *domain.RawResponse) (*message.Message, error) {
	return domain.ParseRaw(domain.ProviderGemini, raw, "")
}

func (c *GeminiClient) Probe(ctx context.Context, modelID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	contents := []*genai.Content{genai.NewContentFromText("ping", genai.RoleUser)}
	raw := c.generate(ctx, modelID, contents, &genai.GenerateContentConfig{MaxOutputTokens: 16})
	if perr := domain.Classify(domain.ProviderGemini, raw); perr != nil {
		return perr
	}
	return nil
}

// ListModels iterates every model page and keeps those that can generate content.
func (c *GeminiClient) ListModels(ctx context.Context) ([]domain.ModelDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	ctx, rec := capture.WithRecorder(ctx)

	var out []domain.ModelDescriptor
	for m, err := range c.client.Models.All(ctx) {
		if err != nil {
			raw := &domain.RawResponse{Err: err}
			if ex, ok := rec.Last(); ok {
				raw.StatusCode, raw.Body = ex.StatusCode, ex.Body
			}
			if perr := domain.Classify(domain.ProviderGemini, raw); perr != nil {
				return nil, perr
			}
			return nil, errors.Wrap(err, "list models")
		}
		if !canGenerate(m.SupportedActions) {
			continue
		}
		out = append(out, domain.ModelDescriptor{
			ID:             normalizeModelID(m.Name),
			DisplayName:    m.DisplayName,
			Description:    m.Description,
			CapabilityTags: []string{"chat"},
		})
	}
	return out, nil
}

func toContents(req *domain.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range domain.MergeSameRole(req.Messages) {
		if m.Role == "assistant" {
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
			continue
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.TopP != nil {
		config.TopP = genai.Ptr(float32(*req.TopP))
	}
	if req.FrequencyPenalty != nil {
		config.FrequencyPenalty = genai.Ptr(float32(*req.FrequencyPenalty))
	}
	if req.PresencePenalty != nil {
		config.PresencePenalty = genai.Ptr(float32(*req.PresencePenalty))
	}
	return contents, config
}

func (c *GeminiClient) generate(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) *domain.RawResponse {
	ctx, rec := capture.WithRecorder(ctx)
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)

	raw := &domain.RawResponse{Model: model}
	if ex, ok := rec.Last(); ok {
		raw.StatusCode, raw.Body = ex.StatusCode, ex.Body
	}
	if err != nil {
		raw.Err = errors.Wrap(err, "generate content")
		return raw
	}
	if len(resp.Candidates) == 0 {
		reason := "no candidates returned"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason = "prompt blocked: " + string(resp.PromptFeedback.BlockReason)
		}
		raw.Err = errors.New(reason)
		return raw
	}

	raw.Text = resp.Text()
	if resp.UsageMetadata != nil {
		raw.Usage = message.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return raw
}
