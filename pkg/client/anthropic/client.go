package anthropic

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/client/capture"
	"github.com/fpt/chatdesk/pkg/message"
)

// Config for the Anthropic Messages API
type Config struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

// AnthropicClient adapts the Messages API. The system prompt travels in the
// top-level system field; penalties are not supported and are dropped.
type AnthropicClient struct {
	client *anthropic.Client
	cfg    Config
}

var _ domain.Provider = (*AnthropicClient)(nil)

func NewAnthropicClient(cfg Config) *AnthropicClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(capture.NewHTTPClient(nil)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicClient{client: &client, cfg: cfg}
}

func (c *AnthropicClient) Provider() domain.ProviderID { return domain.ProviderAnthropic }

func (c *AnthropicClient) BuiltinModels() []domain.ModelDescriptor { return BuiltinModels() }

// MaxContextTokens reports the approximate input window of model
func (c *AnthropicClient) MaxContextTokens(model string) int { return GetModelContextWindow(model) }

func (c *AnthropicClient) BuildRequest(t *message.Transcript, modelID string, cfg domain.GenerationConfig) (*domain.Request, error) {
	return domain.BuildRequest(domain.ProviderAnthropic, t, modelID, cfg, domain.BuildOptions{SystemAsField: true, NoPenalties: true})
}

func (c *AnthropicClient) Do(ctx context.Context, req *domain.Request) *domain.RawResponse {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.send(ctx, toParams(req))
}

func (c *AnthropicClient) ParseResponse(raw *domain.RawResponse) (*message.Message, error) {
	return domain.ParseRaw(domain.ProviderAnthropic, raw, "")
}

func (c *AnthropicClient) Probe(ctx context.Context, modelID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	raw := c.send(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: 1,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("ping"))},
	})
	if perr := domain.Classify(domain.ProviderAnthropic, raw); perr != nil {
		return perr
	}
	return nil
}

// ListModels pages through GET /v1/models; the API returns newest first.
func (c *AnthropicClient) ListModels(ctx context.Context) ([]domain.ModelDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	ctx, rec := capture.WithRecorder(ctx)

	page, err := c.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		raw := &domain.RawResponse{Err: err}
		if ex, ok := rec.Last(); ok {
			raw.StatusCode, raw.Body = ex.StatusCode, ex.Body
		}
		if perr := domain.Classify(domain.ProviderAnthropic, raw); perr != nil {
			return nil, perr
		}
		return nil, errors.Wrap(err, "list models")
	}

	out := make([]domain.ModelDescriptor, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, domain.ModelDescriptor{
			ID:             m.ID,
			DisplayName:    m.DisplayName,
			CapabilityTags: []string{"chat"},
		})
	}
	return out, nil
}

func toParams(req *domain.Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  make([]anthropic.MessageParam, 0, len(req.Messages)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, m := range domain.MergeSameRole(req.Messages) {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	// current models refuse temperature and top_p together; temperature wins
	switch {
	case req.Temperature != nil:
		params.Temperature = anthropic.Float(clampTemperature(*req.Temperature))
	case req.TopP != nil:
		params.TopP = anthropic.Float(*req.TopP)
	}
	return params
}

// Anthropic accepts temperature in [0, 1]
func clampTemperature(t float64) float64 {
	if t > 1 {
		return 1
	}
	return t
}

func (c *AnthropicClient) send(ctx context.Context, params anthropic.MessageNewParams) *domain.RawResponse {
	ctx, rec := capture.WithRecorder(ctx)
	resp, err := c.client.Messages.New(ctx, params)

	raw := &domain.RawResponse{Model: string(params.Model)}
	if ex, ok := rec.Last(); ok {
		raw.StatusCode, raw.Body = ex.StatusCode, ex.Body
	}
	if err != nil {
		raw.Err = errors.Wrap(err, "create message")
		return raw
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	raw.Text = text.String()
	raw.Usage = message.TokenUsage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return raw
}
