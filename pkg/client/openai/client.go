package openai

import (
	"context"
	"sort"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/pkg/errors"

	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/client/capture"
	"github.com/fpt/chatdesk/pkg/message"
)

const (
	DefaultBaseURL      = "https://api.openai.com/v1/"
	defaultTimeout      = 60 * time.Second
	defaultProbeTimeout = 10 * time.Second
	probeMaxTokens      = 16
)

// Config describes one OpenAI-compatible endpoint
type Config struct {
	// Provider is reported in errors and logs; defaults to openai
	Provider     domain.ProviderID
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	ProbeTimeout time.Duration
	// LegacyMaxTokens sends max_tokens instead of max_completion_tokens,
	// for endpoints that predate the newer field.
	LegacyMaxTokens bool
	// Builtin overrides the static fallback table
	Builtin []domain.ModelDescriptor
}

// Client speaks the Chat Completions API of OpenAI and compatible services
type Client struct {
	client  *openai.Client
	cfg     Config
	builtin []domain.ModelDescriptor
}

var _ domain.Provider = (*Client)(nil)

// NewOpenAIClient creates a client for the given credential.
// Retries are disabled; the caller decides what to do after a failure.
func NewOpenAIClient(cfg Config) *Client {
	if cfg.Provider == "" {
		cfg.Provider = domain.ProviderOpenAI
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
		option.WithHTTPClient(capture.NewHTTPClient(nil)),
	}
	client := openai.NewClient(opts...)

	builtin := cfg.Builtin
	if len(builtin) == 0 {
		builtin = BuiltinModels()
	}
	return &Client{client: &client, cfg: cfg, builtin: builtin}
}

func (c *Client) Provider() domain.ProviderID { return c.cfg.Provider }

func (c *Client) BuiltinModels() []domain.ModelDescriptor {
	return append([]domain.ModelDescriptor(nil), c.builtin...)
}

// SDK exposes the underlying client for callers that need other endpoints
func (c *Client) SDK() *openai.Client { return c.client }

// BuildRequest keeps the system prompt inline at messages[0]
func (c *Client) BuildRequest(t *message.Transcript, modelID string, cfg domain.GenerationConfig) (*domain.Request, error) {
	return domain.BuildRequest(c.cfg.Provider, t, modelID, cfg, domain.BuildOptions{})
}

// Do sends the request through the Chat Completions endpoint
func (c *Client) Do(ctx context.Context, req *domain.Request) *domain.RawResponse {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.complete(ctx, c.toParams(req))
}

func (c *Client) ParseResponse(raw *domain.RawResponse) (*message.Message, error) {
	return domain.ParseRaw(c.cfg.Provider, raw, "")
}

// Probe sends a one-line request with a tiny output budget.
func (c *Client) Probe(ctx context.Context, modelID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	req := &domain.Request{
		Model:     modelID,
		Messages:  []domain.WireMessage{{Role: "user", Content: "ping"}},
		MaxTokens: probeMaxTokens,
	}
	raw := c.complete(ctx, c.toParams(req))
	if perr := domain.Classify(c.cfg.Provider, raw); perr != nil {
		return perr
	}
	return nil
}

// ListModels returns chat-capable models from GET /models, sorted by id.
func (c *Client) ListModels(ctx context.Context) ([]domain.ModelDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	ctx, rec := capture.WithRecorder(ctx)

	page, err := c.client.Models.List(ctx)
	if err != nil {
		raw := &domain.RawResponse{Err: err}
		if ex, ok := rec.Last(); ok {
			raw.StatusCode, raw.Body = ex.StatusCode, ex.Body
		}
		if perr := domain.Classify(c.cfg.Provider, raw); perr != nil {
			return nil, perr
		}
		return nil, errors.Wrap(err, "list models")
	}

	var out []domain.ModelDescriptor
	for _, m := range page.Data {
		if !isChatModel(m.ID) {
			continue
		}
		d := domain.ModelDescriptor{ID: m.ID, Description: "owned by " + string(m.OwnedBy)}
		for _, b := range c.builtin {
			if b.ID == m.ID {
				d = b
				break
			}
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Client) toParams(req *domain.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1),
	}
	if req.System != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	if req.MaxTokens > 0 {
		if c.cfg.LegacyMaxTokens {
			params.MaxTokens = openai.Int(int64(req.MaxTokens))
		} else {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
		}
	}

	// reasoning models reject every sampling knob
	if !GetModelCapabilities(req.Model).SupportsSampling {
		return params
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*req.FrequencyPenalty)
	}
	if req.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(*req.PresencePenalty)
	}
	return params
}

func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams) *domain.RawResponse {
	ctx, rec := capture.WithRecorder(ctx)
	resp, err := c.client.Chat.Completions.New(ctx, params)

	raw := &domain.RawResponse{Model: string(params.Model)}
	if ex, ok := rec.Last(); ok {
		raw.StatusCode, raw.Body = ex.StatusCode, ex.Body
	}
	if err != nil {
		raw.Err = errors.Wrap(err, "chat completion")
		return raw
	}
	if len(resp.Choices) == 0 {
		raw.Err = errors.New("response contained no choices")
		return raw
	}

	raw.Text = resp.Choices[0].Message.Content
	raw.Usage = message.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	return raw
}
