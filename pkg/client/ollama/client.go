package ollama

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"

	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/client/capture"
	"github.com/fpt/chatdesk/pkg/message"
)

const DefaultHost = "http://localhost:11434"

// Config for an Ollama server. APIKey is optional and sent as a bearer token
// for servers behind an authenticating proxy.
type Config struct {
	Host         string
	APIKey       string
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

// OllamaClient adapts the /api/chat endpoint with streaming disabled.
type OllamaClient struct {
	client *api.Client
	cfg    Config
}

var _ domain.Provider = (*OllamaClient)(nil)

func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	base, err := url.Parse(strings.TrimRight(cfg.Host, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid ollama host %q", cfg.Host)
	}
	client := api.NewClient(base, capture.NewHTTPClient(capture.BearerHeader(cfg.APIKey)))
	return &OllamaClient{client: client, cfg: cfg}, nil
}

func (c *OllamaClient) Provider() domain.ProviderID { return domain.ProviderOllama }

func (c *OllamaClient) BuiltinModels() []domain.ModelDescriptor { return BuiltinModels() }

func (c *OllamaClient) BuildRequest(t *message.Transcript, modelID string, cfg domain.GenerationConfig) (*domain.Request, error) {
	return domain.BuildRequest(domain.ProviderOllama, t, modelID, cfg, domain.BuildOptions{})
}

func (c *OllamaClient) Do(ctx context.Context, req *domain.Request) *domain.RawResponse {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.chat(ctx, toChatRequest(req))
}

func (c *OllamaClient) ParseResponse(raw *domain.RawResponse) (*message.Message, error) {
	return domain.ParseRaw(domain.ProviderOllama, raw, "")
}

// ListModels returns the models pulled on the server, sorted by name.
func (c *OllamaClient) ListModels(ctx context.Context) ([]domain.ModelDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	ctx, rec := capture.WithRecorder(ctx)

	resp, err := c.client.List(ctx)
	if err != nil {
		raw := &domain.RawResponse{Err: err}
		if ex, ok := rec.Last(); ok {
			raw.StatusCode, raw.Body = ex.StatusCode, ex.Body
		}
		if perr := domain.Classify(domain.ProviderOllama, raw); perr != nil {
			return nil, perr
		}
		return nil, errors.Wrap(err, "list models")
	}

	out := make([]domain.ModelDescriptor, 0, len(resp.Models))
	for _, m := range resp.Models {
		d := describe(OllamaModel{Name: m.Name, Family: m.Details.Family})
		if m.Details.ParameterSize != "" {
			d.Description = strings.TrimSpace(m.Details.Family + " " + m.Details.ParameterSize)
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func toChatRequest(req *domain.Request) *api.ChatRequest {
	stream := false
	msgs := make([]api.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, api.Message{Role: m.Role, Content: m.Content})
	}

	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		options["top_p"] = *req.TopP
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.FrequencyPenalty != nil {
		options["frequency_penalty"] = *req.FrequencyPenalty
	}
	if req.PresencePenalty != nil {
		options["presence_penalty"] = *req.PresencePenalty
	}
	return &api.ChatRequest{Model: req.Model, Messages: msgs, Stream: &stream, Options: options}
}

func (c *OllamaClient) chat(ctx context.Context, req *api.ChatRequest) *domain.RawResponse {
	ctx, rec := capture.WithRecorder(ctx)

	var content strings.Builder
	raw := &domain.RawResponse{Model: req.Model}
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done {
			raw.Usage = message.TokenUsage{
				InputTokens:  int(resp.PromptEvalCount),
				OutputTokens: int(resp.EvalCount),
				TotalTokens:  int(resp.PromptEvalCount + resp.EvalCount),
			}
		}
		return nil
	})

	if ex, ok := rec.Last(); ok {
		raw.StatusCode, raw.Body = ex.StatusCode, ex.Body
	}
	if err != nil {
		raw.Err = errors.Wrap(err, "ollama chat error")
		return raw
	}
	raw.Text = content.String()
	return raw
}
