package domain

import (
	"fmt"
	"strings"

	"github.com/fpt/chatdesk/pkg/message"
)

// GenerationConfig carries sampling parameters. Nil pointers mean "provider default".
type GenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int      `json:"max_tokens,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	// ContextWindow is the number of recent conversation messages sent with each turn
	ContextWindow int `json:"context_window,omitempty"`
}

const (
	DefaultTemperature     = 0.7
	DefaultMaxOutputTokens = 2048
	DefaultTopP            = 1.0
	DefaultContextWindow   = 20
)

// DefaultGenerationConfig returns the defaults used when nothing is configured
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:      Float(DefaultTemperature),
		MaxOutputTokens:  DefaultMaxOutputTokens,
		TopP:             Float(DefaultTopP),
		FrequencyPenalty: Float(0),
		PresencePenalty:  Float(0),
		ContextWindow:    DefaultContextWindow,
	}
}

// Float returns a pointer to v
func Float(v float64) *float64 { return &v }

// Validate checks every parameter range
func (c GenerationConfig) Validate() error {
	check := func(name string, v *float64, lo, hi float64) error {
		if v != nil && (*v < lo || *v > hi) {
			return &message.ValidationError{Field: name, Reason: fmt.Sprintf("%.2f is outside [%.1f, %.1f]", *v, lo, hi)}
		}
		return nil
	}
	if err := check("temperature", c.Temperature, 0, 2); err != nil {
		return err
	}
	if err := check("top_p", c.TopP, 0, 1); err != nil {
		return err
	}
	if err := check("frequency_penalty", c.FrequencyPenalty, -2, 2); err != nil {
		return err
	}
	if err := check("presence_penalty", c.PresencePenalty, -2, 2); err != nil {
		return err
	}
	if c.MaxOutputTokens < 0 {
		return &message.ValidationError{Field: "max_tokens", Reason: "must not be negative"}
	}
	if c.ContextWindow < 0 {
		return &message.ValidationError{Field: "context_window", Reason: "must not be negative"}
	}
	return nil
}

// WireMessage is one message in the generic request shape
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the provider-neutral request. Providers that take the system
// prompt as a separate field get it in System; the others keep it in Messages.
type Request struct {
	Provider         ProviderID    `json:"-"`
	Model            string        `json:"model"`
	System           string        `json:"system,omitempty"`
	Messages         []WireMessage `json:"messages"`
	Temperature      *float64      `json:"temperature,omitempty"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
}

// BuildOptions describes what a provider's schema can carry
type BuildOptions struct {
	SystemAsField bool // system prompt goes in Request.System
	NoPenalties   bool // provider has no frequency/presence penalties
}

// BuildRequest assembles a Request from the recent window of t.
// The transcript itself is never modified.
func BuildRequest(p ProviderID, t *message.Transcript, modelID string, cfg GenerationConfig, opts BuildOptions) (*Request, error) {
	if strings.TrimSpace(modelID) == "" {
		return nil, &message.ValidationError{Field: "model", Reason: "no model selected"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	req := &Request{
		Provider:    p,
		Model:       modelID,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxOutputTokens,
		TopP:        cfg.TopP,
	}
	if !opts.NoPenalties {
		req.FrequencyPenalty = cfg.FrequencyPenalty
		req.PresencePenalty = cfg.PresencePenalty
	}

	for _, m := range t.RecentWindow(cfg.ContextWindow) {
		if m.Role() == message.RoleSystem && opts.SystemAsField {
			req.System = m.Content()
			continue
		}
		req.Messages = append(req.Messages, WireMessage{Role: m.Role().String(), Content: m.Content()})
	}

	hasTurn := false
	for _, wm := range req.Messages {
		if wm.Role != message.RoleSystem.String() {
			hasTurn = true
			break
		}
	}
	if !hasTurn {
		return nil, &message.ValidationError{Field: "transcript", Reason: "nothing to send"}
	}
	return req, nil
}

// MergeSameRole joins neighbouring messages that share a role. Providers
// that require alternating turns see one message where the transcript has
// several, e.g. a resubmission after an error reply.
func MergeSameRole(msgs []WireMessage) []WireMessage {
	out := make([]WireMessage, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}

// RawResponse is what came back from the wire, before classification
type RawResponse struct {
	StatusCode int
	// Body is a bounded preview of the response body, kept for error reporting
	Body  string
	Text  string
	Model string
	Usage message.TokenUsage
	// Err is the transport or SDK error, if any
	Err error
}

// ParseRaw classifies raw and, on success, builds the assistant message.
// modelID is used when the provider did not echo a model name.
func ParseRaw(p ProviderID, raw *RawResponse, modelID string) (*message.Message, error) {
	if perr := Classify(p, raw); perr != nil {
		return nil, perr
	}
	model := raw.Model
	if model == "" {
		model = modelID
	}
	return message.NewAssistantMessage(raw.Text, model, raw.Usage), nil
}
