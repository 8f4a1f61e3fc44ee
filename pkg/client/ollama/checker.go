package ollama

import (
	"context"

	"github.com/ollama/ollama/api"

	"github.com/fpt/chatdesk/pkg/chat/domain"
)

// Probe checks that modelID is pulled and answers, using a one-token generation.
func (c *OllamaClient) Probe(ctx context.Context, modelID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	stream := false
	raw := c.chat(ctx, &api.ChatRequest{
		Model:    modelID,
		Messages: []api.Message{{Role: "user", Content: "ping"}},
		Stream:   &stream,
		Options:  map[string]any{"num_predict": 1},
	})
	if perr := domain.Classify(domain.ProviderOllama, raw); perr != nil {
		return perr
	}
	return nil
}
