package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/message"
)

func TestGitHubModels(t *testing.T) {
	var chatBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ghp_test", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/catalog/models":
			_, _ = io.WriteString(w, `[
				{"id":"openai/gpt-4o","name":"OpenAI GPT-4o","publisher":"OpenAI","summary":"Multimodal","capabilities":["streaming"],"supported_output_modalities":["text"]},
				{"id":"openai/text-embedding-3-large","name":"Embedding","publisher":"OpenAI","supported_output_modalities":["embeddings"]},
				{"id":"meta/Llama-3.3-70B-Instruct","name":"Llama","publisher":"Meta"}
			]`)
		case "/inference/chat/completions":
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &chatBody)
			_, _ = io.WriteString(w, `{"id":"1","object":"chat.completion","created":1,"model":"gpt-4o",
				"choices":[{"index":0,"message":{"role":"assistant","content":"hello from github"},"finish_reason":"stop"}],
				"usage":{"prompt_tokens":1,"completion_tokens":3,"total_tokens":4}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewGitHubClient(Config{Token: "ghp_test", BaseURL: srv.URL + "/inference/", CatalogURL: srv.URL + "/"})
	assert.Equal(t, domain.ProviderGitHub, c.Provider())

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "meta/Llama-3.3-70B-Instruct", models[0].ID)
	assert.Equal(t, "OpenAI GPT-4o", models[1].DisplayName)

	tr := message.NewTranscript()
	_, _ = tr.Append(message.RoleUser, "hi", "")
	reply, err := domain.Send(context.Background(), c, tr, "openai/gpt-4o", domain.DefaultGenerationConfig())
	require.NoError(t, err)
	assert.Equal(t, "hello from github", reply.Content())
	assert.Contains(t, chatBody, "max_tokens")
	assert.NotContains(t, chatBody, "max_completion_tokens")
}

func TestGitHubCatalogUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"Bad credentials"}`)
	}))
	defer srv.Close()

	c := NewGitHubClient(Config{Token: "bad", BaseURL: srv.URL + "/inference/", CatalogURL: srv.URL + "/"})
	_, err := c.ListModels(context.Background())
	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.KindAuth, perr.Kind)
	assert.Equal(t, "Bad credentials", perr.Message)
	assert.NotEmpty(t, c.BuiltinModels())
}
