package ollama

import (
	"strings"

	"github.com/fpt/chatdesk/pkg/chat/domain"
)

type OllamaModel struct {
	Name    string
	Family  string
	Vision  bool
	Context int
}

// Common models from https://ollama.com/search, used when the local server
// cannot be listed. Kept in sync by hand.
var ollamaModels = []OllamaModel{
	{Name: "llama3.2:latest", Family: "llama", Context: 128000},
	{Name: "llama3.1:8b", Family: "llama", Context: 128000},
	{Name: "gpt-oss:20b", Family: "gpt-oss", Context: 128000},
	{Name: "qwen2.5:7b", Family: "qwen2", Context: 32768},
	{Name: "mistral:latest", Family: "mistral", Context: 32768},
	{Name: "gemma3:latest", Family: "gemma3", Vision: true, Context: 8192},
}

// BuiltinModels returns the fallback table
func BuiltinModels() []domain.ModelDescriptor {
	out := make([]domain.ModelDescriptor, 0, len(ollamaModels))
	for _, m := range ollamaModels {
		out = append(out, describe(m))
	}
	return out
}

func describe(m OllamaModel) domain.ModelDescriptor {
	tags := []string{"chat", "local"}
	if m.Vision {
		tags = append(tags, "vision")
	}
	return domain.ModelDescriptor{ID: m.Name, DisplayName: m.Name, Description: m.Family, CapabilityTags: tags}
}

// GetModelContextWindow returns the known context window for a model, or 0 when unknown.
func GetModelContextWindow(model string) int {
	modelLower := strings.ToLower(model)
	for _, m := range ollamaModels {
		if strings.Contains(modelLower, strings.ToLower(m.Name)) {
			return m.Context
		}
	}
	return 0
}
