package openai

import (
	"strings"

	"github.com/fpt/chatdesk/pkg/chat/domain"
)

// ModelCapabilities drives which request parameters a model accepts
type ModelCapabilities struct {
	// SupportsSampling is false for reasoning models, which reject
	// temperature, top_p and the penalties.
	SupportsSampling bool
	SupportsVision   bool
	MaxTokens        int
	MaxContextWindow int
}

type modelEntry struct {
	descriptor   domain.ModelDescriptor
	capabilities ModelCapabilities
}

var modelTable = []modelEntry{
	{
		descriptor:   domain.ModelDescriptor{ID: "gpt-4o", DisplayName: "GPT-4o", Description: "Flagship multimodal model", CapabilityTags: []string{"chat", "vision"}},
		capabilities: ModelCapabilities{SupportsSampling: true, SupportsVision: true, MaxTokens: 16384, MaxContextWindow: 128000},
	},
	{
		descriptor:   domain.ModelDescriptor{ID: "gpt-4o-mini", DisplayName: "GPT-4o mini", Description: "Fast, inexpensive multimodal model", CapabilityTags: []string{"chat", "vision"}},
		capabilities: ModelCapabilities{SupportsSampling: true, SupportsVision: true, MaxTokens: 16384, MaxContextWindow: 128000},
	},
	{
		descriptor:   domain.ModelDescriptor{ID: "gpt-4.1", DisplayName: "GPT-4.1", Description: "Long-context general model", CapabilityTags: []string{"chat", "vision"}},
		capabilities: ModelCapabilities{SupportsSampling: true, SupportsVision: true, MaxTokens: 32768, MaxContextWindow: 1047576},
	},
	{
		descriptor:   domain.ModelDescriptor{ID: "gpt-4.1-mini", DisplayName: "GPT-4.1 mini", CapabilityTags: []string{"chat", "vision"}},
		capabilities: ModelCapabilities{SupportsSampling: true, SupportsVision: true, MaxTokens: 32768, MaxContextWindow: 1047576},
	},
	{
		descriptor:   domain.ModelDescriptor{ID: "gpt-5", DisplayName: "GPT-5", Description: "Reasoning model", CapabilityTags: []string{"chat", "reasoning", "vision"}},
		capabilities: ModelCapabilities{SupportsVision: true, MaxTokens: 128000, MaxContextWindow: 400000},
	},
	{
		descriptor:   domain.ModelDescriptor{ID: "gpt-5-mini", DisplayName: "GPT-5 mini", CapabilityTags: []string{"chat", "reasoning", "vision"}},
		capabilities: ModelCapabilities{SupportsVision: true, MaxTokens: 128000, MaxContextWindow: 400000},
	},
	{
		descriptor:   domain.ModelDescriptor{ID: "gpt-3.5-turbo", DisplayName: "GPT-3.5 Turbo", Description: "Legacy chat model", CapabilityTags: []string{"chat"}},
		capabilities: ModelCapabilities{SupportsSampling: true, MaxTokens: 4096, MaxContextWindow: 16385},
	},
}

// BuiltinModels returns the static model table used when listing fails
func BuiltinModels() []domain.ModelDescriptor {
	out := make([]domain.ModelDescriptor, 0, len(modelTable))
	for _, e := range modelTable {
		out = append(out, e.descriptor)
	}
	return out
}

// isReasoningModel recognises the o-series and gpt-5 families by prefix,
// including dated snapshots and provider-qualified ids like "openai/o3-mini".
func isReasoningModel(model string) bool {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if model == p || strings.HasPrefix(model, p+"-") {
			return true
		}
	}
	return false
}

// GetModelCapabilities returns the capabilities of model. Unknown models are
// assumed to accept sampling parameters unless their name marks them as reasoning models.
func GetModelCapabilities(model string) ModelCapabilities {
	for _, e := range modelTable {
		if e.descriptor.ID == model {
			return e.capabilities
		}
	}
	return ModelCapabilities{SupportsSampling: !isReasoningModel(model), MaxTokens: 4096, MaxContextWindow: 128000}
}

// isChatModel filters the listing endpoint down to models usable for chat.
func isChatModel(id string) bool {
	id = strings.ToLower(id)
	for _, skip := range []string{"embedding", "whisper", "tts", "dall-e", "moderation", "davinci", "babbage", "audio", "realtime", "transcribe", "image", "search"} {
		if strings.Contains(id, skip) {
			return false
		}
	}
	return strings.HasPrefix(id, "gpt") || strings.HasPrefix(id, "o1") || strings.HasPrefix(id, "o3") ||
		strings.HasPrefix(id, "o4") || strings.HasPrefix(id, "chatgpt")
}
