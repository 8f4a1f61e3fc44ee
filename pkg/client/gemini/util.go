package gemini

import (
	"strings"

	"github.com/fpt/chatdesk/pkg/chat/domain"
)

// Google Gemini models
// https://ai.google.dev/gemini-api/docs/models

const (
	modelGemini25Pro       = "gemini-2.5-pro"
	modelGemini25Flash     = "gemini-2.5-flash"
	modelGemini25FlashLite = "gemini-2.5-flash-lite"
	modelGemini20Flash     = "gemini-2.0-flash"
)

// BuiltinModels is the fallback table used when listing fails
func BuiltinModels() []domain.ModelDescriptor {
	return []domain.ModelDescriptor{
		{ID: modelGemini25Flash, DisplayName: "Gemini 2.5 Flash", Description: "Best price-performance", CapabilityTags: []string{"chat", "vision", "reasoning"}},
		{ID: modelGemini25Pro, DisplayName: "Gemini 2.5 Pro", Description: "State-of-the-art thinking model", CapabilityTags: []string{"chat", "vision", "reasoning"}},
		{ID: modelGemini25FlashLite, DisplayName: "Gemini 2.5 Flash-Lite", Description: "Lowest latency", CapabilityTags: []string{"chat", "vision"}},
		{ID: modelGemini20Flash, DisplayName: "Gemini 2.0 Flash", CapabilityTags: []string{"chat", "vision"}},
	}
}

// normalizeModelID strips the "models/" resource prefix returned by the listing endpoint
func normalizeModelID(name string) string {
	return strings.TrimPrefix(name, "models/")
}

// supportsPenalties reports whether model accepts frequency/presence penalties.
// The 2.5 thinking models reject them.
func supportsPenalties(model string) bool {
	return !strings.HasPrefix(model, "gemini-2.5")
}

func canGenerate(actions []string) bool {
	if len(actions) == 0 {
		return true
	}
	for _, a := range actions {
		if a == "generateContent" {
			return true
		}
	}
	return false
}
