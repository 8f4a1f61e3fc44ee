package anthropic

import (
	"strings"

	"github.com/fpt/chatdesk/pkg/chat/domain"
)

// Anthropic models
// https://docs.anthropic.com/en/docs/about-claude/models/overview

const defaultMaxTokens = 2048

var builtinModels = []domain.ModelDescriptor{
	{ID: "claude-sonnet-4-5", DisplayName: "Claude Sonnet 4.5", Description: "Balanced intelligence and speed", CapabilityTags: []string{"chat", "vision"}},
	{ID: "claude-opus-4-1", DisplayName: "Claude Opus 4.1", Description: "Most capable for complex tasks", CapabilityTags: []string{"chat", "vision"}},
	{ID: "claude-haiku-4-5", DisplayName: "Claude Haiku 4.5", Description: "Fastest model", CapabilityTags: []string{"chat", "vision"}},
	{ID: "claude-sonnet-4-0", DisplayName: "Claude Sonnet 4", CapabilityTags: []string{"chat", "vision"}},
	{ID: "claude-3-5-haiku-latest", DisplayName: "Claude Haiku 3.5", CapabilityTags: []string{"chat"}},
}

// BuiltinModels returns the fallback table used when listing fails
func BuiltinModels() []domain.ModelDescriptor {
	return append([]domain.ModelDescriptor(nil), builtinModels...)
}

// GetModelContextWindow approximates the input capacity. All current
// Claude models accept about 200k tokens.
func GetModelContextWindow(model string) int {
	if strings.HasPrefix(model, "claude-") {
		return 200000
	}
	return 100000
}
