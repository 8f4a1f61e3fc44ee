package app

import (
	"fmt"
	"math"
	"strings"

	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/client"
	"github.com/fpt/chatdesk/pkg/message"
	"github.com/fpt/chatdesk/pkg/tokens"
)

// perMessageOverhead approximates the role and framing tokens of each message
const perMessageOverhead = 4

// ContextDisplay renders how much of the model's context window the next
// request will use
type ContextDisplay struct {
	counter *tokens.Counter
}

func NewContextDisplay(counter *tokens.Counter) *ContextDisplay {
	if counter == nil {
		counter = tokens.NewCounter()
	}
	return &ContextDisplay{counter: counter}
}

// CalculateUsageDetails counts the tokens of what would be sent: the system
// prompt plus the last window messages, error explanations excluded.
func (cd *ContextDisplay) CalculateUsageDetails(t *message.Transcript, window int, provider domain.ProviderID, model string) (currentTokens, maxTokens, percentage int) {
	sent := t.RecentWindow(window)
	if len(sent) == 0 {
		return 0, 0, 0
	}

	for _, m := range sent {
		currentTokens += cd.counter.Count(model, m.Content()) + perMessageOverhead
	}
	maxTokens = client.ContextWindow(provider, model)
	if maxTokens <= 0 {
		return currentTokens, 0, 0
	}
	percentage = int(math.Round(float64(currentTokens) * 100.0 / float64(maxTokens)))
	if percentage > 100 {
		percentage = 100
	}
	return currentTokens, maxTokens, percentage
}

// FormatContextUsage creates a right-aligned usage line, colored by level
func (cd *ContextDisplay) FormatContextUsage(currentTokens, maxTokens, percentage int, terminalWidth int, colored bool) string {
	visible := fmt.Sprintf("Context: %d/%d (%d%%)", currentTokens, maxTokens, percentage)
	padding := terminalWidth - len(visible)
	if padding < 0 {
		padding = 0
	}
	if !colored {
		return strings.Repeat(" ", padding) + visible
	}

	var colorCode string
	switch {
	case percentage < 50:
		colorCode = "\033[32m"
	case percentage < 80:
		colorCode = "\033[33m"
	default:
		colorCode = "\033[31m"
	}
	return strings.Repeat(" ", padding) + colorCode + visible + "\033[0m"
}

// ShowContextUsage returns the status line shown above the prompt, or ""
// when the conversation is empty
func (cd *ContextDisplay) ShowContextUsage(t *message.Transcript, window int, provider domain.ProviderID, model string) string {
	current, max, pct := cd.CalculateUsageDetails(t, window, provider, model)
	if current == 0 || max == 0 {
		return ""
	}
	return cd.FormatContextUsage(current, max, pct, terminalWidth(), true)
}
