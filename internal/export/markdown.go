package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fpt/chatdesk/internal/repository"
)

// MarkdownExporter writes a readable transcript per conversation
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(ps *repository.PersistedState, w io.Writer) error {
	_, _ = fmt.Fprintf(w, "# Chat history\n\n")
	if ps.SavedAt > 0 {
		_, _ = fmt.Fprintf(w, "**Exported:** %s  \n", time.UnixMilli(ps.SavedAt).Format("2006-01-02 15:04:05"))
	}
	_, _ = fmt.Fprintf(w, "**Conversations:** %d  \n", len(ps.Sessions))
	_, _ = fmt.Fprintf(w, "**Turns:** %d\n\n", ps.ConversationCount)

	for _, s := range sortedSessions(ps) {
		title := s.Title
		if title == "" {
			title = s.ID
		}
		_, _ = fmt.Fprintf(w, "---\n\n## %s\n\n", escapeMarkdown(title))
		if s.ProviderID != "" || s.ModelID != "" {
			_, _ = fmt.Fprintf(w, "**Model:** %s %s  \n", s.ProviderID, s.ModelID)
		}
		_, _ = fmt.Fprintf(w, "**Started:** %s  \n", s.CreatedTime.Local().Format("2006-01-02 15:04:05"))
		_, _ = fmt.Fprintf(w, "**Messages:** %d, **Tokens:** %d\n\n", len(s.Messages), s.TokenUsage)

		for _, m := range s.Messages {
			ts := time.Unix(m.CreatedAt, 0).Format("15:04:05")
			_, _ = fmt.Fprintf(w, "**%s** (%s):\n\n%s\n\n", actor(m), ts, escapeMarkdown(m.Content))
		}
	}
	return nil
}

func (e *MarkdownExporter) Extension() string { return "md" }

func actor(m repository.MessageRecord) string {
	switch m.Role {
	case "system":
		return "System prompt"
	case "user":
		return "User"
	}
	name := "Assistant"
	if m.Model != "" {
		name += " · " + m.Model
	}
	if m.Error {
		name += " (error)"
	}
	return name
}

// escapeMarkdown neutralises emphasis markers outside fenced code blocks
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCode := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCode = !inCode
			continue
		}
		if inCode {
			continue
		}
		line = strings.ReplaceAll(line, "**", "\\*\\*")
		lines[i] = strings.ReplaceAll(line, "__", "\\_\\_")
	}
	return strings.Join(lines, "\n")
}
