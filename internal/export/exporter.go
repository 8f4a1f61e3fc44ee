// Package export writes conversations to JSON, YAML or Markdown files and
// reads JSON exports back.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fpt/chatdesk/internal/persistence"
	"github.com/fpt/chatdesk/internal/repository"
)

// DefaultPrefix names exported files unless configured otherwise
const DefaultPrefix = "chat_history"

// Exporter renders a saved state in one format
type Exporter interface {
	Export(ps *repository.PersistedState, w io.Writer) error
	Extension() string
}

// NewExporter creates an exporter for format
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return &JSONExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: json, yaml, md)", format)
	}
}

// Formats lists the accepted format names
func Formats() []string { return []string{"json", "yaml", "md"} }

// Filename builds <prefix>_<YYYYMMDD_HHMMSS>.<ext>
func Filename(prefix, ext string, now time.Time) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s_%s.%s", prefix, now.Format("20060102_150405"), ext)
}

// Prepare returns a copy of ps fit for sharing: the credential is removed and,
// when sessionID is set, only that conversation is kept.
func Prepare(ps *repository.PersistedState, sessionID string) (*repository.PersistedState, error) {
	out := *ps
	out.Credential = ""
	if sessionID == "" {
		return &out, nil
	}
	rec, ok := ps.Sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("conversation %q not found", sessionID)
	}
	id := sessionID
	out.Sessions = map[string]repository.SessionRecord{sessionID: rec}
	out.ActiveSessionID = &id
	out.ConversationCount = rec.TurnCount
	return &out, nil
}

// WriteFile exports ps into dir and returns the written path
func WriteFile(dir, prefix string, exp Exporter, ps *repository.PersistedState, now time.Time) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, Filename(prefix, exp.Extension(), now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	if err := exp.Export(ps, f); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close export file: %w", err)
	}
	return path, nil
}

// Import reads a JSON export, current or legacy
func Import(r io.Reader) (*repository.PersistedState, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read import: %w", err)
	}
	return persistence.Reconcile(data)
}

// sortedSessions orders conversations oldest first for readable output
func sortedSessions(ps *repository.PersistedState) []repository.SessionRecord {
	out := make([]repository.SessionRecord, 0, len(ps.Sessions))
	for _, s := range ps.Sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedTime.Equal(out[j].CreatedTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedTime.Before(out[j].CreatedTime)
	})
	return out
}
