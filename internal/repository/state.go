package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fpt/chatdesk/pkg/message"
)

// StateVersion is written into every saved state
const StateVersion = 2

// ErrStateNotFound means nothing has been saved yet
var ErrStateNotFound = errors.New("no saved state")

// MessageRecord is the serializable form of message.Message
type MessageRecord struct {
	ID        string              `json:"id" yaml:"id"`
	Role      string              `json:"role" yaml:"role" jsonschema:"enum=user,enum=assistant,enum=system"`
	Content   string              `json:"content" yaml:"content"`
	CreatedAt int64               `json:"createdAt" yaml:"createdAt" jsonschema:"description=Unix seconds"`
	Model     string              `json:"model,omitempty" yaml:"model,omitempty"`
	Tokens    *message.TokenUsage `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	Error     bool                `json:"error,omitempty" yaml:"error,omitempty"`
}

// SessionRecord is the serializable form of one conversation
type SessionRecord struct {
	ID          string          `json:"id" yaml:"id"`
	Messages    []MessageRecord `json:"messages" yaml:"messages"`
	CreatedTime time.Time       `json:"createdTime" yaml:"createdTime"`
	UpdatedTime time.Time       `json:"updatedTime" yaml:"updatedTime"`
	Title       string          `json:"title,omitempty" yaml:"title,omitempty"`
	ProviderID  string          `json:"providerId,omitempty" yaml:"providerId,omitempty"`
	ModelID     string          `json:"modelId,omitempty" yaml:"modelId,omitempty"`
	TurnCount   int             `json:"turnCount" yaml:"turnCount"`
	TokenUsage  int             `json:"tokenUsage" yaml:"tokenUsage"`
	CharUsage   int             `json:"charUsage" yaml:"charUsage"`
}

// PersistedState is everything saved between runs.
// Credential is stored in plaintext.
type PersistedState struct {
	Version           int                      `json:"version" yaml:"version"`
	Sessions          map[string]SessionRecord `json:"sessions" yaml:"sessions"`
	ActiveSessionID   *string                  `json:"activeSessionId" yaml:"activeSessionId"`
	SessionCounter    int                      `json:"sessionCounter" yaml:"sessionCounter"`
	Credential        string                   `json:"credential,omitempty" yaml:"credential,omitempty"`
	SelectedProvider  string                   `json:"selectedProvider,omitempty" yaml:"selectedProvider,omitempty"`
	SelectedModel     string                   `json:"selectedModel,omitempty" yaml:"selectedModel,omitempty"`
	ConversationCount int                      `json:"conversationCount" yaml:"conversationCount"`
	SavedAt           int64                    `json:"savedAt" yaml:"savedAt" jsonschema:"description=Unix milliseconds"`
}

// Active returns the active session id or ""
func (s *PersistedState) Active() string {
	if s == nil || s.ActiveSessionID == nil {
		return ""
	}
	return *s.ActiveSessionID
}

// MessageCount sums messages across sessions
func (s *PersistedState) MessageCount() int {
	n := 0
	for _, sess := range s.Sessions {
		n += len(sess.Messages)
	}
	return n
}

// StateRepository stores one serialized state blob. Save must replace the
// previous blob atomically so a crash never leaves a torn write.
type StateRepository interface {
	Load(ctx context.Context) ([]byte, error) // ErrStateNotFound when nothing was saved
	Save(ctx context.Context, data []byte) error
	Clear(ctx context.Context) error
	// Location describes where the data lives, for diagnostics
	Location() string
}
