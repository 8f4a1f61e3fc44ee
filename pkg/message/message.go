package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is one entry of a conversation. Role and content never change after
// construction; a regenerated reply is a new message.
type Message struct {
	id        string
	role      Role
	content   string
	createdAt time.Time
	model     string // provider model id that produced an assistant reply
	usage     TokenUsage
	isError   bool // assistant message describing a failed exchange
}

// Fields is the flat form of a Message used by persistence and export.
type Fields struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time
	Model     string
	Usage     TokenUsage
	IsError   bool
}

func newMessage(role Role, content string) *Message {
	return &Message{
		id:        uuid.NewString(),
		role:      role,
		content:   content,
		// stored as Unix seconds
		createdAt: time.Now().Truncate(time.Second),
	}
}

func NewUserMessage(content string) *Message {
	return newMessage(RoleUser, content)
}

func NewSystemMessage(content string) *Message {
	return newMessage(RoleSystem, content)
}

// NewAssistantMessage creates a reply attributed to modelID
func NewAssistantMessage(content, modelID string, usage TokenUsage) *Message {
	m := newMessage(RoleAssistant, content)
	m.model = modelID
	m.usage = usage
	return m
}

// NewErrorMessage creates an assistant message that explains a failed exchange.
// Error messages stay in the transcript but are never sent back to a provider.
func NewErrorMessage(content, modelID string) *Message {
	m := newMessage(RoleAssistant, content)
	m.model = modelID
	m.isError = true
	return m
}

// FromFields rebuilds a message from its persisted form. Missing ids and
// timestamps are synthesized.
func FromFields(f Fields) *Message {
	m := &Message{
		id:        f.ID,
		role:      f.Role,
		content:   f.Content,
		createdAt: f.CreatedAt,
		model:     f.Model,
		usage:     f.Usage,
		isError:   f.IsError,
	}
	if m.id == "" {
		m.id = uuid.NewString()
	}
	if m.createdAt.IsZero() {
		m.createdAt = time.Now().Truncate(time.Second)
	}
	return m
}

// Fields returns the flat form of the message
func (m *Message) Fields() Fields {
	return Fields{
		ID:        m.id,
		Role:      m.role,
		Content:   m.content,
		CreatedAt: m.createdAt,
		Model:     m.model,
		Usage:     m.usage,
		IsError:   m.isError,
	}
}

func (m *Message) ID() string           { return m.id }
func (m *Message) Role() Role           { return m.role }
func (m *Message) Content() string      { return m.content }
func (m *Message) CreatedAt() time.Time { return m.createdAt }
func (m *Message) Model() string        { return m.model }
func (m *Message) Usage() TokenUsage    { return m.usage }
func (m *Message) IsError() bool        { return m.isError }

func (m *Message) String() string {
	tokens := ""
	if !m.usage.IsZero() {
		tokens = fmt.Sprintf(", Tokens: %d (in:%d out:%d)", m.usage.TotalTokens, m.usage.InputTokens, m.usage.OutputTokens)
	}
	return fmt.Sprintf("Message(ID: %s, Role: %s, Content: %q, Model: %q, Error: %t, CreatedAt: %s%s)",
		m.id, m.role, m.content, m.model, m.isError, m.createdAt.Format(time.RFC3339), tokens)
}

// Preview returns a one-line, rune-safe excerpt for listings
func (m *Message) Preview(limit int) string {
	line := strings.Join(strings.Fields(m.content), " ")
	return Truncate(line, limit)
}

// Truncate cuts s to at most limit runes, appending an ellipsis when cut.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}
