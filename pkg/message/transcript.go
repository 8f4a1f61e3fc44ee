package message

import (
	"strings"
	"unicode/utf8"

	"github.com/fpt/chatdesk/pkg/logger"
)

// Transcript is the ordered message list of one conversation. Insertion order
// is conversation order. A system message, if present, is always at index 0.
//
// Transcript is not safe for concurrent use; the owning session serializes access.
type Transcript struct {
	messages []*Message
	logger   *logger.Logger
}

// Stats summarises a transcript for the statistics view
type Stats struct {
	UserMessages      int
	AssistantMessages int
	ErrorMessages     int
	TotalMessages     int
	TotalChars        int
}

func NewTranscript() *Transcript {
	return &Transcript{logger: logger.NewComponentLogger("transcript")}
}

// SetLogger replaces the logger used for ordering warnings
func (t *Transcript) SetLogger(l *logger.Logger) {
	if l != nil {
		t.logger = l
	}
}

// TranscriptOf builds a transcript from already ordered messages, e.g. on restore.
// A misplaced system message is rejected rather than reordered.
func TranscriptOf(msgs []*Message) (*Transcript, error) {
	for i, m := range msgs {
		if m.Role() == RoleSystem && i != 0 {
			return nil, &ValidationError{Field: "transcript", Reason: "system message must be first"}
		}
	}
	return &Transcript{messages: append([]*Message(nil), msgs...), logger: logger.NewComponentLogger("transcript")}, nil
}

// Append validates and appends a new message, returning it.
// Empty or whitespace-only user and system content is rejected.
func (t *Transcript) Append(role Role, content, modelID string) (*Message, error) {
	var m *Message
	switch role {
	case RoleUser:
		if strings.TrimSpace(content) == "" {
			return nil, &ValidationError{Field: "message", Reason: "content is empty"}
		}
		if last := t.last(); last != nil && last.Role() == RoleUser {
			t.log().WarnWithIntention(logger.IntentionTurn, "User message follows another user message", "previous", last.ID())
		}
		m = NewUserMessage(content)
	case RoleAssistant:
		m = NewAssistantMessage(content, modelID, TokenUsage{})
	case RoleSystem:
		if len(t.messages) > 0 {
			return nil, &ValidationError{Field: "message", Reason: "system message must be first"}
		}
		if strings.TrimSpace(content) == "" {
			return nil, &ValidationError{Field: "system prompt", Reason: "content is empty"}
		}
		m = NewSystemMessage(content)
	default:
		return nil, &ValidationError{Field: "role", Reason: "unknown role " + role.String()}
	}
	t.messages = append(t.messages, m)
	return m, nil
}

// AppendMessage appends a prebuilt user or assistant message.
func (t *Transcript) AppendMessage(m *Message) error {
	if m == nil {
		return &ValidationError{Field: "message", Reason: "nil message"}
	}
	if m.Role() == RoleSystem {
		return &ValidationError{Field: "message", Reason: "use SetSystemPrompt for system messages"}
	}
	t.messages = append(t.messages, m)
	return nil
}

func (t *Transcript) log() *logger.Logger {
	if t.logger == nil {
		t.logger = logger.NewComponentLogger("transcript")
	}
	return t.logger
}

func (t *Transcript) last() *Message {
	if len(t.messages) == 0 {
		return nil
	}
	return t.messages[len(t.messages)-1]
}

// SystemPrompt returns the system message, or nil
func (t *Transcript) SystemPrompt() *Message {
	if len(t.messages) > 0 && t.messages[0].Role() == RoleSystem {
		return t.messages[0]
	}
	return nil
}

// SetSystemPrompt inserts a system message at index 0 or replaces the existing one.
func (t *Transcript) SetSystemPrompt(content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &ValidationError{Field: "system prompt", Reason: "content is empty"}
	}
	m := NewSystemMessage(content)
	if t.SystemPrompt() != nil {
		t.messages[0] = m
		return m, nil
	}
	t.messages = append([]*Message{m}, t.messages...)
	return m, nil
}

// ClearSystemPrompt removes the system message, reporting whether one existed.
func (t *Transcript) ClearSystemPrompt() bool {
	if t.SystemPrompt() == nil {
		return false
	}
	t.messages = t.messages[1:]
	return true
}

// RecentWindow returns the system message (if any) followed by the last n
// conversation messages. Error replies are never part of the window. A cut
// window always opens on a user message, so it may hold fewer than n.
// n <= 0 returns the whole conversation.
func (t *Transcript) RecentWindow(n int) []*Message {
	var head []*Message
	if sys := t.SystemPrompt(); sys != nil {
		head = append(head, sys)
	}
	var convo []*Message
	for _, m := range t.messages {
		if m.Role() == RoleSystem || m.IsError() {
			continue
		}
		convo = append(convo, m)
	}
	if n > 0 && len(convo) > n {
		convo = convo[len(convo)-n:]
		for len(convo) > 0 && convo[0].Role() != RoleUser {
			convo = convo[1:]
		}
	}
	return append(head, convo...)
}

// LastAssistant returns the most recent non-error assistant reply, or nil
func (t *Transcript) LastAssistant() *Message {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if m := t.messages[i]; m.Role() == RoleAssistant && !m.IsError() {
			return m
		}
	}
	return nil
}

// LastUser returns the most recent user message, or nil
func (t *Transcript) LastUser() *Message {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Role() == RoleUser {
			return t.messages[i]
		}
	}
	return nil
}

// PopLastAssistant removes a trailing assistant message so the previous user
// turn can be answered again. It returns the removed message, or nil.
func (t *Transcript) PopLastAssistant() *Message {
	n := len(t.messages)
	if n == 0 || t.messages[n-1].Role() != RoleAssistant {
		return nil
	}
	m := t.messages[n-1]
	t.messages = t.messages[:n-1]
	return m
}

// FirstUser returns the earliest user message, or nil
func (t *Transcript) FirstUser() *Message {
	for _, m := range t.messages {
		if m.Role() == RoleUser {
			return m
		}
	}
	return nil
}

// Clear drops the conversation but keeps the system prompt.
func (t *Transcript) Clear() {
	if sys := t.SystemPrompt(); sys != nil {
		t.messages = []*Message{sys}
		return
	}
	t.messages = nil
}

// Messages returns a copy of the ordered message list
func (t *Transcript) Messages() []*Message {
	return append([]*Message(nil), t.messages...)
}

func (t *Transcript) Len() int {
	return len(t.messages)
}

// IsEmpty reports whether the transcript holds no user or assistant messages.
func (t *Transcript) IsEmpty() bool {
	for _, m := range t.messages {
		if m.Role() != RoleSystem {
			return false
		}
	}
	return true
}

func (t *Transcript) Stats() Stats {
	var s Stats
	for _, m := range t.messages {
		switch {
		case m.Role() == RoleUser:
			s.UserMessages++
		case m.Role() == RoleAssistant && m.IsError():
			s.ErrorMessages++
		case m.Role() == RoleAssistant:
			s.AssistantMessages++
		}
		s.TotalChars += utf8.RuneCountInString(m.Content())
	}
	s.TotalMessages = len(t.messages)
	return s
}
