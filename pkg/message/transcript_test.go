package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fpt/chatdesk/pkg/logger"
)

func TestAppendPreservesOrder(t *testing.T) {
	tr := NewTranscript()
	inputs := []struct {
		role    Role
		content string
	}{
		{RoleUser, "one"},
		{RoleAssistant, "two"},
		{RoleUser, "three"},
		{RoleAssistant, "four"},
	}
	for _, in := range inputs {
		if _, err := tr.Append(in.role, in.content, "m"); err != nil {
			t.Fatalf("Append(%s, %q) failed: %v", in.role, in.content, err)
		}
	}

	msgs := tr.Messages()
	if len(msgs) != len(inputs) {
		t.Fatalf("expected %d messages, got %d", len(inputs), len(msgs))
	}
	for i, in := range inputs {
		if msgs[i].Content() != in.content || msgs[i].Role() != in.role {
			t.Errorf("message %d: expected %s/%q, got %s/%q", i, in.role, in.content, msgs[i].Role(), msgs[i].Content())
		}
	}
}

func TestAppendRejectsBlankUserInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t "} {
		tr := NewTranscript()
		_, err := tr.Append(RoleUser, input, "")
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Append(%q): expected ValidationError, got %v", input, err)
		}
		if tr.Len() != 0 {
			t.Errorf("Append(%q): transcript should stay empty, has %d", input, tr.Len())
		}
	}
}

func TestSystemPromptStaysFirst(t *testing.T) {
	tr := NewTranscript()
	if _, err := tr.Append(RoleUser, "hi", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Append(RoleSystem, "late", ""); err == nil {
		t.Fatal("expected error appending system message after user message")
	}

	if _, err := tr.SetSystemPrompt("be brief"); err != nil {
		t.Fatal(err)
	}
	if got := tr.Messages()[0]; got.Role() != RoleSystem || got.Content() != "be brief" {
		t.Fatalf("expected system prompt at index 0, got %s", got)
	}

	if _, err := tr.SetSystemPrompt("be verbose"); err != nil {
		t.Fatal(err)
	}
	if tr.Len() != 2 {
		t.Fatalf("replacing the system prompt should not grow the transcript, len=%d", tr.Len())
	}
	if tr.SystemPrompt().Content() != "be verbose" {
		t.Errorf("expected replaced prompt, got %q", tr.SystemPrompt().Content())
	}

	if !tr.ClearSystemPrompt() {
		t.Error("expected ClearSystemPrompt to report removal")
	}
	if tr.SystemPrompt() != nil {
		t.Error("system prompt should be gone")
	}
}

func TestTranscriptOfRejectsMisplacedSystem(t *testing.T) {
	_, err := TranscriptOf([]*Message{NewUserMessage("a"), NewSystemMessage("s")})
	if err == nil {
		t.Fatal("expected error for system message at index 1")
	}
}

func TestRecentWindow(t *testing.T) {
	tr := NewTranscript()
	_, _ = tr.SetSystemPrompt("sys")
	for i := 0; i < 5; i++ {
		_, _ = tr.Append(RoleUser, string(rune('a'+i)), "")
		_ = tr.AppendMessage(NewAssistantMessage(string(rune('A'+i)), "m", TokenUsage{}))
	}
	_ = tr.AppendMessage(NewErrorMessage("rate limited", "m"))

	tests := []struct {
		name  string
		n     int
		first string
		want  int
	}{
		{"window opens on a user turn", 3, "e", 3},
		{"window of 4", 4, "d", 5},
		{"window larger than transcript", 50, "a", 11},
		{"zero means everything", 0, "a", 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tr.RecentWindow(tt.n)
			if len(w) != tt.want {
				t.Fatalf("expected %d messages, got %d", tt.want, len(w))
			}
			if w[0].Role() != RoleSystem {
				t.Errorf("window must start with the system prompt, got %s", w[0].Role())
			}
			if w[1].Content() != tt.first {
				t.Errorf("expected first conversation message %q, got %q", tt.first, w[1].Content())
			}
			for _, m := range w {
				if m.IsError() {
					t.Errorf("error message leaked into window: %s", m)
				}
			}
		})
	}
}

func TestRecentWindowAfterErrorReply(t *testing.T) {
	tr := NewTranscript()
	_, _ = tr.Append(RoleUser, "first", "")
	_ = tr.AppendMessage(NewAssistantMessage("one", "m", TokenUsage{}))
	_, _ = tr.Append(RoleUser, "second", "")
	_ = tr.AppendMessage(NewErrorMessage("rate limited", "m"))
	_, _ = tr.Append(RoleUser, "second", "")

	w := tr.RecentWindow(2)
	if len(w) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w))
	}
	for _, m := range w {
		if m.Role() != RoleUser {
			t.Errorf("expected only user turns, got %s", m.Role())
		}
	}
	if w := tr.RecentWindow(1); len(w) != 1 || w[0].Content() != "second" {
		t.Errorf("unexpected single window %v", w)
	}
}

func TestAppendWarnsOnRepeatedUserMessage(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTranscript()
	tr.SetLogger(logger.New(logger.Options{Level: logger.LogLevelWarn, Console: &buf, NoFile: true}))

	_, _ = tr.Append(RoleUser, "one", "")
	_ = tr.AppendMessage(NewAssistantMessage("reply", "m", TokenUsage{}))
	_, _ = tr.Append(RoleUser, "two", "")
	if buf.Len() != 0 {
		t.Fatalf("alternating turns should not warn: %q", buf.String())
	}

	if _, err := tr.Append(RoleUser, "three", ""); err != nil {
		t.Fatalf("repeated user message must be accepted: %v", err)
	}
	if !strings.Contains(buf.String(), "User message follows another user message") {
		t.Errorf("expected a warning, got %q", buf.String())
	}
	if got := len(tr.Messages()); got != 4 {
		t.Errorf("expected 4 messages, got %d", got)
	}
}

func TestPopLastAssistantAndClear(t *testing.T) {
	tr := NewTranscript()
	_, _ = tr.SetSystemPrompt("sys")
	_, _ = tr.Append(RoleUser, "question", "")
	if tr.PopLastAssistant() != nil {
		t.Fatal("nothing to pop when the last message is from the user")
	}
	_ = tr.AppendMessage(NewAssistantMessage("answer", "m", TokenUsage{}))
	if tr.LastAssistant().Content() != "answer" {
		t.Fatalf("unexpected last assistant %q", tr.LastAssistant().Content())
	}
	popped := tr.PopLastAssistant()
	if popped == nil || popped.Content() != "answer" {
		t.Fatalf("expected to pop the answer, got %v", popped)
	}
	if tr.LastUser().Content() != "question" {
		t.Errorf("user turn should remain")
	}

	tr.Clear()
	if tr.Len() != 1 || tr.SystemPrompt() == nil {
		t.Errorf("Clear should keep only the system prompt, len=%d", tr.Len())
	}
	if !tr.IsEmpty() {
		t.Error("transcript with only a system prompt counts as empty")
	}
}

func TestStats(t *testing.T) {
	tr := NewTranscript()
	_, _ = tr.Append(RoleUser, "héllo", "")
	_ = tr.AppendMessage(NewAssistantMessage("hi", "m", TokenUsage{}))
	_, _ = tr.Append(RoleUser, "again", "")
	_ = tr.AppendMessage(NewErrorMessage("oops", "m"))

	s := tr.Stats()
	if s.UserMessages != 2 || s.AssistantMessages != 1 || s.ErrorMessages != 1 || s.TotalMessages != 4 {
		t.Errorf("unexpected stats %+v", s)
	}
	if s.TotalChars != 5+2+5+4 {
		t.Errorf("expected rune-based char count 16, got %d", s.TotalChars)
	}
}

func TestFieldsRoundTrip(t *testing.T) {
	orig := NewAssistantMessage("reply", "gpt-4o", TokenUsage{InputTokens: 3, OutputTokens: 4, TotalTokens: 7})
	back := FromFields(orig.Fields())
	if back.ID() != orig.ID() || back.Content() != orig.Content() || back.Model() != orig.Model() ||
		back.Usage() != orig.Usage() || !back.CreatedAt().Equal(orig.CreatedAt()) {
		t.Errorf("round trip mismatch:\n%s\n%s", orig, back)
	}

	synth := FromFields(Fields{Role: RoleUser, Content: "legacy"})
	if synth.ID() == "" || synth.CreatedAt().IsZero() {
		t.Error("FromFields should synthesize id and timestamp")
	}
	if time.Since(synth.CreatedAt()) > time.Minute {
		t.Error("synthesized timestamp should be now")
	}
}

func TestRoleText(t *testing.T) {
	b, err := json.Marshal(map[string]Role{"r": RoleAssistant})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"r":"assistant"}` {
		t.Errorf("unexpected encoding %s", b)
	}
	var back map[string]Role
	if err := json.Unmarshal([]byte(`{"r":"model"}`), &back); err != nil {
		t.Fatal(err)
	}
	if back["r"] != RoleAssistant {
		t.Errorf("model alias should decode to assistant, got %s", back["r"])
	}
	if _, err := ParseRole("tool"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("こんにちは世界", 5); got != "こんにちは…" {
		t.Errorf("rune-safe truncate failed: %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("unexpected %q", got)
	}
}
