package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConsoleRendering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: LogLevelDebug, Console: &buf, NoFile: true}).WithComponent("session").WithSession("01J-1")

	l.InfoWithIntention(IntentionPersist, "Saved", "sessions", 2)
	l.Warn("Save failed", "location", "/tmp/x")
	l.DebugWithIntention(IntentionTurn, "Dispatching")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	if lines[0] != "💾 Saved sessions=2" {
		t.Errorf("unexpected info line %q", lines[0])
	}
	if lines[1] != "warning: Save failed location=/tmp/x" {
		t.Errorf("unexpected warn line %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "💬 Dispatching") {
		t.Errorf("unexpected debug line %q", lines[2])
	}
	if strings.Contains(buf.String(), "component=") || strings.Contains(buf.String(), "01J-1") {
		t.Errorf("context attributes leaked to console: %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: ParseLevel("warning"), Console: &buf, NoFile: true})

	l.Info("hidden")
	l.DebugWithIntention(IntentionDebug, "hidden too")
	l.Error("shown")

	if got := strings.TrimSpace(buf.String()); got != "error: shown" {
		t.Errorf("got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LogLevelDebug},
		{" DEBUG ", LogLevelDebug},
		{"warn", LogLevelWarn},
		{"warning", LogLevelWarn},
		{"error", LogLevelError},
		{"info", LogLevelInfo},
		{"", LogLevelInfo},
		{"verbose", LogLevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chatdesk.log")
	var console bytes.Buffer
	l := New(Options{Level: LogLevelInfo, Console: &console, FilePath: path}).WithComponent("persistence")

	l.InfoWithIntention(IntentionPersist, "Saved", "sessions", 1)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(data)
	for _, want := range []string{"msg=Saved", "intention=persist", "component=persistence", "sessions=1"} {
		if !strings.Contains(text, want) {
			t.Errorf("log file missing %q: %s", want, text)
		}
	}
	if console.Len() == 0 {
		t.Error("console sink received nothing")
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nothing happens")
	l.InfoWithIntention(IntentionSuccess, "still nothing")
}
