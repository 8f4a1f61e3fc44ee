package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// attributes that are context for the file log but noise on the console
var consoleHidden = map[string]bool{
	"intention": true,
	"component": true,
	"session":   true,
	"time":      true,
	"level":     true,
	"msg":       true,
}

// plainHandler prints "<icon> message key=value ..." with no time or level
// decoration. Warnings and errors get a short prefix instead of an icon.
type plainHandler struct {
	w       io.Writer
	mu      *sync.Mutex
	attrs   []slog.Attr
	leveler slog.Leveler
}

func newPlainHandler(w io.Writer, leveler slog.Leveler) slog.Handler {
	return &plainHandler{w: w, mu: &sync.Mutex{}, leveler: leveler}
}

func (h *plainHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	return h.leveler == nil || lvl >= h.leveler.Level()
}

func (h *plainHandler) Handle(_ context.Context, r slog.Record) error {
	var all []slog.Attr
	all = append(all, flatten(h.attrs)...)
	r.Attrs(func(a slog.Attr) bool {
		all = append(all, flatten([]slog.Attr{a})...)
		return true
	})

	var b strings.Builder
	switch {
	case r.Level >= slog.LevelError:
		b.WriteString("error: ")
	case r.Level >= slog.LevelWarn:
		b.WriteString("warning: ")
	default:
		for _, a := range all {
			if a.Key == "intention" {
				b.WriteString(iconFor(Intention(a.Value.String())))
				b.WriteByte(' ')
				break
			}
		}
	}
	b.WriteString(r.Message)
	for _, a := range all {
		if consoleHidden[a.Key] {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, b.String())
	return err
}

func (h *plainHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &nh
}

// Groups are flattened on the console; the name is dropped.
func (h *plainHandler) WithGroup(_ string) slog.Handler {
	return h
}

func flatten(attrs []slog.Attr) []slog.Attr {
	var out []slog.Attr
	for _, a := range attrs {
		if a.Value.Kind() == slog.KindGroup {
			out = append(out, flatten(a.Value.Group())...)
			continue
		}
		out = append(out, a)
	}
	return out
}
