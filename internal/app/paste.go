package app

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"
)

var (
	pasteStart = []byte("\x1b[200~")
	pasteEnd   = []byte("\x1b[201~")
)

// maxInlinePaste is the longest single-line paste forwarded to readline as typed text
const maxInlinePaste = 80

// PasteReader sits between stdin and readline. Text between bracketed-paste
// markers is held back: short single-line pastes pass through, anything
// longer reaches readline as a placeholder that Expand swaps back for the
// pasted text. This keeps multi-line prompts from being submitted line by line.
type PasteReader struct {
	src io.ReadCloser

	mu      sync.Mutex
	out     bytes.Buffer
	paste   bytes.Buffer
	pending []byte // may be the beginning of a marker
	inPaste bool
	pastes  []string
}

func NewPasteReader(src io.ReadCloser) *PasteReader {
	return &PasteReader{src: src}
}

func (r *PasteReader) Read(p []byte) (int, error) {
	for {
		r.mu.Lock()
		if r.out.Len() > 0 {
			n, _ := r.out.Read(p)
			r.mu.Unlock()
			return n, nil
		}
		r.mu.Unlock()

		buf := make([]byte, 4096)
		n, err := r.src.Read(buf)

		r.mu.Lock()
		if n > 0 {
			r.feed(buf[:n])
		}
		if err != nil {
			// an unterminated marker prefix is ordinary input
			r.emit(r.pending)
			r.pending = nil
			if r.out.Len() > 0 {
				n, _ := r.out.Read(p)
				r.mu.Unlock()
				return n, nil
			}
			r.mu.Unlock()
			return 0, err
		}
		r.mu.Unlock()
	}
}

func (r *PasteReader) Close() error { return r.src.Close() }

// feed routes data to the output or the paste buffer. Must be called with r.mu held.
func (r *PasteReader) feed(data []byte) {
	r.pending = append(r.pending, data...)
	for {
		marker := pasteStart
		if r.inPaste {
			marker = pasteEnd
		}
		if idx := bytes.Index(r.pending, marker); idx >= 0 {
			r.emit(r.pending[:idx])
			r.pending = r.pending[idx+len(marker):]
			if r.inPaste {
				r.finishPaste()
			} else {
				r.inPaste = true
				r.paste.Reset()
			}
			continue
		}
		keep := partialMarker(r.pending, marker)
		r.emit(r.pending[:len(r.pending)-keep])
		r.pending = append([]byte(nil), r.pending[len(r.pending)-keep:]...)
		return
	}
}

func (r *PasteReader) emit(b []byte) {
	if r.inPaste {
		r.paste.Write(b)
		return
	}
	r.out.Write(b)
}

func (r *PasteReader) finishPaste() {
	r.inPaste = false
	text := strings.ReplaceAll(r.paste.String(), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	r.paste.Reset()
	if text == "" {
		return
	}
	if !strings.Contains(text, "\n") && utf8.RuneCountInString(text) <= maxInlinePaste {
		r.out.WriteString(text)
		return
	}
	r.pastes = append(r.pastes, text)
	r.out.WriteString(pastePlaceholder(len(r.pastes)-1, text))
}

// Expand replaces placeholders in line with the text they stand for and
// forgets the stored pastes.
func (r *PasteReader) Expand(line string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, text := range r.pastes {
		line = strings.Replace(line, pastePlaceholder(i, text), text, 1)
	}
	r.pastes = nil
	return line
}

// Pending reports how many pastes are waiting for Expand
func (r *PasteReader) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pastes)
}

func pastePlaceholder(idx int, text string) string {
	return fmt.Sprintf("[pasted #%d: %d lines, %d chars]", idx+1, strings.Count(text, "\n")+1, utf8.RuneCountInString(text))
}

// partialMarker returns the length of the longest suffix of data that is a
// proper prefix of marker.
func partialMarker(data, marker []byte) int {
	n := len(marker) - 1
	if n > len(data) {
		n = len(data)
	}
	for ; n > 0; n-- {
		if bytes.HasSuffix(data, marker[:n]) {
			return n
		}
	}
	return 0
}
