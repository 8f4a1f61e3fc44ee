// Package capture records the HTTP status and a bounded body preview of the
// exchanges an SDK performs, so failures can be classified without depending
// on each SDK's error types.
package capture

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
)

// DefaultPreviewBytes bounds how much of an error body is kept
const DefaultPreviewBytes = 4096

// Exchange is what was observed on the wire for one request
type Exchange struct {
	Method     string
	URL        string
	StatusCode int
	Body       string // only captured for non-2xx responses
}

// Recorder collects the exchanges made under one context
type Recorder struct {
	mu        sync.Mutex
	exchanges []Exchange
}

type recorderKey struct{}

// WithRecorder attaches a fresh recorder to ctx
func WithRecorder(ctx context.Context) (context.Context, *Recorder) {
	r := &Recorder{}
	return context.WithValue(ctx, recorderKey{}, r), r
}

func recorderFrom(ctx context.Context) *Recorder {
	r, _ := ctx.Value(recorderKey{}).(*Recorder)
	return r
}

// Last returns the most recent exchange, if any was made
func (r *Recorder) Last() (Exchange, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.exchanges) == 0 {
		return Exchange{}, false
	}
	return r.exchanges[len(r.exchanges)-1], true
}

// Count returns how many exchanges were observed
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.exchanges)
}

func (r *Recorder) add(e Exchange) {
	r.mu.Lock()
	r.exchanges = append(r.exchanges, e)
	r.mu.Unlock()
}

// Transport wraps a base RoundTripper, adds fixed headers and feeds the
// recorder found on the request context.
type Transport struct {
	Base         http.RoundTripper
	Header       http.Header
	PreviewBytes int
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.Header) > 0 {
		req = req.Clone(req.Context())
		for k, vs := range t.Header {
			req.Header.Del(k)
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)

	rec := recorderFrom(req.Context())
	if rec == nil || err != nil {
		return resp, err
	}

	ex := Exchange{Method: req.Method, URL: req.URL.Redacted(), StatusCode: resp.StatusCode}
	if resp.StatusCode >= 300 && resp.Body != nil {
		limit := t.PreviewBytes
		if limit <= 0 {
			limit = DefaultPreviewBytes
		}
		peek, _ := io.ReadAll(io.LimitReader(resp.Body, int64(limit)))
		ex.Body = string(peek)
		resp.Body = &replayBody{Reader: io.MultiReader(bytes.NewReader(peek), resp.Body), closer: resp.Body}
	}
	rec.add(ex)
	return resp, nil
}

// replayBody hands the SDK the bytes we already consumed followed by the rest
type replayBody struct {
	io.Reader
	closer io.Closer
}

func (b *replayBody) Close() error { return b.closer.Close() }

// NewHTTPClient returns a client whose transport records exchanges and sets header.
// The client has no timeout of its own; callers bound requests with their context.
func NewHTTPClient(header http.Header) *http.Client {
	return &http.Client{Transport: &Transport{Base: http.DefaultTransport, Header: header}}
}

// BearerHeader is a convenience for Authorization: Bearer <token>. Empty token yields nil.
func BearerHeader(token string) http.Header {
	if token == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
