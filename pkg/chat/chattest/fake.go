// Package chattest provides a scripted provider for tests.
package chattest

import (
	"context"
	"sync"

	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/message"
)

// Provider is an in-memory domain.Provider. Responses are consumed in order;
// once exhausted the last one repeats.
type Provider struct {
	ID        domain.ProviderID
	Responses []*domain.RawResponse
	Models    []domain.ModelDescriptor
	ListErr   error
	ProbeErr  error
	// Block, when set, is waited on inside Do so tests can hold a turn in flight
	Block chan struct{}
	// Started is signalled when Do begins, if set
	Started chan struct{}

	mu       sync.Mutex
	calls    int
	lists    int
	requests []*domain.Request
}

var _ domain.Provider = (*Provider)(nil)

// Reply is a convenience for a successful response
func Reply(text string) *domain.RawResponse {
	return &domain.RawResponse{StatusCode: 200, Text: text}
}

// Status is a convenience for an HTTP failure
func Status(code int, body string) *domain.RawResponse {
	return &domain.RawResponse{StatusCode: code, Body: body, Err: context.Canceled}
}

func (p *Provider) Provider() domain.ProviderID {
	if p.ID == "" {
		return domain.ProviderOpenAI
	}
	return p.ID
}

func (p *Provider) BuiltinModels() []domain.ModelDescriptor {
	return []domain.ModelDescriptor{{ID: "builtin-model"}}
}

func (p *Provider) BuildRequest(t *message.Transcript, modelID string, cfg domain.GenerationConfig) (*domain.Request, error) {
	return domain.BuildRequest(p.Provider(), t, modelID, cfg, domain.BuildOptions{})
}

func (p *Provider) Do(ctx context.Context, req *domain.Request) *domain.RawResponse {
	p.mu.Lock()
	p.calls++
	p.requests = append(p.requests, req)
	var raw *domain.RawResponse
	if len(p.Responses) > 0 {
		idx := p.calls - 1
		if idx >= len(p.Responses) {
			idx = len(p.Responses) - 1
		}
		raw = p.Responses[idx]
	}
	p.mu.Unlock()

	if p.Started != nil {
		p.Started <- struct{}{}
	}
	if p.Block != nil {
		select {
		case <-p.Block:
		case <-ctx.Done():
			return &domain.RawResponse{Err: ctx.Err()}
		}
	}
	if raw == nil {
		return Reply("ok")
	}
	out := *raw
	if out.Model == "" {
		out.Model = req.Model
	}
	return &out
}

func (p *Provider) ParseResponse(raw *domain.RawResponse) (*message.Message, error) {
	return domain.ParseRaw(p.Provider(), raw, "")
}

func (p *Provider) ListModels(context.Context) ([]domain.ModelDescriptor, error) {
	p.mu.Lock()
	p.lists++
	p.mu.Unlock()
	if p.ListErr != nil {
		return nil, p.ListErr
	}
	return p.Models, nil
}

func (p *Provider) Probe(context.Context, string) error { return p.ProbeErr }

// Calls returns how many times Do ran
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Lists returns how many times ListModels ran
func (p *Provider) Lists() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lists
}

// LastRequest returns the most recent request passed to Do
func (p *Provider) LastRequest() *domain.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[len(p.requests)-1]
}
