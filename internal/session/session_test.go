package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpt/chatdesk/pkg/chat/chattest"
	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/logger"
	"github.com/fpt/chatdesk/pkg/message"
)

func newTestStore() *Store {
	return NewStore(logger.Discard())
}

func TestSendTurnSuccess(t *testing.T) {
	store := newTestStore()
	sess := store.Create(domain.ProviderOpenAI, "gpt-4o-mini")
	fake := &chattest.Provider{Responses: []*domain.RawResponse{{StatusCode: 200, Text: "Hi there", Model: "gpt-4o-mini-2024-07-18"}}}

	res, err := sess.SendTurn(context.Background(), "Hello", fake, domain.DefaultGenerationConfig())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Nil(t, res.Err)

	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, message.RoleUser, msgs[0].Role())
	assert.Equal(t, "Hello", msgs[0].Content())
	assert.Equal(t, message.RoleAssistant, msgs[1].Role())
	assert.Equal(t, "Hi there", msgs[1].Content())
	assert.Equal(t, "gpt-4o-mini", msgs[1].Model())
	assert.Equal(t, 1, sess.TurnCount())
	assert.Equal(t, "Hello", sess.Title())
	assert.Greater(t, sess.Usage().Tokens, 0)
	assert.Equal(t, len("Hello")+len("Hi there"), sess.Usage().Chars)
}

func TestSendTurnRateLimited(t *testing.T) {
	store := newTestStore()
	sess := store.Create(domain.ProviderOpenAI, "gpt-4o-mini")
	fake := &chattest.Provider{Responses: []*domain.RawResponse{chattest.Status(429, `{"error":{"message":"slow down"}}`)}}

	res, err := sess.SendTurn(context.Background(), "Hello", fake, domain.DefaultGenerationConfig())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	require.NotNil(t, res.Err)
	assert.True(t, errors.Is(res.Err, domain.ErrRateLimited))

	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsError())
	assert.Contains(t, strings.ToLower(msgs[1].Content()), "rate limit")
	assert.Equal(t, 1, sess.TurnCount())
	assert.Zero(t, sess.Usage().Tokens)
}

// wrappingProvider returns provider errors wrapped, as SDK-backed adapters may
type wrappingProvider struct {
	*fakeProvider
}

// fakeProvider names the embedded field so it does not shadow the Provider method
type fakeProvider = chattest.Provider

func (w wrappingProvider) ParseResponse(raw *domain.RawResponse) (*message.Message, error) {
	m, err := w.fakeProvider.ParseResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return m, nil
}

func TestSendTurnUnwrapsProviderError(t *testing.T) {
	store := newTestStore()
	sess := store.Create(domain.ProviderOpenAI, "gpt-4o-mini")
	fake := wrappingProvider{&chattest.Provider{Responses: []*domain.RawResponse{chattest.Status(429, `{"error":{"message":"slow down"}}`)}}}

	res, err := sess.SendTurn(context.Background(), "Hello", fake, domain.DefaultGenerationConfig())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	var perr *domain.ProviderError
	require.ErrorAs(t, res.Err, &perr)
	assert.Equal(t, domain.KindRateLimited, perr.Kind)
	assert.Contains(t, strings.ToLower(sess.Messages()[1].Content()), "rate limit")
}

func TestSendTurnErrorMessagesLeaveTheWindow(t *testing.T) {
	store := newTestStore()
	sess := store.Create(domain.ProviderOpenAI, "gpt-4o")
	fake := &chattest.Provider{Responses: []*domain.RawResponse{
		chattest.Status(500, "boom"),
		chattest.Reply("second answer"),
	}}

	_, err := sess.SendTurn(context.Background(), "first", fake, domain.DefaultGenerationConfig())
	require.NoError(t, err)
	_, err = sess.SendTurn(context.Background(), "second", fake, domain.DefaultGenerationConfig())
	require.NoError(t, err)

	req := fake.LastRequest()
	require.NotNil(t, req)
	for _, m := range req.Messages {
		assert.NotContains(t, m.Content, "server error")
	}
	assert.Equal(t, 2, sess.TurnCount())
	assert.Len(t, sess.Messages(), 4)
}

func TestSendTurnRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		model string
		text  string
		cfg   domain.GenerationConfig
	}{
		{name: "blank text", model: "gpt-4o", text: "   ", cfg: domain.DefaultGenerationConfig()},
		{name: "no model", model: "", text: "hello", cfg: domain.DefaultGenerationConfig()},
		{name: "bad temperature", model: "gpt-4o", text: "hello", cfg: domain.GenerationConfig{Temperature: domain.Float(3)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newTestStore().Create(domain.ProviderOpenAI, tt.model)
			fake := &chattest.Provider{}

			_, err := sess.SendTurn(context.Background(), tt.text, fake, tt.cfg)
			var verr *message.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Empty(t, sess.Messages())
			assert.Zero(t, sess.TurnCount())
			assert.Zero(t, fake.Calls())
		})
	}
}

func TestSendTurnRejectsConcurrentTurn(t *testing.T) {
	sess := newTestStore().Create(domain.ProviderOpenAI, "gpt-4o")
	fake := &chattest.Provider{Block: make(chan struct{}), Started: make(chan struct{}, 1)}

	done := make(chan *TurnResult, 1)
	go func() {
		res, _ := sess.SendTurn(context.Background(), "first", fake, domain.DefaultGenerationConfig())
		done <- res
	}()
	<-fake.Started

	assert.True(t, sess.Busy())
	_, err := sess.SendTurn(context.Background(), "second", fake, domain.DefaultGenerationConfig())
	assert.ErrorIs(t, err, ErrTurnInProgress)
	assert.ErrorIs(t, sess.Update(func(*message.Transcript) error { return nil }), ErrTurnInProgress)

	close(fake.Block)
	res := <-done
	require.NotNil(t, res)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.False(t, sess.Busy())
	assert.Equal(t, 1, fake.Calls())
	assert.Len(t, sess.Messages(), 2)
}

func TestSendTurnKeepsSystemPromptFirst(t *testing.T) {
	sess := newTestStore().Create(domain.ProviderOpenAI, "gpt-4o")
	require.NoError(t, sess.Update(func(tr *message.Transcript) error {
		_, err := tr.SetSystemPrompt("Be brief.")
		return err
	}))
	fake := &chattest.Provider{}

	_, err := sess.SendTurn(context.Background(), "hello", fake, domain.DefaultGenerationConfig())
	require.NoError(t, err)

	req := fake.LastRequest()
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "Be brief.", req.Messages[0].Content)
}

func TestTitle(t *testing.T) {
	sess := newTestStore().Create(domain.ProviderOpenAI, "gpt-4o")
	assert.True(t, strings.HasPrefix(sess.Title(), "New conversation"))

	_, err := sess.SendTurn(context.Background(), "Please explain how goroutines are scheduled", &chattest.Provider{}, domain.DefaultGenerationConfig())
	require.NoError(t, err)
	assert.Equal(t, "Please explain how g…", sess.Title())
}

func TestFromStateRoundTrip(t *testing.T) {
	sess := newTestStore().Create(domain.ProviderAnthropic, "claude-sonnet-4-5")
	_, err := sess.SendTurn(context.Background(), "hi", &chattest.Provider{ID: domain.ProviderAnthropic}, domain.DefaultGenerationConfig())
	require.NoError(t, err)

	st := sess.State()
	restored, err := FromState(st, nil, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, st.ID, restored.ID())
	assert.Equal(t, st.TurnCount, restored.TurnCount())
	assert.Equal(t, st.Usage, restored.Usage())
	require.Len(t, restored.Messages(), 2)
	for i, m := range restored.Messages() {
		assert.Equal(t, st.Messages[i].ID(), m.ID())
	}
	provider, model := restored.Selection()
	assert.Equal(t, domain.ProviderAnthropic, provider)
	assert.Equal(t, "claude-sonnet-4-5", model)
}

func TestRegenerate(t *testing.T) {
	sess := newTestStore().Create(domain.ProviderOpenAI, "gpt-4o")
	fake := &chattest.Provider{Responses: []*domain.RawResponse{
		chattest.Status(503, ""),
		chattest.Reply("better"),
	}}

	_, err := sess.Regenerate(context.Background(), fake, domain.DefaultGenerationConfig())
	var verr *message.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = sess.SendTurn(context.Background(), "question", fake, domain.DefaultGenerationConfig())
	require.NoError(t, err)
	require.True(t, sess.Messages()[1].IsError())

	res, err := sess.Regenerate(context.Background(), fake, domain.DefaultGenerationConfig())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "question", msgs[0].Content())
	assert.Equal(t, "better", msgs[1].Content())
	assert.Equal(t, 2, sess.TurnCount())

	req := fake.LastRequest()
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "question", req.Messages[0].Content)
}
