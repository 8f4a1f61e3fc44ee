package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpt/chatdesk/internal/catalog"
	"github.com/fpt/chatdesk/internal/config"
	"github.com/fpt/chatdesk/internal/infra"
	"github.com/fpt/chatdesk/internal/persistence"
	"github.com/fpt/chatdesk/internal/session"
	"github.com/fpt/chatdesk/pkg/chat/chattest"
	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/logger"
	"github.com/fpt/chatdesk/pkg/message"
)

type chatFixture struct {
	chat  *Chat
	fake  *chattest.Provider
	repo  *infra.InMemoryStateRepository
	built int
}

func newChatFixture(t *testing.T, credential string, responses ...*domain.RawResponse) *chatFixture {
	t.Helper()
	f := &chatFixture{
		fake: &chattest.Provider{Responses: responses, Models: []domain.ModelDescriptor{{ID: "gpt-4o-mini"}, {ID: "gpt-4o"}}},
		repo: infra.NewInMemoryStateRepository(),
	}
	settings := config.GetDefaultSettings()
	settings.Provider.Model = "gpt-4o-mini"

	factory := func(_ context.Context, provider domain.ProviderID, _ string) (domain.Provider, error) {
		f.built++
		f.fake.ID = provider
		return f.fake, nil
	}
	c, err := NewChat(Options{
		Settings:   settings,
		Gateway:    persistence.NewGateway(f.repo, logger.Discard()),
		Factory:    catalog.Factory(factory),
		Credential: credential,
		Logger:     logger.Discard(),
		Now:        func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) },
	})
	require.NoError(t, err)
	f.chat = c
	return f
}

func TestSendWithoutCredential(t *testing.T) {
	f := newChatFixture(t, "")

	res, err := f.chat.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.False(t, res.Dispatched)
	assert.Equal(t, NoticeNoCredential, res.Notice)
	assert.Equal(t, 0, f.fake.Calls())
	assert.Equal(t, 0, f.built)
	assert.Nil(t, f.chat.Store().Active())
}

func TestSendSuccess(t *testing.T) {
	f := newChatFixture(t, "valid", chattest.Reply("4"))

	res, err := f.chat.Send(context.Background(), "2+2?")
	require.NoError(t, err)
	require.True(t, res.Dispatched)
	assert.Equal(t, session.OutcomeSuccess, res.Turn.Outcome)
	assert.True(t, res.Saved.Saved)

	active := f.chat.Store().Active()
	require.NotNil(t, active)
	msgs := active.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, message.RoleUser, msgs[0].Role())
	assert.Equal(t, "2+2?", msgs[0].Content())
	assert.Equal(t, message.RoleAssistant, msgs[1].Role())
	assert.Equal(t, "4", msgs[1].Content())
	assert.Equal(t, "gpt-4o-mini", msgs[1].Model())
	assert.Equal(t, 1, active.TurnCount())
}

func TestSwitchRestoresTranscript(t *testing.T) {
	f := newChatFixture(t, "valid", chattest.Reply("first answer"), chattest.Reply("second answer"))
	ctx := context.Background()

	s1, _ := f.chat.NewSession(ctx)
	_, err := f.chat.Send(ctx, "first question")
	require.NoError(t, err)

	s2, _ := f.chat.NewSession(ctx)
	require.NotEqual(t, s1.ID(), s2.ID())
	_, err = f.chat.Send(ctx, "second question")
	require.NoError(t, err)

	_, err = f.chat.Switch(ctx, s1.ID())
	require.NoError(t, err)

	msgs := f.chat.Store().Active().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first question", msgs[0].Content())
	assert.Equal(t, "first answer", msgs[1].Content())
	for _, m := range msgs {
		assert.NotContains(t, m.Content(), "second")
	}
	assert.Equal(t, 2, f.chat.Store().Len())
}

func TestSendRateLimited(t *testing.T) {
	f := newChatFixture(t, "valid", chattest.Status(429, `{"error":{"message":"Too many requests"}}`))

	res, err := f.chat.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.True(t, res.Dispatched)
	assert.Equal(t, session.OutcomeFailure, res.Turn.Outcome)
	require.NotNil(t, res.Turn.Err)
	assert.Equal(t, domain.KindRateLimited, res.Turn.Err.Kind)

	active := f.chat.Store().Active()
	msgs := active.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsError())
	assert.Contains(t, strings.ToLower(msgs[1].Content()), "rate limit")
	assert.Equal(t, 1, active.TurnCount())
}

func TestSendRejectsBlankInput(t *testing.T) {
	f := newChatFixture(t, "valid")

	_, err := f.chat.Send(context.Background(), "   \n")
	var verr *message.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, f.fake.Calls())
	assert.Nil(t, f.chat.Store().Active())
}

func TestSendPersistsState(t *testing.T) {
	f := newChatFixture(t, "valid", chattest.Reply("pong"))
	ctx := context.Background()

	_, err := f.chat.Send(ctx, "ping")
	require.NoError(t, err)

	ps, ok := f.chat.Gateway().Load(ctx)
	require.True(t, ok)
	assert.Len(t, ps.Sessions, 1)
	assert.Equal(t, 2, ps.MessageCount())
	assert.Equal(t, "valid", ps.Credential)
	assert.Equal(t, "gpt-4o-mini", ps.SelectedModel)
	assert.Equal(t, 1, ps.ConversationCount)
}

func TestSaveFailureIsReported(t *testing.T) {
	f := newChatFixture(t, "valid", chattest.Reply("pong"))
	f.repo.FailSave = errors.New("disk full")

	res, err := f.chat.Send(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, session.OutcomeSuccess, res.Turn.Outcome)
	assert.False(t, res.Saved.Saved)
	require.NotNil(t, res.Saved.Err)
	assert.Equal(t, "save", res.Saved.Err.Op)
}

func TestRestoreAcceptAndDecline(t *testing.T) {
	ctx := context.Background()
	first := newChatFixture(t, "secret", chattest.Reply("hi"))
	_, err := first.chat.Send(ctx, "hello")
	require.NoError(t, err)
	require.NoError(t, first.chat.SetModel(ctx, "gpt-4o"))

	t.Run("accept", func(t *testing.T) {
		c, err := NewChat(Options{
			Settings: config.GetDefaultSettings(),
			Gateway:  first.chat.Gateway(),
			Factory:  func(context.Context, domain.ProviderID, string) (domain.Provider, error) { return first.fake, nil },
			Logger:   logger.Discard(),
		})
		require.NoError(t, err)

		offered, ps := c.OfferRestore(ctx, nil)
		require.True(t, offered)
		assert.Len(t, ps.Sessions, 1)
		assert.Equal(t, persistence.RestoreOffered, c.RestoreState())

		require.NoError(t, c.AcceptRestore())
		assert.Equal(t, persistence.RestoreRestored, c.RestoreState())
		assert.True(t, c.HasCredential())
		_, model := c.Selection()
		assert.Equal(t, "gpt-4o", model)
		require.NotNil(t, c.Store().Active())
		assert.Len(t, c.Store().Active().Messages(), 2)
	})

	t.Run("decline", func(t *testing.T) {
		c, err := NewChat(Options{Settings: config.GetDefaultSettings(), Gateway: first.chat.Gateway(), Logger: logger.Discard()})
		require.NoError(t, err)

		offered, _ := c.OfferRestore(ctx, nil)
		require.True(t, offered)
		require.NoError(t, c.DeclineRestore(ctx))
		assert.Equal(t, persistence.RestoreDiscarded, c.RestoreState())
		assert.Equal(t, 0, c.Store().Len())

		_, ok := first.chat.Gateway().Load(ctx)
		assert.False(t, ok)
	})
}

func TestRestoreOfferTimesOut(t *testing.T) {
	ctx := context.Background()
	first := newChatFixture(t, "secret", chattest.Reply("hi"))
	_, err := first.chat.Send(ctx, "hello")
	require.NoError(t, err)

	settings := config.GetDefaultSettings()
	c, err := NewChat(Options{Settings: settings, Gateway: first.chat.Gateway(), Logger: logger.Discard()})
	require.NoError(t, err)
	// sub-second timeouts are only reachable from code
	c.restore = persistence.NewRestoreFlow(first.chat.Gateway(), logger.Discard())
	dismissed := make(chan struct{})
	_, err = c.restore.Check(ctx)
	require.NoError(t, err)
	require.NoError(t, c.restore.Offer(10*time.Millisecond, func() { close(dismissed) }))

	select {
	case <-dismissed:
	case <-time.After(2 * time.Second):
		t.Fatal("offer was not dismissed")
	}
	assert.Equal(t, persistence.RestoreDismissed, c.RestoreState())
	_, ok := first.chat.Gateway().Load(ctx)
	assert.True(t, ok, "dismissing keeps the saved data")
}

// sharing points f at another fixture's saved data, as a second launch would
func (f *chatFixture) sharing(other *chatFixture) *chatFixture {
	f.chat.gateway = other.chat.Gateway()
	f.chat.restore = persistence.NewRestoreFlow(other.chat.Gateway(), logger.Discard())
	return f
}

func savedQuestions(t *testing.T, c *Chat) []string {
	t.Helper()
	ps, ok := c.Gateway().Load(context.Background())
	require.True(t, ok)
	var out []string
	for _, rec := range ps.Sessions {
		for _, m := range rec.Messages {
			if m.Role == message.RoleUser.String() {
				out = append(out, m.Content)
			}
		}
	}
	return out
}

func TestSendDuringRestoreOfferKeepsBoth(t *testing.T) {
	ctx := context.Background()
	first := newChatFixture(t, "secret", chattest.Reply("old answer"))
	_, err := first.chat.Send(ctx, "old question")
	require.NoError(t, err)

	second := newChatFixture(t, "valid", chattest.Reply("new answer")).sharing(first)
	offered, _ := second.chat.OfferRestore(ctx, nil)
	require.True(t, offered)

	res, err := second.chat.Send(ctx, "new question")
	require.NoError(t, err)
	require.True(t, res.Saved.Saved)
	assert.ElementsMatch(t, []string{"old question", "new question"}, savedQuestions(t, second.chat))

	require.NoError(t, second.chat.AcceptRestore())
	assert.Equal(t, 2, second.chat.Store().Len())
	require.NotNil(t, second.chat.Store().Active())
	assert.Equal(t, "new question", second.chat.Store().Active().Messages()[0].Content())

	second.chat.Save(ctx)
	assert.ElementsMatch(t, []string{"old question", "new question"}, savedQuestions(t, second.chat))
}

func TestUnansweredOfferKeepsSavedData(t *testing.T) {
	ctx := context.Background()
	seeded := func(t *testing.T) *chatFixture {
		f := newChatFixture(t, "secret", chattest.Reply("old answer"))
		_, err := f.chat.Send(ctx, "old question")
		require.NoError(t, err)
		return f
	}

	t.Run("exit without answering", func(t *testing.T) {
		second := newChatFixture(t, "").sharing(seeded(t))
		offered, _ := second.chat.OfferRestore(ctx, nil)
		require.True(t, offered)

		assert.True(t, second.chat.Save(ctx).Saved)
		assert.Equal(t, []string{"old question"}, savedQuestions(t, second.chat))
	})

	t.Run("dismissed then send", func(t *testing.T) {
		second := newChatFixture(t, "valid", chattest.Reply("new answer")).sharing(seeded(t))
		_, err := second.chat.restore.Check(ctx)
		require.NoError(t, err)
		dismissed := make(chan struct{})
		require.NoError(t, second.chat.restore.Offer(10*time.Millisecond, func() { close(dismissed) }))
		select {
		case <-dismissed:
		case <-time.After(2 * time.Second):
			t.Fatal("offer was not dismissed")
		}

		_, err = second.chat.Send(ctx, "new question")
		require.NoError(t, err)
		second.chat.Save(ctx)
		assert.ElementsMatch(t, []string{"old question", "new question"}, savedQuestions(t, second.chat))
	})

	t.Run("decline keeps only the new conversation", func(t *testing.T) {
		second := newChatFixture(t, "valid", chattest.Reply("new answer")).sharing(seeded(t))
		offered, _ := second.chat.OfferRestore(ctx, nil)
		require.True(t, offered)
		_, err := second.chat.Send(ctx, "new question")
		require.NoError(t, err)

		require.NoError(t, second.chat.DeclineRestore(ctx))
		assert.Equal(t, []string{"new question"}, savedQuestions(t, second.chat))
	})
}

func TestImportKeepsLiveConversation(t *testing.T) {
	ctx := context.Background()
	src := newChatFixture(t, "secret", chattest.Reply("exported answer"))
	_, err := src.chat.Send(ctx, "exported question")
	require.NoError(t, err)
	var data bytes.Buffer
	require.NoError(t, src.chat.ExportTo(&data, "json", ""))

	f := newChatFixture(t, "valid", chattest.Reply("live answer"))
	_, err = f.chat.Send(ctx, "live question")
	require.NoError(t, err)
	liveID := f.chat.Store().ActiveID()

	n, err := f.chat.Import(ctx, &data)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, f.chat.Store().Len())
	assert.Equal(t, liveID, f.chat.Store().ActiveID())
}

func TestModelAndProviderSelection(t *testing.T) {
	f := newChatFixture(t, "valid", chattest.Reply("ok"))
	ctx := context.Background()

	require.NoError(t, f.chat.SetModel(ctx, "some-unlisted-model"))
	_, err := f.chat.Send(ctx, "hi")
	require.NoError(t, err)
	assert.Equal(t, "some-unlisted-model", f.fake.LastRequest().Model)

	var verr *message.ValidationError
	assert.ErrorAs(t, f.chat.SetModel(ctx, " "), &verr)

	t.Setenv("ANTHROPIC_API_KEY", "anthropic-key")
	p, err := f.chat.SetProvider(ctx, "claude")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderAnthropic, p)
	provider, model := f.chat.Selection()
	assert.Equal(t, domain.ProviderAnthropic, provider)
	assert.NotEmpty(t, model)

	_, err = f.chat.SetProvider(ctx, "nope")
	assert.ErrorAs(t, err, &verr)

	_, err = f.chat.Send(ctx, "again")
	require.NoError(t, err)
	assert.Equal(t, 2, f.built, "changing provider creates a new client")
}

func TestSetCredentialRefreshesCatalog(t *testing.T) {
	f := newChatFixture(t, "old")
	ctx := context.Background()

	listing := f.chat.ListModels(ctx)
	assert.Equal(t, catalog.SourceLive, listing.Source)
	assert.Equal(t, catalog.SourceCache, f.chat.ListModels(ctx).Source)

	f.chat.SetCredential(ctx, "new")
	assert.Equal(t, catalog.SourceLive, f.chat.ListModels(ctx).Source)
	assert.Equal(t, 2, f.fake.Lists())
	assert.Equal(t, catalog.Fingerprint("new"), f.chat.CredentialFingerprint())
}

func TestListModelsFallback(t *testing.T) {
	f := newChatFixture(t, "valid")
	f.fake.ListErr = errors.New("connection refused")

	listing := f.chat.ListModels(context.Background())
	assert.Equal(t, catalog.SourceFallback, listing.Source)
	assert.NotEmpty(t, listing.Models)
}

func TestTestConnection(t *testing.T) {
	ctx := context.Background()

	f := newChatFixture(t, "")
	assert.Error(t, f.chat.TestConnection(ctx))

	f = newChatFixture(t, "valid")
	assert.NoError(t, f.chat.TestConnection(ctx))

	f.fake.ProbeErr = &domain.ProviderError{Kind: domain.KindAuth, Status: 401, Provider: domain.ProviderOpenAI}
	err := f.chat.TestConnection(ctx)
	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.KindAuth, perr.Kind)
}

func TestPresetAndSystemPrompt(t *testing.T) {
	f := newChatFixture(t, "valid", chattest.Reply("ok"))
	ctx := context.Background()

	p, err := f.chat.ApplyPreset(ctx, "programmer")
	require.NoError(t, err)
	assert.Equal(t, p.Prompt, f.chat.SystemPrompt())

	_, err = f.chat.Send(ctx, "hi")
	require.NoError(t, err)
	req := f.fake.LastRequest()
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, "system", req.Messages[0].Role)

	_, err = f.chat.ApplyPreset(ctx, "no-such-preset")
	var verr *message.ValidationError
	assert.ErrorAs(t, err, &verr)

	require.NoError(t, f.chat.SetSystemPrompt(ctx, ""))
	assert.Empty(t, f.chat.SystemPrompt())
}

func TestClearRegenerateAndLastReply(t *testing.T) {
	f := newChatFixture(t, "valid", chattest.Reply("one"), chattest.Reply("two"))
	ctx := context.Background()

	assert.ErrorIs(t, f.chat.ClearHistory(ctx), session.ErrNoActiveSession)

	_, err := f.chat.Send(ctx, "question")
	require.NoError(t, err)
	res, err := f.chat.Regenerate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", res.Turn.Reply.Content())

	last, ok := f.chat.LastReply()
	require.True(t, ok)
	assert.Equal(t, "two", last.Content())
	assert.Len(t, f.chat.Store().Active().Messages(), 2)

	require.NoError(t, f.chat.ClearHistory(ctx))
	assert.True(t, f.chat.Store().Active().IsEmpty())
	_, ok = f.chat.LastReply()
	assert.False(t, ok)
}

func TestDeleteAndResolveSession(t *testing.T) {
	f := newChatFixture(t, "valid", chattest.Reply("ok"))
	ctx := context.Background()

	s1, _ := f.chat.NewSession(ctx)
	_, err := f.chat.Send(ctx, "one")
	require.NoError(t, err)
	s2, _ := f.chat.NewSession(ctx)
	_, err = f.chat.Send(ctx, "two")
	require.NoError(t, err)

	id, err := f.chat.ResolveSession("1")
	require.NoError(t, err)
	assert.Equal(t, f.chat.Sessions()[0].ID, id)

	id, err = f.chat.ResolveSession(s1.ID())
	require.NoError(t, err)
	assert.Equal(t, s1.ID(), id)

	_, err = f.chat.ResolveSession("zzz")
	var nf *session.NotFoundError
	assert.ErrorAs(t, err, &nf)

	require.NoError(t, f.chat.Delete(ctx, s2.ID()))
	assert.Nil(t, f.chat.Store().Active())
	assert.ErrorAs(t, f.chat.Delete(ctx, s2.ID()), &nf)
	assert.Equal(t, 1, f.chat.Store().Len())
}

func TestStats(t *testing.T) {
	f := newChatFixture(t, "valid", chattest.Reply("four"))
	ctx := context.Background()

	_, err := f.chat.Send(ctx, "2+2?")
	require.NoError(t, err)

	st := f.chat.Stats()
	assert.Equal(t, 1, st.Sessions)
	assert.Equal(t, 1, st.TotalTurns)
	assert.Equal(t, 1, st.Session.UserMessages)
	assert.Equal(t, 1, st.Session.AssistantMessages)
	assert.Equal(t, len("2+2?")+len("four"), st.TotalChars)
	assert.Greater(t, st.TotalTokens, 0)
	assert.Equal(t, "memory", st.StoreLocation)
}

func TestExportAndImport(t *testing.T) {
	f := newChatFixture(t, "secret", chattest.Reply("exported answer"))
	ctx := context.Background()
	_, err := f.chat.Send(ctx, "exported question")
	require.NoError(t, err)

	dir := t.TempDir()
	f.chat.Settings().Export.Dir = dir
	path, err := f.chat.Export("json", "", config.NewUserDirs(dir))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "chat_history_20260304_050607.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "exported answer")
	assert.NotContains(t, string(data), "secret")

	var md bytes.Buffer
	require.NoError(t, f.chat.ExportTo(&md, "md", ""))
	assert.Contains(t, md.String(), "exported question")

	other := newChatFixture(t, "valid")
	n, err := other.chat.Import(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NotNil(t, other.chat.Store().Active())
	assert.Len(t, other.chat.Store().Active().Messages(), 2)

	n, err = other.chat.Import(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "known sessions are skipped")
}

func TestLoadSaved(t *testing.T) {
	ctx := context.Background()
	first := newChatFixture(t, "secret", chattest.Reply("hi"))

	empty := newChatFixture(t, "")
	loaded, err := empty.chat.LoadSaved(ctx)
	require.NoError(t, err)
	assert.False(t, loaded)
	assert.Equal(t, persistence.RestoreFresh, empty.chat.RestoreState())

	_, err = first.chat.Send(ctx, "hello")
	require.NoError(t, err)

	c, err := NewChat(Options{
		Settings: config.GetDefaultSettings(),
		Gateway:  first.chat.Gateway(),
		Factory:  func(context.Context, domain.ProviderID, string) (domain.Provider, error) { return first.fake, nil },
		Logger:   logger.Discard(),
	})
	require.NoError(t, err)
	loaded, err = c.LoadSaved(ctx)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.True(t, c.HasCredential())
	require.NotNil(t, c.Store().Active())
	assert.Len(t, c.Store().Active().Messages(), 2)

	_, err = c.LoadSaved(ctx)
	var terr *persistence.TransitionError
	assert.ErrorAs(t, err, &terr)
}
