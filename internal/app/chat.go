package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	pkgErrors "github.com/pkg/errors"

	"github.com/fpt/chatdesk/internal/catalog"
	"github.com/fpt/chatdesk/internal/config"
	"github.com/fpt/chatdesk/internal/export"
	"github.com/fpt/chatdesk/internal/persistence"
	"github.com/fpt/chatdesk/internal/preset"
	"github.com/fpt/chatdesk/internal/repository"
	"github.com/fpt/chatdesk/internal/session"
	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/client"
	pkgLogger "github.com/fpt/chatdesk/pkg/logger"
	"github.com/fpt/chatdesk/pkg/message"
)

// NoticeNoCredential is shown instead of dispatching when no API key is set
const NoticeNoCredential = "Configure an API key first (/key), then send your message again."

// Options wires a Chat. Only Settings and Gateway are required.
type Options struct {
	Settings *config.Settings
	Gateway  *persistence.Gateway
	// Factory creates provider clients; nil means the real SDK clients
	Factory catalog.Factory
	Presets *preset.Library
	// Credential is the starting API key, usually from the environment
	Credential string
	Logger     *pkgLogger.Logger
	// Now is the clock used for export file names
	Now func() time.Time
}

// Chat is the per-user controller: one session store, one provider
// selection and credential, one persistence gateway. Every mutation is
// followed by a best-effort save.
type Chat struct {
	settings *config.Settings
	store    *session.Store
	catalog  *catalog.Catalog
	factory  catalog.Factory
	gateway  *persistence.Gateway
	restore  *persistence.RestoreFlow
	presets  *preset.Library
	logger   *pkgLogger.Logger
	now      func() time.Time

	mu         sync.Mutex
	credential string
	provider   domain.ProviderID
	model      string
	gen        domain.GenerationConfig
	adapter    domain.Provider
}

// SendResult reports what happened to one message
type SendResult struct {
	// Dispatched is false when the message never reached a provider
	Dispatched bool
	// Notice explains why nothing was dispatched
	Notice string
	Turn   *session.TurnResult
	Saved  persistence.SaveResult
}

// NewChat builds a controller from settings
func NewChat(opts Options) (*Chat, error) {
	if opts.Settings == nil {
		return nil, errors.New("settings are required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("persistence gateway is required")
	}
	log := opts.Logger
	if log == nil {
		log = pkgLogger.NewComponentLogger("chat")
	}
	provider, err := domain.ParseProvider(opts.Settings.Provider.Backend)
	if err != nil {
		return nil, err
	}
	factory := opts.Factory
	if factory == nil {
		factory = catalog.FactoryFromOptions(opts.Settings.ClientOptions())
	}
	presets := opts.Presets
	if presets == nil {
		if presets, err = preset.Builtin(); err != nil {
			return nil, pkgErrors.Wrap(err, "load presets")
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	model := opts.Settings.Provider.Model
	if model == "" {
		model = client.DefaultModel(provider)
	}

	return &Chat{
		settings:   opts.Settings,
		store:      session.NewStore(log.WithComponent("session")),
		catalog:    catalog.New(factory, log.WithComponent("catalog")),
		factory:    factory,
		gateway:    opts.Gateway,
		restore:    persistence.NewRestoreFlow(opts.Gateway, log.WithComponent("restore")),
		presets:    presets,
		logger:     log,
		now:        now,
		credential: opts.Credential,
		provider:   provider,
		model:      model,
		gen:        opts.Settings.GenerationConfig(),
	}, nil
}

func (c *Chat) Store() *session.Store         { return c.store }
func (c *Chat) Presets() *preset.Library      { return c.presets }
func (c *Chat) Settings() *config.Settings    { return c.settings }
func (c *Chat) Gateway() *persistence.Gateway { return c.gateway }

// Selection returns the provider and model used for the next turn
func (c *Chat) Selection() (domain.ProviderID, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider, c.model
}

// HasCredential reports whether the current provider can be called
func (c *Chat) HasCredential() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credential != "" || !c.provider.RequiresCredential()
}

// CredentialFingerprint identifies the API key in status lines
func (c *Chat) CredentialFingerprint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return catalog.Fingerprint(c.credential)
}

// Generation returns the sampling parameters for the next turn
func (c *Chat) Generation() domain.GenerationConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// OfferRestore looks for saved conversations. It returns true when an offer
// is pending; the offer is dismissed after the configured timeout and
// onDismiss runs on the timer goroutine.
func (c *Chat) OfferRestore(ctx context.Context, onDismiss func()) (bool, *repository.PersistedState) {
	state, err := c.restore.Check(ctx)
	if err != nil || state != persistence.RestoreFound {
		return false, nil
	}
	if err := c.restore.Offer(c.settings.RestoreOfferTimeout(), onDismiss); err != nil {
		return false, nil
	}
	return true, c.restore.Candidate()
}

// RestoreState reports where the startup restore flow is
func (c *Chat) RestoreState() persistence.RestoreState {
	return c.restore.State()
}

// AcceptRestore loads the offered conversations along with the saved
// credential and selection.
func (c *Chat) AcceptRestore() error {
	ps, err := c.restore.Accept(c.store)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if ps.Credential != "" {
		c.credential = ps.Credential
	}
	if p, err := domain.ParseProvider(ps.SelectedProvider); err == nil {
		c.provider = p
	}
	if ps.SelectedModel != "" {
		c.model = ps.SelectedModel
	}
	c.adapter = nil
	c.mu.Unlock()

	c.logger.InfoWithIntention(pkgLogger.IntentionSession, "Conversations restored",
		"sessions", c.store.Len(), "active", c.store.ActiveID())
	return nil
}

// DeclineRestore deletes the saved conversations. Conversations started
// since launch are written again right away.
func (c *Chat) DeclineRestore(ctx context.Context) error {
	if err := c.restore.Decline(ctx); err != nil {
		return err
	}
	if c.store.Len() > 0 {
		c.Save(ctx)
	}
	return nil
}

// LoadSaved restores saved conversations without an offer, for commands
// that run once and exit. It reports whether anything was loaded.
func (c *Chat) LoadSaved(ctx context.Context) (bool, error) {
	state, err := c.restore.Check(ctx)
	if err != nil {
		return false, err
	}
	if state != persistence.RestoreFound {
		return false, nil
	}
	if err := c.AcceptRestore(); err != nil {
		return false, err
	}
	return true, nil
}

// Save writes the whole store. Failures are logged by the gateway.
func (c *Chat) Save(ctx context.Context) persistence.SaveResult {
	c.mu.Lock()
	sel := persistence.Selection{Credential: c.credential, Provider: c.provider, Model: c.model}
	c.mu.Unlock()
	return c.gateway.Save(ctx, c.store, sel)
}

// Send delivers text to the active conversation, creating one if needed.
// Without a credential nothing is appended or dispatched.
func (c *Chat) Send(ctx context.Context, text string) (*SendResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &message.ValidationError{Field: "message", Reason: "content is empty"}
	}
	if !c.HasCredential() {
		c.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Message not sent, no API key configured")
		return &SendResult{Notice: NoticeNoCredential}, nil
	}

	adapter, err := c.currentAdapter(ctx)
	if err != nil {
		return nil, err
	}
	s := c.ensureActive()
	provider, model, gen := c.selection()
	s.Select(provider, model)

	turn, err := s.SendTurn(ctx, text, adapter, gen)
	if err != nil {
		return nil, err
	}
	if turn.Outcome == session.OutcomeSuccess {
		c.logger.InfoWithIntention(pkgLogger.IntentionTurn, "Reply received", "session", s.ID(), "model", model)
	}
	return &SendResult{Dispatched: true, Turn: turn, Saved: c.Save(ctx)}, nil
}

// Regenerate asks again for the last reply of the active conversation
func (c *Chat) Regenerate(ctx context.Context) (*SendResult, error) {
	s := c.store.Active()
	if s == nil {
		return nil, session.ErrNoActiveSession
	}
	if !c.HasCredential() {
		return &SendResult{Notice: NoticeNoCredential}, nil
	}
	adapter, err := c.currentAdapter(ctx)
	if err != nil {
		return nil, err
	}
	provider, model, gen := c.selection()
	s.Select(provider, model)

	turn, err := s.Regenerate(ctx, adapter, gen)
	if err != nil {
		return nil, err
	}
	return &SendResult{Dispatched: true, Turn: turn, Saved: c.Save(ctx)}, nil
}

// LastReply returns the most recent successful reply of the active conversation
func (c *Chat) LastReply() (*message.Message, bool) {
	s := c.store.Active()
	if s == nil {
		return nil, false
	}
	var last *message.Message
	s.View(func(t *message.Transcript) { last = t.LastAssistant() })
	return last, last != nil
}

func (c *Chat) selection() (domain.ProviderID, string, domain.GenerationConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider, c.model, c.gen
}

func (c *Chat) ensureActive() *session.Session {
	if s := c.store.Active(); s != nil {
		return s
	}
	provider, model, _ := c.selection()
	s := c.store.Create(provider, model)
	c.logger.DebugWithIntention(pkgLogger.IntentionSession, "Started conversation", "id", s.ID())
	return s
}

// currentAdapter returns the client for the selected provider, creating it
// when the provider or credential changed since the last turn.
func (c *Chat) currentAdapter(ctx context.Context) (domain.Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.adapter != nil && c.adapter.Provider() == c.provider {
		return c.adapter, nil
	}
	a, err := c.factory(ctx, c.provider, c.credential)
	if err != nil {
		return nil, pkgErrors.Wrapf(err, "create %s client", c.provider)
	}
	c.adapter = a
	return a, nil
}

// NewSession starts a conversation with the current selection. The
// previously active one stays in the store unless it was empty.
func (c *Chat) NewSession(ctx context.Context) (*session.Session, persistence.SaveResult) {
	provider, model, _ := c.selection()
	s := c.store.Create(provider, model)
	c.logger.InfoWithIntention(pkgLogger.IntentionSession, "New conversation", "id", s.ID())
	return s, c.Save(ctx)
}

// Switch activates another conversation
func (c *Chat) Switch(ctx context.Context, id string) (*session.Session, error) {
	s, err := c.store.SwitchTo(id)
	if err != nil {
		return nil, err
	}
	c.logger.InfoWithIntention(pkgLogger.IntentionSession, "Switched conversation", "id", id)
	c.Save(ctx)
	return s, nil
}

// Delete removes a conversation
func (c *Chat) Delete(ctx context.Context, id string) error {
	if err := c.store.Delete(id); err != nil {
		return err
	}
	c.logger.InfoWithIntention(pkgLogger.IntentionSession, "Deleted conversation", "id", id)
	c.Save(ctx)
	return nil
}

// Sessions lists conversations, newest first
func (c *Chat) Sessions() []session.Summary {
	return c.store.List()
}

// ResolveSession accepts a full id, a unique id prefix or suffix (as shown
// in listings) or a 1-based position in Sessions().
func (c *Chat) ResolveSession(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	list := c.store.List()
	var n int
	if _, err := fmt.Sscanf(ref, "%d", &n); err == nil && fmt.Sprint(n) == ref {
		if n >= 1 && n <= len(list) {
			return list[n-1].ID, nil
		}
	}
	var match string
	tail := strings.TrimPrefix(ref, "…")
	for _, s := range list {
		if s.ID == ref {
			return s.ID, nil
		}
		if tail != "" && (strings.HasPrefix(s.ID, tail) || strings.HasSuffix(s.ID, tail)) {
			if match != "" {
				return "", &message.ValidationError{Field: "session", Reason: fmt.Sprintf("%q matches more than one conversation", ref)}
			}
			match = s.ID
		}
	}
	if match == "" {
		return "", &session.NotFoundError{ID: ref}
	}
	return match, nil
}

// ClearHistory empties the active conversation, keeping its system prompt
func (c *Chat) ClearHistory(ctx context.Context) error {
	s := c.store.Active()
	if s == nil {
		return session.ErrNoActiveSession
	}
	err := s.Update(func(t *message.Transcript) error {
		t.Clear()
		return nil
	})
	if err != nil {
		return err
	}
	c.Save(ctx)
	return nil
}

// SetSystemPrompt replaces the system prompt of the active conversation.
// An empty prompt removes it.
func (c *Chat) SetSystemPrompt(ctx context.Context, prompt string) error {
	s := c.ensureActive()
	err := s.Update(func(t *message.Transcript) error {
		if strings.TrimSpace(prompt) == "" {
			t.ClearSystemPrompt()
			return nil
		}
		_, err := t.SetSystemPrompt(prompt)
		return err
	})
	if err != nil {
		return err
	}
	c.Save(ctx)
	return nil
}

// SystemPrompt returns the active conversation's system prompt, if any
func (c *Chat) SystemPrompt() string {
	s := c.store.Active()
	if s == nil {
		return ""
	}
	var out string
	s.View(func(t *message.Transcript) {
		if m := t.SystemPrompt(); m != nil {
			out = m.Content()
		}
	})
	return out
}

// ApplyPreset installs a persona preset as the system prompt
func (c *Chat) ApplyPreset(ctx context.Context, name string) (preset.Preset, error) {
	p, ok := c.presets.Get(name)
	if !ok {
		return preset.Preset{}, &message.ValidationError{Field: "preset", Reason: fmt.Sprintf("unknown preset %q", name)}
	}
	if err := c.SetSystemPrompt(ctx, p.Prompt); err != nil {
		return preset.Preset{}, err
	}
	c.logger.InfoWithIntention(pkgLogger.IntentionConfig, "Preset applied", "preset", p.Name)
	return p, nil
}

// SetModel selects the model for subsequent turns. Ids missing from the
// catalog are accepted; the provider decides.
func (c *Chat) SetModel(ctx context.Context, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return &message.ValidationError{Field: "model", Reason: "model id is empty"}
	}
	c.mu.Lock()
	c.model = model
	provider := c.provider
	c.mu.Unlock()

	if s := c.store.Active(); s != nil {
		s.Select(provider, model)
	}
	c.logger.InfoWithIntention(pkgLogger.IntentionConfig, "Model selected", "provider", provider, "model", model)
	c.Save(ctx)
	return nil
}

// SetProvider switches provider family and picks its default model. A
// credential from the environment is used when one is set.
func (c *Chat) SetProvider(ctx context.Context, name string) (domain.ProviderID, error) {
	provider, err := domain.ParseProvider(name)
	if err != nil {
		return "", &message.ValidationError{Field: "provider", Reason: err.Error()}
	}
	envKey := c.settings.CredentialFromEnv(provider)

	c.mu.Lock()
	if provider != c.provider {
		c.provider = provider
		c.model = client.DefaultModel(provider)
		c.adapter = nil
		if envKey != "" {
			c.credential = envKey
		}
	}
	model := c.model
	c.mu.Unlock()

	if s := c.store.Active(); s != nil {
		s.Select(provider, model)
	}
	c.logger.InfoWithIntention(pkgLogger.IntentionConfig, "Provider selected", "provider", provider, "model", model)
	c.Save(ctx)
	return provider, nil
}

// SetCredential replaces the API key and drops cached model listings
func (c *Chat) SetCredential(ctx context.Context, credential string) persistence.SaveResult {
	credential = strings.TrimSpace(credential)
	c.mu.Lock()
	c.credential = credential
	c.adapter = nil
	provider := c.provider
	c.mu.Unlock()

	c.catalog.Refresh(provider)
	c.logger.InfoWithIntention(pkgLogger.IntentionConfig, "API key updated",
		"provider", provider, "credential", catalog.Fingerprint(credential))
	return c.Save(ctx)
}

// SetGeneration replaces the sampling parameters after validating them
func (c *Chat) SetGeneration(gen domain.GenerationConfig) error {
	if err := gen.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.gen = gen
	c.mu.Unlock()
	return nil
}

// ListModels returns the selected provider's models, live or fallback
func (c *Chat) ListModels(ctx context.Context) catalog.Listing {
	c.mu.Lock()
	provider, credential := c.provider, c.credential
	c.mu.Unlock()
	return c.catalog.ListModels(ctx, provider, credential)
}

// RefreshModels forces the next ListModels to go to the provider
func (c *Chat) RefreshModels() {
	provider, _ := c.Selection()
	c.catalog.Refresh(provider)
}

// TestConnection probes the selected model with a minimal request
func (c *Chat) TestConnection(ctx context.Context) error {
	c.mu.Lock()
	provider, credential, model := c.provider, c.credential, c.model
	c.mu.Unlock()
	if provider.RequiresCredential() && credential == "" {
		return pkgErrors.Wrap(client.ErrMissingCredential, string(provider))
	}
	err := c.catalog.Probe(ctx, provider, credential, model)
	if err != nil {
		c.logger.WarnWithIntention(pkgLogger.IntentionStatus, "Connection test failed", "provider", provider, "model", model, "error", err)
		return err
	}
	c.logger.InfoWithIntention(pkgLogger.IntentionSuccess, "Connection test passed", "provider", provider, "model", model)
	return nil
}

// Stats summarizes the active conversation and the whole store
type Stats struct {
	Session       message.Stats
	SessionID     string
	Turns         int
	Usage         session.Usage
	Sessions      int
	TotalTurns    int
	TotalTokens   int
	TotalChars    int
	Provider      domain.ProviderID
	Model         string
	StoreLocation string
}

// Stats computes usage statistics
func (c *Chat) Stats() Stats {
	provider, model := c.Selection()
	st := Stats{
		Sessions:      c.store.Len(),
		TotalTurns:    c.store.ConversationCount(),
		Provider:      provider,
		Model:         model,
		StoreLocation: c.gateway.Location(),
	}
	states, _, _ := c.store.Snapshot()
	for _, s := range states {
		st.TotalTokens += s.Usage.Tokens
		st.TotalChars += s.Usage.Chars
	}
	if s := c.store.Active(); s != nil {
		st.SessionID = s.ID()
		st.Turns = s.TurnCount()
		st.Usage = s.Usage()
		s.View(func(t *message.Transcript) { st.Session = t.Stats() })
	}
	return st
}

// Export writes every conversation, or only sessionID when set, to the
// export directory and returns the file path. The credential is never exported.
func (c *Chat) Export(format, sessionID string, dirs *config.UserDirs) (string, error) {
	exp, err := export.NewExporter(format)
	if err != nil {
		return "", err
	}
	ps, err := export.Prepare(persistence.ToState(c.store, persistence.Selection{}), sessionID)
	if err != nil {
		return "", err
	}
	return export.WriteFile(c.settings.ExportDir(dirs), c.settings.Export.Prefix, exp, ps, c.now())
}

// ExportTo writes the export to w instead of a file
func (c *Chat) ExportTo(w io.Writer, format, sessionID string) error {
	exp, err := export.NewExporter(format)
	if err != nil {
		return err
	}
	ps, err := export.Prepare(persistence.ToState(c.store, persistence.Selection{}), sessionID)
	if err != nil {
		return err
	}
	return exp.Export(ps, w)
}

// Import merges conversations from a JSON export. Sessions whose id is
// already present are skipped. Returns how many were added.
func (c *Chat) Import(ctx context.Context, r io.Reader) (int, error) {
	incoming, err := export.Import(r)
	if err != nil {
		return 0, err
	}
	imported, err := persistence.SessionStates(incoming)
	if err != nil {
		return 0, err
	}

	activeID := incoming.Active()
	if activeID == "" {
		var newest time.Time
		for _, st := range imported {
			if st.UpdatedAt.After(newest) {
				newest, activeID = st.UpdatedAt, st.ID
			}
		}
	}
	added, err := c.store.Merge(imported, activeID, incoming.SessionCounter)
	if err != nil {
		return 0, err
	}
	if added == 0 {
		return 0, nil
	}
	c.logger.InfoWithIntention(pkgLogger.IntentionSession, "Imported conversations", "count", added)
	c.Save(ctx)
	return added, nil
}
