package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/logger"
	"github.com/fpt/chatdesk/pkg/message"
	"github.com/fpt/chatdesk/pkg/tokens"
)

const titleLimit = 20

// Outcome of one attempted exchange
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "failure"
}

// TurnResult describes a finished exchange. Failures are results, not errors.
type TurnResult struct {
	Outcome Outcome
	// Reply is the appended assistant message; on failure it carries the explanation
	Reply *message.Message
	// Err is set when Outcome is OutcomeFailure
	Err *domain.ProviderError
}

// Usage counts approximate consumption for one conversation
type Usage struct {
	Tokens int
	Chars  int
}

// Session is one conversation: its transcript, provider selection and counters.
type Session struct {
	id        string
	createdAt time.Time

	mu         sync.Mutex
	updatedAt  time.Time
	title      string // cached for listings, derived from the transcript when possible
	transcript *message.Transcript
	providerID domain.ProviderID
	modelID    string
	turnCount  int
	usage      Usage

	inflight sync.Mutex
	counter  *tokens.Counter
	logger   *logger.Logger
}

// State is the flat form used to rebuild a session from storage
type State struct {
	ID         string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Title      string
	Messages   []*message.Message
	ProviderID domain.ProviderID
	ModelID    string
	TurnCount  int
	Usage      Usage
}

func newSession(id string, provider domain.ProviderID, model string, counter *tokens.Counter, log *logger.Logger) *Session {
	now := time.Now()
	s := &Session{
		id:         id,
		createdAt:  now,
		updatedAt:  now,
		transcript: message.NewTranscript(),
		providerID: provider,
		modelID:    model,
		counter:    counter,
		logger:     log.WithSession(id),
	}
	s.transcript.SetLogger(s.logger)
	return s
}

// FromState rebuilds a session. The message order is kept exactly.
func FromState(st State, counter *tokens.Counter, log *logger.Logger) (*Session, error) {
	tr, err := message.TranscriptOf(st.Messages)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		counter = tokens.NewCounter()
	}
	if log == nil {
		log = logger.NewComponentLogger("session")
	}
	s := &Session{
		id:         st.ID,
		createdAt:  st.CreatedAt,
		updatedAt:  st.UpdatedAt,
		title:      st.Title,
		transcript: tr,
		providerID: st.ProviderID,
		modelID:    st.ModelID,
		turnCount:  st.TurnCount,
		usage:      st.Usage,
		counter:    counter,
		logger:     log.WithSession(st.ID),
	}
	if s.updatedAt.IsZero() {
		s.updatedAt = s.createdAt
	}
	tr.SetLogger(s.logger)
	return s, nil
}

// State returns a consistent snapshot of the session
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:         s.id,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
		Title:      s.titleLocked(),
		Messages:   s.transcript.Messages(),
		ProviderID: s.providerID,
		ModelID:    s.modelID,
		TurnCount:  s.turnCount,
		Usage:      s.usage,
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Title is the first user message cut to 20 runes, or a timestamped placeholder.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.titleLocked()
}

func (s *Session) titleLocked() string {
	if first := s.transcript.FirstUser(); first != nil {
		return message.Truncate(strings.Join(strings.Fields(first.Content()), " "), titleLimit)
	}
	if s.title != "" {
		return s.title
	}
	return "New conversation — " + s.createdAt.Format("15:04:05")
}

// Messages returns a copy of the transcript
func (s *Session) Messages() []*message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Messages()
}

// View runs fn with the transcript under the session lock. fn must not retain t.
func (s *Session) View(fn func(t *message.Transcript)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.transcript)
}

// Update runs fn with the transcript under the session lock and marks the session modified.
// It fails with ErrTurnInProgress while a reply is pending.
func (s *Session) Update(fn func(t *message.Transcript) error) error {
	if !s.inflight.TryLock() {
		return ErrTurnInProgress
	}
	defer s.inflight.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.transcript); err != nil {
		return err
	}
	s.updatedAt = time.Now()
	return nil
}

// IsEmpty reports whether no message other than a system prompt was exchanged
func (s *Session) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.IsEmpty()
}

// Selection returns the provider and model used for the next turn
func (s *Session) Selection() (domain.ProviderID, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.providerID, s.modelID
}

// Select changes provider and model for subsequent turns. Earlier replies keep their tags.
func (s *Session) Select(provider domain.ProviderID, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providerID = provider
	s.modelID = model
	s.updatedAt = time.Now()
}

func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

func (s *Session) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Busy reports whether a turn is awaiting its reply
func (s *Session) Busy() bool {
	if s.inflight.TryLock() {
		s.inflight.Unlock()
		return false
	}
	return true
}

// SendTurn appends text as a user message, dispatches the recent window
// through adapter and appends the reply or an error explanation.
// Only input problems are returned as errors; provider failures come back
// as an OutcomeFailure result. At most one turn runs per session.
func (s *Session) SendTurn(ctx context.Context, text string, adapter domain.Adapter, cfg domain.GenerationConfig) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &message.ValidationError{Field: "message", Reason: "content is empty"}
	}
	if !s.inflight.TryLock() {
		return nil, ErrTurnInProgress
	}
	defer s.inflight.Unlock()

	s.mu.Lock()
	model := s.modelID
	if strings.TrimSpace(model) == "" {
		s.mu.Unlock()
		return nil, &message.ValidationError{Field: "model", Reason: "no model selected"}
	}
	if err := cfg.Validate(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	userMsg, err := s.transcript.Append(message.RoleUser, text, "")
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.updatedAt = time.Now()
	return s.dispatchLocked(ctx, adapter, model, cfg, userMsg), nil
}

// Regenerate drops the trailing reply (or error explanation) and asks the
// provider again for the last user message.
func (s *Session) Regenerate(ctx context.Context, adapter domain.Adapter, cfg domain.GenerationConfig) (*TurnResult, error) {
	if !s.inflight.TryLock() {
		return nil, ErrTurnInProgress
	}
	defer s.inflight.Unlock()

	s.mu.Lock()
	model := s.modelID
	if strings.TrimSpace(model) == "" {
		s.mu.Unlock()
		return nil, &message.ValidationError{Field: "model", Reason: "no model selected"}
	}
	if err := cfg.Validate(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	msgs := s.transcript.Messages()
	if len(msgs) == 0 || msgs[len(msgs)-1].Role() != message.RoleAssistant {
		s.mu.Unlock()
		return nil, &message.ValidationError{Field: "transcript", Reason: "no reply to regenerate"}
	}
	if len(msgs) < 2 || msgs[len(msgs)-2].Role() != message.RoleUser {
		s.mu.Unlock()
		return nil, &message.ValidationError{Field: "transcript", Reason: "reply has no preceding user message"}
	}
	s.transcript.PopLastAssistant()
	s.updatedAt = time.Now()
	return s.dispatchLocked(ctx, adapter, model, cfg, msgs[len(msgs)-2]), nil
}

// dispatchLocked is entered with s.mu held and the inflight lock taken. It
// releases s.mu for the provider call and re-acquires it to record the outcome.
func (s *Session) dispatchLocked(ctx context.Context, adapter domain.Adapter, model string, cfg domain.GenerationConfig, userMsg *message.Message) *TurnResult {
	req, buildErr := adapter.BuildRequest(s.transcript, model, cfg)
	s.mu.Unlock()

	s.logger.DebugWithIntention(logger.IntentionTurn, "Dispatching turn", "provider", adapter.Provider(), "model", model)

	var reply *message.Message
	var perr *domain.ProviderError
	if buildErr != nil {
		perr = &domain.ProviderError{Kind: domain.KindBadRequest, Provider: adapter.Provider(), Message: buildErr.Error(), Err: buildErr}
	} else {
		start := time.Now()
		raw := adapter.Do(ctx, req)
		var err error
		reply, err = adapter.ParseResponse(raw)
		if err != nil && !errors.As(err, &perr) {
			perr = &domain.ProviderError{Kind: domain.KindUnknown, Provider: adapter.Provider(), Err: err}
		}
		s.logger.DebugWithIntention(logger.IntentionTurn, "Turn finished", "duration", time.Since(start).Round(time.Millisecond), "ok", perr == nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnCount++
	s.updatedAt = time.Now()

	if perr != nil {
		errMsg := message.NewErrorMessage(perr.Explain(), model)
		_ = s.transcript.AppendMessage(errMsg)
		s.logger.WarnWithIntention(logger.IntentionTurn, "Turn failed", "kind", perr.Kind, "status", perr.Status)
		return &TurnResult{Outcome: OutcomeFailure, Reply: errMsg, Err: perr}
	}

	tagged := message.NewAssistantMessage(reply.Content(), model, reply.Usage())
	_ = s.transcript.AppendMessage(tagged)
	s.accountLocked(model, userMsg, tagged)
	return &TurnResult{Outcome: OutcomeSuccess, Reply: tagged}
}

// accountLocked adds approximate usage for one successful exchange.
// Provider-reported totals win over local estimates.
func (s *Session) accountLocked(model string, user, reply *message.Message) {
	s.usage.Chars += utf8.RuneCountInString(user.Content()) + utf8.RuneCountInString(reply.Content())
	if total := reply.Usage().TotalTokens; total > 0 {
		s.usage.Tokens += total
		return
	}
	s.usage.Tokens += s.counter.Count(model, user.Content()) + s.counter.Count(model, reply.Content())
}
