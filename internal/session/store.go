package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/logger"
	"github.com/fpt/chatdesk/pkg/tokens"
)

// Summary is the listing view of a session
type Summary struct {
	ID           string
	Title        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
	TurnCount    int
	Provider     domain.ProviderID
	Model        string
	Active       bool
}

// Store keeps every conversation of one user keyed by id, with at most one active.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	activeID string
	counter  int

	tokens *tokens.Counter
	logger *logger.Logger
}

// NewStore creates an empty store
func NewStore(log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewComponentLogger("session")
	}
	return &Store{
		sessions: make(map[string]*Session),
		tokens:   tokens.NewCounter(),
		logger:   log,
	}
}

// Create starts a new conversation and makes it active. A non-empty active
// conversation stays in the store; an empty one is replaced.
func (s *Store) Create(provider domain.ProviderID, model string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.sessions[s.activeID]; ok && cur.IsEmpty() && !cur.Busy() {
		delete(s.sessions, cur.ID())
		s.logger.DebugWithIntention(logger.IntentionSession, "Replacing empty conversation", "id", cur.ID())
	}

	s.counter++
	id := fmt.Sprintf("%s-%d", ulid.Make().String(), s.counter)
	sess := newSession(id, provider, model, s.tokens, s.logger)
	s.sessions[id] = sess
	s.activeID = id
	s.logger.InfoWithIntention(logger.IntentionSession, "Started conversation", "id", id, "provider", provider, "model", model)
	return sess
}

// SwitchTo makes id the active conversation.
func (s *Store) SwitchTo(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	s.activeID = id
	return sess, nil
}

// Delete removes a conversation. Deleting the active one leaves no active conversation.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	if sess.Busy() {
		return ErrTurnInProgress
	}
	delete(s.sessions, id)
	if s.activeID == id {
		s.activeID = ""
	}
	s.logger.InfoWithIntention(logger.IntentionSession, "Deleted conversation", "id", id)
	return nil
}

// Active returns the active conversation or nil
func (s *Store) Active() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[s.activeID]
}

func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[s.activeID]; !ok {
		return ""
	}
	return s.activeID
}

func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Counter is the number of conversations ever created, used for id suffixes
func (s *Store) Counter() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counter
}

// ConversationCount sums the turns of every stored conversation
func (s *Store) ConversationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, sess := range s.sessions {
		total += sess.TurnCount()
	}
	return total
}

// List returns summaries ordered most recently created first
func (s *Store) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.sessions))
	for id, sess := range s.sessions {
		st := sess.State()
		out = append(out, Summary{
			ID:           id,
			Title:        st.Title,
			CreatedAt:    st.CreatedAt,
			UpdatedAt:    st.UpdatedAt,
			MessageCount: len(st.Messages),
			TurnCount:    st.TurnCount,
			Provider:     st.ProviderID,
			Model:        st.ModelID,
			Active:       id == s.activeID,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Snapshot returns every session state plus the active id and counter
func (s *Store) Snapshot() ([]State, string, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]State, 0, len(s.sessions))
	for _, sess := range s.sessions {
		states = append(states, sess.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].CreatedAt.Before(states[j].CreatedAt) })
	activeID := s.activeID
	if _, ok := s.sessions[activeID]; !ok {
		activeID = ""
	}
	return states, activeID, s.counter
}

// Replace swaps the store contents for restored sessions. An activeID that
// does not name a restored session leaves no conversation active.
func (s *Store) Replace(states []State, activeID string, counter int) error {
	restored := make(map[string]*Session, len(states))
	for _, st := range states {
		sess, err := FromState(st, s.tokens, s.logger)
		if err != nil {
			return fmt.Errorf("restore conversation %s: %w", st.ID, err)
		}
		restored[st.ID] = sess
	}
	if _, ok := restored[activeID]; !ok {
		activeID = ""
	}
	if counter < len(restored) {
		counter = len(restored)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = restored
	s.activeID = activeID
	s.counter = counter
	return nil
}

// Merge adds the sessions whose id is not in the store yet and returns how
// many were added. Existing conversations are never touched. activeID becomes
// active only when the store has no active conversation with messages.
func (s *Store) Merge(states []State, activeID string, counter int) (int, error) {
	incoming := make([]*Session, 0, len(states))
	for _, st := range states {
		sess, err := FromState(st, s.tokens, s.logger)
		if err != nil {
			return 0, fmt.Errorf("restore conversation %s: %w", st.ID, err)
		}
		incoming = append(incoming, sess)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, sess := range incoming {
		if _, ok := s.sessions[sess.ID()]; ok {
			continue
		}
		s.sessions[sess.ID()] = sess
		added++
	}
	if _, ok := s.sessions[activeID]; ok && activeID != s.activeID {
		cur, hasActive := s.sessions[s.activeID]
		switch {
		case !hasActive:
			s.activeID = activeID
		case cur.IsEmpty() && !cur.Busy():
			// an untouched blank conversation gives way, as in Create
			delete(s.sessions, cur.ID())
			s.activeID = activeID
		}
	}
	if counter > s.counter {
		s.counter = counter
	}
	if s.counter < len(s.sessions) {
		s.counter = len(s.sessions)
	}
	return added, nil
}

// Reset drops every conversation
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*Session)
	s.activeID = ""
	s.counter = 0
}
