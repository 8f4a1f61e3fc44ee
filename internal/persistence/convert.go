package persistence

import (
	"time"

	"github.com/fpt/chatdesk/internal/repository"
	"github.com/fpt/chatdesk/internal/session"
	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/message"
)

// Selection is the user-level state saved next to the sessions
type Selection struct {
	Credential string
	Provider   domain.ProviderID
	Model      string
}

// ToState captures the store and selection as a PersistedState
func ToState(store *session.Store, sel Selection) *repository.PersistedState {
	states, activeID, counter := store.Snapshot()

	ps := &repository.PersistedState{
		Version:          repository.StateVersion,
		Sessions:         make(map[string]repository.SessionRecord, len(states)),
		SessionCounter:   counter,
		Credential:       sel.Credential,
		SelectedProvider: string(sel.Provider),
		SelectedModel:    sel.Model,
		SavedAt:          time.Now().UnixMilli(),
	}
	if activeID != "" {
		ps.ActiveSessionID = &activeID
	}
	for _, st := range states {
		ps.Sessions[st.ID] = sessionRecord(st)
		ps.ConversationCount += st.TurnCount
	}
	return ps
}

func sessionRecord(st session.State) repository.SessionRecord {
	rec := repository.SessionRecord{
		ID:          st.ID,
		Messages:    make([]repository.MessageRecord, 0, len(st.Messages)),
		CreatedTime: st.CreatedAt.UTC(),
		UpdatedTime: st.UpdatedAt.UTC(),
		Title:       st.Title,
		ProviderID:  string(st.ProviderID),
		ModelID:     st.ModelID,
		TurnCount:   st.TurnCount,
		TokenUsage:  st.Usage.Tokens,
		CharUsage:   st.Usage.Chars,
	}
	for _, m := range st.Messages {
		rec.Messages = append(rec.Messages, messageRecord(m))
	}
	return rec
}

func messageRecord(m *message.Message) repository.MessageRecord {
	f := m.Fields()
	rec := repository.MessageRecord{
		ID:        f.ID,
		Role:      f.Role.String(),
		Content:   f.Content,
		CreatedAt: f.CreatedAt.Unix(),
		Model:     f.Model,
		Error:     f.IsError,
	}
	if !f.Usage.IsZero() {
		u := f.Usage
		rec.Tokens = &u
	}
	return rec
}

// SessionStates converts the saved sessions back into session states.
// Records are expected to have passed through Reconcile.
func SessionStates(ps *repository.PersistedState) ([]session.State, error) {
	out := make([]session.State, 0, len(ps.Sessions))
	for id, rec := range ps.Sessions {
		st := session.State{
			ID:         id,
			CreatedAt:  rec.CreatedTime,
			UpdatedAt:  rec.UpdatedTime,
			Title:      rec.Title,
			ProviderID: domain.ProviderID(rec.ProviderID),
			ModelID:    rec.ModelID,
			TurnCount:  rec.TurnCount,
			Usage:      session.Usage{Tokens: rec.TokenUsage, Chars: rec.CharUsage},
			Messages:   make([]*message.Message, 0, len(rec.Messages)),
		}
		for _, mr := range rec.Messages {
			role, err := message.ParseRole(mr.Role)
			if err != nil {
				return nil, err
			}
			f := message.Fields{
				ID:        mr.ID,
				Role:      role,
				Content:   mr.Content,
				CreatedAt: time.Unix(mr.CreatedAt, 0),
				Model:     mr.Model,
				IsError:   mr.Error,
			}
			if mr.Tokens != nil {
				f.Usage = *mr.Tokens
			}
			st.Messages = append(st.Messages, message.FromFields(f))
		}
		out = append(out, st)
	}
	return out, nil
}

// Merge adds the sessions of ps the store does not have yet
func Merge(store *session.Store, ps *repository.PersistedState) (int, error) {
	states, err := SessionStates(ps)
	if err != nil {
		return 0, err
	}
	return store.Merge(states, ps.Active(), ps.SessionCounter)
}

// Apply replaces the store contents with ps
func Apply(store *session.Store, ps *repository.PersistedState) error {
	states, err := SessionStates(ps)
	if err != nil {
		return err
	}
	return store.Replace(states, ps.Active(), ps.SessionCounter)
}
