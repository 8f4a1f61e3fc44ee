package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/fpt/chatdesk/internal/repository"
	"github.com/fpt/chatdesk/pkg/message"
)

// legacyMessage accepts every message shape seen in older saves and exports
type legacyMessage struct {
	ID        string              `json:"id"`
	Role      string              `json:"role"`
	Content   string              `json:"content"`
	CreatedAt json.RawMessage     `json:"createdAt"`
	Timestamp json.RawMessage     `json:"timestamp"`
	Model     string              `json:"model"`
	Tokens    *message.TokenUsage `json:"tokens"`
	Error     bool                `json:"error"`
}

type legacySession struct {
	ID          string          `json:"id"`
	Messages    []legacyMessage `json:"messages"`
	CreatedTime json.RawMessage `json:"createdTime"`
	UpdatedTime json.RawMessage `json:"updatedTime"`
	Title       string          `json:"title"`
	ProviderID  string          `json:"providerId"`
	ModelID     string          `json:"modelId"`
	TurnCount   int             `json:"turnCount"`
	TokenUsage  int             `json:"tokenUsage"`
	CharUsage   int             `json:"charUsage"`
}

type looseState struct {
	Version           int                      `json:"version"`
	Sessions          map[string]legacySession `json:"sessions"`
	ActiveSessionID   *string                  `json:"activeSessionId"`
	SessionCounter    int                      `json:"sessionCounter"`
	Credential        string                   `json:"credential"`
	SelectedProvider  string                   `json:"selectedProvider"`
	SelectedModel     string                   `json:"selectedModel"`
	ConversationCount int                      `json:"conversationCount"`
	SavedAt           int64                    `json:"savedAt"`
}

// flatExport is the single-conversation download format
type flatExport struct {
	Timestamp         string          `json:"timestamp"`
	ConversationCount int             `json:"conversation_count"`
	TotalTokens       int             `json:"total_tokens"`
	ChatHistory       []legacyMessage `json:"chat_history"`
}

// Reconcile turns any supported saved or exported JSON into the current
// PersistedState. Missing ids and times are synthesized, dangling active ids
// cleared and misplaced system messages dropped.
func Reconcile(raw []byte) (*repository.PersistedState, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty state")
	}

	if raw[0] == '[' {
		var msgs []legacyMessage
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, fmt.Errorf("decode message list: %w", err)
		}
		return fromFlat(flatExport{ChatHistory: msgs})
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if _, ok := probe["sessions"]; ok {
		var ls looseState
		if err := json.Unmarshal(raw, &ls); err != nil {
			return nil, fmt.Errorf("decode sessions: %w", err)
		}
		if ls.Version > repository.StateVersion {
			return nil, fmt.Errorf("state version %d is newer than supported version %d", ls.Version, repository.StateVersion)
		}
		return fromLoose(ls), nil
	}
	if _, ok := probe["chat_history"]; ok {
		var fe flatExport
		if err := json.Unmarshal(raw, &fe); err != nil {
			return nil, fmt.Errorf("decode chat history: %w", err)
		}
		return fromFlat(fe)
	}
	return nil, fmt.Errorf("unrecognized state format")
}

func fromLoose(ls looseState) *repository.PersistedState {
	ps := &repository.PersistedState{
		Version:          repository.StateVersion,
		Sessions:         make(map[string]repository.SessionRecord, len(ls.Sessions)),
		SessionCounter:   ls.SessionCounter,
		Credential:       ls.Credential,
		SelectedProvider: ls.SelectedProvider,
		SelectedModel:    ls.SelectedModel,
		SavedAt:          ls.SavedAt,
	}

	keys := make([]string, 0, len(ls.Sessions))
	for k := range ls.Sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := time.Now()
	for _, key := range keys {
		s := ls.Sessions[key]
		id := key
		if id == "" {
			id = s.ID
		}
		if id == "" {
			id = ulid.Make().String()
		}
		created, _ := parseTime(s.CreatedTime, time.Time{})
		rec := repository.SessionRecord{
			ID:         id,
			Title:      s.Title,
			ProviderID: s.ProviderID,
			ModelID:    s.ModelID,
			TurnCount:  s.TurnCount,
			TokenUsage: s.TokenUsage,
			CharUsage:  s.CharUsage,
		}
		rec.Messages = normalizeMessages(s.Messages, created)
		if created.IsZero() {
			created = now
			if len(rec.Messages) > 0 {
				created = time.Unix(rec.Messages[0].CreatedAt, 0)
			}
		}
		rec.CreatedTime = created.UTC()
		updated, ok := parseTime(s.UpdatedTime, time.Time{})
		if !ok || updated.Before(created) {
			updated = created
			if n := len(rec.Messages); n > 0 {
				if last := time.Unix(rec.Messages[n-1].CreatedAt, 0); last.After(updated) {
					updated = last
				}
			}
		}
		rec.UpdatedTime = updated.UTC()
		if rec.TurnCount == 0 {
			rec.TurnCount = countAssistant(rec.Messages)
		}
		ps.Sessions[id] = rec
		ps.ConversationCount += rec.TurnCount
	}

	if active := ls.ActiveSessionID; active != nil {
		if _, ok := ps.Sessions[*active]; ok {
			id := *active
			ps.ActiveSessionID = &id
		}
	}
	if ps.SessionCounter < len(ps.Sessions) {
		ps.SessionCounter = len(ps.Sessions)
	}
	return ps
}

func fromFlat(fe flatExport) (*repository.PersistedState, error) {
	base := time.Now()
	if fe.Timestamp != "" {
		if t, ok := parseTimeString(fe.Timestamp, time.Time{}); ok {
			base = t
		}
	}

	msgs := normalizeMessages(fe.ChatHistory, base)
	if len(msgs) == 0 {
		return nil, fmt.Errorf("chat history is empty")
	}

	id := ulid.Make().String() + "-1"
	created := time.Unix(msgs[0].CreatedAt, 0).UTC()
	updated := time.Unix(msgs[len(msgs)-1].CreatedAt, 0).UTC()
	turns := fe.ConversationCount
	if turns == 0 {
		turns = countAssistant(msgs)
	}
	rec := repository.SessionRecord{
		ID:          id,
		Messages:    msgs,
		CreatedTime: created,
		UpdatedTime: updated,
		TurnCount:   turns,
		TokenUsage:  fe.TotalTokens,
	}
	for _, m := range msgs {
		rec.CharUsage += len([]rune(m.Content))
	}
	return &repository.PersistedState{
		Version:           repository.StateVersion,
		Sessions:          map[string]repository.SessionRecord{id: rec},
		ActiveSessionID:   &id,
		SessionCounter:    1,
		ConversationCount: turns,
		SavedAt:           base.UnixMilli(),
	}, nil
}

// normalizeMessages drops unknown roles and misplaced system messages and
// fills in ids and times. base supplies the date for clock-only timestamps.
func normalizeMessages(in []legacyMessage, base time.Time) []repository.MessageRecord {
	if base.IsZero() {
		base = time.Now()
	}
	out := make([]repository.MessageRecord, 0, len(in))
	for _, lm := range in {
		role, err := message.ParseRole(lm.Role)
		if err != nil {
			continue
		}
		if role == message.RoleSystem && len(out) > 0 {
			continue
		}
		ts := lm.CreatedAt
		if len(ts) == 0 {
			ts = lm.Timestamp
		}
		created, _ := parseTime(ts, base)
		if created.IsZero() {
			created = base
		}
		id := lm.ID
		if id == "" {
			id = uuid.NewString()
		}
		out = append(out, repository.MessageRecord{
			ID:        id,
			Role:      role.String(),
			Content:   lm.Content,
			CreatedAt: created.Unix(),
			Model:     lm.Model,
			Tokens:    lm.Tokens,
			Error:     lm.Error,
		})
	}
	return out
}

func countAssistant(msgs []repository.MessageRecord) int {
	n := 0
	for _, m := range msgs {
		if m.Role == message.RoleAssistant.String() {
			n++
		}
	}
	return n
}

// parseTime accepts unix seconds or milliseconds, RFC 3339, ISO without zone
// and a bare "15:04:05" clock, which is placed on base's date.
func parseTime(raw json.RawMessage, base time.Time) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, false
		}
		return parseTimeString(s, base)
	}
	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, false
	}
	return unixAuto(int64(n)), true
}

func parseTimeString(s string, base time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	if t, err := time.ParseInLocation("15:04:05", s, time.Local); err == nil && !base.IsZero() {
		b := base.In(time.Local)
		return time.Date(b.Year(), b.Month(), b.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.Local), true
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return unixAuto(n), true
	}
	return time.Time{}, false
}

// unixAuto treats values past year 33658 in seconds as milliseconds
func unixAuto(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}
