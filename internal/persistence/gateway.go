// Package persistence saves and restores conversations through a
// repository.StateRepository and offers restored data to the user.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/fpt/chatdesk/internal/repository"
	"github.com/fpt/chatdesk/internal/session"
	"github.com/fpt/chatdesk/pkg/logger"
)

// SaveResult is the outcome of a best-effort save
type SaveResult struct {
	Saved bool
	Err   *PersistenceError
}

// Gateway serializes full snapshots to a repository. Writes are last-write-wins.
type Gateway struct {
	repo   repository.StateRepository
	logger *logger.Logger

	mu             sync.Mutex
	warnedCleartxt bool
	// pending is saved data offered for restore and not yet accepted or
	// declined; every save carries its sessions along
	pending *repository.PersistedState
}

func NewGateway(repo repository.StateRepository, log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.NewComponentLogger("persistence")
	}
	return &Gateway{repo: repo, logger: log}
}

func (g *Gateway) Location() string { return g.repo.Location() }

// Save writes the whole store. Failures are logged and reported, never fatal.
func (g *Gateway) Save(ctx context.Context, store *session.Store, sel Selection) SaveResult {
	ps := ToState(store, sel)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != nil {
		mergePending(ps, g.pending)
	}
	data, err := json.Marshal(ps)
	if err != nil {
		return g.saveFailed(err)
	}
	if err := g.repo.Save(ctx, data); err != nil {
		return g.saveFailed(err)
	}
	if sel.Credential != "" && !g.warnedCleartxt {
		g.warnedCleartxt = true
		g.logger.WarnWithIntention(logger.IntentionPersist, "API key is stored in plaintext", "location", g.repo.Location())
	}
	g.logger.DebugWithIntention(logger.IntentionPersist, "State saved",
		"sessions", len(ps.Sessions), "bytes", len(data))
	return SaveResult{Saved: true}
}

// hold keeps ps in every snapshot until release is called
func (g *Gateway) hold(ps *repository.PersistedState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = ps
}

func (g *Gateway) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = nil
}

// mergePending adds the held sessions the live snapshot does not have. The
// live active conversation and credential win when set.
func mergePending(ps, pending *repository.PersistedState) {
	for id, rec := range pending.Sessions {
		if _, ok := ps.Sessions[id]; ok {
			continue
		}
		ps.Sessions[id] = rec
		ps.ConversationCount += rec.TurnCount
	}
	if ps.ActiveSessionID == nil && pending.ActiveSessionID != nil {
		id := *pending.ActiveSessionID
		ps.ActiveSessionID = &id
	}
	if pending.SessionCounter > ps.SessionCounter {
		ps.SessionCounter = pending.SessionCounter
	}
	if ps.Credential == "" {
		ps.Credential = pending.Credential
	}
}

func (g *Gateway) saveFailed(err error) SaveResult {
	perr := &PersistenceError{Op: "save", Location: g.repo.Location(), Err: err}
	g.logger.ErrorWithIntention(logger.IntentionPersist, "Failed to save state", "error", err)
	return SaveResult{Err: perr}
}

// Load returns the saved state. Missing data is absent; corrupt data is
// absent too, with a warning.
func (g *Gateway) Load(ctx context.Context) (*repository.PersistedState, bool) {
	data, err := g.repo.Load(ctx)
	if errors.Is(err, repository.ErrStateNotFound) {
		return nil, false
	}
	if err != nil {
		g.logger.WarnWithIntention(logger.IntentionPersist, "Failed to read saved state", "error", err)
		return nil, false
	}
	ps, err := Reconcile(data)
	if err != nil {
		g.logger.WarnWithIntention(logger.IntentionPersist, "Ignoring unreadable saved state", "error", err, "location", g.repo.Location())
		return nil, false
	}
	return ps, true
}

// Clear removes the saved state
func (g *Gateway) Clear(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.repo.Clear(ctx); err != nil {
		return &PersistenceError{Op: "clear", Location: g.repo.Location(), Err: err}
	}
	g.logger.InfoWithIntention(logger.IntentionPersist, "Saved state cleared")
	return nil
}
