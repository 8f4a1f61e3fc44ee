package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fpt/chatdesk/internal/repository"
	"github.com/fpt/chatdesk/internal/session"
	"github.com/fpt/chatdesk/pkg/logger"
)

// RestoreState is a step of the startup restore offer
type RestoreState int

const (
	RestoreNoData RestoreState = iota
	RestoreChecking
	RestoreFound
	RestoreNotFound
	RestoreOffered
	RestoreAccepted
	RestoreDeclined
	RestoreRestored
	RestoreDiscarded
	RestoreDismissed
	RestoreFresh
)

var restoreStateNames = map[RestoreState]string{
	RestoreNoData:    "no-data",
	RestoreChecking:  "checking",
	RestoreFound:     "found",
	RestoreNotFound:  "not-found",
	RestoreOffered:   "offered",
	RestoreAccepted:  "accepted",
	RestoreDeclined:  "declined",
	RestoreRestored:  "restored",
	RestoreDiscarded: "discarded",
	RestoreDismissed: "dismissed",
	RestoreFresh:     "fresh",
}

func (s RestoreState) String() string {
	if name, ok := restoreStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RestoreState(%d)", int(s))
}

// Terminal reports whether no further transition is possible
func (s RestoreState) Terminal() bool {
	switch s {
	case RestoreRestored, RestoreDiscarded, RestoreDismissed, RestoreFresh:
		return true
	}
	return false
}

// TransitionError reports an action that is not valid in the current state
type TransitionError struct {
	From   RestoreState
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while restore is %s", e.Action, e.From)
}

// RestoreFlow offers previously saved conversations once at startup.
// A pending offer never blocks; when it times out the saved data is left
// untouched and the user starts fresh.
type RestoreFlow struct {
	gateway *Gateway
	logger  *logger.Logger

	mu        sync.Mutex
	state     RestoreState
	candidate *repository.PersistedState
	timer     *time.Timer
}

func NewRestoreFlow(g *Gateway, log *logger.Logger) *RestoreFlow {
	if log == nil {
		log = logger.NewComponentLogger("restore")
	}
	return &RestoreFlow{gateway: g, logger: log}
}

func (f *RestoreFlow) State() RestoreState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Candidate returns the saved state found by Check, or nil
func (f *RestoreFlow) Candidate() *repository.PersistedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.candidate
}

// Check looks for saved data and moves to Found or, via NotFound, to Fresh.
func (f *RestoreFlow) Check(ctx context.Context) (RestoreState, error) {
	f.mu.Lock()
	if f.state != RestoreNoData {
		defer f.mu.Unlock()
		return f.state, &TransitionError{From: f.state, Action: "check"}
	}
	f.state = RestoreChecking
	f.mu.Unlock()

	ps, ok := f.gateway.Load(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !ok || len(ps.Sessions) == 0 || ps.MessageCount() == 0 {
		// NotFound has no user-visible step and settles on Fresh
		f.state = RestoreFresh
		return f.state, nil
	}
	f.candidate = ps
	f.state = RestoreFound
	f.gateway.hold(ps)
	f.logger.InfoWithIntention(logger.IntentionPersist, "Found saved conversations",
		"sessions", len(ps.Sessions), "messages", ps.MessageCount())
	return f.state, nil
}

// Offer presents the candidate and returns immediately. If neither Accept
// nor Decline arrives within timeout the offer is dismissed and onDismiss,
// if non-nil, is called from the timer goroutine.
func (f *RestoreFlow) Offer(timeout time.Duration, onDismiss func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != RestoreFound {
		return &TransitionError{From: f.state, Action: "offer"}
	}
	f.state = RestoreOffered
	if timeout > 0 {
		f.timer = time.AfterFunc(timeout, func() {
			if f.dismiss() && onDismiss != nil {
				onDismiss()
			}
		})
	}
	return nil
}

func (f *RestoreFlow) dismiss() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != RestoreOffered {
		return false
	}
	f.state = RestoreDismissed
	f.logger.InfoWithIntention(logger.IntentionPersist, "Restore offer dismissed; saved data kept")
	return true
}

// Accept merges the candidate into store, keeping any conversation started
// while the offer was pending, and returns it so the caller can restore the
// credential and selection.
func (f *RestoreFlow) Accept(store *session.Store) (*repository.PersistedState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != RestoreOffered && f.state != RestoreFound {
		return nil, &TransitionError{From: f.state, Action: "accept"}
	}
	f.stopTimerLocked()
	f.state = RestoreAccepted

	if _, err := Merge(store, f.candidate); err != nil {
		f.state = RestoreDismissed
		return nil, &PersistenceError{Op: "load", Location: f.gateway.Location(), Err: err}
	}
	f.gateway.release()
	f.state = RestoreRestored
	f.logger.InfoWithIntention(logger.IntentionPersist, "Restored conversations", "sessions", len(f.candidate.Sessions))
	return f.candidate, nil
}

// Decline discards the saved data
func (f *RestoreFlow) Decline(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != RestoreOffered && f.state != RestoreFound {
		return &TransitionError{From: f.state, Action: "decline"}
	}
	f.stopTimerLocked()
	f.state = RestoreDeclined
	f.candidate = nil
	f.gateway.release()
	err := f.gateway.Clear(ctx)
	f.state = RestoreDiscarded
	return err
}

func (f *RestoreFlow) stopTimerLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}
