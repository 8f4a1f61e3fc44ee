package session

import (
	"errors"
	"fmt"
)

// ErrTurnInProgress rejects a second SendTurn while one is awaiting its reply
var ErrTurnInProgress = errors.New("a reply is still pending for this conversation")

// ErrNoActiveSession is returned when an operation needs an active session and there is none
var ErrNoActiveSession = errors.New("no active conversation")

// NotFoundError reports an unknown session id
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("conversation %q not found", e.ID)
}
