package persistence

import "fmt"

// PersistenceError reports a failed save or load. It is never fatal.
type PersistenceError struct {
	Op       string // "save", "load" or "clear"
	Location string
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("%s state (%s): %v", e.Op, e.Location, e.Err)
	}
	return fmt.Sprintf("%s state: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
