package message

import "fmt"

// ValidationError reports input rejected before anything was appended.
// It is local and recoverable; callers show it and carry on.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
