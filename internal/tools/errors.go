package tools

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTool is returned when a tool name is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrRateLimited is returned when a tool's per-minute budget is spent.
	ErrRateLimited = errors.New("tool rate limit exceeded")
	// ErrUnknownAction is returned for a result that names neither a run id
	// nor an action id minted by this dispatcher.
	ErrUnknownAction = errors.New("unknown action id")
)

// ValidationError reports arguments that do not satisfy a manifest.
type ValidationError struct {
	Tool   string
	Field  string // set when a required field is absent
	Reason string // set when the schema rejected the payload
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("missing required field: %s", e.Field)
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}
