package tools

import "fmt"

// ErrToolUnavailable is returned when the model calls a tool that is not
// registered. It is reported back to the model as the tool result so
// the model can recover, not retried.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}
