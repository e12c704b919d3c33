package orchestrator

import "fmt"

// ToolArgumentError is returned when a tool call directive from the model
// cannot be dispatched: the arguments do not decode, do not match the tool
// schema, or the tool is not in the catalog.
type ToolArgumentError struct {
	Tool      string
	CallID    string
	Arguments string
	Err       error
}

func (e *ToolArgumentError) Error() string {
	return fmt.Sprintf("invalid tool call %s: %v", e.Tool, e.Err)
}

func (e *ToolArgumentError) Unwrap() error {
	return e.Err
}
