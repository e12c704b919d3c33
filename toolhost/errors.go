package toolhost

import (
	"fmt"

	"github.com/effective-security/mcpbridge/mcp"
)

// ConnectionError is returned when a tool host cannot be launched or
// does not complete the handshake
type ConnectionError struct {
	Locator string
	Kind    Kind
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("failed to connect to tool host %q: %v", e.Locator, e.Err)
	}
	return fmt.Sprintf("failed to connect to %s tool host %q: %v", e.Kind, e.Locator, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IllegalStateError is returned when an operation is not valid in the current state
type IllegalStateError struct {
	Op    string
	State State
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("cannot %s: connection is %s", e.Op, e.State)
}

// ToolInvocationError is returned when the host reports a tool failure,
// or the connection closes before the reply arrives
type ToolInvocationError struct {
	Tool string
	Err  error
	// Result is set when the host returned a result flagged as an error
	Result *mcp.CallToolResult
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolInvocationError) Unwrap() error {
	return e.Err
}
