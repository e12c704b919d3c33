package orchestrator

import (
	"context"

	"github.com/effective-security/mcpbridge/gateway"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/toolresult"
)

// Callback receives query events. The session ID is available from
// the context with session.IDFromContext.
type Callback interface {
	OnQueryStart(ctx context.Context, query string)
	OnQueryEnd(ctx context.Context, res *Result)
	OnQueryError(ctx context.Context, query string, err error)
	OnModelCallStart(ctx context.Context, round int, messages int, tools []llms.Tool)
	OnModelCallEnd(ctx context.Context, round int, reply *gateway.Reply)
	OnToolStart(ctx context.Context, call llms.ToolCall)
	OnToolEnd(ctx context.Context, call llms.ToolCall, result toolresult.Result)
	OnToolError(ctx context.Context, call llms.ToolCall, err error)
}
