package callbacks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/effective-security/mcpbridge/gateway"
	"github.com/effective-security/mcpbridge/orchestrator"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/session"
	"github.com/effective-security/mcpbridge/toolresult"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ orchestrator.Callback = (*Noop)(nil)
	_ orchestrator.Callback = (*Printer)(nil)
	_ orchestrator.Callback = (*PackageLogger)(nil)
	_ orchestrator.Callback = (*Fanout)(nil)
	_ orchestrator.Callback = (*Scratchpad)(nil)
	_ orchestrator.Callback = (*Archive)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []orchestrator.Callback
}

func NewFanout(callbacks ...orchestrator.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback orchestrator.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnQueryStart(ctx context.Context, query string) {
	for _, callback := range l.callbacks {
		callback.OnQueryStart(ctx, query)
	}
}

func (l *Fanout) OnQueryEnd(ctx context.Context, res *orchestrator.Result) {
	for _, callback := range l.callbacks {
		callback.OnQueryEnd(ctx, res)
	}
}

func (l *Fanout) OnQueryError(ctx context.Context, query string, err error) {
	for _, callback := range l.callbacks {
		callback.OnQueryError(ctx, query, err)
	}
}

func (l *Fanout) OnModelCallStart(ctx context.Context, round int, messages int, tools []llms.Tool) {
	for _, callback := range l.callbacks {
		callback.OnModelCallStart(ctx, round, messages, tools)
	}
}

func (l *Fanout) OnModelCallEnd(ctx context.Context, round int, reply *gateway.Reply) {
	for _, callback := range l.callbacks {
		callback.OnModelCallEnd(ctx, round, reply)
	}
}

func (l *Fanout) OnToolStart(ctx context.Context, call llms.ToolCall) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, call)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, call llms.ToolCall, result toolresult.Result) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, call, result)
	}
}

func (l *Fanout) OnToolError(ctx context.Context, call llms.ToolCall, err error) {
	for _, callback := range l.callbacks {
		callback.OnToolError(ctx, call, err)
	}
}

// Noop does nothing.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (l *Noop) OnQueryStart(ctx context.Context, query string)            {}
func (l *Noop) OnQueryEnd(ctx context.Context, res *orchestrator.Result)  {}
func (l *Noop) OnQueryError(ctx context.Context, query string, err error) {}
func (l *Noop) OnModelCallStart(ctx context.Context, round int, messages int, tools []llms.Tool) {
}
func (l *Noop) OnModelCallEnd(ctx context.Context, round int, reply *gateway.Reply) {}
func (l *Noop) OnToolStart(ctx context.Context, call llms.ToolCall)                 {}
func (l *Noop) OnToolEnd(ctx context.Context, call llms.ToolCall, result toolresult.Result) {
}
func (l *Noop) OnToolError(ctx context.Context, call llms.ToolCall, err error) {}

// Printer is a callback handler that prints to the Writer.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) OnQueryStart(ctx context.Context, query string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Query Start: %s\n", session.IDFromContext(ctx))
	fmt.Fprintf(l.Out, "Input: %s\n", query)
}

func (l *Printer) OnQueryEnd(ctx context.Context, res *orchestrator.Result) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Query End: %s, %d rounds, %d tool calls\n", res.SessionID, res.Rounds, len(res.ToolCalls))
	if l.Mode == ModeVerbose {
		fmt.Fprintln(l.Out, res.Final)
	}
}

func (l *Printer) OnQueryError(ctx context.Context, query string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Query Error: %s: %s\n", session.IDFromContext(ctx), err.Error())
}

func (l *Printer) OnModelCallStart(ctx context.Context, round int, messages int, tools []llms.Tool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Model Call: round %d, %d messages, %d tools\n", round, messages, len(tools))
}

func (l *Printer) OnModelCallEnd(ctx context.Context, round int, reply *gateway.Reply) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Model Call End: round %d, %d tool calls, %d input tokens, %d output tokens\n",
		round, len(reply.ToolCalls), reply.InputTokens, reply.OutputTokens)
}

func (l *Printer) OnToolStart(ctx context.Context, call llms.ToolCall) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Start: %s (%s)\n", call.FunctionCall.Name, call.ID)
	fmt.Fprintf(l.Out, "Input: %s\n", call.FunctionCall.Arguments)
}

func (l *Printer) OnToolEnd(ctx context.Context, call llms.ToolCall, result toolresult.Result) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool End: %s (%s)\n", call.FunctionCall.Name, call.ID)
	if l.Mode == ModeVerbose {
		fmt.Fprintf(l.Out, "Output: %s\n", result.Text)
	}
}

func (l *Printer) OnToolError(ctx context.Context, call llms.ToolCall, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Error: %s (%s): %s\n", call.FunctionCall.Name, call.ID, err.Error())
}

// PackageLogger is a callback handler that prints to the logger.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnQueryStart(ctx context.Context, query string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "query_start",
		"session", session.IDFromContext(ctx),
		"input", slices.StringUpto(query, 128),
	)
}

func (l *PackageLogger) OnQueryEnd(ctx context.Context, res *orchestrator.Result) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "query_end",
		"session", res.SessionID,
		"rounds", res.Rounds,
		"tool_calls", len(res.ToolCalls),
		"degraded", res.Degraded,
	)
}

func (l *PackageLogger) OnQueryError(ctx context.Context, query string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "query_error",
		"session", session.IDFromContext(ctx),
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnModelCallStart(ctx context.Context, round int, messages int, tools []llms.Tool) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "model_call_start",
		"session", session.IDFromContext(ctx),
		"round", round,
		"messages", messages,
		"tools", len(tools),
	)
}

func (l *PackageLogger) OnModelCallEnd(ctx context.Context, round int, reply *gateway.Reply) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "model_call_end",
		"session", session.IDFromContext(ctx),
		"round", round,
		"tool_calls", len(reply.ToolCalls),
		"stop_reason", reply.StopReason,
	)
}

func (l *PackageLogger) OnToolStart(ctx context.Context, call llms.ToolCall) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"session", session.IDFromContext(ctx),
		"tool", call.FunctionCall.Name,
		"call_id", call.ID,
		"input", call.FunctionCall.Arguments,
	)
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, call llms.ToolCall, result toolresult.Result) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"session", session.IDFromContext(ctx),
		"tool", call.FunctionCall.Name,
		"call_id", call.ID,
		"kind", result.Kind,
		"output", slices.StringUpto(result.Text, 256),
	)
}

func (l *PackageLogger) OnToolError(ctx context.Context, call llms.ToolCall, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "tool_error",
		"session", session.IDFromContext(ctx),
		"tool", call.FunctionCall.Name,
		"call_id", call.ID,
		"err", err.Error(),
	)
}
