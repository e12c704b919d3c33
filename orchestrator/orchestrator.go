// Package orchestrator drives one query end to end: it asks the model,
// dispatches the tool calls the model requests through the tool host,
// feeds the results back and returns the synthesized answer.
package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/catalog"
	"github.com/effective-security/mcpbridge/gateway"
	"github.com/effective-security/mcpbridge/mcp"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/pkg/metricskey"
	"github.com/effective-security/mcpbridge/session"
	"github.com/effective-security/mcpbridge/toolhost"
	"github.com/effective-security/mcpbridge/toolresult"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

//go:generate mockgen -source=orchestrator.go -destination=../mocks/mocktoolhost/toolhost_mock.gen.go -package mocktoolhost

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge", "orchestrator")

// query modes reported in metrics
const (
	modeDirect = "direct"
	modeTools  = "tools"
)

// ToolHost is the connection to the process serving the tools
type ToolHost interface {
	Connect(ctx context.Context, locator string) error
	State() toolhost.State
	Catalog() *catalog.Catalog
	Invoke(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Close() error
}

// Gateway sends a session to the model
type Gateway interface {
	Complete(ctx context.Context, sess *session.Session, tools []llms.Tool) (*gateway.Reply, error)
}

// Result is the outcome of a query
type Result struct {
	SessionID string `json:"session_id" yaml:"session_id"`
	// Answer is the partial tool results and the final answer joined by a blank line
	Answer string `json:"answer" yaml:"answer"`
	// Final is the content of the last model reply
	Final string `json:"final" yaml:"final"`
	// Partials are the flattened tool results in dispatch order
	Partials []string `json:"partials,omitempty" yaml:"partials,omitempty"`
	// Results are the typed tool results in dispatch order
	Results []toolresult.Result `json:"results,omitempty" yaml:"results,omitempty"`
	// ToolCalls are the dispatched directives, with synthesized IDs where the model sent none
	ToolCalls []llms.ToolCall `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	// Rounds is the number of rounds in which tools were dispatched
	Rounds int `json:"rounds" yaml:"rounds"`
	// Degraded is the number of failed tool calls recorded as results
	Degraded int `json:"degraded,omitempty" yaml:"degraded,omitempty"`
}

// Orchestrator owns the tool host connection and the model gateway.
// The lifecycle is Connect, then any number of ProcessQuery calls,
// possibly concurrent, then Close.
type Orchestrator struct {
	host ToolHost
	gw   Gateway

	maxRounds    int
	degraded     bool
	validate     bool
	queryTimeout time.Duration
	callback     Callback
}

// New returns an Orchestrator
func New(host ToolHost, gw Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		host:      host,
		gw:        gw,
		maxRounds: DefaultMaxRounds,
		validate:  true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Connect starts the tool host and fetches its catalog
func (o *Orchestrator) Connect(ctx context.Context, locator string) error {
	if err := o.host.Connect(ctx, locator); err != nil {
		return err
	}
	cat := o.host.Catalog()
	logger.ContextKV(ctx, xlog.INFO,
		"status", "connected",
		"locator", locator,
		"tools", cat.Names(),
	)
	return nil
}

// Tools returns the tool catalog
func (o *Orchestrator) Tools() *catalog.Catalog {
	return o.host.Catalog()
}

// Close stops the tool host, it is safe to call more than once
func (o *Orchestrator) Close() error {
	return o.host.Close()
}

// ProcessQuery answers the query and returns the partial tool results
// followed by the final answer, joined by a blank line.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query string) (string, error) {
	res, err := o.ProcessQueryResult(ctx, query)
	if err != nil {
		return "", err
	}
	return res.Answer, nil
}

// ProcessQueryResult answers the query and returns the structured outcome
func (o *Orchestrator) ProcessQueryResult(ctx context.Context, query string) (*Result, error) {
	if state := o.host.State(); state != toolhost.Ready {
		return nil, &toolhost.IllegalStateError{Op: "process query", State: state}
	}

	if o.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.queryTimeout)
		defer cancel()
	}

	sess := session.NewWithQuery("", query)
	ctx = session.WithSession(ctx, sess)

	cat := o.host.Catalog()
	mode := modeTools
	if cat.IsEmpty() {
		mode = modeDirect
	}

	started := time.Now()
	defer metricskey.PerfQuery.MeasureSince(started, mode)

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "query_start",
		"session", sess.ID(),
		"mode", mode,
		"query", slices.StringUpto(query, 64),
	)
	if o.callback != nil {
		o.callback.OnQueryStart(ctx, query)
	}

	var res *Result
	var err error
	if mode == modeDirect {
		res, err = o.direct(ctx, sess)
	} else {
		res, err = o.run(ctx, sess, cat)
	}
	if err != nil {
		metricskey.StatsQueriesFailed.IncrCounter(1, mode)
		logger.ContextKV(ctx, xlog.ERROR,
			"reason", "query",
			"session", sess.ID(),
			"mode", mode,
			"err", err.Error(),
		)
		if o.callback != nil {
			o.callback.OnQueryError(ctx, query, err)
		}
		return nil, err
	}

	metricskey.StatsQueriesSucceeded.IncrCounter(1, mode)
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "query_end",
		"session", sess.ID(),
		"rounds", res.Rounds,
		"tool_calls", len(res.ToolCalls),
		"degraded", res.Degraded,
	)
	if o.callback != nil {
		o.callback.OnQueryEnd(ctx, res)
	}
	return res, nil
}

// direct answers without offering tools
func (o *Orchestrator) direct(ctx context.Context, sess *session.Session) (*Result, error) {
	reply, err := o.complete(ctx, sess, 0, nil)
	if err != nil {
		return nil, err
	}
	return &Result{
		SessionID: sess.ID(),
		Answer:    reply.Content,
		Final:     reply.Content,
	}, nil
}

func (o *Orchestrator) run(ctx context.Context, sess *session.Session, cat *catalog.Catalog) (*Result, error) {
	res := &Result{
		SessionID: sess.ID(),
	}
	tools := cat.LLMTools()

	reply, err := o.complete(ctx, sess, 1, tools)
	if err != nil {
		return nil, err
	}

	for reply.HasToolCalls() {
		res.Rounds++
		for _, call := range reply.ToolCalls {
			if err = o.dispatch(ctx, sess, cat, call, res); err != nil {
				return nil, err
			}
		}

		// tools are offered while rounds remain, the last call synthesizes
		var offered []llms.Tool
		if res.Rounds < o.maxRounds {
			offered = tools
		}
		reply, err = o.complete(ctx, sess, res.Rounds+1, offered)
		if err != nil {
			return nil, err
		}
		if len(offered) == 0 {
			break
		}
	}

	res.Final = reply.Content
	answer := append(append([]string{}, res.Partials...), reply.Content)
	res.Answer = strings.Join(answer, AnswerSeparator)
	return res, nil
}

func (o *Orchestrator) complete(ctx context.Context, sess *session.Session, round int, tools []llms.Tool) (*gateway.Reply, error) {
	if o.callback != nil {
		o.callback.OnModelCallStart(ctx, round, sess.Len(), tools)
	}
	reply, err := o.gw.Complete(ctx, sess, tools)
	if err != nil {
		return nil, err
	}
	if o.callback != nil {
		o.callback.OnModelCallEnd(ctx, round, reply)
	}
	return reply, nil
}

// dispatch invokes one tool call and appends the directive and its result
// to the session
func (o *Orchestrator) dispatch(ctx context.Context, sess *session.Session, cat *catalog.Catalog, call llms.ToolCall, res *Result) error {
	if call.ID == "" {
		call.ID = NewCallID()
	}
	if call.Type == "" {
		call.Type = catalog.ToolTypeFunction
	}
	if call.FunctionCall == nil {
		call.FunctionCall = &llms.FunctionCall{}
	}
	name := call.FunctionCall.Name
	res.ToolCalls = append(res.ToolCalls, call)

	if o.callback != nil {
		o.callback.OnToolStart(ctx, call)
	}

	result, content, err := o.invoke(ctx, cat, call)
	if err != nil {
		if o.callback != nil {
			o.callback.OnToolError(ctx, call, err)
		}
		if !o.degraded || !isToolFailure(err) {
			return err
		}

		metricskey.StatsToolCallsDegraded.IncrCounter(1, name)
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "degraded_tool_result",
			"session", sess.ID(),
			"tool", name,
			"call_id", call.ID,
			"err", err.Error(),
		)
		content = DegradedResultPrefix + err.Error()
		result = toolresult.Result{
			Kind:    toolresult.KindText,
			Text:    content,
			IsError: true,
		}
		res.Degraded++
	} else if o.callback != nil {
		o.callback.OnToolEnd(ctx, call, result)
	}

	res.Partials = append(res.Partials, result.Text)
	res.Results = append(res.Results, result)

	sess.AddToolCall(call)
	sess.AddToolResult(call.ID, name, content)
	return nil
}

// invoke returns the typed result and the serialized content for the tool message
func (o *Orchestrator) invoke(ctx context.Context, cat *catalog.Catalog, call llms.ToolCall) (toolresult.Result, string, error) {
	name := call.FunctionCall.Name
	if !cat.Has(name) {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
		return toolresult.Result{}, "", &ToolArgumentError{
			Tool:      name,
			CallID:    call.ID,
			Arguments: call.FunctionCall.Arguments,
			Err:       catalog.ErrUnknownTool,
		}
	}

	args, err := DecodeArguments(call.FunctionCall.Arguments)
	if err == nil && o.validate {
		err = cat.ValidateArguments(name, args)
	}
	if err != nil {
		metricskey.StatsToolCallsInvalidArgs.IncrCounter(1, name)
		return toolresult.Result{}, "", &ToolArgumentError{
			Tool:      name,
			CallID:    call.ID,
			Arguments: call.FunctionCall.Arguments,
			Err:       err,
		}
	}

	started := time.Now()
	out, err := o.host.Invoke(ctx, name, args)
	metricskey.PerfToolCall.MeasureSince(started, name)
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
		return toolresult.Result{}, "", err
	}
	metricskey.StatsToolCallsSucceeded.IncrCounter(1, name)

	return toolresult.Parse(out), toolresult.ContentJSON(out), nil
}

// isToolFailure returns true for failures scoped to a single tool call
func isToolFailure(err error) bool {
	var aerr *ToolArgumentError
	var ierr *toolhost.ToolInvocationError
	return errors.As(err, &aerr) || errors.As(err, &ierr)
}

// DecodeArguments decodes the model-emitted arguments into a JSON object.
// Empty and null arguments decode to an empty object.
func DecodeArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, errors.Wrap(err, "unable to decode arguments")
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// NewCallID returns an ID for a tool call the model sent without one
func NewCallID() string {
	return "call_" + uuid.NewString()
}
