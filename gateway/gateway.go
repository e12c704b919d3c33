// Package gateway sends a session to a chat model and returns the reply:
// either final content or tool-call directives.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/pkg/metricskey"
	"github.com/effective-security/mcpbridge/session"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

//go:generate mockgen -destination=../mocks/mockllms/llm_mock.gen.go -package mockllms github.com/effective-security/mcpbridge/pkg/llms Model

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge", "gateway")

// ErrNoChoices is returned when the model reply has no choices
var ErrNoChoices = errors.New("model returned no choices")

// ModelGatewayError is returned when the model call fails
type ModelGatewayError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ModelGatewayError) Error() string {
	return "model call failed: " + e.Err.Error()
}

func (e *ModelGatewayError) Unwrap() error {
	return e.Err
}

// Reply is the model answer for one round
type Reply struct {
	// Content is the text of the reply, may be empty when tool calls are present
	Content string
	// ToolCalls are the directives in emission order
	ToolCalls []llms.ToolCall
	// StopReason is the reason reported by the first choice
	StopReason string

	InputTokens  int64
	OutputTokens int64
}

// HasToolCalls returns true if the reply carries directives
func (r *Reply) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Option configures the Gateway
type Option func(*Gateway)

// WithModelName overrides the model name sent with each request
func WithModelName(name string) Option {
	return func(g *Gateway) {
		g.modelName = name
	}
}

// WithTemperature sets the sampling temperature
func WithTemperature(temperature float64) Option {
	return func(g *Gateway) {
		g.temperature = temperature
	}
}

// WithMaxTokens limits the reply length
func WithMaxTokens(maxTokens int) Option {
	return func(g *Gateway) {
		g.maxTokens = maxTokens
	}
}

// WithTimeout bounds each model call, zero means no limit beyond the caller's context
func WithTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = timeout
	}
}

// Gateway wraps a chat model. It does not retry:
// a failed call is reported to the caller as is.
type Gateway struct {
	model       llms.Model
	modelName   string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// New returns a Gateway for the model
func New(model llms.Model, opts ...Option) *Gateway {
	g := &Gateway{
		model: model,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Model returns the underlying model
func (g *Gateway) Model() llms.Model {
	return g.model
}

// ModelName returns the model name used for requests
func (g *Gateway) ModelName() string {
	return values.StringsCoalesce(g.modelName, g.model.GetName())
}

// Complete sends the session history to the model.
// The tool definitions are offered only when tools is not empty,
// otherwise the request carries no tools field at all.
func (g *Gateway) Complete(ctx context.Context, sess *session.Session, tools []llms.Tool) (*Reply, error) {
	provider := string(g.model.GetProviderType())
	modelName := g.ModelName()

	started := time.Now()
	defer metricskey.PerfModelCall.MeasureSince(started, provider, modelName)

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	messages := sess.Messages()
	callOpts := []llms.CallOption{
		llms.WithModel(modelName),
	}
	if g.temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(g.temperature))
	}
	if g.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(g.maxTokens))
	}
	if len(tools) > 0 {
		if !g.model.GetProviderType().Supports(llms.CapabilityFunctionCalling) {
			return nil, g.fail(ctx, errors.Errorf("%s does not support function calling", provider))
		}
		callOpts = append(callOpts, llms.WithTools(tools))
	}

	bytesSent := messagesSize(messages)
	metricskey.StatsLLMMessagesSent.IncrCounter(float64(len(messages)), provider, modelName)
	metricskey.StatsLLMBytesSent.IncrCounter(float64(bytesSent), provider, modelName)

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "calling_model",
		"session", sess.ID(),
		"provider", provider,
		"model", modelName,
		"messages", len(messages),
		"tools", len(tools),
	)

	resp, err := g.model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return nil, g.fail(ctx, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, g.fail(ctx, ErrNoChoices)
	}

	metricskey.StatsLLMBytesReceived.IncrCounter(float64(responseSize(resp)), provider, modelName)
	in, out, total := resp.Usage()
	metricskey.StatsLLMInputTokens.IncrCounter(float64(in), provider, modelName)
	metricskey.StatsLLMOutputTokens.IncrCounter(float64(out), provider, modelName)
	metricskey.StatsLLMTotalTokens.IncrCounter(float64(total), provider, modelName)

	reply := merge(resp)
	reply.InputTokens = in
	reply.OutputTokens = out

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "model_replied",
		"session", sess.ID(),
		"choices", len(resp.Choices),
		"tool_calls", len(reply.ToolCalls),
		"stop_reason", reply.StopReason,
		"tokens", total,
	)
	return reply, nil
}

func (g *Gateway) fail(ctx context.Context, err error) error {
	provider := string(g.model.GetProviderType())
	modelName := g.ModelName()
	metricskey.StatsLLMCallsFailed.IncrCounter(1, provider, modelName)
	logger.ContextKV(ctx, xlog.ERROR,
		"reason", "model_call",
		"provider", provider,
		"model", modelName,
		"err", err.Error(),
	)
	return &ModelGatewayError{
		Provider: provider,
		Model:    modelName,
		Err:      err,
	}
}

// merge combines the choices: some providers return one choice per content block.
func merge(resp *llms.ContentResponse) *Reply {
	reply := &Reply{
		StopReason: resp.Choices[0].StopReason,
	}
	var content []string
	for _, choice := range resp.Choices {
		if choice.Content != "" {
			content = append(content, choice.Content)
		}
		reply.ToolCalls = append(reply.ToolCalls, choice.ToolCalls...)
	}
	reply.Content = strings.Join(content, "\n\n")
	return reply
}
