package orchestrator

import "time"

// DefaultMaxRounds is the number of tool-offering model calls per query
const DefaultMaxRounds = 1

// DegradedResultPrefix starts the tool result recorded for a failed call
// when degraded results are enabled
const DegradedResultPrefix = "Tool call failed: "

// AnswerSeparator joins partial tool results and the final answer
const AnswerSeparator = "\n\n"

// Option configures the Orchestrator
type Option func(*Orchestrator)

// WithMaxRounds sets the number of rounds in which tools are offered.
// Each round dispatches every directive of the reply before the next
// model call. Values below 1 are ignored.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithDegradedToolResults records a failed tool call as a text result
// and lets the query proceed, instead of failing the query.
func WithDegradedToolResults(enabled bool) Option {
	return func(o *Orchestrator) {
		o.degraded = enabled
	}
}

// WithArgumentValidation enables validation of the model-emitted arguments
// against the tool input schema. It is enabled by default.
func WithArgumentValidation(enabled bool) Option {
	return func(o *Orchestrator) {
		o.validate = enabled
	}
}

// WithQueryTimeout bounds the whole query, including every model and tool call
func WithQueryTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.queryTimeout = d
	}
}

// WithCallback sets the event handler
func WithCallback(cb Callback) Option {
	return func(o *Orchestrator) {
		o.callback = cb
	}
}
