// Package session holds the message log of a single query.
package session

import (
	"context"
	"strconv"
	"sync"

	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xdb/pkg/flake"
)

// Session is the append-only conversation of one query.
// It is discarded when the query returns.
type Session struct {
	id       string
	lock     sync.RWMutex
	messages []llms.Message
	metadata sync.Map
}

// New returns an empty session, a new ID is generated if id is empty
func New(id string) *Session {
	return &Session{
		id: values.StringsCoalesce(id, NewID()),
	}
}

// NewWithQuery returns a session seeded with one user message
func NewWithQuery(id, query string) *Session {
	s := New(id)
	s.AddUser(query)
	return s
}

// ID returns the session ID
func (s *Session) ID() string {
	return s.id
}

// Append adds messages to the log
func (s *Session) Append(msgs ...llms.Message) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.messages = append(s.messages, msgs...)
}

// AddUser appends a human message
func (s *Session) AddUser(text string) {
	s.Append(llms.MessageFromTextParts(llms.RoleHuman, text))
}

// AddToolCall appends an assistant message carrying the tool call directive
func (s *Session) AddToolCall(call llms.ToolCall) {
	s.Append(llms.MessageFromToolCalls(llms.RoleAI, call))
}

// AddToolResult appends a tool message answering the call with the given ID
func (s *Session) AddToolResult(callID, name, content string) {
	s.Append(llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
		ToolCallID: callID,
		Name:       name,
		Content:    content,
	}))
}

// Messages returns a copy of the log
func (s *Session) Messages() []llms.Message {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]llms.Message{}, s.messages...)
}

// Len returns the number of messages
func (s *Session) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.messages)
}

// GetMetadata retrieves metadata by key
func (s *Session) GetMetadata(key string) (value any, ok bool) {
	return s.metadata.Load(key)
}

// SetMetadata sets metadata by key
func (s *Session) SetMetadata(key string, value any) {
	s.metadata.Store(key, value)
}

type contextKey int

const (
	keySession contextKey = iota
)

// WithSession returns a new context with the session value
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, keySession, s)
}

// FromContext returns the session from the context, or nil
func FromContext(ctx context.Context) *Session {
	if v, ok := ctx.Value(keySession).(*Session); ok {
		return v
	}
	return nil
}

// IDFromContext returns the session ID from the context.
// If the context does not contain a session, it returns an empty string.
func IDFromContext(ctx context.Context) string {
	if s := FromContext(ctx); s != nil {
		return s.ID()
	}
	return ""
}

// NewID generates a new session ID using the flake ID generator.
func NewID() string {
	return strconv.FormatUint(flake.DefaultIDGenerator.NextID(), 10)
}
