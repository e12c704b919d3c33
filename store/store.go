// Package store archives the transcripts of answered queries.
// Transcripts are written once, when a query ends, and are never
// fed back into later queries.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge", "store")

// ErrNotFound is returned for an unknown session ID
var ErrNotFound = errors.New("transcript not found")

// Transcript is the record of one query
type Transcript struct {
	SessionID string         `json:"session_id" yaml:"session_id"`
	Query     string         `json:"query" yaml:"query"`
	Answer    string         `json:"answer,omitempty" yaml:"answer,omitempty"`
	Error     string         `json:"error,omitempty" yaml:"error,omitempty"`
	Model     string         `json:"model,omitempty" yaml:"model,omitempty"`
	ToolCalls int            `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	Messages  []llms.Message `json:"messages,omitempty" yaml:"-"`
	StartedAt time.Time      `json:"started_at" yaml:"started_at"`
	EndedAt   time.Time      `json:"ended_at" yaml:"ended_at"`
}

// Failed returns true if the query ended with an error
func (t *Transcript) Failed() bool {
	return t.Error != ""
}

// Duration of the query
func (t *Transcript) Duration() time.Duration {
	return t.EndedAt.Sub(t.StartedAt)
}

// Store persists transcripts by session ID
type Store interface {
	// Save stores the transcript, replacing one with the same session ID
	Save(ctx context.Context, t *Transcript) error
	// Get returns the transcript, or ErrNotFound
	Get(ctx context.Context, sessionID string) (*Transcript, error)
	// List returns up to limit session IDs, most recent first.
	// A limit of 0 or less returns all of them.
	List(ctx context.Context, limit int) ([]string, error)
	// Delete removes the transcript, it is not an error if it does not exist
	Delete(ctx context.Context, sessionID string) error
}
