package callbacks

import (
	"context"
	"sync"
	"time"

	"github.com/effective-security/mcpbridge/gateway"
	"github.com/effective-security/mcpbridge/orchestrator"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/session"
	"github.com/effective-security/mcpbridge/store"
	"github.com/effective-security/mcpbridge/toolresult"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge", "callbacks")

// ArchiveSaveTimeout bounds a save, which outlives the query context
const ArchiveSaveTimeout = 5 * time.Second

// Archive saves the transcript of every query to a store when the query ends.
// A failed save is logged and does not fail the query.
type Archive struct {
	store store.Store
	model string

	lock    sync.Mutex
	pending map[string]*store.Transcript
}

// NewArchive returns an Archive saving to st, model is recorded in each transcript
func NewArchive(st store.Store, model string) *Archive {
	return &Archive{
		store:   st,
		model:   model,
		pending: make(map[string]*store.Transcript),
	}
}

func (l *Archive) OnQueryStart(ctx context.Context, query string) {
	id := session.IDFromContext(ctx)
	if id == "" {
		return
	}
	l.lock.Lock()
	l.pending[id] = &store.Transcript{
		SessionID: id,
		Query:     query,
		Model:     l.model,
		StartedAt: TimeNowFn(),
	}
	l.lock.Unlock()
}

func (l *Archive) OnQueryEnd(ctx context.Context, res *orchestrator.Result) {
	t := l.take(ctx)
	if t == nil {
		return
	}
	t.Answer = res.Answer
	t.ToolCalls = len(res.ToolCalls)
	l.save(ctx, t)
}

func (l *Archive) OnQueryError(ctx context.Context, query string, err error) {
	t := l.take(ctx)
	if t == nil {
		return
	}
	t.Error = err.Error()
	l.save(ctx, t)
}

func (l *Archive) take(ctx context.Context) *store.Transcript {
	id := session.IDFromContext(ctx)
	l.lock.Lock()
	defer l.lock.Unlock()
	t := l.pending[id]
	delete(l.pending, id)
	return t
}

func (l *Archive) save(ctx context.Context, t *store.Transcript) {
	t.EndedAt = TimeNowFn()
	if sess := session.FromContext(ctx); sess != nil {
		t.Messages = sess.Messages()
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ArchiveSaveTimeout)
	defer cancel()
	if err := l.store.Save(sctx, t); err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"reason", "archive",
			"session", t.SessionID,
			"err", err.Error(),
		)
	}
}

func (l *Archive) OnModelCallStart(ctx context.Context, round int, messages int, tools []llms.Tool) {
}
func (l *Archive) OnModelCallEnd(ctx context.Context, round int, reply *gateway.Reply)        {}
func (l *Archive) OnToolStart(ctx context.Context, call llms.ToolCall)                        {}
func (l *Archive) OnToolEnd(ctx context.Context, call llms.ToolCall, result toolresult.Result) {}
func (l *Archive) OnToolError(ctx context.Context, call llms.ToolCall, err error)              {}
