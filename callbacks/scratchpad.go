package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/effective-security/mcpbridge/gateway"
	"github.com/effective-security/mcpbridge/orchestrator"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/session"
	"github.com/effective-security/mcpbridge/toolresult"
)

var TimeNowFn = time.Now

// MaxFinishedRuns bounds the finished runs kept for Take, the oldest is dropped first
const MaxFinishedRuns = 64

// RunStats is the summary of one query
type RunStats struct {
	SessionID string

	Duration        time.Duration
	Failed          bool
	ModelCalls      uint32
	TotalMessages   uint32
	LLMInputTokens  uint64
	LLMOutputTokens uint64
	ToolCalls       uint32
	ToolCallsFailed uint32
}

// Scratchpad records a transcript and stats per query,
// keyed by the session ID.
type Scratchpad struct {
	runs  map[string]*run
	done  map[string]*run
	order []string
	mode  Mode
	lock  sync.Mutex
}

// NewScratchpad returns a Scratchpad; in ModeVerbose the transcript
// includes model and tool outputs
func NewScratchpad(mode Mode) *Scratchpad {
	return &Scratchpad{
		runs: make(map[string]*run),
		done: make(map[string]*run),
		mode: mode,
	}
}

// Take returns the stats and the transcript of a finished query,
// and forgets it.
func (l *Scratchpad) Take(sessionID string) (*RunStats, []byte) {
	l.lock.Lock()
	defer l.lock.Unlock()

	run := l.done[sessionID]
	if run == nil {
		return nil, nil
	}
	delete(l.done, sessionID)
	for i, id := range l.order {
		if id == sessionID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	stats := run.stats
	return &stats, run.w.Bytes()
}

func (l *Scratchpad) getRun(ctx context.Context) *run {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.runs[session.IDFromContext(ctx)]
}

func (l *Scratchpad) endRun(ctx context.Context, failed bool) {
	id := session.IDFromContext(ctx)

	l.lock.Lock()
	run := l.runs[id]
	delete(l.runs, id)
	l.lock.Unlock()
	if run == nil {
		return
	}

	run.stats.Duration = time.Since(run.started)
	run.stats.Failed = failed
	run.print(fmt.Sprintf("Model calls: %d, Messages: %d, Input Tokens: %d, Output Tokens: %d",
		run.stats.ModelCalls,
		run.stats.TotalMessages,
		run.stats.LLMInputTokens,
		run.stats.LLMOutputTokens,
	))
	run.print(fmt.Sprintf("Tool calls: %d, Failed: %d", run.stats.ToolCalls, run.stats.ToolCallsFailed))
	run.print(fmt.Sprintf("*** Run Ended. Duration: %s ***", run.stats.Duration))

	l.lock.Lock()
	defer l.lock.Unlock()
	if _, ok := l.done[id]; !ok {
		l.order = append(l.order, id)
	}
	l.done[id] = run
	for len(l.done) > MaxFinishedRuns && len(l.order) > 0 {
		delete(l.done, l.order[0])
		l.order = l.order[1:]
	}
}

func (l *Scratchpad) OnQueryStart(ctx context.Context, query string) {
	id := session.IDFromContext(ctx)
	if id == "" {
		return
	}
	run := &run{
		stats:   RunStats{SessionID: id},
		started: time.Now(),
	}

	l.lock.Lock()
	l.runs[id] = run
	l.lock.Unlock()

	run.print("*** Run Started ***")
	run.print("Input:", query)
}

func (l *Scratchpad) OnQueryEnd(ctx context.Context, res *orchestrator.Result) {
	if run := l.getRun(ctx); run != nil && l.mode == ModeVerbose {
		run.print("Output:", res.Final)
	}
	l.endRun(ctx, false)
}

func (l *Scratchpad) OnQueryError(ctx context.Context, query string, err error) {
	if run := l.getRun(ctx); run != nil {
		run.print("*** Error ***", err.Error())
	}
	l.endRun(ctx, true)
}

func (l *Scratchpad) OnModelCallStart(ctx context.Context, round int, messages int, tools []llms.Tool) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ModelCalls, 1)
	atomic.AddUint32(&run.stats.TotalMessages, uint32(messages))
	run.print("*** Model Call ***", fmt.Sprintf("round %d, %d messages, %d tools", round, messages, len(tools)))
}

func (l *Scratchpad) OnModelCallEnd(ctx context.Context, round int, reply *gateway.Reply) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint64(&run.stats.LLMInputTokens, uint64(reply.InputTokens))
	atomic.AddUint64(&run.stats.LLMOutputTokens, uint64(reply.OutputTokens))
	run.print("*** Model Call End ***", fmt.Sprintf("%d tool calls, %d input tokens, %d output tokens",
		len(reply.ToolCalls), reply.InputTokens, reply.OutputTokens))
}

func (l *Scratchpad) OnToolStart(ctx context.Context, call llms.ToolCall) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolCalls, 1)
	run.print(call.FunctionCall.Name, "*** Tool Start ***", call.ID)
	run.print(call.FunctionCall.Name, "Input:", call.FunctionCall.Arguments)
}

func (l *Scratchpad) OnToolEnd(ctx context.Context, call llms.ToolCall, result toolresult.Result) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	if l.mode == ModeVerbose {
		run.print(call.FunctionCall.Name, "Output:", result.Text)
	}
	run.print(call.FunctionCall.Name, "*** Tool End ***", string(result.Kind))
}

func (l *Scratchpad) OnToolError(ctx context.Context, call llms.ToolCall, err error) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolCallsFailed, 1)
	run.print(call.FunctionCall.Name, "*** Tool Error ***", err.Error())
}

type run struct {
	w       bytes.Buffer
	started time.Time
	lock    sync.Mutex
	seq     int
	stats   RunStats
}

// print writes the entries to the run's output.
// The entries are written in the following format:
// [timestamp sessionID.seq] entry entry\n
func (r *run) print(entries ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.seq++
	now := TimeNowFn()
	ts := now.Format("2006-01-02 15:04:05")

	_, _ = r.w.WriteString(ts)
	_, _ = r.w.WriteString(" ")
	_, _ = r.w.WriteString(r.stats.SessionID)
	_, _ = r.w.WriteString(".")
	_, _ = r.w.WriteString(strconv.Itoa(r.seq))
	_, _ = r.w.WriteString(" ")

	for i, entry := range entries {
		if i > 0 {
			_, _ = r.w.WriteString(" ")
		}
		_, _ = r.w.WriteString(entry)
	}
	_, _ = r.w.WriteString("\n")
}
