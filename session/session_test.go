package session_test

import (
	"context"
	"sync"
	"testing"

	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession(t *testing.T) {
	t.Parallel()

	s := session.NewWithQuery("", "What's the weather in Paris?")
	assert.NotEmpty(t, s.ID())
	require.Equal(t, 1, s.Len())

	call := llms.ToolCall{
		ID:           "call_1",
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: "getWeather", Arguments: `{"city":"Paris"}`},
	}
	s.AddToolCall(call)
	s.AddToolResult("call_1", "getWeather", `[{"type":"text","text":"Sunny, 22C"}]`)

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, llms.RoleHuman, msgs[0].Role)
	assert.Equal(t, llms.TextPart("What's the weather in Paris?"), msgs[0].Parts[0])
	assert.Equal(t, llms.RoleAI, msgs[1].Role)
	assert.Equal(t, []llms.ToolCall{call}, msgs[1].ToolCalls())
	assert.Equal(t, llms.RoleTool, msgs[2].Role)
	resp, ok := msgs[2].Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "call_1", resp.ToolCallID)

	// Messages returns a copy
	msgs[0] = llms.MessageFromTextParts(llms.RoleSystem, "changed")
	assert.Equal(t, llms.RoleHuman, s.Messages()[0].Role)
}

func TestSession_IDs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "q1", session.New("q1").ID())
	assert.NotEqual(t, session.NewID(), session.NewID())
}

func TestSession_Metadata(t *testing.T) {
	t.Parallel()

	s := session.New("")
	v, ok := s.GetMetadata("missing")
	assert.Nil(t, v)
	assert.False(t, ok)

	s.SetMetadata("rounds", 2)
	v, ok = s.GetMetadata("rounds")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestSession_Context(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Nil(t, session.FromContext(ctx))
	assert.Empty(t, session.IDFromContext(ctx))

	s := session.New("abc")
	ctx = session.WithSession(ctx, s)
	assert.Same(t, s, session.FromContext(ctx))
	assert.Equal(t, "abc", session.IDFromContext(ctx))
}

func TestSession_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	s := session.New("")
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddUser("hi")
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, s.Len())
}
