package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/store"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTranscript(id string, ended time.Time) *store.Transcript {
	return &store.Transcript{
		SessionID: id,
		Query:     gofakeit.Question(),
		Answer:    gofakeit.Phrase(),
		Model:     "qwen-plus",
		ToolCalls: 1,
		Messages: []llms.Message{
			llms.MessageFromTextParts(llms.RoleHuman, "Weather in Paris?"),
			llms.MessageFromToolCalls(llms.RoleAI, llms.ToolCall{
				ID:           "call_1",
				Type:         "function",
				FunctionCall: &llms.FunctionCall{Name: "getWeather", Arguments: `{"city":"Paris"}`},
			}),
			llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{ToolCallID: "call_1", Name: "getWeather", Content: "Sunny"}),
		},
		StartedAt: ended.Add(-time.Second),
		EndedAt:   ended,
	}
}

// testStore runs the behavior every store implementation shares
func testStore(t *testing.T, st store.Store) {
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	_, err := st.Get(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.EqualError(t, err, "missing: transcript not found")

	list, err := st.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.EqualError(t, st.Save(ctx, &store.Transcript{}), "session ID is required")
	assert.EqualError(t, st.Save(ctx, nil), "session ID is required")

	for i := range 3 {
		require.NoError(t, st.Save(ctx, newTranscript(fmt.Sprintf("s%d", i), now.Add(time.Duration(i)*time.Second))))
	}

	list, err = st.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2", "s1", "s0"}, list)

	list, err = st.List(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2", "s1"}, list)

	exp := newTranscript("s1", now.Add(10*time.Second))
	exp.Error = "model call failed: timeout"
	require.NoError(t, st.Save(ctx, exp))

	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, exp.Query, got.Query)
	assert.Equal(t, exp.Answer, got.Answer)
	assert.True(t, got.Failed())
	assert.Equal(t, time.Second, got.Duration())
	assert.True(t, exp.EndedAt.Equal(got.EndedAt))
	require.Len(t, got.Messages, 3)
	if diff := cmp.Diff(exp.Messages, got.Messages); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, llms.RoleHuman, got.Messages[0].Role)
	require.Len(t, got.Messages[1].ToolCalls(), 1)
	assert.Equal(t, "getWeather", got.Messages[1].ToolCalls()[0].FunctionCall.Name)
	assert.Equal(t, "Sunny", got.Messages[2].Parts[0].(llms.ToolCallResponse).Content)

	list, err = st.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s0"}, list)

	require.NoError(t, st.Delete(ctx, "s2"))
	require.NoError(t, st.Delete(ctx, "s2"))
	_, err = st.Get(ctx, "s2")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	list, err = st.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s0"}, list)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, store.NewMemoryStore(0))
}

func TestMemoryStore_Capacity(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(2)
	now := time.Now()
	for i := range 4 {
		require.NoError(t, st.Save(ctx, newTranscript(fmt.Sprintf("s%d", i), now)))
	}
	list, err := st.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"s3", "s2"}, list)
	_, err = st.Get(ctx, "s0")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestMemoryStore_Copies(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(0)
	tr := newTranscript("s", time.Now())
	require.NoError(t, st.Save(ctx, tr))

	tr.Answer = "changed"
	tr.Messages[0] = llms.MessageFromTextParts(llms.RoleHuman, "changed")

	got, err := st.Get(ctx, "s")
	require.NoError(t, err)
	assert.NotEqual(t, "changed", got.Answer)
	assert.Equal(t, "Weather in Paris?", got.Messages[0].GetContent())
}
