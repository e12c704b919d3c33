package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp"
	"github.com/effective-security/mcpbridge/mcp/transport"
	"github.com/effective-security/mcpbridge/mcp/transport/localtransport"
	"github.com/effective-security/mcpbridge/mcp/transport/stdio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weatherServer(t *testing.T, opts ...mcp.ServerOption) *mcp.Server {
	t.Helper()
	srv := mcp.NewServer("weather", "1.0.0", opts...)
	require.NoError(t, srv.RegisterTool(mcp.Tool{
		Name:        "getWeather",
		Description: "Returns the weather for a city",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
	}, func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
		var in struct {
			City string `json:"city"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		if in.City == "Atlantis" {
			return nil, errors.New("city not found")
		}
		return mcp.NewTextResult("Sunny, 22C in " + in.City), nil
	}))
	return srv
}

func connectLocal(t *testing.T, srv *mcp.Server) *mcp.Client {
	t.Helper()
	local := localtransport.New()
	require.NoError(t, srv.Serve(local))

	client := mcp.NewClient(localtransport.NewClient(local), mcp.WithClientInfo("test", "0.1"))
	_, err := client.Initialize(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		_ = srv.Close()
	})
	return client
}

func TestServer_RegisterTool(t *testing.T) {
	srv := mcp.NewServer("s", "1")
	noop := func(context.Context, json.RawMessage) (*mcp.CallToolResult, error) { return nil, nil }

	assert.EqualError(t, srv.RegisterTool(mcp.Tool{}, noop), "tool name is required")
	assert.EqualError(t, srv.RegisterTool(mcp.Tool{Name: "a"}, nil), "handler is required for tool a")
	require.NoError(t, srv.RegisterTool(mcp.Tool{Name: "a"}, noop))
	assert.EqualError(t, srv.RegisterTool(mcp.Tool{Name: "a"}, noop), "tool already registered: a")

	tools := srv.Tools()
	require.Len(t, tools, 1)
	assert.JSONEq(t, `{"type":"object"}`, string(tools[0].InputSchema))
}

func TestClient_LocalRoundTrip(t *testing.T) {
	srv := weatherServer(t, mcp.WithInstructions("ask about weather"))
	client := connectLocal(t, srv)
	ctx := context.Background()

	info := client.ServerInfo()
	require.NotNil(t, info)
	assert.Equal(t, "weather", info.ServerInfo.Name)
	assert.Equal(t, mcp.ProtocolVersion, info.ProtocolVersion)
	assert.Equal(t, "ask about weather", info.Instructions)
	assert.NotNil(t, info.Capabilities.Tools)

	tools, err := client.ListAllTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "getWeather", tools[0].Name)

	res, err := client.CallTool(ctx, "getWeather", map[string]any{"city": "Paris"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.JSONEq(t, `{"type":"text","text":"Sunny, 22C in Paris"}`, string(res.Content[0]))

	res, err = client.CallTool(ctx, "getWeather", map[string]any{"city": "Atlantis"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.JSONEq(t, `{"type":"text","text":"city not found"}`, string(res.Content[0]))

	_, err = client.CallTool(ctx, "nope", nil)
	var rpcErr *mcp.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, transport.ErrorCodeInvalidParams, rpcErr.Code)
	assert.Equal(t, "unknown tool: nope", rpcErr.Message)

	assert.NoError(t, client.Ping(ctx))
}

func TestClient_Pagination(t *testing.T) {
	srv := mcp.NewServer("many", "1", mcp.WithPageSize(2))
	for i := range 5 {
		require.NoError(t, srv.RegisterTool(mcp.Tool{Name: fmt.Sprintf("tool%d", i)},
			func(context.Context, json.RawMessage) (*mcp.CallToolResult, error) {
				return mcp.NewTextResult("ok"), nil
			}))
	}
	client := connectLocal(t, srv)
	ctx := context.Background()

	page, err := client.ListTools(ctx, "")
	require.NoError(t, err)
	assert.Len(t, page.Tools, 2)
	assert.Equal(t, "2", page.NextCursor)

	tools, err := client.ListAllTools(ctx)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"tool0", "tool1", "tool2", "tool3", "tool4"}, names)

	_, err = client.ListTools(ctx, "bogus")
	assert.ErrorContains(t, err, "invalid cursor: bogus")
}

func TestClient_EmptyCatalog(t *testing.T) {
	client := connectLocal(t, mcp.NewServer("empty", "1"))
	tools, err := client.ListAllTools(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, tools)
	assert.Empty(t, tools)
}

func TestClient_Stdio(t *testing.T) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()

	srv := weatherServer(t)
	require.NoError(t, srv.Serve(stdio.New(r2, w1)))

	closed := make(chan struct{})
	client := mcp.NewClient(stdio.New(r1, w2),
		mcp.WithRequestTimeout(5*time.Second),
		mcp.WithOnClose(func() { close(closed) }),
	)
	ctx := context.Background()
	_, err := client.Initialize(ctx)
	require.NoError(t, err)

	res, err := client.CallTool(ctx, "getWeather", map[string]any{"city": "Oslo"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"text","text":"Sunny, 22C in Oslo"}`, string(res.Content[0]))

	require.NoError(t, client.Close())
	<-closed
	assert.True(t, client.IsClosed())

	select {
	case <-srv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe close")
	}

	_, err = client.CallTool(ctx, "getWeather", map[string]any{"city": "Oslo"})
	assert.ErrorIs(t, err, mcp.ErrClosed)
}

func TestServer_ServeTwice(t *testing.T) {
	srv := mcp.NewServer("s", "1")
	require.NoError(t, srv.Serve(localtransport.New()))
	assert.EqualError(t, srv.Serve(localtransport.New()), "server is already serving")
	assert.NoError(t, srv.Close())
}
