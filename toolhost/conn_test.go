package toolhost_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp"
	"github.com/effective-security/mcpbridge/mcp/transport/httptransport"
	"github.com/effective-security/mcpbridge/mcp/transport/localtransport"
	"github.com/effective-security/mcpbridge/mcp/transport/stdio"
	"github.com/effective-security/mcpbridge/toolhost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hostModeEnv switches the test binary into a tool host when it is spawned by a test
const hostModeEnv = "TOOLHOST_TEST_MODE"

func TestMain(m *testing.M) {
	switch os.Getenv(hostModeEnv) {
	case "serve":
		srv := newServer()
		if err := srv.Serve(stdio.New(os.Stdin, os.Stdout)); err != nil {
			os.Exit(2)
		}
		<-srv.Done()
		os.Exit(0)
	case "silent":
		_, _ = io.Copy(io.Discard, os.Stdin)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func newServer() *mcp.Server {
	srv := mcp.NewServer("weather", "1.0.0")
	_ = srv.RegisterTool(mcp.Tool{
		Name:        "getWeather",
		Description: "Returns the weather for a city",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
	}, func(_ context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
		var in struct {
			City string `json:"city"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		if in.City == "Atlantis" {
			return nil, errors.New("city not found")
		}
		return mcp.NewTextResult("Sunny, 22C"), nil
	})
	_ = srv.RegisterTool(mcp.Tool{Name: "sleep"}, func(ctx context.Context, _ json.RawMessage) (*mcp.CallToolResult, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Second):
			return mcp.NewTextResult("woke up"), nil
		}
	})
	_ = srv.RegisterTool(mcp.Tool{Name: "crash"}, func(context.Context, json.RawMessage) (*mcp.CallToolResult, error) {
		_, _ = os.Stderr.WriteString("crashing now\n")
		os.Exit(3)
		return nil, nil
	})
	return srv
}

func selfLocator(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	if strings.ContainsAny(exe, " \t") {
		t.Skip("test binary path contains spaces")
	}
	return "stdio://" + exe + " -test.run=^$"
}

func connectLocal(t *testing.T) *toolhost.Conn {
	t.Helper()
	local := localtransport.New()
	srv := newServer()
	require.NoError(t, srv.Serve(local))

	conn := toolhost.New()
	require.NoError(t, conn.ConnectTransport(context.Background(), localtransport.NewClient(local)))
	t.Cleanup(func() {
		_ = conn.Close()
		_ = srv.Close()
	})
	return conn
}

func TestState(t *testing.T) {
	assert.Equal(t, "unconnected", toolhost.Unconnected.String())
	assert.Equal(t, "connecting", toolhost.Connecting.String())
	assert.Equal(t, "ready", toolhost.Ready.String())
	assert.Equal(t, "closed", toolhost.Closed.String())
	assert.Equal(t, "unknown", toolhost.State(42).String())
}

func TestConn_NotConnected(t *testing.T) {
	conn := toolhost.New()
	assert.Equal(t, toolhost.Unconnected, conn.State())
	assert.Empty(t, conn.ListTools())
	assert.Nil(t, conn.Catalog())
	assert.Nil(t, conn.Locator())

	_, err := conn.Invoke(context.Background(), "getWeather", nil)
	var ise *toolhost.IllegalStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, "invoke", ise.Op)
	assert.Equal(t, toolhost.Unconnected, ise.State)
	assert.EqualError(t, err, "cannot invoke: connection is unconnected")

	_, err = conn.Refresh(context.Background())
	assert.True(t, errors.As(err, &ise))
	assert.True(t, errors.As(conn.Ping(context.Background()), &ise))
}

func TestConn_Local(t *testing.T) {
	conn := connectLocal(t)
	ctx := context.Background()

	assert.Equal(t, toolhost.Ready, conn.State())
	require.NotNil(t, conn.Locator())
	assert.Equal(t, toolhost.KindTransport, conn.Locator().Kind)

	tools := conn.ListTools()
	require.Len(t, tools, 3)
	assert.Equal(t, "getWeather", tools[0].Name)
	assert.Equal(t, []string{"getWeather", "sleep", "crash"}, conn.Catalog().Names())

	res, err := conn.Invoke(ctx, "getWeather", map[string]any{"city": "Paris"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"type":"text","text":"Sunny, 22C"}`, string(res.Content[0]))

	res, err = conn.Invoke(ctx, "getWeather", map[string]any{"city": "Atlantis"})
	var tie *toolhost.ToolInvocationError
	require.True(t, errors.As(err, &tie))
	assert.Equal(t, "getWeather", tie.Tool)
	assert.Same(t, res, tie.Result)
	assert.EqualError(t, err, "tool getWeather failed: city not found")

	_, err = conn.Invoke(ctx, "unknown", nil)
	require.True(t, errors.As(err, &tie))
	var rpcErr *mcp.RPCError
	assert.True(t, errors.As(err, &rpcErr))

	cat, err := conn.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, cat.Len())
	assert.NoError(t, conn.Ping(ctx))

	// connect-once
	err = conn.ConnectTransport(ctx, localtransport.NewClient(localtransport.New()))
	var ise *toolhost.IllegalStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, toolhost.Ready, ise.State)
}

func TestConn_CloseTwice(t *testing.T) {
	conn := connectLocal(t)

	require.NoError(t, conn.Close())
	assert.Equal(t, toolhost.Closed, conn.State())
	require.NoError(t, conn.Close())
	assert.Equal(t, toolhost.Closed, conn.State())

	_, err := conn.Invoke(context.Background(), "getWeather", map[string]any{"city": "Paris"})
	var ise *toolhost.IllegalStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, toolhost.Closed, ise.State)

	err = conn.Connect(context.Background(), "server.js")
	require.True(t, errors.As(err, &ise))

	// the catalog survives close for inspection
	assert.Len(t, conn.ListTools(), 3)

	unused := toolhost.New()
	require.NoError(t, unused.Close())
	require.NoError(t, unused.Close())
	assert.Equal(t, toolhost.Closed, unused.State())
}

func TestConn_Unsupported(t *testing.T) {
	conn := toolhost.New()
	err := conn.Connect(context.Background(), "server.exe")

	var ce *toolhost.ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "server.exe", ce.Locator)
	assert.Empty(t, ce.Kind)
	assert.EqualError(t, err, `failed to connect to tool host "server.exe": unsupported tool host kind ".exe"`)
	assert.Equal(t, toolhost.Unconnected, conn.State())
}

func TestConn_SpawnFailure(t *testing.T) {
	conn := toolhost.New(toolhost.WithPythonBinary("/nonexistent/bin/python-mcpbridge"))
	err := conn.Connect(context.Background(), "weather.py")

	var ce *toolhost.ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, toolhost.KindPython, ce.Kind)
	assert.Contains(t, err.Error(), "failed to start /nonexistent/bin/python-mcpbridge")
	assert.Equal(t, toolhost.Unconnected, conn.State())
}

func TestConn_Process(t *testing.T) {
	conn := toolhost.New(
		toolhost.WithEnv(hostModeEnv+"=serve"),
		toolhost.WithHandshakeTimeout(10*time.Second),
		toolhost.WithCloseGrace(2*time.Second),
		toolhost.WithClientInfo("toolhost-test", "1.0"),
	)
	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx, selfLocator(t)))
	defer conn.Close()

	assert.Equal(t, toolhost.Ready, conn.State())
	assert.Equal(t, toolhost.KindStdio, conn.Locator().Kind)
	assert.Len(t, conn.ListTools(), 3)

	res, err := conn.Invoke(ctx, "getWeather", map[string]any{"city": "Paris"})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"text","text":"Sunny, 22C"}]`, mustJSON(t, res.Content))

	// cancellation reaches the host and does not break the connection
	cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = conn.Invoke(cctx, "sleep", nil)
	var tie *toolhost.ToolInvocationError
	require.True(t, errors.As(err, &tie))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	_, err = conn.Invoke(ctx, "getWeather", map[string]any{"city": "Rome"})
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.Equal(t, toolhost.Closed, conn.State())
	require.NoError(t, conn.Close())
}

func TestConn_ProcessExits(t *testing.T) {
	conn := toolhost.New(toolhost.WithEnv(hostModeEnv + "=serve"))
	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx, selfLocator(t)))
	defer conn.Close()

	_, err := conn.Invoke(ctx, "crash", nil)
	var tie *toolhost.ToolInvocationError
	require.True(t, errors.As(err, &tie))
	assert.Equal(t, "crash", tie.Tool)
	assert.True(t, errors.Is(err, mcp.ErrClosed))

	assert.Eventually(t, func() bool {
		return conn.State() == toolhost.Closed
	}, 5*time.Second, 10*time.Millisecond)

	_, err = conn.Invoke(ctx, "getWeather", map[string]any{"city": "Paris"})
	var ise *toolhost.IllegalStateError
	assert.True(t, errors.As(err, &ise))
	assert.NoError(t, conn.Close())
}

func TestConn_HandshakeTimeout(t *testing.T) {
	conn := toolhost.New(
		toolhost.WithEnv(hostModeEnv+"=silent"),
		toolhost.WithHandshakeTimeout(200*time.Millisecond),
		toolhost.WithCloseGrace(2*time.Second),
	)
	err := conn.Connect(context.Background(), selfLocator(t))

	var ce *toolhost.ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, toolhost.KindStdio, ce.Kind)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, toolhost.Unconnected, conn.State())
}

func TestConn_HTTP(t *testing.T) {
	local := localtransport.New()
	srv := newServer()
	require.NoError(t, srv.Serve(local))
	defer srv.Close()

	ts := httptest.NewServer(httptransport.NewHTTPHandler(local))
	defer ts.Close()

	conn := toolhost.New()
	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx, ts.URL+"/mcp"))
	defer conn.Close()

	assert.Equal(t, toolhost.KindHTTP, conn.Locator().Kind)
	res, err := conn.Invoke(ctx, "getWeather", map[string]any{"city": "Paris"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	js, err := json.Marshal(v)
	require.NoError(t, err)
	return string(js)
}
