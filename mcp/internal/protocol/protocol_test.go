package protocol_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/internal/protocol"
	"github.com/effective-security/mcpbridge/mcp/transport"
	"github.com/effective-security/mcpbridge/mcp/transport/stdio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// pair returns two protocols connected back to back over in-memory pipes
func pair(t *testing.T) (client, server *protocol.Protocol, clientTr *stdio.Transport) {
	t.Helper()
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()

	clientTr = stdio.New(r1, w2)
	serverTr := stdio.New(r2, w1)

	server = protocol.NewProtocol(nil)
	client = protocol.NewProtocol(nil)

	server.SetRequestHandler("sleep", func(ctx context.Context, req *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
		ms := gjson.GetBytes(req.Params, "ms").Int()
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return json.RawMessage(req.Params), nil
	})
	server.SetRequestHandler("fail", func(ctx context.Context, req *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
		return nil, errors.New("tool exploded")
	})

	require.NoError(t, server.Connect(serverTr))
	require.NoError(t, client.Connect(clientTr))
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server, clientTr
}

func TestRequest_ConcurrentOutOfOrder(t *testing.T) {
	client, _, _ := pair(t)

	const count = 10
	var wg sync.WaitGroup
	results := make([]string, count)
	errs := make([]error, count)
	for i := range count {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// earlier requests take longer, so replies arrive in reverse order
			params := map[string]any{"ms": (count - i) * 10, "n": i}
			res, err := client.Request(context.Background(), "sleep", params, nil)
			errs[i] = err
			results[i] = gjson.GetBytes(res, "n").String()
		}()
	}
	wg.Wait()

	for i := range count {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprint(i), results[i])
	}
}

func TestRequest_Errors(t *testing.T) {
	client, _, _ := pair(t)
	ctx := context.Background()

	_, err := client.Request(ctx, "fail", nil, nil)
	var rpcErr *protocol.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, transport.ErrorCodeInternalError, rpcErr.Code)
	assert.Equal(t, "RPC error -32603: tool exploded", err.Error())

	_, err = client.Request(ctx, "unknown", nil, nil)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, transport.ErrorCodeMethodNotFound, rpcErr.Code)

	res, err := client.Request(ctx, "ping", nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(res))
}

func TestRequest_TimeoutCancelsRemote(t *testing.T) {
	client, server, _ := pair(t)

	cancelled := make(chan struct{})
	server.SetRequestHandler("hang", func(ctx context.Context, req *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})

	_, err := client.Request(context.Background(), "hang", nil, &protocol.RequestOptions{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrTimeout))

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("remote handler was not cancelled")
	}

	// the connection stays usable
	_, err = client.Request(context.Background(), "ping", nil, nil)
	assert.NoError(t, err)
}

func TestRequest_ContextCancelled(t *testing.T) {
	client, _, _ := pair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := client.Request(ctx, "sleep", map[string]any{"ms": 5000}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequest_CloseFailsPending(t *testing.T) {
	client, _, clientTr := pair(t)

	closed := make(chan struct{})
	client.OnClose = func() { close(closed) }

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Request(context.Background(), "sleep", map[string]any{"ms": 5000}, nil)
		errCh <- err
	}()

	// let the request reach the wire
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, clientTr.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, protocol.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request was not failed on close")
	}
	<-closed
	assert.True(t, client.IsClosed())

	_, err := client.Request(context.Background(), "ping", nil, nil)
	assert.ErrorIs(t, err, protocol.ErrClosed)
}

func TestRequest_Progress(t *testing.T) {
	client, server, _ := pair(t)

	seen := make(chan protocol.Progress, 1)
	server.SetRequestHandler("work", func(ctx context.Context, req *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
		token := gjson.GetBytes(req.Params, "_meta.progressToken")
		if !token.Exists() {
			return nil, errors.New("missing progress token")
		}
		err := server.Notification(ctx, "notifications/progress", map[string]any{
			"progressToken": token.Int(),
			"progress":      1,
			"total":         2,
		})
		if err != nil {
			return nil, err
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
		}
		return map[string]any{"done": true}, nil
	})

	var once sync.Once
	res, err := client.Request(context.Background(), "work", map[string]any{"job": 1}, &protocol.RequestOptions{
		OnProgress: func(p protocol.Progress) {
			once.Do(func() { seen <- p })
		},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"done":true}`, string(res))

	select {
	case p := <-seen:
		assert.Equal(t, protocol.Progress{Progress: 1, Total: 2}, p)
	case <-time.After(2 * time.Second):
		t.Fatal("progress was not reported")
	}
}

func TestRequest_NotConnected(t *testing.T) {
	p := protocol.NewProtocol(&protocol.ProtocolOptions{DefaultTimeout: time.Second})
	_, err := p.Request(context.Background(), "ping", nil, nil)
	assert.ErrorIs(t, err, protocol.ErrNotConnected)
	assert.ErrorIs(t, p.Notification(context.Background(), "x", nil), protocol.ErrNotConnected)
	assert.NoError(t, p.Close())
}
