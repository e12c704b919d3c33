package localtransport_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/transport"
	"github.com/effective-security/mcpbridge/mcp/transport/localtransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHandler implements the Handler interface for testing
type mockHandler struct {
	handleFunc func(ctx context.Context, req *localtransport.Request) (*localtransport.Response, error)
}

func (m *mockHandler) HandleMCP(ctx context.Context, req *localtransport.Request) (*localtransport.Response, error) {
	if m.handleFunc != nil {
		return m.handleFunc(ctx, req)
	}
	return &localtransport.Response{
		Status: http.StatusOK,
		Body:   []byte(`{"jsonrpc":"2.0","result":{"status":"ok"},"id":1}`),
	}, nil
}

func newRequest(id transport.RequestId) *transport.BaseJsonRpcMessage {
	return transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: transport.JSONRPCVersion,
		Method:  "test_method",
		Id:      id,
	})
}

func TestClientTransport_Send(t *testing.T) {
	handler := &mockHandler{}
	client := localtransport.NewClient(handler).WithHeader("Authorization", "Bearer token")

	var received []*transport.BaseJsonRpcMessage
	client.SetMessageHandler(func(ctx context.Context, msg *transport.BaseJsonRpcMessage) {
		received = append(received, msg)
	})
	require.NoError(t, client.Start(context.Background()))

	t.Run("response", func(t *testing.T) {
		handler.handleFunc = func(ctx context.Context, req *localtransport.Request) (*localtransport.Response, error) {
			assert.Equal(t, "Bearer token", req.Headers["Authorization"])
			assert.JSONEq(t, `{"jsonrpc":"2.0","method":"test_method","id":1}`, string(req.Body))
			return &localtransport.Response{
				Status: http.StatusOK,
				Body:   []byte(`{"jsonrpc":"2.0","result":{"status":"ok"},"id":1}`),
			}, nil
		}
		require.NoError(t, client.Send(context.Background(), newRequest(1)))
		require.Len(t, received, 1)
		assert.Equal(t, transport.BaseMessageTypeJSONRPCResponseType, received[0].Type)
		assert.JSONEq(t, `{"status":"ok"}`, string(received[0].JsonRpcResponse.Result))
	})

	t.Run("error", func(t *testing.T) {
		received = nil
		handler.handleFunc = func(ctx context.Context, req *localtransport.Request) (*localtransport.Response, error) {
			return &localtransport.Response{
				Status: http.StatusOK,
				Body:   []byte(`{"jsonrpc":"2.0","error":{"code":-32601,"message":"method not found"},"id":2}`),
			}, nil
		}
		require.NoError(t, client.Send(context.Background(), newRequest(2)))
		require.Len(t, received, 1)
		assert.Equal(t, transport.BaseMessageTypeJSONRPCErrorType, received[0].Type)
		assert.Equal(t, "method not found", received[0].JsonRpcError.Error.Message)
	})

	t.Run("accepted", func(t *testing.T) {
		received = nil
		handler.handleFunc = func(ctx context.Context, req *localtransport.Request) (*localtransport.Response, error) {
			return &localtransport.Response{Status: http.StatusAccepted}, nil
		}
		require.NoError(t, client.Send(context.Background(), newRequest(3)))
		assert.Empty(t, received)
	})

	t.Run("failures", func(t *testing.T) {
		handler.handleFunc = func(ctx context.Context, req *localtransport.Request) (*localtransport.Response, error) {
			return &localtransport.Response{Status: http.StatusInternalServerError}, nil
		}
		assert.EqualError(t, client.Send(context.Background(), newRequest(4)), "server returned error: 500")

		handler.handleFunc = func(ctx context.Context, req *localtransport.Request) (*localtransport.Response, error) {
			return nil, errors.New("boom")
		}
		assert.EqualError(t, client.Send(context.Background(), newRequest(5)), "boom")

		handler.handleFunc = func(ctx context.Context, req *localtransport.Request) (*localtransport.Response, error) {
			return &localtransport.Response{Status: http.StatusOK, Body: []byte(`not json`)}, nil
		}
		assert.ErrorContains(t, client.Send(context.Background(), newRequest(6)), "received invalid response")
	})
}

func TestClientTransport_Close(t *testing.T) {
	client := localtransport.NewClient(&mockHandler{})
	calls := 0
	client.SetCloseHandler(func() { calls++ })

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.Equal(t, 1, calls)

	err := client.Send(context.Background(), newRequest(1))
	assert.EqualError(t, err, "transport is closed")
}
