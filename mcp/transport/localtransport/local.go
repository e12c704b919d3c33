package localtransport

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge/mcp/transport", "localtransport")

var (
	_ transport.Transport = (*Transport)(nil)
	_ Handler             = (*Transport)(nil)
)

// Transport is the server side of an in-process connection.
// Each inbound request is dispatched to the message handler under a private id,
// and the reply is awaited on a per-call channel.
type Transport struct {
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()
	mu             sync.RWMutex
	responseMap    map[transport.RequestId]chan *transport.BaseJsonRpcMessage
	counter        atomic.Int64
	closeOnce      sync.Once
}

// New returns a server side in-process transport
func New() *Transport {
	return &Transport{
		responseMap: make(map[transport.RequestId]chan *transport.BaseJsonRpcMessage),
	}
}

// Start does nothing in the stateless local transport
func (s *Transport) Start(ctx context.Context) error {
	return nil
}

// Close fires the close handler once.
func (s *Transport) Close() error {
	s.closeOnce.Do(func() {
		s.mu.RLock()
		handler := s.closeHandler
		s.mu.RUnlock()
		if handler != nil {
			handler()
		}
	})
	return nil
}

// SetErrorHandler implements Transport.SetErrorHandler
func (s *Transport) SetErrorHandler(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandler = handler
}

// SetCloseHandler implements Transport.SetCloseHandler
func (s *Transport) SetCloseHandler(handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeHandler = handler
}

// SetMessageHandler implements Transport.SetMessageHandler
func (s *Transport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageHandler = handler
}

// Send delivers a reply to the waiting HandleMessage call.
// Messages without an id have no waiter and are dropped.
func (s *Transport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	key, ok := message.MessageID()
	if !ok {
		logger.KV(xlog.DEBUG, "status", "dropped_notification", "method", message.JsonRpcNotification.Method)
		return nil
	}

	s.mu.RLock()
	ch := s.responseMap[key]
	s.mu.RUnlock()

	if ch == nil {
		return errors.Errorf("no response channel found for key: %d", key)
	}
	ch <- message
	return nil
}

// HandleMessage processes an inbound body and returns the reply,
// or nil for notifications and responses.
func (s *Transport) HandleMessage(ctx context.Context, body []byte) (*transport.BaseJsonRpcMessage, error) {
	msg, err := transport.ParseMessage(body)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	handler := s.messageHandler
	s.mu.RUnlock()
	if handler == nil {
		return nil, errors.New("transport is not connected")
	}

	if msg.Type != transport.BaseMessageTypeJSONRPCRequestType {
		handler(ctx, msg)
		return nil, nil
	}

	key := transport.RequestId(s.counter.Add(1))
	ch := make(chan *transport.BaseJsonRpcMessage, 1)

	s.mu.Lock()
	s.responseMap[key] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.responseMap, key)
		s.mu.Unlock()
	}()

	prevID := msg.JsonRpcRequest.Id
	msg.JsonRpcRequest.Id = key
	handler(ctx, msg)

	select {
	case resp := <-ch:
		switch resp.Type {
		case transport.BaseMessageTypeJSONRPCResponseType:
			resp.JsonRpcResponse.Id = prevID
		case transport.BaseMessageTypeJSONRPCErrorType:
			resp.JsonRpcError.Id = prevID
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleMCP implements Handler, so a client transport can talk to this one directly.
func (s *Transport) HandleMCP(ctx context.Context, req *Request) (*Response, error) {
	resp, err := s.HandleMessage(ctx, req.Body)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &Response{Status: http.StatusAccepted}, nil
	}

	body, err := resp.MarshalJSON()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal response")
	}
	return &Response{
		Type:   resp.Type,
		Status: http.StatusOK,
		Body:   body,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}, nil
}
