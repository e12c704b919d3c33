// Package localtransport connects an MCP client to a tool host running in the
// same process, without pipes or sockets.
package localtransport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/transport"
)

// Request is a single serialized message handed to a Handler
type Request struct {
	Body    []byte            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Response is the reply of a Handler
type Response struct {
	Type    transport.BaseMessageType `json:"type"`
	Status  int                       `json:"status"`
	Body    []byte                    `json:"body"`
	Headers map[string]string         `json:"headers"`
}

// Handler handles MCP messages in-process
type Handler interface {
	HandleMCP(ctx context.Context, req *Request) (*Response, error)
}

var _ transport.Transport = (*ClientTransport)(nil)

// ClientTransport is the client side of an in-process connection
type ClientTransport struct {
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()
	mu             sync.RWMutex
	handler        Handler
	headers        map[string]string
	closed         bool
}

// NewClient returns a client transport that sends every message to h
func NewClient(h Handler) *ClientTransport {
	return &ClientTransport{
		handler: h,
		headers: make(map[string]string),
	}
}

// WithHeader adds a header to each request
func (t *ClientTransport) WithHeader(key, value string) *ClientTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.headers[key] = value
	return t
}

// Start does nothing in the stateless client transport
func (t *ClientTransport) Start(ctx context.Context) error {
	return nil
}

// Send hands the message to the handler and dispatches its reply, if any.
func (t *ClientTransport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	t.mu.RLock()
	closed := t.closed
	headers := t.headers
	t.mu.RUnlock()
	if closed {
		return errors.New("transport is closed")
	}

	jsonData, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	resp, err := t.handler.HandleMCP(ctx, &Request{
		Body:    jsonData,
		Headers: headers,
	})
	if err != nil {
		return err
	}

	if resp.Status != http.StatusOK && resp.Status != http.StatusAccepted {
		return errors.Errorf("server returned error: %d", resp.Status)
	}
	if len(resp.Body) == 0 {
		return nil
	}

	reply, err := transport.ParseMessage(resp.Body)
	if err != nil {
		return errors.WithMessage(err, "received invalid response")
	}

	t.mu.RLock()
	handler := t.messageHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(ctx, reply)
	}
	return nil
}

// Close fires the close handler once.
func (t *ClientTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	handler := t.closeHandler
	t.mu.Unlock()

	if handler != nil {
		handler()
	}
	return nil
}

// SetCloseHandler implements Transport.SetCloseHandler
func (t *ClientTransport) SetCloseHandler(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandler = handler
}

// SetErrorHandler implements Transport.SetErrorHandler
func (t *ClientTransport) SetErrorHandler(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandler = handler
}

// SetMessageHandler implements Transport.SetMessageHandler
func (t *ClientTransport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = handler
}
