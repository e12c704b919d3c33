// Package protocol implements JSON-RPC request/response correlation on top of
// a pluggable transport.
//
// Every outgoing request gets a unique id and a private buffered reply channel;
// the reply dispatcher routes each response to the channel registered for its id,
// so any number of goroutines may share one ordered stream without receiving
// each other's replies.
//
// Usage:
//
//	p := protocol.NewProtocol(nil)
//	if err := p.Connect(tr); err != nil {
//		return err
//	}
//	defer p.Close()
//
//	result, err := p.Request(ctx, "tools/list", nil, &protocol.RequestOptions{
//		Timeout: 5 * time.Second,
//	})
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/transport"
	"github.com/effective-security/xlog"
	"github.com/tidwall/sjson"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge/mcp/internal", "protocol")

// DefaultRequestTimeoutMsec is used when a request specifies no timeout
const DefaultRequestTimeoutMsec = 60000

var (
	// ErrClosed is returned for requests pending or issued after the connection closed
	ErrClosed = errors.New("connection closed")
	// ErrNotConnected is returned when no transport is attached
	ErrNotConnected = errors.New("not connected")
	// ErrTimeout is returned when a request is not answered in time
	ErrTimeout = errors.New("request timeout")
)

// RPCError is a JSON-RPC error returned by the remote side
type RPCError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Progress represents a progress update
type Progress struct {
	Progress int64 `json:"progress"`
	Total    int64 `json:"total"`
}

// ProgressCallback is a callback for progress notifications
type ProgressCallback func(progress Progress)

// ProtocolOptions contains additional initialization options
type ProtocolOptions struct {
	// DefaultTimeout applies to requests that do not specify one
	DefaultTimeout time.Duration
}

// RequestOptions contains options that can be given per request
type RequestOptions struct {
	// OnProgress is called when progress notifications are received from the remote end
	OnProgress ProgressCallback
	// Timeout bounds the wait for the reply. If not specified, the protocol default is used
	Timeout time.Duration
}

// RequestHandler answers a request received from the remote side
type RequestHandler func(ctx context.Context, request *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error)

// NotificationHandler handles a notification received from the remote side
type NotificationHandler func(notification *transport.BaseJSONRPCNotification) error

// Protocol implements request/response linking, notifications, and progress
type Protocol struct {
	transport transport.Transport
	options   ProtocolOptions

	requestMessageID transport.RequestId
	closed           bool
	mu               sync.RWMutex

	// Maps method name to request handler
	requestHandlers map[string]RequestHandler
	// Maps request ID to cancellation function
	requestCancellers map[transport.RequestId]context.CancelFunc
	// Maps method name to notification handler
	notificationHandlers map[string]NotificationHandler
	// Maps message ID to response channel
	responseHandlers map[transport.RequestId]chan *responseEnvelope
	// Maps message ID to progress handler
	progressHandlers map[transport.RequestId]ProgressCallback

	// OnClose is called when the connection is closed for any reason
	OnClose func()
	// OnError is called when an out-of-band error occurs
	OnError func(error)
}

type responseEnvelope struct {
	response json.RawMessage
	err      error
}

// NewProtocol creates a new Protocol instance
func NewProtocol(options *ProtocolOptions) *Protocol {
	p := &Protocol{
		requestHandlers:      make(map[string]RequestHandler),
		requestCancellers:    make(map[transport.RequestId]context.CancelFunc),
		notificationHandlers: make(map[string]NotificationHandler),
		responseHandlers:     make(map[transport.RequestId]chan *responseEnvelope),
		progressHandlers:     make(map[transport.RequestId]ProgressCallback),
		requestMessageID:     1,
	}
	if options != nil {
		p.options = *options
	}
	if p.options.DefaultTimeout == 0 {
		p.options.DefaultTimeout = time.Duration(DefaultRequestTimeoutMsec) * time.Millisecond
	}

	p.SetNotificationHandler("notifications/cancelled", p.handleCancelledNotification)
	p.SetNotificationHandler("notifications/progress", p.handleProgressNotification)
	p.SetRequestHandler("ping", func(context.Context, *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
		return struct{}{}, nil
	})

	return p
}

// Connect attaches to the given transport, starts it, and starts listening for messages
func (p *Protocol) Connect(tr transport.Transport) error {
	p.mu.Lock()
	if p.transport != nil {
		p.mu.Unlock()
		return errors.New("already connected")
	}
	p.transport = tr
	p.mu.Unlock()

	tr.SetCloseHandler(p.handleClose)
	tr.SetErrorHandler(p.handleError)
	tr.SetMessageHandler(func(ctx context.Context, message *transport.BaseJsonRpcMessage) {
		switch message.Type {
		case transport.BaseMessageTypeJSONRPCRequestType:
			p.handleRequest(ctx, message.JsonRpcRequest)
		case transport.BaseMessageTypeJSONRPCNotificationType:
			p.handleNotification(message.JsonRpcNotification)
		case transport.BaseMessageTypeJSONRPCResponseType:
			p.handleResponse(message.JsonRpcResponse, nil)
		case transport.BaseMessageTypeJSONRPCErrorType:
			p.handleResponse(nil, message.JsonRpcError)
		}
	})

	return tr.Start(context.Background())
}

// IsClosed returns true once the underlying transport has closed
func (p *Protocol) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *Protocol) handleClose() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	for _, cancel := range p.requestCancellers {
		cancel()
	}

	// fail every pending waiter; channels are buffered so this never blocks
	for id, ch := range p.responseHandlers {
		ch <- &responseEnvelope{err: ErrClosed}
		delete(p.responseHandlers, id)
	}
	p.progressHandlers = make(map[transport.RequestId]ProgressCallback)
	onClose := p.OnClose
	p.mu.Unlock()

	logger.KV(xlog.DEBUG, "status", "closed")
	if onClose != nil {
		onClose()
	}
}

func (p *Protocol) handleError(err error) {
	logger.KV(xlog.DEBUG, "status", "transport_error", "err", err.Error())
	if p.OnError != nil {
		p.OnError(err)
	}
}

func (p *Protocol) handleNotification(notification *transport.BaseJSONRPCNotification) {
	logger.KV(xlog.DEBUG, "method", notification.Method)

	p.mu.RLock()
	handler := p.notificationHandlers[notification.Method]
	p.mu.RUnlock()

	if handler == nil {
		return
	}

	go func() {
		if err := handler(notification); err != nil {
			p.handleError(errors.Wrap(err, "notification handler error"))
		}
	}()
}

func (p *Protocol) handleRequest(ctx context.Context, request *transport.BaseJSONRPCRequest) {
	logger.KV(xlog.DEBUG,
		"method", request.Method,
		"id", request.Id,
	)

	p.mu.RLock()
	handler := p.requestHandlers[request.Method]
	p.mu.RUnlock()

	if handler == nil {
		_ = p.sendErrorResponse(request.Id, transport.ErrorCodeMethodNotFound, "method not found: "+request.Method)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.requestCancellers[request.Id] = cancel
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.requestCancellers, request.Id)
			p.mu.Unlock()
			cancel()
		}()

		result, err := handler(ctx, request)
		if err != nil {
			logger.KV(xlog.DEBUG, "method", request.Method, "id", request.Id, "err", err.Error())
			code, msg := transport.ErrorCodeInternalError, err.Error()
			var rpcErr *RPCError
			if errors.As(err, &rpcErr) {
				code, msg = rpcErr.Code, rpcErr.Message
			}
			_ = p.sendErrorResponse(request.Id, code, msg)
			return
		}

		jsonResult, err := json.Marshal(result)
		if err != nil {
			_ = p.sendErrorResponse(request.Id, transport.ErrorCodeInternalError, "failed to marshal result")
			return
		}
		response := &transport.BaseJSONRPCResponse{
			Jsonrpc: transport.JSONRPCVersion,
			Id:      request.Id,
			Result:  jsonResult,
		}

		if err := p.transport.Send(ctx, transport.NewBaseMessageResponse(response)); err != nil {
			p.handleError(errors.Wrap(err, "failed to send response"))
		}
	}()
}

func (p *Protocol) handleProgressNotification(notification *transport.BaseJSONRPCNotification) error {
	var params struct {
		Progress      int64               `json:"progress"`
		Total         int64               `json:"total"`
		ProgressToken transport.RequestId `json:"progressToken"`
	}

	if err := json.Unmarshal(notification.Params, &params); err != nil {
		return errors.Wrap(err, "failed to unmarshal progress params")
	}

	p.mu.RLock()
	handler := p.progressHandlers[params.ProgressToken]
	p.mu.RUnlock()

	if handler != nil {
		handler(Progress{
			Progress: params.Progress,
			Total:    params.Total,
		})
	}

	return nil
}

func (p *Protocol) handleCancelledNotification(notification *transport.BaseJSONRPCNotification) error {
	var params struct {
		RequestId transport.RequestId `json:"requestId"`
		Reason    string              `json:"reason"`
	}

	if err := json.Unmarshal(notification.Params, &params); err != nil {
		return errors.Wrap(err, "failed to unmarshal cancelled params")
	}

	p.mu.RLock()
	cancel := p.requestCancellers[params.RequestId]
	p.mu.RUnlock()

	if cancel != nil {
		cancel()
	}

	return nil
}

func (p *Protocol) handleResponse(response *transport.BaseJSONRPCResponse, errResp *transport.BaseJSONRPCError) {
	var id transport.RequestId
	envelope := &responseEnvelope{}

	if errResp != nil {
		id = errResp.Id
		envelope.err = &RPCError{
			Code:    errResp.Error.Code,
			Message: errResp.Error.Message,
			Data:    errResp.Error.Data,
		}
	} else {
		id = response.Id
		envelope.response = response.Result
	}

	p.mu.Lock()
	ch := p.responseHandlers[id]
	delete(p.responseHandlers, id)
	p.mu.Unlock()

	if ch == nil {
		logger.KV(xlog.DEBUG, "status", "unexpected_response", "id", id)
		return
	}
	ch <- envelope
}

// Close closes the connection
func (p *Protocol) Close() error {
	p.mu.RLock()
	tr := p.transport
	p.mu.RUnlock()
	if tr != nil {
		return tr.Close()
	}
	return nil
}

// Request sends a request and waits for its response.
// On cancellation or timeout the remote side is notified with notifications/cancelled.
func (p *Protocol) Request(ctx context.Context, method string, params any, opts *RequestOptions) (json.RawMessage, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = p.options.DefaultTimeout
	}

	p.mu.Lock()
	if p.transport == nil {
		p.mu.Unlock()
		return nil, ErrNotConnected
	}
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	id := p.requestMessageID
	p.requestMessageID++
	ch := make(chan *responseEnvelope, 1)
	p.responseHandlers[id] = ch
	if opts.OnProgress != nil {
		p.progressHandlers[id] = opts.OnProgress
	}
	tr := p.transport
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.responseHandlers, id)
		delete(p.progressHandlers, id)
		p.mu.Unlock()
	}()

	marshalledParams, err := marshalParams(params, id, opts.OnProgress != nil)
	if err != nil {
		return nil, err
	}

	request := &transport.BaseJSONRPCRequest{
		Jsonrpc: transport.JSONRPCVersion,
		Method:  method,
		Params:  marshalledParams,
		Id:      id,
	}

	if err := tr.Send(ctx, transport.NewBaseMessageRequest(request)); err != nil {
		return nil, errors.Wrapf(err, "failed to send %s request", method)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case envelope := <-ch:
		if envelope.err != nil {
			return nil, envelope.err
		}
		return envelope.response, nil
	case <-ctx.Done():
		p.sendCancelNotification(id, ctx.Err().Error())
		return nil, ctx.Err()
	case <-timer.C:
		p.sendCancelNotification(id, "request timeout")
		return nil, errors.WithMessagef(ErrTimeout, "%s after %v", method, timeout)
	}
}

func marshalParams(params any, id transport.RequestId, withProgress bool) (json.RawMessage, error) {
	var js []byte
	if params != nil {
		var err error
		js, err = json.Marshal(params)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal params")
		}
	}
	if !withProgress {
		return js, nil
	}
	if len(js) == 0 || string(js) == "null" {
		js = []byte(`{}`)
	}
	js, err := sjson.SetBytes(js, "_meta.progressToken", id)
	if err != nil {
		return nil, errors.Wrap(err, "params must be an object when using progress")
	}
	return js, nil
}

func (p *Protocol) sendCancelNotification(requestID transport.RequestId, reason string) {
	if p.IsClosed() {
		return
	}
	err := p.Notification(context.Background(), "notifications/cancelled", map[string]any{
		"requestId": requestID,
		"reason":    reason,
	})
	if err != nil {
		p.handleError(errors.Wrap(err, "failed to send cancel notification"))
	}
}

func (p *Protocol) sendErrorResponse(requestID transport.RequestId, code int, message string) error {
	response := &transport.BaseJSONRPCError{
		Jsonrpc: transport.JSONRPCVersion,
		Id:      requestID,
		Error: transport.BaseJSONRPCErrorInner{
			Code:    code,
			Message: message,
		},
	}

	if err := p.transport.Send(context.Background(), transport.NewBaseMessageError(response)); err != nil {
		p.handleError(errors.Wrap(err, "failed to send error response"))
		return err
	}
	return nil
}

// Notification emits a one-way message that does not expect a response
func (p *Protocol) Notification(ctx context.Context, method string, params any) error {
	p.mu.RLock()
	tr := p.transport
	p.mu.RUnlock()
	if tr == nil {
		return ErrNotConnected
	}

	var marshalled json.RawMessage
	if params != nil {
		var err error
		marshalled, err = json.Marshal(params)
		if err != nil {
			return errors.Wrap(err, "failed to marshal notification params")
		}
	}

	notification := &transport.BaseJSONRPCNotification{
		Jsonrpc: transport.JSONRPCVersion,
		Method:  method,
		Params:  marshalled,
	}
	return tr.Send(ctx, transport.NewBaseMessageNotification(notification))
}

// SetRequestHandler registers a handler for requests with the given method
func (p *Protocol) SetRequestHandler(method string, handler RequestHandler) {
	p.mu.Lock()
	p.requestHandlers[method] = handler
	p.mu.Unlock()
}

// RemoveRequestHandler removes the request handler for the given method
func (p *Protocol) RemoveRequestHandler(method string) {
	p.mu.Lock()
	delete(p.requestHandlers, method)
	p.mu.Unlock()
}

// SetNotificationHandler registers a handler for notifications with the given method
func (p *Protocol) SetNotificationHandler(method string, handler NotificationHandler) {
	p.mu.Lock()
	p.notificationHandlers[method] = handler
	p.mu.Unlock()
}

// RemoveNotificationHandler removes the notification handler for the given method
func (p *Protocol) RemoveNotificationHandler(method string) {
	p.mu.Lock()
	delete(p.notificationHandlers, method)
	p.mu.Unlock()
}
