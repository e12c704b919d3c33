// Package transport defines the JSON-RPC 2.0 envelope exchanged with a tool host
// and the Transport interface that carries it.
package transport

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
)

// JSONRPCVersion is the only protocol version on the wire.
const JSONRPCVersion = "2.0"

// RequestId correlates a response with the request that produced it.
type RequestId int64

// JsonRpcBody is any value that can be marshalled as a result.
type JsonRpcBody any

// BaseMessageType identifies the kind of envelope.
type BaseMessageType string

const (
	BaseMessageTypeJSONRPCRequestType      BaseMessageType = "request"
	BaseMessageTypeJSONRPCNotificationType BaseMessageType = "notification"
	BaseMessageTypeJSONRPCResponseType     BaseMessageType = "response"
	BaseMessageTypeJSONRPCErrorType        BaseMessageType = "error"
)

// BaseJSONRPCRequest is a request that expects a response.
type BaseJSONRPCRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Id      RequestId       `json:"id"`
}

// BaseJSONRPCNotification is a one-way message.
type BaseJSONRPCNotification struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// BaseJSONRPCResponse is a successful reply.
type BaseJSONRPCResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      RequestId       `json:"id"`
	Result  json.RawMessage `json:"result"`
}

// BaseJSONRPCErrorInner is the error object of a failed reply.
type BaseJSONRPCErrorInner struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// BaseJSONRPCError is a failed reply.
type BaseJSONRPCError struct {
	Jsonrpc string                `json:"jsonrpc"`
	Id      RequestId             `json:"id"`
	Error   BaseJSONRPCErrorInner `json:"error"`
}

// Standard JSON-RPC error codes
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
)

// BaseJsonRpcMessage holds exactly one of the envelope kinds.
type BaseJsonRpcMessage struct {
	Type                BaseMessageType
	JsonRpcRequest      *BaseJSONRPCRequest
	JsonRpcNotification *BaseJSONRPCNotification
	JsonRpcResponse     *BaseJSONRPCResponse
	JsonRpcError        *BaseJSONRPCError
}

// NewBaseMessageRequest wraps a request
func NewBaseMessageRequest(request *BaseJSONRPCRequest) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:           BaseMessageTypeJSONRPCRequestType,
		JsonRpcRequest: request,
	}
}

// NewBaseMessageNotification wraps a notification
func NewBaseMessageNotification(notification *BaseJSONRPCNotification) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:                BaseMessageTypeJSONRPCNotificationType,
		JsonRpcNotification: notification,
	}
}

// NewBaseMessageResponse wraps a response
func NewBaseMessageResponse(response *BaseJSONRPCResponse) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:            BaseMessageTypeJSONRPCResponseType,
		JsonRpcResponse: response,
	}
}

// NewBaseMessageError wraps an error response
func NewBaseMessageError(response *BaseJSONRPCError) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:         BaseMessageTypeJSONRPCErrorType,
		JsonRpcError: response,
	}
}

// MessageID returns the correlation id of requests and replies, and false for notifications.
func (m *BaseJsonRpcMessage) MessageID() (RequestId, bool) {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return m.JsonRpcRequest.Id, true
	case BaseMessageTypeJSONRPCResponseType:
		return m.JsonRpcResponse.Id, true
	case BaseMessageTypeJSONRPCErrorType:
		return m.JsonRpcError.Id, true
	}
	return 0, false
}

// MarshalJSON encodes the wrapped envelope only.
func (m *BaseJsonRpcMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return json.Marshal(m.JsonRpcRequest)
	case BaseMessageTypeJSONRPCNotificationType:
		return json.Marshal(m.JsonRpcNotification)
	case BaseMessageTypeJSONRPCResponseType:
		return json.Marshal(m.JsonRpcResponse)
	case BaseMessageTypeJSONRPCErrorType:
		return json.Marshal(m.JsonRpcError)
	}
	return nil, errors.Errorf("unknown message type: %q", m.Type)
}

// ParseMessage decodes a single envelope, classifying it by its members.
func ParseMessage(data []byte) (*BaseJsonRpcMessage, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.Errorf("invalid JSON-RPC message: %q", truncate(data))
	}
	hasMethod := gjson.GetBytes(data, "method").Exists()
	hasID := gjson.GetBytes(data, "id").Exists()

	switch {
	case hasMethod && hasID:
		var req BaseJSONRPCRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, errors.Wrap(err, "failed to decode request")
		}
		return NewBaseMessageRequest(&req), nil
	case hasMethod:
		var n BaseJSONRPCNotification
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, errors.Wrap(err, "failed to decode notification")
		}
		return NewBaseMessageNotification(&n), nil
	case gjson.GetBytes(data, "error").Exists():
		var e BaseJSONRPCError
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, errors.Wrap(err, "failed to decode error response")
		}
		return NewBaseMessageError(&e), nil
	case hasID:
		var resp BaseJSONRPCResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, errors.Wrap(err, "failed to decode response")
		}
		return NewBaseMessageResponse(&resp), nil
	}
	return nil, errors.Errorf("unrecognized JSON-RPC message: %q", truncate(data))
}

func truncate(data []byte) string {
	if len(data) > 128 {
		return string(data[:128]) + "..."
	}
	return string(data)
}

// Transport carries JSON-RPC envelopes between two peers.
type Transport interface {
	// Start begins reading messages. It must not block.
	Start(ctx context.Context) error
	// Send writes one message.
	Send(ctx context.Context, message *BaseJsonRpcMessage) error
	// Close shuts the transport down and fires the close handler.
	Close() error
	// SetCloseHandler sets the callback for when the connection is closed for any reason.
	SetCloseHandler(handler func())
	// SetErrorHandler sets the callback for out-of-band errors; they are not necessarily fatal.
	SetErrorHandler(handler func(error))
	// SetMessageHandler sets the callback for each received message.
	SetMessageHandler(handler func(ctx context.Context, message *BaseJsonRpcMessage))
}
