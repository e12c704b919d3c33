package mcp

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/internal/protocol"
	"github.com/effective-security/mcpbridge/mcp/transport"
	"github.com/effective-security/xlog"
)

// ToolHandler executes a tool with its raw arguments.
// A returned error is reported to the caller as an isError result.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*CallToolResult, error)

// ServerOption configures a Server
type ServerOption func(*Server)

// WithInstructions sets the instructions returned from initialize
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithPageSize limits the number of tools returned per tools/list page
func WithPageSize(size int) ServerOption {
	return func(s *Server) {
		s.pageSize = size
	}
}

type registeredTool struct {
	tool    Tool
	handler ToolHandler
}

// Server hosts tools implemented in Go
type Server struct {
	info         Implementation
	instructions string
	pageSize     int

	lock  sync.RWMutex
	tools []*registeredTool
	index map[string]*registeredTool

	p    *protocol.Protocol
	done chan struct{}
}

// NewServer returns a server with no tools
func NewServer(name, version string, opts ...ServerOption) *Server {
	s := &Server{
		info:  Implementation{Name: name, Version: version},
		index: make(map[string]*registeredTool),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterTool adds a tool. Names must be unique.
func (s *Server) RegisterTool(tool Tool, handler ToolHandler) error {
	if tool.Name == "" {
		return errors.New("tool name is required")
	}
	if handler == nil {
		return errors.Errorf("handler is required for tool %s", tool.Name)
	}
	if len(tool.InputSchema) == 0 {
		tool.InputSchema = json.RawMessage(`{"type":"object"}`)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.index[tool.Name]; ok {
		return errors.Errorf("tool already registered: %s", tool.Name)
	}
	rt := &registeredTool{tool: tool, handler: handler}
	s.tools = append(s.tools, rt)
	s.index[tool.Name] = rt
	return nil
}

// Tools returns the registered tools in registration order
func (s *Server) Tools() []Tool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	list := make([]Tool, len(s.tools))
	for i, rt := range s.tools {
		list[i] = rt.tool
	}
	return list
}

// Serve starts answering requests on the transport and returns immediately.
// Done is closed when the transport closes.
func (s *Server) Serve(tr transport.Transport) error {
	s.lock.Lock()
	if s.p != nil {
		s.lock.Unlock()
		return errors.New("server is already serving")
	}
	p := protocol.NewProtocol(nil)
	s.p = p
	s.lock.Unlock()

	p.OnClose = func() {
		close(s.done)
	}
	p.SetRequestHandler(MethodInitialize, s.handleInitialize)
	p.SetRequestHandler(MethodToolsList, s.handleListTools)
	p.SetRequestHandler(MethodToolsCall, s.handleCallTool)
	p.SetNotificationHandler(MethodInitialized, func(*transport.BaseJSONRPCNotification) error {
		logger.KV(xlog.DEBUG, "status", "client_initialized", "server", s.info.Name)
		return nil
	})

	return p.Connect(tr)
}

// Done is closed when the served transport closes
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Close closes the served transport
func (s *Server) Close() error {
	s.lock.RLock()
	p := s.p
	s.lock.RUnlock()
	if p == nil {
		return nil
	}
	return p.Close()
}

func (s *Server) handleInitialize(ctx context.Context, req *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
	var params InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &protocol.RPCError{Code: transport.ErrorCodeInvalidParams, Message: "invalid initialize params"}
		}
	}
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "initialize",
		"client", params.ClientInfo.Name,
		"protocol", params.ProtocolVersion,
	)

	version := params.ProtocolVersion
	if version == "" {
		version = ProtocolVersion
	}
	return &InitializeResult{
		ProtocolVersion: version,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{},
		},
		ServerInfo:   s.info,
		Instructions: s.instructions,
	}, nil
}

func (s *Server) handleListTools(ctx context.Context, req *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
	var params ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &protocol.RPCError{Code: transport.ErrorCodeInvalidParams, Message: "invalid tools/list params"}
		}
	}

	tools := s.Tools()
	start := 0
	if params.Cursor != "" {
		n, err := strconv.Atoi(params.Cursor)
		if err != nil || n < 0 || n > len(tools) {
			return nil, &protocol.RPCError{Code: transport.ErrorCodeInvalidParams, Message: "invalid cursor: " + params.Cursor}
		}
		start = n
	}

	end := len(tools)
	if s.pageSize > 0 && start+s.pageSize < end {
		end = start + s.pageSize
	}

	res := &ListToolsResult{
		Tools: tools[start:end],
	}
	if end < len(tools) {
		res.NextCursor = strconv.Itoa(end)
	}
	return res, nil
}

func (s *Server) handleCallTool(ctx context.Context, req *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &protocol.RPCError{Code: transport.ErrorCodeInvalidParams, Message: "invalid tools/call params"}
	}

	s.lock.RLock()
	rt := s.index[params.Name]
	s.lock.RUnlock()
	if rt == nil {
		return nil, &protocol.RPCError{Code: transport.ErrorCodeInvalidParams, Message: "unknown tool: " + params.Name}
	}

	if len(params.Arguments) == 0 {
		params.Arguments = json.RawMessage(`{}`)
	}

	res, err := rt.handler(ctx, params.Arguments)
	if err != nil {
		logger.ContextKV(ctx, xlog.DEBUG, "tool", params.Name, "err", err.Error())
		return NewErrorResult(err.Error()), nil
	}
	if res == nil {
		res = &CallToolResult{}
	}
	if res.Content == nil {
		res.Content = []json.RawMessage{}
	}
	return res, nil
}
